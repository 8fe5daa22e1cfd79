// Package export writes HostResult sets as JSON, CSV or a terminal table.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/scanning"
)

// Format names accepted by Write.
const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatTable = "table"
)

// Formats lists the supported export formats.
var Formats = []string{FormatJSON, FormatCSV, FormatTable}

// Columns is the header of the flat export.
var Columns = []string{
	"address", "hostname", "mac", "status", "latency_ms",
	"open_ports", "services", "discovered_at",
}

// Write renders results in the named format.
func Write(w io.Writer, format string, results []scanning.HostResult) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		return JSON(w, results)
	case FormatCSV:
		return CSV(w, results)
	case FormatTable:
		return Table(w, results)
	default:
		return errors.NewScanError(errors.CodeValidation, "unsupported export format").
			WithContext("format", format)
	}
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// JSON writes results field for field as an indented array.
func JSON(w io.Writer, results []scanning.HostResult) error {
	if results == nil {
		results = []scanning.HostResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// CSV writes one row per host under the Columns header.
func CSV(w io.Writer, results []scanning.HostResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for i := range results {
		if err := cw.Write(Row(&results[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Table renders results for a terminal.
func Table(w io.Writer, results []scanning.HostResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Address", "Hostname", "MAC", "Status", "Latency ms", "Open ports", "Services", "Discovered")
	for i := range results {
		row := Row(&results[i])
		row[7] = results[i].DiscoveredAt.Local().Format("2006-01-02 15:04:05")
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// Row flattens one result into the Columns layout.
func Row(r *scanning.HostResult) []string {
	latency := ""
	if r.LatencyMS != nil {
		latency = strconv.FormatFloat(*r.LatencyMS, 'f', 2, 64)
	}
	return []string{
		r.Address.String(),
		r.Hostname,
		r.MAC,
		string(r.Status),
		latency,
		JoinPorts(r.OpenPorts),
		JoinServices(r.Services),
		r.DiscoveredAt.UTC().Format(time.RFC3339),
	}
}

// JoinPorts renders ports as "22,80,443".
func JoinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// JoinServices renders services as "22:ssh,80:http" in ascending port order.
func JoinServices(services map[int]string) string {
	keys := make([]int, 0, len(services))
	for p := range services {
		keys = append(keys, p)
	}
	sort.Ints(keys)

	parts := make([]string, len(keys))
	for i, p := range keys {
		parts[i] = strconv.Itoa(p) + ":" + services[p]
	}
	return strings.Join(parts, ",")
}
