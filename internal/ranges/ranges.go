// Package ranges turns caller supplied IPv4 range descriptors into a sorted,
// deduplicated list of concrete addresses.
//
// Accepted descriptor forms:
//
//	10.0.0.7             single address
//	10.0.0.0/24          CIDR block, network and broadcast excluded
//	10.0.0.1-10.0.0.50   explicit bounds
//	10.0.0.1-50          abbreviated bounds, last octet only
//
// Malformed descriptors are reported as warnings and skipped.
package ranges

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
)

// DefaultMaxAddresses bounds how many addresses a single descriptor may expand to.
const DefaultMaxAddresses = 1 << 16

// Warning describes a descriptor that was skipped.
type Warning struct {
	Descriptor string `json:"descriptor"`
	Reason     string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%q: %s", w.Descriptor, w.Reason)
}

// Resolution is the outcome of resolving a descriptor list.
type Resolution struct {
	Addresses []netip.Addr
	Warnings  []Warning
}

// Strings returns the resolved addresses in their textual form.
func (r Resolution) Strings() []string {
	out := make([]string, len(r.Addresses))
	for i, a := range r.Addresses {
		out[i] = a.String()
	}
	return out
}

// Resolver expands descriptors. The zero value uses DefaultMaxAddresses.
type Resolver struct {
	// MaxAddresses caps the expansion of a single descriptor. Larger
	// descriptors are skipped with a warning.
	MaxAddresses int
}

// Resolve expands descriptors using a default Resolver.
func Resolve(descriptors []string) Resolution {
	return (&Resolver{}).Resolve(descriptors)
}

// Resolve expands descriptors into a deduplicated, ascending address list.
// It has no side effects; identical input always yields identical output.
func (r *Resolver) Resolve(descriptors []string) Resolution {
	var (
		builder  netipx.IPSetBuilder
		warnings []Warning
	)

	for _, raw := range descriptors {
		rng, err := r.parse(raw)
		if err != nil {
			warnings = append(warnings, Warning{Descriptor: raw, Reason: err.Error()})
			continue
		}
		if !rng.IsValid() {
			warnings = append(warnings, Warning{Descriptor: raw, Reason: "no usable host addresses"})
			continue
		}
		builder.AddRange(rng)
	}

	set, err := builder.IPSet()
	if err != nil {
		// IPSetBuilder only errors on invalid input, which parse already rejects.
		warnings = append(warnings, Warning{Descriptor: strings.Join(descriptors, ","), Reason: err.Error()})
		return Resolution{Warnings: warnings}
	}

	var addrs []netip.Addr
	for _, rng := range set.Ranges() {
		for a := rng.From(); ; a = a.Next() {
			addrs = append(addrs, a)
			if a == rng.To() {
				break
			}
		}
	}

	return Resolution{Addresses: addrs, Warnings: warnings}
}

// Count returns how many distinct addresses descriptors resolve to without
// materialising them. Invalid descriptors contribute nothing.
func (r *Resolver) Count(descriptors []string) int {
	var builder netipx.IPSetBuilder
	for _, raw := range descriptors {
		rng, err := r.parse(raw)
		if err != nil || !rng.IsValid() {
			continue
		}
		builder.AddRange(rng)
	}
	set, err := builder.IPSet()
	if err != nil {
		return 0
	}

	total := 0
	for _, rng := range set.Ranges() {
		total += rangeSize(rng)
	}
	return total
}

// parse converts one descriptor into an inclusive range. An empty (invalid)
// IPRange with a nil error means the descriptor was well formed but holds no
// usable hosts.
func (r *Resolver) parse(raw string) (netipx.IPRange, error) {
	d := strings.TrimSpace(raw)
	if d == "" {
		return netipx.IPRange{}, fmt.Errorf("empty descriptor")
	}

	var (
		rng netipx.IPRange
		err error
	)
	switch {
	case strings.Contains(d, "/"):
		rng, err = parseCIDR(d)
	case strings.Contains(d, "-"):
		rng, err = parseBounds(d)
	default:
		var addr netip.Addr
		addr, err = parseIPv4(d)
		rng = netipx.IPRangeFrom(addr, addr)
	}
	if err != nil {
		return netipx.IPRange{}, err
	}

	limit := r.MaxAddresses
	if limit <= 0 {
		limit = DefaultMaxAddresses
	}
	if rng.IsValid() && rangeSize(rng) > limit {
		return netipx.IPRange{}, fmt.Errorf("expands to %d addresses, limit is %d", rangeSize(rng), limit)
	}
	return rng, nil
}

func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %q", s)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("only IPv4 is supported: %s", s)
	}
	return addr, nil
}

func parseCIDR(d string) (netipx.IPRange, error) {
	prefix, err := netip.ParsePrefix(d)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("invalid CIDR %q", d)
	}
	if !prefix.Addr().Is4() {
		return netipx.IPRange{}, fmt.Errorf("only IPv4 is supported: %s", d)
	}
	prefix = prefix.Masked()

	if prefix.Bits() == 32 {
		return netipx.IPRangeFrom(prefix.Addr(), prefix.Addr()), nil
	}

	// Usable hosts only: skip the network and broadcast addresses.
	first := prefix.Addr().Next()
	last := netipx.PrefixLastIP(prefix).Prev()
	if last.Less(first) {
		return netipx.IPRange{}, nil
	}
	return netipx.IPRangeFrom(first, last), nil
}

func parseBounds(d string) (netipx.IPRange, error) {
	left, right, _ := strings.Cut(d, "-")
	start, err := parseIPv4(left)
	if err != nil {
		return netipx.IPRange{}, err
	}

	right = strings.TrimSpace(right)
	var end netip.Addr
	if strings.Contains(right, ".") {
		end, err = parseIPv4(right)
		if err != nil {
			return netipx.IPRange{}, err
		}
	} else {
		octet, convErr := strconv.Atoi(right)
		if convErr != nil || octet < 0 || octet > 255 {
			return netipx.IPRange{}, fmt.Errorf("invalid last octet %q", right)
		}
		b := start.As4()
		b[3] = byte(octet)
		end = netip.AddrFrom4(b)
	}

	if end.Less(start) {
		return netipx.IPRange{}, fmt.Errorf("range start %s is after end %s", start, end)
	}
	return netipx.IPRangeFrom(start, end), nil
}

func rangeSize(rng netipx.IPRange) int {
	from := rng.From().As4()
	to := rng.To().As4()
	return int(binary.BigEndian.Uint32(to[:])-binary.BigEndian.Uint32(from[:])) + 1
}
