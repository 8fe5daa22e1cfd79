package services

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	// SNMPPort is the standard agent port.
	SNMPPort = 161
	// OIDSysDescr is SNMPv2-MIB::sysDescr.0.
	OIDSysDescr = "1.3.6.1.2.1.1.1.0"
)

// SNMPProbe checks for an SNMP agent by reading sysDescr. A TCP connect scan
// cannot see SNMP, so SNMP check types rely on this instead.
type SNMPProbe struct {
	Community string
	Version   gosnmp.SnmpVersion
	Port      uint16
}

// NewSNMPProbe creates a v2c probe with the given community ("public" if empty).
func NewSNMPProbe(community string) *SNMPProbe {
	if community == "" {
		community = "public"
	}
	return &SNMPProbe{Community: community, Version: gosnmp.Version2c, Port: SNMPPort}
}

// Probe returns the agent's sysDescr and whether it answered within timeout.
func (p *SNMPProbe) Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) (string, bool) {
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &gosnmp.GoSNMP{
		Target:    addr.String(),
		Port:      p.Port,
		Community: p.Community,
		Version:   p.Version,
		Timeout:   timeout,
		Retries:   0,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return "", false
	}
	defer client.Conn.Close()

	packet, err := client.Get([]string{OIDSysDescr})
	if err != nil || packet == nil || len(packet.Variables) == 0 {
		return "", false
	}
	return describe(packet.Variables[0]), true
}

func describe(v gosnmp.SnmpPDU) string {
	switch val := v.Value.(type) {
	case []byte:
		return strings.TrimSpace(string(val))
	case string:
		return strings.TrimSpace(val)
	default:
		return ""
	}
}
