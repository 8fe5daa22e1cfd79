package ports

import (
	"fmt"
	"strings"
)

// CheckType is an enumerated scan profile. It selects a default port set and,
// for ICMP ping, switches the scan to liveness only.
type CheckType int

const (
	CheckSSH CheckType = iota
	CheckLDAP
	CheckSMTP
	CheckFTP
	CheckHTTP
	CheckPOP
	CheckNNTP
	CheckIMAP
	CheckTCP
	CheckZabbixAgent
	CheckSNMPv1
	CheckSNMPv2
	CheckICMPPing
	CheckSNMPv3
	CheckHTTPS
	CheckTelnet
)

var checkTypeNames = [...]string{
	"SSH", "LDAP", "SMTP", "FTP", "HTTP", "POP", "NNTP", "IMAP", "TCP",
	"Zabbix agent", "SNMPv1 agent", "SNMPv2 agent", "ICMP ping",
	"SNMPv3 agent", "HTTPS", "Telnet",
}

var checkTypePorts = map[CheckType][]int{
	CheckSSH:         {22},
	CheckLDAP:        {389, 636},
	CheckSMTP:        {25},
	CheckFTP:         {21},
	CheckHTTP:        {80},
	CheckPOP:         {110},
	CheckNNTP:        {119},
	CheckIMAP:        {143},
	CheckTCP:         {80},
	CheckZabbixAgent: {10050},
	CheckSNMPv1:      {161},
	CheckSNMPv2:      {161},
	CheckICMPPing:    {},
	CheckSNMPv3:      {161},
	CheckHTTPS:       {443},
	CheckTelnet:      {23},
}

// FallbackPorts is used for check types outside the known enum.
var FallbackPorts = []int{80, 443, 22, 21, 25}

// ComprehensivePorts is scanned when a job names neither ports nor a check type.
var ComprehensivePorts = []int{21, 22, 23, 25, 53, 80, 110, 135, 139, 143, 443, 445, 993, 995, 3389, 5432, 3306}

// Valid reports whether c is inside the known enum.
func (c CheckType) Valid() bool {
	return c >= CheckSSH && c <= CheckTelnet
}

func (c CheckType) String() string {
	if !c.Valid() {
		return fmt.Sprintf("CheckType(%d)", int(c))
	}
	return checkTypeNames[c]
}

// DefaultPorts returns a fresh copy of the ports probed for this check type.
func (c CheckType) DefaultPorts() []int {
	ports, ok := checkTypePorts[c]
	if !ok {
		ports = FallbackPorts
	}
	out := make([]int, len(ports))
	copy(out, ports)
	return out
}

// LivenessOnly reports whether the check type skips port scanning entirely.
func (c CheckType) LivenessOnly() bool {
	return c == CheckICMPPing
}

// IsSNMP reports whether the check type targets an SNMP agent.
func (c CheckType) IsSNMP() bool {
	return c == CheckSNMPv1 || c == CheckSNMPv2 || c == CheckSNMPv3
}

// ParseCheckType accepts either the numeric value or the display name.
func ParseCheckType(s string) (CheckType, error) {
	s = strings.TrimSpace(s)
	for i, name := range checkTypeNames {
		if strings.EqualFold(name, s) {
			return CheckType(i), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && fmt.Sprint(n) == s {
		return CheckType(n), nil
	}
	return 0, fmt.Errorf("unknown check type %q", s)
}
