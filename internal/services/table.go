package services

// wellKnown maps TCP/UDP ports to service names. Names follow the nmap
// services file so results line up with nmap output elsewhere.
var wellKnown = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "domain",
	80:    "http",
	110:   "pop3",
	111:   "rpcbind",
	119:   "nntp",
	135:   "msrpc",
	139:   "netbios-ssn",
	143:   "imap",
	161:   "snmp",
	389:   "ldap",
	443:   "https",
	445:   "microsoft-ds",
	465:   "smtps",
	587:   "submission",
	636:   "ldaps",
	993:   "imaps",
	995:   "pop3s",
	1433:  "ms-sql-s",
	1521:  "oracle",
	2049:  "nfs",
	3306:  "mysql",
	3389:  "ms-wbt-server",
	5432:  "postgresql",
	5900:  "vnc",
	5985:  "wsman",
	6379:  "redis",
	8080:  "http-proxy",
	8443:  "https-alt",
	9200:  "elasticsearch",
	10050: "zabbix-agent",
	10051: "zabbix-trapper",
	11211: "memcache",
	27017: "mongodb",
}

// Lookup returns the well-known service name for port.
func Lookup(port int) (string, bool) {
	name, ok := wellKnown[port]
	return name, ok
}

// httpLikePorts receive a minimal HTTP request before the banner read since
// HTTP servers never speak first.
var httpLikePorts = map[int]bool{
	80:   true,
	8000: true,
	8008: true,
	8080: true,
	8888: true,
}
