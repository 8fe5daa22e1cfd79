package scanning

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultLookupTimeout = 2 * time.Second
	resolvConf           = "/etc/resolv.conf"
)

// NameResolver maps an address to a hostname. An empty string means no
// name is known; failures are never reported.
type NameResolver interface {
	LookupAddr(ctx context.Context, addr netip.Addr) string
}

// DNSResolver sends PTR queries straight to a nameserver and falls back to
// the system resolver when that yields nothing.
type DNSResolver struct {
	server   string
	client   *dns.Client
	system   *net.Resolver
	timeout  time.Duration
	fallback bool
}

// NewDNSResolver creates a resolver for server ("host:port"). An empty
// server means the first nameserver from /etc/resolv.conf.
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	if server == "" {
		if conf, err := dns.ClientConfigFromFile(resolvConf); err == nil && len(conf.Servers) > 0 {
			server = net.JoinHostPort(conf.Servers[0], conf.Port)
		}
	}
	return &DNSResolver{
		server:   server,
		client:   &dns.Client{Net: "udp", Timeout: timeout},
		system:   net.DefaultResolver,
		timeout:  timeout,
		fallback: true,
	}
}

// LookupAddr returns the PTR name for addr without the trailing dot.
func (r *DNSResolver) LookupAddr(ctx context.Context, addr netip.Addr) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if name := r.queryPTR(ctx, addr); name != "" {
		return cleanHostname(name, addr)
	}
	if !r.fallback || ctx.Err() != nil {
		return ""
	}
	names, err := r.system.LookupAddr(ctx, addr.String())
	if err != nil || len(names) == 0 {
		return ""
	}
	return cleanHostname(names[0], addr)
}

func (r *DNSResolver) queryPTR(ctx context.Context, addr netip.Addr) string {
	if r.server == "" {
		return ""
	}
	arpa, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	reply, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil || reply == nil || reply.Rcode != dns.RcodeSuccess {
		return ""
	}
	for _, rr := range reply.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return ptr.Ptr
		}
	}
	return ""
}

func cleanHostname(name string, addr netip.Addr) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == addr.String() {
		return ""
	}
	return name
}

// NoopResolver never resolves names.
type NoopResolver struct{}

// LookupAddr returns "".
func (NoopResolver) LookupAddr(context.Context, netip.Addr) string { return "" }
