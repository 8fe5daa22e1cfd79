// Package services names what listens on an open port. Well-known ports are
// answered from a static table; anything else gets one short banner read and
// a TLS handshake attempt before falling back to "unknown/<port>".
package services

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/zmap/zcrypto/tls"
)

const (
	// DefaultTimeout bounds the whole classification of one port.
	DefaultTimeout = 2 * time.Second
	bannerSize     = 1024
)

var httpProbe = []byte("GET / HTTP/1.0\r\n\r\n")

// Classifier identifies the service on an open TCP port.
type Classifier struct {
	timeout  time.Duration
	sniffTLS bool
	table    map[int]string
	dialer   net.Dialer
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout sets the per-port classification budget.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTLSSniff toggles the TLS handshake fallback for silent services.
func WithTLSSniff(enabled bool) Option {
	return func(c *Classifier) { c.sniffTLS = enabled }
}

// WithExtraPorts adds or overrides entries in the well-known table.
func WithExtraPorts(extra map[int]string) Option {
	return func(c *Classifier) {
		for port, name := range extra {
			c.table[port] = name
		}
	}
}

// NewClassifier creates a Classifier with the built-in port table.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		timeout:  DefaultTimeout,
		sniffTLS: true,
		table:    make(map[int]string, len(wellKnown)),
	}
	for port, name := range wellKnown {
		c.table[port] = name
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns a best-guess service name for addr:port. It never blocks
// longer than the configured timeout.
func (c *Classifier) Classify(ctx context.Context, addr netip.Addr, port int) string {
	if name, ok := c.table[port]; ok {
		return name
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	target := netip.AddrPortFrom(addr, uint16(port)).String()

	banner := c.readBanner(ctx, target, httpLikePorts[port], c.bannerBudget())
	if name := MatchBanner(banner); name != "" {
		return name
	}
	if len(banner) == 0 && c.sniffTLS && c.handshakeTLS(ctx, target) {
		return "ssl/" + strconv.Itoa(port)
	}
	return Unknown(port)
}

// Unknown is the label for a port nothing could identify.
func Unknown(port int) string {
	return fmt.Sprintf("unknown/%d", port)
}

// bannerBudget is the share of the timeout the banner read may use. A TLS
// server is silent until it sees a ClientHello, so with sniffing enabled
// the read leaves half the budget for the handshake.
func (c *Classifier) bannerBudget() time.Duration {
	if c.sniffTLS {
		return c.timeout / 2
	}
	return c.timeout
}

func (c *Classifier) readBanner(ctx context.Context, target string, sendHTTP bool, budget time.Duration) []byte {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	conn, err := c.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if sendHTTP {
		if _, err := conn.Write(httpProbe); err != nil {
			return nil
		}
	}

	buf := make([]byte, bannerSize)
	n, _ := conn.Read(buf)
	return buf[:n]
}

func (c *Classifier) handshakeTLS(ctx context.Context, target string) bool {
	if ctx.Err() != nil {
		return false
	}
	raw, err := c.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return false
	}
	defer raw.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	conn := tls.Client(raw, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // identification only
	return conn.Handshake() == nil
}

type signature struct {
	name  string
	match func(b []byte) bool
}

var signatures = []signature{
	{"ssh", prefix("SSH-")},
	{"http", prefix("HTTP/")},
	{"ftp", func(b []byte) bool { return bytes.HasPrefix(b, []byte("220")) && containsFold(b, "ftp") }},
	{"smtp", func(b []byte) bool {
		return bytes.HasPrefix(b, []byte("220")) && (containsFold(b, "smtp") || containsFold(b, "mail"))
	}},
	{"ftp", prefix("220")},
	{"pop3", prefix("+OK")},
	{"imap", prefix("* OK")},
	{"vnc", prefix("RFB ")},
	{"redis", func(b []byte) bool {
		return bytes.HasPrefix(b, []byte("-ERR")) || bytes.HasPrefix(b, []byte("+PONG")) ||
			bytes.HasPrefix(b, []byte("-NOAUTH"))
	}},
	// MySQL greets with a length-prefixed packet carrying protocol version 10.
	{"mysql", func(b []byte) bool { return len(b) > 5 && b[3] == 0 && b[4] == 0x0a }},
	{"ssh", contains("SSH")},
	{"ftp", contains("FTP")},
	{"http", contains("HTTP")},
}

// MatchBanner maps the first bytes a service sent to a protocol name, or ""
// if no signature matches.
func MatchBanner(banner []byte) string {
	if len(banner) == 0 {
		return ""
	}
	for _, sig := range signatures {
		if sig.match(banner) {
			return sig.name
		}
	}
	return ""
}

func prefix(p string) func([]byte) bool {
	return func(b []byte) bool { return bytes.HasPrefix(b, []byte(p)) }
}

func contains(s string) func([]byte) bool {
	return func(b []byte) bool { return bytes.Contains(b, []byte(s)) }
}

func containsFold(b []byte, s string) bool {
	return bytes.Contains(bytes.ToLower(b), []byte(s))
}
