// Package discovery imports hosts reported by an external monitoring
// system into the ipsweep host inventory.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/ipsweep/internal/errors"
)

// ExternalHost is one address reported by an external source.
type ExternalHost struct {
	Address  netip.Addr `json:"address"`
	Hostname string     `json:"hostname,omitempty"`
}

// Source produces the hosts an external discovery rule has found.
type Source interface {
	Name() string
	Discovered(ctx context.Context, ruleID string) ([]ExternalHost, error)
}

const (
	zabbixSourceName     = "zabbix"
	defaultZabbixTimeout = 15 * time.Second
	maxResponseBytes     = 16 << 20

	// dhostStatusUp is the Zabbix discovered-host status for "up".
	dhostStatusUp = "0"
)

// ZabbixConfig locates and authenticates against a Zabbix frontend.
type ZabbixConfig struct {
	URL      string        `yaml:"url" json:"url"`
	Username string        `yaml:"username" json:"username"`
	Password string        `yaml:"password" json:"-"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// Endpoint returns the JSON-RPC endpoint for the configured frontend URL.
func (c ZabbixConfig) Endpoint() string {
	u := strings.TrimRight(c.URL, "/")
	if strings.HasSuffix(u, ".php") {
		return u
	}
	return u + "/api_jsonrpc.php"
}

// ZabbixSource reads network discovery results over the Zabbix JSON-RPC API.
type ZabbixSource struct {
	cfg    ZabbixConfig
	client *http.Client
	nextID atomic.Int64

	mu    sync.Mutex
	token string
}

// ZabbixOption configures a ZabbixSource.
type ZabbixOption func(*ZabbixSource)

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) ZabbixOption {
	return func(z *ZabbixSource) { z.client = c }
}

// NewZabbixSource creates a source for cfg. It does not contact the server.
func NewZabbixSource(cfg ZabbixConfig, opts ...ZabbixOption) *ZabbixSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultZabbixTimeout
	}
	z := &ZabbixSource{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// Name implements Source.
func (z *ZabbixSource) Name() string { return zabbixSourceName }

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("zabbix api error %d: %s %s", e.Code, e.Message, e.Data)
}

// sessionExpired reports whether the server rejected the auth token.
func (e *rpcError) sessionExpired() bool {
	text := strings.ToLower(e.Message + " " + e.Data)
	return strings.Contains(text, "session terminated") || strings.Contains(text, "not authorized") ||
		strings.Contains(text, "re-login")
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (z *ZabbixSource) call(ctx context.Context, method string, params interface{}, token string, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: z.nextID.Add(1)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.cfg.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json-rpc")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := z.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected HTTP status %d", method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// login returns a cached session token, authenticating when there is none.
func (z *ZabbixSource) login(ctx context.Context, fresh bool) (string, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.token != "" && !fresh {
		return z.token, nil
	}

	var token string
	params := map[string]string{"username": z.cfg.Username, "password": z.cfg.Password}
	if err := z.call(ctx, "user.login", params, "", &token); err != nil {
		z.token = ""
		return "", errors.WrapDiscoveryError(errors.CodeDiscoveryAuth, "Zabbix login failed", zabbixSourceName, err)
	}
	z.token = token
	return token, nil
}

type zabbixDService struct {
	IP  string `json:"ip"`
	DNS string `json:"dns"`
}

type zabbixDHost struct {
	DHostID   string           `json:"dhostid"`
	DRuleID   string           `json:"druleid"`
	Status    string           `json:"status"`
	DServices []zabbixDService `json:"dservices"`
}

// Discovered implements Source. Only hosts Zabbix reports as up are
// returned, one entry per distinct address, ordered by address.
func (z *ZabbixSource) Discovered(ctx context.Context, ruleID string) ([]ExternalHost, error) {
	params := map[string]interface{}{
		"output":          "extend",
		"druleids":        []string{ruleID},
		"selectDServices": "extend",
	}

	var hosts []zabbixDHost
	err := z.authorized(ctx, func(token string) error {
		return z.call(ctx, "dhost.get", params, token, &hosts)
	})
	if err != nil {
		if errors.IsCode(err, errors.CodeDiscoveryAuth) {
			return nil, err
		}
		de := errors.WrapDiscoveryError(errors.CodeDiscoveryFailed, "Zabbix dhost.get failed", zabbixSourceName, err)
		de.RuleID = ruleID
		return nil, de
	}
	return collectHosts(hosts, ruleID), nil
}

// authorized runs fn with a session token, logging in again once if the
// server reports the session as expired.
func (z *ZabbixSource) authorized(ctx context.Context, fn func(token string) error) error {
	token, err := z.login(ctx, false)
	if err != nil {
		return err
	}
	err = fn(token)
	var rpcErr *rpcError
	if !stderrors.As(err, &rpcErr) || !rpcErr.sessionExpired() {
		return err
	}
	if token, err = z.login(ctx, true); err != nil {
		return err
	}
	return fn(token)
}

func collectHosts(hosts []zabbixDHost, ruleID string) []ExternalHost {
	byAddr := make(map[netip.Addr]ExternalHost)
	for _, h := range hosts {
		if h.Status != dhostStatusUp {
			continue
		}
		if h.DRuleID != "" && ruleID != "" && h.DRuleID != ruleID {
			continue
		}
		hostname := ""
		for _, svc := range h.DServices {
			if hostname == "" && svc.DNS != "" {
				hostname = strings.TrimSuffix(svc.DNS, ".")
			}
		}
		for _, svc := range h.DServices {
			addr, err := netip.ParseAddr(strings.TrimSpace(svc.IP))
			if err != nil {
				continue
			}
			addr = addr.Unmap()
			existing, seen := byAddr[addr]
			if seen && existing.Hostname != "" {
				continue
			}
			byAddr[addr] = ExternalHost{Address: addr, Hostname: hostname}
		}
	}

	out := make([]ExternalHost, 0, len(byAddr))
	for _, h := range byAddr {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })
	return out
}
