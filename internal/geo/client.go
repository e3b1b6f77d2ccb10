// Package geo talks to the external geolocation / privacy-detection
// provider. Every Lookup is a single best-effort HTTP call bounded by the
// configured timeout; retries are left to the caller.
package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/evyataryagoni/iptracker/internal/ipaddr"
	"github.com/evyataryagoni/iptracker/internal/logger"
	"github.com/evyataryagoni/iptracker/internal/models"
)

// maxBodyBytes caps how much of a provider response is read
const maxBodyBytes = 1 << 20

// Provider resolves an IP address to a normalised geolocation result
type Provider interface {
	Lookup(ctx context.Context, ip string) (*models.GeoResult, error)
}

// Config holds the provider settings
type Config struct {
	URL         string        // endpoint template, "{ip}" is replaced by the address
	Token       string        // sent as a bearer token when set
	Timeout     time.Duration // applied to every outbound call
	PublicIPURL string        // plain-text "what is my IP" endpoint
}

// Client implements Provider over HTTP
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a provider client.
// A nil logger falls back to the default logger.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.WithComponent("GeoClient"),
	}
}

// providerResponse is the ipinfo-style payload. Both the full and the lite
// endpoints fit: lite sends country names plus country_code and as_name,
// full sends two-letter country codes, region, city, org and privacy.
type providerResponse struct {
	IP          string       `json:"ip"`
	Country     string       `json:"country"`
	CountryCode string       `json:"country_code"`
	Region      string       `json:"region"`
	City        string       `json:"city"`
	Org         string       `json:"org"`
	ASName      string       `json:"as_name"`
	Bogon       bool         `json:"bogon"`
	Privacy     *privacyInfo `json:"privacy"`
}

func (p *providerResponse) empty() bool {
	for _, field := range []string{p.Country, p.CountryCode, p.Region, p.City, p.Org, p.ASName} {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

type privacyInfo struct {
	VPN     bool   `json:"vpn"`
	Proxy   bool   `json:"proxy"`
	Tor     bool   `json:"tor"`
	Relay   bool   `json:"relay"`
	Hosting bool   `json:"hosting"`
	Service string `json:"service"`
}

// Lookup validates ip and performs exactly one provider call.
//
// Returns:
//   - *ipaddr.ValidationError when ip is malformed (no call is made)
//   - *LookupError for timeouts, transport failures, non-2xx answers and
//     bodies that are not a JSON object
func (c *Client) Lookup(ctx context.Context, ip string) (*models.GeoResult, error) {
	ip, err := ipaddr.Normalize(ip)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := strings.ReplaceAll(c.cfg.URL, "{ip}", url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &LookupError{IP: ip, Reason: ReasonTransport, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	c.logger.Debug().Str("ip", ip).Str("host", req.URL.Host).Msg("Requesting geolocation")

	body, status, err := c.do(req)
	if err != nil {
		return nil, &LookupError{IP: ip, StatusCode: status, Reason: classify(ctx, err), Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &LookupError{
			IP:         ip,
			StatusCode: status,
			Reason:     ReasonStatus,
			Err:        fmt.Errorf("unexpected provider response: %s", snippet(body)),
		}
	}

	result, err := parseResponse(ip, body)
	if err != nil {
		return nil, &LookupError{IP: ip, StatusCode: status, Reason: ReasonPayload, Err: err}
	}
	return result, nil
}

// PublicIP asks the configured echo service for this host's public
// address. Used to give loopback callers a meaningful address.
func (c *Client) PublicIP(ctx context.Context) (string, error) {
	if c.cfg.PublicIPURL == "" {
		return "", errors.New("public IP endpoint not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.PublicIPURL, nil)
	if err != nil {
		return "", &LookupError{Reason: ReasonTransport, Err: err}
	}

	body, status, err := c.do(req)
	if err != nil {
		return "", &LookupError{StatusCode: status, Reason: classify(ctx, err), Err: err}
	}
	if status < 200 || status > 299 {
		return "", &LookupError{StatusCode: status, Reason: ReasonStatus, Err: fmt.Errorf("unexpected response: %s", snippet(body))}
	}

	ip, err := ipaddr.Normalize(string(body))
	if err != nil {
		return "", &LookupError{StatusCode: status, Reason: ReasonPayload, Err: fmt.Errorf("not an IP address: %s", snippet(body))}
	}
	return ip, nil
}

// do executes req and reads at most maxBodyBytes of the answer
func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// parseResponse decodes and normalises a provider body. Bogon answers and
// objects without any location or network field are rejected: records are
// written once, so an empty result would stick to the address for good.
func parseResponse(ip string, body []byte) (*models.GeoResult, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %q", snippet(body))
	}

	var payload providerResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode provider payload: %w", err)
	}
	if payload.Bogon {
		return nil, fmt.Errorf("provider reports %s as a bogon address", ip)
	}
	if payload.empty() {
		return nil, fmt.Errorf("provider payload has no location data: %s", snippet(body))
	}

	var raw bytes.Buffer
	if err := json.Compact(&raw, body); err != nil {
		return nil, fmt.Errorf("compact provider payload: %w", err)
	}

	result := &models.GeoResult{
		IP:          ip,
		Country:     strings.TrimSpace(payload.Country),
		CountryCode: strings.ToUpper(strings.TrimSpace(payload.CountryCode)),
		Region:      strings.TrimSpace(payload.Region),
		City:        strings.TrimSpace(payload.City),
		Org:         strings.TrimSpace(payload.Org),
		Raw:         raw.Bytes(),
	}
	if result.CountryCode == "" && isCountryCode(result.Country) {
		result.CountryCode = strings.ToUpper(result.Country)
	}
	if result.Org == "" {
		result.Org = strings.TrimSpace(payload.ASName)
	}
	result.VPNDetected, result.VPNType = classifyPrivacy(payload.Privacy)

	return result, nil
}

// classifyPrivacy maps the provider privacy block to (detected, type).
// Precedence: tor > vpn > proxy; relays count as proxies. Hosting alone
// is not anonymising infrastructure.
func classifyPrivacy(p *privacyInfo) (bool, string) {
	switch {
	case p == nil:
		return false, ""
	case p.Tor:
		return true, "tor"
	case p.VPN:
		return true, "vpn"
	case p.Proxy, p.Relay:
		return true, "proxy"
	default:
		return false, "none"
	}
}

// classify turns a transport error into a LookupError reason
func classify(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	return ReasonTransport
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, c := range strings.ToUpper(s) {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// snippet shortens a body for error messages
func snippet(body []byte) string {
	const limit = 120
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
