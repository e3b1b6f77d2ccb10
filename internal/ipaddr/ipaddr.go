// Package ipaddr validates IP address input and reduces it to the canonical
// form used as the record identity.
package ipaddr

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is safe for concurrent use and caches its tag parsing
var validate = validator.New()

// ValidationError reports input that is not a well-formed IPv4 or IPv6
// address. The message is safe to show to end users.
type ValidationError struct {
	Input string
}

func (e *ValidationError) Error() string {
	return "invalid IP address format"
}

// Normalize validates raw and returns its canonical text form.
// Surrounding whitespace is ignored, IPv6 is lowercased and compressed, and
// IPv4-mapped IPv6 addresses are reduced to plain IPv4.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	// "ip" accepts both IPv4 and IPv6 literals, without zones or ports
	if err := validate.Var(raw, "required,ip"); err != nil {
		return "", &ValidationError{Input: raw}
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", &ValidationError{Input: raw}
	}
	return addr.Unmap().String(), nil
}

// IsLoopback reports whether ip is a loopback address. Invalid input is
// not loopback.
func IsLoopback(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	return addr.Unmap().IsLoopback()
}

// ClientIP returns the address the request was observed from.
//
// Priority: first X-Forwarded-For entry > X-Real-IP > RemoteAddr host.
// The result is not validated; callers run it through Normalize.
func ClientIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		// Format: "client, proxy1, proxy2"
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port, e.g. after chi's RealIP middleware
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}
