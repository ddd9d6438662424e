// Package privacy scrubs broker addresses and credentials from messages
// before they leave the device in logs or error telemetry.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	// URLs of the schemes an earbud talks to: MQTT brokers and HTTP peers
	urlPattern = regexp.MustCompile(`\b(?:tcp|ssl|tls|mqtt|mqtts|ws|wss|https?)://\S+`)

	// key=value and key: value secrets outside URLs
	secretPattern = regexp.MustCompile(`(?i)\b(password|passwd|token|secret|dsn)(\s*[=:]\s*)\S+`)
)

// ScrubMessage anonymizes URLs and masks inline secrets in message
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	return secretPattern.ReplaceAllString(message, "${1}${2}[REDACTED]")
}

// AnonymizeURL replaces a URL with a stable hash that keeps its scheme,
// host category and port so equal endpoints still group together
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if u.Scheme != "" {
		parts = append(parts, u.Scheme)
	}
	if host := u.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if u.Port() != "" {
		parts = append(parts, "port-"+u.Port())
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		hash := sha256.Sum256([]byte(p))
		parts = append(parts, fmt.Sprintf("path-%x", hash[:4]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// SanitizeBrokerURL strips credentials, path and query from a broker
// address for display; host and port are kept for debugging
func SanitizeBrokerURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

// categorizeHost keeps only the kind of host
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}
	if ip := net.ParseIP(host); ip != nil {
		switch {
		case ip.IsLoopback():
			return "localhost"
		case ip.IsPrivate(), ip.IsLinkLocalUnicast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}
	if i := strings.LastIndexByte(host, '.'); i >= 0 && i < len(host)-1 {
		return "domain-" + host[i+1:]
	}
	return "unknown-host"
}

// scrubbedError prints a scrubbed message but unwraps to the original
type scrubbedError struct {
	err error
	msg string
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

// WrapError returns err with broker URLs and secrets scrubbed from its
// message. errors.Is and errors.As still see the original chain.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &scrubbedError{err: err, msg: ScrubMessage(err.Error())}
}
