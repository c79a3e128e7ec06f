// Package domain implements subdomain generation, validation, and
// reservation for tunnels (C7), consulted by the control plane at
// Connect accept time.
package domain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Context carries the client identity and tunnel attributes a
// Provider may use to pick a subdomain (e.g. sticky assignment keyed
// by client + local port).
type Context struct {
	ClientID  string
	LocalPort uint16
	Protocol  string
}

// Protocol is the public-URL protocol, independent of the wire
// protocol kind, since TLS/SNI routes compose a host:port form rather
// than a URL scheme.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolTCP   Protocol = "tcp"
	ProtocolTLS   Protocol = "tls"
)

// ErrInvalidSubdomain is returned by ValidateSubdomain.
type ErrInvalidSubdomain struct {
	Subdomain string
	Reason    string
}

func (e *ErrInvalidSubdomain) Error() string {
	return fmt.Sprintf("domain: invalid subdomain %q: %s", e.Subdomain, e.Reason)
}

// Provider is the policy object consulted for subdomain assignment.
// The Manual variant accepts client-supplied subdomains (subject to
// ValidateSubdomain); the Restricted variant refuses them outright,
// forcing every tunnel onto an auto-generated name.
type Provider struct {
	mu         sync.Mutex
	reserved   map[string]struct{}
	restricted bool
}

// New returns a Provider that allows client-supplied subdomains.
func New() *Provider {
	return &Provider{reserved: make(map[string]struct{})}
}

// NewRestricted returns a Provider that refuses client-supplied
// subdomains and always generates one.
func NewRestricted() *Provider {
	return &Provider{reserved: make(map[string]struct{}), restricted: true}
}

// AllowManualSubdomain reports whether a client may request a
// specific subdomain rather than receiving a generated one.
func (p *Provider) AllowManualSubdomain() bool {
	return !p.restricted
}

// GenerateSubdomain produces a fresh, unreserved subdomain. The
// context is currently unused by the default policy but is accepted
// so callers (and future sticky-assignment policies) have a stable
// signature.
func (p *Provider) GenerateSubdomain(ctx Context) string {
	for {
		candidate := "tunnel-" + uuid.NewString()[:8]
		if p.reserve(candidate) {
			return candidate
		}
	}
}

// IsAvailable reports whether subdomain is not currently reserved.
func (p *Provider) IsAvailable(subdomain string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, taken := p.reserved[subdomain]
	return !taken
}

// Reserve marks subdomain as taken. It is idempotent.
func (p *Provider) Reserve(subdomain string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserved[subdomain] = struct{}{}
}

// reserve atomically checks availability and reserves in one
// operation, used internally by GenerateSubdomain to avoid a
// check-then-act race against concurrent generation.
func (p *Provider) reserve(subdomain string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.reserved[subdomain]; taken {
		return false
	}
	p.reserved[subdomain] = struct{}{}
	return true
}

// Release frees a previously reserved subdomain.
func (p *Provider) Release(subdomain string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, subdomain)
}

// ValidateSubdomain checks subdomain against the DNS-label rules: 3
// to 63 characters, alphanumeric and hyphen only, no leading or
// trailing hyphen.
func ValidateSubdomain(subdomain string) error {
	if subdomain == "" {
		return &ErrInvalidSubdomain{Subdomain: subdomain, Reason: "must not be empty"}
	}
	if len(subdomain) < 3 {
		return &ErrInvalidSubdomain{Subdomain: subdomain, Reason: "must be at least 3 characters"}
	}
	if len(subdomain) > 63 {
		return &ErrInvalidSubdomain{Subdomain: subdomain, Reason: "must be at most 63 characters"}
	}
	if strings.HasPrefix(subdomain, "-") || strings.HasSuffix(subdomain, "-") {
		return &ErrInvalidSubdomain{Subdomain: subdomain, Reason: "must not start or end with a hyphen"}
	}
	for _, r := range subdomain {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '-' {
			return &ErrInvalidSubdomain{Subdomain: subdomain, Reason: fmt.Sprintf("contains invalid character %q", r)}
		}
	}
	return nil
}

// GeneratePublicURL composes the public-facing URL or host:port for
// an endpoint. TCP uses publicDomain:port; HTTP/HTTPS use
// protocol://subdomain.publicDomain; TLS uses subdomain[:port].
func GeneratePublicURL(subdomain string, port uint16, protocol Protocol, publicDomain string) (string, error) {
	switch protocol {
	case ProtocolTCP:
		if port == 0 {
			return "", fmt.Errorf("domain: tcp public url requires a port")
		}
		return fmt.Sprintf("%s:%d", publicDomain, port), nil
	case ProtocolHTTP, ProtocolHTTPS:
		if subdomain == "" {
			return "", fmt.Errorf("domain: %s public url requires a subdomain", protocol)
		}
		return fmt.Sprintf("%s://%s.%s", protocol, subdomain, publicDomain), nil
	case ProtocolTLS:
		if subdomain == "" {
			return "", fmt.Errorf("domain: tls public url requires a subdomain")
		}
		if port != 0 {
			return fmt.Sprintf("%s:%d", subdomain, port), nil
		}
		return subdomain, nil
	default:
		return "", fmt.Errorf("domain: unknown protocol %q", protocol)
	}
}
