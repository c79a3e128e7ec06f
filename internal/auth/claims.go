// Package auth validates bearer tokens presented on tunnel and agent
// control connections and exposes the claim set both the control
// plane and the reverse-tunnel authorization predicate consume.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload issued to clients and agents. It embeds
// jwt.RegisteredClaims for subject/issuer/audience/expiry handling
// and adds the scoping fields specific to tunnel authorization.
//
// AllowedAgents and AllowedAddresses are nil for an unrestricted
// token (backward compatible with tokens minted before these fields
// existed); an explicit empty list is normalized to nil by
// WithAllowedAgents/WithAllowedAddresses, and AuthorizeReverse treats
// an empty list like nil, so "no entries" and "unrestricted" never
// need to be told apart downstream.
type Claims struct {
	jwt.RegisteredClaims

	TokenType            string   `json:"token_type,omitempty"`
	Protocols            []string `json:"protocols,omitempty"`
	Regions              []string `json:"regions,omitempty"`
	ReverseTunnelEnabled *bool    `json:"reverse_tunnel,omitempty"`
	AllowedAgents        []string `json:"allowed_agents,omitempty"`
	AllowedAddresses     []string `json:"allowed_addresses,omitempty"`
}

// TokenType values distinguish short-lived interactive session tokens
// from longer-lived tokens minted for unattended tunnel/agent auth.
const (
	TokenTypeSession = "session"
	TokenTypeAuth    = "auth"
)

// NewClaims builds an unrestricted claim set for subject, valid for
// ttl starting now.
func NewClaims(subject, issuer, audience string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: TokenTypeAuth,
	}
}

// WithTokenType overrides the default token_type (TokenTypeAuth) set
// by NewClaims, e.g. to mint a short-lived TokenTypeSession token for
// an interactive login.
func (c Claims) WithTokenType(t string) Claims {
	c.TokenType = t
	return c
}

// WithProtocols restricts the token to the given tunnel protocols.
func (c Claims) WithProtocols(protocols []string) Claims {
	c.Protocols = protocols
	return c
}

// WithReverseTunnel toggles reverse-tunnel access. A token that never
// calls this has ReverseTunnelEnabled == nil, which AuthorizeReverse
// treats as allowed.
func (c Claims) WithReverseTunnel(enabled bool) Claims {
	c.ReverseTunnelEnabled = &enabled
	return c
}

// WithAllowedAgents restricts reverse-tunnel access to the given
// agent IDs. An empty slice is normalized to nil (unrestricted).
func (c Claims) WithAllowedAgents(agents []string) Claims {
	if len(agents) == 0 {
		c.AllowedAgents = nil
		return c
	}
	c.AllowedAgents = agents
	return c
}

// WithAllowedAddresses restricts reverse-tunnel access to the given
// "host:port" target addresses. An empty slice is normalized to nil.
func (c Claims) WithAllowedAddresses(addrs []string) Claims {
	if len(addrs) == 0 {
		c.AllowedAddresses = nil
		return c
	}
	c.AllowedAddresses = addrs
	return c
}

// AuthorizeReverse decides whether this claim set permits a reverse
// tunnel to agentID targeting remoteAddress.
func (c Claims) AuthorizeReverse(agentID, remoteAddress string) error {
	if c.ReverseTunnelEnabled != nil && !*c.ReverseTunnelEnabled {
		return fmt.Errorf("reverse tunnel access is not allowed for this token")
	}

	if len(c.AllowedAgents) > 0 && !contains(c.AllowedAgents, agentID) {
		return fmt.Errorf("agent %q is not in allowed agents list", agentID)
	}

	if len(c.AllowedAddresses) > 0 && !contains(c.AllowedAddresses, remoteAddress) {
		return fmt.Errorf("address %q is not in allowed addresses list", remoteAddress)
	}

	return nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
