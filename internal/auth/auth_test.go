package auth

import (
	"testing"
	"time"
)

const testSecret = "test_secret_key_1234567890"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	claims := NewClaims("tunnel-123", "test-issuer", "test-audience", time.Hour)

	token, err := EncodeHMAC([]byte(testSecret), claims)
	if err != nil {
		t.Fatalf("EncodeHMAC: %v", err)
	}

	v := NewHMACValidator([]byte(testSecret)).WithIssuer("test-issuer").WithAudience("test-audience")
	got, err := v.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if got.Subject != claims.Subject {
		t.Errorf("subject = %q, want %q", got.Subject, claims.Subject)
	}
	if got.Issuer != claims.Issuer {
		t.Errorf("issuer = %q, want %q", got.Issuer, claims.Issuer)
	}
}

func TestValidate_ProtocolsPreserved(t *testing.T) {
	claims := NewClaims("tunnel-456", "issuer", "audience", time.Hour).
		WithProtocols([]string{"tcp", "https"})

	token, err := EncodeHMAC([]byte(testSecret), claims)
	if err != nil {
		t.Fatalf("EncodeHMAC: %v", err)
	}

	v := NewHMACValidator([]byte(testSecret))
	got, err := v.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if len(got.Protocols) != 2 || got.Protocols[0] != "tcp" || got.Protocols[1] != "https" {
		t.Errorf("protocols = %v, want [tcp https]", got.Protocols)
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	claims := NewClaims("tunnel-789", "issuer", "audience", -10*time.Second)

	token, err := EncodeHMAC([]byte(testSecret), claims)
	if err != nil {
		t.Fatalf("EncodeHMAC: %v", err)
	}

	v := NewHMACValidator([]byte(testSecret))
	if _, err := v.Validate(token); err != ErrTokenExpired {
		t.Errorf("Validate error = %v, want ErrTokenExpired", err)
	}
}

func TestValidate_IssuerMismatchRejected(t *testing.T) {
	claims := NewClaims("tunnel-1", "issuer-a", "audience", time.Hour)
	token, err := EncodeHMAC([]byte(testSecret), claims)
	if err != nil {
		t.Fatalf("EncodeHMAC: %v", err)
	}

	v := NewHMACValidator([]byte(testSecret)).WithIssuer("issuer-b")
	if _, err := v.Validate(token); err == nil {
		t.Error("expected error for issuer mismatch, got nil")
	}
}

func TestValidate_IssuerIgnoredWhenNotConfigured(t *testing.T) {
	claims := NewClaims("tunnel-1", "whatever-issuer", "audience", time.Hour)
	token, err := EncodeHMAC([]byte(testSecret), claims)
	if err != nil {
		t.Fatalf("EncodeHMAC: %v", err)
	}

	v := NewHMACValidator([]byte(testSecret))
	if _, err := v.Validate(token); err != nil {
		t.Errorf("expected no error when issuer is unconfigured, got %v", err)
	}
}

func TestAuthorizeReverse(t *testing.T) {
	cases := []struct {
		name    string
		claims  Claims
		agentID string
		addr    string
		wantErr bool
	}{
		{
			name:    "unrestricted token allows any agent/address",
			claims:  NewClaims("c", "i", "a", time.Hour),
			agentID: "agent-1",
			addr:    "192.168.1.100:8080",
			wantErr: false,
		},
		{
			name:    "reverse tunnel explicitly disabled",
			claims:  NewClaims("c", "i", "a", time.Hour).WithReverseTunnel(false),
			agentID: "agent-1",
			addr:    "192.168.1.100:8080",
			wantErr: true,
		},
		{
			name: "agent allow-list matches",
			claims: NewClaims("c", "i", "a", time.Hour).
				WithReverseTunnel(true).
				WithAllowedAgents([]string{"agent-1"}).
				WithAllowedAddresses([]string{"192.168.1.100:8080"}),
			agentID: "agent-1",
			addr:    "192.168.1.100:8080",
			wantErr: false,
		},
		{
			name: "agent allow-list mismatch",
			claims: NewClaims("c", "i", "a", time.Hour).
				WithReverseTunnel(true).
				WithAllowedAgents([]string{"agent-1"}),
			agentID: "agent-2",
			addr:    "192.168.1.100:8080",
			wantErr: true,
		},
		{
			name: "address allow-list mismatch",
			claims: NewClaims("c", "i", "a", time.Hour).
				WithReverseTunnel(true).
				WithAllowedAddresses([]string{"192.168.1.100:8080"}),
			agentID: "agent-1",
			addr:    "192.168.1.200:8080",
			wantErr: true,
		},
		{
			name: "empty allow-list normalizes to unrestricted",
			claims: NewClaims("c", "i", "a", time.Hour).
				WithAllowedAgents(nil).
				WithAllowedAddresses([]string{}),
			agentID: "anything",
			addr:    "anything:1",
			wantErr: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.claims.AuthorizeReverse(tc.agentID, tc.addr)
			if (err != nil) != tc.wantErr {
				t.Errorf("AuthorizeReverse() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestWithAllowedAgents_EmptyNormalizesToNil(t *testing.T) {
	c := NewClaims("c", "i", "a", time.Hour).WithAllowedAgents([]string{})
	if c.AllowedAgents != nil {
		t.Errorf("expected nil AllowedAgents after empty list, got %v", c.AllowedAgents)
	}
}

func TestWithAllowedAddresses_EmptyNormalizesToNil(t *testing.T) {
	c := NewClaims("c", "i", "a", time.Hour).WithAllowedAddresses([]string{})
	if c.AllowedAddresses != nil {
		t.Errorf("expected nil AllowedAddresses after empty list, got %v", c.AllowedAddresses)
	}
}
