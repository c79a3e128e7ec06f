package domain

import "testing"

func TestValidateSubdomain(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid simple", "myapp", false},
		{"valid with hyphen", "my-app-1", false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"too long", stringOfLen(64), true},
		{"max length ok", stringOfLen(63), false},
		{"leading hyphen", "-myapp", true},
		{"trailing hyphen", "myapp-", true},
		{"invalid char underscore", "my_app", true},
		{"invalid char dot", "my.app", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSubdomain(tc.value)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateSubdomain(%q) error = %v, wantErr %v", tc.value, err, tc.wantErr)
			}
		})
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestGenerateSubdomain_Unique(t *testing.T) {
	p := New()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s := p.GenerateSubdomain(Context{})
		if seen[s] {
			t.Fatalf("generated duplicate subdomain %q", s)
		}
		seen[s] = true
	}
}

func TestReserveAvailableRelease(t *testing.T) {
	p := New()
	if !p.IsAvailable("myapp") {
		t.Fatal("expected myapp to be available initially")
	}

	p.Reserve("myapp")
	if p.IsAvailable("myapp") {
		t.Error("expected myapp to be unavailable after Reserve")
	}

	p.Release("myapp")
	if !p.IsAvailable("myapp") {
		t.Error("expected myapp to be available after Release")
	}
}

func TestRestrictedProvider_DisallowsManual(t *testing.T) {
	p := NewRestricted()
	if p.AllowManualSubdomain() {
		t.Error("expected restricted provider to disallow manual subdomains")
	}

	unrestricted := New()
	if !unrestricted.AllowManualSubdomain() {
		t.Error("expected default provider to allow manual subdomains")
	}
}

func TestGeneratePublicURL(t *testing.T) {
	cases := []struct {
		name      string
		subdomain string
		port      uint16
		protocol  Protocol
		want      string
		wantErr   bool
	}{
		{"http", "myapp", 0, ProtocolHTTP, "http://myapp.localup.test", false},
		{"https", "myapp", 0, ProtocolHTTPS, "https://myapp.localup.test", false},
		{"tcp", "", 20001, ProtocolTCP, "localup.test:20001", false},
		{"tcp missing port", "", 0, ProtocolTCP, "", true},
		{"tls with port", "myapp", 8443, ProtocolTLS, "myapp:8443", false},
		{"tls without port", "myapp", 0, ProtocolTLS, "myapp", false},
		{"http missing subdomain", "", 0, ProtocolHTTP, "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := GeneratePublicURL(tc.subdomain, tc.port, tc.protocol, "localup.test")
			if (err != nil) != tc.wantErr {
				t.Fatalf("GeneratePublicURL() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && got != tc.want {
				t.Errorf("GeneratePublicURL() = %q, want %q", got, tc.want)
			}
		})
	}
}
