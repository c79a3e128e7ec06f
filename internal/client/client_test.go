package client

import (
	"testing"

	"github.com/localup-dev/localup/internal/config"
	"github.com/localup-dev/localup/internal/discovery"
	"github.com/localup-dev/localup/internal/wire"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.New()
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestClient_WireProtocol(t *testing.T) {
	cases := []struct {
		protocol string
		want     wire.ProtocolKind
	}{
		{"http", wire.ProtocolHTTP},
		{"https", wire.ProtocolHTTPS},
		{"tcp", wire.ProtocolTCP},
		{"tls", wire.ProtocolTLS},
		{"", wire.ProtocolHTTP},
	}
	for _, tc := range cases {
		cfg := newTestConfig(t)
		cfg.SetClientProtocol(tc.protocol)
		c := New(cfg, "t1", nil)
		if got := c.wireProtocol().Kind; got != tc.want {
			t.Errorf("wireProtocol(%q).Kind = %v, want %v", tc.protocol, got, tc.want)
		}
	}
}

func TestClient_ConnectorFor(t *testing.T) {
	c := New(newTestConfig(t), "t1", nil)
	for _, proto := range []discovery.Protocol{discovery.ProtocolQUIC, discovery.ProtocolH2, discovery.ProtocolWS} {
		if _, err := c.connectorFor(proto, nil); err != nil {
			t.Errorf("connectorFor(%v): %v", proto, err)
		}
	}
	if _, err := c.connectorFor(discovery.Protocol("bogus"), nil); err == nil {
		t.Error("connectorFor(bogus): expected error, got nil")
	}
}

func TestClient_RelayHost(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.SetClientRelay("relay.example.com:7000")
	c := New(cfg, "t1", nil)
	if got := c.relayHost(); got != "relay.example.com" {
		t.Errorf("relayHost() = %q, want relay.example.com", got)
	}

	cfg2 := newTestConfig(t)
	cfg2.SetClientRelay("not-a-host-port")
	c2 := New(cfg2, "t1", nil)
	if got := c2.relayHost(); got != "not-a-host-port" {
		t.Errorf("relayHost() fallback = %q, want not-a-host-port", got)
	}
}

func TestNew_GeneratesTunnelIDWhenEmpty(t *testing.T) {
	c := New(newTestConfig(t), "", nil)
	if c.tunnelID == "" {
		t.Error("expected New to generate a tunnel id when none is given")
	}
}
