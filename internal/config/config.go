// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix LOCALUP_)
//  3. Config file (config.yaml in . or /etc/localup/)
//  4. Compiled defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config wraps a viper instance and provides typed accessors for every
// configuration key. Create one via New().
type Config struct {
	v *viper.Viper
}

// New initialises a Config by loading values from environment
// variables, the config file, and compiled defaults (in that priority
// order; CLI flags, bound later via BindFlags, take highest priority).
func New() (*Config, error) {
	v := viper.New()

	for _, o := range RelayOptions {
		v.SetDefault(o.Key, o.Default)
	}
	for _, o := range ClientOptions {
		v.SetDefault(o.Key, o.Default)
	}
	for _, o := range AgentOptions {
		v.SetDefault(o.Key, o.Default)
	}
	for _, o := range ReverseOptions {
		v.SetDefault(o.Key, o.Default)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/localup/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("LOCALUP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers CLI flags for the given option slice and binds
// them to the underlying viper keys so that flag values override file
// and environment sources.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Relay-mode accessors
// ---------------------------------------------------------------------------

func (c *Config) ListenQUIC() string         { return c.v.GetString(keyListenQUIC) }
func (c *Config) ListenH2() string           { return c.v.GetString(keyListenH2) }
func (c *Config) ListenWS() string           { return c.v.GetString(keyListenWS) }
func (c *Config) ListenHTTP() string         { return c.v.GetString(keyListenHTTP) }
func (c *Config) ListenHTTPSSNI() string     { return c.v.GetString(keyListenHTTPSSNI) }
func (c *Config) ListenHTTPSTerm() string    { return c.v.GetString(keyListenHTTPSTerm) }
func (c *Config) TCPPortRangeLow() int       { return c.v.GetInt(keyTCPPortRangeLow) }
func (c *Config) TCPPortRangeHigh() int      { return c.v.GetInt(keyTCPPortRangeHigh) }
func (c *Config) CertPath() string           { return c.v.GetString(keyCertPath) }
func (c *Config) KeyPath() string            { return c.v.GetString(keyKeyPath) }
func (c *Config) JWTSecretPath() string      { return c.v.GetString(keyJWTSecretPath) }
func (c *Config) JWTPublicKeyPath() string   { return c.v.GetString(keyJWTPublicKeyPath) }
func (c *Config) JWTIssuer() string          { return c.v.GetString(keyJWTIssuer) }
func (c *Config) JWTAudience() string        { return c.v.GetString(keyJWTAudience) }
func (c *Config) PublicDomain() string       { return c.v.GetString(keyPublicDomain) }
func (c *Config) RestrictedSubdomains() bool { return c.v.GetBool(keyRestrictedSubdomains) }
func (c *Config) Insecure() bool             { return c.v.GetBool(keyInsecure) }
func (c *Config) MetricsAddress() string     { return c.v.GetString(keyMetricsAddress) }

// ---------------------------------------------------------------------------
// Client-mode accessors
// ---------------------------------------------------------------------------

func (c *Config) ClientName() string      { return c.v.GetString(keyClientName) }
func (c *Config) ClientLocalPort() int    { return c.v.GetInt(keyClientLocalPort) }
func (c *Config) ClientProtocol() string  { return c.v.GetString(keyClientProtocol) }
func (c *Config) ClientToken() string     { return c.v.GetString(keyClientToken) }
func (c *Config) ClientSubdomain() string { return c.v.GetString(keyClientSubdomain) }
func (c *Config) ClientDomain() string    { return c.v.GetString(keyClientDomain) }
func (c *Config) ClientRelay() string     { return c.v.GetString(keyClientRelay) }
func (c *Config) ClientRemotePort() int   { return c.v.GetInt(keyClientRemotePort) }
func (c *Config) ClientTransport() string { return c.v.GetString(keyClientTransport) }
func (c *Config) ClientInsecure() bool    { return c.v.GetBool(keyClientInsecure) }

// Clone returns an independent Config seeded with c's current
// resolved values (flags, env, file, and defaults already flattened
// by viper). Mutating the clone's client.* keys via the SetClient*
// setters does not affect c; the daemon subcommand uses this to run
// one reconnect loop per stored tunnel from a single base Config.
func (c *Config) Clone() *Config {
	nv := viper.New()
	for _, k := range c.v.AllKeys() {
		nv.Set(k, c.v.Get(k))
	}
	return &Config{v: nv}
}

// SetClientName, SetClientRelay, and the rest override the client.*
// keys on this Config in place, used only on a Clone() so that a
// shared base Config is never mutated.
func (c *Config) SetClientName(v string)      { c.v.Set(keyClientName, v) }
func (c *Config) SetClientLocalPort(v int)    { c.v.Set(keyClientLocalPort, v) }
func (c *Config) SetClientProtocol(v string)  { c.v.Set(keyClientProtocol, v) }
func (c *Config) SetClientToken(v string)     { c.v.Set(keyClientToken, v) }
func (c *Config) SetClientSubdomain(v string) { c.v.Set(keyClientSubdomain, v) }
func (c *Config) SetClientDomain(v string)    { c.v.Set(keyClientDomain, v) }
func (c *Config) SetClientRelay(v string)     { c.v.Set(keyClientRelay, v) }
func (c *Config) SetClientRemotePort(v int)   { c.v.Set(keyClientRemotePort, v) }

// ---------------------------------------------------------------------------
// Agent-mode accessors
// ---------------------------------------------------------------------------

func (c *Config) AgentID() string            { return c.v.GetString(keyAgentID) }
func (c *Config) AgentToken() string         { return c.v.GetString(keyAgentToken) }
func (c *Config) AgentTargetAddress() string { return c.v.GetString(keyAgentTargetAddress) }
func (c *Config) AgentRelay() string         { return c.v.GetString(keyAgentRelay) }
func (c *Config) AgentInsecure() bool        { return c.v.GetBool(keyAgentInsecure) }

// SetAgentTargetAddress overrides the agent's fixed forwarding target.
// Used by tests and by anything that builds an agent config
// programmatically rather than from flags.
func (c *Config) SetAgentTargetAddress(v string) { c.v.Set(keyAgentTargetAddress, v) }

// ---------------------------------------------------------------------------
// Reverse-tunnel-client-mode accessors
// ---------------------------------------------------------------------------

func (c *Config) ReverseAgentID() string       { return c.v.GetString(keyReverseAgentID) }
func (c *Config) ReverseToken() string         { return c.v.GetString(keyReverseToken) }
func (c *Config) ReverseRemoteAddress() string { return c.v.GetString(keyReverseRemoteAddress) }
func (c *Config) ReverseBind() string          { return c.v.GetString(keyReverseBind) }
func (c *Config) ReverseRelay() string         { return c.v.GetString(keyReverseRelay) }
func (c *Config) ReverseInsecure() bool        { return c.v.GetBool(keyReverseInsecure) }
