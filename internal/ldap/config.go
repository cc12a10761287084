package ldap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/creasty/defaults"
)

// Config is the complete description of a connection: where to connect, how
// to authenticate, and which layers the factory wraps around the transport.
// The factory keeps its own clone; changing a Config after handing it over has
// no effect.
type Config struct {
	// Connection settings
	URLs    []string      // Ordered server URLs; the first is the failover primary
	Domain  string        // Domain for SRV discovery when URLs is empty
	BaseDN  string        // Base DN for searches
	Timeout time.Duration `default:"30s"` // Dial and per-request network timeout

	// Authentication settings
	BindDN         string // Bind identity (DN, UPN, or SAM format)
	Password       string // Password for simple bind authentication
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosCCache string // Path to Kerberos credential cache
	KerberosSPN    string // Service principal override

	// TLS settings
	TLSConfig         *tls.Config // Custom TLS configuration
	UseTLS            bool        `default:"true"` // Upgrade ldap:// connections with StartTLS
	SkipTLSVerify     bool        // Disable certificate verification
	TLSCACertFile     string      // Path to CA certificate file
	TLSClientCertFile string      // Path to client certificate file
	TLSClientKeyFile  string      // Path to client private key file

	// Transport is the registered name of the raw transport.
	Transport string `default:"go-ldap"`

	// Layers
	EnableFailover     bool
	EnableWatchdog     bool
	EnableCaching      bool
	EnableThreadSafety bool `default:"true"`
	EnableStatistics   bool `default:"true"`
	ReadOnly           bool
	EnableWireTrace    bool

	// Watchdog
	IdleTimeout                      time.Duration `default:"5m"`
	OperationTimeout                 time.Duration `default:"2m"`
	MaxLifetime                      time.Duration `default:"1h"`
	WatchdogSweepFrequency           time.Duration `default:"1s"`
	WatchdogDisableIfPasswordExpired bool

	// Failover
	FailBackTime             time.Duration `default:"10m"`
	RetryCount               int           `default:"2"`  // Attempts per slot for one logical call
	FailoverPassDelay        time.Duration `default:"1s"` // Pause before wrapping back to the first slot
	FailoverUseLastKnownGood bool          `default:"true"`

	// Caching
	CacheMaxSize int           `default:"128"`
	CacheMaxAge  time.Duration `default:"30s"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("ldap: invalid config defaults: %v", err))
	}
	return cfg
}

// ParseURLList splits a comma or space separated server list.
func ParseURLList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// Validate checks the configuration for settings the enabled layers cannot
// work with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}

	if len(c.URLs) == 0 && c.Domain == "" {
		return errors.New("either domain or LDAP URLs must be specified")
	}

	for _, u := range c.URLs {
		if _, err := ParseLDAPURL(u); err != nil {
			return fmt.Errorf("invalid LDAP URL %q: %w", u, err)
		}
	}

	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if c.RetryCount < 1 {
		return errors.New("retry count must be at least 1")
	}

	if c.useFailover() {
		if c.FailBackTime <= 0 {
			return errors.New("fail-back time must be positive")
		}
		if c.FailoverPassDelay < 0 {
			return errors.New("failover pass delay cannot be negative")
		}
	}

	if c.EnableWatchdog {
		if c.IdleTimeout <= 0 {
			return errors.New("idle timeout must be positive")
		}
		if c.OperationTimeout <= 0 {
			return errors.New("operation timeout must be positive")
		}
		if c.MaxLifetime <= 0 {
			return errors.New("max lifetime must be positive")
		}
		if c.WatchdogSweepFrequency <= 0 {
			return errors.New("watchdog sweep frequency must be positive")
		}
	}

	if c.EnableCaching {
		if c.CacheMaxSize <= 0 {
			return errors.New("cache max size must be positive")
		}
		if c.CacheMaxAge <= 0 {
			return errors.New("cache max age must be positive")
		}
	}

	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.URLs = slices.Clone(c.URLs)
	if c.TLSConfig != nil {
		clone.TLSConfig = c.TLSConfig.Clone()
	}
	return &clone
}

// ForURL returns a clone pinned to a single server with failover disabled.
// Failover slots are built from it.
func (c *Config) ForURL(url string) *Config {
	clone := c.Clone()
	clone.URLs = []string{url}
	clone.EnableFailover = false
	return clone
}

// useFailover reports whether the factory should build a failover coordinator.
func (c *Config) useFailover() bool {
	return c.EnableFailover || len(c.URLs) > 1
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // Bind DN/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
	AuthMethodExternal                     // External/certificate authentication
	AuthMethodAnonymous                    // No credentials
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodExternal:
		return "external"
	case AuthMethodAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// AuthMethod determines the authentication method from the configuration.
// Kerberos takes precedence, then simple bind, then client certificates.
func (c *Config) AuthMethod() AuthMethod {
	switch {
	case c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.BindDN != ""):
		return AuthMethodKerberos
	case c.BindDN != "":
		return AuthMethodSimpleBind
	case c.TLSClientCertFile != "" && c.TLSClientKeyFile != "":
		return AuthMethodExternal
	default:
		return AuthMethodAnonymous
	}
}

// HasAuthentication checks if any authentication method is configured.
func (c *Config) HasAuthentication() bool {
	return c.AuthMethod() != AuthMethodAnonymous
}

// logFields summarises the configuration for logs without credentials.
func (c *Config) logFields() map[string]any {
	return map[string]any{
		"urls":        c.URLs,
		"domain":      c.Domain,
		"transport":   c.Transport,
		"auth_method": c.AuthMethod().String(),
		"failover":    c.useFailover(),
		"watchdog":    c.EnableWatchdog,
		"caching":     c.EnableCaching,
		"thread_safe": c.EnableThreadSafety,
		"statistics":  c.EnableStatistics,
		"read_only":   c.ReadOnly,
		"wire_trace":  c.EnableWireTrace,
	}
}
