package ldap

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, TransportGoLDAP, cfg.Transport)
	assert.True(t, cfg.EnableThreadSafety)
	assert.True(t, cfg.EnableStatistics)
	assert.False(t, cfg.EnableFailover)
	assert.False(t, cfg.EnableWatchdog)
	assert.False(t, cfg.EnableCaching)
	assert.False(t, cfg.ReadOnly)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 2*time.Minute, cfg.OperationTimeout)
	assert.Equal(t, time.Hour, cfg.MaxLifetime)
	assert.Equal(t, time.Second, cfg.WatchdogSweepFrequency)
	assert.Equal(t, 10*time.Minute, cfg.FailBackTime)
	assert.Equal(t, 2, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.FailoverPassDelay)
	assert.True(t, cfg.FailoverUseLastKnownGood)
	assert.Equal(t, 128, cfg.CacheMaxSize)
	assert.Equal(t, 30*time.Second, cfg.CacheMaxAge)
}

func TestParseURLList(t *testing.T) {
	assert.Equal(t,
		[]string{"ldap://dc1", "ldaps://dc2:636", "ldap://dc3"},
		ParseURLList(" ldap://dc1, ldaps://dc2:636\tldap://dc3 ,"))
	assert.Empty(t, ParseURLList(""))
	assert.Empty(t, ParseURLList(" , "))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "urls", mutate: func(c *Config) {}},
		{name: "domain only", mutate: func(c *Config) { c.URLs = nil; c.Domain = "example.com" }},
		{name: "no servers", mutate: func(c *Config) { c.URLs = nil }, wantErr: "either domain or LDAP URLs"},
		{name: "bad url", mutate: func(c *Config) { c.URLs = []string{"http://dc1"} }, wantErr: "invalid LDAP URL"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantErr: "timeout"},
		{name: "zero retries", mutate: func(c *Config) { c.RetryCount = 0 }, wantErr: "retry count"},
		{
			name:    "failover without fail-back time",
			mutate:  func(c *Config) { c.EnableFailover = true; c.FailBackTime = 0 },
			wantErr: "fail-back",
		},
		{
			name:   "fail-back time ignored without failover",
			mutate: func(c *Config) { c.FailBackTime = 0 },
		},
		{
			name:    "implicit failover with negative pass delay",
			mutate:  func(c *Config) { c.URLs = append(c.URLs, "ldap://dc2"); c.FailoverPassDelay = -time.Second },
			wantErr: "pass delay",
		},
		{
			name:    "watchdog without idle timeout",
			mutate:  func(c *Config) { c.EnableWatchdog = true; c.IdleTimeout = 0 },
			wantErr: "idle timeout",
		},
		{
			name:    "watchdog without sweep frequency",
			mutate:  func(c *Config) { c.EnableWatchdog = true; c.WatchdogSweepFrequency = 0 },
			wantErr: "sweep frequency",
		},
		{
			name:    "cache without size",
			mutate:  func(c *Config) { c.EnableCaching = true; c.CacheMaxSize = 0 },
			wantErr: "cache max size",
		},
		{
			name:    "cache without age",
			mutate:  func(c *Config) { c.EnableCaching = true; c.CacheMaxAge = 0 },
			wantErr: "cache max age",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.URLs = []string{"ldap://dc1"}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}

func TestConfig_Clone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URLs = []string{"ldap://dc1", "ldap://dc2"}
	cfg.TLSConfig = &tls.Config{ServerName: "dc1"}

	clone := cfg.Clone()
	clone.URLs[0] = "ldap://changed"
	clone.TLSConfig.ServerName = "changed"

	assert.Equal(t, "ldap://dc1", cfg.URLs[0])
	assert.Equal(t, "dc1", cfg.TLSConfig.ServerName)
	assert.Nil(t, (*Config)(nil).Clone())
}

func TestConfig_ForURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URLs = []string{"ldap://dc1", "ldap://dc2"}
	cfg.EnableFailover = true

	slot := cfg.ForURL("ldap://dc2")
	assert.Equal(t, []string{"ldap://dc2"}, slot.URLs)
	assert.False(t, slot.useFailover())
	assert.True(t, cfg.useFailover())
	assert.Len(t, cfg.URLs, 2)
}

func TestConfig_UseFailover(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URLs = []string{"ldap://dc1"}
	assert.False(t, cfg.useFailover())

	cfg.EnableFailover = true
	assert.True(t, cfg.useFailover())

	cfg.EnableFailover = false
	cfg.URLs = append(cfg.URLs, "ldap://dc2")
	assert.True(t, cfg.useFailover(), "several URLs always fail over")
}

func TestConfig_AuthMethod(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want AuthMethod
	}{
		{name: "anonymous", want: AuthMethodAnonymous},
		{name: "simple", cfg: Config{BindDN: "CN=svc,DC=example", Password: "x"}, want: AuthMethodSimpleBind},
		{name: "kerberos password", cfg: Config{BindDN: "svc", Password: "x", KerberosRealm: "EXAMPLE.COM"}, want: AuthMethodKerberos},
		{name: "kerberos keytab", cfg: Config{KerberosRealm: "EXAMPLE.COM", KerberosKeytab: "/etc/krb5.keytab"}, want: AuthMethodKerberos},
		{name: "realm alone", cfg: Config{KerberosRealm: "EXAMPLE.COM"}, want: AuthMethodAnonymous},
		{name: "client certificate", cfg: Config{TLSClientCertFile: "c.pem", TLSClientKeyFile: "k.pem"}, want: AuthMethodExternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.AuthMethod())
			assert.Equal(t, tt.want != AuthMethodAnonymous, tt.cfg.HasAuthentication())
			assert.NotEqual(t, "unknown", tt.want.String())
		})
	}
}

func TestConfig_LogFieldsOmitCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URLs = []string{"ldap://dc1"}
	cfg.BindDN = "CN=svc,DC=example"
	cfg.Password = "hunter2"

	fields := cfg.logFields()
	assert.Equal(t, "simple", fields["auth_method"])
	for _, v := range fields {
		assert.NotEqual(t, "hunter2", v)
	}
}
