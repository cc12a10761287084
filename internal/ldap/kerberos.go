package ldap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosBind performs a GSSAPI bind on conn for the server it was dialled to.
func kerberosBind(ctx context.Context, conn *ldap.Conn, cfg *Config, server *ServerInfo) error {
	principal, realm, err := kerberosPrincipal(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	client, err := newGSSAPIClient(ctx, cfg, principal, realm)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn, err := servicePrincipal(cfg, server)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	tflog.SubsystemDebug(ctx, subsystemLDAP, "Performing GSSAPI bind", map[string]any{
		"principal": principal,
		"realm":     realm,
		"spn":       spn,
	})

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	return nil
}

// kerberosPrincipal splits user@REALM when no explicit realm is configured.
func kerberosPrincipal(cfg *Config) (principal, realm string, err error) {
	principal, realm = cfg.BindDN, cfg.KerberosRealm
	if realm == "" {
		if user, r, ok := strings.Cut(principal, "@"); ok {
			principal, realm = user, r
		}
	}
	if realm == "" {
		return "", "", errors.New("kerberos realm is required (set kerberos_realm or include realm in username)")
	}
	if principal == "" && cfg.KerberosCCache == "" {
		return "", "", errors.New("username (principal) is required for Kerberos authentication")
	}
	return principal, realm, nil
}

// newGSSAPIClient picks credentials in order: explicit ccache, default
// ccache, explicit keytab, default keytab, password.
func newGSSAPIClient(ctx context.Context, cfg *Config, principal, realm string) (*gssapi.Client, error) {
	krb5conf, err := loadKrb5Config(ctx, cfg, realm)
	if err != nil {
		return nil, err
	}

	disableFAST := krb5client.DisablePAFXFAST(true)

	fromCCache := func(path string) (*gssapi.Client, error) {
		ccache, err := credentials.LoadCCache(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load credential cache %s: %w", path, err)
		}
		cl, err := krb5client.NewFromCCache(ccache, krb5conf, disableFAST)
		if err != nil {
			return nil, fmt.Errorf("failed to create client from credential cache: %w", err)
		}
		return &gssapi.Client{Client: cl}, nil
	}

	fromKeytab := func(path string) (*gssapi.Client, error) {
		kt, err := keytab.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load keytab %s: %w", path, err)
		}
		return &gssapi.Client{Client: krb5client.NewWithKeytab(principal, realm, kt, krb5conf, disableFAST)}, nil
	}

	if fileExists(cfg.KerberosCCache) {
		return fromCCache(cfg.KerberosCCache)
	}
	if ccache := defaultCCachePath(); fileExists(ccache) {
		tflog.SubsystemDebug(ctx, subsystemLDAP, "Using default credential cache", map[string]any{"path": ccache})
		return fromCCache(ccache)
	}
	if fileExists(cfg.KerberosKeytab) {
		return fromKeytab(cfg.KerberosKeytab)
	}
	if kt := defaultKeytabPath(); principal != "" && fileExists(kt) {
		tflog.SubsystemDebug(ctx, subsystemLDAP, "Using default keytab", map[string]any{"path": kt})
		return fromKeytab(kt)
	}
	if principal != "" && cfg.Password != "" {
		return &gssapi.Client{Client: krb5client.NewWithPassword(principal, realm, cfg.Password, krb5conf, disableFAST)}, nil
	}

	return nil, errors.New("no suitable Kerberos credentials found: provide kerberos_ccache, kerberos_keytab, password, or a default credential cache/keytab")
}

// loadKrb5Config reads the configured krb5.conf, or /etc/krb5.conf. When
// neither exists it falls back to a generated configuration that locates
// KDCs through DNS SRV records.
func loadKrb5Config(ctx context.Context, cfg *Config, realm string) (*krb5config.Config, error) {
	if cfg.KerberosConfig != "" {
		if !fileExists(cfg.KerberosConfig) {
			return nil, fmt.Errorf("kerberos configuration file not found at %s", cfg.KerberosConfig)
		}
		return krb5config.Load(cfg.KerberosConfig)
	}
	if fileExists(defaultKrb5Conf) {
		return krb5config.Load(defaultKrb5Conf)
	}

	tflog.SubsystemDebug(ctx, subsystemLDAP, "No krb5.conf found, using DNS discovery", map[string]any{
		"realm": realm,
	})
	c, err := krb5config.NewFromString(runtimeKrb5Conf(realm, cfg.Domain))
	if err != nil {
		return nil, fmt.Errorf("invalid generated kerberos configuration: %w", err)
	}
	return c, nil
}

// runtimeKrb5Conf renders a minimal krb5.conf for realm. The domain_realm
// mapping uses domain when set, otherwise the realm in lower case.
func runtimeKrb5Conf(realm, domain string) string {
	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false
    forwardable = true
    ticket_lifetime = 24h
    renew_lifetime = 7d

[realms]
    %[1]s = {
    }

[domain_realm]
    .%[2]s = %[1]s
    %[2]s = %[1]s
`, realm, domain)
}

// servicePrincipal returns ldap/<host> unless an explicit SPN is configured.
func servicePrincipal(cfg *Config, server *ServerInfo) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}
	if server == nil || server.Host == "" {
		return "", errors.New("hostname is required for service principal")
	}
	return "ldap/" + server.Host, nil
}

// defaultCCachePath honours KRB5CCNAME, then /tmp/krb5cc_<uid>.
func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// defaultKeytabPath honours KRB5_KTNAME, then /etc/krb5.keytab.
func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
