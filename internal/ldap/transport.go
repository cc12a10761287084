package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// DialFunc opens a raw, bound Connection to the single server named by
// cfg.URLs[0]. Failures must already be classified: retryable errors mean the
// server could not be reached.
type DialFunc func(ctx context.Context, cfg *Config) (Connection, error)

// TransportGoLDAP is the name the go-ldap transport is registered under.
const TransportGoLDAP = "go-ldap"

// ldapConnection is the raw transport over a single go-ldap connection.
type ldapConnection struct {
	cfg    *Config
	server *ServerInfo
	conn   *ldap.Conn
}

// DialGoLDAP dials, optionally upgrades with StartTLS, and binds.
func DialGoLDAP(ctx context.Context, cfg *Config) (Connection, error) {
	if len(cfg.URLs) == 0 {
		return nil, NewConnectionError("no LDAP URL configured", false, nil)
	}
	rawURL := cfg.URLs[0]

	server, err := ParseLDAPURL(rawURL)
	if err != nil {
		return nil, NewConnectionError(fmt.Sprintf("invalid LDAP URL %s", rawURL), false, err)
	}

	tlsConfig, err := buildTLSConfig(cfg, server.Host)
	if err != nil {
		return nil, NewConnectionError("invalid TLS configuration", false, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, NewUnavailableError(fmt.Sprintf("failed to connect to %s", rawURL), err)
	}

	LogConnectionEvent(ctx, subsystemLDAP, "connection_attempt", map[string]any{"url": rawURL})

	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: cfg.Timeout})}
	if server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(rawURL, opts...)
	if err != nil {
		LogConnectionEvent(ctx, subsystemLDAP, "connection_failed", map[string]any{"url": rawURL, "error": err.Error()})
		return nil, NewUnavailableError(fmt.Sprintf("failed to connect to %s", rawURL), err)
	}

	if !server.UseTLS && cfg.UseTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, NewLDAPError("start_tls", err)
		}
	}

	conn.SetTimeout(cfg.Timeout)

	c := &ldapConnection{cfg: cfg, server: server, conn: conn}
	if err := c.bind(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	LogConnectionEvent(ctx, subsystemLDAP, "connection_established", map[string]any{
		"url":         rawURL,
		"auth_method": cfg.AuthMethod().String(),
	})
	return c, nil
}

// bind authenticates with the configured method.
func (c *ldapConnection) bind(ctx context.Context) error {
	method := c.cfg.AuthMethod()

	var err error
	switch method {
	case AuthMethodSimpleBind:
		if c.cfg.Password == "" {
			err = c.conn.UnauthenticatedBind(c.cfg.BindDN)
		} else {
			err = c.conn.Bind(c.cfg.BindDN, c.cfg.Password)
		}
	case AuthMethodKerberos:
		err = kerberosBind(ctx, c.conn, c.cfg, c.server)
	case AuthMethodExternal:
		err = c.conn.ExternalBind()
	case AuthMethodAnonymous:
		return nil
	default:
		err = fmt.Errorf("unsupported authentication method: %s", method)
	}

	if err != nil {
		LogConnectionEvent(ctx, subsystemLDAP, "authentication_failed", map[string]any{
			"auth_method": method.String(),
			"bind_dn":     c.cfg.BindDN,
			"error":       err.Error(),
		})
		return NewLDAPError("bind", err)
	}

	LogConnectionEvent(ctx, subsystemLDAP, "authentication_success", map[string]any{
		"auth_method": method.String(),
		"bind_dn":     c.cfg.BindDN,
	})
	return nil
}

// buildTLSConfig derives the TLS settings for host from the configuration.
func buildTLSConfig(cfg *Config, host string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}
	if cfg.SkipTLSVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if cfg.TLSCACertFile != "" {
		pem, err := os.ReadFile(cfg.TLSCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.TLSClientCertFile != "" || cfg.TLSClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// run logs and classifies one directory operation.
func (c *ldapConnection) run(ctx context.Context, op Operation, dn string, fields map[string]any, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return NewLDAPError(op.String(), err)
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["server"] = c.cfg.URLs[0]
	if dn != "" {
		fields["dn"] = dn
	}

	err := LogOperation(ctx, subsystemLDAP, op.String(), fields, fn)
	if err != nil {
		ldapErr := NewLDAPError(op.String(), err)
		if ldapErr.DN == "" {
			ldapErr.DN = dn
		}
		return ldapErr
	}
	return nil
}

func (c *ldapConnection) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, NewConnectionError("search request cannot be nil", false, nil)
	}

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		nil,
	)

	fields := map[string]any{
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
		"page_size":  req.PageSize,
	}

	var res *ldap.SearchResult
	truncated := false
	err := c.run(ctx, OpSearch, req.BaseDN, fields, func() error {
		var err error
		if req.PageSize > 0 {
			res, err = c.conn.SearchWithPaging(ldapReq, req.PageSize)
		} else {
			res, err = c.conn.Search(ldapReq)
		}
		// The server stopped at the size limit; what it sent is still valid.
		if err != nil && res != nil && ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
			truncated = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		Entries: flattenEntries(res.Entries),
		Total:   len(res.Entries),
		HasMore: truncated || (req.SizeLimit > 0 && len(res.Entries) >= req.SizeLimit),
	}, nil
}

func (c *ldapConnection) ReadAttributes(ctx context.Context, dn string, attributes []string) (map[string][]string, error) {
	ldapReq := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, 0, false, "(objectClass=*)", attributes, nil)

	var res *ldap.SearchResult
	err := c.run(ctx, OpReadAttributes, dn, map[string]any{"attributes": attributes}, func() error {
		var err error
		res, err = c.conn.Search(ldapReq)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(res.Entries) == 0 {
		return nil, NewLDAPError(OpReadAttributes.String(),
			ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("entry %s not found", dn)))
	}
	return flattenEntry(res.Entries[0]).Attributes, nil
}

func (c *ldapConnection) Compare(ctx context.Context, dn, attribute, value string) (bool, error) {
	var matched bool
	err := c.run(ctx, OpCompare, dn, map[string]any{"attribute": attribute}, func() error {
		var err error
		matched, err = c.conn.Compare(dn, attribute, value)
		return err
	})
	return matched, err
}

func (c *ldapConnection) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	var res *ldap.WhoAmIResult
	err := c.run(ctx, OpWhoAmI, "", nil, func() error {
		var err error
		res, err = c.conn.WhoAmI(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, NewConnectionError("WhoAmI operation returned nil result", false, nil)
	}
	return parseAuthzID(res.AuthzID), nil
}

func (c *ldapConnection) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return NewConnectionError("add request cannot be nil", false, nil)
	}
	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for attr, values := range req.Attributes {
		ldapReq.Attribute(attr, values)
	}
	return c.run(ctx, OpAdd, req.DN, nil, func() error {
		return c.conn.Add(ldapReq)
	})
}

func (c *ldapConnection) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return NewConnectionError("modify request cannot be nil", false, nil)
	}
	ldapReq := ldap.NewModifyRequest(req.DN, nil)
	for attr, values := range req.AddAttributes {
		ldapReq.Add(attr, values)
	}
	for attr, values := range req.ReplaceAttributes {
		ldapReq.Replace(attr, values)
	}
	for _, attr := range req.DeleteAttributes {
		ldapReq.Delete(attr, []string{})
	}
	return c.run(ctx, OpModify, req.DN, nil, func() error {
		return c.conn.Modify(ldapReq)
	})
}

func (c *ldapConnection) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	if req == nil || req.DN == "" || req.NewRDN == "" {
		return NewConnectionError("modify DN request needs a DN and a new RDN", false, nil)
	}
	ldapReq := ldap.NewModifyDNRequest(req.DN, req.NewRDN, req.DeleteOldRDN, req.NewSuperior)
	return c.run(ctx, OpModifyDN, req.DN, map[string]any{"new_rdn": req.NewRDN}, func() error {
		return c.conn.ModifyDN(ldapReq)
	})
}

func (c *ldapConnection) Delete(ctx context.Context, dn string) error {
	if dn == "" {
		return NewConnectionError("DN cannot be empty", false, nil)
	}
	return c.run(ctx, OpDelete, dn, nil, func() error {
		return c.conn.Del(ldap.NewDelRequest(dn, nil))
	})
}

func (c *ldapConnection) PasswordModify(ctx context.Context, req *PasswordModifyRequest) (*PasswordModifyResult, error) {
	if req == nil {
		return nil, NewConnectionError("password modify request cannot be nil", false, nil)
	}
	var res *ldap.PasswordModifyResult
	err := c.run(ctx, OpPasswordModify, req.UserIdentity, nil, func() error {
		var err error
		res, err = c.conn.PasswordModify(ldap.NewPasswordModifyRequest(req.UserIdentity, req.OldPassword, req.NewPassword))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &PasswordModifyResult{GeneratedPassword: res.GeneratedPassword}, nil
}

func (c *ldapConnection) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

func (c *ldapConnection) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosing()
}

func (c *ldapConnection) Config() *Config {
	return c.cfg
}

func (c *ldapConnection) ErrorIsRetryable(err error) bool {
	return IsRetryableError(err)
}

var (
	dnPattern  = regexp.MustCompile(`^[A-Za-z]+=.*`)
	sidPattern = regexp.MustCompile(`^S-\d+-\d+-\d+(-\d+)*$`)
)

// parseAuthzID identifies the form of an RFC 4532 authorization identity.
func parseAuthzID(authzID string) *WhoAmIResult {
	result := &WhoAmIResult{AuthzID: authzID}
	if authzID == "" {
		result.Format = "empty"
		return result
	}

	id := strings.TrimPrefix(strings.TrimPrefix(authzID, "dn:"), "u:")
	upper := strings.ToUpper(id)

	switch {
	case dnPattern.MatchString(id) && (strings.Contains(upper, "CN=") || strings.Contains(upper, "OU=") ||
		strings.Contains(upper, "DC=") || strings.Contains(upper, "UID=")):
		result.Format = "dn"
		result.DN = id
	case strings.Contains(id, "@") && !strings.Contains(id, `\`):
		result.Format = "upn"
		result.UserPrincipalName = id
	case sidPattern.MatchString(id):
		result.Format = "sid"
		result.SID = id
	case strings.Contains(id, `\`):
		result.Format = "sam"
		result.SAMAccountName = id
	default:
		result.Format = "unknown"
	}
	return result
}
