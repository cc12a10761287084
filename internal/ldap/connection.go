package ldap

import (
	"context"
	"strings"
	"time"
)

// Connection is a single logical session with a directory. The raw transport
// implements it, and so does every layer the factory wraps around it.
//
// Results returned by read and search operations may be shared with a cache
// and must be treated as read-only by callers.
type Connection interface {
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	ReadAttributes(ctx context.Context, dn string, attributes []string) (map[string][]string, error)
	Compare(ctx context.Context, dn, attribute, value string) (bool, error)
	WhoAmI(ctx context.Context) (*WhoAmIResult, error)

	Add(ctx context.Context, req *AddRequest) error
	Modify(ctx context.Context, req *ModifyRequest) error
	ModifyDN(ctx context.Context, req *ModifyDNRequest) error
	Delete(ctx context.Context, dn string) error
	PasswordModify(ctx context.Context, req *PasswordModifyRequest) (*PasswordModifyResult, error)

	Close() error
	IsConnected() bool
	Config() *Config
	ErrorIsRetryable(err error) bool
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN       string        `json:"base_dn"`
	Scope        SearchScope   `json:"scope"`
	DerefAliases DerefAliases  `json:"deref_aliases"`
	Filter       string        `json:"filter"`
	Attributes   []string      `json:"attributes,omitempty"`
	SizeLimit    int           `json:"size_limit,omitempty"`
	TimeLimit    time.Duration `json:"time_limit,omitempty"`
	// PageSize > 0 requests simple paged results of that size.
	PageSize uint32 `json:"page_size,omitempty"`
}

// Entry is a directory entry with every attribute flattened to strings.
type Entry struct {
	DN         string              `json:"dn"`
	Attributes map[string][]string `json:"attributes"`
}

// GetAttributeValues returns the values of name, matched case-insensitively.
func (e *Entry) GetAttributeValues(name string) []string {
	if e == nil {
		return nil
	}
	if values, ok := e.Attributes[name]; ok {
		return values
	}
	for attr, values := range e.Attributes {
		if strings.EqualFold(attr, name) {
			return values
		}
	}
	return nil
}

// GetAttributeValue returns the first value of name, or "".
func (e *Entry) GetAttributeValue(name string) string {
	if values := e.GetAttributeValues(name); len(values) > 0 {
		return values[0]
	}
	return ""
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries []*Entry `json:"entries"`
	Total   int      `json:"total"`
	HasMore bool     `json:"has_more"`
}

// AddRequest encapsulates LDAP add parameters.
type AddRequest struct {
	DN         string              `json:"dn"`
	Attributes map[string][]string `json:"attributes"`
}

// ModifyRequest encapsulates LDAP modify parameters.
type ModifyRequest struct {
	DN                string              `json:"dn"`
	AddAttributes     map[string][]string `json:"add,omitempty"`
	ReplaceAttributes map[string][]string `json:"replace,omitempty"`
	DeleteAttributes  []string            `json:"delete,omitempty"`
}

// ModifyDNRequest renames or moves an entry.
type ModifyDNRequest struct {
	DN           string `json:"dn"`
	NewRDN       string `json:"new_rdn"`
	DeleteOldRDN bool   `json:"delete_old_rdn"`
	NewSuperior  string `json:"new_superior,omitempty"`
}

// PasswordModifyRequest is the RFC 3062 password modify extended operation.
type PasswordModifyRequest struct {
	UserIdentity string `json:"user_identity,omitempty"`
	OldPassword  string `json:"-"`
	NewPassword  string `json:"-"`
}

// PasswordModifyResult carries the server-generated password, if any.
type PasswordModifyResult struct {
	GeneratedPassword string `json:"-"`
}

// WhoAmIResult is the parsed authorization identity of the bound session.
type WhoAmIResult struct {
	AuthzID           string `json:"authz_id"`
	Format            string `json:"format"`
	DN                string `json:"dn,omitempty"`
	UserPrincipalName string `json:"user_principal_name,omitempty"`
	SAMAccountName    string `json:"sam_account_name,omitempty"`
	SID               string `json:"sid,omitempty"`
}

// layerKind names a layer so the factory can tell whether it is already
// present in a chain.
type layerKind string

const (
	layerFailover     layerKind = "failover"
	layerWatchdog     layerKind = "watchdog"
	layerReadOnly     layerKind = "read_only"
	layerWireTrace    layerKind = "wire_trace"
	layerStatistics   layerKind = "statistics"
	layerCaching      layerKind = "caching"
	layerThreadSafety layerKind = "thread_safety"
	layerHandle       layerKind = "handle"
)

// chainLink is implemented by every layer.
type chainLink interface {
	layerKind() layerKind
	Unwrap() Connection
}

// hasLayer walks the chain from c inwards looking for kind.
func hasLayer(c Connection, kind layerKind) bool {
	for c != nil {
		link, ok := c.(chainLink)
		if !ok {
			return false
		}
		if link.layerKind() == kind {
			return true
		}
		c = link.Unwrap()
	}
	return false
}

// Layers lists the layer names of c from the outside in. The raw transport is
// not listed.
func Layers(c Connection) []string {
	var names []string
	for c != nil {
		link, ok := c.(chainLink)
		if !ok {
			break
		}
		names = append(names, string(link.layerKind()))
		c = link.Unwrap()
	}
	return names
}

// proxy turns an Interceptor into a full Connection: each method packages its
// arguments into a Call and hands it to the interceptor.
type proxy struct {
	interceptor Interceptor
}

func resultAs[T any](v any, err error) (T, error) {
	t, _ := v.(T)
	return t, err
}

func (p *proxy) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	return resultAs[*SearchResult](p.interceptor.Intercept(ctx, &Call{
		Op:   OpSearch,
		Args: []any{req},
		Invoke: func(ctx context.Context, c Connection) (any, error) {
			return c.Search(ctx, req)
		},
	}))
}

func (p *proxy) ReadAttributes(ctx context.Context, dn string, attributes []string) (map[string][]string, error) {
	return resultAs[map[string][]string](p.interceptor.Intercept(ctx, &Call{
		Op:   OpReadAttributes,
		Args: []any{dn, attributes},
		Invoke: func(ctx context.Context, c Connection) (any, error) {
			return c.ReadAttributes(ctx, dn, attributes)
		},
	}))
}

func (p *proxy) Compare(ctx context.Context, dn, attribute, value string) (bool, error) {
	return resultAs[bool](p.interceptor.Intercept(ctx, &Call{
		Op:   OpCompare,
		Args: []any{dn, attribute, value},
		Invoke: func(ctx context.Context, c Connection) (any, error) {
			return c.Compare(ctx, dn, attribute, value)
		},
	}))
}

func (p *proxy) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	return resultAs[*WhoAmIResult](p.interceptor.Intercept(ctx, &Call{
		Op: OpWhoAmI,
		Invoke: func(ctx context.Context, c Connection) (any, error) {
			return c.WhoAmI(ctx)
		},
	}))
}

func (p *proxy) Add(ctx context.Context, req *AddRequest) error {
	_, err := p.interceptor.Intercept(ctx, &Call{
		Op:   OpAdd,
		Args: []any{req},
		Invoke: func(ctx context.Context, c Connection) (any, error) {
			return nil, c.Add(ctx, req)
		},
	})
	return err
}

func (p *proxy) Modify(ctx context.Context, req *ModifyRequest) error {
	_, err := p.interceptor.Intercept(ctx, &Call{
		Op:   OpModify,
		Args: []any{req},
		Invoke: func(ctx context.Context, c Connection) (any, error) {
			return nil, c.Modify(ctx, req)
		},
	})
	return err
}

func (p *proxy) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	_, err := p.interceptor.Intercept(ctx, &Call{
		Op:   OpModifyDN,
		Args: []any{req},
		Invoke: func(ctx context.Context, c Connection) (any, error) {
			return nil, c.ModifyDN(ctx, req)
		},
	})
	return err
}

func (p *proxy) Delete(ctx context.Context, dn string) error {
	_, err := p.interceptor.Intercept(ctx, &Call{
		Op:   OpDelete,
		Args: []any{dn},
		Invoke: func(ctx context.Context, c Connection) (any, error) {
			return nil, c.Delete(ctx, dn)
		},
	})
	return err
}

func (p *proxy) PasswordModify(ctx context.Context, req *PasswordModifyRequest) (*PasswordModifyResult, error) {
	return resultAs[*PasswordModifyResult](p.interceptor.Intercept(ctx, &Call{
		Op:   OpPasswordModify,
		Args: []any{req},
		Invoke: func(ctx context.Context, c Connection) (any, error) {
			return c.PasswordModify(ctx, req)
		},
	}))
}

func (p *proxy) Close() error {
	_, err := p.interceptor.Intercept(context.Background(), &Call{
		Op: OpClose,
		Invoke: func(_ context.Context, c Connection) (any, error) {
			return nil, c.Close()
		},
	})
	return err
}

func (p *proxy) IsConnected() bool {
	connected, _ := resultAs[bool](p.interceptor.Intercept(context.Background(), &Call{
		Op: OpIsConnected,
		Invoke: func(_ context.Context, c Connection) (any, error) {
			return c.IsConnected(), nil
		},
	}))
	return connected
}

func (p *proxy) Config() *Config {
	cfg, _ := resultAs[*Config](p.interceptor.Intercept(context.Background(), &Call{
		Op: OpConfig,
		Invoke: func(_ context.Context, c Connection) (any, error) {
			return c.Config(), nil
		},
	}))
	return cfg
}

func (p *proxy) ErrorIsRetryable(err error) bool {
	retryable, _ := resultAs[bool](p.interceptor.Intercept(context.Background(), &Call{
		Op:   OpErrorIsRetryable,
		Args: []any{err},
		Invoke: func(_ context.Context, c Connection) (any, error) {
			return c.ErrorIsRetryable(err), nil
		},
	}))
	return retryable
}
