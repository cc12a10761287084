package provider

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

const (
	memoryTransport = "memory"
	memoryURL       = "ldap://mem.example.com"
	testBaseDN      = "DC=example,DC=com"
	testBindDN      = "CN=svc-terraform,OU=Service,DC=example,DC=com"
)

var simpleFilterPattern = regexp.MustCompile(`^\(([^=()]+)=([^()]*)\)$`)

// memDirectory is an in-memory directory served through a registered
// transport. Entries are keyed by lower-cased normalized DN.
type memDirectory struct {
	mu      sync.Mutex
	entries map[string]*ldapclient.Entry
	rootDSE map[string][]string
	calls   map[string]int
}

func newMemDirectory() *memDirectory {
	d := &memDirectory{
		entries: make(map[string]*ldapclient.Entry),
		rootDSE: map[string][]string{
			"objectClass":          {"top", "OpenLDAProotDSE"},
			"namingContexts":       {testBaseDN},
			"supportedLDAPVersion": {"3"},
			"supportedControl":     {"1.2.840.113556.1.4.319"},
			"supportedExtension":   {"1.3.6.1.4.1.4203.1.11.1", "1.3.6.1.4.1.4203.1.11.3"},
		},
		calls: make(map[string]int),
	}
	d.put(testBaseDN, map[string][]string{"objectClass": {"top", "domain"}, "dc": {"example"}})
	d.put("OU=Service,"+testBaseDN, map[string][]string{"objectClass": {"organizationalUnit"}, "ou": {"Service"}})
	d.put("OU=Users,"+testBaseDN, map[string][]string{"objectClass": {"organizationalUnit"}, "ou": {"Users"}})
	d.put(testBindDN, map[string][]string{"objectClass": {"person"}, "cn": {"svc-terraform"}})
	return d
}

func memKey(dn string) string {
	if normalized, err := ldapclient.NormalizeDN(dn); err == nil {
		dn = normalized
	}
	return strings.ToLower(dn)
}

func (d *memDirectory) put(dn string, attrs map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	normalized, _ := ldapclient.NormalizeDN(dn)
	d.entries[memKey(dn)] = &ldapclient.Entry{DN: normalized, Attributes: maps.Clone(attrs)}
}

func (d *memDirectory) get(dn string) (map[string][]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[memKey(dn)]
	if !ok {
		return nil, false
	}
	return maps.Clone(e.Attributes), true
}

func (d *memDirectory) callCount(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *memDirectory) dial(_ context.Context, cfg *ldapclient.Config) (ldapclient.Connection, error) {
	return &memConnection{dir: d, cfg: cfg}, nil
}

func noSuchObject(op, dn string) error {
	return ldapclient.NewLDAPError(op, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("entry %s not found", dn)))
}

// memConnection is one session on a memDirectory.
type memConnection struct {
	dir    *memDirectory
	cfg    *ldapclient.Config
	closed bool
}

func (c *memConnection) enter(op string) func() {
	c.dir.mu.Lock()
	c.dir.calls[op]++
	return c.dir.mu.Unlock
}

func (c *memConnection) Search(_ context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	defer c.enter("search")()

	if req.BaseDN == "" && req.Scope == ldapclient.ScopeBaseObject {
		entry := &ldapclient.Entry{Attributes: pick(c.dir.rootDSE, req.Attributes)}
		return &ldapclient.SearchResult{Entries: []*ldapclient.Entry{entry}, Total: 1}, nil
	}

	base := memKey(req.BaseDN)
	if _, ok := c.dir.entries[base]; !ok {
		return nil, noSuchObject("search", req.BaseDN)
	}

	match, err := compileSimpleFilter(req.Filter)
	if err != nil {
		return nil, ldapclient.NewLDAPError("search", ldap.NewError(ldap.LDAPResultFilterError, err))
	}

	var entries []*ldapclient.Entry
	for _, key := range slices.Sorted(maps.Keys(c.dir.entries)) {
		entry := c.dir.entries[key]
		if !inScope(key, base, req.Scope) || !match(entry) {
			continue
		}
		entries = append(entries, &ldapclient.Entry{DN: entry.DN, Attributes: pick(entry.Attributes, req.Attributes)})
	}

	result := &ldapclient.SearchResult{Entries: entries}
	if req.SizeLimit > 0 && len(entries) > req.SizeLimit {
		result.Entries = entries[:req.SizeLimit]
		result.HasMore = true
	}
	result.Total = len(result.Entries)
	return result, nil
}

func (c *memConnection) ReadAttributes(_ context.Context, dn string, attributes []string) (map[string][]string, error) {
	defer c.enter("read")()

	entry, ok := c.dir.entries[memKey(dn)]
	if !ok {
		return nil, noSuchObject("read", dn)
	}
	return pick(entry.Attributes, attributes), nil
}

func (c *memConnection) Compare(_ context.Context, dn, attribute, value string) (bool, error) {
	defer c.enter("compare")()

	entry, ok := c.dir.entries[memKey(dn)]
	if !ok {
		return false, noSuchObject("compare", dn)
	}
	return slices.Contains(entry.GetAttributeValues(attribute), value), nil
}

func (c *memConnection) WhoAmI(context.Context) (*ldapclient.WhoAmIResult, error) {
	defer c.enter("whoami")()
	return &ldapclient.WhoAmIResult{AuthzID: "dn:" + testBindDN, Format: "dn", DN: testBindDN}, nil
}

func (c *memConnection) Add(_ context.Context, req *ldapclient.AddRequest) error {
	defer c.enter("add")()

	key := memKey(req.DN)
	if _, ok := c.dir.entries[key]; ok {
		return ldapclient.NewLDAPError("add", ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("entry exists")))
	}
	if _, parent, err := ldapclient.SplitDN(req.DN); err != nil || parent == "" {
		return noSuchObject("add", req.DN)
	} else if _, ok := c.dir.entries[memKey(parent)]; !ok {
		return noSuchObject("add", parent)
	}

	normalized, _ := ldapclient.NormalizeDN(req.DN)
	attrs := make(map[string][]string, len(req.Attributes))
	for name, values := range req.Attributes {
		attrs[name] = slices.Clone(values)
	}
	c.dir.entries[key] = &ldapclient.Entry{DN: normalized, Attributes: attrs}
	return nil
}

func (c *memConnection) Modify(_ context.Context, req *ldapclient.ModifyRequest) error {
	defer c.enter("modify")()

	entry, ok := c.dir.entries[memKey(req.DN)]
	if !ok {
		return noSuchObject("modify", req.DN)
	}
	attrs := maps.Clone(entry.Attributes)
	for name, values := range req.AddAttributes {
		key := keyFold(attrs, name)
		attrs[key] = append(slices.Clone(attrs[key]), values...)
	}
	for name, values := range req.ReplaceAttributes {
		key := keyFold(attrs, name)
		if len(values) == 0 {
			delete(attrs, key)
			continue
		}
		attrs[key] = slices.Clone(values)
	}
	for _, name := range req.DeleteAttributes {
		delete(attrs, keyFold(attrs, name))
	}
	entry.Attributes = attrs
	return nil
}

func (c *memConnection) ModifyDN(_ context.Context, req *ldapclient.ModifyDNRequest) error {
	defer c.enter("modify_dn")()

	oldKey := memKey(req.DN)
	entry, ok := c.dir.entries[oldKey]
	if !ok {
		return noSuchObject("modify_dn", req.DN)
	}

	_, parent, err := ldapclient.SplitDN(req.DN)
	if err != nil {
		return ldapclient.NewLDAPError("modify_dn", ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err))
	}
	if req.NewSuperior != "" {
		parent = req.NewSuperior
	}
	newDN, err := ldapclient.NormalizeDN(req.NewRDN + "," + parent)
	if err != nil {
		return ldapclient.NewLDAPError("modify_dn", ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err))
	}
	if _, ok := c.dir.entries[memKey(newDN)]; ok {
		return ldapclient.NewLDAPError("modify_dn", ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("entry exists")))
	}

	attrs := maps.Clone(entry.Attributes)
	if req.DeleteOldRDN {
		if oldRDN, err := ldapclient.RDNAttributes(req.DN); err == nil {
			for name, value := range oldRDN {
				key := keyFold(attrs, name)
				attrs[key] = slices.DeleteFunc(slices.Clone(attrs[key]), func(v string) bool { return strings.EqualFold(v, value) })
			}
		}
	}
	if newRDN, err := ldapclient.RDNAttributes(newDN); err == nil {
		for name, value := range newRDN {
			key := keyFold(attrs, name)
			attrs[key] = append(attrs[key], value)
		}
	}

	delete(c.dir.entries, oldKey)
	c.dir.entries[memKey(newDN)] = &ldapclient.Entry{DN: newDN, Attributes: attrs}
	return nil
}

func (c *memConnection) Delete(_ context.Context, dn string) error {
	defer c.enter("delete")()

	key := memKey(dn)
	if _, ok := c.dir.entries[key]; !ok {
		return noSuchObject("delete", dn)
	}
	delete(c.dir.entries, key)
	return nil
}

func (c *memConnection) PasswordModify(context.Context, *ldapclient.PasswordModifyRequest) (*ldapclient.PasswordModifyResult, error) {
	defer c.enter("password_modify")()
	return &ldapclient.PasswordModifyResult{}, nil
}

func (c *memConnection) Close() error {
	c.closed = true
	return nil
}

func (c *memConnection) IsConnected() bool {
	return !c.closed
}

func (c *memConnection) Config() *ldapclient.Config {
	return c.cfg
}

func (c *memConnection) ErrorIsRetryable(err error) bool {
	return ldapclient.IsRetryableError(err)
}

// pick returns the named attributes, all of them when names is empty.
func pick(attrs map[string][]string, names []string) map[string][]string {
	if len(names) == 0 || slices.Contains(names, "*") {
		return maps.Clone(attrs)
	}
	out := make(map[string][]string, len(names))
	for _, name := range names {
		if values, ok := lookupFold(attrs, name); ok {
			out[keyFold(attrs, name)] = values
		}
	}
	return out
}

func inScope(key, base string, scope ldapclient.SearchScope) bool {
	switch scope {
	case ldapclient.ScopeBaseObject:
		return key == base
	case ldapclient.ScopeSingleLevel:
		_, parent, err := ldapclient.SplitDN(key)
		return err == nil && strings.EqualFold(parent, base)
	default:
		return key == base || strings.HasSuffix(key, ","+base)
	}
}

// compileSimpleFilter supports single equality and presence filters.
func compileSimpleFilter(filter string) (func(*ldapclient.Entry) bool, error) {
	m := simpleFilterPattern.FindStringSubmatch(strings.TrimSpace(filter))
	if m == nil {
		return nil, fmt.Errorf("unsupported filter %q", filter)
	}
	name, value := m[1], m[2]

	return func(e *ldapclient.Entry) bool {
		values := e.GetAttributeValues(name)
		if value == "*" {
			return len(values) > 0
		}
		return slices.ContainsFunc(values, func(v string) bool { return strings.EqualFold(v, value) })
	}, nil
}

// newTestProviderData connects to dir with cfg adjusted by configure.
func newTestProviderData(t *testing.T, dir *memDirectory, configure func(*ldapclient.Config)) *providerData {
	t.Helper()

	factory, err := ldapclient.NewFactory(t.Context(), ldapclient.WithTransport(memoryTransport, dir.dial))
	require.NoError(t, err)

	cfg := ldapclient.DefaultConfig()
	cfg.Transport = memoryTransport
	cfg.URLs = []string{memoryURL}
	cfg.BaseDN = testBaseDN
	cfg.BindDN = testBindDN
	cfg.Password = "secret"
	if configure != nil {
		configure(cfg)
	}

	handle, err := factory.NewConnection(t.Context(), cfg)
	require.NoError(t, err)

	data := &providerData{factory: factory, handle: handle, baseDN: cfg.BaseDN}
	t.Cleanup(func() { _ = data.close() })
	return data
}

// objectValue builds a value of typ from values, filling every missing
// attribute with null.
func objectValue(t *testing.T, typ tftypes.Type, values map[string]tftypes.Value) tftypes.Value {
	t.Helper()

	obj, ok := typ.(tftypes.Object)
	require.True(t, ok, "expected object type, got %T", typ)

	filled := make(map[string]tftypes.Value, len(obj.AttributeTypes))
	for name, attrType := range obj.AttributeTypes {
		if v, ok := values[name]; ok {
			filled[name] = v
			continue
		}
		filled[name] = tftypes.NewValue(attrType, nil)
	}
	for name := range values {
		_, ok := obj.AttributeTypes[name]
		require.True(t, ok, "unknown attribute %q", name)
	}
	return tftypes.NewValue(typ, filled)
}

func stringList(values ...string) tftypes.Value {
	elems := make([]tftypes.Value, len(values))
	for i, v := range values {
		elems[i] = tftypes.NewValue(tftypes.String, v)
	}
	return tftypes.NewValue(tftypes.List{ElementType: tftypes.String}, elems)
}

func stringSet(values ...string) tftypes.Value {
	elems := make([]tftypes.Value, len(values))
	for i, v := range values {
		elems[i] = tftypes.NewValue(tftypes.String, v)
	}
	return tftypes.NewValue(tftypes.Set{ElementType: tftypes.String}, elems)
}
