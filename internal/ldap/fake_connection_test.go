package ldap

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
)

const (
	testTransport = "fake"
	testBindDN    = "CN=svc-terraform,OU=Service,DC=example,DC=com"

	serverMarkerDN = "CN=server"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeNetwork is an in-memory directory reachable through any number of
// server URLs, each of which can be taken down.
type fakeNetwork struct {
	mu       sync.Mutex
	down     map[string]bool
	bindErr  map[string]error
	dials    map[string]int
	conns    []*fakeConn
	entries  map[string]map[string][]string
	opDelay  time.Duration
	gate     chan struct{} // when set, network calls wait for it to close
	started  chan struct{} // receives once per gated call
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	ops      atomic.Int64
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		down:    make(map[string]bool),
		bindErr: make(map[string]error),
		dials:   make(map[string]int),
		entries: map[string]map[string][]string{
			testBindDN: {
				"cn":          {"svc-terraform"},
				"objectClass": {"top", "person", "user"},
			},
		},
	}
}

func (n *fakeNetwork) setDown(url string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[url] = down
}

func (n *fakeNetwork) isDown(url string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.down[url]
}

func (n *fakeNetwork) setBindError(url string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bindErr[url] = err
}

func (n *fakeNetwork) setEntry(dn string, attrs map[string][]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries[dn] = attrs
}

func (n *fakeNetwork) dialCount(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials[url]
}

func (n *fakeNetwork) totalDials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.dials {
		total += c
	}
	return total
}

func (n *fakeNetwork) connections() []*fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeConn(nil), n.conns...)
}

func (n *fakeNetwork) dial(_ context.Context, cfg *Config) (Connection, error) {
	url := cfg.URLs[0]

	n.mu.Lock()
	defer n.mu.Unlock()

	n.dials[url]++
	if n.down[url] {
		return nil, NewUnavailableError("failed to connect to "+url, errors.New("dial tcp: connection refused"))
	}
	if err := n.bindErr[url]; err != nil {
		return nil, NewLDAPError("bind", err)
	}

	c := &fakeConn{net: n, url: url, cfg: cfg}
	n.conns = append(n.conns, c)
	return c, nil
}

// fakeConn is one session on a fakeNetwork.
type fakeConn struct {
	net    *fakeNetwork
	url    string
	cfg    *Config
	closed atomic.Bool
	calls  atomic.Int64
}

func (c *fakeConn) enter(ctx context.Context, op Operation) error {
	c.calls.Add(1)
	c.net.ops.Add(1)

	cur := c.net.inFlight.Add(1)
	for {
		prev := c.net.maxSeen.Load()
		if cur <= prev || c.net.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	c.net.mu.Lock()
	gate, started, delay := c.net.gate, c.net.started, c.net.opDelay
	c.net.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	if c.closed.Load() || c.net.isDown(c.url) {
		return NewLDAPError(op.String(), ldap.NewError(ldap.ErrorNetwork, errors.New("connection reset by peer")))
	}
	return nil
}

func (c *fakeConn) leave() {
	c.net.inFlight.Add(-1)
}

func (c *fakeConn) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	defer c.leave()
	if err := c.enter(ctx, OpSearch); err != nil {
		return nil, err
	}

	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	var entries []*Entry
	if attrs, ok := c.net.entries[req.BaseDN]; ok {
		entries = append(entries, &Entry{DN: req.BaseDN, Attributes: maps.Clone(attrs)})
	}
	// marks which server answered
	entries = append(entries, &Entry{DN: serverMarkerDN, Attributes: map[string][]string{"url": {c.url}}})
	return &SearchResult{Entries: entries, Total: len(entries)}, nil
}

func (c *fakeConn) ReadAttributes(ctx context.Context, dn string, attributes []string) (map[string][]string, error) {
	defer c.leave()
	if err := c.enter(ctx, OpReadAttributes); err != nil {
		return nil, err
	}

	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	attrs, ok := c.net.entries[dn]
	if !ok {
		return nil, NewLDAPError("read", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")))
	}
	out := make(map[string][]string, len(attributes))
	for _, name := range attributes {
		if v, ok := attrs[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

func (c *fakeConn) Compare(ctx context.Context, dn, attribute, value string) (bool, error) {
	defer c.leave()
	if err := c.enter(ctx, OpCompare); err != nil {
		return false, err
	}

	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	for _, v := range c.net.entries[dn][attribute] {
		if v == value {
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeConn) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	defer c.leave()
	if err := c.enter(ctx, OpWhoAmI); err != nil {
		return nil, err
	}
	return parseAuthzID("dn:" + testBindDN), nil
}

func (c *fakeConn) Add(ctx context.Context, req *AddRequest) error {
	defer c.leave()
	if err := c.enter(ctx, OpAdd); err != nil {
		return err
	}

	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if _, ok := c.net.entries[req.DN]; ok {
		return NewLDAPError("add", ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("entry exists")))
	}
	c.net.entries[req.DN] = maps.Clone(req.Attributes)
	return nil
}

func (c *fakeConn) Modify(ctx context.Context, req *ModifyRequest) error {
	defer c.leave()
	if err := c.enter(ctx, OpModify); err != nil {
		return err
	}

	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	attrs, ok := c.net.entries[req.DN]
	if !ok {
		return NewLDAPError("modify", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")))
	}
	for k, v := range req.AddAttributes {
		attrs[k] = append(attrs[k], v...)
	}
	for k, v := range req.ReplaceAttributes {
		attrs[k] = v
	}
	for _, k := range req.DeleteAttributes {
		delete(attrs, k)
	}
	return nil
}

func (c *fakeConn) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	defer c.leave()
	return c.enter(ctx, OpModifyDN)
}

func (c *fakeConn) Delete(ctx context.Context, dn string) error {
	defer c.leave()
	if err := c.enter(ctx, OpDelete); err != nil {
		return err
	}

	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	delete(c.net.entries, dn)
	return nil
}

func (c *fakeConn) PasswordModify(ctx context.Context, req *PasswordModifyRequest) (*PasswordModifyResult, error) {
	defer c.leave()
	if err := c.enter(ctx, OpPasswordModify); err != nil {
		return nil, err
	}
	return &PasswordModifyResult{}, nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) IsConnected() bool {
	return !c.closed.Load() && !c.net.isDown(c.url)
}

func (c *fakeConn) Config() *Config {
	return c.cfg
}

func (c *fakeConn) ErrorIsRetryable(err error) bool {
	return IsRetryableError(err)
}

// testConfig returns defaults with only the layers under test enabled.
func testConfig(urls ...string) *Config {
	cfg := DefaultConfig()
	cfg.Transport = testTransport
	cfg.URLs = urls
	cfg.EnableThreadSafety = false
	cfg.EnableStatistics = false
	cfg.FailoverPassDelay = 0
	return cfg
}

func newTestFactory(t *testing.T, n *fakeNetwork, clock Clock) *Factory {
	t.Helper()
	f, err := NewFactory(context.Background(), WithClock(clock), WithTransport(testTransport, n.dial))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// serverOf returns the URL that served a Search through the fake network.
func serverOf(t *testing.T, res *SearchResult) string {
	t.Helper()
	require.NotNil(t, res)
	for _, e := range res.Entries {
		if e.DN == serverMarkerDN {
			return e.GetAttributeValue("url")
		}
	}
	require.Fail(t, "search result has no server marker")
	return ""
}

func searchReq(base string) *SearchRequest {
	return &SearchRequest{BaseDN: base, Scope: ScopeBaseObject, Filter: "(objectClass=*)"}
}
