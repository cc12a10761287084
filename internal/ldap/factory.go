package ldap

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/prometheus/client_golang/prometheus"
)

// Clock is the time source used by every layer.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Factory.
type Option func(*Factory)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(f *Factory) {
		f.clock = clock
	}
}

// WithTransport registers a raw transport under name.
func WithTransport(name string, dial DialFunc) Option {
	return func(f *Factory) {
		f.transports[name] = dial
	}
}

// WithDiscovery replaces the SRV discovery used for domain-only configs.
func WithDiscovery(d *SRVDiscovery) Option {
	return func(f *Factory) {
		f.discovery = d
	}
}

// Factory builds connection handles and owns the state they share: the
// last-known-good failover hints, the watchdog sweeper, factory-wide
// statistics, the open-handle registry and the directory info cache.
type Factory struct {
	ctx       context.Context
	clock     Clock
	discovery *SRVDiscovery
	metrics   *clientMetrics

	transportsMu sync.RWMutex
	transports   map[string]DialFunc

	lkg     *lastKnownGoodCache
	sweeper *watchdogSweeper
	stats   *StatsBean
	dirInfo *directoryInfoCache

	handlesMu sync.Mutex
	handles   map[string]weak.Pointer[Handle]
	closed    bool
}

// NewFactory creates a factory with the go-ldap transport registered.
func NewFactory(ctx context.Context, opts ...Option) (*Factory, error) {
	ctx = WithLogging(ctx)

	metrics, err := newClientMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating client metrics: %w", err)
	}

	f := &Factory{
		clock:      systemClock{},
		metrics:    metrics,
		transports: map[string]DialFunc{TransportGoLDAP: DialGoLDAP},
		lkg:        newLastKnownGoodCache(),
		dirInfo:    newDirectoryInfoCache(),
		handles:    make(map[string]weak.Pointer[Handle]),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.discovery == nil {
		f.discovery = NewSRVDiscovery()
	}

	f.ctx = ctx
	f.stats = newStatsBean(f.clock.Now())
	f.sweeper = newWatchdogSweeper(ctx, f.clock)

	tflog.SubsystemDebug(ctx, subsystemLDAP, "Connection factory created", map[string]any{
		"transports": len(f.transports),
	})
	return f, nil
}

// RegisterTransport adds or replaces a raw transport.
func (f *Factory) RegisterTransport(name string, dial DialFunc) {
	f.transportsMu.Lock()
	defer f.transportsMu.Unlock()
	f.transports[name] = dial
}

func (f *Factory) transport(name string) (DialFunc, bool) {
	f.transportsMu.RLock()
	defer f.transportsMu.RUnlock()
	dial, ok := f.transports[name]
	return dial, ok
}

// NewConnection opens a connection described by cfg and wraps it in the
// layers cfg enables. Nothing is registered when it fails; a failure to
// reach or bind to any server is ErrUnavailable, with the bind error as cause.
func (f *Factory) NewConnection(ctx context.Context, cfg *Config) (*Handle, error) {
	ctx = WithLogging(ctx)
	start := f.clock.Now()

	if f.isClosed() {
		return nil, NewIllegalStateError("connection factory is closed")
	}

	if err := cfg.Validate(); err != nil {
		return nil, NewConnectionError("invalid configuration", false, err)
	}
	cfg = cfg.Clone()

	dial, ok := f.transport(cfg.Transport)
	if !ok {
		return nil, NewUnavailableError(fmt.Sprintf("unknown transport %q", cfg.Transport), nil)
	}

	if len(cfg.URLs) == 0 {
		urls, err := f.discoverURLs(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cfg.URLs = urls
	}

	tflog.SubsystemDebug(ctx, subsystemLDAP, "Creating connection", cfg.logFields())

	local := newStatsBean(start)
	countedDial := func(ctx context.Context, c *Config) (Connection, error) {
		conn, err := dial(ctx, c)
		if err != nil {
			return nil, err
		}
		if cfg.EnableStatistics {
			now := f.clock.Now()
			local.recordBind(now)
			f.stats.recordBind(now)
		}
		return conn, nil
	}

	openRaw := func(ctx context.Context) (Connection, error) {
		if !cfg.useFailover() {
			return countedDial(ctx, cfg)
		}
		fc, err := newFailoverCoordinator(ctx, cfg, countedDial, f.clock, f.lkg)
		if err != nil {
			return nil, err
		}
		return fc, nil
	}

	conn, err := openRaw(ctx)
	if err != nil {
		fields := cfg.logFields()
		fields["error"] = err.Error()
		LogConnectionEvent(ctx, subsystemLDAP, "connection_failed", fields)
		if !errors.Is(err, ErrUnavailable) {
			err = NewUnavailableError("initial bind failed", err)
		}
		return nil, err
	}

	var cache *cachingLayer
	if cfg.EnableWatchdog && !hasLayer(conn, layerWatchdog) {
		conn = newWatchdogCoordinator(ctx, conn, cfg, openRaw, f.clock, f.sweeper)
	}
	if cfg.ReadOnly && !hasLayer(conn, layerReadOnly) {
		conn = newReadOnlyLayer(conn)
	}
	if cfg.EnableWireTrace && !hasLayer(conn, layerWireTrace) {
		conn = newWireTraceLayer(conn, f.clock)
	}
	if cfg.EnableStatistics && !hasLayer(conn, layerStatistics) {
		conn = newStatisticsLayer(conn, local, f.stats, f.clock, f.metrics)
	}
	if cfg.EnableCaching && !hasLayer(conn, layerCaching) {
		cache = newCachingLayer(conn, cfg, f.clock)
		conn = cache
	}
	if cfg.EnableThreadSafety && !hasLayer(conn, layerThreadSafety) {
		conn = newThreadSafetyLayer(conn)
	}

	h := newHandle(f, conn, cfg, local, cache)
	f.register(h)

	// Handles dropped without Close still release their connections.
	runtime.AddCleanup(h, func(c Connection) { c.Close() }, conn)

	f.stats.recordConnection(f.clock.Now())
	LogConnectionEvent(ctx, subsystemLDAP, "connection_established", map[string]any{
		"id":       h.ID(),
		"layers":   Layers(conn),
		"duration": f.clock.Now().Sub(start).String(),
	})
	return h, nil
}

func (f *Factory) discoverURLs(ctx context.Context, cfg *Config) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	urls, err := f.discovery.DiscoverURLs(ctx, cfg.Domain)
	if err != nil {
		return nil, NewUnavailableError("server discovery failed", err)
	}
	if len(urls) == 0 {
		return nil, NewUnavailableError(fmt.Sprintf("no LDAP servers found for domain %s", cfg.Domain), nil)
	}
	return urls, nil
}

func (f *Factory) isClosed() bool {
	f.handlesMu.Lock()
	defer f.handlesMu.Unlock()
	return f.closed
}

func (f *Factory) register(h *Handle) {
	f.handlesMu.Lock()
	defer f.handlesMu.Unlock()
	f.handles[h.ID()] = weak.Make(h)
}

func (f *Factory) unregister(h *Handle) {
	f.handlesMu.Lock()
	defer f.handlesMu.Unlock()
	delete(f.handles, h.ID())
}

// liveHandles returns the registered handles that are still reachable,
// forgetting the rest.
func (f *Factory) liveHandles() []*Handle {
	f.handlesMu.Lock()
	defer f.handlesMu.Unlock()

	live := make([]*Handle, 0, len(f.handles))
	for id, wp := range f.handles {
		h := wp.Value()
		if h == nil {
			delete(f.handles, id)
			continue
		}
		live = append(live, h)
	}
	return live
}

// ActiveConnections counts open handles.
func (f *Factory) ActiveConnections() int {
	n := 0
	for _, h := range f.liveHandles() {
		if h.State() == HandleOpen {
			n++
		}
	}
	return n
}

// CloseAll closes every open handle and returns the first error.
func (f *Factory) CloseAll() error {
	var first error
	for _, h := range f.liveHandles() {
		if err := h.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// GlobalStatistics returns the factory-wide counters.
func (f *Factory) GlobalStatistics() map[string]any {
	m := f.stats.Snapshot().Map()
	m["active_connections"] = f.ActiveConnections()
	return m
}

// Collector exposes the factory-wide counters as Prometheus metrics.
func (f *Factory) Collector() prometheus.Collector {
	return newStatsCollector(f.stats, f.ActiveConnections)
}

// Close closes every handle and stops the watchdog sweeper. Later calls to
// NewConnection fail.
func (f *Factory) Close() error {
	f.handlesMu.Lock()
	f.closed = true
	f.handlesMu.Unlock()

	err := f.CloseAll()
	f.sweeper.shutdown()

	tflog.SubsystemDebug(f.ctx, subsystemLDAP, "Connection factory closed", nil)
	return err
}
