package ldap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// WatchdogStatus is the lifecycle state of a watchdog-managed connection.
type WatchdogStatus int32

const (
	WatchdogActive WatchdogStatus = iota // a connection is held
	WatchdogIdle                         // the connection was reclaimed; the next call reopens
	WatchdogClosed                       // closed by the caller
)

func (s WatchdogStatus) String() string {
	switch s {
	case WatchdogActive:
		return "active"
	case WatchdogIdle:
		return "idle"
	case WatchdogClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// openFunc opens the connection a watchdog manages: a raw transport
// connection or a failover coordinator.
type openFunc func(ctx context.Context) (Connection, error)

// watchdogCoordinator closes its connection when it has been idle, stuck in
// one operation, or alive for too long, and reopens it on the next call.
//
// usage is read-locked for every call in flight. The sweeper proves the
// connection idle by taking it exclusively with TryLock. replaceMu guards only
// the conn reference, so a reopen never waits on other callers' operations.
type watchdogCoordinator struct {
	proxy
	cfg     *Config
	open    openFunc
	clock   Clock
	sweeper *watchdogSweeper

	usage     sync.RWMutex
	replaceMu sync.Mutex
	conn      Connection
	status    atomic.Int32

	// unix nanoseconds
	lastFinished atomic.Int64
	lastBegan    atomic.Int64
	connectedAt  atomic.Int64

	// false when reconnecting would fail the same way, e.g. on an expired password
	lifetimeSafe atomic.Bool
}

func newWatchdogCoordinator(ctx context.Context, conn Connection, cfg *Config, open openFunc, clock Clock, sweeper *watchdogSweeper) *watchdogCoordinator {
	w := &watchdogCoordinator{
		cfg:     cfg,
		open:    open,
		clock:   clock,
		sweeper: sweeper,
	}
	w.proxy = proxy{interceptor: w}
	w.install(ctx, conn)

	if sweeper != nil {
		sweeper.register(w)
	}
	return w
}

func (w *watchdogCoordinator) layerKind() layerKind { return layerWatchdog }

// Unwrap returns the held connection, or nil while idle.
func (w *watchdogCoordinator) Unwrap() Connection {
	w.replaceMu.Lock()
	defer w.replaceMu.Unlock()
	return w.conn
}

func (w *watchdogCoordinator) Status() WatchdogStatus {
	return WatchdogStatus(w.status.Load())
}

func (w *watchdogCoordinator) Intercept(ctx context.Context, call *Call) (any, error) {
	switch call.Op {
	case OpClose:
		return nil, w.close(ctx)
	case OpConfig:
		return w.cfg, nil
	case OpIsConnected:
		conn := w.Unwrap()
		return conn != nil && conn.IsConnected(), nil
	case OpErrorIsRetryable:
		if conn := w.Unwrap(); conn != nil {
			return call.Apply(ctx, conn)
		}
		err, _ := call.Args[0].(error)
		return IsRetryableError(err), nil
	}

	// lastBegan is set before usage is held, so a sweep that finds usage busy
	// never sees the previous call's start.
	w.lastBegan.Store(w.clock.Now().UnixNano())
	w.usage.RLock()
	defer w.usage.RUnlock()

	conn, err := w.acquire(ctx)
	if err != nil {
		return nil, err
	}

	v, err := call.Apply(ctx, conn)
	w.lastFinished.Store(w.clock.Now().UnixNano())

	if err != nil && conn.ErrorIsRetryable(err) {
		w.discard(ctx, conn, "retryable_error")
	}
	return v, err
}

// acquire returns the held connection, reopening it if it was reclaimed.
func (w *watchdogCoordinator) acquire(ctx context.Context) (Connection, error) {
	w.replaceMu.Lock()
	defer w.replaceMu.Unlock()

	switch WatchdogStatus(w.status.Load()) {
	case WatchdogClosed:
		return nil, NewIllegalStateError("watchdog connection is closed")
	case WatchdogActive:
		if w.conn != nil {
			return w.conn, nil
		}
	}

	tflog.SubsystemDebug(ctx, subsystemWatchdog, "Reopening reclaimed connection", nil)

	conn, err := w.open(ctx)
	if err != nil {
		return nil, err
	}
	w.installLocked(ctx, conn)
	return conn, nil
}

func (w *watchdogCoordinator) install(ctx context.Context, conn Connection) {
	w.replaceMu.Lock()
	defer w.replaceMu.Unlock()
	w.installLocked(ctx, conn)
}

func (w *watchdogCoordinator) installLocked(ctx context.Context, conn Connection) {
	now := w.clock.Now().UnixNano()
	w.conn = conn
	w.connectedAt.Store(now)
	w.lastFinished.Store(now)
	w.lastBegan.Store(now)
	w.lifetimeSafe.Store(w.disconnectSafe(ctx, conn))
	w.status.Store(int32(WatchdogActive))
}

// disconnectSafe reports whether closing conn for exceeding its lifetime is
// safe. It is not when the bound identity's password has expired: the
// reconnect would be refused.
func (w *watchdogCoordinator) disconnectSafe(ctx context.Context, conn Connection) bool {
	if !w.cfg.WatchdogDisableIfPasswordExpired {
		return true
	}

	who, err := conn.WhoAmI(ctx)
	if err != nil || who == nil || who.DN == "" {
		return true
	}

	attrs, err := conn.ReadAttributes(ctx, who.DN, []string{attrPasswordExpiryComputed})
	if err != nil {
		return true
	}

	entry := &Entry{DN: who.DN, Attributes: attrs}
	expiry, never, err := parseFileTime(entry.GetAttributeValue(attrPasswordExpiryComputed))
	if err != nil || never {
		return true
	}

	if !w.clock.Now().Before(expiry) {
		tflog.SubsystemWarn(ctx, subsystemWatchdog, "Bound password has expired, max lifetime not enforced", map[string]any{
			"dn":      who.DN,
			"expired": expiry.Format(time.RFC3339),
		})
		return false
	}
	return true
}

// checkTimeouts runs the idle, lifetime and operation checks once. It is
// driven by the sweeper.
func (w *watchdogCoordinator) checkTimeouts(ctx context.Context, now time.Time) {
	if w.Status() != WatchdogActive {
		return
	}

	exceeded := func(since *atomic.Int64, limit time.Duration) bool {
		return limit > 0 && now.Sub(time.Unix(0, since.Load())) > limit
	}

	if w.usage.TryLock() {
		defer w.usage.Unlock()
		switch {
		case exceeded(&w.lastFinished, w.cfg.IdleTimeout):
			w.discard(ctx, nil, "idle_timeout")
		case w.lifetimeSafe.Load() && exceeded(&w.connectedAt, w.cfg.MaxLifetime):
			w.discard(ctx, nil, "max_lifetime")
		}
		return
	}

	if exceeded(&w.lastBegan, w.cfg.OperationTimeout) {
		w.discard(ctx, nil, "operation_timeout")
	}
}

// discard closes the held connection and moves to idle. With a non-nil
// expected connection, nothing happens unless it is still the one held.
func (w *watchdogCoordinator) discard(ctx context.Context, expected Connection, reason string) {
	w.replaceMu.Lock()
	conn := w.conn
	if conn == nil || (expected != nil && conn != expected) {
		w.replaceMu.Unlock()
		return
	}
	w.conn = nil
	w.status.CompareAndSwap(int32(WatchdogActive), int32(WatchdogIdle))
	w.replaceMu.Unlock()

	conn.Close()

	LogConnectionEvent(ctx, subsystemWatchdog, "connection_reclaimed", map[string]any{
		"reason": reason,
	})
}

func (w *watchdogCoordinator) close(ctx context.Context) error {
	w.replaceMu.Lock()
	conn := w.conn
	w.conn = nil
	w.status.Store(int32(WatchdogClosed))
	w.replaceMu.Unlock()

	if w.sweeper != nil {
		w.sweeper.unregister(w)
	}

	if conn == nil {
		return nil
	}
	tflog.SubsystemDebug(ctx, subsystemWatchdog, "Closing watched connection", nil)
	return conn.Close()
}
