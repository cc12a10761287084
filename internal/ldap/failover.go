package ldap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// FailState is the failover coordinator's view of its active server.
type FailState int

const (
	FailStateNew     FailState = iota // no connection opened on the active slot yet
	FailStateOkay                     // the active slot holds a working connection
	FailStateSeeking                  // walking the slot list for a replacement
	FailStateFailed                   // the active slot is broken and no replacement was found
)

func (s FailState) String() string {
	switch s {
	case FailStateNew:
		return "new"
	case FailStateOkay:
		return "okay"
	case FailStateSeeking:
		return "seeking"
	case FailStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// serverSlot is one configured server and the connection open to it, if any.
type serverSlot struct {
	url  string
	cfg  *Config
	conn Connection
}

// failoverCoordinator multiplexes calls over an ordered list of servers. The
// first slot is the primary; others are used only while it is broken and for
// at most FailBackTime after the last failure.
//
// mu is held while dialling and while sleeping between passes, so concurrent
// callers queue behind a failover in progress.
type failoverCoordinator struct {
	proxy
	cfg    *Config
	dial   DialFunc
	clock  Clock
	lkg    *lastKnownGoodCache
	lkgKey uint64

	mu          sync.Mutex
	slots       []*serverSlot
	active      int
	state       FailState
	lastFailure time.Time
	lastErr     error
	closed      bool
}

func newFailoverCoordinator(ctx context.Context, cfg *Config, dial DialFunc, clock Clock, lkg *lastKnownGoodCache) (*failoverCoordinator, error) {
	if len(cfg.URLs) == 0 {
		return nil, NewConnectionError("failover requires at least one server URL", false, nil)
	}

	f := &failoverCoordinator{
		cfg:    cfg,
		dial:   dial,
		clock:  clock,
		lkg:    lkg,
		lkgKey: urlListKey(cfg.URLs),
		slots:  make([]*serverSlot, len(cfg.URLs)),
	}
	f.proxy = proxy{interceptor: f}

	for i, u := range cfg.URLs {
		f.slots[i] = &serverSlot{url: u, cfg: cfg.ForURL(u)}
	}

	if cfg.FailoverUseLastKnownGood && lkg != nil {
		if hint, ok := lkg.get(f.lkgKey, clock.Now(), cfg.FailBackTime); ok && hint.index > 0 && hint.index < len(f.slots) {
			f.active = hint.index
			f.lastFailure = hint.recorded
			tflog.SubsystemDebug(ctx, subsystemFailover, "Starting on last known good server", map[string]any{
				"url":   f.slots[hint.index].url,
				"index": hint.index,
			})
		}
	}

	if _, err := f.currentProvider(ctx); err != nil {
		f.closeAll()
		return nil, err
	}
	return f, nil
}

func (f *failoverCoordinator) layerKind() layerKind { return layerFailover }

// Unwrap returns the connection on the active slot, or nil.
func (f *failoverCoordinator) Unwrap() Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[f.active].conn
}

// State returns the current fail state and the active slot's URL.
func (f *failoverCoordinator) State() (FailState, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.slots[f.active].url
}

func (f *failoverCoordinator) Intercept(ctx context.Context, call *Call) (any, error) {
	switch call.Op {
	case OpClose:
		f.closeAll()
		return nil, nil
	case OpIsConnected:
		return f.isConnected(), nil
	case OpConfig:
		return f.cfg, nil
	case OpErrorIsRetryable:
		err, _ := call.Args[0].(error)
		return IsRetryableError(err), nil
	}

	budget := len(f.slots) * f.cfg.RetryCount
	var lastErr error

	for attempt := 0; attempt < budget; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, NewUnavailableError(fmt.Sprintf("%s cancelled", call.Op), err)
		}

		conn, err := f.currentProvider(ctx)
		if err != nil {
			return nil, err
		}

		v, err := call.Apply(ctx, conn)
		if err == nil {
			return v, nil
		}
		if !conn.ErrorIsRetryable(err) {
			return v, err
		}

		lastErr = err
		tflog.SubsystemDebug(ctx, subsystemFailover, "Retryable failure, reporting server broken", map[string]any{
			"operation": call.Op.String(),
			"attempt":   attempt + 1,
			"budget":    budget,
			"error":     err.Error(),
		})
		f.reportBrokenProvider(ctx, conn, err)
	}

	LogConnectionEvent(ctx, subsystemFailover, "failover_exhausted", map[string]any{
		"operation": call.Op.String(),
		"attempts":  budget,
	})
	return nil, NewUnavailableError(fmt.Sprintf("%s failed after %d attempts", call.Op, budget), lastErr)
}

// currentProvider returns a working connection, connecting, failing back or
// failing over as needed.
func (f *failoverCoordinator) currentProvider(ctx context.Context) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, NewIllegalStateError("failover coordinator is closed")
	}

	f.failbackCheckLocked(ctx)

	for {
		switch f.state {
		case FailStateOkay:
			if conn := f.slots[f.active].conn; conn != nil {
				return conn, nil
			}
			f.state = FailStateNew

		case FailStateNew:
			conn, err := f.connectLocked(ctx, f.active)
			if err == nil {
				f.state = FailStateOkay
				return conn, nil
			}
			if !IsRetryableError(err) {
				return nil, err
			}
			f.markFailedLocked(err)

		case FailStateFailed:
			return f.currentServerIsBrokenLocked(ctx)

		default:
			return nil, NewIllegalStateError("failover coordinator in state " + f.state.String())
		}
	}
}

// failbackCheckLocked abandons a secondary once FailBackTime has passed since
// the last failure. The primary is not probed first; if it is still down the
// next connect fails over again.
func (f *failoverCoordinator) failbackCheckLocked(ctx context.Context) {
	if f.active == 0 || f.state != FailStateOkay {
		return
	}
	if f.clock.Now().Sub(f.lastFailure) <= f.cfg.FailBackTime {
		return
	}

	LogConnectionEvent(ctx, subsystemFailover, "failback", map[string]any{
		"from": f.slots[f.active].url,
		"to":   f.slots[0].url,
	})

	f.dropLocked(f.active)
	f.active = 0
	f.state = FailStateNew
}

// currentServerIsBrokenLocked tries every other slot once, starting after the
// active one, and finally the active slot itself. Wrapping back to the first
// slot waits FailoverPassDelay.
func (f *failoverCoordinator) currentServerIsBrokenLocked(ctx context.Context) (Connection, error) {
	f.state = FailStateSeeking
	n := len(f.slots)
	from := f.active
	lastErr := f.lastErr

	for i := 1; i <= n; i++ {
		idx := (from + i) % n

		if idx == 0 && n > 1 {
			if err := f.sleep(ctx, f.cfg.FailoverPassDelay); err != nil {
				f.markFailedLocked(err)
				return nil, NewUnavailableError("failover interrupted", err)
			}
		}

		conn, err := f.connectLocked(ctx, idx)
		if err != nil {
			lastErr = err
			continue
		}

		f.active = idx
		f.state = FailStateOkay
		if idx != 0 {
			f.lkg.record(f.lkgKey, idx, f.clock.Now())
		} else {
			f.lkg.forget(f.lkgKey)
		}

		LogConnectionEvent(ctx, subsystemFailover, "failover_rotated", map[string]any{
			"from": f.slots[from].url,
			"to":   f.slots[idx].url,
		})
		return conn, nil
	}

	f.markFailedLocked(lastErr)
	LogConnectionEvent(ctx, subsystemFailover, "failover_exhausted", map[string]any{
		"servers": n,
	})
	return nil, NewUnavailableError(fmt.Sprintf("all %d LDAP servers failed", n), lastErr)
}

// reportBrokenProvider marks the active slot failed if conn is still the
// connection it holds. Reports about connections that have since been
// replaced are ignored.
func (f *failoverCoordinator) reportBrokenProvider(ctx context.Context, conn Connection, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != FailStateOkay || f.slots[f.active].conn != conn {
		return
	}

	LogConnectionEvent(ctx, subsystemFailover, "connection_lost", map[string]any{
		"url":   f.slots[f.active].url,
		"error": err.Error(),
	})
	f.markFailedLocked(err)
}

func (f *failoverCoordinator) markFailedLocked(err error) {
	f.dropLocked(f.active)
	f.state = FailStateFailed
	f.lastFailure = f.clock.Now()
	f.lastErr = err
}

func (f *failoverCoordinator) connectLocked(ctx context.Context, idx int) (Connection, error) {
	slot := f.slots[idx]
	f.dropLocked(idx)

	conn, err := f.dial(ctx, slot.cfg)
	if err != nil {
		tflog.SubsystemDebug(ctx, subsystemFailover, "Server connect failed", map[string]any{
			"url":       slot.url,
			"index":     idx,
			"retryable": IsRetryableError(err),
			"error":     err.Error(),
		})
		return nil, err
	}

	slot.conn = conn
	return conn, nil
}

func (f *failoverCoordinator) dropLocked(idx int) {
	if conn := f.slots[idx].conn; conn != nil {
		conn.Close()
		f.slots[idx].conn = nil
	}
}

func (f *failoverCoordinator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *failoverCoordinator) isConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.state != FailStateOkay {
		return false
	}
	conn := f.slots[f.active].conn
	return conn != nil && conn.IsConnected()
}

func (f *failoverCoordinator) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for i := range f.slots {
		f.dropLocked(i)
	}
}
