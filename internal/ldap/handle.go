package ldap

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// HandleState is the lifecycle state of a Handle.
type HandleState int32

const (
	HandleNew HandleState = iota
	HandleOpen
	HandleClosed
)

func (s HandleState) String() string {
	switch s {
	case HandleNew:
		return "new"
	case HandleOpen:
		return "open"
	case HandleClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle is the Connection returned by Factory.NewConnection. It is the
// outermost layer and is safe for concurrent use whenever the layers below it
// are; with thread safety enabled every network call is serialized.
//
// After Close every operation fails with ErrIllegalState. Config still
// answers and IsConnected reports false.
type Handle struct {
	proxy
	id        string
	factory   *Factory
	next      Connection
	cfg       *Config
	stats     *StatsBean
	cache     *cachingLayer
	createdAt time.Time
	state     atomic.Int32
}

func newHandle(f *Factory, next Connection, cfg *Config, stats *StatsBean, cache *cachingLayer) *Handle {
	h := &Handle{
		id:        uuid.NewString(),
		factory:   f,
		next:      next,
		cfg:       cfg,
		stats:     stats,
		cache:     cache,
		createdAt: f.clock.Now(),
	}
	h.proxy = proxy{interceptor: h}
	h.state.Store(int32(HandleOpen))
	return h
}

func (h *Handle) layerKind() layerKind { return layerHandle }

func (h *Handle) Unwrap() Connection { return h.next }

// ID uniquely identifies the handle within its factory.
func (h *Handle) ID() string { return h.id }

func (h *Handle) State() HandleState {
	return HandleState(h.state.Load())
}

func (h *Handle) Intercept(ctx context.Context, call *Call) (any, error) {
	switch call.Op {
	case OpClose:
		return nil, h.close(ctx)
	case OpConfig:
		return h.cfg, nil
	case OpErrorIsRetryable:
		return call.Apply(ctx, h.next)
	case OpIsConnected:
		if h.State() != HandleOpen {
			return false, nil
		}
		return call.Apply(ctx, h.next)
	}

	if h.State() != HandleOpen {
		return nil, NewIllegalStateError("connection handle " + h.id + " is closed")
	}
	return call.Apply(WithLogging(ctx), h.next)
}

func (h *Handle) close(ctx context.Context) error {
	if !h.state.CompareAndSwap(int32(HandleOpen), int32(HandleClosed)) {
		return nil
	}
	h.factory.unregister(h)

	err := h.next.Close()
	tflog.SubsystemDebug(WithLogging(ctx), subsystemLDAP, "Connection handle closed", map[string]any{
		"id":       h.id,
		"lifetime": h.factory.clock.Now().Sub(h.createdAt).String(),
	})
	return err
}

// Statistics returns this handle's counters. They stay zero when statistics
// are disabled.
func (h *Handle) Statistics() Statistics {
	return h.stats.Snapshot()
}

// CacheStats reports the caching layer's counters and whether caching is
// enabled for this handle.
func (h *Handle) CacheStats() (CacheStats, bool) {
	if h.cache == nil {
		return CacheStats{}, false
	}
	return h.cache.Stats(), true
}
