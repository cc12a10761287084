package ldap

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// StatsBean holds monotonic usage counters. One exists per handle and one per
// factory; neither is ever reset.
type StatsBean struct {
	createdAt time.Time

	reads       atomic.Int64
	writes      atomic.Int64
	searches    atomic.Int64
	operations  atomic.Int64
	binds       atomic.Int64
	unavailable atomic.Int64
	connections atomic.Int64

	// unix nanoseconds, 0 when the event never happened
	lastRead        atomic.Int64
	lastWrite       atomic.Int64
	lastSearch      atomic.Int64
	lastOperation   atomic.Int64
	lastBind        atomic.Int64
	lastUnavailable atomic.Int64
	lastConnection  atomic.Int64
}

func newStatsBean(now time.Time) *StatsBean {
	return &StatsBean{createdAt: now}
}

func (s *StatsBean) recordOperation(op Operation, now time.Time) {
	ts := now.UnixNano()
	s.operations.Add(1)
	s.lastOperation.Store(ts)

	switch op.Capability() {
	case CapabilityRead:
		s.reads.Add(1)
		s.lastRead.Store(ts)
	case CapabilityWrite:
		s.writes.Add(1)
		s.lastWrite.Store(ts)
	case CapabilitySearch:
		s.searches.Add(1)
		s.lastSearch.Store(ts)
	}
}

func (s *StatsBean) recordBind(now time.Time) {
	s.binds.Add(1)
	s.lastBind.Store(now.UnixNano())
}

func (s *StatsBean) recordConnection(now time.Time) {
	s.connections.Add(1)
	s.lastConnection.Store(now.UnixNano())
}

func (s *StatsBean) recordUnavailable(now time.Time) {
	s.unavailable.Add(1)
	s.lastUnavailable.Store(now.UnixNano())
}

// Statistics is a point-in-time copy of a StatsBean.
type Statistics struct {
	CreatedAt time.Time

	Reads       int64
	Writes      int64
	Searches    int64
	Operations  int64
	Binds       int64
	Unavailable int64
	Connections int64

	LastRead        time.Time
	LastWrite       time.Time
	LastSearch      time.Time
	LastOperation   time.Time
	LastBind        time.Time
	LastUnavailable time.Time
	LastConnection  time.Time
}

func unixNanoTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Snapshot copies the current counters.
func (s *StatsBean) Snapshot() Statistics {
	return Statistics{
		CreatedAt:       s.createdAt,
		Reads:           s.reads.Load(),
		Writes:          s.writes.Load(),
		Searches:        s.searches.Load(),
		Operations:      s.operations.Load(),
		Binds:           s.binds.Load(),
		Unavailable:     s.unavailable.Load(),
		Connections:     s.connections.Load(),
		LastRead:        unixNanoTime(s.lastRead.Load()),
		LastWrite:       unixNanoTime(s.lastWrite.Load()),
		LastSearch:      unixNanoTime(s.lastSearch.Load()),
		LastOperation:   unixNanoTime(s.lastOperation.Load()),
		LastBind:        unixNanoTime(s.lastBind.Load()),
		LastUnavailable: unixNanoTime(s.lastUnavailable.Load()),
		LastConnection:  unixNanoTime(s.lastConnection.Load()),
	}
}

// Map renders the statistics with snake_case keys. Timestamps are RFC 3339
// strings, empty when the event never happened.
func (s Statistics) Map() map[string]any {
	ts := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339Nano)
	}
	return map[string]any{
		"created_at":       ts(s.CreatedAt),
		"reads":            s.Reads,
		"writes":           s.Writes,
		"searches":         s.Searches,
		"operations":       s.Operations,
		"binds":            s.Binds,
		"unavailable":      s.Unavailable,
		"connections":      s.Connections,
		"last_read":        ts(s.LastRead),
		"last_write":       ts(s.LastWrite),
		"last_search":      ts(s.LastSearch),
		"last_operation":   ts(s.LastOperation),
		"last_bind":        ts(s.LastBind),
		"last_unavailable": ts(s.LastUnavailable),
		"last_connection":  ts(s.LastConnection),
	}
}

// statisticsLayer counts every network call into the handle's bean and the
// factory-wide bean. It never changes a call's outcome.
type statisticsLayer struct {
	proxy
	next    Connection
	local   *StatsBean
	global  *StatsBean
	clock   Clock
	metrics *clientMetrics
}

func newStatisticsLayer(next Connection, local, global *StatsBean, clock Clock, metrics *clientMetrics) *statisticsLayer {
	l := &statisticsLayer{
		next:    next,
		local:   local,
		global:  global,
		clock:   clock,
		metrics: metrics,
	}
	l.proxy = proxy{interceptor: l}
	return l
}

func (l *statisticsLayer) layerKind() layerKind { return layerStatistics }

func (l *statisticsLayer) Unwrap() Connection { return l.next }

func (l *statisticsLayer) Intercept(ctx context.Context, call *Call) (any, error) {
	if !call.Op.IsNetwork() {
		return call.Apply(ctx, l.next)
	}

	start := l.clock.Now()
	l.local.recordOperation(call.Op, start)
	l.global.recordOperation(call.Op, start)

	v, err := call.Apply(ctx, l.next)

	l.metrics.record(ctx, call.Op, l.clock.Now().Sub(start), err)

	if errors.Is(err, ErrUnavailable) {
		now := l.clock.Now()
		l.local.recordUnavailable(now)
		l.global.recordUnavailable(now)
	}
	return v, err
}
