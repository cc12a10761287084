package ldap

import (
	"container/list"
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/singleflight"
)

// CacheStats reports the caching layer's effectiveness.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	HardEntries int
	WeakEntries int
}

type cacheEntry struct {
	key     string
	value   any
	created time.Time
}

// weakRef is a reference to an evicted value that the garbage collector may
// reclaim once nothing else holds it.
type weakRef interface {
	get() (any, bool)
}

type weakPtr[T any] struct {
	p weak.Pointer[T]
}

func (w weakPtr[T]) get() (any, bool) {
	v := w.p.Value()
	if v == nil {
		return nil, false
	}
	return v, true
}

// makeWeakRef covers the pointer-shaped results. Other values are dropped on
// eviction instead of moving to the weak tier.
func makeWeakRef(v any) (weakRef, bool) {
	switch val := v.(type) {
	case *SearchResult:
		if val != nil {
			return weakPtr[SearchResult]{weak.Make(val)}, true
		}
	case *WhoAmIResult:
		if val != nil {
			return weakPtr[WhoAmIResult]{weak.Make(val)}, true
		}
	}
	return nil, false
}

type weakEntry struct {
	ref     weakRef
	created time.Time
}

// cachingLayer serves repeated identical reads and searches from memory.
// Any write clears everything before it is delegated.
type cachingLayer struct {
	proxy
	next    Connection
	maxSize int
	maxAge  time.Duration
	clock   Clock

	mu         sync.Mutex
	hard       map[string]*list.Element // values are *cacheEntry
	order      *list.List               // insertion order, oldest at the front
	weak       map[string]weakEntry
	generation uint64

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func newCachingLayer(next Connection, cfg *Config, clock Clock) *cachingLayer {
	l := &cachingLayer{
		next:    next,
		maxSize: cfg.CacheMaxSize,
		maxAge:  cfg.CacheMaxAge,
		clock:   clock,
		hard:    make(map[string]*list.Element),
		order:   list.New(),
		weak:    make(map[string]weakEntry),
	}
	l.proxy = proxy{interceptor: l}
	return l
}

func (l *cachingLayer) layerKind() layerKind { return layerCaching }

func (l *cachingLayer) Unwrap() Connection { return l.next }

func (l *cachingLayer) Intercept(ctx context.Context, call *Call) (any, error) {
	switch {
	case call.Op.IsWrite():
		l.invalidate(ctx, call.Op)
		return call.Apply(ctx, l.next)
	case !call.Op.IsNetwork(), call.Op.IsVoid():
		return call.Apply(ctx, l.next)
	}

	key, err := cacheKey(call)
	if err != nil {
		tflog.SubsystemDebug(ctx, subsystemCache, "Arguments not cacheable, delegating", map[string]any{
			"operation": call.Op.String(),
			"error":     err.Error(),
		})
		return call.Apply(ctx, l.next)
	}

	if v, ok := l.lookup(key); ok {
		l.hits.Add(1)
		tflog.SubsystemTrace(ctx, subsystemCache, "Cache hit", map[string]any{"operation": call.Op.String()})
		return v, nil
	}
	l.misses.Add(1)

	gen := l.currentGeneration()
	v, err, _ := l.group.Do(strconv.FormatUint(gen, 10)+"|"+key, func() (any, error) {
		v, err := call.Apply(ctx, l.next)
		if err == nil {
			l.store(key, v, gen)
		}
		return v, err
	})
	return v, err
}

// cacheKey identifies a call by operation and its JSON-encoded arguments.
func cacheKey(call *Call) (string, error) {
	b, err := json.Marshal(struct {
		Op   Operation `json:"op"`
		Args []any     `json:"args"`
	}{call.Op, call.Args})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (l *cachingLayer) currentGeneration() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

func (l *cachingLayer) lookup(key string) (any, bool) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.hard[key]; ok {
		e := el.Value.(*cacheEntry)
		if now.Sub(e.created) < l.maxAge {
			return e.value, true
		}
		l.order.Remove(el)
		delete(l.hard, key)
		return nil, false
	}

	if we, ok := l.weak[key]; ok {
		delete(l.weak, key)
		if v, alive := we.ref.get(); alive && now.Sub(we.created) < l.maxAge {
			l.insertLocked(&cacheEntry{key: key, value: v, created: we.created})
			return v, true
		}
	}
	return nil, false
}

// store records v unless a write has happened since the call began.
func (l *cachingLayer) store(key string, v any, gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.generation {
		return
	}
	delete(l.weak, key)
	l.insertLocked(&cacheEntry{key: key, value: v, created: l.clock.Now()})
}

func (l *cachingLayer) insertLocked(e *cacheEntry) {
	if el, ok := l.hard[e.key]; ok {
		l.order.Remove(el)
	}
	l.hard[e.key] = l.order.PushBack(e)

	for l.order.Len() > l.maxSize {
		oldest := l.order.Front()
		evicted := l.order.Remove(oldest).(*cacheEntry)
		delete(l.hard, evicted.key)
		l.evictions.Add(1)
		if ref, ok := makeWeakRef(evicted.value); ok {
			l.weak[evicted.key] = weakEntry{ref: ref, created: evicted.created}
		}
	}

	if len(l.weak) > l.maxSize {
		l.pruneWeakLocked()
	}
}

// pruneWeakLocked forgets weak entries whose values have been reclaimed.
func (l *cachingLayer) pruneWeakLocked() {
	for key, we := range l.weak {
		if _, alive := we.ref.get(); !alive {
			delete(l.weak, key)
		}
	}
}

func (l *cachingLayer) invalidate(ctx context.Context, op Operation) {
	l.mu.Lock()
	cleared := l.order.Len() + len(l.weak)
	l.generation++
	l.hard = make(map[string]*list.Element)
	l.order.Init()
	l.weak = make(map[string]weakEntry)
	l.mu.Unlock()

	if cleared > 0 {
		tflog.SubsystemDebug(ctx, subsystemCache, "Cache cleared by write", map[string]any{
			"operation": op.String(),
			"entries":   cleared,
		})
	}
}

// Stats returns the layer's counters and current tier sizes.
func (l *cachingLayer) Stats() CacheStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	live := 0
	for _, we := range l.weak {
		if _, alive := we.ref.get(); alive {
			live++
		}
	}

	return CacheStats{
		Hits:        l.hits.Load(),
		Misses:      l.misses.Load(),
		Evictions:   l.evictions.Load(),
		HardEntries: l.order.Len(),
		WeakEntries: live,
	}
}
