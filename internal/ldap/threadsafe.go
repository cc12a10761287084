package ldap

import (
	"context"
	"sync"
)

// threadSafetyLayer allows one network operation at a time through the chain
// below it. Untagged calls such as Close and Config bypass the lock.
type threadSafetyLayer struct {
	proxy
	next Connection
	mu   sync.Mutex
}

func newThreadSafetyLayer(next Connection) *threadSafetyLayer {
	l := &threadSafetyLayer{next: next}
	l.proxy = proxy{interceptor: l}
	return l
}

func (l *threadSafetyLayer) layerKind() layerKind { return layerThreadSafety }

func (l *threadSafetyLayer) Unwrap() Connection { return l.next }

func (l *threadSafetyLayer) Intercept(ctx context.Context, call *Call) (any, error) {
	if !call.Op.IsNetwork() {
		return call.Apply(ctx, l.next)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return call.Apply(ctx, l.next)
}
