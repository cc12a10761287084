package ldap

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// watchdogSweeper drives the timeout checks of every watchdog created by one
// factory from a single goroutine. The goroutine starts with the first
// registration and exits after a sweep that finds nothing registered.
type watchdogSweeper struct {
	ctx   context.Context
	clock Clock

	mu        sync.Mutex
	members   map[*watchdogCoordinator]struct{}
	frequency time.Duration
	running   bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

func newWatchdogSweeper(ctx context.Context, clock Clock) *watchdogSweeper {
	return &watchdogSweeper{
		ctx:     ctx,
		clock:   clock,
		members: make(map[*watchdogCoordinator]struct{}),
	}
}

// register adds w. The sweep runs at the smallest frequency requested by any
// member registered since the goroutine started.
func (s *watchdogSweeper) register(w *watchdogCoordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members[w] = struct{}{}

	if f := w.cfg.WatchdogSweepFrequency; f > 0 && (s.frequency == 0 || f < s.frequency) {
		s.frequency = f
	}
	if s.frequency == 0 {
		s.frequency = time.Second
	}

	if !s.running {
		s.running = true
		s.stop = make(chan struct{})
		stop := s.stop
		s.wg.Go(func() { s.run(stop) })
		tflog.SubsystemDebug(s.ctx, subsystemWatchdog, "Watchdog sweeper started", map[string]any{
			"frequency": s.frequency.String(),
		})
	}
}

func (s *watchdogSweeper) unregister(w *watchdogCoordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, w)
}

func (s *watchdogSweeper) run(stop <-chan struct{}) {
	for {
		s.mu.Lock()
		d := s.frequency
		s.mu.Unlock()
		if d <= 0 {
			d = time.Second
		}

		t := time.NewTimer(d)
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
		}

		if !s.sweep() {
			tflog.SubsystemDebug(s.ctx, subsystemWatchdog, "Watchdog sweeper stopped, no connections registered", nil)
			return
		}
	}
}

// sweep checks every member once. It returns false, and marks the sweeper
// stopped, when no members remain.
func (s *watchdogSweeper) sweep() bool {
	s.mu.Lock()
	members := slices.Collect(maps.Keys(s.members))
	s.mu.Unlock()

	now := s.clock.Now()
	for _, w := range members {
		w.checkTimeouts(s.ctx, now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.members) == 0 {
		s.running = false
		s.frequency = 0
		return false
	}
	return true
}

func (s *watchdogSweeper) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// shutdown stops the goroutine and waits for it to exit. Members stay
// registered; a later registration restarts the sweep.
func (s *watchdogSweeper) shutdown() {
	s.mu.Lock()
	if s.running {
		close(s.stop)
		s.running = false
		s.frequency = 0
	}
	s.mu.Unlock()
	s.wg.Wait()
}
