package realtime

import (
	"sync"
	"time"
)

// ManualScheduler is a Scheduler whose timers fire only when the test asks
// them to. It keeps retry and reconciliation behavior testable without
// sleeping through real delays.
type ManualScheduler struct {
	mu      sync.Mutex
	timers  []*manualTimer
	tickers []*manualTicker
}

// NewManualScheduler constructs an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc arms a virtual one-shot timer; it never fires on its own.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &manualTimer{d: d, fn: fn, pending: true}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

// Every arms a virtual periodic timer; Tick fires it.
func (s *ManualScheduler) Every(d time.Duration, fn func()) Ticker {
	k := &manualTicker{d: d, fn: fn, active: true}
	s.mu.Lock()
	s.tickers = append(s.tickers, k)
	s.mu.Unlock()
	return k
}

// FireTimers runs every timer that was pending when it was called and
// reports how many fired. Callbacks may arm new timers; those stay pending
// for a later call.
func (s *ManualScheduler) FireTimers() int {
	s.mu.Lock()
	due := make([]*manualTimer, 0, len(s.timers))
	for _, t := range s.timers {
		if t.take() {
			due = append(due, t)
		}
	}
	s.timers = nil
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// Tick fires every active periodic timer once.
func (s *ManualScheduler) Tick() {
	s.mu.Lock()
	active := make([]*manualTicker, 0, len(s.tickers))
	kept := s.tickers[:0]
	for _, k := range s.tickers {
		if k.isActive() {
			active = append(active, k)
			kept = append(kept, k)
		}
	}
	s.tickers = kept
	s.mu.Unlock()

	for _, k := range active {
		k.fn()
	}
}

// PendingTimers reports how many one-shot timers are armed.
func (s *ManualScheduler) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if t.isPending() {
			n++
		}
	}
	return n
}

// ActiveTickers reports how many periodic timers are running.
func (s *ManualScheduler) ActiveTickers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.tickers {
		if k.isActive() {
			n++
		}
	}
	return n
}

type manualTimer struct {
	d  time.Duration
	fn func()

	mu      sync.Mutex
	pending bool
}

func (t *manualTimer) Stop() bool {
	return t.take()
}

func (t *manualTimer) take() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.pending
	t.pending = false
	return was
}

func (t *manualTimer) isPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

type manualTicker struct {
	d  time.Duration
	fn func()

	mu     sync.Mutex
	active bool
}

func (k *manualTicker) Stop() {
	k.mu.Lock()
	k.active = false
	k.mu.Unlock()
}

func (k *manualTicker) isActive() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active
}
