// Package realtime owns the client side of the push path: the shared broker
// connection, topic subscriptions, and routing of inbound frames. REST
// reconciliation in the consumer packages rides on the same Scheduler so
// tests can drive both with virtual time.
package realtime

import (
	"sync"
	"time"
)

// Scheduler abstracts timer creation so reconnect delays and
// reconciliation intervals can be advanced deterministically in tests.
type Scheduler interface {
	// AfterFunc arms a one-shot timer.
	AfterFunc(d time.Duration, fn func()) Timer
	// Every arms a periodic timer that fires until stopped.
	Every(d time.Duration, fn func()) Ticker
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop cancels the timer, reporting whether it was still pending.
	Stop() bool
}

// Ticker is a cancellable periodic timer.
type Ticker interface {
	Stop()
}

// NewScheduler returns the wall-clock Scheduler.
func NewScheduler() Scheduler { return sysScheduler{} }

type sysScheduler struct{}

func (sysScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return sysTimer{t: time.AfterFunc(d, fn)}
}

func (sysScheduler) Every(d time.Duration, fn func()) Ticker {
	t := time.NewTicker(d)
	k := &sysTicker{t: t, done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case <-k.done:
				return
			}
		}
	}()
	return k
}

type sysTimer struct{ t *time.Timer }

func (t sysTimer) Stop() bool { return t.t.Stop() }

type sysTicker struct {
	t    *time.Ticker
	done chan struct{}
	once sync.Once
}

func (k *sysTicker) Stop() {
	k.once.Do(func() {
		k.t.Stop()
		close(k.done)
	})
}
