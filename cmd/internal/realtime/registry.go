package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"wayfarer/cmd/internal/stomp"
)

// Subscription is a live interest in one topic. The handler lives behind an
// indirection cell: SetHandler swaps the callback in O(1) without touching
// the transport subscription, so consumers with churning callbacks never
// resubscribe.
//
// A nil *Subscription is a valid no-op handle (returned when no live
// session exists).
type Subscription struct {
	topic string
	id    string
	h     atomic.Pointer[stomp.Handler]
}

// Topic returns the subscribed destination.
func (s *Subscription) Topic() string {
	if s == nil {
		return ""
	}
	return s.topic
}

// SetHandler replaces the delivery callback for subsequent frames.
func (s *Subscription) SetHandler(h stomp.Handler) {
	if s == nil || h == nil {
		return
	}
	s.h.Store(&h)
}

func (s *Subscription) deliver(destination string, body []byte) {
	if h := s.h.Load(); h != nil {
		(*h)(destination, body)
	}
}

// Registry maps topics to their single live Subscription. Subscribing is a
// network round-trip, so repeat requests for the same topic return the
// existing handle instead of opening a duplicate: one transport
// subscription per topic, always.
type Registry struct {
	m   *Manager
	log *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

func newRegistry(m *Manager, log *slog.Logger) *Registry {
	return &Registry{m: m, log: log, subs: make(map[string]*Subscription)}
}

// Subscribe opens (or reuses) the subscription for topic. Without a live
// session it logs and returns nil, a no-op handle. When the topic is
// already subscribed the existing handle is returned and h is ignored;
// use SetHandler to swap callbacks.
func (r *Registry) Subscribe(topic string, h stomp.Handler) *Subscription {
	if topic == "" || h == nil {
		r.log.Warn("sub.rejected", "topic", topic, "reason", "empty topic or nil handler")
		return nil
	}
	tr := r.m.transport()
	if tr == nil {
		r.log.Warn("sub.skipped", "topic", topic, "reason", "no live session")
		return nil
	}

	r.mu.Lock()
	if s, ok := r.subs[topic]; ok {
		r.mu.Unlock()
		return s
	}
	s := &Subscription{topic: topic}
	s.h.Store(&h)
	id, err := tr.Subscribe(topic, s.deliver)
	if err != nil {
		r.mu.Unlock()
		r.log.Warn("sub.failed", "topic", topic, "err", err)
		return nil
	}
	s.id = id
	r.subs[topic] = s
	r.mu.Unlock()

	r.log.Info("sub.opened", "topic", topic, "id", id)
	return s
}

// Unsubscribe tears down the subscription for topic; no-op when absent.
func (r *Registry) Unsubscribe(topic string) {
	r.mu.Lock()
	s := r.subs[topic]
	delete(r.subs, topic)
	r.mu.Unlock()
	if s == nil {
		return
	}
	if tr := r.m.transport(); tr != nil {
		if err := tr.Unsubscribe(s.id); err != nil {
			r.log.Debug("sub.close.failed", "topic", topic, "err", err)
		}
	}
	r.log.Info("sub.closed", "topic", topic)
}

// UnsubscribeAll tears down every subscription (full teardown path).
func (r *Registry) UnsubscribeAll() {
	tr := r.m.transport()
	if tr == nil {
		r.reset()
		return
	}
	r.drain(tr)
}

// Len reports the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// drain unsubscribes everything against an explicit transport; used during
// teardown when the manager has already detached the session.
func (r *Registry) drain(tr Transport) {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*Subscription)
	r.mu.Unlock()
	for topic, s := range subs {
		if err := tr.Unsubscribe(s.id); err != nil {
			r.log.Debug("sub.close.failed", "topic", topic, "err", err)
		}
	}
}

// reset forgets every subscription without transport calls; used when the
// session died and the handles are already worthless.
func (r *Registry) reset() {
	r.mu.Lock()
	n := len(r.subs)
	r.subs = make(map[string]*Subscription)
	r.mu.Unlock()
	if n > 0 {
		r.log.Warn("sub.invalidated", "count", n)
	}
}
