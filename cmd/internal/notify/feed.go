// Package notify exposes the client-facing notification feed: pushed
// entries merged with a periodic unread-count reconciliation.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wayfarer/cmd/internal/api"
	"wayfarer/cmd/internal/realtime"
	v1 "wayfarer/contracts/chat/v1"
)

// Default reconciliation cadence for the notification feed.
const (
	DefaultPollEvery   = 5 * time.Second
	DefaultPollTimeout = 10 * time.Second
)

// State is the feed lifecycle state.
type State int32

// Feed states.
const (
	StateIdle State = iota
	StateOpening
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Metrics counts reconciliation outcomes and dedup hits for the feed.
type Metrics interface {
	IncPolls(outcome string)
	IncDeduped()
}

type nopMetrics struct{}

func (nopMetrics) IncPolls(string) {}
func (nopMetrics) IncDeduped()     {}

// Config wires a Feed.
type Config struct {
	Manager *realtime.Manager
	Router  *realtime.Router
	API     *api.Client
	Users   realtime.UserSource

	Scheduler realtime.Scheduler
	Logger    *slog.Logger
	Metrics   Metrics // optional

	PollEvery   time.Duration // defaults to DefaultPollEvery
	PollTimeout time.Duration // defaults to DefaultPollTimeout
}

// Feed is the user's notification stream. Entries arrive pushed on two
// broker destinations (backend revisions disagree on which), so delivery
// dedups by notification id. The unread counter reconciles against REST on
// a fixed cadence; the REST value is authoritative in both directions.
type Feed struct {
	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	state      State
	items      []v1.Notification
	seen       map[int64]struct{}
	unread     int64
	onNotify   func(v1.Notification)
	onActivity func(int64)

	ticker   realtime.Ticker
	cancelUp func()
}

// NewFeed constructs a Feed.
func NewFeed(cfg Config) *Feed {
	if cfg.Scheduler == nil {
		cfg.Scheduler = realtime.NewScheduler()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = DefaultPollEvery
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Feed{cfg: cfg, log: log, seen: make(map[int64]struct{})}
}

// State returns the feed lifecycle state.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Open activates the feed. onNotify fires for every new pushed entry;
// onActivity fires when a reconciliation round observes the unread count
// rising. Like the chat poller, reconciliation runs regardless of push
// health.
func (f *Feed) Open(onNotify func(v1.Notification), onActivity func(int64)) error {
	f.mu.Lock()
	if f.state != StateIdle {
		st := f.state
		f.mu.Unlock()
		return fmt.Errorf("notify: open in state %s", st)
	}
	f.state = StateOpening
	f.onNotify = onNotify
	f.onActivity = onActivity
	f.mu.Unlock()

	f.cancelUp = f.cfg.Manager.OnReconnect(f.subscribeNow)
	f.cfg.Manager.Connect(f.subscribeNow, func(err error) {
		f.log.Warn("notify.push.unavailable", "err", err)
	})

	f.mu.Lock()
	if f.state == StateClosed {
		f.mu.Unlock()
		return nil
	}
	f.state = StateActive
	f.mu.Unlock()

	f.ticker = f.cfg.Scheduler.Every(f.cfg.PollEvery, f.pollOnce)
	go f.pollOnce()
	f.log.Info("notify.opened")
	return nil
}

// subscribeNow binds both delivery destinations. Older backend revisions
// push on the per-user queue, newer ones on the broadcast topic; listening
// on both costs one extra idle subscription and misses nothing.
func (f *Feed) subscribeNow() {
	f.mu.Lock()
	if f.state == StateClosed {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	uid := f.cfg.Users.CurrentUserID()
	if uid == "" {
		f.log.Warn("notify.sub.skipped", "reason", "no local user")
		return
	}
	reg := f.cfg.Manager.Registry()
	for _, topic := range []string{v1.NotificationTopic(uid), v1.NotificationQueue(uid)} {
		h := f.cfg.Router.NotificationHandler(f.deliver)
		if sub := reg.Subscribe(topic, h); sub != nil {
			sub.SetHandler(h)
		}
	}
}

// deliver handles one pushed notification. Both destinations may carry the
// same entry; the id set keeps it single.
func (f *Feed) deliver(n v1.Notification) {
	f.mu.Lock()
	if f.state == StateClosed {
		f.mu.Unlock()
		return
	}
	if _, dup := f.seen[n.ID]; dup {
		f.mu.Unlock()
		f.cfg.Metrics.IncDeduped()
		return
	}
	f.seen[n.ID] = struct{}{}
	f.items = append([]v1.Notification{n}, f.items...)
	if !n.IsRead {
		f.unread++
	}
	cb := f.onNotify
	f.mu.Unlock()

	if cb != nil {
		cb(n)
	}
}

// pollOnce reconciles the unread count against REST. Failures keep the
// previous value; a rising count fires onActivity once per observation.
func (f *Feed) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.PollTimeout)
	defer cancel()

	n, err := f.cfg.API.NotificationUnreadCount(ctx)
	if err != nil {
		f.cfg.Metrics.IncPolls("error")
		f.log.Debug("notify.poll.failed", "err", err)
		return
	}
	f.cfg.Metrics.IncPolls("ok")

	f.mu.Lock()
	if f.state == StateClosed || n == f.unread {
		f.mu.Unlock()
		return
	}
	rose := n > f.unread
	f.unread = n
	cb := f.onActivity
	f.mu.Unlock()

	if rose && cb != nil {
		cb(n)
	}
}

// Refresh replaces the local list with the REST one and recomputes the
// unread count from it.
func (f *Feed) Refresh(ctx context.Context) error {
	items, err := f.cfg.API.Notifications(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateClosed {
		return nil
	}
	f.items = items
	f.seen = make(map[int64]struct{}, len(items))
	f.unread = 0
	for _, n := range items {
		f.seen[n.ID] = struct{}{}
		if !n.IsRead {
			f.unread++
		}
	}
	return nil
}

// UnreadCount returns the last known unread count.
func (f *Feed) UnreadCount() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// List returns a copy of the known notifications, newest first.
func (f *Feed) List() []v1.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]v1.Notification, len(f.items))
	copy(out, f.items)
	return out
}

// MarkRead marks one notification as read on the backend and adjusts the
// local view optimistically.
func (f *Feed) MarkRead(ctx context.Context, id int64) error {
	if err := f.cfg.API.MarkNotificationRead(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	for i := range f.items {
		if f.items[i].ID == id && !f.items[i].IsRead {
			f.items[i].IsRead = true
			if f.unread > 0 {
				f.unread--
			}
			break
		}
	}
	f.mu.Unlock()
	return nil
}

// MarkAllRead marks the whole feed as read.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	if err := f.cfg.API.MarkAllNotificationsRead(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	for i := range f.items {
		f.items[i].IsRead = true
	}
	f.unread = 0
	f.mu.Unlock()
	return nil
}

// Close stops reconciliation, then drops both push subscriptions.
// Idempotent.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.state == StateClosed {
		f.mu.Unlock()
		return
	}
	f.state = StateClosed
	f.mu.Unlock()

	if f.ticker != nil {
		f.ticker.Stop()
	}
	if f.cancelUp != nil {
		f.cancelUp()
	}
	if uid := f.cfg.Users.CurrentUserID(); uid != "" {
		reg := f.cfg.Manager.Registry()
		reg.Unsubscribe(v1.NotificationTopic(uid))
		reg.Unsubscribe(v1.NotificationQueue(uid))
	}
	f.log.Info("notify.closed")
}
