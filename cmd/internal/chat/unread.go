package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wayfarer/cmd/internal/api"
	"wayfarer/cmd/internal/realtime"
	v1 "wayfarer/contracts/chat/v1"
)

// DefaultUnreadPollEvery is the cadence of the account-wide unread poll.
const DefaultUnreadPollEvery = 10 * time.Second

// UnreadConfig wires an UnreadWatcher.
type UnreadConfig struct {
	Manager *realtime.Manager
	API     *api.Client
	Users   realtime.UserSource

	Scheduler realtime.Scheduler
	Logger    *slog.Logger
	Metrics   Metrics // optional

	PollEvery   time.Duration // defaults to DefaultUnreadPollEvery
	PollTimeout time.Duration // defaults to DefaultPollTimeout
}

// UnreadWatcher tracks the user's total unread chat message count. It polls
// on a slow cadence and also listens on the per-user chat-updates topic,
// which the backend nudges after any write, so badge updates feel instant
// while staying correct without the socket.
type UnreadWatcher struct {
	cfg UnreadConfig
	log *slog.Logger

	mu       sync.Mutex
	closed   bool
	count    int64
	onChange func(int64)

	ticker   realtime.Ticker
	cancelUp func()
}

// WatchUnread starts a watcher. onChange fires whenever the count moves,
// including down to zero.
func WatchUnread(cfg UnreadConfig, onChange func(int64)) *UnreadWatcher {
	if cfg.Scheduler == nil {
		cfg.Scheduler = realtime.NewScheduler()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = DefaultUnreadPollEvery
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	w := &UnreadWatcher{cfg: cfg, log: log, onChange: onChange}

	w.cancelUp = cfg.Manager.OnReconnect(w.subscribeNow)
	cfg.Manager.Connect(w.subscribeNow, func(err error) {
		w.log.Debug("chat.unread.push.unavailable", "err", err)
	})
	w.ticker = cfg.Scheduler.Every(cfg.PollEvery, w.Refresh)
	go w.Refresh()
	return w
}

func (w *UnreadWatcher) subscribeNow() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed || w.cfg.Users == nil {
		return
	}
	uid := w.cfg.Users.CurrentUserID()
	if uid == "" {
		return
	}
	// Payload content is irrelevant; any frame on this topic means "go
	// re-read the count".
	h := func(string, []byte) { go w.Refresh() }
	topic := v1.ChatUpdatesTopic(uid)
	if sub := w.cfg.Manager.Registry().Subscribe(topic, h); sub != nil {
		sub.SetHandler(h)
	}
}

// Count returns the last observed unread count.
func (w *UnreadWatcher) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Refresh re-reads the count now. Failures keep the previous value.
func (w *UnreadWatcher) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.PollTimeout)
	defer cancel()

	n, err := w.cfg.API.ChatUnreadCount(ctx)
	if err != nil {
		w.cfg.Metrics.IncPolls("error")
		w.log.Debug("chat.unread.poll.failed", "err", err)
		return
	}
	w.cfg.Metrics.IncPolls("ok")

	w.mu.Lock()
	if w.closed || n == w.count {
		w.mu.Unlock()
		return
	}
	w.count = n
	cb := w.onChange
	w.mu.Unlock()

	if cb != nil {
		cb(n)
	}
}

// Close stops the poller and drops the nudge subscription. Idempotent.
func (w *UnreadWatcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	if w.ticker != nil {
		w.ticker.Stop()
	}
	if w.cancelUp != nil {
		w.cancelUp()
	}
	if w.cfg.Users != nil {
		if uid := w.cfg.Users.CurrentUserID(); uid != "" {
			w.cfg.Manager.Registry().Unsubscribe(v1.ChatUpdatesTopic(uid))
		}
	}
}
