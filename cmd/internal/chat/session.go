// Package chat exposes the client-facing chat surface: an open
// conversation that merges pushed frames with REST reconciliation, and a
// watcher for the account-wide unread counter.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wayfarer/cmd/internal/api"
	"wayfarer/cmd/internal/realtime"
	v1 "wayfarer/contracts/chat/v1"
)

// Default reconciliation cadence for an open conversation.
const (
	DefaultPollEvery   = 3 * time.Second
	DefaultPollTimeout = 10 * time.Second
)

// State is the session lifecycle state.
type State int32

// Session states.
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

// Metrics counts reconciliation outcomes and dedup hits for the chat feed.
type Metrics interface {
	IncPolls(outcome string)
	IncDeduped()
}

type nopMetrics struct{}

func (nopMetrics) IncPolls(string) {}
func (nopMetrics) IncDeduped()     {}

// Config wires a Session.
type Config struct {
	Manager *realtime.Manager
	Router  *realtime.Router
	API     *api.Client

	Scheduler realtime.Scheduler // defaults to the Manager's wall clock
	Logger    *slog.Logger
	Metrics   Metrics // optional

	PollEvery   time.Duration // defaults to DefaultPollEvery
	PollTimeout time.Duration // defaults to DefaultPollTimeout
}

// Session is one open conversation. Messages arrive on two paths that may
// race, duplicate and reorder each other: pushed frames and the periodic
// full-list poll. The session merges both by message id, so consumers see
// each message exactly once regardless of which path won.
type Session struct {
	cfg  Config
	log  *slog.Logger
	conv int64

	mu        sync.Mutex
	state     State
	msgs      []v1.Message
	seen      map[int64]struct{}
	onMessage func(v1.Message)

	ticker   realtime.Ticker
	cancelUp func()
}

// NewSession constructs a Session for one conversation.
func NewSession(conversationID int64, cfg Config) *Session {
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
	return &Session{
		cfg:  cfg,
		log:  log.With("conversation_id", conversationID),
		conv: conversationID,
		seen: make(map[int64]struct{}),
	}
}

// State returns the session lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open activates the session: it subscribes to the conversation topic once
// a broker session exists and starts the reconciliation poller immediately.
// The poller does not wait for the push path; a conversation stays usable
// on REST alone when the socket is down.
func (s *Session) Open(onMessage func(v1.Message)) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("chat: open in state %s", st)
	}
	s.state = StateOpening
	s.onMessage = onMessage
	s.mu.Unlock()

	s.cancelUp = s.cfg.Manager.OnReconnect(s.subscribeNow)
	s.cfg.Manager.Connect(s.subscribeNow, func(err error) {
		s.log.Warn("chat.push.unavailable", "err", err)
	})

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateActive
	s.mu.Unlock()

	s.ticker = s.cfg.Scheduler.Every(s.cfg.PollEvery, s.pollOnce)
	go s.pollOnce()
	s.log.Info("chat.opened")
	return nil
}

// subscribeNow (re)binds the push subscription for this conversation. Safe
// to call repeatedly; the registry keeps one transport subscription per
// topic and only the callback is refreshed.
func (s *Session) subscribeNow() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	h := s.cfg.Router.ConversationHandler(s.deliver)
	topic := v1.ConversationTopic(s.conv)
	if sub := s.cfg.Manager.Registry().Subscribe(topic, h); sub != nil {
		sub.SetHandler(h)
	}
}

// deliver is the single funnel for both arrival paths. Duplicates are
// dropped by message id, frames for other conversations are discarded, and
// nothing is delivered after Close.
func (s *Session) deliver(m v1.Message) {
	if m.ConversationID == 0 {
		m.ConversationID = s.conv
	}
	if m.ConversationID != s.conv {
		s.log.Warn("chat.msg.misrouted", "got_conversation_id", m.ConversationID)
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[m.ID]; dup {
		s.mu.Unlock()
		s.cfg.Metrics.IncDeduped()
		return
	}
	s.seen[m.ID] = struct{}{}
	s.msgs = append(s.msgs, m)
	cb := s.onMessage
	s.mu.Unlock()

	if cb != nil {
		cb(m)
	}
}

// pollOnce reconciles against the REST message list. Failures are
// swallowed: the next tick or a pushed frame covers for a missed round.
func (s *Session) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PollTimeout)
	defer cancel()

	msgs, err := s.cfg.API.Messages(ctx, s.conv)
	if err != nil {
		s.cfg.Metrics.IncPolls("error")
		s.log.Debug("chat.poll.failed", "err", err)
		return
	}
	s.cfg.Metrics.IncPolls("ok")
	for _, m := range msgs {
		s.cfg.Router.EnrichMessage(&m)
		s.deliver(m)
	}
}

// Send posts the message over REST, the primary write path, and echoes the
// created message locally so the sender sees it without waiting for a
// pushed or polled copy.
func (s *Session) Send(ctx context.Context, content, imageURL string) (v1.Message, error) {
	m, err := s.cfg.API.SendMessage(ctx, v1.SendMessageRequest{
		ConversationID: s.conv,
		Content:        content,
		ImageURL:       imageURL,
	})
	if err != nil {
		return v1.Message{}, err
	}
	s.cfg.Router.EnrichMessage(&m)
	s.deliver(m)
	return m, nil
}

// SendViaPush pushes the message body to the broker's application
// destination. Best-effort: it reports whether the frame was written, and
// callers still Send over REST for durability.
func (s *Session) SendViaPush(content, imageURL string) bool {
	body, err := json.Marshal(v1.ChatSendPayload{
		ConversationID: s.conv,
		Content:        content,
		ImageURL:       imageURL,
	})
	if err != nil {
		return false
	}
	if err := s.cfg.Manager.Send(v1.SendDestination, "application/json", body); err != nil {
		s.log.Debug("chat.push.send.skipped", "err", err)
		return false
	}
	return true
}

// MarkRead marks the whole conversation as read on the backend.
func (s *Session) MarkRead(ctx context.Context) error {
	return s.cfg.API.MarkConversationRead(ctx, s.conv)
}

// Messages returns a copy of the delivered messages in arrival order.
func (s *Session) Messages() []v1.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Close stops the poller, then tears down the push subscription. The order
// matters: once Close returns, neither path delivers again. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.cancelUp != nil {
		s.cancelUp()
	}
	s.cfg.Manager.Registry().Unsubscribe(v1.ConversationTopic(s.conv))
	s.log.Info("chat.closed")
}
