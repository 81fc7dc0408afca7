package realtime

import (
	"encoding/json"
	"log/slog"

	"wayfarer/cmd/internal/stomp"
	v1 "wayfarer/contracts/chat/v1"
)

// UserSource reports the locally authenticated user's id. Ownership of
// inbound chat messages is derived from it, never from the payload.
type UserSource interface {
	CurrentUserID() string
}

// StaticUser is a fixed-id UserSource, mostly for tests and tooling.
type StaticUser string

func (u StaticUser) CurrentUserID() string { return string(u) }

// RouterMetrics counts routed and dropped frames.
type RouterMetrics interface {
	IncFramesRouted(kind string)
	IncFramesDropped()
}

type nopRouterMetrics struct{}

func (nopRouterMetrics) IncFramesRouted(string) {}
func (nopRouterMetrics) IncFramesDropped()      {}

// Router turns raw frames into typed payloads for consumers. Malformed
// payloads are logged and dropped; they never crash the session and never
// reach a consumer half-parsed.
type Router struct {
	log     *slog.Logger
	users   UserSource
	metrics RouterMetrics
}

// NewRouter constructs a Router. A nil users source classifies every
// message as not-mine; a nil metrics sink is replaced by a no-op.
func NewRouter(log *slog.Logger, users UserSource, metrics RouterMetrics) *Router {
	if users == nil {
		users = StaticUser("")
	}
	if metrics == nil {
		metrics = nopRouterMetrics{}
	}
	return &Router{log: log, users: users, metrics: metrics}
}

// EnrichMessage stamps the ownership flag from the local user identity,
// overwriting whatever the wire carried. Both the push and the
// reconciliation path run through here so a message classifies identically
// regardless of how it arrived.
func (r *Router) EnrichMessage(m *v1.Message) {
	uid := r.users.CurrentUserID()
	m.IsCurrentUser = m.SenderID != "" && uid != "" && m.SenderID == uid
}

// ConversationHandler adapts a typed chat consumer to a frame handler.
func (r *Router) ConversationHandler(deliver func(v1.Message)) stomp.Handler {
	return func(destination string, body []byte) {
		var m v1.Message
		if err := json.Unmarshal(body, &m); err != nil {
			r.metrics.IncFramesDropped()
			r.log.Warn("route.chat.malformed", "destination", destination, "err", err)
			return
		}
		r.EnrichMessage(&m)
		r.metrics.IncFramesRouted("chat")
		deliver(m)
	}
}

// NotificationHandler adapts a typed notification consumer to a frame
// handler.
func (r *Router) NotificationHandler(deliver func(v1.Notification)) stomp.Handler {
	return func(destination string, body []byte) {
		var n v1.Notification
		if err := json.Unmarshal(body, &n); err != nil {
			r.metrics.IncFramesDropped()
			r.log.Warn("route.notification.malformed", "destination", destination, "err", err)
			return
		}
		r.metrics.IncFramesRouted("notification")
		deliver(n)
	}
}
