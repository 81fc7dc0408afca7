// Package v1 defines the wire contract of the platform's chat and
// notification layer: the REST response envelope, the message and
// notification payloads, and the broker destinations.
//
// This package is intentionally stable and dependency-light. It mirrors the
// backend DTOs field for field so every client agrees on the shapes.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CodeOK is the backend's success code inside the response envelope.
const CodeOK = 1000

// Envelope is the REST response wrapper used by every backend endpoint.
type Envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Result  T      `json:"result,omitempty"`
}

// Timestamp wraps time.Time to accept the backend's zone-less ISO-8601
// serialization (java LocalDateTime) alongside RFC 3339.
type Timestamp struct {
	time.Time
}

const timestampLayout = "2006-01-02T15:04:05.999999999"

var timestampLayouts = []string{
	time.RFC3339Nano,
	timestampLayout,
	"2006-01-02 15:04:05",
}

// MarshalJSON emits the backend's zone-less layout so round-trips stay
// byte-compatible with what the other clients send.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(timestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp: %q", s)
}

// Message is a chat message as delivered by both the push and the REST path.
//
// IsCurrentUser is advisory only on the wire: receivers re-derive it from
// SenderID and must never trust the transported value.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	SenderInitial  string    `json:"senderInitial,omitempty"`
	IsCurrentUser  bool      `json:"isCurrentUser"`
	Content        string    `json:"content,omitempty"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      Timestamp `json:"createdAt,omitempty"`
}

// Validate performs structural validation for a Message.
func (m Message) Validate() error {
	if m.ID <= 0 {
		return errors.New("missing field: id")
	}
	if strings.TrimSpace(m.SenderID) == "" {
		return errors.New("missing field: senderId")
	}
	if m.Content == "" && m.ImageURL == "" {
		return errors.New("message carries neither content nor imageUrl")
	}
	return nil
}

// Conversation is one chat thread between the current user and a partner,
// optionally tied to a tour.
type Conversation struct {
	ID             int64     `json:"id"`
	PartnerID      string    `json:"partnerId,omitempty"`
	PartnerName    string    `json:"partnerName,omitempty"`
	PartnerInitial string    `json:"partnerInitial,omitempty"`
	TourID         int64     `json:"tourId,omitempty"`
	TourName       string    `json:"tourName,omitempty"`
	LastMessage    string    `json:"lastMessage,omitempty"`
	LastMessageAt  Timestamp `json:"lastMessageAt,omitempty"`
	UnreadCount    int64     `json:"unreadCount"`
	CreatedAt      Timestamp `json:"createdAt,omitempty"`
}

// NotificationType enumerates the backend's notification kinds.
type NotificationType string

// Notification types (wire-stable).
const (
	// Agent-facing.
	TypeNewBooking       NotificationType = "NEW_BOOKING"
	TypeBookingCancelled NotificationType = "BOOKING_CANCELLED"
	TypeNewReview        NotificationType = "NEW_REVIEW"
	TypeTourApproved     NotificationType = "TOUR_APPROVED"
	TypeTourRejected     NotificationType = "TOUR_REJECTED"
	TypeReportWarning    NotificationType = "REPORT_WARNING"

	// Customer-facing.
	TypeCheckinConfirmed NotificationType = "CHECKIN_CONFIRMED"
	TypeReviewReplied    NotificationType = "REVIEW_REPLIED"
	TypeTripReminder     NotificationType = "TRIP_REMINDER"
)

// Notification is one entry of a user's notification feed.
type Notification struct {
	ID            int64            `json:"id"`
	Type          NotificationType `json:"type,omitempty"`
	Title         string           `json:"title,omitempty"`
	Message       string           `json:"message,omitempty"`
	ReferenceID   int64            `json:"referenceId,omitempty"`
	ReferenceType string           `json:"referenceType,omitempty"`
	IsRead        bool             `json:"isRead"`
	CreatedAt     Timestamp        `json:"createdAt,omitempty"`
}

// SendMessageRequest is the REST body for sending a chat message.
type SendMessageRequest struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
}

// StartConversationRequest opens (or resumes) a conversation with an agent
// or about a tour. At least one of AgentID/TourID must be set.
type StartConversationRequest struct {
	AgentID        string `json:"agentId,omitempty"`
	TourID         int64  `json:"tourId,omitempty"`
	InitialMessage string `json:"initialMessage,omitempty"`
}

// ChatSendPayload is the body pushed to SendDestination. The REST send is
// the primary write path; this one is best-effort.
type ChatSendPayload struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
}

// Broker destinations.
const (
	// SendDestination is the application destination for push sends.
	SendDestination = "/app/chat.send"

	conversationTopicPrefix = "/topic/conversation/"
	notificationTopicPrefix = "/topic/notifications/"
	chatUpdatesTopicPrefix  = "/topic/chat-updates/"
)

// ConversationTopic returns the broadcast topic of one conversation.
func ConversationTopic(conversationID int64) string {
	return conversationTopicPrefix + strconv.FormatInt(conversationID, 10)
}

// NotificationTopic returns a user's notification broadcast topic.
func NotificationTopic(userID string) string {
	return notificationTopicPrefix + userID
}

// NotificationQueue returns the per-user direct queue. Older backend
// revisions deliver on this path instead of NotificationTopic; subscribers
// listen on both.
func NotificationQueue(userID string) string {
	return "/user/" + userID + "/queue/notifications"
}

// ChatUpdatesTopic nudges a user's clients to refresh chat unread state.
func ChatUpdatesTopic(userID string) string {
	return chatUpdatesTopicPrefix + userID
}

// ConversationIDFromTopic extracts the conversation id from a broadcast
// destination, reporting false for non-conversation destinations.
func ConversationIDFromTopic(destination string) (int64, bool) {
	raw, ok := strings.CutPrefix(destination, conversationTopicPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// IsNotificationDestination reports whether destination carries
// notification payloads (topic or legacy queue path).
func IsNotificationDestination(destination string) bool {
	if strings.HasPrefix(destination, notificationTopicPrefix) {
		return true
	}
	return strings.HasPrefix(destination, "/user/") &&
		strings.HasSuffix(destination, "/queue/notifications")
}
