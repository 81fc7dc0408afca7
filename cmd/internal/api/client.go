// Package api implements the REST client for the platform backend. Every
// endpoint answers with the envelope {code, message, result}; code 1000 is
// success. The push layer treats these endpoints as the source of truth
// during reconciliation.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	v1 "wayfarer/contracts/chat/v1"
)

const (
	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 8 << 20 // 8MiB
)

// TokenSource supplies the bearer credential for request authorization.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Error is a failed API call: a transport-level status, a backend envelope
// code, or both.
type Error struct {
	Status  int
	Code    int
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("api: %s (http %d, code %d)", msg, e.Status, e.Code)
}

// Client talks to the backend REST API.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	log    *slog.Logger
}

// NewClient validates baseURL and constructs a Client. tokens may be nil
// for endpoints that accept anonymous calls (none currently do).
func NewClient(baseURL string, tokens TokenSource, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base url: unsupported scheme %q", u.Scheme)
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
		tokens: tokens,
		log:    log,
	}, nil
}

// SetHTTPClient overrides the underlying HTTP client (tests, custom
// transports).
func (c *Client) SetHTTPClient(h *http.Client) {
	if h != nil {
		c.http = h
	}
}

// Conversations lists the current user's conversations with unread counts.
func (c *Client) Conversations(ctx context.Context) ([]v1.Conversation, error) {
	return call[[]v1.Conversation](ctx, c, http.MethodGet, "/chat/conversations", nil)
}

// Messages returns the full ordered message list of one conversation. This
// is the reconciliation source of truth for an open chat.
func (c *Client) Messages(ctx context.Context, conversationID int64) ([]v1.Message, error) {
	path := "/chat/conversations/" + strconv.FormatInt(conversationID, 10) + "/messages"
	return call[[]v1.Message](ctx, c, http.MethodGet, path, nil)
}

// StartConversation opens (or resumes) a conversation.
func (c *Client) StartConversation(ctx context.Context, req v1.StartConversationRequest) (v1.Conversation, error) {
	return call[v1.Conversation](ctx, c, http.MethodPost, "/chat/conversations", req)
}

// SendMessage posts a chat message and returns the created Message. This is
// the primary write path; push sends are best-effort extras.
func (c *Client) SendMessage(ctx context.Context, req v1.SendMessageRequest) (v1.Message, error) {
	return call[v1.Message](ctx, c, http.MethodPost, "/chat/messages", req)
}

// MarkConversationRead marks every message of a conversation as read.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID int64) error {
	path := "/chat/conversations/" + strconv.FormatInt(conversationID, 10) + "/read"
	_, err := call[struct{}](ctx, c, http.MethodPost, path, nil)
	return err
}

// ChatUnreadCount returns the user's total unread chat message count.
func (c *Client) ChatUnreadCount(ctx context.Context) (int64, error) {
	return call[int64](ctx, c, http.MethodGet, "/chat/unread-count", nil)
}

// Notifications lists the current user's notifications.
func (c *Client) Notifications(ctx context.Context) ([]v1.Notification, error) {
	return call[[]v1.Notification](ctx, c, http.MethodGet, "/notifications", nil)
}

// NotificationUnreadCount returns the unread notification count.
func (c *Client) NotificationUnreadCount(ctx context.Context) (int64, error) {
	return call[int64](ctx, c, http.MethodGet, "/notifications/unread-count", nil)
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	path := "/notifications/" + strconv.FormatInt(id, 10) + "/read"
	_, err := call[struct{}](ctx, c, http.MethodPut, path, nil)
	return err
}

// MarkAllNotificationsRead marks the whole feed as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := call[struct{}](ctx, c, http.MethodPut, "/notifications/read-all", nil)
	return err
}

// call performs one envelope request/response round-trip.
func call[T any](ctx context.Context, c *Client, method, path string, in any) (T, error) {
	var zero T

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return zero, fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return zero, fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return zero, fmt.Errorf("api: credentials: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	var env v1.Envelope[T]
	dec := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes))
	if err := dec.Decode(&env); err != nil {
		if res.StatusCode >= 400 {
			return zero, &Error{Status: res.StatusCode}
		}
		return zero, fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	if env.Code != v1.CodeOK || res.StatusCode >= 400 {
		return zero, &Error{Status: res.StatusCode, Code: env.Code, Message: env.Message}
	}
	return env.Result, nil
}

// IsStatus reports whether err is an API error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}
