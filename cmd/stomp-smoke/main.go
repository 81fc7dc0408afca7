// Package main provides a CI-friendly smoke test against a live broker.
//
// It validates:
//   - websocket handshake + STOMP CONNECT with a bearer token
//   - SUBSCRIBE to a conversation topic
//   - push send to the application destination
//   - the pushed message fanning back out on the topic
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"wayfarer/cmd/internal/stomp"
	v1 "wayfarer/contracts/chat/v1"
)

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "Broker websocket URL")
		token   = flag.String("token", "", "Bearer token for the CONNECT frame")
		convID  = flag.Int64("conv", 1, "Conversation ID to subscribe to")
		text    = flag.String("text", "smoke test message", "Message text to push")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("missing -token")
	}
	if *convID <= 0 {
		fatalf("invalid -conv: %d", *convID)
	}

	root := context.Background()

	failed := make(chan error, 1)
	ctx, cancel := context.WithTimeout(root, *timeout)
	conn, err := stomp.Dial(ctx, stomp.DialConfig{
		URL:      *wsURL,
		Token:    *token,
		ClientID: fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		OnFailure: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})
	cancel()
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer closeConn(root, conn)

	if *verbose {
		fmt.Printf("connected: %s\n", *wsURL)
	}

	inbox := make(chan v1.Message, 64)
	topic := v1.ConversationTopic(*convID)
	subID, err := conn.Subscribe(topic, func(destination string, body []byte) {
		var m v1.Message
		if err := json.Unmarshal(body, &m); err != nil {
			fatalf("bad message payload on %s: %v", destination, err)
		}
		select {
		case inbox <- m:
		default:
		}
	})
	if err != nil {
		fatalf("subscribe %s: %v", topic, err)
	}
	if *verbose {
		fmt.Printf("subscribed: %s id=%s\n", topic, subID)
	}

	marker := fmt.Sprintf("%s [%d]", *text, time.Now().UnixNano())
	body, err := json.Marshal(v1.ChatSendPayload{
		ConversationID: *convID,
		Content:        marker,
	})
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	if err := conn.Send(v1.SendDestination, "application/json", body); err != nil {
		fatalf("send: %v", err)
	}

	mustReceive(root, inbox, failed, marker, *timeout)

	fmt.Printf("OK: conv_id=%d topic=%s\n", *convID, topic)
}

func mustReceive(parent context.Context, inbox <-chan v1.Message, failed <-chan error, marker string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for pushed echo: %v", ctx.Err())
		case err := <-failed:
			fatalf("session lost while waiting for echo: %v", err)
		case m := <-inbox:
			if m.Content == marker {
				return
			}
			// Other traffic on the topic is fine; keep waiting.
		}
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func closeConn(parent context.Context, conn *stomp.Conn) {
	ctx, cancel := context.WithTimeout(parent, 3*time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
