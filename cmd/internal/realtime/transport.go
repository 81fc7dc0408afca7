package realtime

import (
	"context"
	"log/slog"

	"wayfarer/cmd/internal/stomp"
)

// Transport is one live push session. *stomp.Conn is the production
// implementation; tests substitute fakes.
type Transport interface {
	Subscribe(destination string, h stomp.Handler) (string, error)
	Unsubscribe(id string) error
	Send(destination, contentType string, body []byte) error
	Close(ctx context.Context) error
}

// Dialer opens Transports. onFailure must be invoked at most once per
// returned Transport and never after a deliberate Close.
type Dialer interface {
	Dial(ctx context.Context, token string, onFailure func(error)) (Transport, error)
}

// StompDialer dials the broker websocket endpoint and negotiates a STOMP
// session carrying the bearer credential.
type StompDialer struct {
	// URL is the broker websocket endpoint.
	URL string
	// ClientID identifies this client instance to the broker.
	ClientID string
	Log      *slog.Logger
}

func (d StompDialer) Dial(ctx context.Context, token string, onFailure func(error)) (Transport, error) {
	return stomp.Dial(ctx, stomp.DialConfig{
		URL:       d.URL,
		Token:     token,
		ClientID:  d.ClientID,
		Logger:    d.Log,
		OnFailure: onFailure,
	})
}
