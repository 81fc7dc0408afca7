package stomp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func dialTestConn(t *testing.T, b *testBroker, cfg DialConfig) *Conn {
	t.Helper()
	cfg.URL = b.url()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func TestDialHandshake(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	b.requireToken = "tok-123"

	dialTestConn(t, b, DialConfig{Token: "tok-123", ClientID: "c-1"})
}

func TestDialRejectedCredential(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	b.requireToken = "tok-123"

	failed := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, DialConfig{
		URL:       b.url(),
		Token:     "wrong",
		OnFailure: func(err error) { failed <- err },
	})
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	var berr *BrokerError
	if !errors.As(err, &berr) {
		t.Fatalf("err=%v want BrokerError", err)
	}
	if berr.Message != "access denied" {
		t.Fatalf("message=%q", berr.Message)
	}

	select {
	case err := <-failed:
		t.Fatalf("OnFailure fired for failed handshake: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDialRejectsBadScheme(t *testing.T) {
	t.Parallel()

	if _, err := Dial(context.Background(), DialConfig{URL: "http://example.com/ws"}); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestSubscribeDeliversMessages(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	c := dialTestConn(t, b, DialConfig{Token: "t"})

	got := make(chan string, 1)
	dests := make(chan string, 1)
	id, err := c.Subscribe("/topic/conversation/7", func(destination string, body []byte) {
		dests <- destination
		got <- string(body)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if id == "" {
		t.Fatal("empty subscription id")
	}

	waitFor(t, func() bool { return b.subscriptionCount() == 1 })
	b.push("/topic/conversation/7", []byte(`{"id":1}`))

	select {
	case body := <-got:
		if body != `{"id":1}` {
			t.Fatalf("body=%q", body)
		}
		if d := <-dests; d != "/topic/conversation/7" {
			t.Fatalf("destination=%q", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pushed message")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	c := dialTestConn(t, b, DialConfig{Token: "t"})

	got := make(chan []byte, 4)
	id, err := c.Subscribe("/topic/conversation/3", func(_ string, body []byte) { got <- body })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return b.subscriptionCount() == 1 })

	if err := c.Unsubscribe(id); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	waitFor(t, func() bool { return b.subscriptionCount() == 0 })

	b.push("/topic/conversation/3", []byte("late"))
	select {
	case body := <-got:
		t.Fatalf("delivery after unsubscribe: %q", body)
	case <-time.After(200 * time.Millisecond):
	}

	// Unknown ids are a no-op.
	if err := c.Unsubscribe("sub-bogus"); err != nil {
		t.Fatalf("unsubscribe unknown: %v", err)
	}
}

func TestSendReachesBroker(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	c := dialTestConn(t, b, DialConfig{Token: "t"})

	if err := c.Send("/app/chat.send", "application/json", []byte(`{"conversationId":1}`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool { return len(b.sentFrames()) == 1 })
	f := b.sentFrames()[0]
	if f.Header[HeaderDestination] != "/app/chat.send" {
		t.Fatalf("destination=%q", f.Header[HeaderDestination])
	}
	if f.Header[HeaderContentType] != "application/json" {
		t.Fatalf("content-type=%q", f.Header[HeaderContentType])
	}
	if string(f.Body) != `{"conversationId":1}` {
		t.Fatalf("body=%q", f.Body)
	}
}

func TestBrokerErrorFailsSessionOnce(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	failed := make(chan error, 2)
	dialTestConn(t, b, DialConfig{
		Token:     "t",
		OnFailure: func(err error) { failed <- err },
	})

	b.pushError("session torn down")

	select {
	case err := <-failed:
		var berr *BrokerError
		if !errors.As(err, &berr) {
			t.Fatalf("err=%v want BrokerError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFailure never fired")
	}

	select {
	case err := <-failed:
		t.Fatalf("OnFailure fired twice: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCloseSuppressesOnFailure(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	failed := make(chan error, 1)
	c := dialTestConn(t, b, DialConfig{
		Token:     "t",
		OnFailure: func(err error) { failed <- err },
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case err := <-failed:
		t.Fatalf("OnFailure fired after deliberate close: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	if _, err := c.Subscribe("/topic/conversation/1", func(string, []byte) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after close: err=%v want ErrClosed", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
