package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"wayfarer/cmd/internal/stomp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticTokens struct {
	tok string
	err error
}

func (s staticTokens) Token(context.Context) (string, error) { return s.tok, s.err }

// fakeTransport records calls in order so teardown sequencing is checkable.
type fakeTransport struct {
	mu        sync.Mutex
	calls     []string
	handlers  map[string]stomp.Handler
	destByID  map[string]string
	nextID    int
	onFailure func(error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]stomp.Handler),
		destByID: make(map[string]string),
	}
}

func (f *fakeTransport) Subscribe(destination string, h stomp.Handler) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.handlers[id] = h
	f.destByID[id] = destination
	f.calls = append(f.calls, "subscribe "+destination)
	return id, nil
}

func (f *fakeTransport) Unsubscribe(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dest := f.destByID[id]
	delete(f.handlers, id)
	delete(f.destByID, id)
	f.calls = append(f.calls, "unsubscribe "+dest)
	return nil
}

func (f *fakeTransport) Send(destination, contentType string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send "+destination)
	return nil
}

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "close")
	return nil
}

func (f *fakeTransport) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// push delivers body to every handler subscribed to destination.
func (f *fakeTransport) push(destination string, body []byte) {
	f.mu.Lock()
	var hs []stomp.Handler
	for id, dest := range f.destByID {
		if dest == destination {
			hs = append(hs, f.handlers[id])
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(destination, body)
	}
}

// fakeDialer fails the first failCount dials, then hands out fresh
// fakeTransports. gate, when non-nil, blocks each dial until released.
type fakeDialer struct {
	mu        sync.Mutex
	dials     int
	failCount int
	gate      chan struct{}
	last      *fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, token string, onFailure func(error)) (Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= d.failCountNow() {
		return nil, fmt.Errorf("dial refused (attempt %d)", n)
	}
	tr := newFakeTransport()
	tr.onFailure = onFailure
	d.mu.Lock()
	d.last = tr
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDialer) failCountNow() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failCount
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastTransport() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
