package stomp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

// testBroker is a minimal in-process STOMP endpoint: CONNECT handshake,
// subscription bookkeeping, SEND capture, and test-driven MESSAGE/ERROR
// pushes.
type testBroker struct {
	t   *testing.T
	srv *httptest.Server

	// requireToken, when set, rejects CONNECT frames without the matching
	// bearer credential.
	requireToken string

	mu    sync.Mutex
	conns []*brokerSession
	sends []*Frame
}

type brokerSession struct {
	ws *websocket.Conn

	mu   sync.Mutex
	subs map[string]string // id -> destination
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()
	b := &testBroker{t: t}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBroker) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *testBroker) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	ctx := context.Background()
	f, err := readTestFrame(ctx, ws)
	if err != nil || f.Command != CommandConnect {
		_ = ws.Close(websocket.StatusProtocolError, "expected CONNECT")
		return
	}
	if b.requireToken != "" && f.Header["Authorization"] != "Bearer "+b.requireToken {
		writeTestFrame(ctx, ws, NewFrame(CommandError,
			map[string]string{HeaderMessage: "access denied"}, []byte("bad credentials")))
		_ = ws.Close(websocket.StatusNormalClosure, "rejected")
		return
	}
	writeTestFrame(ctx, ws, NewFrame(CommandConnected,
		map[string]string{"version": "1.2", "server": "test-broker"}, nil))

	s := &brokerSession{ws: ws, subs: make(map[string]string)}
	b.mu.Lock()
	b.conns = append(b.conns, s)
	b.mu.Unlock()

	for {
		f, err := readTestFrame(ctx, ws)
		if err != nil {
			return
		}
		switch f.Command {
		case CommandSubscribe:
			s.mu.Lock()
			s.subs[f.Header["id"]] = f.Header[HeaderDestination]
			s.mu.Unlock()
		case CommandUnsubscribe:
			s.mu.Lock()
			delete(s.subs, f.Header["id"])
			s.mu.Unlock()
		case CommandSend:
			b.mu.Lock()
			b.sends = append(b.sends, f)
			b.mu.Unlock()
		case CommandDisconnect:
			if rcpt := f.Header[HeaderReceipt]; rcpt != "" {
				writeTestFrame(ctx, ws, NewFrame(CommandReceipt,
					map[string]string{HeaderReceiptID: rcpt}, nil))
			}
			_ = ws.Close(websocket.StatusNormalClosure, "bye")
			return
		}
	}
}

// push delivers a MESSAGE to every session subscribed to destination.
func (b *testBroker) push(destination string, body []byte) {
	b.mu.Lock()
	conns := append([]*brokerSession(nil), b.conns...)
	b.mu.Unlock()

	ctx := context.Background()
	for _, s := range conns {
		s.mu.Lock()
		var ids []string
		for id, dst := range s.subs {
			if dst == destination {
				ids = append(ids, id)
			}
		}
		s.mu.Unlock()
		for _, id := range ids {
			writeTestFrame(ctx, s.ws, NewFrame(CommandMessage, map[string]string{
				HeaderSubscription: id,
				HeaderDestination:  destination,
				HeaderContentType:  "application/json",
			}, body))
		}
	}
}

// pushError sends an ERROR frame on every live session.
func (b *testBroker) pushError(msg string) {
	b.mu.Lock()
	conns := append([]*brokerSession(nil), b.conns...)
	b.mu.Unlock()
	for _, s := range conns {
		writeTestFrame(context.Background(), s.ws,
			NewFrame(CommandError, map[string]string{HeaderMessage: msg}, nil))
	}
}

func (b *testBroker) sentFrames() []*Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Frame(nil), b.sends...)
}

func (b *testBroker) subscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.conns {
		s.mu.Lock()
		n += len(s.subs)
		s.mu.Unlock()
	}
	return n
}

func readTestFrame(ctx context.Context, ws *websocket.Conn) (*Frame, error) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return nil, err
		}
		if IsHeartbeat(data) {
			continue
		}
		return Parse(data)
	}
}

func writeTestFrame(ctx context.Context, ws *websocket.Conn, f *Frame) {
	_ = ws.Write(ctx, websocket.MessageText, Marshal(f))
}
