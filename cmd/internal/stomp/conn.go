package stomp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 20 // 1MiB

	acceptVersion = "1.2"

	// No heartbeats in either direction; liveness is covered by the REST
	// reconciliation layer above this one.
	heartBeatNone = "0,0"
)

// ErrClosed is returned for operations on a closed session.
var ErrClosed = errors.New("stomp: session closed")

// BrokerError is an ERROR frame surfaced by the broker.
type BrokerError struct {
	Message string
	Body    string
}

func (e *BrokerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stomp: broker error: %s: %s", e.Message, e.Body)
	}
	return fmt.Sprintf("stomp: broker error: %s", e.Message)
}

// Handler consumes the body of a MESSAGE frame for one subscription.
// Handlers run serially on the session's read loop.
type Handler func(destination string, body []byte)

// DialConfig carries connection parameters for Dial.
type DialConfig struct {
	// URL is the broker websocket endpoint (ws:// or wss://).
	URL string

	// Token is the bearer credential passed in the CONNECT frame's
	// Authorization header. The broker rejects anonymous sessions.
	Token string

	// ClientID identifies this client instance in the CONNECT frame.
	ClientID string

	Logger       *slog.Logger
	WriteTimeout time.Duration
	ReadLimit    int64

	// OnFailure is invoked at most once when the session dies
	// unexpectedly: a broker ERROR frame or a dead transport. It is never
	// invoked after a deliberate Close.
	OnFailure func(error)
}

type subEntry struct {
	destination string
	h           Handler
}

// Conn is one live STOMP session over a websocket.
//
// Writes are serialized; MESSAGE dispatch happens on a single read-loop
// goroutine, so handlers never run concurrently with each other.
type Conn struct {
	ws           *websocket.Conn
	log          *slog.Logger
	writeTimeout time.Duration
	onFailure    func(error)

	mu     sync.Mutex // guards subs + closed
	subs   map[string]subEntry
	closed bool

	wmu sync.Mutex // serializes websocket writes

	failOnce sync.Once
}

// Dial opens the websocket, performs the CONNECT/CONNECTED handshake and
// starts the read loop. A failed handshake leaves nothing behind.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("stomp: endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("stomp: endpoint: unsupported scheme %q", u.Scheme)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}

	ws, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("stomp: dial %s: %w", cfg.URL, err)
	}
	ws.SetReadLimit(readLimit)

	c := &Conn{
		ws:           ws,
		log:          log,
		writeTimeout: writeTimeout,
		onFailure:    cfg.OnFailure,
		subs:         make(map[string]subEntry),
	}

	connect := map[string]string{
		"accept-version": acceptVersion,
		"host":           u.Host,
		"heart-beat":     heartBeatNone,
	}
	if cfg.Token != "" {
		connect["Authorization"] = "Bearer " + cfg.Token
	}
	if cfg.ClientID != "" {
		connect["client-id"] = cfg.ClientID
	}
	if err := c.writeFrame(ctx, NewFrame(CommandConnect, connect, nil)); err != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "handshake failed")
		return nil, err
	}

	f, err := c.readFrame(ctx)
	if err != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "handshake failed")
		return nil, fmt.Errorf("stomp: handshake: %w", err)
	}
	switch f.Command {
	case CommandConnected:
		// Session negotiated.
	case CommandError:
		_ = ws.Close(websocket.StatusNormalClosure, "rejected")
		return nil, &BrokerError{Message: f.Header[HeaderMessage], Body: string(f.Body)}
	default:
		_ = ws.Close(websocket.StatusProtocolError, "unexpected frame")
		return nil, fmt.Errorf("stomp: handshake: unexpected %s frame", f.Command)
	}

	c.log.Debug("stomp.session.open", "endpoint", u.Host, "server", f.Header["server"])
	go c.readLoop()
	return c, nil
}

// Subscribe opens a broker subscription on destination and returns its id.
func (c *Conn) Subscribe(destination string, h Handler) (string, error) {
	if h == nil {
		return "", errors.New("stomp: nil handler")
	}
	id := newID("sub")

	// Register before SUBSCRIBE hits the wire so an immediate MESSAGE
	// cannot race past an empty routing table.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.subs[id] = subEntry{destination: destination, h: h}
	c.mu.Unlock()

	header := map[string]string{
		"id":              id,
		HeaderDestination: destination,
		"ack":             "auto",
	}
	if err := c.writeFrame(context.Background(), NewFrame(CommandSubscribe, header, nil)); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Unsubscribe tears down a subscription by id; unknown ids are a no-op.
func (c *Conn) Unsubscribe(id string) error {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.writeFrame(context.Background(), NewFrame(CommandUnsubscribe, map[string]string{"id": id}, nil))
}

// Send pushes a body to an application destination.
func (c *Conn) Send(destination, contentType string, body []byte) error {
	header := map[string]string{HeaderDestination: destination}
	if contentType != "" {
		header[HeaderContentType] = contentType
	}
	return c.writeFrame(context.Background(), NewFrame(CommandSend, header, body))
}

// Close sends a best-effort DISCONNECT and closes the websocket.
// Idempotent; OnFailure will not fire for a closed session.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[string]subEntry)
	c.mu.Unlock()

	// Best-effort goodbye: the broker may already be gone.
	_ = c.writeRaw(ctx, NewFrame(CommandDisconnect, map[string]string{HeaderReceipt: newID("rcpt")}, nil))
	_ = c.ws.Close(websocket.StatusNormalClosure, "client disconnect")
	c.log.Debug("stomp.session.closed")
	return nil
}

func (c *Conn) writeFrame(ctx context.Context, f *Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.writeRaw(ctx, f)
}

func (c *Conn) writeRaw(ctx context.Context, f *Frame) error {
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.Write(wctx, websocket.MessageText, Marshal(f)); err != nil {
		return fmt.Errorf("stomp: write %s: %w", f.Command, err)
	}
	return nil
}

// readFrame returns the next parseable frame, skipping heartbeats and
// dropping malformed payloads (logged, never fatal).
func (c *Conn) readFrame(ctx context.Context) (*Frame, error) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, err
		}
		if IsHeartbeat(data) {
			continue
		}
		f, err := Parse(data)
		if err != nil {
			c.log.Warn("stomp.frame.malformed", "err", err, "bytes", len(data))
			continue
		}
		return f, nil
	}
}

func (c *Conn) readLoop() {
	ctx := context.Background()
	for {
		f, err := c.readFrame(ctx)
		if err != nil {
			c.fail(err)
			return
		}
		switch f.Command {
		case CommandMessage:
			c.dispatch(f)
		case CommandReceipt:
			c.log.Debug("stomp.receipt", "receipt_id", f.Header[HeaderReceiptID])
		case CommandError:
			c.fail(&BrokerError{Message: f.Header[HeaderMessage], Body: string(f.Body)})
			return
		default:
			c.log.Debug("stomp.frame.ignored", "command", f.Command)
		}
	}
}

func (c *Conn) dispatch(f *Frame) {
	id := f.Header[HeaderSubscription]
	c.mu.Lock()
	e, ok := c.subs[id]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("stomp.message.unrouted", "subscription", id, "destination", f.Header[HeaderDestination])
		return
	}
	destination := f.Header[HeaderDestination]
	if destination == "" {
		destination = e.destination
	}
	e.h(destination, f.Body)
}

func (c *Conn) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		closed := c.closed
		c.closed = true
		c.subs = make(map[string]subEntry)
		c.mu.Unlock()

		_ = c.ws.Close(websocket.StatusNormalClosure, "session lost")
		if closed {
			return // deliberate Close racing the read loop
		}
		c.log.Warn("stomp.session.lost", "err", err)
		if c.onFailure != nil {
			c.onFailure(err)
		}
	})
}
