package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Connection defaults. Retry uses a fixed delay rather than backoff: the
// attempt ceiling already bounds the worst case to ~15s.
const (
	DefaultRetryDelay  = 3 * time.Second
	DefaultMaxAttempts = 5
	DefaultDialTimeout = 10 * time.Second

	closeTimeout = 3 * time.Second
)

// Public, stable errors for callers.
var (
	// ErrNoCredentials means no bearer token is available. Fatal and
	// immediate: retrying an anonymous connect cannot succeed.
	ErrNoCredentials = errors.New("realtime: no authentication credential")
	// ErrConnectFailed is the terminal error after the retry ceiling.
	ErrConnectFailed = errors.New("realtime: connect failed")
	// ErrNotConnected is returned for push operations without a session.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrDisconnected resolves connect waiters cancelled by Disconnect.
	ErrDisconnected = errors.New("realtime: disconnected")
)

// State is the connection lifecycle state.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TokenSource supplies the bearer credential for the connect handshake.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ManagerMetrics receives connection lifecycle counts. Implementations
// must be safe for concurrent use.
type ManagerMetrics interface {
	IncConnectAttempts()
	IncConnectFailures()
	IncSessionsLost()
}

type nopManagerMetrics struct{}

func (nopManagerMetrics) IncConnectAttempts() {}
func (nopManagerMetrics) IncConnectFailures() {}
func (nopManagerMetrics) IncSessionsLost()    {}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Dialer Dialer
	Tokens TokenSource

	Scheduler Scheduler     // defaults to NewScheduler()
	Logger    *slog.Logger  // defaults to a JSON logger on stdout
	Metrics   ManagerMetrics // optional

	RetryDelay  time.Duration // defaults to DefaultRetryDelay
	MaxAttempts int           // defaults to DefaultMaxAttempts
	DialTimeout time.Duration // defaults to DefaultDialTimeout
}

type waiter struct {
	onUp  func()
	onErr func(error)
}

// Manager owns the single shared broker session for the process: connect,
// bounded reconnect, teardown. Every consumer routes through the same
// instance; none opens a second transport.
type Manager struct {
	cfg ManagerConfig
	log *slog.Logger
	reg *Registry

	mu       sync.Mutex
	state    State
	tr       Transport
	attempts int
	retry    Timer
	gen      int // session generation; results from stale attempts are ignored
	waiters  []waiter
	upHooks  map[int]func()
	upSeq    int
}

// NewManager constructs a Manager and its Registry.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewScheduler()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopManagerMetrics{}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	m := &Manager{cfg: cfg, log: cfg.Logger, upHooks: make(map[int]func())}
	m.reg = newRegistry(m, cfg.Logger)
	return m
}

// Registry returns the subscription registry bound to this connection.
func (m *Manager) Registry() *Registry { return m.reg }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether a live session exists. Pure query.
func (m *Manager) IsConnected() bool { return m.State() == StateConnected }

// Status is a point-in-time connection snapshot.
type Status struct {
	State         State
	Attempts      int
	Subscriptions int
}

// Status returns a snapshot of connection health.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{State: m.state, Attempts: m.attempts}
	m.mu.Unlock()
	st.Subscriptions = m.reg.Len()
	return st
}

// OnReconnect registers fn to run after every session establishment and
// returns a cancel func. Consumers use it to restore subscriptions after a
// dropped session.
func (m *Manager) OnReconnect(fn func()) (cancel func()) {
	m.mu.Lock()
	m.upSeq++
	id := m.upSeq
	m.upHooks[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.upHooks, id)
		m.mu.Unlock()
	}
}

// Connect ensures a live session. Already connected: onConnected runs
// immediately. Already connecting: the callbacks join the pending attempt.
// Otherwise a fresh attempt starts; transport failures retry on a fixed
// delay until the attempt ceiling, then onError fires exactly once.
//
// A missing credential fails synchronously through onError with
// ErrNoCredentials and arms no timer.
func (m *Manager) Connect(onConnected func(), onError func(error)) {
	if onConnected == nil {
		onConnected = func() {}
	}
	if onError == nil {
		onError = func(error) {}
	}

	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		onConnected()
		return
	case StateConnecting:
		m.waiters = append(m.waiters, waiter{onUp: onConnected, onErr: onError})
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	token, err := m.cfg.Tokens.Token(context.Background())
	if err == nil && token == "" {
		err = ErrNoCredentials
	}
	if err != nil {
		m.log.Warn("conn.credentials.missing", "err", err)
		onError(err)
		return
	}

	m.mu.Lock()
	// Re-check: a concurrent Connect may have won the race.
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		onConnected()
		return
	case StateConnecting:
		m.waiters = append(m.waiters, waiter{onUp: onConnected, onErr: onError})
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.waiters = append(m.waiters, waiter{onUp: onConnected, onErr: onError})
	m.mu.Unlock()

	go m.attempt(gen, token)
}

func (m *Manager) attempt(gen int, token string) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attemptNo := m.attempts
	m.mu.Unlock()

	m.cfg.Metrics.IncConnectAttempts()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	tr, err := m.cfg.Dialer.Dial(ctx, token, func(err error) { m.sessionLost(gen, err) })
	cancel()

	if err == nil {
		m.mu.Lock()
		if m.gen != gen || m.state != StateConnecting {
			m.mu.Unlock()
			// Lost a race with Disconnect; do not leak the session.
			cctx, ccancel := context.WithTimeout(context.Background(), closeTimeout)
			_ = tr.Close(cctx)
			ccancel()
			return
		}
		m.state = StateConnected
		m.tr = tr
		m.attempts = 0
		ws := m.takeWaitersLocked()
		hooks := make([]func(), 0, len(m.upHooks))
		for _, fn := range m.upHooks {
			hooks = append(hooks, fn)
		}
		m.mu.Unlock()

		m.log.Info("conn.established", "attempt", attemptNo)
		for _, w := range ws {
			w.onUp()
		}
		for _, fn := range hooks {
			fn()
		}
		return
	}

	m.cfg.Metrics.IncConnectFailures()
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	if m.attempts < m.cfg.MaxAttempts {
		m.log.Warn("conn.retry",
			"attempt", m.attempts,
			"max_attempts", m.cfg.MaxAttempts,
			"delay", m.cfg.RetryDelay,
			"err", err)
		m.retry = m.cfg.Scheduler.AfterFunc(m.cfg.RetryDelay, func() { m.attempt(gen, token) })
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	attempts := m.attempts
	ws := m.takeWaitersLocked()
	m.mu.Unlock()

	m.log.Error("conn.failed", "attempts", attempts, "err", err)
	terr := fmt.Errorf("%w after %d attempts: %w", ErrConnectFailed, attempts, err)
	for _, w := range ws {
		w.onErr(terr)
	}
}

// sessionLost handles an established session dying underneath us. The dead
// subscriptions are discarded and a fresh bounded reconnect starts with a
// re-read credential.
func (m *Manager) sessionLost(gen int, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.cfg.Metrics.IncSessionsLost()
	m.tr = nil
	m.state = StateConnecting
	m.attempts = 0
	m.gen++
	ngen := m.gen
	m.mu.Unlock()

	m.reg.reset()
	m.log.Warn("conn.lost", "err", cause)

	token, err := m.cfg.Tokens.Token(context.Background())
	if err == nil && token == "" {
		err = ErrNoCredentials
	}
	if err != nil {
		m.mu.Lock()
		if m.gen == ngen {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		m.log.Warn("conn.credentials.missing", "err", err)
		return
	}
	go m.attempt(ngen, token)
}

// Disconnect drains every subscription, closes the transport and resets to
// Disconnected. Pending connect waiters resolve with ErrDisconnected. Safe
// to call in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	tr := m.tr
	m.tr = nil
	ws := m.takeWaitersLocked()
	m.state = StateDisconnected
	m.attempts = 0
	m.mu.Unlock()

	// Unsubscribe before closing so a later Connect cannot observe stale
	// handles on a half-dead session.
	if tr != nil {
		m.reg.drain(tr)
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		_ = tr.Close(ctx)
		cancel()
	} else {
		m.reg.reset()
	}

	for _, w := range ws {
		w.onErr(ErrDisconnected)
	}
	m.log.Info("conn.closed")
}

// Send pushes a body to an application destination over the live session.
func (m *Manager) Send(destination, contentType string, body []byte) error {
	tr := m.transport()
	if tr == nil {
		return ErrNotConnected
	}
	return tr.Send(destination, contentType, body)
}

func (m *Manager) transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.tr
}

func (m *Manager) takeWaitersLocked() []waiter {
	ws := m.waiters
	m.waiters = nil
	return ws
}
