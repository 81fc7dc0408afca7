package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"wayfarer/cmd/internal/api"
	"wayfarer/cmd/internal/identity"
	"wayfarer/cmd/internal/metrics"
	"wayfarer/cmd/internal/realtime"
)

// App bundles the wired client layers behind the CLI commands.
type App struct {
	cfg Config
	log Logger

	store   *identity.SQLiteStore
	ids     *identity.Provider
	api     *api.Client
	metrics *metrics.Metrics
	manager *realtime.Manager
	router  *realtime.Router
}

// New wires an App from config.
func New(cfg Config, log Logger) (*App, error) {
	store, err := identity.OpenSQLiteStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	ids := identity.NewProvider(store, log)

	client, err := api.NewClient(cfg.APIBaseURL, ids, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	client.SetHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout})

	m := metrics.New()

	manager := realtime.NewManager(realtime.ManagerConfig{
		Dialer: realtime.StompDialer{
			URL:      cfg.WSURL,
			ClientID: uuid.NewString(),
			Log:      log,
		},
		Tokens:      ids,
		Logger:      log,
		Metrics:     m,
		RetryDelay:  cfg.RetryDelay,
		MaxAttempts: cfg.MaxAttempts,
		DialTimeout: cfg.DialTimeout,
	})

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		ids:     ids,
		api:     client,
		metrics: m,
		manager: manager,
		router:  realtime.NewRouter(log, ids, m),
	}, nil
}

// Close releases the App's resources.
func (a *App) Close() {
	a.manager.Disconnect()
	_ = a.store.Close()
}

// Run is the CLI entrypoint used by cmd/wayfarer.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(args []string) error {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

	if len(args) == 0 {
		return errors.New(usage)
	}

	a, err := New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		go a.serveMetrics(ctx)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.cmdLogin(ctx, rest)
	case "logout":
		return a.cmdLogout(ctx)
	case "whoami":
		return a.cmdWhoami(ctx)
	case "conversations":
		return a.cmdConversations(ctx)
	case "chat":
		return a.cmdChat(ctx, rest)
	case "notify":
		return a.cmdNotify(ctx)
	case "send":
		return a.cmdSend(ctx, rest)
	case "status":
		return a.cmdStatus(ctx)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

const usage = `usage: wayfarer <command>

commands:
  login <token>        store a bearer token and derive the local identity
  logout               clear the stored credential
  whoami               show the stored identity
  conversations        list conversations with unread counts
  chat <id>            open a conversation; stdin lines are sent as messages
  notify               stream the notification feed
  send <id> <text>     send one message and exit
  status               connect and report connection health`

// serveMetrics exposes /metrics and /healthz for long-running commands.
func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	a.log.Info("metrics.listening", "addr", a.cfg.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Warn("metrics.server.stopped", "err", err)
	}
}

// connect brings the shared session up, or reports why it cannot.
func (a *App) connect(ctx context.Context) error {
	done := make(chan error, 1)
	a.manager.Connect(
		func() { done <- nil },
		func(err error) { done <- err },
	)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
