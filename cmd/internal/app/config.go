package app

import (
	"os"
	"path/filepath"
	"time"

	"wayfarer/cmd/internal/chat"
	"wayfarer/cmd/internal/notify"
	"wayfarer/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	APIBaseURL string
	WSURL      string
	StatePath  string

	LogLevel  string
	LogFormat string
	LogColor  bool

	HTTPTimeout time.Duration

	DialTimeout time.Duration
	RetryDelay  time.Duration
	MaxAttempts int

	ChatPollEvery       time.Duration
	NotifyPollEvery     time.Duration
	ChatUnreadPollEvery time.Duration

	// MetricsAddr, when non-empty, serves /metrics and /healthz there.
	MetricsAddr string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		APIBaseURL: EnvString("WAYFARER_API_URL", "http://localhost:8080/api/v1"),
		WSURL:      EnvString("WAYFARER_WS_URL", "ws://localhost:8080/ws"),
		StatePath:  EnvString("WAYFARER_STATE_PATH", defaultStatePath()),

		LogLevel:  EnvString("WAYFARER_LOG_LEVEL", "info"),
		LogFormat: EnvString("WAYFARER_LOG_FORMAT", "json"),
		LogColor:  EnvBool("WAYFARER_LOG_COLOR", true),

		HTTPTimeout: EnvDuration("WAYFARER_HTTP_TIMEOUT", 15*time.Second),

		DialTimeout: EnvDuration("WAYFARER_DIAL_TIMEOUT", realtime.DefaultDialTimeout),
		RetryDelay:  EnvDuration("WAYFARER_RETRY_DELAY", realtime.DefaultRetryDelay),
		MaxAttempts: EnvInt("WAYFARER_MAX_ATTEMPTS", realtime.DefaultMaxAttempts),

		ChatPollEvery:       EnvDuration("WAYFARER_CHAT_POLL_EVERY", chat.DefaultPollEvery),
		NotifyPollEvery:     EnvDuration("WAYFARER_NOTIFY_POLL_EVERY", notify.DefaultPollEvery),
		ChatUnreadPollEvery: EnvDuration("WAYFARER_CHAT_UNREAD_POLL_EVERY", chat.DefaultUnreadPollEvery),

		MetricsAddr: EnvString("WAYFARER_METRICS_ADDR", ""),
	}
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "wayfarer.db"
	}
	return filepath.Join(dir, "wayfarer", "state.db")
}
