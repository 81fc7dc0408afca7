package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("WAYFARER_TEST_STR", "  hello  ")
	if got := EnvString("WAYFARER_TEST_STR", "def"); got != "hello" {
		t.Fatalf("EnvString()=%q want hello", got)
	}
	if got := EnvString("WAYFARER_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString() missing=%q want def", got)
	}
}

func TestEnvInt(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{in: "7", want: 7},
		{in: "0", want: 42},
		{in: "-3", want: 42},
		{in: "nope", want: 42},
		{in: "", want: 42},
	}

	for _, tc := range cases {
		t.Setenv("WAYFARER_TEST_INT", tc.in)
		if got := EnvInt("WAYFARER_TEST_INT", 42); got != tc.want {
			t.Fatalf("EnvInt(%q)=%d want=%d", tc.in, got, tc.want)
		}
	}
}

func TestEnvDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{in: "3s", want: 3 * time.Second},
		{in: "250ms", want: 250 * time.Millisecond},
		{in: "-1s", want: time.Minute},
		{in: "soon", want: time.Minute},
		{in: "", want: time.Minute},
	}

	for _, tc := range cases {
		t.Setenv("WAYFARER_TEST_DUR", tc.in)
		if got := EnvDuration("WAYFARER_TEST_DUR", time.Minute); got != tc.want {
			t.Fatalf("EnvDuration(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	if cfg.APIBaseURL == "" || cfg.WSURL == "" {
		t.Fatalf("empty endpoint defaults: %+v", cfg)
	}
	if cfg.MaxAttempts <= 0 || cfg.RetryDelay <= 0 {
		t.Fatalf("bad reconnect defaults: %+v", cfg)
	}
	if cfg.ChatPollEvery <= 0 || cfg.NotifyPollEvery <= 0 {
		t.Fatalf("bad poll defaults: %+v", cfg)
	}
}
