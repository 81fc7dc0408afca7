package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestFromToken(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signedToken(t, jwt.MapClaims{
		"sub":  "user-7",
		"name": "Linh",
		"exp":  exp.Unix(),
	})

	id, err := FromToken(raw)
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if id.UserID != "user-7" || id.Name != "Linh" {
		t.Fatalf("identity=%+v", id)
	}
	if !id.ExpiresAt.Equal(exp) {
		t.Fatalf("expires=%v want %v", id.ExpiresAt, exp)
	}
	if id.Token != raw {
		t.Fatal("token not retained")
	}
}

func TestFromTokenStripsBearerPrefix(t *testing.T) {
	t.Parallel()

	raw := signedToken(t, jwt.MapClaims{"sub": "user-1"})
	id, err := FromToken("Bearer " + raw)
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if id.Token != raw {
		t.Fatalf("token=%q want prefix stripped", id.Token)
	}
}

func TestFromTokenUserIDClaimOverridesSubject(t *testing.T) {
	t.Parallel()

	raw := signedToken(t, jwt.MapClaims{"sub": "mail@example.com", "userId": "user-9"})
	id, err := FromToken(raw)
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if id.UserID != "user-9" {
		t.Fatalf("user id=%q want user-9", id.UserID)
	}
}

func TestFromTokenErrors(t *testing.T) {
	t.Parallel()

	if _, err := FromToken(""); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("empty: err=%v", err)
	}
	if _, err := FromToken("not.a.jwt"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("garbage: err=%v", err)
	}
	noSub := signedToken(t, jwt.MapClaims{"name": "nobody"})
	if _, err := FromToken(noSub); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("no subject: err=%v", err)
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if (Identity{ExpiresAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatal("future expiry reported expired")
	}
	if !(Identity{ExpiresAt: now.Add(-time.Minute)}).Expired(now) {
		t.Fatal("past expiry not reported")
	}
	if (Identity{}).Expired(now) {
		t.Fatal("zero expiry must never expire")
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Load(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("empty load: err=%v", err)
	}

	want := Identity{UserID: "u1", Token: "tok"}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || got.UserID != "u1" {
		t.Fatalf("load=(%+v,%v)", got, err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("cleared load: err=%v", err)
	}
}

func TestSQLiteStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := s.Load(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("empty load: err=%v", err)
	}

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	want := Identity{UserID: "u1", Name: "Linh", Token: "tok-1", ExpiresAt: exp}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.UserID != "u1" || got.Name != "Linh" || got.Token != "tok-1" {
		t.Fatalf("got=%+v", got)
	}
	if !got.ExpiresAt.Equal(exp) {
		t.Fatalf("expires=%v want %v", got.ExpiresAt, exp)
	}

	// Saving again upserts the single row.
	want.Token = "tok-2"
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil || got.Token != "tok-2" {
		t.Fatalf("after upsert=(%+v,%v)", got, err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("cleared load: err=%v", err)
	}
}

func TestProviderTokenAndUserID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	p := NewProvider(store, testLogger())

	if _, err := p.Token(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("empty token: err=%v", err)
	}
	if uid := p.CurrentUserID(); uid != "" {
		t.Fatalf("user id=%q want empty", uid)
	}

	raw := signedToken(t, jwt.MapClaims{"sub": "user-3", "exp": time.Now().Add(time.Hour).Unix()})
	if _, err := p.Login(ctx, raw); err != nil {
		t.Fatalf("login: %v", err)
	}

	tok, err := p.Token(ctx)
	if err != nil || tok != raw {
		t.Fatalf("token=(%q,%v)", tok, err)
	}
	if uid := p.CurrentUserID(); uid != "user-3" {
		t.Fatalf("user id=%q", uid)
	}

	if err := p.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := p.Token(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("post-logout token: err=%v", err)
	}
}

func TestProviderExpiredToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, Identity{
		UserID:    "u1",
		Token:     "stale",
		ExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	p := NewProvider(store, testLogger())
	if _, err := p.Token(ctx); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err=%v want ErrTokenExpired", err)
	}
	// Expiry blocks the handshake, not local ownership checks.
	if uid := p.CurrentUserID(); uid != "u1" {
		t.Fatalf("user id=%q", uid)
	}
}
