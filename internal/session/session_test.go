package session

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCheckCSRF(t *testing.T) {
	s := &Session{CSRFToken: "abc123"}
	if err := CheckCSRF(s, "abc123"); err != nil {
		t.Fatalf("matching token: %v", err)
	}
	for _, tok := range []string{"", "abc124", "abc1234"} {
		if err := CheckCSRF(s, tok); !errors.Is(err, ErrCSRFMismatch) {
			t.Fatalf("token %q: got %v", tok, err)
		}
	}
	if err := CheckCSRF(&Session{}, ""); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("empty session token must never match: %v", err)
	}
}

func TestNoticeIsOneShot(t *testing.T) {
	s := &Session{}
	s.SetNotice("hello")
	if got := s.TakeNotice(); got != "hello" {
		t.Fatalf("TakeNotice = %q", got)
	}
	if got := s.TakeNotice(); got != "" {
		t.Fatalf("second TakeNotice = %q", got)
	}
}

func TestAuthenticatedNeedsBoth(t *testing.T) {
	cases := []struct {
		s    Session
		want bool
	}{
		{Session{}, false},
		{Session{UserID: 1}, false},
		{Session{CSRFToken: "x"}, false},
		{Session{UserID: 1, CSRFToken: "x"}, true},
	}
	for _, tc := range cases {
		if got := tc.s.Authenticated(); got != tc.want {
			t.Errorf("%+v.Authenticated() = %v", tc.s, got)
		}
	}
}

func TestManagerLoginLogout(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, "", 0)
	if m.CookieName != "session_id" || m.TTL != 24*time.Hour {
		t.Fatalf("defaults: %q %v", m.CookieName, m.TTL)
	}

	anon, err := m.Load(ctx, "")
	if err != nil || anon.Authenticated() {
		t.Fatalf("empty token: %+v %v", anon, err)
	}
	anon.SetNotice("welcome")
	if err := m.Save(ctx, anon); err != nil {
		t.Fatalf("save: %v", err)
	}
	oldToken := anon.Token
	if oldToken == "" {
		t.Fatal("save did not assign a token")
	}

	if err := m.Login(ctx, anon, 7); err != nil {
		t.Fatalf("login: %v", err)
	}
	if anon.Token == oldToken {
		t.Fatal("login did not rotate the token")
	}
	if _, err := hex.DecodeString(anon.CSRFToken); err != nil || len(anon.CSRFToken) != 32 {
		t.Fatalf("csrf token %q is not 16 hex-encoded bytes", anon.CSRFToken)
	}
	if _, err := store.Load(ctx, oldToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old token still loads: %v", err)
	}

	loaded, err := m.Load(ctx, anon.Token)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.UserID != 7 || loaded.CSRFToken != anon.CSRFToken || !loaded.Authenticated() {
		t.Fatalf("loaded %+v", loaded)
	}

	token := loaded.Token
	if err := m.Logout(ctx, loaded); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if loaded.Token != "" || loaded.UserID != 0 || loaded.CSRFToken != "" {
		t.Fatalf("session not cleared: %+v", loaded)
	}
	again, err := m.Load(ctx, token)
	if err != nil || again.Authenticated() {
		t.Fatalf("destroyed token: %+v %v", again, err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	if err := store.Save(ctx, &Session{Token: "t1", UserID: 1}, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Load(ctx, "t1"); err != nil {
		t.Fatalf("fresh load: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := store.Load(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired load: %v", err)
	}
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	s := &Session{Token: "tok", UserID: 3, CSRFToken: "c5rf", Notice: "hi"}
	if err := store.Save(ctx, s, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("session:tok") {
		t.Fatal("key not written under the session prefix")
	}
	got, err := store.Load(ctx, "tok")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != *s {
		t.Fatalf("loaded %+v, want %+v", got, s)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Load(ctx, "tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired: %v", err)
	}

	if err := store.Save(ctx, s, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Destroy(ctx, "tok"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := store.Load(ctx, "tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("destroyed: %v", err)
	}
}

func TestManagerOverRedis(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	m := NewManager(store, "sid", time.Hour)

	s := &Session{}
	if err := m.Login(ctx, s, 11); err != nil {
		t.Fatalf("login: %v", err)
	}
	loaded, err := m.Load(ctx, s.Token)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.UserID != 11 || loaded.CSRFToken != s.CSRFToken {
		t.Fatalf("loaded %+v", loaded)
	}
}
