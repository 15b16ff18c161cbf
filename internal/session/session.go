// Package session keeps per-client state between requests: the logged in
// user, the CSRF token of the rendered forms and a one-shot notice.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"picshare/internal/models"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrCSRFMismatch = errors.New("invalid CSRF Token")
)

// Session is the state of one client. Handlers receive it explicitly.
type Session struct {
	Token     string
	UserID    uint
	CSRFToken string
	Notice    string
}

// Authenticated reports whether both the user id and the CSRF token are set.
func (s *Session) Authenticated() bool {
	return s.UserID != 0 && s.CSRFToken != ""
}

// SetNotice stores a message shown once on the next rendered page.
func (s *Session) SetNotice(msg string) {
	s.Notice = msg
}

// TakeNotice returns the pending notice and clears it.
func (s *Session) TakeNotice() string {
	msg := s.Notice
	s.Notice = ""
	return msg
}

type Store interface {
	// Load returns ErrNotFound for unknown or expired tokens.
	Load(ctx context.Context, token string) (*Session, error)
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Destroy(ctx context.Context, token string) error
}

type Manager struct {
	store      Store
	CookieName string
	TTL        time.Duration
}

func NewManager(store Store, cookieName string, ttl time.Duration) *Manager {
	if cookieName == "" {
		cookieName = "session_id"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: store, CookieName: cookieName, TTL: ttl}
}

// Load returns the session for token, or a fresh anonymous session when the
// token is empty, unknown or expired.
func (m *Manager) Load(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return &Session{}, nil
	}
	s, err := m.store.Load(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return &Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

// Save persists s, assigning a token first if it has none.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if s.Token == "" {
		s.Token = uuid.NewString()
	}
	return m.store.Save(ctx, s, m.TTL)
}

// Login binds userID to the session with a fresh CSRF token. The session
// token is rotated.
func (m *Manager) Login(ctx context.Context, s *Session, userID uint) error {
	if s.Token != "" {
		if err := m.store.Destroy(ctx, s.Token); err != nil {
			return fmt.Errorf("rotate session: %w", err)
		}
	}
	csrf, err := newCSRFToken()
	if err != nil {
		return err
	}
	s.Token = uuid.NewString()
	s.UserID = userID
	s.CSRFToken = csrf
	return m.store.Save(ctx, s, m.TTL)
}

// Logout destroys all state of the session.
func (m *Manager) Logout(ctx context.Context, s *Session) error {
	if s.Token != "" {
		if err := m.store.Destroy(ctx, s.Token); err != nil {
			return fmt.Errorf("destroy session: %w", err)
		}
	}
	*s = Session{}
	return nil
}

func newCSRFToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CheckCSRF compares the submitted token with the one stored in the session.
func CheckCSRF(s *Session, token string) error {
	if s.CSRFToken == "" || subtle.ConstantTimeCompare([]byte(s.CSRFToken), []byte(token)) != 1 {
		return ErrCSRFMismatch
	}
	return nil
}

// ResolveCurrentUser returns the logged in user, or nil for anonymous
// sessions and sessions whose user no longer exists.
func ResolveCurrentUser(ctx context.Context, db *gorm.DB, s *Session) (*models.User, error) {
	if !s.Authenticated() {
		return nil, nil
	}
	user, err := models.GetUser(ctx, db, s.UserID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
