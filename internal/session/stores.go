package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the sessions table row of GormStore.
type Record struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    *uint     `gorm:"index"`
	CSRFToken string    `gorm:"size:64"`
	Notice    string    `gorm:"size:1024"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

func (Record) TableName() string { return "sessions" }

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) Load(ctx context.Context, token string) (*Session, error) {
	var rec Record
	err := g.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", token, time.Now().UTC()).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s := &Session{Token: rec.ID, CSRFToken: rec.CSRFToken, Notice: rec.Notice}
	if rec.UserID != nil {
		s.UserID = *rec.UserID
	}
	return s, nil
}

func (g *GormStore) Save(ctx context.Context, s *Session, ttl time.Duration) error {
	rec := Record{
		ID:        s.Token,
		CSRFToken: s.CSRFToken,
		Notice:    s.Notice,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if s.UserID != 0 {
		uid := s.UserID
		rec.UserID = &uid
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "csrf_token", "notice", "expires_at"}),
		}).
		Create(&rec).Error
}

func (g *GormStore) Destroy(ctx context.Context, token string) error {
	return g.db.WithContext(ctx).Where("id = ?", token).Delete(&Record{}).Error
}

// PurgeExpired removes rows whose expiry has passed.
func (g *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := g.db.WithContext(ctx).Where("expires_at <= ?", time.Now().UTC()).Delete(&Record{})
	return res.RowsAffected, res.Error
}

type redisValue struct {
	UserID    uint   `json:"user_id,omitempty"`
	CSRFToken string `json:"csrf_token,omitempty"`
	Notice    string `json:"notice,omitempty"`
}

// RedisStore keeps sessions as JSON values with a key TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "session:"}
}

func (r *RedisStore) Load(ctx context.Context, token string) (*Session, error) {
	raw, err := r.client.Get(ctx, r.prefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v redisValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &Session{Token: token, UserID: v.UserID, CSRFToken: v.CSRFToken, Notice: v.Notice}, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session, ttl time.Duration) error {
	raw, err := json.Marshal(redisValue{UserID: s.UserID, CSRFToken: s.CSRFToken, Notice: s.Notice})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+s.Token, raw, ttl).Err()
}

func (r *RedisStore) Destroy(ctx context.Context, token string) error {
	return r.client.Del(ctx, r.prefix+token).Err()
}

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

// MemoryStore is a process-local store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	s := e.session
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session, ttl time.Duration) error {
	m.mu.Lock()
	m.sessions[s.Token] = memoryEntry{session: *s, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Destroy(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
	return nil
}
