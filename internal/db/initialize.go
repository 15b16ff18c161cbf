package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Seed data boundaries. Rows above them were created by a previous run.
const (
	seedUsers    = 1000
	seedPosts    = 10000
	seedComments = 100000
	// every banEvery-th seeded user starts out banned
	banEvery = 50
)

// Initialize restores the seed data set: rows created after seeding are
// removed and the ban flags are reset.
func Initialize(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmts := []struct {
			sql  string
			args []any
		}{
			{"DELETE FROM comments WHERE id > ?", []any{seedComments}},
			{"DELETE FROM posts WHERE id > ?", []any{seedPosts}},
			{"DELETE FROM users WHERE id > ?", []any{seedUsers}},
			{"UPDATE users SET del_flg = ?", []any{false}},
			{"UPDATE users SET del_flg = ? WHERE id % ? = 0", []any{true, banEvery}},
		}
		for _, s := range stmts {
			if err := tx.Exec(s.sql, s.args...).Error; err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
		}
		return nil
	})
}
