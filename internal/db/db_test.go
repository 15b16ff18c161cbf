package db

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"picshare/internal/config"
	"picshare/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "nested", "test.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close(database) })
	return database
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSqliteDSN(t *testing.T) {
	if got := sqliteDSN("a.db"); got != "a.db?_foreign_keys=on&_busy_timeout=5000" {
		t.Fatalf("sqliteDSN = %q", got)
	}
	if got := sqliteDSN("file:a.db?mode=memory"); got != "file:a.db?mode=memory" {
		t.Fatalf("explicit params rewritten: %q", got)
	}
}

func TestInitialize(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	users := []models.User{
		{ID: 50, AccountName: "seed_fifty", Passhash: "x"},
		{ID: 51, AccountName: "seed_banned", Passhash: "x", DelFlg: true},
		{ID: 1001, AccountName: "late_user", Passhash: "x"},
	}
	if err := database.Create(&users).Error; err != nil {
		t.Fatalf("seed users: %v", err)
	}
	posts := []models.Post{
		{ID: 1, UserID: 51, Mime: models.MimePNG, Imgdata: []byte{1}},
		{ID: 10001, UserID: 51, Mime: models.MimePNG, Imgdata: []byte{1}},
	}
	if err := database.Omit(clause.Associations).Create(&posts).Error; err != nil {
		t.Fatalf("seed posts: %v", err)
	}
	comments := []models.Comment{
		{ID: 1, PostID: 1, UserID: 50, Comment: "seed"},
		{ID: 100001, PostID: 1, UserID: 50, Comment: "late"},
	}
	if err := database.Omit(clause.Associations).Create(&comments).Error; err != nil {
		t.Fatalf("seed comments: %v", err)
	}

	if err := Initialize(ctx, database); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var n int64
	database.Model(&models.User{}).Count(&n)
	if n != 2 {
		t.Fatalf("users = %d, want 2", n)
	}
	database.Model(&models.Post{}).Count(&n)
	if n != 1 {
		t.Fatalf("posts = %d, want 1", n)
	}
	database.Model(&models.Comment{}).Count(&n)
	if n != 1 {
		t.Fatalf("comments = %d, want 1", n)
	}

	var fifty, fiftyOne models.User
	database.First(&fifty, 50)
	database.First(&fiftyOne, 51)
	if !fifty.DelFlg {
		t.Fatal("user 50 should start banned")
	}
	if fiftyOne.DelFlg {
		t.Fatal("user 51 should be unbanned")
	}
}
