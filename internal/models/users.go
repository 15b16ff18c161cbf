package models

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	accountNamePattern = regexp.MustCompile(`^[0-9a-zA-Z_]{3,}$`)
	passwordPattern    = regexp.MustCompile(`^[0-9a-zA-Z_]{6,}$`)

	validate = newValidator()
)

type credentials struct {
	AccountName string `validate:"account_name"`
	Password    string `validate:"password"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	must := func(tag string, re *regexp.Regexp) {
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return re.MatchString(fl.Field().String())
		}); err != nil {
			panic(err)
		}
	}
	must("account_name", accountNamePattern)
	must("password", passwordPattern)
	return v
}

func digest(src string) string {
	sum := sha512.Sum512([]byte(src))
	return hex.EncodeToString(sum[:])
}

// calculatePasshash is a single salted SHA-512 pass, not a slow KDF.
// Stored hashes depend on it; replacing it requires a rehash-on-login migration.
func calculatePasshash(accountName, password string) string {
	return digest(password + ":" + digest(accountName))
}

// Register validates the credentials and creates a regular, non-banned user.
func Register(ctx context.Context, db *gorm.DB, accountName, password string) (*User, error) {
	if err := validate.Struct(credentials{AccountName: accountName, Password: password}); err != nil {
		return nil, ErrInvalidAccount
	}

	var existing User
	err := db.WithContext(ctx).Where("account_name = ?", accountName).Take(&existing).Error
	switch {
	case err == nil:
		return nil, ErrAccountTaken
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	user := User{
		AccountName: accountName,
		Passhash:    calculatePasshash(accountName, password),
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAccountTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// Authenticate returns ErrInvalidCredentials for an unknown, banned or
// wrong-password account alike.
func Authenticate(ctx context.Context, db *gorm.DB, accountName, password string) (*User, error) {
	var user User
	err := db.WithContext(ctx).
		Where("account_name = ? AND del_flg = ?", accountName, false).
		Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	passhash := calculatePasshash(accountName, password)
	if subtle.ConstantTimeCompare([]byte(passhash), []byte(user.Passhash)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func GetUser(ctx context.Context, db *gorm.DB, id uint) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Take(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func GetUserByAccountName(ctx context.Context, db *gorm.DB, accountName string) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Where("account_name = ?", accountName).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListBanCandidates returns regular users that are not banned yet, newest first.
func ListBanCandidates(ctx context.Context, db *gorm.DB) ([]User, error) {
	var users []User
	err := db.WithContext(ctx).
		Where("authority = ? AND del_flg = ?", false, false).
		Order("created_at DESC").Order("id DESC").
		Find(&users).Error
	return users, err
}

func ListBannedUsers(ctx context.Context, db *gorm.DB) ([]User, error) {
	var users []User
	err := db.WithContext(ctx).
		Where("del_flg = ?", true).
		Order("id ASC").
		Find(&users).Error
	return users, err
}

// BanUser sets the soft-delete flag. Banning a banned user is a no-op.
func BanUser(ctx context.Context, db *gorm.DB, id uint) (*User, error) {
	err := db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update("del_flg", true).Error
	if err != nil {
		return nil, fmt.Errorf("ban user %d: %w", id, err)
	}
	return GetUser(ctx, db, id)
}

// EnsureAdmin makes sure an account with authority exists. The password is
// only used when the account has to be created.
func EnsureAdmin(ctx context.Context, db *gorm.DB, accountName, password string) (*User, error) {
	user, err := GetUserByAccountName(ctx, db, accountName)
	if errors.Is(err, ErrNotFound) {
		user, err = Register(ctx, db, accountName, password)
	}
	if err != nil {
		return nil, err
	}
	if !user.Authority {
		if err := db.WithContext(ctx).Model(user).Update("authority", true).Error; err != nil {
			return nil, fmt.Errorf("grant authority: %w", err)
		}
		user.Authority = true
	}
	return user, nil
}

type UserStats struct {
	PostCount      int64
	CommentCount   int64
	CommentedCount int64
}

// GetUserStats counts the user's posts, the comments they wrote and the
// comments written on their posts.
func GetUserStats(ctx context.Context, db *gorm.DB, user *User) (UserStats, error) {
	var s UserStats
	tx := db.WithContext(ctx)
	if err := tx.Model(&Post{}).Where("user_id = ?", user.ID).Count(&s.PostCount).Error; err != nil {
		return s, err
	}
	if err := tx.Model(&Comment{}).Where("user_id = ?", user.ID).Count(&s.CommentCount).Error; err != nil {
		return s, err
	}
	if s.PostCount == 0 {
		return s, nil
	}
	postIDs := tx.Model(&Post{}).Select("id").Where("user_id = ?", user.ID)
	if err := tx.Model(&Comment{}).Where("post_id IN (?)", postIDs).Count(&s.CommentedCount).Error; err != nil {
		return s, err
	}
	return s, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
