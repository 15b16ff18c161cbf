package models

import "time"

// User is an account. Rows are never deleted; DelFlg marks a banned user.
type User struct {
	ID          uint      `gorm:"primaryKey"`
	AccountName string    `gorm:"column:account_name;size:255;uniqueIndex;not null"`
	Passhash    string    `gorm:"column:passhash;size:128;not null"`
	Authority   bool      `gorm:"column:authority;not null;default:false"`
	DelFlg      bool      `gorm:"column:del_flg;index;not null;default:false"`
	CreatedAt   time.Time `gorm:"index"`
}

type Post struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Mime      string    `gorm:"size:64;not null"`
	Imgdata   []byte    `gorm:"column:imgdata;type:mediumblob;not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`

	User User `gorm:"foreignKey:UserID"`
}

type Comment struct {
	ID        uint      `gorm:"primaryKey"`
	PostID    uint      `gorm:"index;not null"`
	UserID    uint      `gorm:"index;not null"`
	Comment   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`

	User User `gorm:"foreignKey:UserID"`
}
