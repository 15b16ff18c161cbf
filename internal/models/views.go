package models

import (
	"strconv"
	"time"
)

// CommentView is a comment joined with its author.
type CommentView struct {
	ID        uint
	PostID    uint
	Comment   string
	CreatedAt time.Time
	User      User
}

// PostView is a post joined with its author, its visible comment count and
// the comments selected for display. Image bytes are not part of the view.
type PostView struct {
	ID           uint
	Mime         string
	Body         string
	CreatedAt    time.Time
	User         User
	CommentCount int64
	Comments     []CommentView
}

func imageExt(mime string) string {
	switch mime {
	case MimeJPEG:
		return ".jpg"
	case MimePNG:
		return ".png"
	case MimeGIF:
		return ".gif"
	}
	return ""
}

// ImageURL is the path the post's image is served from.
func (p PostView) ImageURL() string {
	return "/image/" + strconv.FormatUint(uint64(p.ID), 10) + imageExt(p.Mime)
}

func newCommentView(c Comment) CommentView {
	return CommentView{
		ID:        c.ID,
		PostID:    c.PostID,
		Comment:   c.Comment,
		CreatedAt: c.CreatedAt,
		User:      c.User,
	}
}
