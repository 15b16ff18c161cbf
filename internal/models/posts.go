package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeGIF  = "image/gif"

	// PostsPerPage caps every listing.
	PostsPerPage = 20
	// RecentComments is how many comments a listed post carries.
	RecentComments = 3
	UploadLimit    = 10 * 1024 * 1024
)

var (
	postColumns    = []string{"posts.id", "posts.user_id", "posts.mime", "posts.body", "posts.created_at"}
	commentColumns = []string{"comments.id", "comments.post_id", "comments.user_id", "comments.comment", "comments.created_at"}
)

// visible keeps only rows of table whose author is not banned. Every listing
// goes through it.
func visible(table string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Joins("JOIN users ON users.id = " + table + ".user_id").
			Where("users.del_flg = ?", false)
	}
}

func newestFirst(table string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Order(table + ".created_at DESC").Order(table + ".id DESC")
	}
}

// ListPosts returns the timeline, newest first. With before set only posts
// created at or before it are returned.
func ListPosts(ctx context.Context, db *gorm.DB, before *time.Time, limit int) ([]PostView, error) {
	return listPosts(ctx, db, limit, func(tx *gorm.DB) *gorm.DB {
		if before == nil {
			return tx
		}
		return tx.Where("posts.created_at <= ?", before.UTC())
	})
}

// ListPostsForUser returns the posts of a single author, newest first.
func ListPostsForUser(ctx context.Context, db *gorm.DB, user *User, limit int) ([]PostView, error) {
	return listPosts(ctx, db, limit, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("posts.user_id = ?", user.ID)
	})
}

func listPosts(ctx context.Context, db *gorm.DB, limit int, filter func(*gorm.DB) *gorm.DB) ([]PostView, error) {
	if limit <= 0 {
		limit = PostsPerPage
	}
	var posts []Post
	err := db.WithContext(ctx).Model(&Post{}).
		Select(postColumns).
		Scopes(visible("posts"), filter, newestFirst("posts")).
		Limit(limit).
		Preload("User").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if len(posts) == 0 {
		return []PostView{}, nil
	}

	ids := make([]uint, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	counts, err := countComments(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	views := make([]PostView, 0, len(posts))
	for _, p := range posts {
		comments, err := listComments(ctx, db, p.ID, RecentComments)
		if err != nil {
			return nil, err
		}
		views = append(views, newPostView(p, counts[p.ID], comments))
	}
	return views, nil
}

// GetPost returns a post with all of its comments.
func GetPost(ctx context.Context, db *gorm.DB, id uint) (*PostView, error) {
	var post Post
	err := db.WithContext(ctx).Model(&Post{}).
		Select(postColumns).
		Preload("User").
		Where("posts.id = ?", id).
		Take(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post %d: %w", id, err)
	}
	comments, err := listComments(ctx, db, post.ID, 0)
	if err != nil {
		return nil, err
	}
	counts, err := countComments(ctx, db, []uint{post.ID})
	if err != nil {
		return nil, err
	}
	view := newPostView(post, counts[post.ID], comments)
	return &view, nil
}

// GetImage loads the stored image of a post.
func GetImage(ctx context.Context, db *gorm.DB, id uint) (*Post, error) {
	var post Post
	if err := db.WithContext(ctx).Select("id", "mime", "imgdata").Take(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

// NormalizeMime maps a declared upload content type onto one of the
// supported image types.
func NormalizeMime(declared string) (string, error) {
	switch {
	case strings.Contains(declared, "jpeg"):
		return MimeJPEG, nil
	case strings.Contains(declared, "png"):
		return MimePNG, nil
	case strings.Contains(declared, "gif"):
		return MimeGIF, nil
	}
	return "", ErrUnsupportedMedia
}

func CreatePost(ctx context.Context, db *gorm.DB, user *User, mime string, data []byte, body string) (*Post, error) {
	mime, err := NormalizeMime(mime)
	if err != nil {
		return nil, err
	}
	if len(data) > UploadLimit {
		return nil, ErrPayloadTooLarge
	}
	post := Post{
		UserID:  user.ID,
		Mime:    mime,
		Imgdata: data,
		Body:    body,
	}
	if err := db.WithContext(ctx).Omit("User").Create(&post).Error; err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &post, nil
}

// CreateComment stores a comment. postID is expected to be validated by the caller.
func CreateComment(ctx context.Context, db *gorm.DB, user *User, postID uint, body string) (*Comment, error) {
	comment := Comment{
		PostID:  postID,
		UserID:  user.ID,
		Comment: body,
	}
	if err := db.WithContext(ctx).Omit("User").Create(&comment).Error; err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return &comment, nil
}

// listComments returns visible comments of a post, newest first. limit <= 0 means all.
func listComments(ctx context.Context, db *gorm.DB, postID uint, limit int) ([]CommentView, error) {
	q := db.WithContext(ctx).Model(&Comment{}).
		Select(commentColumns).
		Scopes(visible("comments"), newestFirst("comments")).
		Where("comments.post_id = ?", postID).
		Preload("User")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var comments []Comment
	if err := q.Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("list comments of post %d: %w", postID, err)
	}
	views := make([]CommentView, len(comments))
	for i, c := range comments {
		views[i] = newCommentView(c)
	}
	return views, nil
}

func countComments(ctx context.Context, db *gorm.DB, postIDs []uint) (map[uint]int64, error) {
	var rows []struct {
		PostID uint
		N      int64
	}
	err := db.WithContext(ctx).Model(&Comment{}).
		Select("comments.post_id AS post_id, COUNT(*) AS n").
		Scopes(visible("comments")).
		Where("comments.post_id IN ?", postIDs).
		Group("comments.post_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count comments: %w", err)
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.PostID] = r.N
	}
	return counts, nil
}

func newPostView(p Post, count int64, comments []CommentView) PostView {
	return PostView{
		ID:           p.ID,
		Mime:         p.Mime,
		Body:         p.Body,
		CreatedAt:    p.CreatedAt,
		User:         p.User,
		CommentCount: count,
		Comments:     comments,
	}
}
