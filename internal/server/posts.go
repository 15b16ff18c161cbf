package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"picshare/internal/db"
	"picshare/internal/models"
	"picshare/internal/session"
)

const (
	noticeImageRequired = "an image is required"
	// multipart framing and the other form fields on top of the image
	formOverhead = 1 << 20
)

func (s *Server) handleIndex(c *gin.Context, sess *session.Session, me *models.User) {
	posts, err := models.ListPosts(c.Request.Context(), s.DB, nil, s.opts.PostsPerPage)
	if err != nil {
		s.fail(c, "list posts", err)
		return
	}
	s.render(c, http.StatusOK, "index", gin.H{
		"Me":        me,
		"Posts":     posts,
		"CSRFToken": sess.CSRFToken,
		"Notice":    s.takeNotice(c, sess),
	})
}

// handlePosts renders the "older posts" fragment. An unparsable
// max_created_at means now.
func (s *Server) handlePosts(c *gin.Context, sess *session.Session, me *models.User) {
	before, err := time.Parse(time.RFC3339Nano, c.Query("max_created_at"))
	if err != nil {
		before = time.Now()
	}
	posts, err := models.ListPosts(c.Request.Context(), s.DB, &before, s.opts.PostsPerPage)
	if err != nil {
		s.fail(c, "list posts", err)
		return
	}
	s.renderFragment(c, "posts", gin.H{"Me": me, "Posts": posts, "CSRFToken": sess.CSRFToken})
}

func (s *Server) handlePost(c *gin.Context, sess *session.Session, me *models.User) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	post, err := models.GetPost(c.Request.Context(), s.DB, id)
	if errors.Is(err, models.ErrNotFound) {
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		s.fail(c, "get post", err)
		return
	}
	s.render(c, http.StatusOK, "post", gin.H{"Me": me, "Post": post, "CSRFToken": sess.CSRFToken})
}

// uploadForm is a decoded post submission. TooLarge is set when the image or
// the whole body went over its limit; whatever fields arrived before that
// point are still filled in.
type uploadForm struct {
	CSRFToken string
	Body      string
	Mime      string
	Data      []byte
	HasFile   bool
	TooLarge  bool
}

func readUploadForm(c *gin.Context) (*uploadForm, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, models.UploadLimit+formOverhead)
	mr, err := c.Request.MultipartReader()
	if errors.Is(err, http.ErrNotMultipart) {
		return &uploadForm{CSRFToken: c.PostForm("csrf_token"), Body: c.PostForm("body")}, nil
	}
	if err != nil {
		return nil, err
	}

	form := &uploadForm{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			if form.TooLarge {
				return form, nil
			}
			return form, tooLarge(form, err)
		}
		switch part.FormName() {
		case "csrf_token":
			form.CSRFToken, err = readField(part)
		case "body":
			form.Body, err = readField(part)
		case "file":
			if part.FileName() == "" {
				break
			}
			form.HasFile = true
			form.Mime = part.Header.Get("Content-Type")
			// one byte past the limit is enough to reject the upload
			form.Data, err = io.ReadAll(io.LimitReader(part, models.UploadLimit+1))
			if len(form.Data) > models.UploadLimit {
				form.TooLarge = true
			}
		}
		_ = part.Close()
		if err != nil {
			return form, tooLarge(form, err)
		}
	}
}

// tooLarge marks form when err comes from the body limit and swallows it.
func tooLarge(form *uploadForm, err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		form.TooLarge = true
		return nil
	}
	return err
}

func readField(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, formOverhead))
	return string(b), err
}

// handleCreatePost verifies the CSRF token before it looks at the image, so a
// forged oversized upload is refused without touching the session.
func (s *Server) handleCreatePost(c *gin.Context, sess *session.Session, me *models.User) {
	form, err := readUploadForm(c)
	if err != nil {
		c.String(http.StatusBadRequest, "malformed form")
		return
	}
	if !verifyCSRF(c, sess, form.CSRFToken) {
		return
	}
	if form.TooLarge {
		s.redirectWithNotice(c, sess, "/", models.ErrPayloadTooLarge.Error())
		return
	}
	if !form.HasFile {
		s.redirectWithNotice(c, sess, "/", noticeImageRequired)
		return
	}

	declared := form.Mime
	if declared == "" || declared == "application/octet-stream" {
		declared = mimetype.Detect(form.Data).String()
	}

	post, err := models.CreatePost(c.Request.Context(), s.DB, me, declared, form.Data, form.Body)
	if errors.Is(err, models.ErrUnsupportedMedia) || errors.Is(err, models.ErrPayloadTooLarge) {
		s.redirectWithNotice(c, sess, "/", err.Error())
		return
	}
	if err != nil {
		s.fail(c, "create post", err)
		return
	}
	c.Redirect(http.StatusFound, "/posts/"+strconv.FormatUint(uint64(post.ID), 10))
}

// handleImage serves /image/<id>.<ext>; ext has to match the stored type.
func (s *Server) handleImage(c *gin.Context) {
	idPart, ext, _ := strings.Cut(c.Param("file"), ".")
	id, ok := parseID(idPart)
	if !ok {
		c.String(http.StatusNotFound, "image not found")
		return
	}
	post, err := models.GetImage(c.Request.Context(), s.DB, id)
	if errors.Is(err, models.ErrNotFound) {
		c.String(http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		s.fail(c, "get image", err)
		return
	}
	if (ext == "jpg" && post.Mime == models.MimeJPEG) ||
		(ext == "png" && post.Mime == models.MimePNG) ||
		(ext == "gif" && post.Mime == models.MimeGIF) {
		c.Data(http.StatusOK, post.Mime, post.Imgdata)
		return
	}
	c.String(http.StatusNotFound, "image not found")
}

func (s *Server) handleComment(c *gin.Context, sess *session.Session, me *models.User) {
	if !checkCSRF(c, sess) {
		return
	}
	// ParseUint accepts digits only: no sign, no spaces, no underscores
	postID, ok := parseID(c.PostForm("post_id"))
	if !ok {
		c.String(http.StatusBadRequest, "post_id must be an integer")
		return
	}
	if _, err := models.CreateComment(c.Request.Context(), s.DB, me, postID, c.PostForm("comment")); err != nil {
		s.fail(c, "create comment", err)
		return
	}
	c.Redirect(http.StatusFound, "/posts/"+strconv.FormatUint(uint64(postID), 10))
}

func (s *Server) handleUser(c *gin.Context, sess *session.Session, me *models.User) {
	account, ok := strings.CutPrefix(c.Param("account"), "@")
	if !ok || account == "" {
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	ctx := c.Request.Context()
	user, err := models.GetUserByAccountName(ctx, s.DB, account)
	if errors.Is(err, models.ErrNotFound) {
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		s.fail(c, "get user", err)
		return
	}
	posts, err := models.ListPostsForUser(ctx, s.DB, user, s.opts.PostsPerPage)
	if err != nil {
		s.fail(c, "list user posts", err)
		return
	}
	stats, err := models.GetUserStats(ctx, s.DB, user)
	if err != nil {
		s.fail(c, "user stats", err)
		return
	}
	s.render(c, http.StatusOK, "user", gin.H{
		"Me":        me,
		"User":      user,
		"Posts":     posts,
		"Stats":     stats,
		"CSRFToken": sess.CSRFToken,
	})
}

func (s *Server) handleInitialize(c *gin.Context) {
	if !s.opts.InitializeEnabled {
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	if err := db.Initialize(c.Request.Context(), s.DB); err != nil {
		s.fail(c, "initialize", err)
		return
	}
	c.String(http.StatusOK, "ok")
}
