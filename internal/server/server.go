package server

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"picshare/internal/models"
	"picshare/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

type Options struct {
	// Mode is the gin mode; empty keeps the current one.
	Mode              string
	PostsPerPage      int
	InitializeEnabled bool
}

type Server struct {
	DB       *gorm.DB
	Sessions *session.Manager

	opts   Options
	tmpl   map[string]*template.Template
	engine *gin.Engine
}

// handlerFunc receives the request's session and the resolved user (nil when anonymous).
type handlerFunc func(c *gin.Context, sess *session.Session, me *models.User)

// postItem is what the "post" partial renders: the post plus what its
// comment form needs.
type postItem struct {
	models.PostView
	Me        *models.User
	CSRFToken string
}

var templateFuncs = template.FuncMap{
	"item": func(p models.PostView, me *models.User, csrf string) postItem {
		return postItem{PostView: p, Me: me, CSRFToken: csrf}
	},
	"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) },
	"lastCreatedAt": func(posts []models.PostView) string {
		if len(posts) == 0 {
			return ""
		}
		return posts[len(posts)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	},
}

func New(db *gorm.DB, sessions *session.Manager, opts Options) (*Server, error) {
	// listings never exceed a page of models.PostsPerPage
	if opts.PostsPerPage <= 0 || opts.PostsPerPage > models.PostsPerPage {
		opts.PostsPerPage = models.PostsPerPage
	}
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}

	templates := map[string]*template.Template{}
	pages, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		name := page.Name()
		if name == "layout.html" || strings.HasPrefix(name, "_") {
			continue
		}
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS,
			"templates/layout.html", "templates/_post.html", path.Join("templates", name))
		if err != nil {
			return nil, err
		}
		templates[strings.TrimSuffix(name, ".html")] = t
	}

	s := &Server{DB: db, Sessions: sessions, opts: opts, tmpl: templates}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(accessLog(), gin.Recovery())

	r.GET("/initialize", s.handleInitialize)
	r.GET("/login", s.withSession(s.handleLoginForm))
	r.POST("/login", s.withSession(s.handleLogin))
	r.GET("/register", s.withSession(s.handleRegisterForm))
	r.POST("/register", s.withSession(s.handleRegister))
	r.POST("/logout", s.withSession(s.requireLogin(s.handleLogout)))

	r.GET("/", s.withSession(s.handleIndex))
	r.POST("/", s.withSession(s.requireLogin(s.handleCreatePost)))
	r.GET("/posts", s.withSession(s.handlePosts))
	r.GET("/posts/:id", s.withSession(s.handlePost))
	r.GET("/image/:file", s.handleImage)
	r.POST("/comment", s.withSession(s.requireLogin(s.handleComment)))

	r.GET("/admin/banned", s.withSession(s.requireAdmin(s.handleBannedForm)))
	r.POST("/admin/banned", s.withSession(s.requireAdmin(s.handleBan)))

	// user pages live at /@account_name
	r.GET("/:account", s.withSession(s.handleUser))
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) render(c *gin.Context, status int, name string, data gin.H) {
	t, ok := s.tmpl[name]
	if !ok {
		c.String(http.StatusInternalServerError, "template not found")
		return
	}
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(c.Writer, "layout", data); err != nil {
		slog.Error("render failed", "template", name, "error", err)
	}
}

// renderFragment executes a page's content block without the layout.
func (s *Server) renderFragment(c *gin.Context, name string, data gin.H) {
	t, ok := s.tmpl[name]
	if !ok {
		c.String(http.StatusInternalServerError, "template not found")
		return
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(c.Writer, "content", data); err != nil {
		slog.Error("render failed", "template", name, "error", err)
	}
}

func (s *Server) fail(c *gin.Context, msg string, err error) {
	slog.Error(msg, "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	c.String(http.StatusInternalServerError, "internal server error")
}

// middleware

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("request",
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"method", c.Request.Method,
			"url", c.Request.URL.RequestURI(),
			"latency", time.Since(start),
		)
	}
}

// withSession loads the session named by the cookie and resolves the current
// user before calling next.
func (s *Server) withSession(next handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(s.Sessions.CookieName)
		ctx := c.Request.Context()
		sess, err := s.Sessions.Load(ctx, token)
		if err != nil {
			s.fail(c, "load session", err)
			return
		}
		me, err := session.ResolveCurrentUser(ctx, s.DB, sess)
		if err != nil {
			s.fail(c, "resolve current user", err)
			return
		}
		next(c, sess, me)
	}
}

func (s *Server) requireLogin(next handlerFunc) handlerFunc {
	return func(c *gin.Context, sess *session.Session, me *models.User) {
		if me == nil {
			c.Redirect(http.StatusFound, "/login")
			return
		}
		next(c, sess, me)
	}
}

func (s *Server) requireAdmin(next handlerFunc) handlerFunc {
	return s.requireLogin(func(c *gin.Context, sess *session.Session, me *models.User) {
		if !me.Authority {
			c.String(http.StatusForbidden, models.ErrForbidden.Error())
			return
		}
		next(c, sess, me)
	})
}

// checkCSRF aborts the request with 422 when the submitted token does not match.
func checkCSRF(c *gin.Context, sess *session.Session) bool {
	return verifyCSRF(c, sess, c.PostForm("csrf_token"))
}

// verifyCSRF is checkCSRF for handlers that decode the form themselves.
func verifyCSRF(c *gin.Context, sess *session.Session, token string) bool {
	if err := session.CheckCSRF(sess, token); err != nil {
		c.String(http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

// session helpers

func (s *Server) saveSession(c *gin.Context, sess *session.Session) error {
	if err := s.Sessions.Save(c.Request.Context(), sess); err != nil {
		return err
	}
	s.setCookie(c, sess.Token)
	return nil
}

func (s *Server) setCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	if token == "" {
		c.SetCookie(s.Sessions.CookieName, "", -1, "/", "", false, true)
		return
	}
	c.SetCookie(s.Sessions.CookieName, token, int(s.Sessions.TTL.Seconds()), "/", "", false, true)
}

// redirectWithNotice stores msg as the flash notice and redirects to target.
func (s *Server) redirectWithNotice(c *gin.Context, sess *session.Session, target, msg string) {
	sess.SetNotice(msg)
	if err := s.saveSession(c, sess); err != nil {
		s.fail(c, "save session", err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// takeNotice pops the flash notice, persisting the cleared session.
func (s *Server) takeNotice(c *gin.Context, sess *session.Session) string {
	msg := sess.TakeNotice()
	if msg != "" && sess.Token != "" {
		if err := s.Sessions.Save(c.Request.Context(), sess); err != nil {
			slog.Warn("clear notice", "error", err)
		}
	}
	return msg
}

func parseID(s string) (uint, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
