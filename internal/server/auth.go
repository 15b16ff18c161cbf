package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"picshare/internal/models"
	"picshare/internal/session"
)

const noticeInvalidCredentials = "account name or password is incorrect"

func (s *Server) handleLoginForm(c *gin.Context, sess *session.Session, me *models.User) {
	if me != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	s.render(c, http.StatusOK, "login", gin.H{"Me": me, "Notice": s.takeNotice(c, sess)})
}

func (s *Server) handleLogin(c *gin.Context, sess *session.Session, me *models.User) {
	if me != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	user, err := models.Authenticate(c.Request.Context(), s.DB, c.PostForm("account_name"), c.PostForm("password"))
	if errors.Is(err, models.ErrInvalidCredentials) {
		s.redirectWithNotice(c, sess, "/login", noticeInvalidCredentials)
		return
	}
	if err != nil {
		s.fail(c, "authenticate", err)
		return
	}
	s.startSession(c, sess, user)
}

func (s *Server) handleRegisterForm(c *gin.Context, sess *session.Session, me *models.User) {
	if me != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	s.render(c, http.StatusOK, "register", gin.H{"Me": me, "Notice": s.takeNotice(c, sess)})
}

func (s *Server) handleRegister(c *gin.Context, sess *session.Session, me *models.User) {
	if me != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	user, err := models.Register(c.Request.Context(), s.DB, c.PostForm("account_name"), c.PostForm("password"))
	if errors.Is(err, models.ErrInvalidAccount) || errors.Is(err, models.ErrAccountTaken) {
		s.redirectWithNotice(c, sess, "/register", err.Error())
		return
	}
	if err != nil {
		s.fail(c, "register", err)
		return
	}
	s.startSession(c, sess, user)
}

func (s *Server) startSession(c *gin.Context, sess *session.Session, user *models.User) {
	if err := s.Sessions.Login(c.Request.Context(), sess, user.ID); err != nil {
		s.fail(c, "start session", err)
		return
	}
	s.setCookie(c, sess.Token)
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleLogout(c *gin.Context, sess *session.Session, me *models.User) {
	if !checkCSRF(c, sess) {
		return
	}
	if err := s.Sessions.Logout(c.Request.Context(), sess); err != nil {
		s.fail(c, "logout", err)
		return
	}
	s.setCookie(c, "")
	c.Redirect(http.StatusFound, "/")
}
