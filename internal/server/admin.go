package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"picshare/internal/models"
	"picshare/internal/session"
)

func (s *Server) handleBannedForm(c *gin.Context, sess *session.Session, me *models.User) {
	ctx := c.Request.Context()
	candidates, err := models.ListBanCandidates(ctx, s.DB)
	if err != nil {
		s.fail(c, "list ban candidates", err)
		return
	}
	banned, err := models.ListBannedUsers(ctx, s.DB)
	if err != nil {
		s.fail(c, "list banned users", err)
		return
	}
	s.render(c, http.StatusOK, "banned", gin.H{
		"Me":        me,
		"Users":     candidates,
		"Banned":    banned,
		"CSRFToken": sess.CSRFToken,
	})
}

// handleBan bans every submitted uid in one transaction; an unknown id
// rolls the whole request back.
func (s *Server) handleBan(c *gin.Context, sess *session.Session, me *models.User) {
	if !checkCSRF(c, sess) {
		return
	}
	uids := c.PostFormArray("uid")
	ids := make([]uint, 0, len(uids))
	for _, raw := range uids {
		id, ok := parseID(raw)
		if !ok {
			c.String(http.StatusBadRequest, "uid must be an integer")
			return
		}
		ids = append(ids, id)
	}

	err := s.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			if _, err := models.BanUser(c.Request.Context(), tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, models.ErrNotFound) {
		c.String(http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.fail(c, "ban users", err)
		return
	}
	slog.Info("users banned", "admin", me.AccountName, "ids", ids)
	c.Redirect(http.StatusFound, "/admin/banned")
}
