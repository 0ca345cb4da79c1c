package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/services"
	"github.com/alumitra/advisory/internal/utils"
)

type SessionHandler struct {
	sessions services.SessionService
}

func NewSessionHandler(sessions services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessions, err := h.sessions.ListByUser(c.Request.Context(), userID, 50)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *SessionHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sess, err := h.owned(c, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sess)
}

// End marks a session completed. Only the owner may end it, and only while
// it is still active.
func (h *SessionHandler) End(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	if _, err := h.owned(c, userID); err != nil {
		writeError(c, err)
		return
	}

	sess, err := h.sessions.End(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) owned(c *gin.Context, userID string) (*models.ChatSession, error) {
	const op = "SessionHandler.owned"

	sess, err := h.sessions.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "session belongs to another user", nil)
	}
	return sess, nil
}
