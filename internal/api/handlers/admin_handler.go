package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alumitra/advisory/internal/services"
	"github.com/alumitra/advisory/internal/utils"
)

type AdminHandler struct {
	quota services.QuotaService
}

func NewAdminHandler(quota services.QuotaService) *AdminHandler {
	return &AdminHandler{quota: quota}
}

// QuotaStatus reports how many questions a user has left today.
func (h *AdminHandler) QuotaStatus(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AdminHandler.QuotaStatus", "user_id is required", nil))
		return
	}

	remaining, err := h.quota.Remaining(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":                   userID,
		"remaining_daily_questions": remaining,
	})
}
