package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/services"
	"github.com/alumitra/advisory/internal/utils"
)

type IntakeHandler struct {
	intakes services.IntakeService
}

func NewIntakeHandler(intakes services.IntakeService) *IntakeHandler {
	return &IntakeHandler{intakes: intakes}
}

type CreateIntakeRequest struct {
	UseCase string `json:"use_case" binding:"required"`
	Answers bson.M `json:"answers" binding:"required"`
}

// Create stores a new intake profile and deactivates any previous one.
// The response carries the welcome message and starter suggestions the
// client shows before the first question.
func (h *IntakeHandler) Create(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req CreateIntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "IntakeHandler.Create", "invalid request body", err))
		return
	}
	if req.UseCase != models.UseCaseBuild && req.UseCase != models.UseCaseExisting {
		writeError(c, utils.E(utils.CodeInvalidArgument, "IntakeHandler.Create", "use_case must be build or existing", nil))
		return
	}

	profile, err := h.intakes.Create(c.Request.Context(), userID, req.UseCase, req.Answers)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, profile)
}

func (h *IntakeHandler) Active(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	profile, err := h.intakes.Active(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}
