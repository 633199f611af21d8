package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/utils"
)

type UserHandler struct {
	BaseHandler
	userRepo repositories.UserRepository
}

func NewUserHandler(userRepo repositories.UserRepository, logger utils.Logger) *UserHandler {
	return &UserHandler{
		BaseHandler: NewBaseHandler(logger),
		userRepo:    userRepo,
	}
}

// GetMe returns the authenticated user's profile
// @Summary Current user
// @Tags users
// @Produce json
// @Success 200 {object} models.User
// @Failure 401 {object} ErrorResponse
// @Router /users/me [get]
func (h *UserHandler) GetMe(c *gin.Context) {
	h.LogRequest(c, "Getting current user")

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	user, err := h.userRepo.GetByID(c.Request.Context(), userID)
	if err == nil {
		c.JSON(http.StatusOK, user)
		return
	}
	if !repositories.IsNotFoundError(err) {
		h.LogError(c, err, "Failed to load user profile")
	}

	// Fall back to the identity resolved from the token.
	fromToken, ctxErr := GetUserFromContext(c)
	if ctxErr != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "User not found",
		})
		return
	}
	c.JSON(http.StatusOK, fromToken)
}
