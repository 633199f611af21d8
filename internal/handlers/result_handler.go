package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/services"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/utils"
)

type ResultHandler struct {
	BaseHandler
	resultService services.ResultService
}

func NewResultHandler(resultService services.ResultService, logger utils.Logger) *ResultHandler {
	return &ResultHandler{
		BaseHandler:   NewBaseHandler(logger),
		resultService: resultService,
	}
}

// GetSummary returns the score of a submitted attempt
// @Summary Result summary
// @Tags results
// @Produce json
// @Param id path string true "Attempt ID"
// @Success 200 {object} services.ResultSummary
// @Failure 409 {object} ErrorResponse "Attempt not submitted"
// @Router /attempts/{id}/summary [get]
func (h *ResultHandler) GetSummary(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Getting result summary", "attempt_id", attemptID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	summary, err := h.resultService.GetSummary(c.Request.Context(), attemptID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetReview returns one read-only question of a submitted attempt
// @Summary Review question
// @Tags results
// @Produce json
// @Param id path string true "Attempt ID"
// @Param index query int false "Zero-based question index (default: 0)"
// @Success 200 {object} services.ReviewItem
// @Failure 400 {object} ErrorResponse
// @Router /attempts/{id}/review [get]
func (h *ResultHandler) GetReview(c *gin.Context) {
	attemptID := c.Param("id")

	index, err := strconv.Atoi(c.DefaultQuery("index", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid index",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Getting review item", "attempt_id", attemptID, "index", index)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	item, err := h.resultService.GetReview(c.Request.Context(), attemptID, userID, index)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *ResultHandler) GetReviewAll(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Getting full review", "attempt_id", attemptID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	items, err := h.resultService.GetReviewAll(c.Request.Context(), attemptID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}
