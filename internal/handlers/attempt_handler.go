package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/engine"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/services"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/utils"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/validator"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	sessions       *engine.SessionManager
	validator      *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	sessions *engine.SessionManager,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		sessions:       sessions,
		validator:      validator,
	}
}

// StartAttempt returns the caller's in-progress attempt or starts one
// @Summary Get or create attempt
// @Tags attempts
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} models.Attempt
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/attempts [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	examID := c.Param("id")
	h.LogRequest(c, "Starting attempt", "exam_id", examID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.GetOrCreateAttempt(c.Request.Context(), examID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// ListAttempts lists the caller's attempts, newest first
// @Summary List attempts
// @Tags attempts
// @Produce json
// @Param exam_id query string false "Exam ID"
// @Param limit query int false "Page size (default: 20, max: 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} services.AttemptListResponse
// @Router /attempts [get]
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	h.LogRequest(c, "Listing attempts")

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var params models.ListAttemptsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid query parameters",
			Details: err.Error(),
		})
		return
	}

	attempts, err := h.attemptService.ListAttempts(c.Request.Context(), userID, &params)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}

func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Getting attempt", "attempt_id", attemptID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.GetAttemptResult(c.Request.Context(), attemptID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

func (h *AttemptHandler) GetAnswers(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Getting attempt answers", "attempt_id", attemptID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	answers, err := h.attemptService.GetAttemptAnswers(c.Request.Context(), attemptID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, answers)
}

// UpsertAnswer stores one answer immediately, bypassing any session buffer
// @Summary Save answer
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param question_id path string true "Question ID"
// @Param answer body models.UpsertAnswerRequest true "Answer value"
// @Success 200 {object} models.Answer
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/answers/{question_id} [put]
func (h *AttemptHandler) UpsertAnswer(c *gin.Context) {
	attemptID := c.Param("id")
	questionID := c.Param("question_id")
	h.LogRequest(c, "Saving answer", "attempt_id", attemptID, "question_id", questionID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req models.UpsertAnswerRequest
	if !h.bindJSON(c, h.validator, &req) {
		return
	}

	answer, err := h.attemptService.UpsertAnswer(c.Request.Context(), attemptID, questionID, userID, req.Value)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, answer)
}

// SubmitAttempt scores and finalizes the attempt. Repeating it is harmless.
// A live session is submitted through the session so its buffer is saved.
// @Summary Submit attempt
// @Tags attempts
// @Produce json
// @Param id path string true "Attempt ID"
// @Success 200 {object} models.Attempt
// @Failure 503 {object} ErrorResponse
// @Router /attempts/{id}/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attemptID := c.Param("id")
	h.LogRequest(c, "Submitting attempt", "attempt_id", attemptID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	attempt, live, err := h.sessions.SubmitLive(ctx, attemptID, userID, models.TriggerManual)
	if !live {
		attempt, err = h.attemptService.SubmitAttempt(ctx, attemptID, userID, models.TriggerManual)
	}
	if err != nil && !(errors.Is(err, services.ErrAlreadySubmitted) && attempt != nil) {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}
