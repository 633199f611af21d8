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

// SessionHandler exposes the attempt lifecycle: open, answer, navigate, finish.
type SessionHandler struct {
	BaseHandler
	sessions  *engine.SessionManager
	validator *validator.Validator
}

func NewSessionHandler(sessions *engine.SessionManager, validator *validator.Validator, logger utils.Logger) *SessionHandler {
	return &SessionHandler{
		BaseHandler: NewBaseHandler(logger),
		sessions:    sessions,
		validator:   validator,
	}
}

func summaryLocation(attemptID string) string {
	return "/api/v1/attempts/" + attemptID + "/summary"
}

// OpenSession opens or resumes the caller's session for the exam
// @Summary Open session
// @Tags sessions
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} engine.Snapshot
// @Router /exams/{id}/session [post]
func (h *SessionHandler) OpenSession(c *gin.Context) {
	examID := c.Param("id")
	h.LogRequest(c, "Opening session", "exam_id", examID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	session, err := h.sessions.Open(c.Request.Context(), examID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session.Snapshot())
}

// resume loads the session from the path. A submitted attempt is redirected to its summary.
func (h *SessionHandler) resume(c *gin.Context) (*engine.Session, bool) {
	userID, ok := h.userID(c)
	if !ok {
		return nil, false
	}

	attemptID := c.Param("attempt_id")
	session, err := h.sessions.Resume(c.Request.Context(), attemptID, userID)
	if err != nil {
		h.handleSessionError(c, attemptID, nil, err)
		return nil, false
	}
	return session, true
}

// handleSessionError redirects to the summary once the attempt is submitted,
// including when a session was submitted by its timer mid-request.
func (h *SessionHandler) handleSessionError(c *gin.Context, attemptID string, session *engine.Session, err error) {
	submitted := session != nil && session.State() == engine.StateSubmitted
	if errors.Is(err, services.ErrAlreadySubmitted) || (submitted && errors.Is(err, services.ErrSessionNotActive)) {
		c.Redirect(http.StatusSeeOther, summaryLocation(attemptID))
		return
	}
	h.handleServiceError(c, err)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	h.LogRequest(c, "Getting session", "attempt_id", c.Param("attempt_id"))

	session, ok := h.resume(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, session.Snapshot())
}

// SetAnswer buffers the answer; it is saved by autosave, navigation or finish.
// @Summary Set answer
// @Tags sessions
// @Accept json
// @Produce json
// @Param attempt_id path string true "Attempt ID"
// @Param question_id path string true "Question ID"
// @Param answer body models.UpsertAnswerRequest true "Answer value"
// @Success 200 {object} engine.Snapshot
// @Router /sessions/{attempt_id}/answers/{question_id} [put]
func (h *SessionHandler) SetAnswer(c *gin.Context) {
	questionID := c.Param("question_id")
	h.LogRequest(c, "Setting answer", "attempt_id", c.Param("attempt_id"), "question_id", questionID)

	session, ok := h.resume(c)
	if !ok {
		return
	}

	var req models.UpsertAnswerRequest
	if !h.bindJSON(c, h.validator, &req) {
		return
	}

	if err := session.SetAnswer(questionID, req.Value); err != nil {
		h.handleSessionError(c, session.AttemptID(), session, err)
		return
	}

	c.JSON(http.StatusOK, session.Snapshot())
}

// Navigate saves pending answers and moves to another question
// @Summary Navigate
// @Tags sessions
// @Accept json
// @Produce json
// @Param attempt_id path string true "Attempt ID"
// @Param body body models.NavigateRequest true "next, previous or jump with index"
// @Success 200 {object} engine.Snapshot
// @Failure 400 {object} ErrorResponse
// @Router /sessions/{attempt_id}/navigate [post]
func (h *SessionHandler) Navigate(c *gin.Context) {
	h.LogRequest(c, "Navigating", "attempt_id", c.Param("attempt_id"))

	session, ok := h.resume(c)
	if !ok {
		return
	}

	var req models.NavigateRequest
	if !h.bindJSON(c, h.validator, &req) {
		return
	}

	ctx := c.Request.Context()
	var (
		snap *engine.Snapshot
		err  error
	)
	switch req.Action {
	case "next":
		snap, err = session.Next(ctx)
	case "previous":
		snap, err = session.Previous(ctx)
	case "jump":
		if req.Index == nil {
			err = services.ErrInvalidNavigation
			break
		}
		snap, err = session.JumpTo(ctx, *req.Index)
	}
	if err != nil {
		h.handleSessionError(c, session.AttemptID(), session, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// Finish reports unanswered questions until confirmed, then submits and
// redirects to the summary.
// @Summary Finish attempt
// @Tags sessions
// @Accept json
// @Produce json
// @Param attempt_id path string true "Attempt ID"
// @Param body body models.FinishRequest true "Confirmation"
// @Success 200 {object} engine.FinishConfirmation
// @Success 303 "Submitted, see summary"
// @Router /sessions/{attempt_id}/finish [post]
func (h *SessionHandler) Finish(c *gin.Context) {
	h.LogRequest(c, "Finishing attempt", "attempt_id", c.Param("attempt_id"))

	session, ok := h.resume(c)
	if !ok {
		return
	}

	var req models.FinishRequest
	if !h.bindJSON(c, h.validator, &req) {
		return
	}

	result, err := session.Finish(c.Request.Context(), req.Confirm)
	if err != nil {
		h.handleSessionError(c, session.AttemptID(), session, err)
		return
	}

	if result.Confirmation != nil {
		c.JSON(http.StatusOK, result.Confirmation)
		return
	}
	c.Redirect(http.StatusSeeOther, summaryLocation(result.Attempt.ID))
}
