package handlers

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/services"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/utils"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/validator"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ExamHandler struct {
	BaseHandler
	examService   services.ExamService
	resultService services.ResultService
	validator     *validator.Validator
}

func NewExamHandler(
	examService services.ExamService,
	resultService services.ResultService,
	validator *validator.Validator,
	logger utils.Logger,
) *ExamHandler {
	return &ExamHandler{
		BaseHandler:   NewBaseHandler(logger),
		examService:   examService,
		resultService: resultService,
		validator:     validator,
	}
}

// CreateExam imports an exam definition
// @Summary Create exam
// @Tags exams
// @Accept json
// @Produce json
// @Param exam body models.ExamCreateRequest true "Exam definition"
// @Success 201 {object} models.Exam
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /exams [post]
func (h *ExamHandler) CreateExam(c *gin.Context) {
	h.LogRequest(c, "Creating exam")

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req models.ExamCreateRequest
	if !h.bindJSON(c, h.validator, &req) {
		return
	}

	exam, err := h.examService.CreateExam(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, exam)
}

// GetExam returns the exam. Candidates receive it without answer keys.
// @Summary Get exam
// @Tags exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} models.ExamView
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id} [get]
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID := c.Param("id")
	h.LogRequest(c, "Getting exam", "exam_id", examID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	exam, err := h.examService.GetExamForUser(c.Request.Context(), examID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

func (h *ExamHandler) GetPassages(c *gin.Context) {
	examID := c.Param("id")
	h.LogRequest(c, "Getting reading passages", "exam_id", examID)

	passages, err := h.examService.GetReadingPassages(c.Request.Context(), examID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, passages)
}

// UpdatePassingScore changes the threshold for future attempts only
// @Summary Update passing score
// @Tags exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param body body models.PassingScoreUpdateRequest true "New passing score"
// @Success 200 {object} models.Exam
// @Router /exams/{id}/passing-score [put]
func (h *ExamHandler) UpdatePassingScore(c *gin.Context) {
	examID := c.Param("id")
	h.LogRequest(c, "Updating passing score", "exam_id", examID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req models.PassingScoreUpdateRequest
	if !h.bindJSON(c, h.validator, &req) {
		return
	}

	exam, err := h.examService.UpdatePassingScore(c.Request.Context(), examID, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

func (h *ExamHandler) GetQuestionStats(c *gin.Context) {
	examID := c.Param("id")
	h.LogRequest(c, "Getting question stats", "exam_id", examID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	stats, err := h.resultService.GetQuestionStats(c.Request.Context(), examID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ExportResults streams every submitted attempt of the exam as an xlsx workbook
// @Summary Export results
// @Tags exams
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Exam ID"
// @Router /exams/{id}/results/export [get]
func (h *ExamHandler) ExportResults(c *gin.Context) {
	examID := c.Param("id")
	h.LogRequest(c, "Exporting results", "exam_id", examID)

	userID, ok := h.userID(c)
	if !ok {
		return
	}

	// Headers are written only once the whole workbook is built.
	var buf bytes.Buffer
	if err := h.resultService.ExportResults(c.Request.Context(), examID, userID, &buf); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%s-results.xlsx"`, examID))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
