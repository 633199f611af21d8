package services

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/scoring"
)

// ===== RESPONSE DTOs =====

type AttemptListResponse struct {
	Attempts []*models.Attempt `json:"attempts"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type BucketBreakdown struct {
	Correct    float64 `json:"correct"`
	Incorrect  float64 `json:"incorrect"`
	Pending    float64 `json:"pending"`
	Unanswered float64 `json:"unanswered"`
}

// ResultSummary is the post-submission view. Pass/fail always uses the snapshot on the attempt.
type ResultSummary struct {
	AttemptID        string                `json:"attempt_id"`
	ExamID           string                `json:"exam_id"`
	ExamTitle        string                `json:"exam_title"`
	Score            float64               `json:"score"`
	TotalPoints      float64               `json:"total_points"`
	Percentage       float64               `json:"percentage"`
	PassingScore     *float64              `json:"passing_score"`
	Passed           bool                  `json:"passed"`
	TotalQuestions   int                   `json:"total_questions"`
	Correct          int                   `json:"correct"`
	Incorrect        int                   `json:"incorrect"`
	Pending          int                   `json:"pending"`
	Unanswered       int                   `json:"unanswered"`
	Breakdown        BucketBreakdown       `json:"breakdown"`
	TimeSpentSeconds int                   `json:"time_spent_seconds"`
	SubmittedAt      *time.Time            `json:"submitted_at"`
	Trigger          *models.SubmitTrigger `json:"trigger"`
}

type ReviewItem struct {
	Index       int  `json:"index"`
	Total       int  `json:"total"`
	HasPrevious bool `json:"has_previous"`
	HasNext     bool `json:"has_next"`
	ReadOnly    bool `json:"read_only"`

	QuestionID     string                  `json:"question_id"`
	Number         int                     `json:"number"`
	Type           models.QuestionType     `json:"type"`
	Prompt         string                  `json:"prompt"`
	Options        []models.QuestionOption `json:"options,omitempty"`
	GivenAnswer    json.RawMessage         `json:"given_answer"`
	CorrectAnswer  interface{}             `json:"correct_answer"`
	Outcome        scoring.Outcome         `json:"outcome"`
	PointsPossible float64                 `json:"points_possible"`
	PointsEarned   *float64                `json:"points_earned"`
	Explanation    *string                 `json:"explanation,omitempty"`
	Passage        *models.ReadingPassage  `json:"passage,omitempty"`
}

type QuestionStatView struct {
	QuestionID  string  `json:"question_id"`
	Number      int     `json:"number"`
	Answered    int64   `json:"answered"`
	Correct     int64   `json:"correct"`
	Incorrect   int64   `json:"incorrect"`
	Pending     int64   `json:"pending"`
	CorrectRate float64 `json:"correct_rate"`
}

type ExamStats struct {
	ExamID            string             `json:"exam_id"`
	SubmittedAttempts int64              `json:"submitted_attempts"`
	Questions         []QuestionStatView `json:"questions"`
}

// ===== SERVICE INTERFACES =====

// ExamService serves exam definitions. Definitions and passages are read through the cache.
type ExamService interface {
	GetExamDefinition(ctx context.Context, examID string) (*models.Exam, error)
	GetReadingPassages(ctx context.Context, examID string) ([]models.ReadingPassage, error)
	// GetExamForUser returns the full definition to staff and an ExamView without answer keys to candidates.
	GetExamForUser(ctx context.Context, examID, userID string) (interface{}, error)
	CreateExam(ctx context.Context, req *models.ExamCreateRequest, creatorID string) (*models.Exam, error)
	UpdatePassingScore(ctx context.Context, examID string, req *models.PassingScoreUpdateRequest, userID string) (*models.Exam, error)
	CheckAvailability(exam *models.Exam) error
}

type AttemptService interface {
	// GetOrCreateAttempt returns the candidate's in-progress attempt or starts a new one.
	GetOrCreateAttempt(ctx context.Context, examID, candidateID string) (*models.Attempt, error)
	UpsertAnswer(ctx context.Context, attemptID, questionID, candidateID string, value json.RawMessage) (*models.Answer, error)
	// SubmitAttempt scores and finalizes the attempt. When the attempt was already
	// submitted it returns the stored attempt together with ErrAlreadySubmitted.
	SubmitAttempt(ctx context.Context, attemptID, candidateID string, trigger models.SubmitTrigger) (*models.Attempt, error)
	GetAttemptResult(ctx context.Context, attemptID, userID string) (*models.Attempt, error)
	GetAttemptAnswers(ctx context.Context, attemptID, userID string) ([]models.Answer, error)
	RecordTimeSpent(ctx context.Context, attemptID string, seconds int) error
	ListAttempts(ctx context.Context, candidateID string, params *models.ListAttemptsParams) (*AttemptListResponse, error)
}

type ResultService interface {
	GetSummary(ctx context.Context, attemptID, userID string) (*ResultSummary, error)
	GetReview(ctx context.Context, attemptID, userID string, index int) (*ReviewItem, error)
	GetReviewAll(ctx context.Context, attemptID, userID string) ([]ReviewItem, error)
	GetQuestionStats(ctx context.Context, examID, userID string) (*ExamStats, error)
	ExportResults(ctx context.Context, examID, userID string, w io.Writer) error
}

// ServiceManager manages all services and their lifecycle
type ServiceManager interface {
	Exam() ExamService
	Attempt() AttemptService
	Result() ResultService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
