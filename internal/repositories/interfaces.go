package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	ExamID      *string               `json:"exam_id"`
	CandidateID *string               `json:"candidate_id"`
	Status      *models.AttemptStatus `json:"status"`
	Limit       int                   `json:"limit"`
	Offset      int                   `json:"offset"`
}

// AttemptFinalization is written together with the in_progress -> submitted flip.
type AttemptFinalization struct {
	Score            float64
	TotalPoints      float64
	Percentage       float64
	Passed           bool
	TimeSpentSeconds int
	SubmittedAt      time.Time
	Trigger          models.SubmitTrigger
}

type AnswerScore struct {
	QuestionID   string
	Correctness  models.Correctness
	PointsEarned *float64
}

type QuestionStat struct {
	QuestionID string `json:"question_id"`
	Correct    int64  `json:"correct"`
	Incorrect  int64  `json:"incorrect"`
	Pending    int64  `json:"pending"`
}

// ===== REPOSITORY INTERFACES =====

// ExamRepository reads exam definitions. Every method accepts an optional transaction.
type ExamRepository interface {
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Exam, error)
	GetPassages(ctx context.Context, tx *gorm.DB, examID string) ([]models.ReadingPassage, error)
	UpdatePassingScore(ctx context.Context, tx *gorm.DB, id string, passingScore *float64) error
}

type AttemptRepository interface {
	// Create returns ErrDuplicate when the candidate already has an in-progress attempt for the exam.
	Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Attempt, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Attempt, error)
	GetActive(ctx context.Context, tx *gorm.DB, examID, candidateID string) (*models.Attempt, error)
	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.Attempt, int64, error)
	UpdateTimeSpent(ctx context.Context, tx *gorm.DB, id string, seconds int) error
	// Finalize flips status only if the attempt is still in progress and reports whether it did.
	Finalize(ctx context.Context, tx *gorm.DB, id string, result AttemptFinalization) (bool, error)
	CountSubmitted(ctx context.Context, tx *gorm.DB, examID string) (int64, error)
}

type AnswerRepository interface {
	// Upsert is keyed by (attempt_id, question_id) and only overwrites the value.
	Upsert(ctx context.Context, tx *gorm.DB, answer *models.Answer) error
	ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID string) ([]models.Answer, error)
	ApplyScores(ctx context.Context, tx *gorm.DB, attemptID string, scores []AnswerScore) error
	QuestionStats(ctx context.Context, tx *gorm.DB, examID string) ([]QuestionStat, error)
}
