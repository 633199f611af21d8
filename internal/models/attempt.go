package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
)

type SubmitTrigger string

const (
	TriggerManual  SubmitTrigger = "manual"
	TriggerTimeout SubmitTrigger = "timeout"
)

// Correctness is tri-state: free-text answers stay pending until graded elsewhere.
type Correctness string

const (
	Correct   Correctness = "correct"
	Incorrect Correctness = "incorrect"
	Pending   Correctness = "pending"
)

type Attempt struct {
	ID          string        `json:"id" gorm:"type:uuid;primaryKey"`
	ExamID      string        `json:"exam_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_attempt_active,where:status = 'in_progress'"`
	CandidateID string        `json:"candidate_id" gorm:"not null;size:255;index;uniqueIndex:idx_attempt_active,where:status = 'in_progress'"`
	Status      AttemptStatus `json:"status" gorm:"not null;default:in_progress;size:20;index"`

	// Snapshots taken at creation so later edits to the exam do not change this attempt.
	StartedAt            time.Time `json:"started_at" gorm:"not null"`
	DurationMinutes      int       `json:"duration_minutes" gorm:"not null"`
	PassingScoreSnapshot *float64  `json:"passing_score"`

	TimeSpentSeconds int `json:"time_spent_seconds" gorm:"not null;default:0"`

	Score         *float64       `json:"score"`
	TotalPoints   *float64       `json:"total_points"`
	Percentage    *float64       `json:"percentage"`
	Passed        *bool          `json:"passed"`
	SubmittedAt   *time.Time     `json:"submitted_at"`
	SubmitTrigger *SubmitTrigger `json:"submit_trigger" gorm:"size:20"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Attempt) TableName() string {
	return "attempts"
}

func (a *Attempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (a *Attempt) Duration() time.Duration {
	minutes := a.DurationMinutes
	if minutes <= 0 {
		minutes = DefaultDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (a *Attempt) Deadline() time.Time {
	return a.StartedAt.Add(a.Duration())
}

func (a *Attempt) IsSubmitted() bool {
	return a.Status == AttemptSubmitted
}

type Answer struct {
	ID         string         `json:"id" gorm:"type:uuid;primaryKey"`
	AttemptID  string         `json:"attempt_id" gorm:"type:uuid;not null;uniqueIndex:idx_answer_attempt_question"`
	QuestionID string         `json:"question_id" gorm:"type:uuid;not null;uniqueIndex:idx_answer_attempt_question"`
	Value      datatypes.JSON `json:"value" gorm:"type:jsonb"`

	// Null until the attempt is scored.
	Correctness  *Correctness `json:"correctness" gorm:"size:20"`
	PointsEarned *float64     `json:"points_earned"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Answer) TableName() string {
	return "answers"
}

func (a *Answer) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
