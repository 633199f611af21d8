package events

import (
	"context"
	"time"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
)

const (
	EventSource  = "exam-attempt-engine"
	EventVersion = "1.0"

	TypeAttemptStarted   = "attempt.started"
	TypeAttemptSubmitted = "attempt.submitted"
)

// Event is the envelope published for every attempt lifecycle change
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type AttemptStartedData struct {
	AttemptID   string    `json:"attempt_id"`
	ExamID      string    `json:"exam_id"`
	CandidateID string    `json:"candidate_id"`
	StartedAt   time.Time `json:"started_at"`
	Deadline    time.Time `json:"deadline"`
}

type AttemptSubmittedData struct {
	AttemptID   string                `json:"attempt_id"`
	ExamID      string                `json:"exam_id"`
	CandidateID string                `json:"candidate_id"`
	Trigger     *models.SubmitTrigger `json:"trigger"`
	Score       *float64              `json:"score"`
	TotalPoints *float64              `json:"total_points"`
	Percentage  *float64              `json:"percentage"`
	Passed      *bool                 `json:"passed"`
	SubmittedAt *time.Time            `json:"submitted_at"`
}

// EventPublisher publishes attempt lifecycle events. Publishing is best effort:
// callers log failures and never roll back on them.
type EventPublisher interface {
	PublishAttemptStarted(ctx context.Context, attempt *models.Attempt) error
	PublishAttemptSubmitted(ctx context.Context, attempt *models.Attempt) error
	Close() error
}

func attemptStarted(attempt *models.Attempt) AttemptStartedData {
	return AttemptStartedData{
		AttemptID:   attempt.ID,
		ExamID:      attempt.ExamID,
		CandidateID: attempt.CandidateID,
		StartedAt:   attempt.StartedAt,
		Deadline:    attempt.Deadline(),
	}
}

func attemptSubmitted(attempt *models.Attempt) AttemptSubmittedData {
	return AttemptSubmittedData{
		AttemptID:   attempt.ID,
		ExamID:      attempt.ExamID,
		CandidateID: attempt.CandidateID,
		Trigger:     attempt.SubmitTrigger,
		Score:       attempt.Score,
		TotalPoints: attempt.TotalPoints,
		Percentage:  attempt.Percentage,
		Passed:      attempt.Passed,
		SubmittedAt: attempt.SubmittedAt,
	}
}
