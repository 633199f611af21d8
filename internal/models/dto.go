package models

import (
	"encoding/json"
	"time"
)

// ===== EXAM IMPORT =====

type ExamCreateRequest struct {
	Title           string                  `json:"title" validate:"required,min=1,max=200"`
	Description     *string                 `json:"description" validate:"omitempty,max=2000"`
	DurationMinutes int                     `json:"duration_minutes" validate:"min=0,max=600"`
	PassingScore    *float64                `json:"passing_score" validate:"omitempty,min=0,max=100"`
	AvailableFrom   *time.Time              `json:"available_from"`
	AvailableUntil  *time.Time              `json:"available_until"`
	Published       bool                    `json:"published"`
	Passages        []PassageCreateRequest  `json:"passages" validate:"dive"`
	Questions       []QuestionCreateRequest `json:"questions" validate:"required,min=1,dive"`
}

type PassageCreateRequest struct {
	// Key lets questions in the same request reference the passage before it has an ID.
	Key          string  `json:"key" validate:"required,max=64"`
	Title        *string `json:"title" validate:"omitempty,max=200"`
	Content      string  `json:"content" validate:"required"`
	Author       *string `json:"author" validate:"omitempty,max=200"`
	Source       *string `json:"source" validate:"omitempty,max=500"`
	DisplayOrder int     `json:"display_order"`
}

type QuestionCreateRequest struct {
	Number         int              `json:"number" validate:"required,min=1"`
	Type           QuestionType     `json:"type" validate:"required,question_type"`
	Prompt         string           `json:"prompt" validate:"required"`
	Points         float64          `json:"points" validate:"gt=0,max=1000"`
	Options        []QuestionOption `json:"options" validate:"omitempty,dive"`
	CorrectAnswer  *string          `json:"correct_answer"`
	CorrectAnswers []string         `json:"correct_answers"`
	PassageKey     *string          `json:"passage_key"`
	Explanation    *string          `json:"explanation"`
}

type PassingScoreUpdateRequest struct {
	PassingScore *float64 `json:"passing_score" validate:"omitempty,min=0,max=100"`
}

// ===== ATTEMPT =====

type UpsertAnswerRequest struct {
	Value json.RawMessage `json:"value"`
}

type NavigateRequest struct {
	Action string `json:"action" validate:"required,nav_action"`
	Index  *int   `json:"index" validate:"omitempty,min=0"`
}

type FinishRequest struct {
	Confirm bool `json:"confirm"`
}

type ListAttemptsParams struct {
	ExamID *string `form:"exam_id" json:"exam_id" validate:"omitempty,uuid"`
	Limit  int     `form:"limit" json:"limit" validate:"omitempty,min=1,max=100"`
	Offset int     `form:"offset" json:"offset" validate:"omitempty,min=0"`
}

// ===== VIEWS =====

// QuestionView is a question as shown to a candidate: no answer key, no explanation.
type QuestionView struct {
	ID        string           `json:"id"`
	Number    int              `json:"number"`
	Type      QuestionType     `json:"type"`
	Prompt    string           `json:"prompt"`
	Points    float64          `json:"points"`
	Options   []QuestionOption `json:"options,omitempty"`
	PassageID *string          `json:"passage_id,omitempty"`
}

type ExamView struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     *string        `json:"description"`
	DurationMinutes int            `json:"duration_minutes"`
	PassingScore    *float64       `json:"passing_score"`
	AvailableFrom   *time.Time     `json:"available_from"`
	AvailableUntil  *time.Time     `json:"available_until"`
	Questions       []QuestionView `json:"questions"`
}
