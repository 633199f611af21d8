package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleSelect QuestionType = "multiple_select"
	FreeText       QuestionType = "free_text"
)

func (t QuestionType) IsAutoGraded() bool {
	return t == SingleChoice || t == MultipleSelect
}

type QuestionOption struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text" validate:"required"`
}

type Question struct {
	ID     string       `json:"id" gorm:"type:uuid;primaryKey"`
	ExamID string       `json:"exam_id" gorm:"type:uuid;not null;uniqueIndex:idx_exam_question_number"`
	Number int          `json:"number" gorm:"not null;uniqueIndex:idx_exam_question_number" validate:"min=1"`
	Type   QuestionType `json:"type" gorm:"not null;size:32" validate:"required,question_type"`
	Prompt string       `json:"prompt" gorm:"type:text;not null" validate:"required"`
	Points float64      `json:"points" gorm:"not null;default:1" validate:"gt=0"`

	Options        datatypes.JSONSlice[QuestionOption] `json:"options,omitempty" gorm:"type:jsonb"`
	CorrectAnswer  *string                             `json:"correct_answer,omitempty" gorm:"size:255"`
	CorrectAnswers datatypes.JSONSlice[string]         `json:"correct_answers,omitempty" gorm:"type:jsonb"`

	PassageID   *string `json:"passage_id,omitempty" gorm:"type:uuid;index"`
	Explanation *string `json:"explanation,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Question) TableName() string {
	return "exam_questions"
}

func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return nil
}

// HasOption reports whether id names one of the question's options.
func (q *Question) HasOption(id string) bool {
	for _, opt := range q.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}
