package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultDurationMinutes = 60

type Exam struct {
	ID              string     `json:"id" gorm:"type:uuid;primaryKey"`
	Title           string     `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description     *string    `json:"description" gorm:"type:text" validate:"omitempty,max=2000"`
	DurationMinutes int        `json:"duration_minutes" gorm:"not null;default:60" validate:"min=0,max=600"`
	PassingScore    *float64   `json:"passing_score" validate:"omitempty,min=0,max=100"`
	AvailableFrom   *time.Time `json:"available_from"`
	AvailableUntil  *time.Time `json:"available_until"`
	Published       bool       `json:"published" gorm:"default:false;index"`

	CreatedBy string    `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Questions []Question       `json:"questions" gorm:"foreignKey:ExamID"`
	Passages  []ReadingPassage `json:"passages" gorm:"foreignKey:ExamID"`
}

func (Exam) TableName() string {
	return "exams"
}

func (e *Exam) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// Duration falls back to DefaultDurationMinutes when the exam has none configured.
func (e *Exam) Duration() time.Duration {
	minutes := e.DurationMinutes
	if minutes <= 0 {
		minutes = DefaultDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// IsAvailable reports whether candidates may start the exam at the given instant.
func (e *Exam) IsAvailable(now time.Time) bool {
	if !e.Published {
		return false
	}
	if e.AvailableFrom != nil && now.Before(*e.AvailableFrom) {
		return false
	}
	if e.AvailableUntil != nil && now.After(*e.AvailableUntil) {
		return false
	}
	return true
}

func (e *Exam) TotalPoints() float64 {
	var total float64
	for _, q := range e.Questions {
		total += q.Points
	}
	return total
}

func (e *Exam) QuestionByID(id string) (*Question, bool) {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i], true
		}
	}
	return nil, false
}

func (e *Exam) QuestionIDs() []string {
	ids := make([]string, len(e.Questions))
	for i, q := range e.Questions {
		ids[i] = q.ID
	}
	return ids
}

type ReadingPassage struct {
	ID           string  `json:"id" gorm:"type:uuid;primaryKey"`
	ExamID       string  `json:"exam_id" gorm:"type:uuid;not null;index"`
	Title        *string `json:"title" gorm:"size:200"`
	Content      string  `json:"content" gorm:"type:text;not null" validate:"required"`
	Author       *string `json:"author" gorm:"size:200"`
	Source       *string `json:"source" gorm:"size:500"`
	DisplayOrder int     `json:"display_order" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ReadingPassage) TableName() string {
	return "reading_passages"
}

func (p *ReadingPassage) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
