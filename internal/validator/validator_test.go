package validator

import (
	"errors"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
)

func strptr(s string) *string { return &s }

func validExam() *models.ExamCreateRequest {
	return &models.ExamCreateRequest{
		Title:           "Reading comprehension",
		DurationMinutes: 60,
		Passages:        []models.PassageCreateRequest{{Key: "p1", Content: "Once upon a time"}},
		Questions: []models.QuestionCreateRequest{
			{
				Number:        1,
				Type:          models.SingleChoice,
				Prompt:        "Pick one",
				Points:        1,
				Options:       []models.QuestionOption{{ID: "A", Text: "a"}, {ID: "B", Text: "b"}},
				CorrectAnswer: strptr("A"),
				PassageKey:    strptr("p1"),
			},
			{Number: 2, Type: models.FreeText, Prompt: "Explain", Points: 2},
		},
	}
}

func TestValidateExamCreate(t *testing.T) {
	v := New()

	tests := []struct {
		name      string
		mutate    func(*models.ExamCreateRequest)
		wantField string
	}{
		{"valid", func(*models.ExamCreateRequest) {}, ""},
		{"missing title", func(r *models.ExamCreateRequest) { r.Title = "" }, "ExamCreateRequest.title"},
		{"unknown type", func(r *models.ExamCreateRequest) { r.Questions[1].Type = "essay" }, "ExamCreateRequest.questions[1].type"},
		{"key not an option", func(r *models.ExamCreateRequest) { r.Questions[0].CorrectAnswer = strptr("Z") }, "questions[0].correct_answer"},
		{"duplicate number", func(r *models.ExamCreateRequest) { r.Questions[1].Number = 1 }, "questions[1].number"},
		{"unknown passage", func(r *models.ExamCreateRequest) { r.Questions[0].PassageKey = strptr("nope") }, "questions[0].passage_key"},
		{"window reversed", func(r *models.ExamCreateRequest) {
			from := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
			until := from.Add(-time.Hour)
			r.AvailableFrom, r.AvailableUntil = &from, &until
		}, "available_until"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validExam()
			tt.mutate(req)

			err := v.ValidateExamCreate(req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			var ve ValidationErrors
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			found := false
			for _, e := range ve {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %+v", tt.wantField, ve)
			}
		})
	}
}

func TestValidate_NavigateRequest(t *testing.T) {
	v := New()

	if err := v.Validate(&models.NavigateRequest{Action: "next"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v.Validate(&models.NavigateRequest{Action: "sideways"}); err == nil {
		t.Error("expected error for unknown action")
	}
}
