package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/validator"
)

func TestGetExamForUser(t *testing.T) {
	ts := newTestServices(t)
	exam := ts.seedExam(t, 2, nil)
	ts.repo.addUser("teacher-1", models.RoleTeacher)
	ctx := context.Background()

	t.Run("candidate sees no answer key", func(t *testing.T) {
		got, err := ts.exams.GetExamForUser(ctx, exam.ID, "cand-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		view, ok := got.(*models.ExamView)
		if !ok {
			t.Fatalf("expected *models.ExamView, got %T", got)
		}
		if len(view.Questions) != 2 || len(view.Questions[0].Options) != 2 {
			t.Errorf("unexpected view: %+v", view)
		}

		body, _ := json.Marshal(view)
		if strings.Contains(string(body), "correct_answer") || strings.Contains(string(body), "explanation") {
			t.Errorf("answer key leaked: %s", body)
		}
	})

	t.Run("staff sees the full definition", func(t *testing.T) {
		got, err := ts.exams.GetExamForUser(ctx, exam.ID, "teacher-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		full, ok := got.(*models.Exam)
		if !ok || full.Questions[0].CorrectAnswer == nil {
			t.Errorf("expected full exam, got %T", got)
		}
	})

	t.Run("unknown exam", func(t *testing.T) {
		if _, err := ts.exams.GetExamForUser(ctx, "missing", "cand-1"); !errors.Is(err, ErrExamNotFound) {
			t.Errorf("expected ErrExamNotFound, got %v", err)
		}
	})
}

func TestCreateExam(t *testing.T) {
	ts := newTestServices(t)
	ts.repo.addUser("teacher-1", models.RoleTeacher)
	ctx := context.Background()

	key := "b"
	passageKey := "p1"
	req := &models.ExamCreateRequest{
		Title:     "Reading 1",
		Published: true,
		Passages:  []models.PassageCreateRequest{{Key: passageKey, Content: "Once upon a time", DisplayOrder: 1}},
		Questions: []models.QuestionCreateRequest{
			{
				Number:        1,
				Type:          models.SingleChoice,
				Prompt:        "Who?",
				Points:        1,
				Options:       []models.QuestionOption{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
				CorrectAnswer: &key,
				PassageKey:    &passageKey,
			},
			{Number: 2, Type: models.FreeText, Prompt: "Why?", Points: 2},
		},
	}

	t.Run("candidates cannot import", func(t *testing.T) {
		if _, err := ts.exams.CreateExam(ctx, req, "cand-1"); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("invalid request", func(t *testing.T) {
		bad := *req
		bad.Questions = nil
		_, err := ts.exams.CreateExam(ctx, &bad, "teacher-1")
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			t.Errorf("expected validation errors, got %v", err)
		}
	})

	t.Run("links questions to passages", func(t *testing.T) {
		exam, err := ts.exams.CreateExam(ctx, req, "teacher-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if exam.DurationMinutes != models.DefaultDurationMinutes {
			t.Errorf("expected default duration, got %d", exam.DurationMinutes)
		}
		if len(exam.Passages) != 1 || exam.Questions[0].PassageID == nil || *exam.Questions[0].PassageID != exam.Passages[0].ID {
			t.Errorf("question not linked to passage: %+v", exam.Questions[0])
		}
		if exam.Questions[1].PassageID != nil {
			t.Error("expected question 2 without passage")
		}

		passages, err := ts.exams.GetReadingPassages(ctx, exam.ID)
		if err != nil || len(passages) != 1 {
			t.Errorf("expected 1 passage, got %d (%v)", len(passages), err)
		}
	})
}

func TestUpdatePassingScore(t *testing.T) {
	ts := newTestServices(t)
	exam := ts.seedExam(t, 1, float(60))
	ts.repo.addUser("admin-1", models.RoleAdmin)
	ctx := context.Background()

	if _, err := ts.exams.UpdatePassingScore(ctx, exam.ID, &models.PassingScoreUpdateRequest{PassingScore: float(70)}, "cand-1"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	if _, err := ts.exams.UpdatePassingScore(ctx, exam.ID, &models.PassingScoreUpdateRequest{PassingScore: float(170)}, "admin-1"); err == nil {
		t.Error("expected validation error for 170")
	}

	updated, err := ts.exams.UpdatePassingScore(ctx, exam.ID, &models.PassingScoreUpdateRequest{PassingScore: float(70)}, "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *updated.PassingScore != 70 {
		t.Errorf("expected 70, got %v", *updated.PassingScore)
	}
}
