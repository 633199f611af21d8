package services

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/scoring"
)

func submittedAttempt(t *testing.T, ts *testServices, exam *models.Exam, candidateID string, answers map[int]string) *models.Attempt {
	t.Helper()
	ctx := context.Background()

	attempt, err := ts.attempts.GetOrCreateAttempt(ctx, exam.ID, candidateID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for number, value := range answers {
		ts.answer(t, exam, attempt.ID, candidateID, number, value)
	}
	submitted, err := ts.attempts.SubmitAttempt(ctx, attempt.ID, candidateID, models.TriggerManual)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return submitted
}

func TestGetSummary(t *testing.T) {
	ts := newTestServices(t)
	exam := ts.seedExam(t, 4, float(80))
	attempt := submittedAttempt(t, ts, exam, "cand-1", map[int]string{1: `"A"`, 2: `"A"`, 3: `"A"`, 4: `""`})

	summary, err := ts.results.GetSummary(context.Background(), attempt.ID, "cand-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if summary.Score != 3 || summary.TotalPoints != 4 || summary.Percentage != 75.0 {
		t.Errorf("expected 3/4 = 75.0, got %v/%v = %v", summary.Score, summary.TotalPoints, summary.Percentage)
	}
	if summary.Passed {
		t.Error("expected fail against 80")
	}
	if summary.Correct != 3 || summary.Unanswered != 1 || summary.Incorrect != 0 || summary.TotalQuestions != 4 {
		t.Errorf("unexpected counts: %+v", summary)
	}
	want := BucketBreakdown{Correct: 75, Unanswered: 25}
	if summary.Breakdown != want {
		t.Errorf("expected breakdown %+v, got %+v", want, summary.Breakdown)
	}
}

func TestGetSummary_NotSubmitted(t *testing.T) {
	ts := newTestServices(t)
	exam := ts.seedExam(t, 1, nil)
	attempt, _ := ts.attempts.GetOrCreateAttempt(context.Background(), exam.ID, "cand-1")

	if _, err := ts.results.GetSummary(context.Background(), attempt.ID, "cand-1"); !errors.Is(err, ErrAttemptNotSubmitted) {
		t.Errorf("expected ErrAttemptNotSubmitted, got %v", err)
	}
}

func TestGetSummary_Access(t *testing.T) {
	ts := newTestServices(t)
	exam := ts.seedExam(t, 1, nil)
	attempt := submittedAttempt(t, ts, exam, "cand-1", nil)
	ts.repo.addUser("teacher-1", models.RoleTeacher)
	ts.repo.addUser("cand-2", models.RoleStudent)

	tests := []struct {
		user    string
		wantErr error
	}{
		{"cand-1", nil},
		{"teacher-1", nil},
		{"cand-2", ErrUnauthorized},
		{"stranger", ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			_, err := ts.results.GetSummary(context.Background(), attempt.ID, tt.user)
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetReview(t *testing.T) {
	ts := newTestServices(t)
	exam := ts.seedExam(t, 3, nil)
	attempt := submittedAttempt(t, ts, exam, "cand-1", map[int]string{1: `"A"`, 2: `"B"`})
	ctx := context.Background()

	tests := []struct {
		index       int
		outcome     scoring.Outcome
		given       string
		hasPrevious bool
		hasNext     bool
	}{
		{0, scoring.OutcomeCorrect, `"A"`, false, true},
		{1, scoring.OutcomeIncorrect, `"B"`, true, true},
		{2, scoring.OutcomeUnanswered, "", true, false},
	}
	for _, tt := range tests {
		item, err := ts.results.GetReview(ctx, attempt.ID, "cand-1", tt.index)
		if err != nil {
			t.Fatalf("review %d: %v", tt.index, err)
		}
		if item.Outcome != tt.outcome {
			t.Errorf("index %d: expected %s, got %s", tt.index, tt.outcome, item.Outcome)
		}
		if string(item.GivenAnswer) != tt.given {
			t.Errorf("index %d: expected given %q, got %q", tt.index, tt.given, item.GivenAnswer)
		}
		if item.HasPrevious != tt.hasPrevious || item.HasNext != tt.hasNext {
			t.Errorf("index %d: unexpected navigation %+v", tt.index, item)
		}
		if !item.ReadOnly || item.Total != 3 || item.CorrectAnswer != "A" || item.Explanation == nil {
			t.Errorf("index %d: unexpected item %+v", tt.index, item)
		}
	}

	if _, err := ts.results.GetReview(ctx, attempt.ID, "cand-1", 3); !errors.Is(err, ErrReviewIndexOutOfRange) {
		t.Errorf("expected ErrReviewIndexOutOfRange, got %v", err)
	}
}

func TestGetReviewAll_IsRepeatable(t *testing.T) {
	ts := newTestServices(t)
	exam := ts.seedExam(t, 5, nil)
	attempt := submittedAttempt(t, ts, exam, "cand-1", map[int]string{2: `"A"`, 5: `"B"`})
	ctx := context.Background()

	first, err := ts.results.GetReviewAll(ctx, attempt.ID, "cand-1")
	if err != nil {
		t.Fatalf("review all: %v", err)
	}
	second, err := ts.results.GetReviewAll(ctx, attempt.ID, "cand-1")
	if err != nil {
		t.Fatalf("review all: %v", err)
	}

	if len(first) != 5 {
		t.Fatalf("expected 5 items, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical output on repeated reads")
	}
	for i, item := range first {
		if item.Number != i+1 {
			t.Errorf("expected question %d at index %d, got %d", i+1, i, item.Number)
		}
	}
}

func TestGetQuestionStatsAndExport(t *testing.T) {
	ts := newTestServices(t)
	exam := ts.seedExam(t, 2, float(50))
	ts.repo.addUser("teacher-1", models.RoleTeacher)
	submittedAttempt(t, ts, exam, "cand-1", map[int]string{1: `"A"`, 2: `"A"`})
	submittedAttempt(t, ts, exam, "cand-2", map[int]string{1: `"B"`, 2: `"A"`})
	ctx := context.Background()

	if _, err := ts.results.GetQuestionStats(ctx, exam.ID, "cand-1"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected candidates to be refused, got %v", err)
	}

	stats, err := ts.results.GetQuestionStats(ctx, exam.ID, "teacher-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.SubmittedAttempts != 2 || len(stats.Questions) != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if q1 := stats.Questions[0]; q1.Correct != 1 || q1.Incorrect != 1 || q1.CorrectRate != 50 {
		t.Errorf("unexpected question 1 stats: %+v", q1)
	}
	if q2 := stats.Questions[1]; q2.Correct != 2 || q2.CorrectRate != 100 {
		t.Errorf("unexpected question 2 stats: %+v", q2)
	}

	var buf bytes.Buffer
	if err := ts.results.ExportResults(ctx, exam.ID, "teacher-1", &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	if err != nil {
		t.Fatalf("read results sheet: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "Attempt ID" {
		t.Errorf("expected header plus 2 attempts, got %v", rows)
	}

	questionRows, err := f.GetRows(questionsSheet)
	if err != nil {
		t.Fatalf("read questions sheet: %v", err)
	}
	if len(questionRows) != 3 {
		t.Errorf("expected header plus 2 questions, got %d rows", len(questionRows))
	}
}

func TestResults_UseStoredGrades(t *testing.T) {
	ts := newTestServices(t)
	exam := ts.seedExam(t, 3, nil)
	attempt := submittedAttempt(t, ts, exam, "cand-1", map[int]string{1: `"A"`, 2: `"B"`, 3: `"A"`})
	ctx := context.Background()

	// Question 2 was answered "B" against key "A"; the key changes after submission.
	ts.repo.setKey(exam.ID, 2, "B")

	tests := []struct {
		index   int
		outcome scoring.Outcome
		points  float64
	}{
		{0, scoring.OutcomeCorrect, 1},
		{1, scoring.OutcomeIncorrect, 0},
		{2, scoring.OutcomeCorrect, 1},
	}
	for _, tt := range tests {
		item, err := ts.results.GetReview(ctx, attempt.ID, "cand-1", tt.index)
		if err != nil {
			t.Fatalf("review %d: %v", tt.index, err)
		}
		if item.Outcome != tt.outcome {
			t.Errorf("index %d: expected %s, got %s", tt.index, tt.outcome, item.Outcome)
		}
		if item.PointsEarned == nil || *item.PointsEarned != tt.points {
			t.Errorf("index %d: expected %v points, got %v", tt.index, tt.points, item.PointsEarned)
		}
	}

	summary, err := ts.results.GetSummary(ctx, attempt.ID, "cand-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Correct != 2 || summary.Incorrect != 1 || summary.Unanswered != 0 {
		t.Errorf("expected counts from stored grades, got %+v", summary)
	}
	if summary.Score != 2 {
		t.Errorf("expected the score stored at submission, got %v", summary.Score)
	}
}
