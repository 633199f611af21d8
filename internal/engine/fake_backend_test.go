package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/services"
)

// fakeBackend stores one exam and its attempts in memory.
type fakeBackend struct {
	mu    sync.Mutex
	clock *fakeClock
	exam  *models.Exam

	attempts  map[string]*models.Attempt
	answers   map[string]map[string]json.RawMessage
	timeSpent map[string]int
	seq       int

	// startOffset backdates new attempts
	startOffset time.Duration

	upsertErr     error
	upsertEntered chan string
	upsertGate    chan struct{}
	upsertCalls   int

	submitErrs       []error
	submitEntered    chan struct{}
	submitGate       chan struct{}
	submitCalls      int
	triggers         []models.SubmitTrigger
	answersAtSubmit  int
}

func newFakeBackend(clock *fakeClock, questions int) *fakeBackend {
	exam := &models.Exam{ID: "exam-1", Title: "Reading", DurationMinutes: 60, Published: true}
	passageID := "p1"
	exam.Passages = []models.ReadingPassage{{ID: passageID, ExamID: exam.ID, Content: "Once upon a time"}}
	key := "A"
	for i := questions; i >= 1; i-- {
		q := models.Question{
			ID:            fmt.Sprintf("q%d", i),
			ExamID:        exam.ID,
			Number:        i,
			Type:          models.SingleChoice,
			Prompt:        fmt.Sprintf("Question %d", i),
			Points:        1,
			Options:       []models.QuestionOption{{ID: "A", Text: "a"}, {ID: "B", Text: "b"}},
			CorrectAnswer: &key,
		}
		if i == 1 {
			q.PassageID = &passageID
		}
		exam.Questions = append(exam.Questions, q)
	}

	return &fakeBackend{
		clock:     clock,
		exam:      exam,
		attempts:  make(map[string]*models.Attempt),
		answers:   make(map[string]map[string]json.RawMessage),
		timeSpent: make(map[string]int),
	}
}

func (b *fakeBackend) GetExamDefinition(ctx context.Context, examID string) (*models.Exam, error) {
	if examID != b.exam.ID {
		return nil, services.ErrExamNotFound
	}
	return b.exam, nil
}

func (b *fakeBackend) GetReadingPassages(ctx context.Context, examID string) ([]models.ReadingPassage, error) {
	return b.exam.Passages, nil
}

func (b *fakeBackend) GetOrCreateAttempt(ctx context.Context, examID, candidateID string) (*models.Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.attempts {
		if a.ExamID == examID && a.CandidateID == candidateID && !a.IsSubmitted() {
			out := *a
			return &out, nil
		}
	}
	b.seq++
	a := &models.Attempt{
		ID:              fmt.Sprintf("attempt-%d", b.seq),
		ExamID:          examID,
		CandidateID:     candidateID,
		Status:          models.AttemptInProgress,
		StartedAt:       b.clock.Now().Add(-b.startOffset),
		DurationMinutes: b.exam.DurationMinutes,
	}
	b.attempts[a.ID] = a
	b.answers[a.ID] = make(map[string]json.RawMessage)
	out := *a
	return &out, nil
}

func (b *fakeBackend) GetAttemptResult(ctx context.Context, attemptID, userID string) (*models.Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.attempts[attemptID]
	if !ok {
		return nil, services.ErrAttemptNotFound
	}
	out := *a
	return &out, nil
}

func (b *fakeBackend) GetAttemptAnswers(ctx context.Context, attemptID, userID string) ([]models.Answer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Answer
	for qid, v := range b.answers[attemptID] {
		out = append(out, models.Answer{AttemptID: attemptID, QuestionID: qid, Value: []byte(v)})
	}
	return out, nil
}

func (b *fakeBackend) UpsertAnswer(ctx context.Context, attemptID, questionID, candidateID string, value json.RawMessage) (*models.Answer, error) {
	if b.upsertGate != nil {
		if b.upsertEntered != nil {
			b.upsertEntered <- questionID
		}
		<-b.upsertGate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.upsertCalls++
	if b.upsertErr != nil {
		return nil, b.upsertErr
	}
	if a := b.attempts[attemptID]; a != nil && a.IsSubmitted() {
		return nil, services.ErrAlreadySubmitted
	}
	b.answers[attemptID][questionID] = value
	return &models.Answer{AttemptID: attemptID, QuestionID: questionID, Value: []byte(value)}, nil
}

func (b *fakeBackend) SubmitAttempt(ctx context.Context, attemptID, candidateID string, trigger models.SubmitTrigger) (*models.Attempt, error) {
	if b.submitGate != nil {
		if b.submitEntered != nil {
			b.submitEntered <- struct{}{}
		}
		<-b.submitGate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitCalls++
	b.triggers = append(b.triggers, trigger)
	b.answersAtSubmit = len(b.answers[attemptID])

	if len(b.submitErrs) > 0 {
		err := b.submitErrs[0]
		b.submitErrs = b.submitErrs[1:]
		return nil, err
	}

	a := b.attempts[attemptID]
	if a.IsSubmitted() {
		out := *a
		return &out, services.ErrAlreadySubmitted
	}
	now := b.clock.Now()
	a.Status = models.AttemptSubmitted
	a.SubmittedAt = &now
	a.SubmitTrigger = &trigger
	out := *a
	return &out, nil
}

func (b *fakeBackend) RecordTimeSpent(ctx context.Context, attemptID string, seconds int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeSpent[attemptID] = max(b.timeSpent[attemptID], seconds)
	return nil
}

func (b *fakeBackend) stats() (upserts, submits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upsertCalls, b.submitCalls
}

func (b *fakeBackend) stored(attemptID, questionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.answers[attemptID][questionID])
}

func newTestManager(t *testing.T, backend *fakeBackend, config Config) *SessionManager {
	t.Helper()
	if config.AutosaveInterval == 0 {
		config.AutosaveInterval = time.Hour
	}
	config.TickInterval = time.Millisecond
	config.SubmitRetryInterval = time.Millisecond
	config.Clock = backend.clock

	m := NewSessionManager(backend, config, discardLogger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func transientErr(msg string) error {
	return fmt.Errorf("%w: %s", services.ErrTransientIO, msg)
}
