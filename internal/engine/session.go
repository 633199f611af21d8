package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/services"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/validator"
)

// State is the lifecycle position of a session.
type State string

const (
	StateLoading    State = "loading"
	StateInProgress State = "in_progress"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateError      State = "error"
)

// Backend is the persistence boundary a session talks to.
type Backend interface {
	AnswerSaver
	GetExamDefinition(ctx context.Context, examID string) (*models.Exam, error)
	GetReadingPassages(ctx context.Context, examID string) ([]models.ReadingPassage, error)
	GetOrCreateAttempt(ctx context.Context, examID, candidateID string) (*models.Attempt, error)
	GetAttemptResult(ctx context.Context, attemptID, userID string) (*models.Attempt, error)
	GetAttemptAnswers(ctx context.Context, attemptID, userID string) ([]models.Answer, error)
	SubmitAttempt(ctx context.Context, attemptID, candidateID string, trigger models.SubmitTrigger) (*models.Attempt, error)
	RecordTimeSpent(ctx context.Context, attemptID string, seconds int) error
}

type serviceBackend struct {
	services.ExamService
	services.AttemptService
}

// NewBackend joins the exam and attempt services into a session backend.
func NewBackend(exams services.ExamService, attempts services.AttemptService) Backend {
	return serviceBackend{ExamService: exams, AttemptService: attempts}
}

// Config tunes session timing. Zero fields take defaults.
type Config struct {
	AutosaveInterval    time.Duration
	TickInterval        time.Duration
	SubmitRetryInterval time.Duration
	Clock               Clock
}

func (c Config) withDefaults() Config {
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = 10 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SubmitRetryInterval <= 0 {
		c.SubmitRetryInterval = 3 * time.Second
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	return c
}

// FinishConfirmation is what the candidate confirms before submitting.
type FinishConfirmation struct {
	Unanswered int `json:"unanswered"`
	Total      int `json:"total"`
}

// FinishResult carries either the confirmation prompt or the submitted attempt.
type FinishResult struct {
	Confirmation *FinishConfirmation `json:"confirmation,omitempty"`
	Attempt      *models.Attempt     `json:"attempt,omitempty"`
}

// Snapshot is the candidate-facing view of a session at one instant.
type Snapshot struct {
	AttemptID        string                 `json:"attempt_id"`
	ExamID           string                 `json:"exam_id"`
	ExamTitle        string                 `json:"exam_title"`
	State            State                  `json:"state"`
	Index            int                    `json:"index"`
	Total            int                    `json:"total"`
	Question         *models.QuestionView   `json:"question,omitempty"`
	Passage          *models.ReadingPassage `json:"passage,omitempty"`
	Answer           json.RawMessage        `json:"answer,omitempty"`
	RemainingSeconds int                    `json:"remaining_seconds"`
	Deadline         time.Time              `json:"deadline"`
	Answered         int                    `json:"answered"`
	Unanswered       int                    `json:"unanswered"`
	UnsavedChanges   int                    `json:"unsaved_changes"`
	LastError        string                 `json:"last_error,omitempty"`
}

// Session drives one open attempt: it autosaves, watches the clock and submits.
type Session struct {
	backend     Backend
	config      Config
	logger      *slog.Logger
	candidateID string

	exam      *models.Exam
	questions []models.Question
	passages  map[string]models.ReadingPassage
	timer     *Timer
	buffer    *AnswerBuffer

	mu      sync.Mutex
	state   State
	index   int
	attempt *models.Attempt
	lastErr error

	// navMu orders navigations, each of which holds it across its flush.
	navMu sync.Mutex

	cancel      context.CancelFunc
	done        chan struct{}
	onSubmitted func(attemptID string)
}

// loadSession reads everything a session needs for an in-progress attempt. The session loop is not started.
func loadSession(ctx context.Context, backend Backend, attempt *models.Attempt, candidateID string, config Config, logger *slog.Logger) (*Session, error) {
	exam, err := backend.GetExamDefinition(ctx, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	passages, err := backend.GetReadingPassages(ctx, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := backend.GetAttemptAnswers(ctx, attempt.ID, candidateID)
	if err != nil {
		return nil, err
	}

	questions := append([]models.Question(nil), exam.Questions...)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Number < questions[j].Number })

	s := &Session{
		backend:     backend,
		config:      config,
		logger:      logger.With("attempt_id", attempt.ID, "candidate_id", candidateID),
		candidateID: candidateID,
		exam:        exam,
		questions:   questions,
		passages:    make(map[string]models.ReadingPassage, len(passages)),
		timer:       NewTimer(attempt.StartedAt, attempt.Duration(), config.Clock),
		buffer:      NewAnswerBuffer(attempt.ID, candidateID, backend, logger),
		state:       StateLoading,
		attempt:     attempt,
		done:        make(chan struct{}),
	}
	for _, p := range passages {
		s.passages[p.ID] = p
	}
	s.buffer.Load(answers)

	return s, nil
}

// start moves the session to in_progress and launches its loop under parent.
func (s *Session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	s.state = StateInProgress
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	expired := s.timer.Start(ctx, s.config.TickInterval)
	autosave := time.NewTicker(s.config.AutosaveInterval)
	defer autosave.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-autosave.C:
			s.autosave(ctx)
		case <-expired:
			s.logger.InfoContext(ctx, "Time is up, submitting attempt")
			s.forceSubmit(ctx)
			return
		}
	}
}

func (s *Session) autosave(ctx context.Context) {
	if err := s.buffer.Flush(ctx); err != nil {
		if s.syncSubmitted(ctx, err) {
			return
		}
		s.logger.WarnContext(ctx, "Autosave failed", "error", err)
	}

	seconds := int(s.timer.Elapsed() / time.Second)
	if err := s.backend.RecordTimeSpent(ctx, s.AttemptID(), seconds); err != nil {
		s.logger.WarnContext(ctx, "Failed to record time spent", "error", err)
	}
}

// forceSubmit retries until the attempt is submitted, a permanent error occurs, or ctx ends.
func (s *Session) forceSubmit(ctx context.Context) {
	for try := 1; ; try++ {
		_, err := s.submit(ctx, models.TriggerTimeout)
		switch {
		case err == nil:
			return
		case errors.Is(err, services.ErrTransientIO), errors.Is(err, services.ErrSubmissionInProgress):
			s.logger.WarnContext(ctx, "Forced submission will be retried", "try", try, "error", err)
		default:
			s.logger.ErrorContext(ctx, "Forced submission abandoned", "try", try, "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.SubmitRetryInterval):
		}

		if s.State() == StateSubmitted {
			return
		}
	}
}

func (s *Session) submit(ctx context.Context, trigger models.SubmitTrigger) (*models.Attempt, error) {
	s.mu.Lock()
	switch s.state {
	case StateSubmitted:
		attempt := s.attempt
		s.mu.Unlock()
		return attempt, nil
	case StateSubmitting:
		s.mu.Unlock()
		return nil, services.ErrSubmissionInProgress
	case StateInProgress, StateError:
		s.state = StateSubmitting
		s.lastErr = nil
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return nil, services.ErrSessionNotActive
	}

	// Scoring must see every buffered answer. Answers the backend refuses outright
	// (for example after the grace period) are dropped; storage outages abort.
	if err := s.buffer.Flush(ctx); err != nil {
		if errors.Is(err, services.ErrTransientIO) {
			s.fail(err)
			return nil, err
		}
		s.logger.WarnContext(ctx, "Final flush rejected some answers", "error", err)
	}

	attempt, err := s.backend.SubmitAttempt(ctx, s.AttemptID(), s.candidateID, trigger)
	if errors.Is(err, services.ErrAlreadySubmitted) && attempt != nil {
		err = nil
	}
	if err != nil {
		s.fail(err)
		return nil, err
	}

	s.markSubmitted(attempt, StateSubmitting)
	s.logger.InfoContext(ctx, "Session submitted", "trigger", trigger)
	return attempt, nil
}

// markSubmitted records the finalized attempt, stops the loop and leaves the
// manager. Only a session in one of the from states moves.
func (s *Session) markSubmitted(attempt *models.Attempt, from ...State) bool {
	s.mu.Lock()
	if !slices.Contains(from, s.state) {
		s.mu.Unlock()
		return false
	}
	if attempt == nil {
		finalized := *s.attempt
		finalized.Status = models.AttemptSubmitted
		attempt = &finalized
	}
	s.attempt = attempt
	s.state = StateSubmitted
	s.lastErr = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.onSubmitted != nil {
		s.onSubmitted(attempt.ID)
	}
	return true
}

// syncSubmitted closes the session when err shows the attempt was finalized
// through another path, and reports whether it did.
func (s *Session) syncSubmitted(ctx context.Context, err error) bool {
	if !errors.Is(err, services.ErrAlreadySubmitted) {
		return false
	}

	attempt, getErr := s.backend.GetAttemptResult(ctx, s.AttemptID(), s.candidateID)
	if getErr != nil || !attempt.IsSubmitted() {
		attempt = nil
	}
	if !s.markSubmitted(attempt, StateInProgress, StateError) {
		return false
	}

	s.logger.InfoContext(ctx, "Attempt was submitted elsewhere, session closed")
	return true
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateError
	s.lastErr = err
}

// ===== CANDIDATE OPERATIONS =====

// SetAnswer buffers the answer; nothing is written until the next flush.
func (s *Session) SetAnswer(questionID string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInProgress && s.state != StateError {
		return services.ErrSessionNotActive
	}
	if s.timer.Expired() {
		return services.ErrAttemptTimeExpired
	}
	if _, ok := s.exam.QuestionByID(questionID); !ok {
		return services.ErrQuestionNotFound
	}
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	if !json.Valid(value) {
		return validator.ValidationErrors{{Field: "value", Message: "must be valid JSON", Rule: "json"}}
	}

	s.buffer.Set(questionID, value)
	return nil
}

// Next moves to the following question.
func (s *Session) Next(ctx context.Context) (*Snapshot, error) {
	return s.navigate(ctx, func(current int) int { return current + 1 })
}

// Previous moves to the preceding question.
func (s *Session) Previous(ctx context.Context) (*Snapshot, error) {
	return s.navigate(ctx, func(current int) int { return current - 1 })
}

// JumpTo moves to the question at index.
func (s *Session) JumpTo(ctx context.Context, index int) (*Snapshot, error) {
	return s.navigate(ctx, func(int) int { return index })
}

// navigate saves buffered answers before the index moves. A failed save is
// logged and the move still happens; the answers stay buffered.
func (s *Session) navigate(ctx context.Context, target func(current int) int) (*Snapshot, error) {
	s.navMu.Lock()
	defer s.navMu.Unlock()

	s.mu.Lock()
	if s.state != StateInProgress && s.state != StateError {
		s.mu.Unlock()
		return nil, services.ErrSessionNotActive
	}
	next := target(s.index)
	s.mu.Unlock()

	if next < 0 || next >= len(s.questions) {
		return nil, services.ErrInvalidNavigation
	}

	if err := s.buffer.Flush(ctx); err != nil {
		if s.syncSubmitted(ctx, err) {
			return nil, services.ErrSessionNotActive
		}
		s.logger.WarnContext(ctx, "Flush before navigation failed", "error", err)
	}

	s.mu.Lock()
	s.index = next
	s.mu.Unlock()

	return s.Snapshot(), nil
}

// Finish asks for confirmation first. Without it, nothing changes and the
// result reports how many questions are still unanswered.
func (s *Session) Finish(ctx context.Context, confirmed bool) (*FinishResult, error) {
	if !confirmed {
		snap := s.Snapshot()
		return &FinishResult{Confirmation: &FinishConfirmation{Unanswered: snap.Unanswered, Total: snap.Total}}, nil
	}

	attempt, err := s.submit(context.WithoutCancel(ctx), models.TriggerManual)
	if err != nil {
		return nil, err
	}
	return &FinishResult{Attempt: attempt}, nil
}

// ===== READS =====

func (s *Session) AttemptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.ID
}

func (s *Session) CandidateID() string {
	return s.candidateID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Attempt() *models.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *s.attempt
	return &out
}

func (s *Session) Timer() *Timer {
	return s.timer
}

func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(s.questions))
	for i, q := range s.questions {
		ids[i] = q.ID
	}
	answered := s.buffer.AnsweredCount(ids)

	snap := &Snapshot{
		AttemptID:        s.attempt.ID,
		ExamID:           s.exam.ID,
		ExamTitle:        s.exam.Title,
		State:            s.state,
		Index:            s.index,
		Total:            len(s.questions),
		RemainingSeconds: s.timer.RemainingSeconds(),
		Deadline:         s.timer.Deadline(),
		Answered:         answered,
		Unanswered:       len(s.questions) - answered,
		UnsavedChanges:   len(s.buffer.Dirty()),
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}

	if s.index < len(s.questions) {
		q := s.questions[s.index]
		snap.Question = questionView(q)
		if value, ok := s.buffer.Get(q.ID); ok {
			snap.Answer = value
		}
		if q.PassageID != nil {
			if p, ok := s.passages[*q.PassageID]; ok {
				snap.Passage = &p
			}
		}
	}
	return snap
}

func questionView(q models.Question) *models.QuestionView {
	return &models.QuestionView{
		ID:        q.ID,
		Number:    q.Number,
		Type:      q.Type,
		Prompt:    q.Prompt,
		Points:    q.Points,
		Options:   q.Options,
		PassageID: q.PassageID,
	}
}

// close stops the loop and saves whatever is still buffered.
func (s *Session) close(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	select {
	case <-s.done:
	case <-ctx.Done():
	}

	if err := s.buffer.Flush(ctx); err != nil {
		s.logger.WarnContext(ctx, "Flush on close failed", "error", err)
	}
}
