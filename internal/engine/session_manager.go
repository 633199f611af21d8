package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/services"
)

// SessionManager owns the live sessions of this process, keyed by attempt ID.
type SessionManager struct {
	backend Backend
	config  Config
	logger  *slog.Logger

	// ctx parents every session loop so request cancellation never stops one.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewSessionManager returns an empty manager. Shutdown stops every session it opens.
func NewSessionManager(backend Backend, config Config, logger *slog.Logger) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		backend:  backend,
		config:   config.withDefaults(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Open starts or resumes the candidate's attempt at the exam.
func (m *SessionManager) Open(ctx context.Context, examID, candidateID string) (*Session, error) {
	attempt, err := m.backend.GetOrCreateAttempt(ctx, examID, candidateID)
	if err != nil {
		return nil, err
	}
	return m.attach(ctx, attempt, candidateID)
}

// Get returns a live session.
func (m *SessionManager) Get(attemptID, candidateID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[attemptID]
	m.mu.Unlock()

	if !ok {
		return nil, services.ErrAttemptNotFound
	}
	if s.CandidateID() != candidateID {
		return nil, services.NewPermissionError(candidateID, attemptID, "session", "access", "not the attempt owner")
	}
	return s, nil
}

// Resume returns the live session or rebuilds it from storage, for example after
// a restart. A submitted attempt yields ErrAlreadySubmitted.
func (m *SessionManager) Resume(ctx context.Context, attemptID, candidateID string) (*Session, error) {
	if s, err := m.Get(attemptID, candidateID); err == nil {
		return m.verify(ctx, s)
	} else if !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}

	attempt, err := m.backend.GetAttemptResult(ctx, attemptID, candidateID)
	if err != nil {
		return nil, err
	}
	if attempt.CandidateID != candidateID {
		return nil, services.NewPermissionError(candidateID, attemptID, "session", "resume", "not the attempt owner")
	}
	if attempt.IsSubmitted() {
		return nil, services.ErrAlreadySubmitted
	}
	return m.attach(ctx, attempt, candidateID)
}

// verify re-reads the attempt behind a live session. One that was submitted
// through another path is closed instead of served.
func (m *SessionManager) verify(ctx context.Context, s *Session) (*Session, error) {
	attempt, err := m.backend.GetAttemptResult(ctx, s.AttemptID(), s.CandidateID())
	switch {
	case errors.Is(err, services.ErrTransientIO):
		m.logger.WarnContext(ctx, "Could not verify live session", "attempt_id", s.AttemptID(), "error", err)
		return s, nil
	case err != nil:
		return nil, err
	case attempt.IsSubmitted():
		s.markSubmitted(attempt, StateInProgress, StateError)
		return nil, services.ErrAlreadySubmitted
	}
	return s, nil
}

// SubmitLive finalizes the attempt through its live session so buffered
// answers are saved first and the session closes. live is false when the
// candidate has no live session for the attempt.
func (m *SessionManager) SubmitLive(ctx context.Context, attemptID, candidateID string, trigger models.SubmitTrigger) (attempt *models.Attempt, live bool, err error) {
	s, err := m.Get(attemptID, candidateID)
	if err != nil {
		return nil, false, nil
	}
	attempt, err = s.submit(context.WithoutCancel(ctx), trigger)
	return attempt, true, err
}

func (m *SessionManager) attach(ctx context.Context, attempt *models.Attempt, candidateID string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, services.ErrSessionNotActive
	}
	if s, ok := m.sessions[attempt.ID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := loadSession(ctx, m.backend, attempt, candidateID, m.config, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, services.ErrSessionNotActive
	}
	if existing, ok := m.sessions[attempt.ID]; ok {
		return existing, nil
	}

	s.onSubmitted = m.evict
	m.sessions[attempt.ID] = s
	s.start(m.ctx)

	m.logger.InfoContext(ctx, "Session opened",
		"attempt_id", attempt.ID,
		"candidate_id", candidateID,
		"remaining_seconds", s.timer.RemainingSeconds())
	return s, nil
}

func (m *SessionManager) evict(attemptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, attemptID)
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every session loop and flushes buffered answers.
// In-progress attempts stay in progress and can be resumed later.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.logger.Info("Shutting down sessions", "count", len(sessions))

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.close(ctx)
		}(s)
	}
	wg.Wait()
	m.cancel()

	return ctx.Err()
}
