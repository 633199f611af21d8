package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/engine"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/services"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/utils"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/validator"
)

var (
	testSlog   = slog.New(slog.NewTextHandler(io.Discard, nil))
	testLogger = utils.NewSlogLogger(testSlog)
)

func init() {
	gin.SetMode(gin.TestMode)
}

// headerAuth trusts X-User-ID and X-User-Role.
type headerAuth struct{}

func (headerAuth) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-User-ID")
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "unauthenticated"})
			return
		}
		role := models.UserRole(c.GetHeader("X-User-Role"))
		if role == "" {
			role = models.RoleStudent
		}
		setUser(c, &models.User{ID: id, Role: role})
		c.Next()
	}
}

func (headerAuth) RequireRoleMiddleware(requiredRoles ...models.UserRole) gin.HandlerFunc {
	return requireRole(requiredRoles...)
}

type stubExams struct {
	services.ExamService
	exam *models.Exam
	err  error
}

func (s *stubExams) CreateExam(ctx context.Context, req *models.ExamCreateRequest, creatorID string) (*models.Exam, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Exam{ID: "exam-new", Title: req.Title, CreatedBy: creatorID}, nil
}

func (s *stubExams) GetExamForUser(ctx context.Context, examID, userID string) (interface{}, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.exam, nil
}

type stubAttempts struct {
	services.AttemptService
	attempt *models.Attempt
	err     error
}

func (s *stubAttempts) SubmitAttempt(ctx context.Context, attemptID, candidateID string, trigger models.SubmitTrigger) (*models.Attempt, error) {
	return s.attempt, s.err
}

func (s *stubAttempts) GetAttemptResult(ctx context.Context, attemptID, userID string) (*models.Attempt, error) {
	return s.attempt, s.err
}

type stubResults struct {
	services.ResultService
	summary *services.ResultSummary
	review  *services.ReviewItem
	err     error
	index   int
}

func (s *stubResults) GetSummary(ctx context.Context, attemptID, userID string) (*services.ResultSummary, error) {
	return s.summary, s.err
}

func (s *stubResults) GetReview(ctx context.Context, attemptID, userID string, index int) (*services.ReviewItem, error) {
	s.index = index
	return s.review, s.err
}

func (s *stubResults) ExportResults(ctx context.Context, examID, userID string, w io.Writer) error {
	if s.err != nil {
		return s.err
	}
	_, err := w.Write([]byte("PK"))
	return err
}

type stubServiceManager struct {
	exams     *stubExams
	attempts  *stubAttempts
	results   *stubResults
	healthErr error
}

func (m *stubServiceManager) Exam() services.ExamService       { return m.exams }
func (m *stubServiceManager) Attempt() services.AttemptService { return m.attempts }
func (m *stubServiceManager) Result() services.ResultService   { return m.results }

func (m *stubServiceManager) Initialize(ctx context.Context) error  { return nil }
func (m *stubServiceManager) HealthCheck(ctx context.Context) error { return m.healthErr }
func (m *stubServiceManager) Shutdown(ctx context.Context) error    { return nil }

type stubUsers struct{}

func (stubUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return nil, repositories.ErrNotFound
}

func (stubUsers) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	return false, repositories.ErrNotFound
}

// memoryBackend serves one two-question exam to the session manager.
type memoryBackend struct {
	mu       sync.Mutex
	exam     *models.Exam
	attempts map[string]*models.Attempt
	answers  map[string]map[string]json.RawMessage
}

func newMemoryBackend() *memoryBackend {
	key := "A"
	exam := &models.Exam{ID: "exam-1", Title: "Listening", DurationMinutes: 60, Published: true}
	for i := 1; i <= 2; i++ {
		exam.Questions = append(exam.Questions, models.Question{
			ID:            fmt.Sprintf("q%d", i),
			ExamID:        exam.ID,
			Number:        i,
			Type:          models.SingleChoice,
			Prompt:        "Pick one",
			Points:        1,
			Options:       []models.QuestionOption{{ID: "A", Text: "a"}, {ID: "B", Text: "b"}},
			CorrectAnswer: &key,
		})
	}
	return &memoryBackend{
		exam:     exam,
		attempts: make(map[string]*models.Attempt),
		answers:  make(map[string]map[string]json.RawMessage),
	}
}

func (b *memoryBackend) addSubmitted(id, candidateID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[id] = &models.Attempt{ID: id, ExamID: b.exam.ID, CandidateID: candidateID, Status: models.AttemptSubmitted, DurationMinutes: 60}
}

func (b *memoryBackend) GetExamDefinition(ctx context.Context, examID string) (*models.Exam, error) {
	if examID != b.exam.ID {
		return nil, services.ErrExamNotFound
	}
	return b.exam, nil
}

func (b *memoryBackend) GetReadingPassages(ctx context.Context, examID string) ([]models.ReadingPassage, error) {
	return nil, nil
}

func (b *memoryBackend) GetOrCreateAttempt(ctx context.Context, examID, candidateID string) (*models.Attempt, error) {
	if examID != b.exam.ID {
		return nil, services.ErrExamNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.attempts {
		if a.CandidateID == candidateID && !a.IsSubmitted() {
			out := *a
			return &out, nil
		}
	}
	a := &models.Attempt{
		ID:              fmt.Sprintf("attempt-%d", len(b.attempts)+1),
		ExamID:          examID,
		CandidateID:     candidateID,
		Status:          models.AttemptInProgress,
		StartedAt:       time.Now(),
		DurationMinutes: b.exam.DurationMinutes,
	}
	b.attempts[a.ID] = a
	out := *a
	return &out, nil
}

func (b *memoryBackend) GetAttemptResult(ctx context.Context, attemptID, userID string) (*models.Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.attempts[attemptID]
	if !ok {
		return nil, services.ErrAttemptNotFound
	}
	out := *a
	return &out, nil
}

func (b *memoryBackend) GetAttemptAnswers(ctx context.Context, attemptID, userID string) ([]models.Answer, error) {
	return nil, nil
}

func (b *memoryBackend) UpsertAnswer(ctx context.Context, attemptID, questionID, candidateID string, value json.RawMessage) (*models.Answer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a := b.attempts[attemptID]; a != nil && a.IsSubmitted() {
		return nil, services.ErrAlreadySubmitted
	}
	if b.answers[attemptID] == nil {
		b.answers[attemptID] = make(map[string]json.RawMessage)
	}
	b.answers[attemptID][questionID] = value
	return &models.Answer{AttemptID: attemptID, QuestionID: questionID}, nil
}

func (b *memoryBackend) SubmitAttempt(ctx context.Context, attemptID, candidateID string, trigger models.SubmitTrigger) (*models.Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.attempts[attemptID]
	a.Status = models.AttemptSubmitted
	a.SubmitTrigger = &trigger
	out := *a
	return &out, nil
}

func (b *memoryBackend) stored(attemptID, questionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.answers[attemptID][questionID])
}

func (b *memoryBackend) RecordTimeSpent(ctx context.Context, attemptID string, seconds int) error {
	return nil
}

type testServer struct {
	router  *gin.Engine
	manager *stubServiceManager
	backend *memoryBackend
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	sm := &stubServiceManager{
		exams:    &stubExams{},
		attempts: &stubAttempts{},
		results:  &stubResults{},
	}
	backend := newMemoryBackend()
	sessions := engine.NewSessionManager(backend, engine.Config{}, testSlog)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sessions.Shutdown(ctx)
	})

	router := gin.New()
	SetupMiddleware(router, testLogger, nil)
	NewHandlerManager(sm, sessions, validator.New(), testLogger, headerAuth{}, stubUsers{}).SetupRoutes(router)

	return &testServer{router: router, manager: sm, backend: backend}
}
