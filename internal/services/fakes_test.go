package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/events"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/validator"
)

// fakeRepo is an in-memory Repository. Transactions are serialized, which stands in for row locks.
type fakeRepo struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	exams    map[string]*models.Exam
	attempts map[string]*models.Attempt
	answers  map[string]map[string]models.Answer
	users    map[string]*models.User

	upsertErr   error
	finalizeErr error
	finalized   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		exams:    make(map[string]*models.Exam),
		attempts: make(map[string]*models.Attempt),
		answers:  make(map[string]map[string]models.Answer),
		users:    make(map[string]*models.User),
	}
}

func (r *fakeRepo) Exam() repositories.ExamRepository       { return fakeExams{r} }
func (r *fakeRepo) Attempt() repositories.AttemptRepository { return fakeAttempts{r} }
func (r *fakeRepo) Answer() repositories.AnswerRepository   { return fakeAnswers{r} }
func (r *fakeRepo) User() repositories.UserRepository       { return fakeUsers{r} }

func (r *fakeRepo) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(nil)
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

func (r *fakeRepo) nextID() string {
	return uuid.NewString()
}

func (r *fakeRepo) addUser(id string, role models.UserRole) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = &models.User{ID: id, Role: role}
}

func (r *fakeRepo) storedAttempt(id string) models.Attempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.attempts[id]
}

// setKey rewrites the answer key of question number (1-based).
func (r *fakeRepo) setKey(examID string, number int, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam := r.exams[examID]
	questions := append([]models.Question(nil), exam.Questions...)
	questions[number-1].CorrectAnswer = &key
	exam.Questions = questions
}

func (r *fakeRepo) attemptCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attempts)
}

type fakeExams struct{ r *fakeRepo }

func (f fakeExams) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	if exam.ID == "" {
		exam.ID = f.r.nextID()
	}
	for i := range exam.Questions {
		exam.Questions[i].ExamID = exam.ID
		if exam.Questions[i].ID == "" {
			exam.Questions[i].ID = f.r.nextID()
		}
	}
	for i := range exam.Passages {
		exam.Passages[i].ExamID = exam.ID
	}
	stored := *exam
	f.r.exams[exam.ID] = &stored
	return nil
}

func (f fakeExams) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Exam, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	exam, ok := f.r.exams[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *exam
	out.Questions = append([]models.Question(nil), exam.Questions...)
	out.Passages = append([]models.ReadingPassage(nil), exam.Passages...)
	return &out, nil
}

func (f fakeExams) GetPassages(ctx context.Context, tx *gorm.DB, examID string) ([]models.ReadingPassage, error) {
	exam, err := f.GetByID(ctx, tx, examID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(exam.Passages, func(i, j int) bool {
		return exam.Passages[i].DisplayOrder < exam.Passages[j].DisplayOrder
	})
	return exam.Passages, nil
}

func (f fakeExams) UpdatePassingScore(ctx context.Context, tx *gorm.DB, id string, passingScore *float64) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	exam, ok := f.r.exams[id]
	if !ok {
		return repositories.ErrNotFound
	}
	exam.PassingScore = passingScore
	return nil
}

type fakeAttempts struct{ r *fakeRepo }

func (f fakeAttempts) Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	for _, a := range f.r.attempts {
		if a.ExamID == attempt.ExamID && a.CandidateID == attempt.CandidateID && a.Status == models.AttemptInProgress {
			return repositories.ErrDuplicate
		}
	}
	if attempt.ID == "" {
		attempt.ID = f.r.nextID()
	}
	stored := *attempt
	f.r.attempts[attempt.ID] = &stored
	return nil
}

func (f fakeAttempts) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Attempt, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	a, ok := f.r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (f fakeAttempts) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Attempt, error) {
	return f.GetByID(ctx, tx, id)
}

func (f fakeAttempts) GetActive(ctx context.Context, tx *gorm.DB, examID, candidateID string) (*models.Attempt, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	for _, a := range f.r.attempts {
		if a.ExamID == examID && a.CandidateID == candidateID && a.Status == models.AttemptInProgress {
			out := *a
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f fakeAttempts) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	var all []*models.Attempt
	for _, a := range f.r.attempts {
		if filters.ExamID != nil && a.ExamID != *filters.ExamID {
			continue
		}
		if filters.CandidateID != nil && a.CandidateID != *filters.CandidateID {
			continue
		}
		if filters.Status != nil && a.Status != *filters.Status {
			continue
		}
		out := *a
		all = append(all, &out)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	total := int64(len(all))
	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	start := min(filters.Offset, len(all))
	end := min(start+limit, len(all))
	return all[start:end], total, nil
}

func (f fakeAttempts) UpdateTimeSpent(ctx context.Context, tx *gorm.DB, id string, seconds int) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	a, ok := f.r.attempts[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if a.Status == models.AttemptInProgress {
		a.TimeSpentSeconds = max(a.TimeSpentSeconds, seconds)
	}
	return nil
}

func (f fakeAttempts) Finalize(ctx context.Context, tx *gorm.DB, id string, result repositories.AttemptFinalization) (bool, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	if f.r.finalizeErr != nil {
		return false, f.r.finalizeErr
	}
	a, ok := f.r.attempts[id]
	if !ok || a.Status != models.AttemptInProgress {
		return false, nil
	}
	applyFinalization(a, result)
	f.r.finalized++
	return true, nil
}

func (f fakeAttempts) CountSubmitted(ctx context.Context, tx *gorm.DB, examID string) (int64, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	var n int64
	for _, a := range f.r.attempts {
		if a.ExamID == examID && a.Status == models.AttemptSubmitted {
			n++
		}
	}
	return n, nil
}

type fakeAnswers struct{ r *fakeRepo }

func (f fakeAnswers) Upsert(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	if f.r.upsertErr != nil {
		return f.r.upsertErr
	}
	byQuestion, ok := f.r.answers[answer.AttemptID]
	if !ok {
		byQuestion = make(map[string]models.Answer)
		f.r.answers[answer.AttemptID] = byQuestion
	}
	stored, exists := byQuestion[answer.QuestionID]
	if !exists {
		stored = models.Answer{ID: f.r.nextID(), AttemptID: answer.AttemptID, QuestionID: answer.QuestionID}
	}
	stored.Value = answer.Value
	byQuestion[answer.QuestionID] = stored
	answer.ID = stored.ID
	return nil
}

func (f fakeAnswers) ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID string) ([]models.Answer, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	var out []models.Answer
	for _, a := range f.r.answers[attemptID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (f fakeAnswers) ApplyScores(ctx context.Context, tx *gorm.DB, attemptID string, scores []repositories.AnswerScore) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	for _, s := range scores {
		a := f.r.answers[attemptID][s.QuestionID]
		correctness := s.Correctness
		a.Correctness = &correctness
		a.PointsEarned = s.PointsEarned
		f.r.answers[attemptID][s.QuestionID] = a
	}
	return nil
}

func (f fakeAnswers) QuestionStats(ctx context.Context, tx *gorm.DB, examID string) ([]repositories.QuestionStat, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	stats := make(map[string]*repositories.QuestionStat)
	for attemptID, byQuestion := range f.r.answers {
		a := f.r.attempts[attemptID]
		if a == nil || a.ExamID != examID || a.Status != models.AttemptSubmitted {
			continue
		}
		for qid, answer := range byQuestion {
			if answer.Correctness == nil {
				continue
			}
			s, ok := stats[qid]
			if !ok {
				s = &repositories.QuestionStat{QuestionID: qid}
				stats[qid] = s
			}
			switch *answer.Correctness {
			case models.Correct:
				s.Correct++
			case models.Incorrect:
				s.Incorrect++
			case models.Pending:
				s.Pending++
			}
		}
	}
	out := make([]repositories.QuestionStat, 0, len(stats))
	for _, s := range stats {
		out = append(out, *s)
	}
	return out, nil
}

type fakeUsers struct{ r *fakeRepo }

func (f fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	u, ok := f.r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (f fakeUsers) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return u.Role == role, nil
}

// ===== FIXTURES =====

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServices struct {
	repo      *fakeRepo
	clock     *testClock
	publisher *events.MockEventPublisher
	exams     *examService
	attempts  *attemptService
	results   *resultService
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newFakeRepo()
	clock := &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	publisher := events.NewMockEventPublisher(logger)
	v := validator.New()

	exams := NewExamService(repo, logger, v).(*examService)
	exams.now = clock.Now
	attempts := NewAttemptService(repo, exams, nil, publisher, logger, v, AttemptServiceConfig{AnswerGracePeriod: 30 * time.Second}).(*attemptService)
	attempts.now = clock.Now
	results := NewResultService(repo, exams, attempts, nil, logger).(*resultService)

	return &testServices{
		repo:      repo,
		clock:     clock,
		publisher: publisher,
		exams:     exams,
		attempts:  attempts,
		results:   results,
	}
}

// seedExam stores a published exam of n single-choice questions worth one point each,
// all keyed to option "A".
func (ts *testServices) seedExam(t *testing.T, n int, passingScore *float64) *models.Exam {
	t.Helper()

	key := "A"
	explanation := "A is right"
	exam := &models.Exam{
		Title:           "Reading",
		DurationMinutes: 60,
		PassingScore:    passingScore,
		Published:       true,
		CreatedBy:       "teacher-1",
	}
	for i := 1; i <= n; i++ {
		exam.Questions = append(exam.Questions, models.Question{
			Number:        i,
			Type:          models.SingleChoice,
			Prompt:        fmt.Sprintf("Question %d", i),
			Points:        1,
			Options:       []models.QuestionOption{{ID: "A", Text: "a"}, {ID: "B", Text: "b"}},
			CorrectAnswer: &key,
			Explanation:   &explanation,
		})
	}
	if err := ts.repo.Exam().Create(context.Background(), nil, exam); err != nil {
		t.Fatalf("seed exam: %v", err)
	}
	return exam
}

// answer stores value for question number (1-based) of exam.
func (ts *testServices) answer(t *testing.T, exam *models.Exam, attemptID, candidateID string, number int, value string) {
	t.Helper()
	_, err := ts.attempts.UpsertAnswer(context.Background(), attemptID, exam.Questions[number-1].ID, candidateID, json.RawMessage(value))
	if err != nil {
		t.Fatalf("upsert answer %d: %v", number, err)
	}
}

func float(v float64) *float64 { return &v }
