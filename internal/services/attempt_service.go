package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/cache"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/events"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/scoring"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/validator"
)

const submitTimeout = 30 * time.Second

type AttemptServiceConfig struct {
	// AnswerGracePeriod absorbs clock skew and in-flight autosaves after the deadline.
	AnswerGracePeriod time.Duration
}

type attemptService struct {
	repo      repositories.Repository
	exams     ExamService
	cache     *cache.CacheManager
	publisher events.EventPublisher
	logger    *slog.Logger
	validator *validator.Validator
	config    AttemptServiceConfig

	now         func() time.Time
	score       func(*models.Exam, []models.Answer) scoring.Result
	submissions singleflight.Group
}

func NewAttemptService(
	repo repositories.Repository,
	exams ExamService,
	cacheManager *cache.CacheManager,
	publisher events.EventPublisher,
	logger *slog.Logger,
	validator *validator.Validator,
	config AttemptServiceConfig,
) AttemptService {
	return &attemptService{
		repo:      repo,
		exams:     exams,
		cache:     cacheManager,
		publisher: publisher,
		logger:    logger,
		validator: validator,
		config:    config,
		now:       time.Now,
		score:     scoring.Score,
	}
}

// ===== ATTEMPT LIFECYCLE =====

func (s *attemptService) GetOrCreateAttempt(ctx context.Context, examID, candidateID string) (*models.Attempt, error) {
	active, err := s.repo.Attempt().GetActive(ctx, nil, examID, candidateID)
	if err == nil {
		s.logger.InfoContext(ctx, "Resuming attempt", "attempt_id", active.ID, "exam_id", examID, "candidate_id", candidateID)
		return active, nil
	}
	if !repositories.IsNotFoundError(err) {
		return nil, repoError("get active attempt", err, ErrAttemptNotFound)
	}

	exam, err := s.exams.GetExamDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.exams.CheckAvailability(exam); err != nil {
		return nil, err
	}

	attempt := &models.Attempt{
		ExamID:               examID,
		CandidateID:          candidateID,
		Status:               models.AttemptInProgress,
		StartedAt:            s.now().UTC(),
		DurationMinutes:      int(exam.Duration() / time.Minute),
		PassingScoreSnapshot: exam.PassingScore,
	}

	if err := s.repo.Attempt().Create(ctx, nil, attempt); err != nil {
		if !repositories.IsDuplicateError(err) {
			return nil, repoError("create attempt", err, ErrExamNotFound)
		}
		// A concurrent request created it first.
		active, err := s.repo.Attempt().GetActive(ctx, nil, examID, candidateID)
		if err != nil {
			return nil, repoError("get active attempt", err, ErrAttemptNotFound)
		}
		return active, nil
	}

	s.logger.InfoContext(ctx, "Attempt started",
		"attempt_id", attempt.ID,
		"exam_id", examID,
		"candidate_id", candidateID,
		"duration_minutes", attempt.DurationMinutes)

	if err := s.publisher.PublishAttemptStarted(ctx, attempt); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish attempt started event", "attempt_id", attempt.ID, "error", err)
	}

	return attempt, nil
}

func (s *attemptService) UpsertAnswer(ctx context.Context, attemptID, questionID, candidateID string, value json.RawMessage) (*models.Answer, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		return nil, repoError("get attempt", err, ErrAttemptNotFound)
	}
	if err := authorizeAttemptWrite(attempt, candidateID, "answer"); err != nil {
		return nil, err
	}
	if attempt.IsSubmitted() {
		return nil, ErrAlreadySubmitted
	}
	if s.now().After(attempt.Deadline().Add(s.config.AnswerGracePeriod)) {
		return nil, ErrAttemptTimeExpired
	}

	exam, err := s.exams.GetExamDefinition(ctx, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	if _, ok := exam.QuestionByID(questionID); !ok {
		return nil, ErrQuestionNotFound
	}

	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	if !json.Valid(value) {
		return nil, validator.ValidationErrors{{Field: "value", Message: "must be valid JSON", Rule: "json"}}
	}

	answer := &models.Answer{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Value:      datatypes.JSON(value),
	}
	if err := s.repo.Answer().Upsert(ctx, nil, answer); err != nil {
		return nil, repoError("upsert answer", err, ErrAttemptNotFound)
	}

	return answer, nil
}

func (s *attemptService) SubmitAttempt(ctx context.Context, attemptID, candidateID string, trigger models.SubmitTrigger) (*models.Attempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		return nil, repoError("get attempt", err, ErrAttemptNotFound)
	}
	if err := authorizeAttemptWrite(attempt, candidateID, "submit"); err != nil {
		return nil, err
	}
	if attempt.IsSubmitted() {
		return attempt, ErrAlreadySubmitted
	}

	// Concurrent submits of one attempt share a single scoring run. The run is detached
	// from the caller so a dropped connection does not abandon it halfway.
	v, err, shared := s.submissions.Do(attemptID, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
		defer cancel()
		return s.submit(runCtx, attemptID, trigger)
	})
	if shared {
		s.logger.DebugContext(ctx, "Joined in-flight submission", "attempt_id", attemptID)
	}

	submitted, _ := v.(*models.Attempt)
	return submitted, err
}

func (s *attemptService) submit(ctx context.Context, attemptID string, trigger models.SubmitTrigger) (*models.Attempt, error) {
	var (
		attempt *models.Attempt
		result  scoring.Result
	)

	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		locked, err := s.repo.Attempt().GetByIDForUpdate(ctx, tx, attemptID)
		if err != nil {
			return repoError("lock attempt", err, ErrAttemptNotFound)
		}
		attempt = locked
		if attempt.IsSubmitted() {
			return ErrAlreadySubmitted
		}

		exam, err := s.exams.GetExamDefinition(ctx, attempt.ExamID)
		if err != nil {
			return err
		}
		answers, err := s.repo.Answer().ListByAttempt(ctx, tx, attemptID)
		if err != nil {
			return repoError("list answers", err, ErrAttemptNotFound)
		}

		result = s.score(exam, answers)

		if err := s.repo.Answer().ApplyScores(ctx, tx, attemptID, answerScores(result, answers)); err != nil {
			return repoError("apply scores", err, ErrAttemptNotFound)
		}

		now := s.now().UTC()
		finalization := repositories.AttemptFinalization{
			Score:            result.Score,
			TotalPoints:      result.TotalPoints,
			Percentage:       result.Percentage,
			Passed:           scoring.Passed(result.Percentage, attempt.PassingScoreSnapshot),
			TimeSpentSeconds: max(attempt.TimeSpentSeconds, elapsedSeconds(attempt, now)),
			SubmittedAt:      now,
			Trigger:          trigger,
		}

		finalized, err := s.repo.Attempt().Finalize(ctx, tx, attemptID, finalization)
		if err != nil {
			return repoError("finalize attempt", err, ErrAttemptNotFound)
		}
		if !finalized {
			return ErrAlreadySubmitted
		}

		applyFinalization(attempt, finalization)
		return nil
	})

	if errors.Is(err, ErrAlreadySubmitted) {
		stored, getErr := s.repo.Attempt().GetByID(ctx, nil, attemptID)
		if getErr != nil {
			return nil, repoError("get attempt", getErr, ErrAttemptNotFound)
		}
		return stored, ErrAlreadySubmitted
	}
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrTransientIO) {
			err = fmt.Errorf("%w: submit attempt: %w", ErrTransientIO, err)
		}
		s.logger.ErrorContext(ctx, "Attempt submission failed", "attempt_id", attemptID, "trigger", trigger, "error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "Attempt submitted",
		"attempt_id", attemptID,
		"trigger", trigger,
		"score", result.Score,
		"total_points", result.TotalPoints,
		"percentage", result.Percentage,
		"unanswered", result.Unanswered)

	if s.cache != nil {
		cache.SafeInvalidatePattern(ctx, s.cache.Stats, "exam:"+attempt.ExamID+":*")
	}
	if err := s.publisher.PublishAttemptSubmitted(ctx, attempt); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish attempt submitted event", "attempt_id", attemptID, "error", err)
	}

	return attempt, nil
}

// answerScores returns grades only for answers that have a stored row.
func answerScores(result scoring.Result, answers []models.Answer) []repositories.AnswerScore {
	stored := make(map[string]bool, len(answers))
	for _, a := range answers {
		stored[a.QuestionID] = true
	}

	scores := make([]repositories.AnswerScore, 0, len(answers))
	for _, q := range result.Questions {
		if !stored[q.QuestionID] {
			continue
		}
		scores = append(scores, repositories.AnswerScore{
			QuestionID:   q.QuestionID,
			Correctness:  q.Correctness(),
			PointsEarned: q.PointsEarned,
		})
	}
	return scores
}

func applyFinalization(attempt *models.Attempt, f repositories.AttemptFinalization) {
	attempt.Status = models.AttemptSubmitted
	attempt.Score = &f.Score
	attempt.TotalPoints = &f.TotalPoints
	attempt.Percentage = &f.Percentage
	attempt.Passed = &f.Passed
	attempt.TimeSpentSeconds = f.TimeSpentSeconds
	attempt.SubmittedAt = &f.SubmittedAt
	attempt.SubmitTrigger = &f.Trigger
}

// elapsedSeconds is wall-clock time since start, capped at the attempt's duration.
func elapsedSeconds(attempt *models.Attempt, now time.Time) int {
	elapsed := min(max(now.Sub(attempt.StartedAt), 0), attempt.Duration())
	return int(elapsed / time.Second)
}

// ===== READS =====

func (s *attemptService) GetAttemptResult(ctx context.Context, attemptID, userID string) (*models.Attempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		return nil, repoError("get attempt", err, ErrAttemptNotFound)
	}
	if err := authorizeAttemptRead(ctx, s.repo.User(), attempt, userID); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *attemptService) GetAttemptAnswers(ctx context.Context, attemptID, userID string) ([]models.Answer, error) {
	if _, err := s.GetAttemptResult(ctx, attemptID, userID); err != nil {
		return nil, err
	}

	answers, err := s.repo.Answer().ListByAttempt(ctx, nil, attemptID)
	if err != nil {
		return nil, repoError("list answers", err, ErrAttemptNotFound)
	}
	return answers, nil
}

// RecordTimeSpent stores the autosaved elapsed time. It never moves backwards.
func (s *attemptService) RecordTimeSpent(ctx context.Context, attemptID string, seconds int) error {
	if err := s.repo.Attempt().UpdateTimeSpent(ctx, nil, attemptID, seconds); err != nil {
		return repoError("record time spent", err, ErrAttemptNotFound)
	}
	return nil
}

func (s *attemptService) ListAttempts(ctx context.Context, candidateID string, params *models.ListAttemptsParams) (*AttemptListResponse, error) {
	if err := s.validator.Validate(params); err != nil {
		return nil, err
	}

	filters := repositories.AttemptFilters{
		ExamID:      params.ExamID,
		CandidateID: &candidateID,
		Limit:       params.Limit,
		Offset:      params.Offset,
	}
	attempts, total, err := s.repo.Attempt().List(ctx, nil, filters)
	if err != nil {
		return nil, repoError("list attempts", err, ErrAttemptNotFound)
	}

	return &AttemptListResponse{
		Attempts: attempts,
		Total:    total,
		Limit:    params.Limit,
		Offset:   params.Offset,
	}, nil
}
