package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/cache"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/scoring"
)

const exportPageSize = 100

type resultService struct {
	repo     repositories.Repository
	exams    ExamService
	attempts AttemptService
	cache    *cache.CacheManager
	logger   *slog.Logger
}

func NewResultService(repo repositories.Repository, exams ExamService, attempts AttemptService, cacheManager *cache.CacheManager, logger *slog.Logger) ResultService {
	return &resultService{
		repo:     repo,
		exams:    exams,
		attempts: attempts,
		cache:    cacheManager,
		logger:   logger,
	}
}

// gradedAttempt is everything needed to present one submitted attempt
type gradedAttempt struct {
	attempt  *models.Attempt
	exam     *models.Exam
	answers  map[string]models.Answer
	passages map[string]models.ReadingPassage
	result   scoring.Result
}

func (s *resultService) load(ctx context.Context, attemptID, userID string) (*gradedAttempt, error) {
	attempt, err := s.attempts.GetAttemptResult(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if !attempt.IsSubmitted() {
		return nil, ErrAttemptNotSubmitted
	}

	var (
		exam     *models.Exam
		answers  []models.Answer
		passages []models.ReadingPassage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exam, err = s.exams.GetExamDefinition(gctx, attempt.ExamID)
		return err
	})
	g.Go(func() error {
		var err error
		answers, err = s.repo.Answer().ListByAttempt(gctx, nil, attemptID)
		if err != nil {
			return repoError("list answers", err, ErrAttemptNotFound)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		passages, err = s.exams.GetReadingPassages(gctx, attempt.ExamID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	graded := &gradedAttempt{
		attempt:  attempt,
		exam:     exam,
		answers:  make(map[string]models.Answer, len(answers)),
		passages: make(map[string]models.ReadingPassage, len(passages)),
		result:   scoring.Graded(exam, answers),
	}
	for _, a := range answers {
		graded.answers[a.QuestionID] = a
	}
	for _, p := range passages {
		graded.passages[p.ID] = p
	}
	return graded, nil
}

func (s *resultService) GetSummary(ctx context.Context, attemptID, userID string) (*ResultSummary, error) {
	graded, err := s.load(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	attempt, result := graded.attempt, graded.result
	total := len(result.Questions)

	summary := &ResultSummary{
		AttemptID:        attempt.ID,
		ExamID:           attempt.ExamID,
		ExamTitle:        graded.exam.Title,
		Score:            valueOr(attempt.Score, result.Score),
		TotalPoints:      valueOr(attempt.TotalPoints, result.TotalPoints),
		Percentage:       valueOr(attempt.Percentage, result.Percentage),
		PassingScore:     attempt.PassingScoreSnapshot,
		TotalQuestions:   total,
		Correct:          result.Correct,
		Incorrect:        result.Incorrect,
		Pending:          result.Pending,
		Unanswered:       result.Unanswered,
		TimeSpentSeconds: attempt.TimeSpentSeconds,
		SubmittedAt:      attempt.SubmittedAt,
		Trigger:          attempt.SubmitTrigger,
		Breakdown: BucketBreakdown{
			Correct:    share(result.Correct, total),
			Incorrect:  share(result.Incorrect, total),
			Pending:    share(result.Pending, total),
			Unanswered: share(result.Unanswered, total),
		},
	}

	if attempt.Passed != nil {
		summary.Passed = *attempt.Passed
	} else {
		summary.Passed = scoring.Passed(summary.Percentage, attempt.PassingScoreSnapshot)
	}

	return summary, nil
}

func (s *resultService) GetReview(ctx context.Context, attemptID, userID string, index int) (*ReviewItem, error) {
	graded, err := s.load(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(graded.result.Questions) {
		return nil, ErrReviewIndexOutOfRange
	}

	item := graded.reviewItem(index)
	return &item, nil
}

func (s *resultService) GetReviewAll(ctx context.Context, attemptID, userID string) ([]ReviewItem, error) {
	graded, err := s.load(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	items := make([]ReviewItem, len(graded.result.Questions))
	for i := range graded.result.Questions {
		items[i] = graded.reviewItem(i)
	}
	return items, nil
}

func (g *gradedAttempt) reviewItem(index int) ReviewItem {
	qr := g.result.Questions[index]
	question, _ := g.exam.QuestionByID(qr.QuestionID)
	total := len(g.result.Questions)

	item := ReviewItem{
		Index:          index,
		Total:          total,
		HasPrevious:    index > 0,
		HasNext:        index < total-1,
		ReadOnly:       true,
		QuestionID:     question.ID,
		Number:         question.Number,
		Type:           question.Type,
		Prompt:         question.Prompt,
		Options:        question.Options,
		CorrectAnswer:  correctAnswer(question),
		Outcome:        qr.Outcome,
		PointsPossible: qr.PointsPossible,
		PointsEarned:   qr.PointsEarned,
		Explanation:    question.Explanation,
	}

	if answer, ok := g.answers[question.ID]; ok && !scoring.IsBlank(answer.Value) {
		item.GivenAnswer = []byte(answer.Value)
	}
	if question.PassageID != nil {
		if passage, ok := g.passages[*question.PassageID]; ok {
			item.Passage = &passage
		}
	}
	return item
}

func correctAnswer(q *models.Question) interface{} {
	switch q.Type {
	case models.SingleChoice:
		if q.CorrectAnswer != nil {
			return *q.CorrectAnswer
		}
	case models.MultipleSelect:
		return []string(q.CorrectAnswers)
	}
	return nil
}

// ===== STAFF VIEWS =====

func (s *resultService) GetQuestionStats(ctx context.Context, examID, userID string) (*ExamStats, error) {
	if err := requireStaff(ctx, s.repo.User(), userID, examID, "exam", "view statistics"); err != nil {
		return nil, err
	}

	if s.cache == nil {
		return s.questionStats(ctx, examID)
	}

	var stats ExamStats
	err := s.cache.Stats.CacheOrExecute(ctx, "exam:"+examID+":questions", &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		return s.questionStats(ctx, examID)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *resultService) questionStats(ctx context.Context, examID string) (*ExamStats, error) {
	exam, err := s.exams.GetExamDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}

	submitted, err := s.repo.Attempt().CountSubmitted(ctx, nil, examID)
	if err != nil {
		return nil, repoError("count submitted attempts", err, ErrExamNotFound)
	}
	rows, err := s.repo.Answer().QuestionStats(ctx, nil, examID)
	if err != nil {
		return nil, repoError("question stats", err, ErrExamNotFound)
	}

	byQuestion := make(map[string]repositories.QuestionStat, len(rows))
	for _, r := range rows {
		byQuestion[r.QuestionID] = r
	}

	stats := &ExamStats{ExamID: examID, SubmittedAttempts: submitted}
	for _, q := range exam.Questions {
		r := byQuestion[q.ID]
		answered := r.Correct + r.Incorrect + r.Pending
		stats.Questions = append(stats.Questions, QuestionStatView{
			QuestionID:  q.ID,
			Number:      q.Number,
			Answered:    answered,
			Correct:     r.Correct,
			Incorrect:   r.Incorrect,
			Pending:     r.Pending,
			CorrectRate: scoring.Percentage(float64(r.Correct), float64(answered)),
		})
	}
	return stats, nil
}

// ExportResults writes an .xlsx workbook with one row per submitted attempt and per-question statistics.
func (s *resultService) ExportResults(ctx context.Context, examID, userID string, w io.Writer) error {
	stats, err := s.GetQuestionStats(ctx, examID, userID)
	if err != nil {
		return err
	}

	status := models.AttemptSubmitted
	filters := repositories.AttemptFilters{ExamID: &examID, Status: &status, Limit: exportPageSize}
	var attempts []*models.Attempt
	for {
		page, total, err := s.repo.Attempt().List(ctx, nil, filters)
		if err != nil {
			return repoError("list attempts", err, ErrExamNotFound)
		}
		attempts = append(attempts, page...)
		filters.Offset += len(page)
		if len(page) == 0 || int64(filters.Offset) >= total {
			break
		}
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.WarnContext(ctx, "Failed to close workbook", "error", err)
		}
	}()

	if err := writeAttemptSheet(f, attempts); err != nil {
		return err
	}
	if err := writeQuestionSheet(f, stats); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	s.logger.InfoContext(ctx, "Results exported", "exam_id", examID, "attempts", len(attempts), "user_id", userID)
	return nil
}

const (
	resultsSheet   = "Results"
	questionsSheet = "Questions"
)

func writeAttemptSheet(f *excelize.File, attempts []*models.Attempt) error {
	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := []interface{}{"Attempt ID", "Candidate ID", "Started At", "Submitted At", "Trigger",
		"Score", "Total Points", "Percentage", "Passing Score", "Passed", "Time Spent (s)"}
	if err := f.SetSheetRow(resultsSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, a := range attempts {
		row := []interface{}{
			a.ID,
			a.CandidateID,
			a.StartedAt.Format(time.RFC3339),
			formatTime(a.SubmittedAt),
			derefString(a.SubmitTrigger),
			valueOr(a.Score, 0),
			valueOr(a.TotalPoints, 0),
			valueOr(a.Percentage, 0),
			optionalFloat(a.PassingScoreSnapshot),
			a.Passed != nil && *a.Passed,
			a.TimeSpentSeconds,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write attempt row: %w", err)
		}
	}
	return nil
}

func writeQuestionSheet(f *excelize.File, stats *ExamStats) error {
	if _, err := f.NewSheet(questionsSheet); err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}

	header := []interface{}{"Number", "Question ID", "Answered", "Correct", "Incorrect", "Pending", "Correct Rate (%)"}
	if err := f.SetSheetRow(questionsSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, q := range stats.Questions {
		row := []interface{}{q.Number, q.QuestionID, q.Answered, q.Correct, q.Incorrect, q.Pending, q.CorrectRate}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(questionsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write question row: %w", err)
		}
	}
	return nil
}

func share(count, total int) float64 {
	return scoring.Percentage(float64(count), float64(total))
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func optionalFloat(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func derefString[T ~string](v *T) string {
	if v == nil {
		return ""
	}
	return string(*v)
}
