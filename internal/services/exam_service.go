package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/validator"
)

type examService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	now       func() time.Time
}

func NewExamService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator) ExamService {
	return &examService{
		repo:      repo,
		logger:    logger,
		validator: validator,
		now:       time.Now,
	}
}

func (s *examService) GetExamDefinition(ctx context.Context, examID string) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		return nil, repoError("get exam", err, ErrExamNotFound)
	}
	return exam, nil
}

func (s *examService) GetReadingPassages(ctx context.Context, examID string) ([]models.ReadingPassage, error) {
	passages, err := s.repo.Exam().GetPassages(ctx, nil, examID)
	if err != nil {
		return nil, repoError("get passages", err, ErrExamNotFound)
	}
	return passages, nil
}

func (s *examService) GetExamForUser(ctx context.Context, examID, userID string) (interface{}, error) {
	exam, err := s.GetExamDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}

	staff, err := isStaff(ctx, s.repo.User(), userID)
	if err != nil {
		return nil, err
	}
	if staff {
		return exam, nil
	}

	if err := s.CheckAvailability(exam); err != nil {
		return nil, err
	}
	return ToExamView(exam)
}

// ToExamView strips answer keys and explanations.
func ToExamView(exam *models.Exam) (*models.ExamView, error) {
	var view models.ExamView
	if err := copier.Copy(&view, exam); err != nil {
		return nil, fmt.Errorf("failed to build exam view: %w", err)
	}
	return &view, nil
}

func (s *examService) CheckAvailability(exam *models.Exam) error {
	if !exam.IsAvailable(s.now()) {
		return ErrExamNotAvailable
	}
	return nil
}

func (s *examService) CreateExam(ctx context.Context, req *models.ExamCreateRequest, creatorID string) (*models.Exam, error) {
	s.logger.Info("Importing exam", "title", req.Title, "creator_id", creatorID)

	if err := requireStaff(ctx, s.repo.User(), creatorID, "", "exam", "create"); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateExamCreate(req); err != nil {
		return nil, err
	}

	exam := buildExam(req, creatorID)
	if err := s.repo.Exam().Create(ctx, nil, exam); err != nil {
		return nil, repoError("create exam", err, ErrExamNotFound)
	}

	s.logger.Info("Exam imported", "exam_id", exam.ID, "questions", len(exam.Questions), "passages", len(exam.Passages))
	return exam, nil
}

func buildExam(req *models.ExamCreateRequest, creatorID string) *models.Exam {
	exam := &models.Exam{
		Title:           req.Title,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		PassingScore:    req.PassingScore,
		AvailableFrom:   req.AvailableFrom,
		AvailableUntil:  req.AvailableUntil,
		Published:       req.Published,
		CreatedBy:       creatorID,
	}
	if exam.DurationMinutes <= 0 {
		exam.DurationMinutes = models.DefaultDurationMinutes
	}

	// Passage IDs are assigned here so questions can reference them in the same insert.
	passageIDs := make(map[string]string, len(req.Passages))
	for _, p := range req.Passages {
		id := uuid.NewString()
		passageIDs[p.Key] = id
		exam.Passages = append(exam.Passages, models.ReadingPassage{
			ID:           id,
			Title:        p.Title,
			Content:      p.Content,
			Author:       p.Author,
			Source:       p.Source,
			DisplayOrder: p.DisplayOrder,
		})
	}

	for _, q := range req.Questions {
		var passageID *string
		if q.PassageKey != nil {
			id := passageIDs[*q.PassageKey]
			passageID = &id
		}
		exam.Questions = append(exam.Questions, models.Question{
			Number:         q.Number,
			Type:           q.Type,
			Prompt:         q.Prompt,
			Points:         q.Points,
			Options:        q.Options,
			CorrectAnswer:  q.CorrectAnswer,
			CorrectAnswers: q.CorrectAnswers,
			PassageID:      passageID,
			Explanation:    q.Explanation,
		})
	}

	return exam
}

// UpdatePassingScore changes the threshold for future attempts only. Existing attempts keep their snapshot.
func (s *examService) UpdatePassingScore(ctx context.Context, examID string, req *models.PassingScoreUpdateRequest, userID string) (*models.Exam, error) {
	if err := requireStaff(ctx, s.repo.User(), userID, examID, "exam", "update"); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	if err := s.repo.Exam().UpdatePassingScore(ctx, nil, examID, req.PassingScore); err != nil {
		return nil, repoError("update passing score", err, ErrExamNotFound)
	}

	s.logger.Info("Passing score updated", "exam_id", examID, "passing_score", req.PassingScore, "user_id", userID)
	return s.GetExamDefinition(ctx, examID)
}
