package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
)

type AttemptPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

// Attempts are not cached: they change on every autosave and must be read fresh
// inside the submission transaction.
func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	db := a.helpers.getDB(tx)
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		return translateError("failed to create attempt", err)
	}
	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Attempt, error) {
	db := a.helpers.getDB(tx)
	var attempt models.Attempt
	if err := db.WithContext(ctx).First(&attempt, "id = ?", id).Error; err != nil {
		return nil, translateError("failed to get attempt", err)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Attempt, error) {
	db := a.helpers.getDB(tx)
	var attempt models.Attempt
	if err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&attempt, "id = ?", id).Error; err != nil {
		return nil, translateError("failed to lock attempt", err)
	}
	return &attempt, nil
}

// GetActive returns the candidate's in-progress attempt for the exam
func (a *AttemptPostgreSQL) GetActive(ctx context.Context, tx *gorm.DB, examID, candidateID string) (*models.Attempt, error) {
	db := a.helpers.getDB(tx)
	var attempt models.Attempt
	if err := db.WithContext(ctx).
		Where("exam_id = ? AND candidate_id = ? AND status = ?", examID, candidateID, models.AttemptInProgress).
		Order("started_at DESC").
		First(&attempt).Error; err != nil {
		return nil, translateError("failed to get active attempt", err)
	}
	return &attempt, nil
}

// List returns attempts newest first
func (a *AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	db := a.helpers.getDB(tx)
	var attempts []*models.Attempt
	var total int64

	query := db.WithContext(ctx).Model(&models.Attempt{})
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translateError("failed to count attempts", err)
	}

	query = a.helpers.ApplyPagination(query.Order("started_at DESC"), filters.Limit, filters.Offset)
	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, translateError("failed to list attempts", err)
	}

	return attempts, total, nil
}

// UpdateTimeSpent never moves time_spent backwards and never touches a submitted attempt
func (a *AttemptPostgreSQL) UpdateTimeSpent(ctx context.Context, tx *gorm.DB, id string, seconds int) error {
	db := a.helpers.getDB(tx)
	err := db.WithContext(ctx).Model(&models.Attempt{}).
		Where("id = ? AND status = ?", id, models.AttemptInProgress).
		Update("time_spent_seconds", gorm.Expr("GREATEST(time_spent_seconds, ?)", seconds)).Error
	return translateError("failed to update time spent", err)
}

func (a *AttemptPostgreSQL) Finalize(ctx context.Context, tx *gorm.DB, id string, result repositories.AttemptFinalization) (bool, error) {
	db := a.helpers.getDB(tx)
	res := db.WithContext(ctx).Model(&models.Attempt{}).
		Where("id = ? AND status = ?", id, models.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":             models.AttemptSubmitted,
			"score":              result.Score,
			"total_points":       result.TotalPoints,
			"percentage":         result.Percentage,
			"passed":             result.Passed,
			"time_spent_seconds": result.TimeSpentSeconds,
			"submitted_at":       result.SubmittedAt,
			"submit_trigger":     result.Trigger,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return false, translateError("failed to finalize attempt", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (a *AttemptPostgreSQL) CountSubmitted(ctx context.Context, tx *gorm.DB, examID string) (int64, error) {
	db := a.helpers.getDB(tx)
	var count int64
	err := db.WithContext(ctx).Model(&models.Attempt{}).
		Where("exam_id = ? AND status = ?", examID, models.AttemptSubmitted).
		Count(&count).Error
	return count, translateError("failed to count submitted attempts", err)
}

// ===== ANSWER REPOSITORY IMPLEMENTATION =====

type AnswerPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

// Upsert writes the value for (attempt, question). Scoring columns are left alone.
// answer is refreshed from the stored row, so an update reports the existing ID.
func (ar *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	db := ar.helpers.getDB(tx)
	err := upsertAnswer(db.WithContext(ctx), answer).Error
	return translateError("failed to upsert answer", err)
}

func upsertAnswer(db *gorm.DB, answer *models.Answer) *gorm.DB {
	return db.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		},
		clause.Returning{},
	).Create(answer)
}

func (ar *AnswerPostgreSQL) ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID string) ([]models.Answer, error) {
	db := ar.helpers.getDB(tx)
	var answers []models.Answer
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Find(&answers).Error; err != nil {
		return nil, translateError("failed to list answers", err)
	}
	return answers, nil
}

func (ar *AnswerPostgreSQL) ApplyScores(ctx context.Context, tx *gorm.DB, attemptID string, scores []repositories.AnswerScore) error {
	db := ar.helpers.getDB(tx)
	for _, s := range scores {
		err := db.WithContext(ctx).Model(&models.Answer{}).
			Where("attempt_id = ? AND question_id = ?", attemptID, s.QuestionID).
			Updates(map[string]interface{}{
				"correctness":   s.Correctness,
				"points_earned": s.PointsEarned,
			}).Error
		if err != nil {
			return translateError("failed to apply answer score", err)
		}
	}
	return nil
}

// QuestionStats aggregates persisted correctness over the exam's submitted attempts
func (ar *AnswerPostgreSQL) QuestionStats(ctx context.Context, tx *gorm.DB, examID string) ([]repositories.QuestionStat, error) {
	db := ar.helpers.getDB(tx)
	var stats []repositories.QuestionStat
	err := db.WithContext(ctx).
		Table("answers AS an").
		Select(`an.question_id AS question_id,
			SUM(CASE WHEN an.correctness = ? THEN 1 ELSE 0 END) AS correct,
			SUM(CASE WHEN an.correctness = ? THEN 1 ELSE 0 END) AS incorrect,
			SUM(CASE WHEN an.correctness = ? THEN 1 ELSE 0 END) AS pending`,
			models.Correct, models.Incorrect, models.Pending).
		Joins("JOIN attempts AS at ON at.id = an.attempt_id").
		Where("at.exam_id = ? AND at.status = ?", examID, models.AttemptSubmitted).
		Group("an.question_id").
		Scan(&stats).Error
	if err != nil {
		return nil, translateError("failed to aggregate question stats", err)
	}
	return stats, nil
}
