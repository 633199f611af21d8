package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/cache"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
)

type ExamPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
	cacheTTL     CacheTTLs
}

// CacheTTLs overrides the default cache lifetimes.
type CacheTTLs struct {
	Exam time.Duration
}

func NewExamPostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager, ttl CacheTTLs) repositories.ExamRepository {
	if ttl.Exam <= 0 {
		ttl.Exam = cache.ExamCacheConfig.TTL
	}
	return &ExamPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cacheManager,
		cacheTTL:     ttl,
	}
}

// Create stores the exam along with its questions and passages
func (e *ExamPostgreSQL) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	db := e.helpers.getDB(tx)
	if err := db.WithContext(ctx).Create(exam).Error; err != nil {
		return translateError("failed to create exam", err)
	}
	return nil
}

// GetByID loads the exam with questions in display order, through the cache
func (e *ExamPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Exam, error) {
	db := e.helpers.getDB(tx)
	var exam models.Exam

	err := e.cacheManager.Exam.CacheOrExecute(ctx, "id:"+id, &exam, e.cacheTTL.Exam, func() (interface{}, error) {
		var dbExam models.Exam
		err := db.WithContext(ctx).
			Preload("Questions", func(q *gorm.DB) *gorm.DB { return q.Order("number ASC") }).
			Preload("Passages", func(q *gorm.DB) *gorm.DB { return q.Order("display_order ASC") }).
			First(&dbExam, "id = ?", id).Error
		if err != nil {
			return nil, translateError("failed to get exam", err)
		}
		return &dbExam, nil
	})
	if err != nil {
		return nil, err
	}

	return &exam, nil
}

// GetPassages returns the exam's reading passages ordered for display
func (e *ExamPostgreSQL) GetPassages(ctx context.Context, tx *gorm.DB, examID string) ([]models.ReadingPassage, error) {
	db := e.helpers.getDB(tx)
	var passages []models.ReadingPassage

	err := e.cacheManager.Passage.CacheOrExecute(ctx, "exam:"+examID, &passages, e.cacheTTL.Exam, func() (interface{}, error) {
		var exists int64
		if err := db.WithContext(ctx).Model(&models.Exam{}).Where("id = ?", examID).Count(&exists).Error; err != nil {
			return nil, translateError("failed to check exam", err)
		}
		if exists == 0 {
			return nil, translateError("failed to get passages", gorm.ErrRecordNotFound)
		}

		var dbPassages []models.ReadingPassage
		if err := db.WithContext(ctx).
			Where("exam_id = ?", examID).
			Order("display_order ASC").
			Find(&dbPassages).Error; err != nil {
			return nil, translateError("failed to get passages", err)
		}
		return dbPassages, nil
	})
	if err != nil {
		return nil, err
	}

	return passages, nil
}

// UpdatePassingScore changes the live threshold. Existing attempts keep their snapshot.
func (e *ExamPostgreSQL) UpdatePassingScore(ctx context.Context, tx *gorm.DB, id string, passingScore *float64) error {
	db := e.helpers.getDB(tx)
	res := db.WithContext(ctx).Model(&models.Exam{}).Where("id = ?", id).Update("passing_score", passingScore)
	if res.Error != nil {
		return translateError("failed to update passing score", res.Error)
	}
	if res.RowsAffected == 0 {
		return translateError("failed to update passing score", gorm.ErrRecordNotFound)
	}

	cache.InvalidateExamCache(ctx, e.cacheManager, id)
	return nil
}
