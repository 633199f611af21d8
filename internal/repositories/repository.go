package repositories

import (
	"context"

	"gorm.io/gorm"
)

// Repository groups all repositories behind one handle
type Repository interface {
	Exam() ExamRepository
	Attempt() AttemptRepository
	Answer() AnswerRepository
	User() UserRepository

	// WithTransaction runs fn inside a database transaction and passes the handle
	// that repository methods accept as tx.
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
