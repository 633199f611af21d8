package repositories

import (
	"context"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
)

// UserRepository is read-only: identities are owned by Casdoor.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	HasRole(ctx context.Context, id string, role models.UserRole) (bool, error)
}
