package services

import (
	"context"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
)

// isStaff reports whether the user may see other candidates' attempts and answer keys.
// Unknown users are treated as candidates.
func isStaff(ctx context.Context, users repositories.UserRepository, userID string) (bool, error) {
	if users == nil {
		return false, nil
	}
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, repoError("resolve user", err, ErrNotFound)
	}
	return user.IsStaff(), nil
}

func requireStaff(ctx context.Context, users repositories.UserRepository, userID, resourceID, resource, action string) error {
	staff, err := isStaff(ctx, users, userID)
	if err != nil {
		return err
	}
	if !staff {
		return NewPermissionError(userID, resourceID, resource, action, "requires teacher or admin role")
	}
	return nil
}

// authorizeAttemptRead allows the owning candidate and staff.
func authorizeAttemptRead(ctx context.Context, users repositories.UserRepository, attempt *models.Attempt, userID string) error {
	if attempt.CandidateID == userID {
		return nil
	}
	return requireStaff(ctx, users, userID, attempt.ID, "attempt", "read")
}

// authorizeAttemptWrite allows only the owning candidate.
func authorizeAttemptWrite(attempt *models.Attempt, userID, action string) error {
	if attempt.CandidateID != userID {
		return NewPermissionError(userID, attempt.ID, "attempt", action, "not the attempt owner")
	}
	return nil
}
