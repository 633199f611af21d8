package services

import (
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
)

// Error categories. Every error returned by this package matches at most one of
// them through errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTransientIO      = errors.New("transient I/O failure")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
)

var (
	ErrExamNotFound     = fmt.Errorf("exam %w", ErrNotFound)
	ErrAttemptNotFound  = fmt.Errorf("attempt %w", ErrNotFound)
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	ErrExamNotAvailable = fmt.Errorf("exam is not open for attempts: %w", ErrUnauthorized)
)

var (
	ErrAttemptNotSubmitted   = errors.New("attempt has not been submitted")
	ErrAttemptTimeExpired    = errors.New("attempt time has expired")
	ErrSubmissionInProgress  = errors.New("submission already in progress")
	ErrSessionNotActive      = errors.New("session is not accepting changes")
	ErrInvalidNavigation     = errors.New("invalid navigation target")
	ErrReviewIndexOutOfRange = errors.New("review index out of range")
)

// PermissionError describes a denied action. It matches ErrUnauthorized.
type PermissionError struct {
	UserID     string
	ResourceID string
	Resource   string
	Action     string
	Reason     string
}

func NewPermissionError(userID, resourceID, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %s: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func (e *PermissionError) Unwrap() error {
	return ErrUnauthorized
}

// IsRetryable reports whether the operation may succeed if repeated unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

// repoError maps a repository failure: not-found becomes notFound, anything else is transient.
func repoError(op string, err error, notFound error) error {
	if repositories.IsNotFoundError(err) {
		return notFound
	}
	return fmt.Errorf("%w: %s: %w", ErrTransientIO, op, err)
}
