package cache

import (
	"context"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateExamCache drops the cached definition, passages and stats of one exam.
func InvalidateExamCache(ctx context.Context, cm *CacheManager, examID string) {
	SafeDelete(ctx, cm.Exam, "id:"+examID)
	SafeDelete(ctx, cm.Passage, "exam:"+examID)
	SafeInvalidatePattern(ctx, cm.Stats, "exam:"+examID+":*")
}
