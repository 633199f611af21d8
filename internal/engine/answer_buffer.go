package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/scoring"
)

// AnswerSaver persists one answer. Calls are idempotent per (attempt, question).
type AnswerSaver interface {
	UpsertAnswer(ctx context.Context, attemptID, questionID, candidateID string, value json.RawMessage) (*models.Answer, error)
}

type bufferEntry struct {
	value   json.RawMessage
	version uint64
}

// AnswerBuffer holds the candidate's latest answers in memory and writes back
// only what changed since the last successful flush.
type AnswerBuffer struct {
	attemptID   string
	candidateID string
	saver       AnswerSaver
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[string]bufferEntry
	flushed map[string]uint64

	// flushMu keeps flushes from interleaving.
	flushMu sync.Mutex
}

func NewAnswerBuffer(attemptID, candidateID string, saver AnswerSaver, logger *slog.Logger) *AnswerBuffer {
	return &AnswerBuffer{
		attemptID:   attemptID,
		candidateID: candidateID,
		saver:       saver,
		logger:      logger,
		entries:     make(map[string]bufferEntry),
		flushed:     make(map[string]uint64),
	}
}

// Load seeds the buffer with persisted answers. Loaded entries are clean.
func (b *AnswerBuffer) Load(answers []models.Answer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, a := range answers {
		entry := b.entries[a.QuestionID]
		entry.value = append(json.RawMessage(nil), a.Value...)
		entry.version++
		b.entries[a.QuestionID] = entry
		b.flushed[a.QuestionID] = entry.version
	}
}

func (b *AnswerBuffer) Set(questionID string, value json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.entries[questionID]
	entry.value = append(json.RawMessage(nil), value...)
	entry.version++
	b.entries[questionID] = entry
}

func (b *AnswerBuffer) Get(questionID string) (json.RawMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[questionID]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), entry.value...), true
}

// Dirty returns the question IDs with unsaved changes, sorted.
func (b *AnswerBuffer) Dirty() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dirty []string
	for qid, entry := range b.entries {
		if entry.version != b.flushed[qid] {
			dirty = append(dirty, qid)
		}
	}
	sort.Strings(dirty)
	return dirty
}

// AnsweredCount counts the given questions that hold a non-blank answer.
func (b *AnswerBuffer) AnsweredCount(questionIDs []string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, qid := range questionIDs {
		if entry, ok := b.entries[qid]; ok && !scoring.IsBlank(entry.value) {
			n++
		}
	}
	return n
}

type pendingWrite struct {
	questionID string
	value      json.RawMessage
	version    uint64
}

// Flush saves every dirty entry. Failed entries stay dirty for the next flush,
// as do entries edited while the flush was running. The returned error joins
// every failure.
func (b *AnswerBuffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	pending := make([]pendingWrite, 0, len(b.entries))
	for qid, entry := range b.entries {
		if entry.version != b.flushed[qid] {
			pending = append(pending, pendingWrite{questionID: qid, value: entry.value, version: entry.version})
		}
	}
	b.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].questionID < pending[j].questionID })

	var errs []error
	for _, w := range pending {
		if _, err := b.saver.UpsertAnswer(ctx, b.attemptID, w.questionID, b.candidateID, w.value); err != nil {
			b.logger.WarnContext(ctx, "Failed to save answer",
				"attempt_id", b.attemptID,
				"question_id", w.questionID,
				"error", err)
			errs = append(errs, fmt.Errorf("question %s: %w", w.questionID, err))
			continue
		}

		b.mu.Lock()
		if b.flushed[w.questionID] < w.version {
			b.flushed[w.questionID] = w.version
		}
		b.mu.Unlock()
	}

	return errors.Join(errs...)
}
