// Package memory keeps recent decisions in a bounded in-process buffer.
// It backs the audit trail when no database is configured.
package memory

import (
	"context"
	"sync"

	"github.com/upb/edge-authorizer/models"
	"github.com/upb/edge-authorizer/repositories"
	"go.uber.org/zap"
)

// DecisionRepository is a ring buffer of the most recent decisions.
// Every insert is also written to the logger so nothing is lost when the
// buffer wraps.
type DecisionRepository struct {
	mu      sync.RWMutex
	entries []*models.DecisionLog
	next    int
	full    bool
	counts  map[models.DecisionEffect]int64
	logger  *zap.Logger
}

// NewDecisionRepository creates a repository holding at most capacity decisions
func NewDecisionRepository(capacity int, logger *zap.Logger) *DecisionRepository {
	if capacity <= 0 {
		capacity = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionRepository{
		entries: make([]*models.DecisionLog, capacity),
		counts:  make(map[models.DecisionEffect]int64),
		logger:  logger,
	}
}

var _ repositories.DecisionRepository = (*DecisionRepository)(nil)

// Insert stores a decision, overwriting the oldest once full
func (r *DecisionRepository) Insert(ctx context.Context, log *models.DecisionLog) error {
	r.mu.Lock()
	r.entries[r.next] = log
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.counts[log.Effect]++
	r.mu.Unlock()

	r.logger.Info("authorization decision",
		zap.String("id", log.ID.String()),
		zap.String("effect", string(log.Effect)),
		zap.String("principal_id", log.PrincipalID),
		zap.String("resource", log.Resource),
		zap.String("reason", log.Reason),
		zap.String("request_id", log.RequestID),
	)

	return nil
}

// ListRecent returns up to limit decisions, newest first
func (r *DecisionRepository) ListRecent(ctx context.Context, limit int) ([]*models.DecisionLog, error) {
	if limit <= 0 {
		return nil, repositories.ErrInvalidLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.entries)
	}
	if limit > size {
		limit = size
	}

	logs := make([]*models.DecisionLog, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		logs = append(logs, r.entries[idx])
	}

	return logs, nil
}

// CountByEffect returns totals since start, including decisions that have been overwritten
func (r *DecisionRepository) CountByEffect(ctx context.Context) (map[models.DecisionEffect]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.DecisionEffect]int64, len(r.counts))
	for effect, n := range r.counts {
		counts[effect] = n
	}
	return counts, nil
}
