package repositories

import (
	"context"
	"errors"

	"github.com/upb/edge-authorizer/models"
)

// ErrInvalidLimit is returned when a list call asks for a non-positive number of rows
var ErrInvalidLimit = errors.New("limit must be positive")

// DecisionRepository stores authorization decisions
type DecisionRepository interface {
	// Insert stores a single decision
	Insert(ctx context.Context, log *models.DecisionLog) error

	// ListRecent returns up to limit decisions, newest first
	ListRecent(ctx context.Context, limit int) ([]*models.DecisionLog, error)

	// CountByEffect returns how many decisions of each effect are stored
	CountByEffect(ctx context.Context) (map[models.DecisionEffect]int64, error)
}
