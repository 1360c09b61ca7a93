package postgres

import (
	"context"
	"fmt"

	"github.com/upb/edge-authorizer/models"
	"github.com/upb/edge-authorizer/repositories"
	"go.uber.org/zap"
)

// DecisionRepository implements the repositories.DecisionRepository interface
type DecisionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *DB, logger *zap.Logger) repositories.DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new decision entry
func (r *DecisionRepository) Insert(ctx context.Context, log *models.DecisionLog) error {
	query := `
		INSERT INTO authorization_decisions (
			id, effect, principal_id, resource, reason, key_id, issuer,
			request_id, ip_address, user_agent, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		string(log.Effect),
		log.PrincipalID,
		log.Resource,
		log.Reason,
		log.KeyID,
		log.Issuer,
		log.RequestID,
		log.IPAddress,
		log.UserAgent,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	r.logger.Debug("decision inserted", zap.String("id", log.ID.String()), zap.String("effect", string(log.Effect)))
	return nil
}

// ListRecent retrieves the newest decisions
func (r *DecisionRepository) ListRecent(ctx context.Context, limit int) ([]*models.DecisionLog, error) {
	if limit <= 0 {
		return nil, repositories.ErrInvalidLimit
	}

	query := `
		SELECT id, effect, principal_id, resource, reason, key_id, issuer,
		       request_id, ip_address, user_agent, timestamp
		FROM authorization_decisions
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.DecisionLog, 0, limit)
	for rows.Next() {
		var log models.DecisionLog
		var effect string
		if err := rows.Scan(
			&log.ID,
			&effect,
			&log.PrincipalID,
			&log.Resource,
			&log.Reason,
			&log.KeyID,
			&log.Issuer,
			&log.RequestID,
			&log.IPAddress,
			&log.UserAgent,
			&log.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		log.Effect = models.DecisionEffect(effect)
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return logs, nil
}

// CountByEffect counts stored decisions per effect
func (r *DecisionRepository) CountByEffect(ctx context.Context) (map[models.DecisionEffect]int64, error) {
	query := `SELECT effect, COUNT(*) FROM authorization_decisions GROUP BY effect`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DecisionEffect]int64)
	for rows.Next() {
		var effect string
		var count int64
		if err := rows.Scan(&effect, &count); err != nil {
			return nil, fmt.Errorf("failed to scan decision count: %w", err)
		}
		counts[models.DecisionEffect(effect)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision counts: %w", err)
	}

	return counts, nil
}
