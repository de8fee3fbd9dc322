package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"experiment-scheduler/core/models"
)

// EventRepository handles database operations for experiment status history
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// ListStatuses retrieves the status history of an experiment, newest first
func (r *EventRepository) ListStatuses(ctx context.Context, experimentID int64, limit int) ([]models.ExperimentStatus, error) {
	query := `
		SELECT id, experiment_id, at, status, message, traceback
		FROM experiment_statuses
		WHERE experiment_id = $1
		ORDER BY at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, experimentID, limit)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var statuses []models.ExperimentStatus
	for rows.Next() {
		var status models.ExperimentStatus
		var message, traceback sql.NullString

		err := rows.Scan(
			&status.ID,
			&status.ExperimentID,
			&status.At,
			&status.Status,
			&message,
			&traceback,
		)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		status.Message = message.String
		status.Traceback = traceback.String

		statuses = append(statuses, status)
	}

	return statuses, errors.WithStack(rows.Err())
}
