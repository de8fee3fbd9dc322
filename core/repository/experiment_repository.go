package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"experiment-scheduler/core/models"
)

// ErrExperimentNotFound is returned when no experiment has the requested id
var ErrExperimentNotFound = errors.New("experiment not found")

// ExperimentRepository handles database operations for experiments
type ExperimentRepository struct {
	db *DB
}

// NewExperimentRepository creates a new experiment repository
func NewExperimentRepository(db *DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

// GetExperiment retrieves an experiment by ID. The specification is left unparsed.
func (r *ExperimentRepository) GetExperiment(ctx context.Context, id int64) (*models.Experiment, error) {
	query := `
		SELECT id, uuid, user_id, username, project_id, project_uuid, project_name,
			group_id, group_uuid, group_name, build_job_id, build_job_uuid, docker_image,
			config, status, persistence_config, outputs_refs_experiments, outputs_refs_jobs,
			original_unique_name, cloning_strategy, created_at
		FROM experiments
		WHERE id = $1
	`

	var exp models.Experiment
	var groupID, buildJobID sql.NullInt64
	var groupUUID, groupName, buildJobUUID, dockerImage sql.NullString
	var originalName, cloningStrategy sql.NullString
	var persistence, refsExperiments, refsJobs []byte

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&exp.ID,
		&exp.UUID,
		&exp.UserID,
		&exp.Username,
		&exp.Project.ID,
		&exp.Project.UUID,
		&exp.Project.UniqueName,
		&groupID,
		&groupUUID,
		&groupName,
		&buildJobID,
		&buildJobUUID,
		&dockerImage,
		&exp.Config,
		&exp.Status,
		&persistence,
		&refsExperiments,
		&refsJobs,
		&originalName,
		&cloningStrategy,
		&exp.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrExperimentNotFound, "experiment %d", id)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if groupID.Valid {
		exp.Group = &models.ExperimentGroup{ID: groupID.Int64, UniqueName: groupName.String}
		if groupUUID.Valid {
			exp.Group.UUID, _ = uuid.Parse(groupUUID.String)
		}
	}
	if buildJobID.Valid {
		exp.BuildJob = &models.BuildJob{ID: buildJobID.Int64, DockerImage: dockerImage.String}
		if buildJobUUID.Valid {
			exp.BuildJob.UUID, _ = uuid.Parse(buildJobUUID.String)
		}
	}
	if len(persistence) > 0 {
		exp.PersistenceConfig = &models.PersistenceConfig{}
		if err := scanJSON(persistence, exp.PersistenceConfig); err != nil {
			return nil, err
		}
	}
	if err := scanJSON(refsExperiments, &exp.OutputsRefsExperiments); err != nil {
		return nil, err
	}
	if err := scanJSON(refsJobs, &exp.OutputsRefsJobs); err != nil {
		return nil, err
	}
	exp.OriginalUniqueName = originalName.String
	exp.CloningStrategy = models.CloningStrategy(cloningStrategy.String)

	return &exp, nil
}

// SetStatus updates the experiment status atomically with its status history
func (r *ExperimentRepository) SetStatus(ctx context.Context, experimentID int64, status models.ExperimentLifeCycle, message, traceback string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()

	updateQuery := `UPDATE experiments SET status = $1, updated_at = NOW() WHERE id = $2`
	res, err := tx.ExecContext(ctx, updateQuery, status, experimentID)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrExperimentNotFound, "experiment %d", experimentID)
	}

	if err := r.createStatusTx(ctx, tx, experimentID, status, message, traceback); err != nil {
		return err
	}

	return errors.WithStack(tx.Commit())
}

func (r *ExperimentRepository) createStatusTx(ctx context.Context, tx *sql.Tx, experimentID int64, status models.ExperimentLifeCycle, message, traceback string) error {
	query := `
		INSERT INTO experiment_statuses (experiment_id, status, message, traceback)
		VALUES ($1, $2, $3, $4)
	`
	_, err := tx.ExecContext(ctx, query, experimentID, status, nullString(message), nullString(traceback))
	return errors.WithStack(err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
