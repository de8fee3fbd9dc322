package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"experiment-scheduler/core/models"
)

// JobRepository handles database operations for experiment jobs
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJobResources persists a resource snapshot and sets its ID
func (r *JobRepository) CreateJobResources(ctx context.Context, res *models.JobResources) error {
	query := `
		INSERT INTO job_resources (memory, cpu, gpu, tpu)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var args []interface{}
	for _, dim := range []*models.ResourceRequest{res.Memory, res.CPU, res.GPU, res.TPU} {
		v, err := jsonColumn(dim, dim.IsEmpty())
		if err != nil {
			return err
		}
		args = append(args, v)
	}

	return errors.WithStack(r.db.QueryRowContext(ctx, query, args...).Scan(&res.ID))
}

// CreateJob creates a job record. Resources must already be persisted.
func (r *JobRepository) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO experiment_jobs (
			uuid, experiment_id, role, sequence, definition, resources_id,
			node_selector, affinity, tolerations
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	var resourcesID sql.NullInt64
	if job.Resources != nil {
		resourcesID = sql.NullInt64{Int64: job.Resources.ID, Valid: true}
	}
	var sequence sql.NullInt64
	if job.Sequence != nil {
		sequence = sql.NullInt64{Int64: int64(*job.Sequence), Valid: true}
	}

	nodeSelector, err := jsonColumn(job.NodeSelector, len(job.NodeSelector) == 0)
	if err != nil {
		return err
	}
	affinity, err := jsonColumn(job.Affinity, len(job.Affinity) == 0)
	if err != nil {
		return err
	}
	tolerations, err := jsonColumn(job.Tolerations, len(job.Tolerations) == 0)
	if err != nil {
		return err
	}
	var definition interface{}
	if len(job.Definition) > 0 {
		definition = []byte(job.Definition)
	}

	err = r.db.QueryRowContext(ctx, query,
		job.UUID,
		job.ExperimentID,
		nullString(string(job.Role)),
		sequence,
		definition,
		resourcesID,
		nodeSelector,
		affinity,
		tolerations,
	).Scan(&job.ID, &job.CreatedAt)
	return errors.WithStack(err)
}

// ListJobs lists the jobs of an experiment in registration order
func (r *JobRepository) ListJobs(ctx context.Context, experimentID int64) ([]*models.Job, error) {
	query := `
		SELECT j.id, j.uuid, j.experiment_id, j.role, j.sequence, j.definition,
			j.node_selector, j.affinity, j.tolerations, j.created_at,
			res.id, res.memory, res.cpu, res.gpu, res.tpu
		FROM experiment_jobs j
		LEFT JOIN job_resources res ON res.id = j.resources_id
		WHERE j.experiment_id = $1
		ORDER BY j.id
	`

	rows, err := r.db.QueryContext(ctx, query, experimentID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		var role sql.NullString
		var sequence, resourcesID sql.NullInt64
		var definition, nodeSelector, affinity, tolerations []byte
		var memory, cpu, gpu, tpu []byte

		err := rows.Scan(
			&job.ID,
			&job.UUID,
			&job.ExperimentID,
			&role,
			&sequence,
			&definition,
			&nodeSelector,
			&affinity,
			&tolerations,
			&job.CreatedAt,
			&resourcesID,
			&memory,
			&cpu,
			&gpu,
			&tpu,
		)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		job.Role = models.TaskType(role.String)
		if sequence.Valid {
			seq := int(sequence.Int64)
			job.Sequence = &seq
		}
		if len(definition) > 0 {
			job.Definition = append([]byte(nil), definition...)
		}
		for raw, dest := range map[*[]byte]interface{}{
			&nodeSelector: &job.NodeSelector,
			&affinity:     &job.Affinity,
			&tolerations:  &job.Tolerations,
		} {
			if err := scanJSON(*raw, dest); err != nil {
				return nil, err
			}
		}

		if resourcesID.Valid {
			job.Resources = &models.JobResources{ID: resourcesID.Int64}
			for raw, dest := range map[*[]byte]**models.ResourceRequest{
				&memory: &job.Resources.Memory,
				&cpu:    &job.Resources.CPU,
				&gpu:    &job.Resources.GPU,
				&tpu:    &job.Resources.TPU,
			} {
				if len(*raw) == 0 {
					continue
				}
				*dest = &models.ResourceRequest{}
				if err := scanJSON(*raw, *dest); err != nil {
					return nil, err
				}
			}
		}

		jobs = append(jobs, &job)
	}

	return jobs, errors.WithStack(rows.Err())
}
