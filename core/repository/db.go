package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// DB wraps the postgres connection pool
type DB struct {
	*sql.DB
}

// NewDB opens and pings the database
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return &DB{DB: db}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS experiments (
		id BIGSERIAL PRIMARY KEY,
		uuid UUID NOT NULL UNIQUE,
		user_id BIGINT NOT NULL,
		username TEXT NOT NULL,
		project_id BIGINT NOT NULL,
		project_uuid UUID NOT NULL,
		project_name TEXT NOT NULL,
		group_id BIGINT,
		group_uuid UUID,
		group_name TEXT,
		build_job_id BIGINT,
		build_job_uuid UUID,
		docker_image TEXT,
		config TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'created',
		persistence_config JSONB,
		outputs_refs_experiments JSONB,
		outputs_refs_jobs JSONB,
		original_unique_name TEXT,
		cloning_strategy TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS experiment_statuses (
		id BIGSERIAL PRIMARY KEY,
		experiment_id BIGINT NOT NULL REFERENCES experiments(id),
		at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status TEXT NOT NULL,
		message TEXT,
		traceback TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS job_resources (
		id BIGSERIAL PRIMARY KEY,
		memory JSONB,
		cpu JSONB,
		gpu JSONB,
		tpu JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS experiment_jobs (
		id BIGSERIAL PRIMARY KEY,
		uuid UUID NOT NULL UNIQUE,
		experiment_id BIGINT NOT NULL REFERENCES experiments(id),
		role TEXT,
		sequence INT,
		definition JSONB,
		resources_id BIGINT REFERENCES job_resources(id),
		node_selector JSONB,
		affinity JSONB,
		tolerations JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the tables the scheduler writes to
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}

// jsonColumn encodes v for a JSONB column; empty values are stored as NULL
func jsonColumn(v interface{}, empty bool) (interface{}, error) {
	if empty {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return raw, nil
}

// scanJSON decodes a nullable JSONB column into v
func scanJSON(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return errors.WithStack(json.Unmarshal(raw, v))
}
