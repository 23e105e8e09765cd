package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"rnadiff/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations. The statements use the
// subset of SQL shared by PostgreSQL and SQLite.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create runs table"))
	}

	if err := r.createDEResultsTable(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create de_results table"))
	}

	if err := r.createEnrichmentResultsTable(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create enrichment_results table"))
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create indexes"))
	}

	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR(36) PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			factor TEXT NOT NULL,
			numerator TEXT NOT NULL,
			denominator TEXT NOT NULL,
			test VARCHAR(10) NOT NULL,
			settings_hash VARCHAR(64) NOT NULL,
			genes INTEGER NOT NULL,
			significant INTEGER NOT NULL,
			up INTEGER NOT NULL,
			down INTEGER NOT NULL,
			output_dir TEXT NOT NULL DEFAULT ''
		)
	`)
	return err
}

func (r *MigrationRunner) createDEResultsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS de_results (
			run_id VARCHAR(36) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			gene_id TEXT NOT NULL,
			base_mean DOUBLE PRECISION NOT NULL,
			log2_fold_change DOUBLE PRECISION,
			lfc_se DOUBLE PRECISION,
			stat DOUBLE PRECISION,
			pvalue DOUBLE PRECISION,
			padj DOUBLE PRECISION,
			converged INTEGER NOT NULL,
			PRIMARY KEY (run_id, position)
		)
	`)
	return err
}

func (r *MigrationRunner) createEnrichmentResultsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS enrichment_results (
			run_id VARCHAR(36) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			mode VARCHAR(10) NOT NULL,
			position INTEGER NOT NULL,
			set_name TEXT NOT NULL,
			overlap INTEGER NOT NULL,
			set_size INTEGER NOT NULL,
			score DOUBLE PRECISION,
			nes DOUBLE PRECISION,
			pvalue DOUBLE PRECISION,
			padj DOUBLE PRECISION,
			genes TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, mode, position)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_de_results_padj ON de_results(run_id, padj)`,
		`CREATE INDEX IF NOT EXISTS idx_enrichment_results_padj ON enrichment_results(run_id, mode, padj)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
