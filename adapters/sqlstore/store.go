// Package sqlstore persists pipeline runs with sqlx on PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"rnadiff/domain/core"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
	"rnadiff/internal/migration"
	"rnadiff/ports"
)

// Store implements ports.ResultStore
type Store struct {
	db *sqlx.DB
}

var _ ports.ResultStore = (*Store)(nil)

// Open connects to url and applies migrations. postgres:// and postgresql:// URLs use
// lib/pq; anything else is a SQLite file path, optionally prefixed with sqlite://.
func Open(ctx context.Context, url string) (*Store, error) {
	driver, dsn := resolveDriver(url)
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("failed to connect to %s database: %w", driver, err))
	}
	if driver == "sqlite3" {
		// SQLite allows one writer at a time
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, errors.WithCode(errors.CodeDatabaseError, err)
		}
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing, migrated connection
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func resolveDriver(url string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite://")
	default:
		return "sqlite3", url
	}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type runRow struct {
	ID           string    `db:"id"`
	CreatedAt    time.Time `db:"created_at"`
	Factor       string    `db:"factor"`
	Numerator    string    `db:"numerator"`
	Denominator  string    `db:"denominator"`
	Test         string    `db:"test"`
	SettingsHash string    `db:"settings_hash"`
	Genes        int       `db:"genes"`
	Significant  int       `db:"significant"`
	Up           int       `db:"up"`
	Down         int       `db:"down"`
	OutputDir    string    `db:"output_dir"`
}

func (r runRow) record() ports.RunRecord {
	return ports.RunRecord{
		ID:           core.RunID(r.ID),
		CreatedAt:    r.CreatedAt.UTC(),
		Design:       expression.Design{Factor: r.Factor, Numerator: r.Numerator, Denominator: r.Denominator},
		Test:         r.Test,
		SettingsHash: core.Hash(r.SettingsHash),
		Genes:        r.Genes,
		Significant:  r.Significant,
		Up:           r.Up,
		Down:         r.Down,
		OutputDir:    r.OutputDir,
	}
}

type deRow struct {
	GeneID         string          `db:"gene_id"`
	BaseMean       float64         `db:"base_mean"`
	Log2FoldChange sql.NullFloat64 `db:"log2_fold_change"`
	LfcSE          sql.NullFloat64 `db:"lfc_se"`
	Stat           sql.NullFloat64 `db:"stat"`
	PValue         sql.NullFloat64 `db:"pvalue"`
	PAdj           sql.NullFloat64 `db:"padj"`
	Converged      int             `db:"converged"`
}

type enrichmentRow struct {
	SetName string          `db:"set_name"`
	Overlap int             `db:"overlap"`
	SetSize int             `db:"set_size"`
	Score   sql.NullFloat64 `db:"score"`
	NES     sql.NullFloat64 `db:"nes"`
	PValue  sql.NullFloat64 `db:"pvalue"`
	PAdj    sql.NullFloat64 `db:"padj"`
	Genes   string          `db:"genes"`
}

// nullable maps NaN to SQL NULL
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return expression.NA
	}
	return v.Float64
}

// SaveRun stores the run and its tables in one transaction
func (s *Store) SaveRun(ctx context.Context, run ports.RunRecord, de []expression.DEResult, enrichment ...*genesets.Table) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO runs (id, created_at, factor, numerator, denominator, test, settings_hash, genes, significant, up, down, output_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), run.ID.String(), run.CreatedAt.UTC(), run.Design.Factor, run.Design.Numerator, run.Design.Denominator,
		run.Test, run.SettingsHash.String(), run.Genes, run.Significant, run.Up, run.Down, run.OutputDir)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("failed to insert run %s: %w", run.ID, err))
	}

	deStmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO de_results (run_id, position, gene_id, base_mean, log2_fold_change, lfc_se, stat, pvalue, padj, converged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	defer deStmt.Close()
	for i, r := range de {
		converged := 0
		if r.Converged {
			converged = 1
		}
		if _, err := deStmt.ExecContext(ctx, run.ID.String(), i, r.GeneID, r.BaseMean,
			nullable(r.Log2FoldChange), nullable(r.LfcSE), nullable(r.Stat), nullable(r.PValue), nullable(r.PAdj), converged); err != nil {
			return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("failed to insert result for %s: %w", r.GeneID, err))
		}
	}

	enStmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO enrichment_results (run_id, mode, position, set_name, overlap, set_size, score, nes, pvalue, padj, genes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	defer enStmt.Close()
	for _, table := range enrichment {
		if table == nil {
			continue
		}
		for i, r := range table.Results {
			if _, err := enStmt.ExecContext(ctx, run.ID.String(), string(table.Mode), i, r.Name, r.Overlap, r.SetSize,
				nullable(r.Score), nullable(r.NormalizedScore), nullable(r.PValue), nullable(r.PAdj), strings.Join(r.Genes, ",")); err != nil {
				return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("failed to insert %s result for %s: %w", table.Mode, r.Name, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	return nil
}

// ListRuns returns all runs, newest first
func (s *Store) ListRuns(ctx context.Context) ([]ports.RunRecord, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at, factor, numerator, denominator, test, settings_hash, genes, significant, up, down, output_dir
		FROM runs
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	runs := make([]ports.RunRecord, len(rows))
	for i, r := range rows {
		runs[i] = r.record()
	}
	return runs, nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, created_at, factor, numerator, denominator, test, settings_hash, genes, significant, up, down, output_dir
		FROM runs
		WHERE id = ?
	`), id.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("run " + id.String())
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	rec := row.record()
	return &rec, nil
}

// GetDEResults returns stored DE records in their original order
func (s *Store) GetDEResults(ctx context.Context, id core.RunID, maxPAdj float64) ([]expression.DEResult, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}

	query := `
		SELECT gene_id, base_mean, log2_fold_change, lfc_se, stat, pvalue, padj, converged
		FROM de_results
		WHERE run_id = ?`
	args := []interface{}{id.String()}
	if maxPAdj > 0 {
		query += ` AND padj IS NOT NULL AND padj < ?`
		args = append(args, maxPAdj)
	}
	query += ` ORDER BY position`

	var rows []deRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	results := make([]expression.DEResult, len(rows))
	for i, r := range rows {
		results[i] = expression.DEResult{
			GeneID:         r.GeneID,
			BaseMean:       r.BaseMean,
			Log2FoldChange: fromNullable(r.Log2FoldChange),
			LfcSE:          fromNullable(r.LfcSE),
			Stat:           fromNullable(r.Stat),
			PValue:         fromNullable(r.PValue),
			PAdj:           fromNullable(r.PAdj),
			Converged:      r.Converged == 1,
		}
	}
	return results, nil
}

// GetEnrichment returns stored enrichment records for one mode in their original order
func (s *Store) GetEnrichment(ctx context.Context, id core.RunID, mode genesets.Mode) ([]genesets.Result, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}

	var rows []enrichmentRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT set_name, overlap, set_size, score, nes, pvalue, padj, genes
		FROM enrichment_results
		WHERE run_id = ? AND mode = ?
		ORDER BY position
	`), id.String(), string(mode))
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	results := make([]genesets.Result, len(rows))
	for i, r := range rows {
		var genes []string
		if r.Genes != "" {
			genes = strings.Split(r.Genes, ",")
		}
		results[i] = genesets.Result{
			Name:            r.SetName,
			Overlap:         r.Overlap,
			SetSize:         r.SetSize,
			Score:           fromNullable(r.Score),
			NormalizedScore: fromNullable(r.NES),
			PValue:          fromNullable(r.PValue),
			PAdj:            fromNullable(r.PAdj),
			Genes:           genes,
		}
	}
	return results, nil
}
