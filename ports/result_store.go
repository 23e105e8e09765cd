package ports

import (
	"context"
	"time"

	"rnadiff/domain/core"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
)

// RunRecord summarizes one persisted pipeline run
type RunRecord struct {
	ID           core.RunID        `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	Design       expression.Design `json:"design"`
	Test         string            `json:"test"`
	SettingsHash core.Hash         `json:"settings_hash"`
	Genes        int               `json:"genes"`
	Significant  int               `json:"significant"`
	Up           int               `json:"up"`
	Down         int               `json:"down"`
	OutputDir    string            `json:"output_dir"`
}

// ResultStore persists pipeline outputs for later querying
type ResultStore interface {
	RunReader

	// SaveRun stores the run summary, its DE table and any enrichment tables atomically
	SaveRun(ctx context.Context, run RunRecord, de []expression.DEResult, enrichment ...*genesets.Table) error

	Close() error
}
