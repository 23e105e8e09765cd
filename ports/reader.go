package ports

import (
	"context"

	"rnadiff/domain/core"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
)

// RunReader provides read-only access to stored runs for the API.
// Holders of a RunReader cannot modify stored results.
type RunReader interface {
	// ListRuns returns all runs, newest first
	ListRuns(ctx context.Context) ([]RunRecord, error)

	// GetRun returns one run or a NOT_FOUND error
	GetRun(ctx context.Context, id core.RunID) (*RunRecord, error)

	// GetDEResults returns the run's DE records in stored order; maxPAdj > 0 keeps
	// only records with a defined padj below it
	GetDEResults(ctx context.Context, id core.RunID, maxPAdj float64) ([]expression.DEResult, error)

	// GetEnrichment returns the run's enrichment records for one mode
	GetEnrichment(ctx context.Context, id core.RunID, mode genesets.Mode) ([]genesets.Result, error)
}
