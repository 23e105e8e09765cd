// Package enrichment tests gene-set collections against differential-expression
// output, either by over-representation of a query list or by running-sum
// enrichment along a ranked list.
package enrichment

import (
	"math"

	"github.com/charmbracelet/log"

	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
	"rnadiff/internal/multitest"
	rstats "rnadiff/internal/stats"
)

// ORAOptions configures over-representation analysis. Zero bounds disable the check.
type ORAOptions struct {
	MinSetSize int
	MaxSetSize int
	Logger     *log.Logger
}

// OverRepresentation tests every set in the collection for an excess of query genes
// using the hypergeometric upper tail. Query genes and set members outside the universe
// are excluded and counted. Sets without any query hit are left out of the table.
func OverRepresentation(query, universe []string, collection *genesets.Collection, opts ORAOptions) *genesets.Table {
	logger := logging.Component(opts.Logger, "ORA")
	table := &genesets.Table{Mode: genesets.ModeORA}

	index := genesets.NewGeneIndex(universe)
	queryPos, discarded := index.Resolve(query)
	table.DiscardedQuery = discarded
	if discarded > 0 {
		logger.Warn("query genes outside the universe were discarded", "genes", discarded)
	}

	N, n := index.Len(), len(queryPos)
	if n == 0 || collection == nil {
		logger.Info("nothing to test", "query", n, "universe", N)
		return table
	}

	inQuery := make([]bool, N)
	for _, p := range queryPos {
		inQuery[p] = true
	}

	var results []genesets.Result
	for _, set := range collection.Sets {
		members, missing := index.Resolve(set.Genes)
		if missing > 0 {
			table.Unmapped += missing
			table.SetsWithUnmapped++
			logger.Debug("set members excluded", "reason", errors.IdentifierMapping(set.Name, missing))
		}
		K := len(members)
		if !withinBounds(K, opts.MinSetSize, opts.MaxSetSize) {
			table.Skipped++
			continue
		}

		var hits []string
		for _, p := range members {
			if inQuery[p] {
				hits = append(hits, index.ID(p))
			}
		}
		k := len(hits)
		results = append(results, genesets.Result{
			Name:            set.Name,
			Overlap:         k,
			SetSize:         K,
			Score:           (float64(k) / float64(n)) / (float64(K) / float64(N)),
			NormalizedScore: math.NaN(),
			PValue:          rstats.HypergeometricUpperTail(k, n, K, N),
			Genes:           hits,
		})
	}

	adjust(results)
	for _, r := range results {
		if r.Overlap > 0 {
			table.Results = append(table.Results, r)
		}
	}
	genesets.SortResults(table.Results)

	logger.Info("over-representation analysis complete",
		"query", n,
		"universe", N,
		"tested", len(results),
		"reported", len(table.Results),
		"skipped", table.Skipped,
		"unmapped", table.Unmapped)
	return table
}

func withinBounds(size, lo, hi int) bool {
	if size == 0 {
		return false
	}
	if lo > 0 && size < lo {
		return false
	}
	if hi > 0 && size > hi {
		return false
	}
	return true
}

func adjust(results []genesets.Result) {
	p := make([]float64, len(results))
	for i, r := range results {
		p[i] = r.PValue
	}
	for i, q := range multitest.BenjaminiHochberg(p) {
		results[i].PAdj = q
	}
}
