// Package genesets models reference gene-set collections and the result
// records of enrichment runs.
package genesets

import (
	"sort"
)

// GeneSet is a named set of gene identifiers from an external database.
type GeneSet struct {
	Name        string
	Description string
	Genes       []string
}

// Collection is an ordered list of gene sets, typically one database file.
type Collection struct {
	Source string
	Sets   []GeneSet
}

// Len returns the number of gene sets
func (c *Collection) Len() int { return len(c.Sets) }

// Merge appends the sets of other collections. Later sets with a name already
// present are skipped and reported.
func (c *Collection) Merge(others ...*Collection) (duplicates []string) {
	seen := make(map[string]struct{}, len(c.Sets))
	for _, s := range c.Sets {
		seen[s.Name] = struct{}{}
	}
	for _, o := range others {
		for _, s := range o.Sets {
			if _, ok := seen[s.Name]; ok {
				duplicates = append(duplicates, s.Name)
				continue
			}
			seen[s.Name] = struct{}{}
			c.Sets = append(c.Sets, s)
		}
	}
	return duplicates
}

// Mode identifies the enrichment method that produced a result table.
type Mode string

const (
	ModeORA  Mode = "ora"
	ModeGSEA Mode = "gsea"
)

// Result is one gene set's enrichment record. NormalizedScore is NaN for ORA.
type Result struct {
	Name            string
	Overlap         int // query hits (ORA) or ranked-list hits (GSEA)
	SetSize         int // set members inside the universe or ranking
	Score           float64
	NormalizedScore float64
	PValue          float64
	PAdj            float64
	Genes           []string // overlapping genes (ORA) or leading edge (GSEA)
}

// Table is the output of one enrichment run.
type Table struct {
	Mode    Mode
	Results []Result
	// Unmapped counts set members absent from the universe or ranking, summed over sets.
	Unmapped int
	// SetsWithUnmapped counts sets that lost at least one member to Unmapped.
	SetsWithUnmapped int
	// DiscardedQuery counts query genes outside the universe (ORA only).
	DiscardedQuery int
	// Skipped counts sets outside the configured size bounds.
	Skipped int
}

// Empty reports whether no set produced a result.
func (t *Table) Empty() bool { return len(t.Results) == 0 }

// SortResults orders by p-value, then by absolute normalized score, then by name.
func SortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.PValue != b.PValue {
			return a.PValue < b.PValue
		}
		if abs(a.NormalizedScore) != abs(b.NormalizedScore) {
			return abs(a.NormalizedScore) > abs(b.NormalizedScore)
		}
		return a.Name < b.Name
	})
}

func abs(v float64) float64 {
	if v != v {
		return 0
	}
	if v < 0 {
		return -v
	}
	return v
}

// RankedGene is one entry of a ranked list, e.g. a gene and its Wald statistic.
type RankedGene struct {
	GeneID string
	Score  float64
}

// GeneIndex maps gene identifiers to dense integer positions so set overlaps
// can be computed on ints instead of strings.
type GeneIndex struct {
	ids   []string
	index map[string]int
}

// NewGeneIndex indexes ids in order. Repeated identifiers keep their first position.
func NewGeneIndex(ids []string) *GeneIndex {
	gi := &GeneIndex{index: make(map[string]int, len(ids))}
	for _, id := range ids {
		if _, ok := gi.index[id]; ok {
			continue
		}
		gi.index[id] = len(gi.ids)
		gi.ids = append(gi.ids, id)
	}
	return gi
}

// Len returns the number of distinct identifiers
func (gi *GeneIndex) Len() int { return len(gi.ids) }

// Lookup returns the position of id.
func (gi *GeneIndex) Lookup(id string) (int, bool) {
	i, ok := gi.index[id]
	return i, ok
}

// ID returns the identifier at position i.
func (gi *GeneIndex) ID(i int) string { return gi.ids[i] }

// Resolve maps genes to sorted, de-duplicated positions and counts the
// identifiers that are not indexed.
func (gi *GeneIndex) Resolve(genes []string) (positions []int, missing int) {
	seen := make(map[int]struct{}, len(genes))
	for _, g := range genes {
		i, ok := gi.index[g]
		if !ok {
			missing++
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		positions = append(positions, i)
	}
	sort.Ints(positions)
	return positions, missing
}
