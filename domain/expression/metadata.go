package expression

import (
	"fmt"
	"sort"

	"rnadiff/internal/errors"
)

// SampleMetadata is one record per sample; Values maps a covariate column to
// values aligned with SampleIDs.
type SampleMetadata struct {
	SampleIDs []string
	Columns   []string
	Values    map[string][]string
}

// Column returns the values of a covariate, aligned with SampleIDs.
func (md *SampleMetadata) Column(name string) ([]string, bool) {
	v, ok := md.Values[name]
	return v, ok
}

// AlignTo reorders the metadata records to follow sampleIDs exactly. It fails
// with an alignment error when the identifier sets differ.
func (md *SampleMetadata) AlignTo(sampleIDs []string) (*SampleMetadata, error) {
	if dup := firstDuplicate(md.SampleIDs); dup != "" {
		return nil, errors.InvalidInput(fmt.Sprintf("duplicate sample identifier %q in metadata", dup))
	}

	index := make(map[string]int, len(md.SampleIDs))
	for i, id := range md.SampleIDs {
		index[id] = i
	}

	var missingInMetadata []string
	wanted := make(map[string]struct{}, len(sampleIDs))
	for _, id := range sampleIDs {
		wanted[id] = struct{}{}
		if _, ok := index[id]; !ok {
			missingInMetadata = append(missingInMetadata, id)
		}
	}
	var missingInCounts []string
	for _, id := range md.SampleIDs {
		if _, ok := wanted[id]; !ok {
			missingInCounts = append(missingInCounts, id)
		}
	}
	if len(missingInMetadata) > 0 || len(missingInCounts) > 0 {
		sort.Strings(missingInMetadata)
		sort.Strings(missingInCounts)
		return nil, errors.Alignment(missingInMetadata, missingInCounts)
	}

	out := &SampleMetadata{
		SampleIDs: append([]string(nil), sampleIDs...),
		Columns:   append([]string(nil), md.Columns...),
		Values:    make(map[string][]string, len(md.Values)),
	}
	for col, vals := range md.Values {
		reordered := make([]string, len(sampleIDs))
		for j, id := range sampleIDs {
			reordered[j] = vals[index[id]]
		}
		out.Values[col] = reordered
	}
	return out, nil
}

// Design names the contrast to test: Numerator vs Denominator levels of the Factor
// column. The denominator is the reference level of the model.
type Design struct {
	Factor      string
	Numerator   string
	Denominator string
}

func (d Design) String() string {
	return fmt.Sprintf("%s: %s vs %s", d.Factor, d.Numerator, d.Denominator)
}

// Levels resolves the factor column against aligned metadata and returns the
// per-sample level plus the ordered list of distinct levels, reference first.
func (d Design) Levels(md *SampleMetadata) ([]string, []string, error) {
	values, ok := md.Column(d.Factor)
	if !ok {
		return nil, nil, errors.InvalidInput(fmt.Sprintf("contrast factor %q is not a metadata column", d.Factor))
	}

	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	for _, lvl := range []string{d.Numerator, d.Denominator} {
		if counts[lvl] == 0 {
			return nil, nil, errors.InvalidInput(fmt.Sprintf("contrast level %q has no samples in column %q", lvl, d.Factor))
		}
	}

	levels := []string{d.Denominator}
	others := make([]string, 0, len(counts))
	for lvl := range counts {
		if lvl != d.Denominator {
			others = append(others, lvl)
		}
	}
	sort.Strings(others)
	levels = append(levels, others...)
	return values, levels, nil
}
