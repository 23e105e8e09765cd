package enrichment

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
	"rnadiff/ports"
)

const permutationChunk = 100

// GSEAOptions configures rank-based enrichment
type GSEAOptions struct {
	Permutations int
	Seed         int64
	Weight       float64 // exponent p of the |score|^p hit weights; 0 weighs hits equally
	MinSetSize   int
	MaxSetSize   int
	Workers      int
	RNG          ports.RNGPort // required once any null distribution is drawn
	Logger       *log.Logger
}

func (o *GSEAOptions) setDefaults() {
	if o.Permutations <= 0 {
		o.Permutations = 1000
	}
	if o.Weight < 0 {
		o.Weight = 0
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	o.Logger = logging.Component(o.Logger, "GSEA")
}

// rankedList is a ranking sorted by descending score with precomputed hit weights.
type rankedList struct {
	index   *genesets.GeneIndex
	weights []float64
}

func newRankedList(ranking []genesets.RankedGene, weight float64) rankedList {
	sorted := make([]genesets.RankedGene, 0, len(ranking))
	for _, g := range ranking {
		if !math.IsNaN(g.Score) {
			sorted = append(sorted, g)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	ids := make([]string, len(sorted))
	for i, g := range sorted {
		ids[i] = g.GeneID
	}
	index := genesets.NewGeneIndex(ids)

	// NewGeneIndex keeps the first occurrence of a repeated id
	weights := make([]float64, 0, index.Len())
	seen := make(map[string]struct{}, len(sorted))
	for _, g := range sorted {
		if _, dup := seen[g.GeneID]; dup {
			continue
		}
		seen[g.GeneID] = struct{}{}
		weights = append(weights, math.Pow(math.Abs(g.Score), weight))
	}
	return rankedList{index: index, weights: weights}
}

// runningSum computes the enrichment score for hits (sorted positions) along the
// weighted ranking. It returns the signed maximum deviation and the number of leading
// edge hits: the hits up to the peak for a positive score, from the trough on for a
// negative one, counted from the respective end.
func runningSum(weights []float64, hits []int) (es float64, leadStart, leadEnd int) {
	N, K := len(weights), len(hits)
	if K == 0 {
		return 0, 0, 0
	}
	hitTotal := 0.0
	for _, h := range hits {
		hitTotal += weights[h]
	}
	equal := hitTotal == 0
	if equal {
		hitTotal = float64(K)
	}
	missStep := 0.0
	if N > K {
		missStep = 1 / float64(N-K)
	}

	maxDev, minDev := 0.0, 0.0
	maxAt, minAt := -1, -1
	hitSum := 0.0
	for i, h := range hits {
		misses := float64(h - i)
		before := hitSum - misses*missStep
		if before < minDev {
			minDev, minAt = before, i
		}
		if equal {
			hitSum += 1 / hitTotal
		} else {
			hitSum += weights[h] / hitTotal
		}
		after := hitSum - misses*missStep
		if after > maxDev {
			maxDev, maxAt = after, i
		}
	}

	if maxDev >= -minDev {
		if maxAt < 0 {
			return 0, 0, 0
		}
		return maxDev, 0, maxAt + 1
	}
	return minDev, minAt, K
}

// GeneSetEnrichment scores every set along the ranking and assesses significance
// against a permutation null of random gene sets of the same size.
func GeneSetEnrichment(ctx context.Context, ranking []genesets.RankedGene, collection *genesets.Collection, opts GSEAOptions) (*genesets.Table, error) {
	opts.setDefaults()
	start := time.Now()
	table := &genesets.Table{Mode: genesets.ModeGSEA}

	list := newRankedList(ranking, opts.Weight)
	if list.index.Len() == 0 || collection == nil {
		opts.Logger.Info("nothing to test", "ranked", list.index.Len())
		return table, nil
	}

	type scored struct {
		result genesets.Result
		size   int
	}
	var pending []scored
	sizes := make(map[int]struct{})
	for _, set := range collection.Sets {
		hits, missing := list.index.Resolve(set.Genes)
		if missing > 0 {
			table.Unmapped += missing
			table.SetsWithUnmapped++
			opts.Logger.Debug("set members excluded", "reason", errors.IdentifierMapping(set.Name, missing))
		}
		K := len(hits)
		if !withinBounds(K, opts.MinSetSize, opts.MaxSetSize) || K >= list.index.Len() {
			table.Skipped++
			continue
		}

		es, from, to := runningSum(list.weights, hits)
		leading := make([]string, 0, to-from)
		for _, h := range hits[from:to] {
			leading = append(leading, list.index.ID(h))
		}
		pending = append(pending, scored{
			result: genesets.Result{Name: set.Name, Overlap: K, SetSize: K, Score: es, Genes: leading},
			size:   K,
		})
		sizes[K] = struct{}{}
	}
	if len(pending) == 0 {
		opts.Logger.Info("no gene set within size bounds", "skipped", table.Skipped)
		return table, nil
	}

	nulls, err := nullDistributions(ctx, list.weights, sizes, opts)
	if err != nil {
		return nil, err
	}

	results := make([]genesets.Result, len(pending))
	for i, p := range pending {
		r := p.result
		r.NormalizedScore, r.PValue = normalizeScore(r.Score, nulls[p.size])
		results[i] = r
	}
	adjust(results)
	genesets.SortResults(results)
	table.Results = results

	opts.Logger.Info("rank-based enrichment complete",
		"ranked", list.index.Len(),
		"sets", len(results),
		"sizes", len(sizes),
		"permutations", opts.Permutations,
		"skipped", table.Skipped,
		"unmapped", table.Unmapped,
		"duration", time.Since(start).Round(time.Millisecond))
	return table, nil
}

// NullDistribution returns the permutation enrichment scores for random sets of
// setSize genes drawn from the ranking. Only the ranking's scores influence it.
func NullDistribution(ctx context.Context, ranking []genesets.RankedGene, setSize int, opts GSEAOptions) ([]float64, error) {
	opts.setDefaults()
	list := newRankedList(ranking, opts.Weight)
	if setSize <= 0 || setSize >= list.index.Len() {
		return nil, errors.InvalidInput(fmt.Sprintf("set size %d outside 1..%d", setSize, list.index.Len()-1))
	}
	nulls, err := nullDistributions(ctx, list.weights, map[int]struct{}{setSize: {}}, opts)
	if err != nil {
		return nil, err
	}
	return nulls[setSize], nil
}

// nullDistributions fills Permutations scores per set size. Work is split into
// fixed chunks, each drawing from its own stream keyed by size and chunk index and
// writing into its own slice range.
func nullDistributions(ctx context.Context, weights []float64, sizes map[int]struct{}, opts GSEAOptions) (map[int][]float64, error) {
	if opts.RNG == nil {
		return nil, errors.InvalidInput("permutation null needs a random stream source")
	}
	ordered := make([]int, 0, len(sizes))
	for k := range sizes {
		ordered = append(ordered, k)
	}
	sort.Ints(ordered)

	nulls := make(map[int][]float64, len(ordered))
	for _, k := range ordered {
		nulls[k] = make([]float64, opts.Permutations)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, k := range ordered {
		dst := nulls[k]
		for chunk := 0; chunk*permutationChunk < opts.Permutations; chunk++ {
			lo := chunk * permutationChunk
			hi := min(lo+permutationChunk, opts.Permutations)
			r := opts.RNG.Stream(opts.Seed, fmt.Sprintf("size=%d", k), fmt.Sprintf("chunk=%d", chunk))
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				permute(r, weights, k, dst[lo:hi])
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nulls, nil
}

func permute(r *rand.Rand, weights []float64, setSize int, dst []float64) {
	N := len(weights)
	scratch := make([]int, N)
	for i := range scratch {
		scratch[i] = i
	}
	hits := make([]int, setSize)
	for d := range dst {
		for i := 0; i < setSize; i++ {
			j := i + r.Intn(N-i)
			scratch[i], scratch[j] = scratch[j], scratch[i]
		}
		copy(hits, scratch[:setSize])
		sort.Ints(hits)
		dst[d], _, _ = runningSum(weights, hits)
	}
}

// normalizeScore divides es by the mean magnitude of same-signed null scores and returns
// the empirical p-value among them.
func normalizeScore(es float64, null []float64) (nes, p float64) {
	sum, same, extreme := 0.0, 0, 0
	for _, v := range null {
		if es >= 0 && v >= 0 {
			same++
			sum += v
			if v >= es {
				extreme++
			}
		} else if es < 0 && v < 0 {
			same++
			sum -= v
			if v <= es {
				extreme++
			}
		}
	}
	p = float64(extreme+1) / float64(same+1)
	if same == 0 || sum == 0 {
		return math.NaN(), p
	}
	return es / (sum / float64(same)), p
}
