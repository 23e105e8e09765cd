package glm

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"rnadiff/domain/expression"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
	rstats "rnadiff/internal/stats"
)

// Test selects the hypothesis test applied to each gene.
type Test string

const (
	TestWald Test = "wald"
	TestLRT  Test = "lrt"
)

// Options configures the per-gene tester
type Options struct {
	Test     Test
	Workers  int
	MaxIter  int
	Tol      float64
	Ridge    float64
	Progress func(done, total int) // called after every gene; must be safe for concurrent use
	Logger   *log.Logger
}

func (o *Options) setDefaults() {
	if o.Test == "" {
		o.Test = TestWald
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.Tol <= 0 {
		o.Tol = DefaultTol
	}
	if o.Ridge <= 0 {
		o.Ridge = DefaultRidge
	}
	o.Logger = logging.Component(o.Logger, "GLM")
}

// Input is everything the tester needs for one contrast. Groups holds per-sample
// level indices with the reference (denominator) at 0; Numerator is the level whose
// coefficient is reported.
type Input struct {
	GeneIDs     []string
	Counts      [][]int64
	SizeFactors expression.SizeFactors
	Dispersions []float64
	BaseMeans   []float64
	Groups      []int
	NumLevels   int
	Numerator   int
}

func (in Input) validate() error {
	if in.NumLevels < 2 {
		return errors.InvalidInput("contrast needs at least two levels")
	}
	if in.Numerator < 1 || in.Numerator >= in.NumLevels {
		return errors.InvalidInput(fmt.Sprintf("numerator level %d outside 1..%d", in.Numerator, in.NumLevels-1))
	}
	n := len(in.GeneIDs)
	if len(in.Counts) != n || len(in.Dispersions) != n || len(in.BaseMeans) != n {
		return errors.InvalidInput(fmt.Sprintf("gene inputs disagree: %d ids, %d count rows, %d dispersions, %d base means",
			n, len(in.Counts), len(in.Dispersions), len(in.BaseMeans)))
	}
	if len(in.Groups) != len(in.SizeFactors) {
		return errors.InvalidInput(fmt.Sprintf("%d group labels for %d samples", len(in.Groups), len(in.SizeFactors)))
	}
	return nil
}

// Run fits every gene and returns one result per gene in input order. PAdj is left
// NA; multiple-testing correction is applied by the caller. Genes whose fit does not
// converge get NA statistics instead of failing the batch.
func Run(ctx context.Context, in Input, opts Options) ([]expression.DEResult, error) {
	opts.setDefaults()
	if err := in.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	full := NewDesign(in.Groups, in.NumLevels)
	reduced := InterceptOnly(len(in.Groups))

	results := make([]expression.DEResult, len(in.GeneIDs))
	var done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range in.GeneIDs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = testGene(in, i, full, reduced, opts)
			n := done.Add(1)
			if opts.Progress != nil {
				opts.Progress(int(n), len(in.GeneIDs))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nonConverged := 0
	for _, r := range results {
		if !r.Converged {
			nonConverged++
		}
	}
	if nonConverged > 0 {
		opts.Logger.Warn("gene fits did not converge", "genes", nonConverged)
	}
	opts.Logger.Info("gene models fitted",
		"genes", len(results),
		"test", opts.Test,
		"workers", opts.Workers,
		"duration", time.Since(start).Round(time.Millisecond))
	return results, nil
}

func testGene(in Input, i int, full, reduced Design, opts Options) expression.DEResult {
	res := expression.DEResult{
		GeneID:         in.GeneIDs[i],
		BaseMean:       in.BaseMeans[i],
		Log2FoldChange: expression.NA,
		LfcSE:          expression.NA,
		Stat:           expression.NA,
		PValue:         expression.NA,
		PAdj:           expression.NA,
	}

	alpha := in.Dispersions[i]
	fit := FitGene(in.Counts[i], in.SizeFactors, alpha, full, opts.MaxIter, opts.Tol, opts.Ridge)
	if !fit.Converged {
		return res
	}

	coef, se := fit.Beta[in.Numerator], fit.SE[in.Numerator]
	if math.IsNaN(se) || se <= 0 {
		return res
	}
	res.Log2FoldChange = coef / math.Ln2
	res.LfcSE = se / math.Ln2

	switch opts.Test {
	case TestLRT:
		red := FitGene(in.Counts[i], in.SizeFactors, alpha, reduced, opts.MaxIter, opts.Tol, opts.Ridge)
		if !red.Converged {
			return res
		}
		stat := math.Max(red.Deviance-fit.Deviance, 0)
		res.Stat = stat
		res.PValue = rstats.ChiSquarePValue(stat, in.NumLevels-1)
	default:
		stat := coef / se
		res.Stat = stat
		res.PValue = rstats.WaldPValue(stat)
	}
	res.Converged = true
	return res
}
