package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rnadiff/adapters/rng"
	"rnadiff/app"
	"rnadiff/internal/config"
)

// runFlags override configuration values when set
type runFlags struct {
	counts       string
	metadata     string
	geneSets     []string
	factor       string
	numerator    string
	denominator  string
	out          string
	test         string
	fitType      string
	threshold    int64
	alpha        float64
	permutations int
	seed         int64
	workers      int
	workbook     bool
	noProgress   bool
}

func newRunCmd(global *globalFlags) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full differential expression and enrichment pipeline",
		Long: `Run filtering, normalization, dispersion estimation, per-gene tests,
variance stabilization and gene-set enrichment, then write every table to the
output directory. When DATABASE_URL is set the run is also stored for the API.

Example:
  rnadiff run --counts counts.tsv --metadata samples.tsv \
    --factor condition --numerator treated --denominator control \
    --gene-sets 'sets/**/*.gmt' --out results`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(global)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.ValidatePipeline(); err != nil {
				return err
			}

			ctx := cmd.Context()
			inputs, err := app.LoadInputs(cfg, logger)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			req := app.RequestFromConfig(cfg, inputs)
			if !f.noProgress {
				req.Progress = geneProgress()
			}

			res, err := app.NewPipelineService(store, rng.Seeded{}, logger).Run(ctx, req)
			if err != nil {
				return err
			}
			printRunSummary(res, cfg)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.counts, "counts", "", "count table (delimited text or .xlsx)")
	cmd.Flags().StringVar(&f.metadata, "metadata", "", "sample metadata table")
	cmd.Flags().StringSliceVar(&f.geneSets, "gene-sets", nil, "gene-set collection files or glob patterns (GMT or JSON)")
	cmd.Flags().StringVar(&f.factor, "factor", "", "metadata column holding the contrast")
	cmd.Flags().StringVar(&f.numerator, "numerator", "", "contrast level in the numerator")
	cmd.Flags().StringVar(&f.denominator, "denominator", "", "reference level")
	cmd.Flags().StringVar(&f.out, "out", "", "output directory")
	cmd.Flags().StringVar(&f.test, "test", "", "wald|lrt")
	cmd.Flags().StringVar(&f.fitType, "fit-type", "", "dispersion trend: parametric|mean")
	cmd.Flags().Int64Var(&f.threshold, "count-threshold", 0, "drop genes with total count at or below this value")
	cmd.Flags().Float64Var(&f.alpha, "alpha", 0, "significance level for adjusted p-values")
	cmd.Flags().IntVar(&f.permutations, "permutations", 0, "rank-based enrichment permutations")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "random seed for permutations")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "parallel workers")
	cmd.Flags().BoolVar(&f.workbook, "workbook", false, "also write results.xlsx")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "hide the progress bar")

	return cmd
}

// apply copies explicitly set flags over the loaded configuration
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("counts") {
		cfg.Input.CountsFile = f.counts
	}
	if changed("metadata") {
		cfg.Input.MetadataFile = f.metadata
	}
	if changed("gene-sets") {
		cfg.Input.GeneSetFiles = f.geneSets
	}
	if changed("factor") {
		cfg.Design.Factor = f.factor
	}
	if changed("numerator") {
		cfg.Design.Numerator = f.numerator
	}
	if changed("denominator") {
		cfg.Design.Denominator = f.denominator
	}
	if changed("out") {
		cfg.Output.Dir = f.out
	}
	if changed("test") {
		cfg.Analysis.Test = f.test
	}
	if changed("fit-type") {
		cfg.Analysis.FitType = f.fitType
	}
	if changed("count-threshold") {
		cfg.Analysis.CountThreshold = f.threshold
	}
	if changed("alpha") {
		cfg.Analysis.SignificanceLevel = f.alpha
	}
	if changed("permutations") {
		cfg.Enrichment.Permutations = f.permutations
	}
	if changed("seed") {
		cfg.Enrichment.Seed = f.seed
	}
	if changed("workers") {
		cfg.Analysis.Workers = f.workers
	}
	if changed("workbook") {
		cfg.Output.Workbook = f.workbook
	}
}

func printRunSummary(res *app.RunResult, cfg *config.Config) {
	fmt.Printf("\nRun %s (settings %s)\n", res.RunID, res.SettingsHash.Short())
	fmt.Printf("  genes tested:      %d (removed by count filter: %d)\n", res.Summary.Tested, len(res.RemovedGenes))
	fmt.Printf("  significant:       %d up, %d down at padj < %g\n", res.Summary.Up, res.Summary.Down, cfg.Analysis.SignificanceLevel)
	fmt.Printf("  non-converged:     %d\n", res.Summary.NonConverged)
	fmt.Printf("  filtered:          %d (quantile %.2f)\n", res.Summary.Filtered, res.DE.FilterQuantile)
	fmt.Printf("  dispersion trend:  %s\n", res.Dispersions.Fit.Kind)
	if res.ORA != nil && res.GSEA != nil {
		fmt.Printf("  enrichment:        %d ORA sets, %d GSEA sets\n", len(res.ORA.Results), len(res.GSEA.Results))
	}
	for _, st := range res.Stages {
		fmt.Printf("  %-18s %v\n", st.Stage+":", st.Duration.Round(time.Millisecond))
	}
	if len(res.Files) > 0 {
		fmt.Printf("  output:            %s\n", cfg.Output.Dir)
	}
	if res.Persisted {
		fmt.Println("  stored:            yes")
	}
}
