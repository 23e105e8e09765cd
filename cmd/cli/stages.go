package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rnadiff/adapters/rng"
	"rnadiff/adapters/tsv"
	"rnadiff/app"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
	"rnadiff/internal/glm"
	"rnadiff/internal/normalize"
)

func newNormalizeCmd(global *globalFlags) *cobra.Command {
	var counts, out string
	var threshold int64

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Compute size factors and normalized counts only",
		Long: `Filter low-count genes, estimate median-of-ratios size factors and write
size_factors.tsv and normalized_counts.tsv to the output directory.

Example: rnadiff normalize --counts counts.tsv --out norm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(global)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("count-threshold") {
				threshold = cfg.Analysis.CountThreshold
			}
			if counts == "" {
				counts = cfg.Input.CountsFile
			}
			if counts == "" {
				return errors.ConfigInvalid("counts file is required")
			}

			m, err := tsv.LoadCounts(counts, cfg.DelimiterRune(), logger)
			if err != nil {
				return err
			}
			filtered := m.FilterByTotal(threshold)
			sf, err := normalize.SizeFactors(filtered.Matrix, logger)
			if err != nil {
				return err
			}
			normalized := normalize.NormalizedCounts(filtered.Matrix, sf)

			if err := os.MkdirAll(out, 0755); err != nil {
				return errors.Wrapf(err, "failed to create output directory %s", out)
			}
			err = tsv.WriteFile(filepath.Join(out, app.FileSizeFactors), func(w io.Writer) error {
				return tsv.WriteSizeFactors(w, filtered.Matrix.SampleIDs, sf)
			})
			if err != nil {
				return err
			}
			err = tsv.WriteFile(filepath.Join(out, app.FileNormalized), func(w io.Writer) error {
				return tsv.WriteMatrix(w, "gene_id", filtered.Matrix.GeneIDs, filtered.Matrix.SampleIDs, normalized)
			})
			if err != nil {
				return err
			}

			fmt.Printf("%d genes kept, %d removed, size factors for %d samples written to %s\n",
				filtered.Matrix.NumGenes(), len(filtered.Removed), len(sf), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&counts, "counts", "", "count table (delimited text or .xlsx)")
	cmd.Flags().StringVar(&out, "out", ".", "output directory")
	cmd.Flags().Int64Var(&threshold, "count-threshold", 1, "drop genes with total count at or below this value")
	return cmd
}

func newEnrichCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Run gene-set enrichment on an existing DE table",
	}
	cmd.AddCommand(newEnrichModeCmd(global, genesets.ModeORA), newEnrichModeCmd(global, genesets.ModeGSEA))
	return cmd
}

// newEnrichModeCmd builds "enrich ora" and "enrich gsea", which share their flags.
func newEnrichModeCmd(global *globalFlags, mode genesets.Mode) *cobra.Command {
	var (
		dePath  string
		sets    []string
		out     string
		test    string
		alpha   float64
		workers int
		minSize int
		maxSize int
		perms   int
		seed    int64
		weight  float64
	)

	short := "Over-representation of significant genes in each gene set"
	if mode == genesets.ModeGSEA {
		short = "Rank-based enrichment along the signed test statistic"
	}

	cmd := &cobra.Command{
		Use:   string(mode),
		Short: short,
		Long: short + `.

The DE table is the de_results.tsv written by "rnadiff run".

Example: rnadiff enrich ` + string(mode) + ` --de results/de_results.tsv --gene-sets 'sets/*.gmt'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(global)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("gene-sets") {
				cfg.Input.GeneSetFiles = sets
			}
			if len(cfg.Input.GeneSetFiles) == 0 {
				return errors.ConfigInvalid("at least one gene set file is required")
			}
			if flags.Changed("alpha") {
				cfg.Analysis.SignificanceLevel = alpha
			}
			if flags.Changed("test") {
				cfg.Analysis.Test = test
			}
			if flags.Changed("workers") {
				cfg.Analysis.Workers = workers
			}
			if flags.Changed("min-set-size") {
				cfg.Enrichment.MinSetSize = minSize
			}
			if flags.Changed("max-set-size") {
				cfg.Enrichment.MaxSetSize = maxSize
			}
			if flags.Changed("permutations") {
				cfg.Enrichment.Permutations = perms
			}
			if flags.Changed("seed") {
				cfg.Enrichment.Seed = seed
			}
			if flags.Changed("weight") {
				cfg.Enrichment.Weight = weight
			}

			results, err := readDETable(dePath)
			if err != nil {
				return err
			}
			collection, err := app.LoadGeneSets(cfg.Input.GeneSetFiles, cfg.Input.GeneSetCache, logger)
			if err != nil {
				return err
			}

			svc := app.NewPipelineService(nil, rng.Seeded{}, logger)
			var table *genesets.Table
			if mode == genesets.ModeORA {
				table = svc.OverRepresentation(results, collection, cfg.Enrichment, cfg.Analysis.SignificanceLevel)
			} else {
				table, err = svc.RankEnrichment(cmd.Context(), results, glm.Test(cfg.Analysis.Test), collection, cfg.Enrichment, cfg.Analysis.Workers)
				if err != nil {
					return err
				}
			}

			write := func(w io.Writer) error { return tsv.WriteEnrichment(w, table) }
			if out == "" || out == "-" {
				return write(os.Stdout)
			}
			if err := tsv.WriteFile(out, write); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d gene sets reported (%d skipped by size, %d unmapped members) -> %s\n",
				len(table.Results), table.Skipped, table.Unmapped, out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dePath, "de", "de_results.tsv", "DE table to read")
	flags.StringSliceVar(&sets, "gene-sets", nil, "gene-set collection files or glob patterns")
	flags.StringVar(&out, "out", "-", "output file, - for stdout")
	flags.IntVar(&minSize, "min-set-size", 0, "smallest set size tested")
	flags.IntVar(&maxSize, "max-set-size", 0, "largest set size tested")
	if mode == genesets.ModeORA {
		flags.Float64Var(&alpha, "alpha", 0, "padj cutoff defining the query genes")
	} else {
		flags.StringVar(&test, "test", "", "test that produced the DE table: wald|lrt")
		flags.IntVar(&workers, "workers", 0, "parallel permutation workers")
		flags.IntVar(&perms, "permutations", 0, "permutations per set size")
		flags.Int64Var(&seed, "seed", 0, "random seed")
		flags.Float64Var(&weight, "weight", 0, "hit weight exponent; 0 weighs hits equally")
	}
	return cmd
}

func readDETable(path string) ([]expression.DEResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to open DE table: %w", err))
	}
	defer f.Close()
	results, err := tsv.ReadDEResults(f)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid DE table %s", path)
	}
	return results, nil
}
