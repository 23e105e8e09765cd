package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rnadiff/app"
	"rnadiff/domain/expression"
	"rnadiff/internal/config"
	"rnadiff/internal/errors"
	"rnadiff/ports"
)

func newRunsCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs or import existing output directories",
	}
	cmd.AddCommand(newRunsListCmd(global), newRunsImportCmd(global))
	return cmd
}

func newRunsListCmd(global *globalFlags) *cobra.Command {
	var dbURL string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(global)
			if err != nil {
				return err
			}
			store, err := requireStore(cmd, cfg, dbURL)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no stored runs")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tCONTRAST\tTEST\tGENES\tUP\tDOWN\tSETTINGS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Design.String(), r.Test,
					r.Genes, r.Up, r.Down, r.SettingsHash.Short())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&dbURL, "db", "", "result database URL (overrides DATABASE_URL)")
	return cmd
}

func newRunsImportCmd(global *globalFlags) *cobra.Command {
	var dbURL string
	var design expression.Design
	var test string
	var alpha float64

	cmd := &cobra.Command{
		Use:   "import <output-dir>",
		Short: "Store the tables of an existing output directory as a run",
		Long: `Read de_results.tsv and, when present, ora_results.tsv and gsea_results.tsv
from a directory written by "rnadiff run" and store them in the result database.

Example: rnadiff runs import results --factor condition --numerator treated --denominator control`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(global)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("factor") {
				design.Factor = cfg.Design.Factor
			}
			if !flags.Changed("numerator") {
				design.Numerator = cfg.Design.Numerator
			}
			if !flags.Changed("denominator") {
				design.Denominator = cfg.Design.Denominator
			}
			if !flags.Changed("test") {
				test = cfg.Analysis.Test
			}
			if !flags.Changed("alpha") {
				alpha = cfg.Analysis.SignificanceLevel
			}

			store, err := requireStore(cmd, cfg, dbURL)
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := app.NewImportService(store, logger).Import(cmd.Context(), app.ImportRequest{
				Dir:    args[0],
				Design: design,
				Test:   test,
				Alpha:  alpha,
			})
			if err != nil {
				return err
			}
			fmt.Printf("imported %s as run %s (%d genes, %d up, %d down)\n",
				args[0], record.ID, record.Genes, record.Up, record.Down)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dbURL, "db", "", "result database URL (overrides DATABASE_URL)")
	flags.StringVar(&design.Factor, "factor", "", "metadata column the run contrasted")
	flags.StringVar(&design.Numerator, "numerator", "", "contrast level in the numerator")
	flags.StringVar(&design.Denominator, "denominator", "", "reference level")
	flags.StringVar(&test, "test", "", "test that produced the table: wald|lrt")
	flags.Float64Var(&alpha, "alpha", 0, "padj cutoff for the up/down counts")
	return cmd
}

// requireStore opens the result database named by --db or the configuration.
func requireStore(cmd *cobra.Command, cfg *config.Config, dbURL string) (ports.ResultStore, error) {
	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if cfg.Database.URL == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL or --db is required")
	}
	return openStore(cmd.Context(), cfg)
}
