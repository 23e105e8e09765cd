package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"rnadiff/adapters/sqlstore"
	"rnadiff/internal/config"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
	"rnadiff/ports"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "rnadiff",
		Short:         "Differential expression and gene-set enrichment for RNA-seq counts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML or TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug|info|warn|error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		newRunCmd(&flags),
		newNormalizeCmd(&flags),
		newEnrichCmd(&flags),
		newRunsCmd(&flags),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", errors.GetCode(err), err)
		os.Exit(1)
	}
}

// loadConfig reads .env, the optional config file and the environment, in that order
func loadConfig(flags *globalFlags) (*config.Config, *log.Logger, error) {
	if err := godotenv.Load(flags.envFile); err != nil && flags.envFile != ".env" {
		return nil, nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("failed to load %s: %w", flags.envFile, err))
	}

	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, logging.Stderr(cfg.Logging.Level), nil
}

// openStore connects to the configured result store; an empty URL returns nil.
func openStore(ctx context.Context, cfg *config.Config) (ports.ResultStore, error) {
	if cfg.Database.URL == "" {
		return nil, nil
	}
	store, err := sqlstore.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// geneProgress renders per-gene progress on stderr. The bar is created on the first
// callback, when the total is known.
func geneProgress() func(done, total int) {
	var (
		once    sync.Once
		mu      sync.Mutex
		bar     *progressbar.ProgressBar
		highest int
	)
	return func(done, total int) {
		once.Do(func() {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Testing genes[reset]"),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		})
		mu.Lock()
		defer mu.Unlock()
		// callbacks from concurrent workers may arrive out of order
		if done > highest {
			highest = done
			_ = bar.Set(done)
		}
	}
}
