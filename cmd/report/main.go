// Command report builds the merchant cohort tables and writes the analyst report.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"merchant-cohort-lab/internal/app"
	"merchant-cohort-lab/internal/config"
	"merchant-cohort-lab/internal/logging"
)

var (
	envFile string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "report",
	Short: "Merchant cohort average-ticket report",
	Long: `Loads the wide merchant cohort table, derives average tickets, reshapes it
to long form with cohort and segment rollups, ranks products by average ticket
and writes REPORT.md, CSV exports and an XLSX workbook.

Settings come from COHORTLAB_* environment variables (and an optional .env
file); flags override them.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env when present)")
	config.RegisterFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	c, err := config.Load(files...)
	if err != nil {
		return err
	}
	if err := c.ApplyFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg = c
	logger = logging.New(logging.Options{
		Service: "report",
		Level:   logging.ParseLevel(c.LogLevel),
		Format:  c.LogFormat,
	})
	return nil
}

// buildApp wires the pipeline for one command run.
func buildApp(ctx context.Context) (*app.App, error) {
	return app.Build(ctx, cfg, logger, nil)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
