// Command server serves the cohort tables over HTTP with a websocket ranking feed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"merchant-cohort-lab/internal/app"
	"merchant-cohort-lab/internal/config"
	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/logging"
	"merchant-cohort-lab/internal/observability"
	"merchant-cohort-lab/internal/server"
)

var (
	envFile string
	warm    bool
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "HTTP API for the merchant cohort tables",
	Long: `Serves the wide, long-form, ranking and heatmap tables as JSON, a websocket
ranking feed at /ws/ranking and Prometheus metrics at /metrics.

Examples:
  server --addr=:8080
  server --source=clickhouse --clickhouse-dsn=clickhouse://default:@localhost:9000/bi --meta=meta.json --cache=redis --redis-url=redis://localhost:6379/0`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env when present)")
	rootCmd.Flags().BoolVar(&warm, "warm", true, "compute the default ranking before accepting requests")
	config.RegisterFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Service: "server",
		Level:   logging.ParseLevel(cfg.LogLevel),
		Format:  cfg.LogFormat,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics("", nil)
	a, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	if warm {
		rows, err := a.Pipeline.Ranking(ctx, domain.Filter{})
		if err != nil {
			return fmt.Errorf("warm up: %w", err)
		}
		logger.Info().Int("ranking_rows", len(rows)).Msg("pipeline warmed")
	}

	return server.New(a.Pipeline, metrics, logger).ListenAndServe(ctx, cfg.HTTPAddr)
}
