package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"merchant-cohort-lab/internal/app"
	"merchant-cohort-lab/internal/pipeline"
	"merchant-cohort-lab/internal/reporting"
)

var fixturesDir string

var fixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Export the demo table and metadata, or load them into a database",
}

var fixturesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write wide.csv and meta.json for --source=file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := os.MkdirAll(fixturesDir, 0755); err != nil {
			return err
		}

		dataPath := filepath.Join(fixturesDir, "wide.csv")
		if err := os.WriteFile(dataPath, []byte(reporting.RenderWideCSV(pipeline.FixtureTable())), 0644); err != nil {
			return fmt.Errorf("write %s: %w", dataPath, err)
		}

		metaPath := filepath.Join(fixturesDir, "meta.json")
		f, err := os.Create(metaPath)
		if err != nil {
			return err
		}
		if err := pipeline.WriteFixtureCatalog(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", metaPath, err)
		}
		if err := f.Close(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", dataPath, metaPath)
		return nil
	},
}

var fixturesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply migrations and insert the demo table into postgres or clickhouse",
	Long: `Examples:
  report fixtures seed --source=postgres --postgres-dsn=postgres://u:p@localhost:5432/bi
  report fixtures seed --source=clickhouse --clickhouse-dsn=clickhouse://default:@localhost:9000/bi`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		n, err := app.Seed(ctx, cfg)
		if err != nil {
			return err
		}
		logger.Info().Str("source", cfg.Source).Int("rows", n).Msg("fixtures seeded")
		fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d rows into %s.%s\n", n, cfg.Source, cfg.FactTable)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fixturesCmd)
	fixturesCmd.AddCommand(fixturesExportCmd, fixturesSeedCmd)
	fixturesExportCmd.Flags().StringVar(&fixturesDir, "dir", "fixtures", "directory to write into")
}
