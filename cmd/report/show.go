package main

import (
	"github.com/spf13/cobra"

	"merchant-cohort-lab/internal/domain"
	"merchant-cohort-lab/internal/reporting"
)

var (
	showSegment  string
	showCohort   string
	showProduct  string
	showField    string
	showAnimated bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a table to the console",
}

var showRankingCmd = &cobra.Command{
	Use:   "ranking",
	Short: "Product ranking by average ticket",
	Long: `Prints the ranking table for one filter.

Examples:
  report show ranking
  report show ranking --segment=ALL_ACTIVE
  report show ranking --cohort=ALL --segment=smb`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.Pipeline.Ranking(ctx, domain.Filter{Cohort: showCohort, Segment: showSegment})
		if err != nil {
			return err
		}
		reporting.WriteRankingTable(cmd.OutOrStdout(), rows)
		return nil
	},
}

var showLongCmd = &cobra.Command{
	Use:   "long",
	Short: "Long-form table, optionally filtered",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var rows []domain.LongRow
		if showAnimated {
			rows, err = a.Pipeline.Animated(ctx)
		} else {
			rows, err = a.Pipeline.LongForm(ctx)
		}
		if err != nil {
			return err
		}
		reporting.WriteLongTable(cmd.OutOrStdout(), filterLong(rows))
		return nil
	},
}

var showHeatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Cohort x months-since-register matrix for one product",
	Long: `Examples:
  report show heatmap --product=acquiring
  report show heatmap --product=smartcash --segment=smb --field=total_merchants`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.Pipeline.LongForm(ctx)
		if err != nil {
			return err
		}
		segment := showSegment
		if segment == "" {
			segment = domain.SegmentAll
		}
		m, err := reporting.Heatmap(rows, showProduct, segment, showField)
		if err != nil {
			return err
		}
		reporting.WriteHeatmapTable(cmd.OutOrStdout(), m)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showRankingCmd, showLongCmd, showHeatmapCmd)

	showCmd.PersistentFlags().StringVar(&showSegment, "segment", "", "segment filter (a segment, ALL or ALL_ACTIVE)")

	showRankingCmd.Flags().StringVar(&showCohort, "cohort", "", "cohort filter (YYYY-MM, or ALL for the cohort rollup)")

	showLongCmd.Flags().StringVar(&showCohort, "cohort", "", "cohort filter (YYYY-MM or ALL)")
	showLongCmd.Flags().StringVar(&showProduct, "product", "", "product filter")
	showLongCmd.Flags().BoolVar(&showAnimated, "animated", false, "floor non-positive values for log-scale charts")

	showHeatmapCmd.Flags().StringVar(&showProduct, "product", "", "product")
	showHeatmapCmd.Flags().StringVar(&showField, "field", reporting.FieldAvgTicket, "total_amount, total_merchants or avg_ticket")
	_ = showHeatmapCmd.MarkFlagRequired("product")
}

// filterLong keeps rows matching the --segment, --cohort and --product flags.
func filterLong(rows []domain.LongRow) []domain.LongRow {
	out := make([]domain.LongRow, 0, len(rows))
	for _, r := range rows {
		if showSegment != "" && r.Segment != showSegment {
			continue
		}
		if showCohort != "" && r.Cohort != showCohort {
			continue
		}
		if showProduct != "" && r.Product != showProduct {
			continue
		}
		out = append(out, r)
	}
	return out
}
