package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"merchant-cohort-lab/internal/app"
	"merchant-cohort-lab/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the long-form cache",
}

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Describe the newest cached long-form table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		c, closeCache, err := app.OpenCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeCache()

		out := cmd.OutOrStdout()
		if c == nil {
			fmt.Fprintln(out, "cache disabled")
			return nil
		}
		entry, err := c.Inspect(ctx)
		if errors.Is(err, cache.ErrMiss) {
			fmt.Fprintf(out, "cache empty (%s)\n", cfg.CacheBackend)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Backend:  %s\n", cfg.CacheBackend)
		fmt.Fprintf(out, "Key:      %s\n", entry.Key)
		fmt.Fprintf(out, "Rows:     %d\n", entry.Rows)
		fmt.Fprintf(out, "Bytes:    %d\n", entry.Bytes)
		fmt.Fprintf(out, "Written:  %s\n", entry.WrittenAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached long-form tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		c, closeCache, err := app.OpenCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeCache()

		if c == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "cache disabled")
			return nil
		}
		if err := c.Clear(ctx); err != nil {
			return err
		}
		logger.Info().Str("backend", cfg.CacheBackend).Msg("cache cleared")
		fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInspectCmd, cacheClearCmd)
}
