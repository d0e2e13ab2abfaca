package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"lotwatch/internal/app"
	"lotwatch/internal/config"
	"lotwatch/internal/extract"
	"lotwatch/internal/obs"
)

var (
	configPath string
	sources    []string
	limit      int
)

var rootCmd = &cobra.Command{
	Use:           "lotwatch",
	Short:         "lotwatch discovers auction lots and follows their bids while the auction runs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the YAML configuration.")
	discoverCmd.Flags().StringSliceVar(&sources, "source", nil, "Source to crawl (repeatable, default all).")
	refreshCmd.Flags().StringSliceVar(&sources, "source", nil, "Source whose lots are refreshed (repeatable, default all).")
	refreshCmd.Flags().IntVar(&limit, "limit", 0, "Maximum lots per source, 0 for all.")

	rootCmd.AddCommand(discoverCmd, monitorCmd, runCmd, refreshCmd, extractCmd)
}

func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	obs.Init(cfg.Log.Level, cfg.Log.Format)
	slog.Debug("configuration loaded", "path", configPath, "db", cfg.DB.Driver, "sources", len(cfg.Sources))
	return app.New(ctx, cfg)
}

var discoverCmd = &cobra.Command{
	Use:   "discover [--source <name>]...",
	Short: "Crawls catalog sources once and prints the ids of new lots.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.Discover(cmd.Context(), sources...)
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return err
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Polls every eligible lot until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Monitor(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discovers new lots and monitors them until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Run(cmd.Context())
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [--source <name>]... [--limit n]",
	Short: "Re-reads every stored lot, finished ones included, and saves its latest value and status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Refresh(cmd.Context(), sources, limit)
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d, changed %d, unchanged %d, failed %d\n",
			report.Checked, report.Changed, report.Unchanged, report.Failed)
		return err
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <url>",
	Short: "Fetches one lot page and prints every extracted field.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ExtractURL(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "url:       %s\n", res.FinalURL)
		fmt.Fprintf(out, "phase:     %s\n", res.Phase)
		for _, f := range extract.Fields {
			r := res.Record[f]
			fmt.Fprintf(out, "%-14s %-40s %s\n", f+":", r.Value, r.Strategy)
		}
		return nil
	},
}
