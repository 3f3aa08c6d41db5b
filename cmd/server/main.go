package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "lot-ledger",
		Short: "FIFO lot ledger server",
		Long: `lot-ledger records trades, closes lots first-in first-out and serves
open positions and realized profit over HTTP.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reprocessCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			app.logger.Info("Ledger schema is up to date", zap.String("driver", app.cfg.Database.Driver))
			return nil
		},
	}
}

func reprocessCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Apply stored trades that were never processed",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.trades.ProcessPending(cmd.Context(), limit)
			if report != nil {
				out, _ := json.MarshalIndent(report, "", "  ")
				fmt.Println(string(out))
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of trades to process")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lot-ledger version %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
}
