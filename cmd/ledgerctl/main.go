// ledgerctl drives the lot-ledger HTTP API from a terminal.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lot-ledger/internal/client"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Command line client for the lot ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("LEDGER_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:3000"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "Ledger server base URL (LEDGER_SERVER)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(tradeCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(tradesCmd())
	rootCmd.AddCommand(positionsCmd())
	rootCmd.AddCommand(pnlCmd())
	rootCmd.AddCommand(entriesCmd())

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(serverURL, client.Options{Timeout: timeout}, nil)
}

func tradeCmd() *cobra.Command {
	var symbol, qty, price string

	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Submit a trade (negative qty sells)",
		Example: `  ledgerctl trade --symbol AAPL --qty 100 --price 10
  ledgerctl trade --symbol AAPL --qty=-50 --price 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := decimal.NewFromString(qty)
			if err != nil {
				return fmt.Errorf("invalid qty %q: %w", qty, err)
			}
			p, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", price, err)
			}

			result, err := newClient().CreateTrade(cmd.Context(), symbol, q, p)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Instrument symbol")
	cmd.Flags().StringVar(&qty, "qty", "", "Signed quantity")
	cmd.Flags().StringVar(&price, "price", "", "Execution price")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("qty")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <trade-id>",
		Short: "Retry a stored trade that was not processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid trade id %q", args[0])
			}
			result, err := newClient().ProcessTrade(cmd.Context(), uint(id))
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func tradesCmd() *cobra.Command {
	var (
		symbol   string
		pending  bool
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().ListTrades(cmd.Context(), symbol, pending, page, pageSize)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Only this symbol")
	cmd.Flags().BoolVar(&pending, "pending", false, "Only unprocessed trades")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Trades per page")
	return cmd
}

func positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show open lots and per-symbol positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().Positions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func pnlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pnl",
		Short: "Show realized profit per symbol and in total",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().RealizedPnL(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func entriesCmd() *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Show the realized profit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().RealizedEntries(cmd.Context(), symbol)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Only this symbol")
	return cmd
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printError(err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "Error: %s (status %d, code %d)\n", apiErr.Message, apiErr.StatusCode, apiErr.Code)
		if len(apiErr.Data) > 0 && string(apiErr.Data) != "null" {
			fmt.Fprintf(os.Stderr, "%s\n", apiErr.Data)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
