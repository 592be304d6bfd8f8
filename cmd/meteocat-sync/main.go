package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/i474232898/meteocat-sync/internal/app"
	"github.com/i474232898/meteocat-sync/internal/config"
	"github.com/i474232898/meteocat-sync/internal/meteocat"
)

var (
	configFile string
	nextCount  int
	checkKey   string
)

var rootCmd = &cobra.Command{
	Use:   "meteocat-sync",
	Short: "Keep Meteocat measurements and forecasts up to date on a daily schedule",
	Long: `meteocat-sync fetches station measurements, forecasts and API quota from the
Meteocat API at one to three configured times per day and serves the latest
snapshot over HTTP.

Configuration precedence (highest to lowest):
1. Environment variables (METEOCAT_*, a .env file is loaded first)
2. Configuration file (--config, or ./meteocat.yaml)
3. Default values`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API (default)",
	RunE:  runServe,
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the upcoming update instants",
	RunE:  runNext,
}

var checkKeyCmd = &cobra.Command{
	Use:   "check-key",
	Short: "Validate an API key against the comarques reference list",
	RunE:  runCheckKey,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path")

	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "Number of instants to print")
	checkKeyCmd.Flags().StringVar(&checkKey, "key", "", "Key to check (default: configured api_key)")

	rootCmd.AddCommand(serveCmd, nextCmd, checkKeyCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	return a.Run(cmd.Context())
}

func runNext(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if nextCount < 1 {
		return errors.New("--count must be at least 1")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	times, err := cfg.DailyTimes()
	if err != nil {
		return err
	}

	at := time.Now().In(loc)
	for i := 0; i < nextCount; i++ {
		at = times.Next(at)
		fmt.Fprintln(cmd.OutOrStdout(), at.Format(time.RFC3339))
	}
	return nil
}

func runCheckKey(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	key := checkKey
	if key == "" {
		key = cfg.APIKey
	}

	client := meteocat.New(meteocat.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     key,
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
	})
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CycleTimeout)
	defer cancel()

	if err := client.ValidateKey(ctx, key); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "key accepted")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
