// campaignctl runs scheduling operations against the database and broker
// directly, without going through the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/gymcall-scheduler/internal/app"
	"github.com/unclebandit/gymcall-scheduler/internal/config"
	"github.com/unclebandit/gymcall-scheduler/internal/logging"
)

var (
	dateFlag string
	asyncRun bool
	verbose  bool
	timeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "campaignctl",
	Short: "Schedule, pause and cancel gym call campaigns",
	Long: `campaignctl runs scheduling passes and campaign lifecycle operations.

Passes run in this process unless --async is given, in which case a pass
request is published for the workers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dateFlag, "date", "", "Pass date as YYYY-MM-DD (default: today in TIMEZONE)")
	rootCmd.PersistentFlags().BoolVar(&asyncRun, "async", false, "Publish a pass request instead of running the pass here")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(scheduleAllCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp loads configuration, connects and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}

func passDate(loc *time.Location) (time.Time, error) {
	if dateFlag == "" {
		y, m, d := time.Now().In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	date, err := time.ParseInLocation(time.DateOnly, dateFlag, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	return date, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
