package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/unclebandit/gymcall-scheduler/internal/app"
	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/handler"
	"github.com/unclebandit/gymcall-scheduler/internal/queue"
)

// scheduleCmd runs one pass for a campaign
var scheduleCmd = &cobra.Command{
	Use:   "schedule <campaign-id>",
	Short: "Run a scheduling pass for one campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedule,
}

// scheduleAllCmd sweeps every campaign active on the date
var scheduleAllCmd = &cobra.Command{
	Use:   "schedule-all",
	Short: "Run a scheduling pass for every active campaign",
	Args:  cobra.NoArgs,
	RunE:  runScheduleAll,
}

var pauseCmd = &cobra.Command{
	Use:   "pause <campaign-id>",
	Short: "Pause an active campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runPause,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <campaign-id>",
	Short: "Cancel a campaign and revoke its outstanding calls",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs [campaign-id]",
	Short: "List broker jobs, optionally for one campaign",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobs,
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid campaign id %q: %w", raw, err)
	}
	return id, nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		date, err := passDate(a.Config.Timezone)
		if err != nil {
			return err
		}
		if asyncRun {
			return publish(ctx, cmd, a, queue.PassRequest{CampaignID: &id, Date: date.Format(time.DateOnly)})
		}

		dispatched, err := a.Service.ScheduleCampaign(ctx, id, date)
		var dfe *appErrors.DispatchFailureError
		if err != nil && !errors.As(err, &dfe) {
			return err
		}
		if perr := printJSON(cmd, dispatched); perr != nil {
			return perr
		}
		return err
	})
}

func runScheduleAll(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		date, err := passDate(a.Config.Timezone)
		if err != nil {
			return err
		}
		if asyncRun {
			return publish(ctx, cmd, a, queue.PassRequest{Date: date.Format(time.DateOnly)})
		}

		report, err := a.Service.ScheduleAllCampaigns(ctx, date)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"date":      report.Date,
			"scheduled": report.Scheduled,
			"failed":    report.Errors(),
		})
	})
}

func runPause(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		c, err := a.Service.PauseCampaign(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, c)
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		c, report, err := a.Service.CancelCampaign(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"campaign": c, "revocation": report})
	})
}

func runJobs(cmd *cobra.Command, args []string) error {
	var filter *uuid.UUID
	if len(args) == 1 {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		filter = &id
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		jobs, err := handler.InspectJobs(ctx, a.Broker, filter)
		if err != nil {
			return err
		}
		return printJSON(cmd, jobs)
	})
}

func publish(ctx context.Context, cmd *cobra.Command, a *app.App, req queue.PassRequest) error {
	if a.Config.AMQPURL == "" {
		return errors.New("--async needs AMQP_URL so a worker can pick the request up")
	}
	if err := a.Passes.Publish(ctx, req); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", req)
	return err
}
