package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/queue"
)

// PassRunner executes pass requests taken off a queue.PassQueue.
type PassRunner struct {
	Service  *CampaignService
	Location *time.Location
	Log      *zap.Logger
}

// Handle runs req. Only errors a later attempt could clear are returned,
// so the queue redelivers those and drops the rest.
func (r *PassRunner) Handle(ctx context.Context, req queue.PassRequest) error {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	date, err := time.ParseInLocation(time.DateOnly, req.Date, loc)
	if err != nil {
		r.Log.Warn("dropping pass request with bad date", zap.Stringer("request", req), zap.Error(err))
		return nil
	}

	if req.CampaignID == nil {
		report, err := r.Service.ScheduleAllCampaigns(ctx, date)
		if err != nil {
			return err
		}
		for id, ferr := range report.Failed {
			r.Log.Warn("campaign failed during sweep", zap.Stringer("campaign_id", id), zap.Error(ferr))
		}
		return nil
	}

	return r.runOne(ctx, *req.CampaignID, date)
}

func (r *PassRunner) runOne(ctx context.Context, id uuid.UUID, date time.Time) error {
	dispatched, err := r.Service.ScheduleCampaign(ctx, id, date)
	switch {
	case err == nil:
		r.Log.Info("pass request done", zap.Stringer("campaign_id", id), zap.Int("dispatched", len(dispatched)))
		return nil
	case retryable(err):
		return err
	default:
		r.Log.Warn("pass request failed", zap.Stringer("campaign_id", id), zap.Int("dispatched", len(dispatched)), zap.Error(err))
		return nil
	}
}

func retryable(err error) bool {
	return errors.Is(err, appErrors.ErrCampaignLocked) ||
		errors.Is(err, appErrors.ErrConcurrentPass) ||
		errors.Is(err, appErrors.ErrPassTimeout)
}
