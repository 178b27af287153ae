package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/unclebandit/gymcall-scheduler/internal/queue"
)

// NewBeat returns a cron scheduler that publishes a sweep request for the
// current day on the cron schedule. The caller starts and stops it.
func NewBeat(schedule string, loc *time.Location, passes queue.PassQueue, log *zap.Logger) (*cron.Cron, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(schedule, SweepJob(passes, loc, log, time.Now)); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_CRON %q: %w", schedule, err)
	}
	return c, nil
}

// SweepJob publishes a sweep for the date now() falls on in loc.
func SweepJob(passes queue.PassQueue, loc *time.Location, log *zap.Logger, now func() time.Time) func() {
	return func() {
		req := queue.PassRequest{Date: now().In(loc).Format(time.DateOnly)}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := passes.Publish(ctx, req); err != nil {
			log.Error("beat failed to publish sweep", zap.Stringer("request", req), zap.Error(err))
			return
		}
		log.Info("beat published sweep", zap.Stringer("request", req))
	}
}
