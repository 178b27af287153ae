package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/unclebandit/gymcall-scheduler/internal/queue"
)

// TaskDispatcher enqueues call-trigger jobs tagged with their campaign and
// lead, retrying broker failures with capped exponential backoff.
type TaskDispatcher struct {
	Broker queue.JobBroker
	Log    *zap.Logger

	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxRetries     uint64
	JobMaxAttempts int
}

func NewTaskDispatcher(broker queue.JobBroker, log *zap.Logger, jobMaxAttempts int) *TaskDispatcher {
	return &TaskDispatcher{
		Broker:         broker,
		Log:            log,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		MaxRetries:     3,
		JobMaxAttempts: jobMaxAttempts,
	}
}

func (d *TaskDispatcher) backoff() retry.Backoff {
	b := retry.NewExponential(d.BaseDelay)
	b = retry.WithCappedDuration(d.MaxDelay, b)
	return retry.WithMaxRetries(d.MaxRetries, b)
}

// Enqueue schedules the call for leadID at `at`. The job id stays the same
// across retries, so a retry after an ambiguous failure does not duplicate it.
func (d *TaskDispatcher) Enqueue(ctx context.Context, leadID, campaignID uuid.UUID, at time.Time) (queue.JobHandle, error) {
	job := queue.NewJob(queue.KindCallTrigger, queue.Tags{CampaignID: campaignID, LeadID: leadID}, at)
	job.MaxAttempts = d.JobMaxAttempts

	var handle queue.JobHandle
	attempt := 0
	err := retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		attempt++
		h, err := d.Broker.Enqueue(ctx, job)
		if err != nil {
			d.Log.Warn("enqueue failed",
				zap.Stringer("campaign_id", campaignID),
				zap.Stringer("lead_id", leadID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		handle = h
		return nil
	})
	if err != nil {
		return queue.JobHandle{}, fmt.Errorf("dispatch call for lead %s after %d attempts: %w", leadID, attempt, err)
	}
	return handle, nil
}
