package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/model"
	"github.com/unclebandit/gymcall-scheduler/internal/queue"
	"github.com/unclebandit/gymcall-scheduler/internal/repository"
	"github.com/unclebandit/gymcall-scheduler/internal/voice"
)

// Worker executes call.trigger and call.poll jobs reserved from the broker.
type Worker struct {
	Broker       queue.WorkerBroker
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	CallRepo     repository.CallRepositoryInterface
	Voice        voice.Provider
	Log          *zap.Logger

	ID                string
	Concurrency       int
	PollInterval      time.Duration
	RetryBackoff      time.Duration
	RevokeCheck       time.Duration
	DefaultAttempts   int
	CallPollInterval  time.Duration
	CallPollMaxChecks int

	FromNumber string
	AgentID    string
	Greeting   string

	Now func() time.Time
}

type pollPayload struct {
	ExternalCallID string `json:"external_call_id"`
	Checks         int    `json:"checks"`
}

// errPermanent marks a job failure that retrying cannot fix.
var errPermanent = errors.New("permanent job failure")

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Start runs Concurrency reserve loops until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < max(1, w.Concurrency); i++ {
		id := fmt.Sprintf("%s-%d", w.ID, i)
		g.Go(func() error {
			w.loop(ctx, id)
			return nil
		})
	}
	w.Log.Info("worker running, waiting for jobs", zap.String("worker_id", w.ID), zap.Int("concurrency", w.Concurrency))
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := w.RunOnce(ctx, workerID)
		if err != nil {
			w.Log.Warn("reserve failed", zap.String("worker_id", workerID), zap.Error(err))
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.PollInterval):
		}
	}
}

// RunOnce reserves and processes at most one due job, returning how many
// it handled.
func (w *Worker) RunOnce(ctx context.Context, workerID string) (int, error) {
	jobs, err := w.Broker.Reserve(ctx, workerID, w.now(), 1)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.process(ctx, workerID, job)
	}
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, workerID string, job *queue.Job) {
	log := w.Log.With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("worker_id", workerID),
		zap.Stringer("campaign_id", job.Tags.CampaignID),
		zap.Stringer("lead_id", job.Tags.LeadID),
	)

	if w.revoked(ctx, log, job.ID) {
		log.Info("skipping revoked job")
		w.ack(ctx, log, job.ID)
		return
	}
	if err := w.Broker.Start(ctx, job.ID, workerID); err != nil {
		if errors.Is(err, appErrors.ErrJobNotFound) {
			log.Info("job vanished before start")
			return
		}
		log.Warn("failed to mark job active", zap.Error(err))
	}

	jobCtx, cancel := context.WithCancel(ctx)
	stop := w.watchRevocation(jobCtx, log, job.ID, cancel)
	err := w.handle(jobCtx, log, job)
	revokedMidway := jobCtx.Err() != nil && ctx.Err() == nil
	stop()
	cancel()

	switch {
	case revokedMidway:
		log.Info("job revoked while running")
		w.ack(ctx, log, job.ID)
	case err == nil:
		w.ack(ctx, log, job.ID)
	default:
		w.fail(ctx, log, job, err)
	}
}

// watchRevocation cancels the job's context once the broker flags it.
func (w *Worker) watchRevocation(ctx context.Context, log *zap.Logger, jobID string, cancel context.CancelFunc) func() {
	interval := w.RevokeCheck
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if w.revoked(ctx, log, jobID) {
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (w *Worker) revoked(ctx context.Context, log *zap.Logger, jobID string) bool {
	ok, err := w.Broker.Revoked(ctx, jobID)
	if err != nil {
		log.Warn("revocation check failed", zap.Error(err))
		return false
	}
	return ok
}

func (w *Worker) ack(ctx context.Context, log *zap.Logger, jobID string) {
	if err := w.Broker.Ack(ctx, jobID); err != nil {
		log.Warn("failed to ack job", zap.Error(err))
	}
}

// fail requeues the job with linear backoff until its attempts run out.
func (w *Worker) fail(ctx context.Context, log *zap.Logger, job *queue.Job, err error) {
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.DefaultAttempts
	}
	job.Attempts++

	if !errors.Is(err, errPermanent) && !appErrors.IsNotFound(err) && job.Attempts < maxAttempts {
		at := w.now().Add(time.Duration(job.Attempts) * w.RetryBackoff)
		log.Warn("job failed, requeueing", zap.Int("attempt", job.Attempts), zap.Int("max_attempts", maxAttempts), zap.Error(err))
		if rerr := w.Broker.Retry(ctx, job, at); rerr != nil {
			log.Error("requeue failed", zap.Error(rerr))
		}
		return
	}

	log.Error("job permanently failed", zap.Int("attempts", job.Attempts), zap.Error(err))
	w.ack(ctx, log, job.ID)
	if job.Kind == queue.KindCallTrigger {
		if err := w.CallRepo.UpdateScheduledCallStatus(ctx, job.ID, model.CallFailed); err != nil {
			log.Warn("failed to mark scheduled call failed", zap.Error(err))
		}
		if err := w.CampaignRepo.RecordCallResult(ctx, job.Tags.CampaignID, model.OutcomeUnknown, true); err != nil {
			log.Warn("failed to record call failure", zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, log *zap.Logger, job *queue.Job) error {
	switch job.Kind {
	case queue.KindCallTrigger:
		return w.triggerCall(ctx, log, job)
	case queue.KindCallPoll:
		return w.pollCall(ctx, log, job)
	default:
		return fmt.Errorf("%w: unknown job kind %q", errPermanent, job.Kind)
	}
}

// triggerCall places the call for the job's lead unless the campaign was
// cancelled or the lead already has a call for this campaign today.
func (w *Worker) triggerCall(ctx context.Context, log *zap.Logger, job *queue.Job) error {
	campaign, err := w.CampaignRepo.Get(ctx, job.Tags.CampaignID)
	if err != nil {
		return err
	}
	if campaign.Status == model.CampaignCancelled {
		log.Info("campaign cancelled, dropping call")
		return w.CallRepo.UpdateScheduledCallStatus(ctx, job.ID, model.CallCancelled)
	}

	lead, err := w.LeadRepo.Get(ctx, job.Tags.LeadID)
	if err != nil {
		return err
	}

	now := w.now()
	already, err := w.CallRepo.HasCallOnDate(ctx, lead.ID, campaign.ID, now)
	if err != nil {
		return err
	}
	if already {
		log.Info("lead already called today, skipping")
		return nil
	}

	call, err := w.Voice.CreateCall(ctx, voice.NewCallRequest(w.FromNumber, w.AgentID, w.Greeting, lead, campaign))
	if err != nil {
		return err
	}

	campaignID := campaign.ID
	record := &model.CallRecord{
		LeadID:         lead.ID,
		CampaignID:     &campaignID,
		BranchID:       lead.BranchID,
		Status:         model.CallInProgress,
		ExternalCallID: &call.CallID,
	}
	if err := w.CallRepo.CreateCall(ctx, record); err != nil {
		return err
	}
	if err := w.CallRepo.UpdateScheduledCallStatus(ctx, job.ID, model.CallInProgress); err != nil {
		log.Warn("failed to update scheduled call", zap.Error(err))
	}
	if err := w.LeadRepo.MarkCalled(ctx, lead.ID, now); err != nil {
		log.Warn("failed to stamp last_called", zap.Error(err))
	}

	log.Info("call placed", zap.String("external_call_id", call.CallID), zap.Stringer("call_id", record.ID))
	return w.schedulePoll(ctx, campaign.ID, lead.ID, record.ID, pollPayload{ExternalCallID: call.CallID})
}

func (w *Worker) schedulePoll(ctx context.Context, campaignID, leadID, callID uuid.UUID, p pollPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	poll := queue.NewJob(queue.KindCallPoll, queue.Tags{CampaignID: campaignID, LeadID: leadID, CallID: &callID}, w.now().Add(w.CallPollInterval))
	poll.Payload = payload
	poll.MaxAttempts = w.DefaultAttempts

	if _, err := w.Broker.Enqueue(ctx, poll); err != nil {
		return fmt.Errorf("enqueue poll for call %s: %w", callID, err)
	}
	return w.CallRepo.SetPollJob(ctx, callID, poll.ID)
}

// pollCall records the outcome of an ended call, or checks again later.
func (w *Worker) pollCall(ctx context.Context, log *zap.Logger, job *queue.Job) error {
	if job.Tags.CallID == nil {
		return fmt.Errorf("%w: poll job without call id", errPermanent)
	}
	callID := *job.Tags.CallID

	var p pollPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	call, err := w.Voice.GetCall(ctx, p.ExternalCallID)
	if err != nil {
		return err
	}

	if !call.Ended() {
		p.Checks++
		if p.Checks < w.CallPollMaxChecks {
			return w.schedulePoll(ctx, job.Tags.CampaignID, job.Tags.LeadID, callID, p)
		}
		log.Warn("call never ended, giving up", zap.Int("checks", p.Checks))
		return w.finishCall(ctx, job.Tags.CampaignID, callID, model.CallFailed, model.OutcomeUnknown)
	}

	status := model.CallCompleted
	if call.Failed() {
		status = model.CallFailed
	}
	outcome := call.Outcome()
	log.Info("call ended", zap.String("outcome", string(outcome)), zap.String("status", string(status)))
	return w.finishCall(ctx, job.Tags.CampaignID, callID, status, outcome)
}

func (w *Worker) finishCall(ctx context.Context, campaignID, callID uuid.UUID, status model.CallStatus, outcome model.CallOutcome) error {
	if err := w.CallRepo.CompleteCall(ctx, callID, status, outcome); err != nil {
		return err
	}
	return w.CampaignRepo.RecordCallResult(ctx, campaignID, outcome, status == model.CallFailed)
}
