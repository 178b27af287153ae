// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/lock"
	"github.com/unclebandit/gymcall-scheduler/internal/model"
	"github.com/unclebandit/gymcall-scheduler/internal/repository"
	"github.com/unclebandit/gymcall-scheduler/internal/scheduler"
)

// CampaignService runs scheduling passes and the pause/cancel operations.
// It holds no per-pass state; every pass reads what it needs from the stores.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	CallRepo     repository.CallRepositoryInterface
	Dispatcher   *TaskDispatcher
	Revoker      *CancellationRevoker
	Locker       lock.Locker
	Log          *zap.Logger

	SlotDuration     time.Duration
	PassTimeout      time.Duration
	SweepConcurrency int
}

// SweepReport is the result of ScheduleAllCampaigns. A campaign with a
// partial dispatch failure appears in both maps.
type SweepReport struct {
	Date      string                                `json:"date"`
	Scheduled map[uuid.UUID][]model.DispatchedCall `json:"scheduled"`
	Failed    map[uuid.UUID]error                   `json:"-"`
}

// Errors renders Failed for JSON output.
func (r *SweepReport) Errors() map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(r.Failed))
	for id, err := range r.Failed {
		out[id] = err.Error()
	}
	return out
}

func (s *CampaignService) GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return s.CampaignRepo.Get(ctx, id)
}

// ScheduleCampaign runs one isolated scheduling pass for campaignID on date.
// A campaign that is not schedulable on date yields no calls and no error.
// Calls that dispatched are returned even when others failed; the failures
// come back as a *DispatchFailureError.
func (s *CampaignService) ScheduleCampaign(ctx context.Context, campaignID uuid.UUID, date time.Time) ([]model.DispatchedCall, error) {
	log := s.Log.With(zap.Stringer("campaign_id", campaignID), zap.String("date", date.Format(time.DateOnly)))

	var dispatched []model.DispatchedCall
	err := runIsolated(ctx, s.PassTimeout, log, func(ctx context.Context) error {
		var err error
		dispatched, err = s.schedulePass(ctx, log, campaignID, date)
		return err
	})
	var dfe *appErrors.DispatchFailureError
	if err != nil && !errors.As(err, &dfe) {
		return nil, err
	}
	if dispatched == nil {
		dispatched = []model.DispatchedCall{}
	}
	return dispatched, err
}

func (s *CampaignService) schedulePass(ctx context.Context, log *zap.Logger, campaignID uuid.UUID, date time.Time) ([]model.DispatchedCall, error) {
	c, err := s.CampaignRepo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if ok, reason := s.eligible(c, date); !ok {
		log.Info("campaign not scheduled", zap.String("reason", reason), zap.String("status", string(c.Status)))
		return nil, nil
	}
	if err := scheduler.Validate(c); err != nil {
		log.Warn("campaign skipped", zap.Error(err))
		return nil, err
	}

	release, err := s.Locker.Acquire(ctx, lock.CampaignKey(campaignID))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release campaign lock", zap.Error(err))
		}
	}()

	// Re-read under the lock: a pass that finished while we waited has moved
	// call_count and status.
	c, err = s.CampaignRepo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if ok, reason := s.eligible(c, date); !ok {
		log.Info("campaign not scheduled", zap.String("reason", reason), zap.String("status", string(c.Status)))
		return nil, nil
	}

	if scheduler.Remaining(c) == 0 {
		return nil, s.complete(ctx, log, c, date)
	}
	n := scheduler.CallsToday(c)

	pairs, err := s.plan(ctx, c, date, n)
	if err != nil {
		return nil, err
	}

	// Jobs enqueued by a pass that never commits are revoked, whether the
	// pass returns an error or panics.
	dispatched := make([]model.DispatchedCall, 0, len(pairs))
	committed := false
	defer func() {
		if r := recover(); r != nil {
			if !committed {
				s.rollback(ctx, log, dispatched)
			}
			panic(r)
		}
	}()

	failed := map[uuid.UUID]error{}
	for _, p := range pairs {
		handle, err := s.Dispatcher.Enqueue(ctx, p.lead.ID, c.ID, p.at)
		if err != nil {
			failed[p.lead.ID] = err
			continue
		}
		dispatched = append(dispatched, model.DispatchedCall{
			LeadID:        p.lead.ID,
			CampaignID:    c.ID,
			ScheduledTime: p.at,
			JobID:         handle.JobID,
			Status:        model.CallScheduled,
		})
	}

	if err := ctx.Err(); err != nil {
		s.rollback(ctx, log, dispatched)
		return nil, err
	}
	if err := s.commit(ctx, c, date, dispatched, len(failed)); err != nil {
		s.rollback(ctx, log, dispatched)
		return nil, err
	}
	committed = true

	log.Info("campaign scheduled", zap.Int("dispatched", len(dispatched)), zap.Int("failed", len(failed)), zap.Int("budget", n))
	if len(failed) > 0 {
		return dispatched, &appErrors.DispatchFailureError{CampaignID: c.ID, Failed: failed}
	}
	return dispatched, nil
}

// eligible applies the status, date-range and weekday gates.
func (s *CampaignService) eligible(c *model.Campaign, date time.Time) (bool, string) {
	switch {
	case !scheduler.Schedulable(c.Status):
		return false, "status"
	case !scheduler.InDateRange(c, date):
		return false, "outside date range"
	case !scheduler.IsCallDay(c.Schedule, date):
		return false, "not a call day"
	}
	return true, ""
}

// complete marks an exhausted campaign completed as of date.
func (s *CampaignService) complete(ctx context.Context, log *zap.Logger, c *model.Campaign, date time.Time) error {
	status, err := scheduler.Transition(c.Status, model.CampaignCompleted)
	if err != nil {
		return err
	}
	end := scheduler.DateOf(date)
	expected := c.Status
	if _, err := s.CampaignRepo.Update(ctx, c.ID, model.CampaignUpdate{Status: &status, EndDate: &end, ExpectedStatus: &expected}); err != nil {
		return err
	}
	log.Info("campaign completed", zap.Int("call_count", c.CallCount), zap.Int("frequency", c.Frequency))
	return nil
}

type pair struct {
	lead model.Lead
	at   time.Time
}

// plan pairs up to n ranked, not-yet-called leads with free slots.
func (s *CampaignService) plan(ctx context.Context, c *model.Campaign, date time.Time, n int) ([]pair, error) {
	refs, err := s.CampaignRepo.ListLeadsForCampaign(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(refs))
	for i, r := range refs {
		ids[i] = r.LeadID
	}
	leads, err := s.LeadRepo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	calls, err := s.CallRepo.CallsForBranchOnDate(ctx, c.BranchID, date)
	if err != nil {
		return nil, err
	}
	scheduled, err := s.CallRepo.ScheduledCallsForBranchOnDate(ctx, c.BranchID, date)
	if err != nil {
		return nil, err
	}

	excluded := make(map[uuid.UUID]bool, len(calls)+len(scheduled))
	for _, call := range calls {
		excluded[call.LeadID] = true
	}
	taken := map[int64]bool{}
	for _, sc := range scheduled {
		excluded[sc.LeadID] = true
		if sc.CampaignID == c.ID {
			taken[sc.ScheduledTime.Unix()] = true
		}
	}

	eligible := make([]model.Lead, 0, len(leads))
	eligibleIDs := make([]uuid.UUID, 0, len(leads))
	for _, l := range leads {
		if !excluded[l.ID] {
			eligible = append(eligible, l)
			eligibleIDs = append(eligibleIDs, l.ID)
		}
	}

	outcomes, err := s.LeadRepo.LastOutcomes(ctx, eligibleIDs)
	if err != nil {
		return nil, err
	}
	ranked := scheduler.Prioritize(eligible, outcomes, c.Gap, date)
	if len(ranked) > n {
		ranked = ranked[:n]
	}

	sched := c.Schedule.WithDefaults()
	from, to, err := scheduler.CallWindow(date, sched.CallHoursStart, sched.CallHoursEnd)
	if err != nil {
		return nil, appErrors.NewConfigurationError(c.ID, "call_hours", err.Error())
	}

	pairs := make([]pair, 0, len(ranked))
	for _, at := range scheduler.Slots(from, to, s.SlotDuration) {
		if len(pairs) == len(ranked) {
			break
		}
		if taken[at.Unix()] {
			continue
		}
		pairs = append(pairs, pair{lead: ranked[len(pairs)], at: at})
	}
	return pairs, nil
}

// commit records the dispatched calls and moves call_count, the pass
// counters in metrics and status in one compare-and-set on the campaign row.
func (s *CampaignService) commit(ctx context.Context, c *model.Campaign, date time.Time, dispatched []model.DispatchedCall, failures int) error {
	if len(dispatched) == 0 && failures == 0 {
		return nil
	}

	records := make([]model.ScheduledCall, len(dispatched))
	for i, d := range dispatched {
		records[i] = model.ScheduledCall{
			CampaignID:    d.CampaignID,
			LeadID:        d.LeadID,
			BranchID:      c.BranchID,
			ScheduledTime: d.ScheduledTime,
			JobID:         d.JobID,
			Status:        model.CallScheduled,
		}
	}
	if err := s.CallRepo.RecordScheduledCalls(ctx, records); err != nil {
		return err
	}

	newCount := c.CallCount + len(dispatched)
	metrics := model.PassMetrics{ScheduledCalls: len(dispatched), Errors: failures}
	if len(dispatched) > 0 {
		metrics.LastScheduledDate = date.Format(time.DateOnly)
	}

	expectedCount, expectedStatus := c.CallCount, c.Status
	update := model.CampaignUpdate{
		CallCount:         &newCount,
		PassMetrics:       &metrics,
		ExpectedCallCount: &expectedCount,
		ExpectedStatus:    &expectedStatus,
	}
	if status, ok := scheduler.AfterPass(c, len(dispatched), newCount); ok {
		update.Status = &status
		if status == model.CampaignCompleted {
			end := scheduler.DateOf(date)
			update.EndDate = &end
		}
	}

	_, err := s.CampaignRepo.Update(ctx, c.ID, update)
	return err
}

// rollback revokes the jobs of a pass that did not commit, so they are
// neither executed nor left uncounted.
func (s *CampaignService) rollback(ctx context.Context, log *zap.Logger, dispatched []model.DispatchedCall) {
	ctx = context.WithoutCancel(ctx)
	for _, d := range dispatched {
		if err := s.Dispatcher.Broker.Revoke(ctx, d.JobID, true); err != nil && !errors.Is(err, appErrors.ErrJobNotFound) {
			log.Error("failed to revoke job of rolled back pass", zap.String("job_id", d.JobID), zap.Error(err))
		}
		if err := s.CallRepo.UpdateScheduledCallStatus(ctx, d.JobID, model.CallCancelled); err != nil {
			log.Warn("failed to cancel scheduled call", zap.String("job_id", d.JobID), zap.Error(err))
		}
	}
}

// ScheduleAllCampaigns runs a pass for every campaign whose date range
// covers date. Each pass is isolated; one campaign's failure never stops
// the others.
func (s *CampaignService) ScheduleAllCampaigns(ctx context.Context, date time.Time) (*SweepReport, error) {
	campaigns, err := s.CampaignRepo.ListActiveForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}

	report := &SweepReport{
		Date:      date.Format(time.DateOnly),
		Scheduled: make(map[uuid.UUID][]model.DispatchedCall, len(campaigns)),
		Failed:    map[uuid.UUID]error{},
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.SweepConcurrency))
	for _, c := range campaigns {
		id := c.ID
		g.Go(func() error {
			dispatched, err := s.ScheduleCampaign(gctx, id, date)

			mu.Lock()
			defer mu.Unlock()
			report.Scheduled[id] = dispatched
			if err != nil {
				report.Failed[id] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	s.Log.Info("sweep finished",
		zap.String("date", report.Date),
		zap.Int("campaigns", len(campaigns)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

// PauseCampaign stops future passes from treating the campaign as running.
// Already dispatched jobs are left in place.
func (s *CampaignService) PauseCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	c, err := s.CampaignRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	status, err := scheduler.Transition(c.Status, model.CampaignPaused)
	if err != nil {
		return nil, err
	}
	expected := c.Status
	return s.CampaignRepo.Update(ctx, id, model.CampaignUpdate{Status: &status, ExpectedStatus: &expected})
}

// CancelCampaign marks the campaign cancelled and revokes its outstanding
// jobs. Cancelling an already cancelled campaign repeats the revocation.
func (s *CampaignService) CancelCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, RevocationReport, error) {
	c, err := s.CampaignRepo.Get(ctx, id)
	if err != nil {
		return nil, RevocationReport{}, err
	}

	if c.Status != model.CampaignCancelled {
		status, err := scheduler.Transition(c.Status, model.CampaignCancelled)
		if err != nil {
			return nil, RevocationReport{}, err
		}
		// A pass committing at the same time guards on status and rolls back.
		c, err = s.CampaignRepo.Update(ctx, id, model.CampaignUpdate{Status: &status})
		if err != nil {
			return nil, RevocationReport{}, err
		}
	}

	report := s.Revoker.RevokeCampaign(ctx, id)
	return c, report, nil
}
