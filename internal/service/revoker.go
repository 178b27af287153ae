package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/queue"
	"github.com/unclebandit/gymcall-scheduler/internal/repository"
)

// RevocationReport summarises one cancellation sweep.
type RevocationReport struct {
	Revoked                 []string          `json:"revoked"`
	Failed                  map[string]string `json:"failed,omitempty"`
	ScheduledCallsCancelled int               `json:"scheduled_calls_cancelled"`
}

// CancellationRevoker removes a campaign's outstanding jobs from the broker.
// It is best effort: a job that starts between inspection and revocation
// may still run.
type CancellationRevoker struct {
	Broker   queue.JobBroker
	CallRepo repository.CallRepositoryInterface
	Log      *zap.Logger
}

// RevokeCampaign revokes every job tagged with campaignID, then the polling
// jobs of the campaign's in-progress calls. Failures are logged and reported,
// never returned.
func (r *CancellationRevoker) RevokeCampaign(ctx context.Context, campaignID uuid.UUID) RevocationReport {
	log := r.Log.With(zap.Stringer("campaign_id", campaignID))
	report := RevocationReport{Revoked: []string{}, Failed: map[string]string{}}
	seen := map[string]bool{}

	revoke := func(jobID string) {
		if jobID == "" || seen[jobID] {
			return
		}
		seen[jobID] = true
		err := r.Broker.Revoke(ctx, jobID, true)
		switch {
		case err == nil:
			report.Revoked = append(report.Revoked, jobID)
		case errors.Is(err, appErrors.ErrJobNotFound):
			log.Debug("job already gone", zap.String("job_id", jobID))
		default:
			log.Warn("failed to revoke job", zap.String("job_id", jobID), zap.Error(err))
			report.Failed[jobID] = err.Error()
		}
	}

	jobs := r.inspectAll(ctx, log)
	for _, j := range jobs {
		if j.Tags.CampaignID == campaignID {
			revoke(j.ID)
		}
	}

	calls, err := r.CallRepo.InProgressCallsForCampaign(ctx, campaignID)
	if err != nil {
		log.Warn("failed to load in-progress calls", zap.Error(err))
	}
	inProgress := map[uuid.UUID]bool{}
	for _, c := range calls {
		inProgress[c.ID] = true
		if c.PollJobID != nil {
			revoke(*c.PollJobID)
		}
	}
	for _, j := range jobs {
		if j.Tags.CallID != nil && inProgress[*j.Tags.CallID] {
			revoke(j.ID)
		}
	}

	n, err := r.CallRepo.CancelScheduledCalls(ctx, campaignID)
	if err != nil {
		log.Warn("failed to cancel scheduled calls", zap.Error(err))
	}
	report.ScheduledCallsCancelled = n

	log.Info("campaign jobs revoked",
		zap.Int("revoked", len(report.Revoked)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("scheduled_calls_cancelled", n))
	return report
}

func (r *CancellationRevoker) inspectAll(ctx context.Context, log *zap.Logger) []queue.JobDescriptor {
	var all []queue.JobDescriptor
	for _, inspect := range []struct {
		state queue.JobState
		fn    func(context.Context) ([]queue.JobDescriptor, error)
	}{
		{queue.StateScheduled, r.Broker.InspectScheduled},
		{queue.StateReserved, r.Broker.InspectReserved},
		{queue.StateActive, r.Broker.InspectActive},
	} {
		jobs, err := inspect.fn(ctx)
		if err != nil {
			log.Warn("failed to inspect jobs", zap.String("state", string(inspect.state)), zap.Error(err))
			continue
		}
		all = append(all, jobs...)
	}
	return all
}
