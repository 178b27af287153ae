package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/model"
	"github.com/unclebandit/gymcall-scheduler/internal/repository"
	"github.com/unclebandit/gymcall-scheduler/internal/scheduler"
)

// store is a thread-safe in-memory stand-in for the Postgres tables.
type store struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]model.Campaign
	leads     map[uuid.UUID]model.Lead
	links     []model.CampaignLead
	calls     []model.CallRecord
	scheduled []model.ScheduledCall
	outcomes  map[uuid.UUID]model.CallOutcome
	clock     func() time.Time

	// beforeUpdate runs inside Update before the guards are checked.
	beforeUpdate func(id uuid.UUID)
	updates      int
}

func newStore() *store {
	return &store{
		campaigns: map[uuid.UUID]model.Campaign{},
		leads:     map[uuid.UUID]model.Lead{},
		outcomes:  map[uuid.UUID]model.CallOutcome{},
		clock:     time.Now,
	}
}

func (s *store) addCampaign(c model.Campaign, leads ...model.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
	for _, l := range leads {
		s.leads[l.ID] = l
		s.links = append(s.links, model.CampaignLead{CampaignID: c.ID, LeadID: l.ID})
	}
}

func (s *store) campaign(id uuid.UUID) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaigns[id]
}

func (s *store) scheduledFor(campaignID uuid.UUID, status model.CallStatus) []model.ScheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ScheduledCall
	for _, sc := range s.scheduled {
		if sc.CampaignID == campaignID && sc.Status == status {
			out = append(out, sc)
		}
	}
	return out
}

func (s *store) callLog() []model.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CallRecord(nil), s.calls...)
}

type campaignRepo struct{ s *store }

func (r campaignRepo) Get(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return &c, nil
}

func (r campaignRepo) Update(_ context.Context, id uuid.UUID, u model.CampaignUpdate) (*model.Campaign, error) {
	r.s.mu.Lock()
	hook := r.s.beforeUpdate
	r.s.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if u.ExpectedCallCount != nil && c.CallCount != *u.ExpectedCallCount {
		return nil, appErrors.ErrConcurrentPass
	}
	if u.ExpectedStatus != nil && c.Status != *u.ExpectedStatus {
		return nil, appErrors.ErrConcurrentPass
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.CallCount != nil {
		c.CallCount = *u.CallCount
	}
	if m := u.PassMetrics; m != nil {
		c.Metrics.ScheduledCalls += m.ScheduledCalls
		c.Metrics.Errors += m.Errors
		if m.LastScheduledDate != "" {
			c.Metrics.LastScheduledDate = m.LastScheduledDate
		}
	}
	if u.EndDate != nil {
		end := *u.EndDate
		c.EndDate = &end
	}
	r.s.campaigns[id] = c
	r.s.updates++
	return &c, nil
}

func (r campaignRepo) ListActiveForDate(_ context.Context, date time.Time) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == model.CampaignCancelled || c.Status == model.CampaignCompleted {
			continue
		}
		if !scheduler.InDateRange(&c, date) {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	return out, nil
}

func (r campaignRepo) ListLeadsForCampaign(_ context.Context, id uuid.UUID) ([]model.CampaignLead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.CampaignLead
	for _, l := range r.s.links {
		if l.CampaignID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r campaignRepo) RecordCallResult(_ context.Context, id uuid.UUID, outcome model.CallOutcome, failed bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	outcomes := map[string]int{}
	for k, v := range c.Metrics.Outcomes {
		outcomes[k] = v
	}
	outcomes[string(outcome)]++
	c.Metrics.Outcomes = outcomes
	if failed {
		c.Metrics.FailedCalls++
	}
	r.s.campaigns[id] = c
	return nil
}

type leadRepo struct{ s *store }

func (r leadRepo) Get(_ context.Context, id uuid.UUID) (*model.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return nil, appErrors.NewLeadNotFound(id)
	}
	return &l, nil
}

func (r leadRepo) GetMany(_ context.Context, ids []uuid.UUID) ([]model.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Lead, 0, len(ids))
	for _, id := range ids {
		if l, ok := r.s.leads[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r leadRepo) LastOutcome(_ context.Context, id uuid.UUID) (*model.CallOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.outcomes[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r leadRepo) LastOutcomes(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]model.CallOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[uuid.UUID]model.CallOutcome{}
	for _, id := range ids {
		if o, ok := r.s.outcomes[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

func (r leadRepo) MarkCalled(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return appErrors.NewLeadNotFound(id)
	}
	l.LastCalled = &at
	if l.Status == model.LeadNew {
		l.Status = model.LeadContacted
	}
	r.s.leads[id] = l
	return nil
}

type callRepo struct{ s *store }

func sameDay(a, b time.Time) bool {
	return scheduler.DateOf(a.In(b.Location())).Equal(scheduler.DateOf(b))
}

func (r callRepo) CallsForBranchOnDate(_ context.Context, branchID uuid.UUID, date time.Time) ([]model.CallRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.CallRecord
	for _, c := range r.s.calls {
		if c.BranchID == branchID && c.Status != model.CallCancelled && sameDay(c.CreatedAt, date) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r callRepo) ScheduledCallsForBranchOnDate(_ context.Context, branchID uuid.UUID, date time.Time) ([]model.ScheduledCall, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ScheduledCall
	for _, sc := range r.s.scheduled {
		if sc.BranchID == branchID && sc.Status != model.CallCancelled && sameDay(sc.ScheduledTime, date) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (r callRepo) RecordScheduledCalls(_ context.Context, calls []model.ScheduledCall) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range calls {
		c.ID = uuid.New()
		r.s.scheduled = append(r.s.scheduled, c)
	}
	return nil
}

func (r callRepo) CancelScheduledCalls(_ context.Context, campaignID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for i, sc := range r.s.scheduled {
		if sc.CampaignID == campaignID && sc.Status == model.CallScheduled {
			r.s.scheduled[i].Status = model.CallCancelled
			n++
		}
	}
	return n, nil
}

func (r callRepo) UpdateScheduledCallStatus(_ context.Context, jobID string, status model.CallStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, sc := range r.s.scheduled {
		if sc.JobID == jobID {
			r.s.scheduled[i].Status = status
		}
	}
	return nil
}

func (r callRepo) InProgressCallsForCampaign(_ context.Context, campaignID uuid.UUID) ([]model.CallRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.CallRecord
	for _, c := range r.s.calls {
		if c.CampaignID != nil && *c.CampaignID == campaignID && c.Status == model.CallInProgress {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r callRepo) HasCallOnDate(_ context.Context, leadID, campaignID uuid.UUID, date time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.calls {
		if c.LeadID == leadID && c.CampaignID != nil && *c.CampaignID == campaignID && sameDay(c.CreatedAt, date) {
			return true, nil
		}
	}
	return false, nil
}

func (r callRepo) CreateCall(_ context.Context, call *model.CallRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	call.ID = uuid.New()
	call.CreatedAt = r.s.clock()
	call.UpdatedAt = call.CreatedAt
	r.s.calls = append(r.s.calls, *call)
	return nil
}

func (r callRepo) SetPollJob(_ context.Context, callID uuid.UUID, jobID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, c := range r.s.calls {
		if c.ID == callID {
			r.s.calls[i].PollJobID = &jobID
		}
	}
	return nil
}

func (r callRepo) CompleteCall(_ context.Context, callID uuid.UUID, status model.CallStatus, outcome model.CallOutcome) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, c := range r.s.calls {
		if c.ID == callID {
			r.s.calls[i].Status = status
			r.s.calls[i].Outcome = &outcome
			r.s.outcomes[c.LeadID] = outcome
		}
	}
	return nil
}

var (
	_ repository.CampaignRepositoryInterface = campaignRepo{}
	_ repository.LeadRepositoryInterface     = leadRepo{}
	_ repository.CallRepositoryInterface     = callRepo{}
)
