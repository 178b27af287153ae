package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/gymcall-scheduler/internal/model"
	"github.com/unclebandit/gymcall-scheduler/internal/queue"
	"github.com/unclebandit/gymcall-scheduler/internal/service"
	"github.com/unclebandit/gymcall-scheduler/internal/voice"
)

type fakeVoice struct {
	mu        sync.Mutex
	requests  []voice.CallRequest
	calls     map[string]voice.Call
	createErr error

	// block makes CreateCall wait for its context after signalling started.
	block   bool
	started chan struct{}
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{calls: map[string]voice.Call{}, started: make(chan struct{}, 1)}
}

func (v *fakeVoice) CreateCall(ctx context.Context, req voice.CallRequest) (*voice.Call, error) {
	v.mu.Lock()
	v.requests = append(v.requests, req)
	block, err := v.block, v.createErr
	v.mu.Unlock()

	if block {
		v.started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	call := voice.Call{CallID: fmt.Sprintf("call_%d", len(v.calls)+1), Status: "registered"}
	v.calls[call.CallID] = call
	return &call, nil
}

func (v *fakeVoice) GetCall(_ context.Context, id string) (*voice.Call, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	call, ok := v.calls[id]
	if !ok {
		return nil, &voice.APIError{StatusCode: 404, Body: "call not found"}
	}
	return &call, nil
}

func (v *fakeVoice) endAll(reason string, analysis *voice.Analysis) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, c := range v.calls {
		c.Status = "ended"
		c.DisconnectionReason = reason
		c.Analysis = analysis
		v.calls[id] = c
	}
}

func (v *fakeVoice) requestCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.requests)
}

type workerFixture struct {
	*fixture
	voice  *fakeVoice
	worker *service.Worker
	now    time.Time
}

func (w *workerFixture) advance(d time.Duration) {
	w.now = w.now.Add(d)
}

// newWorkerFixture schedules one pass for a campaign over leads and returns
// a worker whose clock stands after the call window.
func newWorkerFixture(t *testing.T, leads int) (*workerFixture, model.Campaign, []model.DispatchedCall) {
	t.Helper()

	f := newFixture(t)
	branch := uuid.New()
	c := newCampaign(branch, 10)
	f.store.addCampaign(c, newLeads(branch, leads)...)

	dispatched, err := f.svc.ScheduleCampaign(context.Background(), c.ID, monday)
	require.NoError(t, err)
	require.Len(t, dispatched, leads)

	wf := &workerFixture{fixture: f, voice: newFakeVoice(), now: monday.Add(22 * time.Hour)}
	f.store.clock = func() time.Time { return wf.now }
	wf.worker = &service.Worker{
		Broker:            f.broker,
		CampaignRepo:      campaignRepo{f.store},
		LeadRepo:          leadRepo{f.store},
		CallRepo:          callRepo{f.store},
		Voice:             wf.voice,
		Log:               zap.NewNop(),
		ID:                "test",
		Concurrency:       1,
		PollInterval:      5 * time.Millisecond,
		RetryBackoff:      time.Minute,
		RevokeCheck:       5 * time.Millisecond,
		DefaultAttempts:   3,
		CallPollInterval:  30 * time.Second,
		CallPollMaxChecks: 2,
		FromNumber:        "+254711000000",
		AgentID:           "agent_front_desk",
		Now:               func() time.Time { return wf.now },
	}
	return wf, c, dispatched
}

func runOnce(t *testing.T, w *service.Worker) int {
	t.Helper()
	n, err := w.RunOnce(context.Background(), "w-0")
	require.NoError(t, err)
	return n
}

func TestWorkerPlacesCallsAndRecordsOutcomes(t *testing.T) {
	wf, c, _ := newWorkerFixture(t, 2)

	assert.Equal(t, 1, runOnce(t, wf.worker))
	assert.Equal(t, 1, runOnce(t, wf.worker))
	assert.Equal(t, 0, runOnce(t, wf.worker))

	require.Equal(t, 2, wf.voice.requestCount())
	assert.Equal(t, "+254711000000", wf.voice.requests[0].FromNumber)
	assert.Equal(t, "agent_front_desk", wf.voice.requests[0].AgentID)

	calls := wf.store.callLog()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, model.CallInProgress, call.Status)
		assert.NotNil(t, call.PollJobID)
		assert.NotNil(t, call.ExternalCallID)
	}
	assert.Len(t, wf.store.scheduledFor(c.ID, model.CallInProgress), 2)
	for _, l := range wf.store.leads {
		assert.Equal(t, model.LeadContacted, l.Status)
		require.NotNil(t, l.LastCalled)
	}

	polls := scheduledJobs(t, wf.broker)
	require.Len(t, polls, 2)
	for _, p := range polls {
		assert.Equal(t, queue.KindCallPoll, p.Kind)
		assert.NotNil(t, p.Tags.CallID)
	}

	wf.voice.endAll("user_hangup", &voice.Analysis{Custom: map[string]any{"outcome": "interested"}})
	wf.advance(30 * time.Second)
	assert.Equal(t, 1, runOnce(t, wf.worker))
	assert.Equal(t, 1, runOnce(t, wf.worker))

	for _, call := range wf.store.callLog() {
		assert.Equal(t, model.CallCompleted, call.Status)
		require.NotNil(t, call.Outcome)
		assert.Equal(t, model.OutcomeInterested, *call.Outcome)
	}
	assert.Equal(t, 2, wf.store.campaign(c.ID).Metrics.Outcomes["interested"])
	assert.Empty(t, scheduledJobs(t, wf.broker))
}

func TestWorkerGivesUpPollingAfterMaxChecks(t *testing.T) {
	wf, c, _ := newWorkerFixture(t, 1)

	runOnce(t, wf.worker)
	wf.advance(30 * time.Second)
	assert.Equal(t, 1, runOnce(t, wf.worker))
	require.Len(t, scheduledJobs(t, wf.broker), 1)

	wf.advance(30 * time.Second)
	assert.Equal(t, 1, runOnce(t, wf.worker))
	assert.Empty(t, scheduledJobs(t, wf.broker))

	calls := wf.store.callLog()
	require.Len(t, calls, 1)
	assert.Equal(t, model.CallFailed, calls[0].Status)

	got := wf.store.campaign(c.ID)
	assert.Equal(t, 1, got.Metrics.FailedCalls)
	assert.Equal(t, 1, got.Metrics.Outcomes["unknown"])
}

func TestWorkerRetriesThenFailsJob(t *testing.T) {
	wf, c, _ := newWorkerFixture(t, 1)
	wf.voice.createErr = &voice.APIError{StatusCode: 503, Body: "unavailable"}

	assert.Equal(t, 1, runOnce(t, wf.worker))
	jobs := scheduledJobs(t, wf.broker)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.Equal(t, wf.now.Add(time.Minute), jobs[0].RunAt)

	assert.Equal(t, 0, runOnce(t, wf.worker), "retry is not due yet")

	wf.advance(time.Minute)
	assert.Equal(t, 1, runOnce(t, wf.worker))
	wf.advance(2 * time.Minute)
	assert.Equal(t, 1, runOnce(t, wf.worker))

	assert.Equal(t, 3, wf.voice.requestCount())
	assert.Empty(t, scheduledJobs(t, wf.broker))
	assert.Len(t, wf.store.scheduledFor(c.ID, model.CallFailed), 1)
	assert.Equal(t, 1, wf.store.campaign(c.ID).Metrics.FailedCalls)
}

func TestWorkerSkipsRevokedJob(t *testing.T) {
	wf, _, dispatched := newWorkerFixture(t, 1)
	ctx := context.Background()

	jobs := scheduledJobs(t, wf.broker)
	require.Len(t, jobs, 1)
	job := jobs[0].Job

	require.NoError(t, wf.broker.Revoke(ctx, dispatched[0].JobID, true))
	// A stale retry puts the revoked job back on the schedule.
	require.NoError(t, wf.broker.Retry(ctx, &job, wf.now))

	assert.Equal(t, 1, runOnce(t, wf.worker))
	assert.Zero(t, wf.voice.requestCount())
	assert.Empty(t, scheduledJobs(t, wf.broker))
	assert.Empty(t, wf.store.callLog())
}

func TestWorkerStopsRevokedRunningJob(t *testing.T) {
	wf, _, dispatched := newWorkerFixture(t, 1)
	wf.voice.block = true
	ctx := context.Background()

	done := make(chan int)
	go func() {
		n, _ := wf.worker.RunOnce(ctx, "w-0")
		done <- n
	}()

	select {
	case <-wf.voice.started:
	case <-time.After(2 * time.Second):
		t.Fatal("call was never started")
	}
	require.NoError(t, wf.broker.Revoke(ctx, dispatched[0].JobID, true))

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("revoked job kept running")
	}

	active, err := wf.broker.InspectActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, scheduledJobs(t, wf.broker))
	assert.Empty(t, wf.store.callLog())
}

func TestWorkerDropsCallsOfCancelledCampaign(t *testing.T) {
	wf, c, _ := newWorkerFixture(t, 1)

	wf.store.mu.Lock()
	cancelled := wf.store.campaigns[c.ID]
	cancelled.Status = model.CampaignCancelled
	wf.store.campaigns[c.ID] = cancelled
	wf.store.mu.Unlock()

	assert.Equal(t, 1, runOnce(t, wf.worker))
	assert.Zero(t, wf.voice.requestCount())
	assert.Len(t, wf.store.scheduledFor(c.ID, model.CallCancelled), 1)
}

func TestWorkerSkipsLeadAlreadyCalledToday(t *testing.T) {
	wf, c, dispatched := newWorkerFixture(t, 1)

	campaignID := c.ID
	wf.store.mu.Lock()
	wf.store.calls = append(wf.store.calls, model.CallRecord{
		ID:         uuid.New(),
		LeadID:     dispatched[0].LeadID,
		CampaignID: &campaignID,
		BranchID:   c.BranchID,
		Status:     model.CallCompleted,
		CreatedAt:  monday.Add(19 * time.Hour),
	})
	wf.store.mu.Unlock()

	assert.Equal(t, 1, runOnce(t, wf.worker))
	assert.Zero(t, wf.voice.requestCount())
	assert.Len(t, wf.store.callLog(), 1)
}

func TestWorkerStartRunsUntilCancelled(t *testing.T) {
	wf, _, _ := newWorkerFixture(t, 3)
	wf.worker.Concurrency = 2

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- wf.worker.Start(ctx) }()

	require.Eventually(t, func() bool {
		return wf.voice.requestCount() == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.True(t, err == nil || errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
