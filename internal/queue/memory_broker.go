package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
)

type memoryEntry struct {
	job      Job
	state    JobState
	workerID string
}

// MemoryBroker is an in-process WorkerBroker for tests and single-binary
// development setups.
type MemoryBroker struct {
	mu      sync.Mutex
	jobs    map[string]*memoryEntry
	revoked map[string]time.Time
	clock   func() time.Time

	// EnqueueHook, when set, runs before every Enqueue and can fail it.
	EnqueueHook func(job *Job) error
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		jobs:    make(map[string]*memoryEntry),
		revoked: make(map[string]time.Time),
		clock:   time.Now,
	}
}

func (b *MemoryBroker) Enqueue(_ context.Context, job *Job) (JobHandle, error) {
	b.mu.Lock()
	hook := b.EnqueueHook
	b.mu.Unlock()

	if hook != nil {
		if err := hook(job); err != nil {
			return JobHandle{}, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = &memoryEntry{job: *job, state: StateScheduled}
	return JobHandle{JobID: job.ID, RunAt: job.RunAt}, nil
}

func (b *MemoryBroker) InspectScheduled(_ context.Context) ([]JobDescriptor, error) {
	return b.inspect(StateScheduled), nil
}

func (b *MemoryBroker) InspectReserved(_ context.Context) ([]JobDescriptor, error) {
	return b.inspect(StateReserved), nil
}

func (b *MemoryBroker) InspectActive(_ context.Context) ([]JobDescriptor, error) {
	return b.inspect(StateActive), nil
}

func (b *MemoryBroker) inspect(state JobState) []JobDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := []JobDescriptor{}
	for _, e := range b.jobs {
		if e.state == state {
			out = append(out, JobDescriptor{Job: e.job, State: e.state, WorkerID: e.workerID})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunAt.Equal(out[j].RunAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RunAt.Before(out[j].RunAt)
	})
	return out
}

func (b *MemoryBroker) Revoke(_ context.Context, jobID string, terminate bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	for id, at := range b.revoked {
		if now.Sub(at) > revokedTTL {
			delete(b.revoked, id)
		}
	}
	b.revoked[jobID] = now

	e, ok := b.jobs[jobID]
	if !ok {
		return appErrors.ErrJobNotFound
	}
	if e.state == StateActive && terminate {
		return nil
	}
	if e.state != StateActive {
		delete(b.jobs, jobID)
	}
	return nil
}

func (b *MemoryBroker) Reserve(_ context.Context, workerID string, now time.Time, limit int) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var due []*memoryEntry
	for _, e := range b.jobs {
		if e.state == StateScheduled && !e.job.RunAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].job.RunAt.Before(due[j].job.RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	jobs := make([]*Job, 0, len(due))
	for _, e := range due {
		e.state = StateReserved
		e.workerID = workerID
		j := e.job
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

func (b *MemoryBroker) Start(_ context.Context, jobID, workerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[jobID]
	if !ok {
		return appErrors.ErrJobNotFound
	}
	e.state = StateActive
	e.workerID = workerID
	return nil
}

func (b *MemoryBroker) Ack(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs, jobID)
	return nil
}

func (b *MemoryBroker) Retry(_ context.Context, job *Job, runAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j := *job
	j.RunAt = runAt
	b.jobs[j.ID] = &memoryEntry{job: j, state: StateScheduled}
	return nil
}

func (b *MemoryBroker) Revoked(_ context.Context, jobID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	at, ok := b.revoked[jobID]
	return ok && b.clock().Sub(at) <= revokedTTL, nil
}

var _ WorkerBroker = (*MemoryBroker)(nil)
