package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	// KindCallTrigger places the voice call for one lead of a campaign.
	KindCallTrigger JobKind = "call.trigger"
	// KindCallPoll checks an in-progress call until the provider reports an end state.
	KindCallPoll JobKind = "call.poll"
)

type JobState string

const (
	StateScheduled JobState = "scheduled"
	StateReserved  JobState = "reserved"
	StateActive    JobState = "active"
)

// Tags identify what a job acts on. Revocation filters on these fields.
type Tags struct {
	CampaignID uuid.UUID  `json:"campaign_id"`
	LeadID     uuid.UUID  `json:"lead_id"`
	CallID     *uuid.UUID `json:"call_id,omitempty"`
}

// Job is a deferred unit of work held by the broker.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Tags        Tags            `json:"tags"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	RunAt       time.Time       `json:"run_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// NewJob returns a job with a fresh id.
func NewJob(kind JobKind, tags Tags, runAt time.Time) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Tags:       tags,
		RunAt:      runAt,
		EnqueuedAt: time.Now().UTC(),
	}
}

// JobHandle is what a producer keeps after enqueueing.
type JobHandle struct {
	JobID string    `json:"job_id"`
	RunAt time.Time `json:"run_at"`
}

// JobDescriptor is a job as seen through broker introspection.
type JobDescriptor struct {
	Job
	State    JobState `json:"state"`
	WorkerID string   `json:"worker_id,omitempty"`
}

// JobBroker is the producer/control-plane side of the job queue.
type JobBroker interface {
	Enqueue(ctx context.Context, job *Job) (JobHandle, error)
	InspectScheduled(ctx context.Context) ([]JobDescriptor, error)
	InspectReserved(ctx context.Context) ([]JobDescriptor, error)
	InspectActive(ctx context.Context) ([]JobDescriptor, error)
	// Revoke drops a scheduled or reserved job. An active job is only
	// flagged; with terminate set its worker cancels the job's context.
	Revoke(ctx context.Context, jobID string, terminate bool) error
}

// WorkerBroker adds the consumer side used by worker processes.
type WorkerBroker interface {
	JobBroker
	// Reserve claims up to limit jobs due at now for workerID.
	Reserve(ctx context.Context, workerID string, now time.Time, limit int) ([]*Job, error)
	// Start moves a reserved job to active.
	Start(ctx context.Context, jobID, workerID string) error
	// Ack removes a finished job.
	Ack(ctx context.Context, jobID string) error
	// Retry puts job back on the schedule at runAt.
	Retry(ctx context.Context, job *Job, runAt time.Time) error
	// Revoked reports whether Revoke was called for jobID.
	Revoked(ctx context.Context, jobID string) (bool, error)
}
