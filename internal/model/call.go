// internal/model/call.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type CallStatus string

const (
	CallScheduled  CallStatus = "scheduled"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
	CallCancelled  CallStatus = "cancelled"
)

// CallOutcome is the result recorded for a finished call.
type CallOutcome string

const (
	OutcomeNotInterested CallOutcome = "not_interested"
	OutcomeInterested    CallOutcome = "interested"
	OutcomeCallback      CallOutcome = "callback_requested"
	OutcomeNoAnswer      CallOutcome = "no_answer"
	OutcomeVoicemail     CallOutcome = "voicemail"
	OutcomeUnknown       CallOutcome = "unknown"
)

// CallRecord is a committed row of the call log.
type CallRecord struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	LeadID         uuid.UUID    `db:"lead_id" json:"lead_id"`
	CampaignID     *uuid.UUID   `db:"campaign_id" json:"campaign_id,omitempty"`
	BranchID       uuid.UUID    `db:"branch_id" json:"branch_id"`
	Status         CallStatus   `db:"call_status" json:"call_status"`
	Outcome        *CallOutcome `db:"outcome" json:"outcome,omitempty"`
	ExternalCallID *string      `db:"external_call_id" json:"external_call_id,omitempty"`
	PollJobID      *string      `db:"poll_job_id" json:"poll_job_id,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// ScheduledCall is the persisted trace of a dispatched call-trigger job.
type ScheduledCall struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	CampaignID    uuid.UUID  `db:"campaign_id" json:"campaign_id"`
	LeadID        uuid.UUID  `db:"lead_id" json:"lead_id"`
	BranchID      uuid.UUID  `db:"branch_id" json:"branch_id"`
	ScheduledTime time.Time  `db:"scheduled_time" json:"scheduled_time"`
	JobID         string     `db:"job_id" json:"job_id"`
	Status        CallStatus `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// DispatchedCall is what a scheduling pass reports for each lead it queued.
type DispatchedCall struct {
	LeadID        uuid.UUID  `json:"lead_id"`
	CampaignID    uuid.UUID  `json:"campaign_id"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	JobID         string     `json:"task_id"`
	Status        CallStatus `json:"status"`
}
