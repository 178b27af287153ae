package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

type CallRepositoryInterface interface {
	// CallsForBranchOnDate returns the non-cancelled call log rows of a
	// branch created on date.
	CallsForBranchOnDate(ctx context.Context, branchID uuid.UUID, date time.Time) ([]model.CallRecord, error)
	// ScheduledCallsForBranchOnDate returns dispatched, not-cancelled calls
	// whose slot falls on date.
	ScheduledCallsForBranchOnDate(ctx context.Context, branchID uuid.UUID, date time.Time) ([]model.ScheduledCall, error)
	RecordScheduledCalls(ctx context.Context, calls []model.ScheduledCall) error
	CancelScheduledCalls(ctx context.Context, campaignID uuid.UUID) (int, error)
	UpdateScheduledCallStatus(ctx context.Context, jobID string, status model.CallStatus) error
	InProgressCallsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]model.CallRecord, error)

	HasCallOnDate(ctx context.Context, leadID, campaignID uuid.UUID, date time.Time) (bool, error)
	CreateCall(ctx context.Context, call *model.CallRecord) error
	SetPollJob(ctx context.Context, callID uuid.UUID, jobID string) error
	CompleteCall(ctx context.Context, callID uuid.UUID, status model.CallStatus, outcome model.CallOutcome) error
}

type CallRepository struct {
	DB Connection
}

const callColumns = `id, lead_id, campaign_id, branch_id, call_status, outcome, external_call_id,
	poll_job_id, created_at, updated_at`

func (r *CallRepository) CallsForBranchOnDate(ctx context.Context, branchID uuid.UUID, date time.Time) ([]model.CallRecord, error) {
	from, to := dayBounds(date)
	calls := []model.CallRecord{}
	err := r.DB.SelectContext(ctx, &calls, `
		SELECT `+callColumns+`
		FROM call_logs
		WHERE branch_id = $1 AND created_at >= $2 AND created_at < $3
		  AND call_status <> 'cancelled'`, branchID, from, to)
	if err != nil {
		return nil, fmt.Errorf("calls for branch %s: %w", branchID, err)
	}
	return calls, nil
}

func (r *CallRepository) ScheduledCallsForBranchOnDate(ctx context.Context, branchID uuid.UUID, date time.Time) ([]model.ScheduledCall, error) {
	from, to := dayBounds(date)
	calls := []model.ScheduledCall{}
	err := r.DB.SelectContext(ctx, &calls, `
		SELECT id, campaign_id, lead_id, branch_id, scheduled_time, job_id, status, created_at
		FROM scheduled_calls
		WHERE branch_id = $1 AND scheduled_time >= $2 AND scheduled_time < $3
		  AND status <> 'cancelled'
		ORDER BY scheduled_time`, branchID, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduled calls for branch %s: %w", branchID, err)
	}
	return calls, nil
}

func (r *CallRepository) RecordScheduledCalls(ctx context.Context, calls []model.ScheduledCall) error {
	if len(calls) == 0 {
		return nil
	}
	for i := range calls {
		if calls[i].ID == uuid.Nil {
			calls[i].ID = uuid.New()
		}
		if calls[i].Status == "" {
			calls[i].Status = model.CallScheduled
		}
	}
	_, err := r.DB.NamedExecContext(ctx, `
		INSERT INTO scheduled_calls (id, campaign_id, lead_id, branch_id, scheduled_time, job_id, status)
		VALUES (:id, :campaign_id, :lead_id, :branch_id, :scheduled_time, :job_id, :status)`, calls)
	if err != nil {
		return fmt.Errorf("record scheduled calls: %w", err)
	}
	return nil
}

func (r *CallRepository) CancelScheduledCalls(ctx context.Context, campaignID uuid.UUID) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_calls SET status = 'cancelled'
		WHERE campaign_id = $1 AND status = 'scheduled'`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel scheduled calls for campaign %s: %w", campaignID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *CallRepository) UpdateScheduledCallStatus(ctx context.Context, jobID string, status model.CallStatus) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE scheduled_calls SET status = $2 WHERE job_id = $1`, jobID, status)
	if err != nil {
		return fmt.Errorf("update scheduled call %s: %w", jobID, err)
	}
	return nil
}

func (r *CallRepository) InProgressCallsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]model.CallRecord, error) {
	calls := []model.CallRecord{}
	err := r.DB.SelectContext(ctx, &calls, `
		SELECT `+callColumns+`
		FROM call_logs
		WHERE campaign_id = $1 AND call_status = 'in_progress'`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("in-progress calls for campaign %s: %w", campaignID, err)
	}
	return calls, nil
}

func (r *CallRepository) HasCallOnDate(ctx context.Context, leadID, campaignID uuid.UUID, date time.Time) (bool, error) {
	from, to := dayBounds(date)
	var exists bool
	err := r.DB.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM call_logs
			WHERE lead_id = $1 AND campaign_id = $2
			  AND created_at >= $3 AND created_at < $4
			  AND call_status <> 'cancelled'
		)`, leadID, campaignID, from, to)
	if err != nil {
		return false, fmt.Errorf("check call for lead %s: %w", leadID, err)
	}
	return exists, nil
}

func (r *CallRepository) CreateCall(ctx context.Context, call *model.CallRecord) error {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	return r.DB.GetContext(ctx, &call.CreatedAt, `
		INSERT INTO call_logs (id, lead_id, campaign_id, branch_id, call_status, outcome, external_call_id, poll_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		call.ID, call.LeadID, call.CampaignID, call.BranchID, call.Status, call.Outcome, call.ExternalCallID, call.PollJobID)
}

func (r *CallRepository) SetPollJob(ctx context.Context, callID uuid.UUID, jobID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE call_logs SET poll_job_id = $2, updated_at = NOW() WHERE id = $1`, callID, jobID)
	if err != nil {
		return fmt.Errorf("set poll job for call %s: %w", callID, err)
	}
	return nil
}

func (r *CallRepository) CompleteCall(ctx context.Context, callID uuid.UUID, status model.CallStatus, outcome model.CallOutcome) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE call_logs SET call_status = $2, outcome = $3, poll_job_id = NULL, updated_at = NOW()
		WHERE id = $1`, callID, status, outcome)
	if err != nil {
		return fmt.Errorf("complete call %s: %w", callID, err)
	}
	return nil
}
