package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

// LeadRepositoryInterface defines the lead reads the scheduler needs and the
// one write the call worker makes.
type LeadRepositoryInterface interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Lead, error)
	// GetMany returns the leads in ids order, skipping unknown ids.
	GetMany(ctx context.Context, ids []uuid.UUID) ([]model.Lead, error)
	LastOutcome(ctx context.Context, id uuid.UUID) (*model.CallOutcome, error)
	LastOutcomes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.CallOutcome, error)
	MarkCalled(ctx context.Context, id uuid.UUID, at time.Time) error
}

type LeadRepository struct {
	DB Connection
}

const leadColumns = `id, branch_id, first_name, last_name, phone, lead_status, last_called`

func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*model.Lead, error) {
	var l model.Lead
	err := r.DB.GetContext(ctx, &l, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewLeadNotFound(id)
		}
		return nil, fmt.Errorf("get lead %s: %w", id, err)
	}
	return &l, nil
}

func (r *LeadRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]model.Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []model.Lead
	err := r.DB.SelectContext(ctx, &rows,
		`SELECT `+leadColumns+` FROM leads WHERE id = ANY($1::uuid[])`, pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("get leads: %w", err)
	}

	byID := make(map[uuid.UUID]model.Lead, len(rows))
	for _, l := range rows {
		byID[l.ID] = l
	}
	leads := make([]model.Lead, 0, len(rows))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			leads = append(leads, l)
		}
	}
	return leads, nil
}

func (r *LeadRepository) LastOutcome(ctx context.Context, id uuid.UUID) (*model.CallOutcome, error) {
	var outcome model.CallOutcome
	err := r.DB.GetContext(ctx, &outcome, `
		SELECT outcome FROM call_logs
		WHERE lead_id = $1 AND outcome IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last outcome for lead %s: %w", id, err)
	}
	return &outcome, nil
}

func (r *LeadRepository) LastOutcomes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.CallOutcome, error) {
	out := make(map[uuid.UUID]model.CallOutcome, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []struct {
		LeadID  uuid.UUID         `db:"lead_id"`
		Outcome model.CallOutcome `db:"outcome"`
	}
	err := r.DB.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (lead_id) lead_id, outcome
		FROM call_logs
		WHERE lead_id = ANY($1::uuid[]) AND outcome IS NOT NULL
		ORDER BY lead_id, created_at DESC`, pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("last outcomes: %w", err)
	}
	for _, row := range rows {
		out[row.LeadID] = row.Outcome
	}
	return out, nil
}

// MarkCalled stamps last_called and moves a new lead to contacted.
func (r *LeadRepository) MarkCalled(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE leads
		SET last_called = $2,
		    lead_status = CASE WHEN lead_status = 'new' THEN 'contacted' ELSE lead_status END
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark lead %s called: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewLeadNotFound(id)
	}
	return nil
}
