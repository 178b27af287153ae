package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

type CampaignRepositoryInterface interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	Update(ctx context.Context, id uuid.UUID, u model.CampaignUpdate) (*model.Campaign, error)
	ListActiveForDate(ctx context.Context, date time.Time) ([]*model.Campaign, error)
	ListLeadsForCampaign(ctx context.Context, id uuid.UUID) ([]model.CampaignLead, error)
	// RecordCallResult bumps the outcome histogram, and failed_calls when failed is set.
	RecordCallResult(ctx context.Context, id uuid.UUID, outcome model.CallOutcome, failed bool) error
}

type CampaignRepository struct {
	DB Connection
}

const campaignColumns = `id, gym_id, branch_id, name, frequency, gap, schedule, campaign_status,
	call_count, start_date, end_date, metrics, created_at, updated_at`

func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return &c, nil
}

// Update applies u in one statement. With an Expected* field set the row is
// only written while it still matches; otherwise ErrConcurrentPass.
func (r *CampaignRepository) Update(ctx context.Context, id uuid.UUID, u model.CampaignUpdate) (*model.Campaign, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Status != nil {
		add("campaign_status", *u.Status)
	}
	if u.CallCount != nil {
		add("call_count", *u.CallCount)
	}
	if m := u.PassMetrics; m != nil {
		args = append(args, m.ScheduledCalls, m.Errors)
		inc := func(field string, n int) string {
			return fmt.Sprintf(`to_jsonb(COALESCE((metrics->>'%s')::int, 0) + $%d)`, field, n)
		}
		expr := fmt.Sprintf(`jsonb_set(jsonb_set(COALESCE(metrics, '{}'::jsonb), '{scheduled_calls}', %s), '{errors}', %s)`,
			inc("scheduled_calls", len(args)-1), inc("errors", len(args)))
		if m.LastScheduledDate != "" {
			args = append(args, m.LastScheduledDate)
			expr = fmt.Sprintf(`jsonb_set(%s, '{last_scheduled_date}', to_jsonb($%d::text))`, expr, len(args))
		}
		sets = append(sets, "metrics = "+expr)
	}
	if u.EndDate != nil {
		add("end_date", *u.EndDate)
	}

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if u.ExpectedCallCount != nil {
		args = append(args, *u.ExpectedCallCount)
		where += fmt.Sprintf(" AND call_count = $%d", len(args))
	}
	if u.ExpectedStatus != nil {
		args = append(args, *u.ExpectedStatus)
		where += fmt.Sprintf(" AND campaign_status = $%d", len(args))
	}
	guarded := u.ExpectedCallCount != nil || u.ExpectedStatus != nil

	query := `UPDATE campaigns SET ` + strings.Join(sets, ", ") + ` WHERE ` + where + ` RETURNING ` + campaignColumns

	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		if !guarded {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, appErrors.ErrConcurrentPass
	}
	if err != nil {
		return nil, fmt.Errorf("update campaign %s: %w", id, err)
	}
	return &c, nil
}

// ListActiveForDate returns campaigns that are not finished and whose
// nullable [start_date, end_date] covers date.
func (r *CampaignRepository) ListActiveForDate(ctx context.Context, date time.Time) ([]*model.Campaign, error) {
	day := date.Format(time.DateOnly)
	campaigns := []*model.Campaign{}
	err := r.DB.SelectContext(ctx, &campaigns, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE campaign_status NOT IN ('cancelled', 'completed')
		  AND (start_date IS NULL OR start_date <= $1::date)
		  AND (end_date IS NULL OR end_date >= $1::date)
		ORDER BY created_at, id`, day)
	if err != nil {
		return nil, fmt.Errorf("list campaigns for %s: %w", day, err)
	}
	return campaigns, nil
}

func (r *CampaignRepository) ListLeadsForCampaign(ctx context.Context, id uuid.UUID) ([]model.CampaignLead, error) {
	refs := []model.CampaignLead{}
	err := r.DB.SelectContext(ctx, &refs, `
		SELECT campaign_id, lead_id
		FROM campaign_leads
		WHERE campaign_id = $1
		ORDER BY created_at, lead_id`, id)
	if err != nil {
		return nil, fmt.Errorf("list leads for campaign %s: %w", id, err)
	}
	return refs, nil
}

func (r *CampaignRepository) RecordCallResult(ctx context.Context, id uuid.UUID, outcome model.CallOutcome, failed bool) error {
	failedInc := 0
	if failed {
		failedInc = 1
	}
	_, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns
		SET metrics = jsonb_set(
				jsonb_set(
					COALESCE(metrics, '{}'::jsonb),
					'{outcomes}',
					COALESCE(metrics->'outcomes', '{}'::jsonb)
						|| jsonb_build_object($2::text, COALESCE((metrics->'outcomes'->>$2::text)::int, 0) + 1)
				),
				'{failed_calls}',
				to_jsonb(COALESCE((metrics->>'failed_calls')::int, 0) + $3)
			),
			updated_at = NOW()
		WHERE id = $1`, id, string(outcome), failedInc)
	if err != nil {
		return fmt.Errorf("record call result for campaign %s: %w", id, err)
	}
	return nil
}
