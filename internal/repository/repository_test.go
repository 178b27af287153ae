package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("EAT", 3*60*60)
	from, to := dayBounds(time.Date(2025, 3, 18, 19, 30, 0, 0, loc))

	assert.Equal(t, time.Date(2025, 3, 18, 0, 0, 0, 0, loc), from)
	assert.Equal(t, 24*time.Hour, to.Sub(from))
}

// openTestDB connects to TEST_DATABASE_URL and applies seed/schema.sql.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../seed/schema.sql")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, string(schema))
	require.NoError(t, err)
	return db
}

func TestRepositoriesIntegration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	campaigns := &CampaignRepository{DB: db}
	leads := &LeadRepository{DB: db}
	calls := &CallRepository{DB: db}

	branch := uuid.New()
	campaignID := uuid.New()
	newLead, oldLead := uuid.New(), uuid.New()

	_, err := db.ExecContext(ctx, `
		INSERT INTO leads (id, branch_id, first_name, phone, lead_status, last_called)
		VALUES ($1, $3, 'A', '+1', 'new', NULL), ($2, $3, 'B', '+2', 'contacted', NOW() - INTERVAL '9 days')`,
		newLead, oldLead, branch)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO campaigns (id, gym_id, branch_id, name, frequency, gap, start_date)
		VALUES ($1, $2, $3, 'it', 3, 7, CURRENT_DATE - 1)`, campaignID, uuid.New(), branch)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO campaign_leads (campaign_id, lead_id) VALUES ($1, $2), ($1, $3)`,
		campaignID, newLead, oldLead)
	require.NoError(t, err)

	t.Run("campaign reads", func(t *testing.T) {
		c, err := campaigns.Get(ctx, campaignID)
		require.NoError(t, err)
		assert.Equal(t, model.CampaignNotStarted, c.Status)
		assert.Equal(t, 3, c.Frequency)

		_, err = campaigns.Get(ctx, uuid.New())
		assert.True(t, appErrors.IsNotFound(err))

		active, err := campaigns.ListActiveForDate(ctx, time.Now())
		require.NoError(t, err)
		var found bool
		for _, a := range active {
			found = found || a.ID == campaignID
		}
		assert.True(t, found)

		refs, err := campaigns.ListLeadsForCampaign(ctx, campaignID)
		require.NoError(t, err)
		assert.Len(t, refs, 2)
	})

	t.Run("optimistic update", func(t *testing.T) {
		zero, two := 0, 2
		active := model.CampaignActive
		c, err := campaigns.Update(ctx, campaignID, model.CampaignUpdate{
			Status: &active, CallCount: &two, ExpectedCallCount: &zero,
			PassMetrics: &model.PassMetrics{ScheduledCalls: 2, Errors: 1, LastScheduledDate: "2025-03-18"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, c.CallCount)
		assert.Equal(t, 2, c.Metrics.ScheduledCalls)
		assert.Equal(t, 1, c.Metrics.Errors)
		assert.Equal(t, "2025-03-18", c.Metrics.LastScheduledDate)

		three := 3
		_, err = campaigns.Update(ctx, campaignID, model.CampaignUpdate{CallCount: &three, ExpectedCallCount: &zero})
		assert.ErrorIs(t, err, appErrors.ErrConcurrentPass)

		require.NoError(t, campaigns.RecordCallResult(ctx, campaignID, model.OutcomeInterested, false))
		require.NoError(t, campaigns.RecordCallResult(ctx, campaignID, model.OutcomeNoAnswer, true))
		c, err = campaigns.Get(ctx, campaignID)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Metrics.Outcomes[string(model.OutcomeInterested)])
		assert.Equal(t, 1, c.Metrics.FailedCalls)

		// A later pass adds to its own counters and leaves call results alone.
		four := 4
		c, err = campaigns.Update(ctx, campaignID, model.CampaignUpdate{
			CallCount: &four, ExpectedCallCount: &two,
			PassMetrics: &model.PassMetrics{ScheduledCalls: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, 4, c.Metrics.ScheduledCalls)
		assert.Equal(t, 1, c.Metrics.Errors)
		assert.Equal(t, "2025-03-18", c.Metrics.LastScheduledDate)
		assert.Equal(t, 1, c.Metrics.Outcomes[string(model.OutcomeInterested)])
		assert.Equal(t, 1, c.Metrics.FailedCalls)
	})

	t.Run("leads", func(t *testing.T) {
		got, err := leads.GetMany(ctx, []uuid.UUID{oldLead, uuid.New(), newLead})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, oldLead, got[0].ID)

		require.NoError(t, leads.MarkCalled(ctx, newLead, time.Now()))
		l, err := leads.Get(ctx, newLead)
		require.NoError(t, err)
		assert.Equal(t, model.LeadContacted, l.Status)
		assert.NotNil(t, l.LastCalled)
	})

	t.Run("calls", func(t *testing.T) {
		today := time.Now()
		require.NoError(t, calls.RecordScheduledCalls(ctx, []model.ScheduledCall{
			{CampaignID: campaignID, LeadID: newLead, BranchID: branch, ScheduledTime: today, JobID: uuid.NewString()},
		}))
		scheduled, err := calls.ScheduledCallsForBranchOnDate(ctx, branch, today)
		require.NoError(t, err)
		require.Len(t, scheduled, 1)

		call := &model.CallRecord{LeadID: oldLead, CampaignID: &campaignID, BranchID: branch, Status: model.CallInProgress}
		require.NoError(t, calls.CreateCall(ctx, call))
		require.NoError(t, calls.SetPollJob(ctx, call.ID, "poll-1"))

		inProgress, err := calls.InProgressCallsForCampaign(ctx, campaignID)
		require.NoError(t, err)
		require.Len(t, inProgress, 1)
		require.NotNil(t, inProgress[0].PollJobID)
		assert.Equal(t, "poll-1", *inProgress[0].PollJobID)

		has, err := calls.HasCallOnDate(ctx, oldLead, campaignID, today)
		require.NoError(t, err)
		assert.True(t, has)

		require.NoError(t, calls.CompleteCall(ctx, call.ID, model.CallCompleted, model.OutcomeNotInterested))
		outcome, err := leads.LastOutcome(ctx, oldLead)
		require.NoError(t, err)
		require.NotNil(t, outcome)
		assert.Equal(t, model.OutcomeNotInterested, *outcome)

		n, err := calls.CancelScheduledCalls(ctx, campaignID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
