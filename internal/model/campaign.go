// internal/model/campaign.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignNotStarted CampaignStatus = "not_started"
	CampaignActive     CampaignStatus = "active"
	CampaignPaused     CampaignStatus = "paused"
	CampaignCancelled  CampaignStatus = "cancelled"
	CampaignCompleted  CampaignStatus = "completed"
)

// Defaults applied when a campaign schedule leaves a field empty.
const (
	DefaultCallHoursStart = "18:00"
	DefaultCallHoursEnd   = "21:00"
	DefaultMaxDailyCalls  = 10
)

type Campaign struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	GymID     uuid.UUID      `db:"gym_id" json:"gym_id"`
	BranchID  uuid.UUID      `db:"branch_id" json:"branch_id"`
	Name      string         `db:"name" json:"name"`
	Frequency int            `db:"frequency" json:"frequency"`
	Gap       int            `db:"gap" json:"gap"`
	Schedule  Schedule       `db:"schedule" json:"schedule"`
	Status    CampaignStatus `db:"campaign_status" json:"campaign_status"`
	CallCount int            `db:"call_count" json:"call_count"`
	StartDate *time.Time     `db:"start_date" json:"start_date,omitempty"`
	EndDate   *time.Time     `db:"end_date" json:"end_date,omitempty"`
	Metrics   Metrics        `db:"metrics" json:"metrics"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// Schedule is the per-campaign calling calendar, stored as JSONB.
type Schedule struct {
	CallDays       []string `json:"call_days"`
	CallHoursStart string   `json:"call_hours_start"`
	CallHoursEnd   string   `json:"call_hours_end"`
	MaxDailyCalls  int      `json:"max_daily_calls"`
}

// WithDefaults fills empty fields with the service defaults.
func (s Schedule) WithDefaults() Schedule {
	if s.CallHoursStart == "" {
		s.CallHoursStart = DefaultCallHoursStart
	}
	if s.CallHoursEnd == "" {
		s.CallHoursEnd = DefaultCallHoursEnd
	}
	if s.MaxDailyCalls == 0 {
		s.MaxDailyCalls = DefaultMaxDailyCalls
	}
	return s
}

func (s Schedule) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *Schedule) Scan(src any) error {
	return scanJSON(src, s)
}

// Metrics holds the free-form counters the scheduler and workers maintain.
type Metrics struct {
	ScheduledCalls    int            `json:"scheduled_calls"`
	LastScheduledDate string         `json:"last_scheduled_date,omitempty"`
	Outcomes          map[string]int `json:"outcomes"`
	Errors            int            `json:"errors"`
	FailedCalls       int            `json:"failed_calls"`
}

func (m Metrics) Value() (driver.Value, error) {
	if m.Outcomes == nil {
		m.Outcomes = map[string]int{}
	}
	return json.Marshal(m)
}

func (m *Metrics) Scan(src any) error {
	return scanJSON(src, m)
}

// PassMetrics is what a scheduling pass adds to Metrics. The counters are
// increments; outcomes and failed_calls belong to the call worker and are
// never written by a pass.
type PassMetrics struct {
	ScheduledCalls    int
	Errors            int
	LastScheduledDate string
}

// CampaignUpdate lists the fields a single Update call may change. Nil
// pointers are left untouched. ExpectedCallCount and ExpectedStatus turn
// the write into a compare-and-set.
type CampaignUpdate struct {
	Status            *CampaignStatus
	CallCount         *int
	PassMetrics       *PassMetrics
	EndDate           *time.Time
	ExpectedCallCount *int
	ExpectedStatus    *CampaignStatus
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
