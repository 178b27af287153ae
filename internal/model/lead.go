// internal/model/lead.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadContacted LeadStatus = "contacted"
	LeadQualified LeadStatus = "qualified"
	LeadConverted LeadStatus = "converted"
	LeadLost      LeadStatus = "lost"
)

type Lead struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	BranchID   uuid.UUID  `db:"branch_id" json:"branch_id"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	Phone      string     `db:"phone" json:"phone"`
	Status     LeadStatus `db:"lead_status" json:"lead_status"`
	LastCalled *time.Time `db:"last_called" json:"last_called,omitempty"`
}

// CampaignLead associates a lead with a campaign.
type CampaignLead struct {
	CampaignID uuid.UUID `db:"campaign_id" json:"campaign_id"`
	LeadID     uuid.UUID `db:"lead_id" json:"lead_id"`
}
