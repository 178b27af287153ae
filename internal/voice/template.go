package voice

import (
	"strings"

	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

// RenderTemplate replaces {key} placeholders. Unknown keys are left as is.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// Variables are the per-call values the voice agent's prompt can reference.
func Variables(lead *model.Lead, campaign *model.Campaign) map[string]string {
	first := lead.FirstName
	if first == "" {
		first = "there"
	}
	return map[string]string{
		"first_name":    first,
		"last_name":     lead.LastName,
		"lead_status":   string(lead.Status),
		"campaign_name": campaign.Name,
	}
}

// NewCallRequest builds the provider request for one lead of a campaign.
// A non-empty greeting template is rendered into the begin_message variable.
func NewCallRequest(from, agentID, greeting string, lead *model.Lead, campaign *model.Campaign) CallRequest {
	vars := Variables(lead, campaign)
	if greeting != "" {
		vars["begin_message"] = RenderTemplate(greeting, vars)
	}
	return CallRequest{
		FromNumber: from,
		ToNumber:   lead.Phone,
		AgentID:    agentID,
		Variables:  vars,
		Metadata: map[string]string{
			"lead_id":     lead.ID.String(),
			"campaign_id": campaign.ID.String(),
			"gym_id":      campaign.GymID.String(),
			"branch_id":   lead.BranchID.String(),
		},
	}
}
