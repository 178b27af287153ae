package scheduler

import (
	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

var transitions = map[model.CampaignStatus][]model.CampaignStatus{
	model.CampaignNotStarted: {model.CampaignActive, model.CampaignCompleted, model.CampaignCancelled},
	model.CampaignActive:     {model.CampaignPaused, model.CampaignCompleted, model.CampaignCancelled},
	model.CampaignPaused:     {model.CampaignActive, model.CampaignCompleted, model.CampaignCancelled},
	model.CampaignCompleted:  {model.CampaignCancelled},
	model.CampaignCancelled:  nil,
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to model.CampaignStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the new status.
func Transition(from, to model.CampaignStatus) (model.CampaignStatus, error) {
	if !CanTransition(from, to) {
		return from, appErrors.NewInvalidTransition(string(from), string(to))
	}
	return to, nil
}

// Schedulable reports whether a new scheduling pass may run. Active
// campaigns already have a pass's calls in flight.
func Schedulable(status model.CampaignStatus) bool {
	return status == model.CampaignNotStarted || status == model.CampaignPaused
}

// AfterPass returns the status a campaign moves to once a pass dispatched
// `dispatched` calls and call_count became newCount. ok is false when the
// status does not change.
func AfterPass(c *model.Campaign, dispatched, newCount int) (status model.CampaignStatus, ok bool) {
	if newCount >= c.Frequency && CanTransition(c.Status, model.CampaignCompleted) {
		return model.CampaignCompleted, true
	}
	if dispatched > 0 && CanTransition(c.Status, model.CampaignActive) {
		return model.CampaignActive, true
	}
	return c.Status, false
}
