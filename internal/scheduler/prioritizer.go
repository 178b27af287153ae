// Package scheduler holds the pure building blocks of a scheduling pass:
// lead ranking, slot allocation, the frequency budget and the campaign
// status machine. Nothing here performs I/O.
package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

// Prioritize filters and orders the leads a campaign may call on today.
//
// Converted leads and leads whose last outcome was not_interested are never
// called again. The rest are ranked new first, then leads whose retry gap has
// elapsed, then leads that have never been called. A lead called inside the
// gap is not due and is left out. Input order is kept within each tier.
func Prioritize(leads []model.Lead, lastOutcome map[uuid.UUID]model.CallOutcome, gapDays int, today time.Time) []model.Lead {
	var fresh, due, rest []model.Lead

	for _, lead := range leads {
		if lead.Status == model.LeadConverted {
			continue
		}
		if lastOutcome[lead.ID] == model.OutcomeNotInterested {
			continue
		}

		switch {
		case lead.Status == model.LeadNew:
			fresh = append(fresh, lead)
		case lead.LastCalled == nil:
			rest = append(rest, lead)
		case GapElapsed(*lead.LastCalled, gapDays, today):
			due = append(due, lead)
		}
	}

	ranked := make([]model.Lead, 0, len(fresh)+len(due)+len(rest))
	ranked = append(ranked, fresh...)
	ranked = append(ranked, due...)
	return append(ranked, rest...)
}

// GapElapsed reports whether today is on or after lastCalled's date plus
// gapDays. Dates are compared in today's location.
func GapElapsed(lastCalled time.Time, gapDays int, today time.Time) bool {
	next := DateOf(lastCalled.In(today.Location())).AddDate(0, 0, gapDays)
	return !DateOf(today).Before(next)
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
