package scheduler

import (
	"strings"
	"time"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

// Remaining is the number of calls the campaign may still place.
func Remaining(c *model.Campaign) int {
	return max(0, c.Frequency-c.CallCount)
}

// CallsToday caps Remaining by the schedule's daily limit.
func CallsToday(c *model.Campaign) int {
	return min(Remaining(c), c.Schedule.WithDefaults().MaxDailyCalls)
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Validate returns a ConfigurationError for settings a pass cannot work with.
func Validate(c *model.Campaign) error {
	if c.Frequency <= 0 {
		return appErrors.NewConfigurationError(c.ID, "frequency", "must be positive")
	}
	if c.Gap < 0 {
		return appErrors.NewConfigurationError(c.ID, "gap", "must not be negative")
	}
	s := c.Schedule.WithDefaults()
	if s.MaxDailyCalls < 0 {
		return appErrors.NewConfigurationError(c.ID, "max_daily_calls", "must not be negative")
	}
	for _, day := range s.CallDays {
		if _, ok := weekdays[strings.ToLower(day)]; !ok {
			return appErrors.NewConfigurationError(c.ID, "call_days", "has unknown day "+day)
		}
	}
	if _, _, err := CallWindow(time.Now(), s.CallHoursStart, s.CallHoursEnd); err != nil {
		return appErrors.NewConfigurationError(c.ID, "call_hours", err.Error())
	}
	return nil
}

// InDateRange reports whether date falls inside the campaign's
// [start_date, end_date]. Nil bounds are open.
func InDateRange(c *model.Campaign, date time.Time) bool {
	day := DateOf(date)
	if c.StartDate != nil && day.Before(DateOf(c.StartDate.In(date.Location()))) {
		return false
	}
	if c.EndDate != nil && day.After(DateOf(c.EndDate.In(date.Location()))) {
		return false
	}
	return true
}

// IsCallDay reports whether date's weekday is allowed. An empty list allows
// every day.
func IsCallDay(s model.Schedule, date time.Time) bool {
	if len(s.CallDays) == 0 {
		return true
	}
	for _, day := range s.CallDays {
		if wd, ok := weekdays[strings.ToLower(day)]; ok && wd == date.Weekday() {
			return true
		}
	}
	return false
}
