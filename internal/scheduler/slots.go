package scheduler

import (
	"fmt"
	"time"
)

// Slots returns floor((windowEnd-windowStart)/slotDuration) timestamps,
// starting at windowStart and spaced slotDuration apart. Every slot ends at
// or before windowEnd.
func Slots(windowStart, windowEnd time.Time, slotDuration time.Duration) []time.Time {
	if slotDuration <= 0 || !windowEnd.After(windowStart) {
		return nil
	}

	n := int(windowEnd.Sub(windowStart) / slotDuration)
	slots := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, windowStart.Add(time.Duration(i)*slotDuration))
	}
	return slots
}

// CallWindow resolves "HH:MM" call hours onto date. date's location is used.
func CallWindow(date time.Time, start, end string) (time.Time, time.Time, error) {
	from, err := clockOn(date, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("call_hours_start: %w", err)
	}
	to, err := clockOn(date, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("call_hours_end: %w", err)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("call hours %s-%s are empty", start, end)
	}
	return from, to, nil
}

func clockOn(date time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", hhmm)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}
