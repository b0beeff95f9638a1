package video

import (
	"fmt"
	"time"
)

// Plan describes how batch schedule slots are generated: evenly spaced by
// Interval, or once a day at the DailyAt wall time when it is set.
type Plan struct {
	Interval time.Duration
	DailyAt  string // "15:04"
}

// PlanBatch computes count successive schedule slots after start, skipping
// any slot already present in taken. Slots are compared at minute
// granularity, so two videos scheduled within the same batch never share a
// slot.
func PlanBatch(plan Plan, start time.Time, count int, taken []time.Time) ([]time.Time, error) {
	if count <= 0 {
		return nil, nil
	}

	var first time.Time
	var advance func(time.Time) time.Time

	switch {
	case plan.DailyAt != "":
		at, err := time.Parse("15:04", plan.DailyAt)
		if err != nil {
			return nil, fmt.Errorf("invalid daily_at %q: %w", plan.DailyAt, err)
		}

		first = time.Date(start.Year(), start.Month(), start.Day(), at.Hour(), at.Minute(), 0, 0, start.Location())
		if !first.After(start) {
			first = first.AddDate(0, 0, 1)
		}
		advance = func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }

	case plan.Interval > 0:
		first = start.Add(plan.Interval)
		advance = func(t time.Time) time.Time { return t.Add(plan.Interval) }

	default:
		return nil, fmt.Errorf("schedule plan requires an interval or a daily time")
	}

	occupied := make(map[int64]bool, len(taken))
	for _, ts := range taken {
		occupied[ts.Truncate(time.Minute).Unix()] = true
	}

	slots := make([]time.Time, 0, count)
	for candidate := first; len(slots) < count; candidate = advance(candidate) {
		key := candidate.Truncate(time.Minute).Unix()
		if occupied[key] {
			continue
		}
		occupied[key] = true
		slots = append(slots, candidate)
	}

	return slots, nil
}
