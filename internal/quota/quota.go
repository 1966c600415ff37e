// Package quota derives remaining daily send capacity and time-to-reset
// from the Record Store's daily counters. It holds no state of its own.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BetaZoneOnline/fb-sender/internal/db"
)

// CounterStore is the slice of the Record Store the tracker reads.
type CounterStore interface {
	DailySnapshot(ctx context.Context, profileID uuid.UUID, day string) (db.DailyCounter, error)
}

// Status is one quota snapshot for a profile.
type Status struct {
	Day            string `json:"day"`
	Limit          int    `json:"limit"`
	Success        int    `json:"success"`
	FailPerm       int    `json:"fail_perm"`
	Remaining      int    `json:"remaining"`
	SecondsToReset int    `json:"seconds_to_reset"`
}

// Tracker computes quota status for a profile's configured timezone.
type Tracker struct {
	store CounterStore
}

// NewTracker creates a tracker over the given counter store.
func NewTracker(store CounterStore) *Tracker {
	return &Tracker{store: store}
}

// Remaining returns daily_limit minus the day's terminal outcomes
// (SUCCESS and FAIL_PERM both consume the cap; unresolved retryable
// failures do not), floored at zero.
func (t *Tracker) Remaining(ctx context.Context, profile db.Profile, now time.Time) (int, error) {
	status, err := t.Status(ctx, profile, now)
	if err != nil {
		return 0, err
	}
	return status.Remaining, nil
}

// Status returns the full quota snapshot for the current local day.
func (t *Tracker) Status(ctx context.Context, profile db.Profile, now time.Time) (Status, error) {
	day, err := db.LocalDay(profile.Timezone, now)
	if err != nil {
		return Status{}, err
	}

	counter, err := t.store.DailySnapshot(ctx, profile.ID, day)
	if err != nil {
		return Status{}, fmt.Errorf("daily snapshot: %w", err)
	}

	reset, err := SecondsToReset(profile.Timezone, now)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Day:            day,
		Limit:          profile.DailyLimit,
		Success:        counter.Success,
		FailPerm:       counter.FailPerm,
		Remaining:      Remaining(profile.DailyLimit, counter),
		SecondsToReset: reset,
	}, nil
}

// Remaining is the pure counting rule: limit minus terminal outcomes,
// never negative.
func Remaining(limit int, counter db.DailyCounter) int {
	remaining := limit - (counter.Success + counter.FailPerm)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SecondsToReset returns the whole seconds until the next local midnight
// in the given IANA timezone.
func SecondsToReset(tz string, now time.Time) (int, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return int(midnight.Sub(local) / time.Second), nil
}
