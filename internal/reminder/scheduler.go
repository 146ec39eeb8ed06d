package reminder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/curatrack/curatrack/internal/item"
)

// Scheduler derives reminder trigger times from expiry dates and keeps the
// store and the background runtime in agreement about them.
type Scheduler struct {
	db    item.DB
	queue WorkQueue
	clock Clock
}

// NewScheduler creates a Scheduler reading the system clock
func NewScheduler(db item.DB, queue WorkQueue) *Scheduler {
	return NewSchedulerWithDeps(db, queue, &systemClock{})
}

// NewSchedulerWithDeps creates a Scheduler with a custom clock for testing
func NewSchedulerWithDeps(db item.DB, queue WorkQueue, clock Clock) *Scheduler {
	return &Scheduler{db: db, queue: queue, clock: clock}
}

// TriggerAt computes the reminder trigger for an expiry date and lead time:
// midnight of the expiry day minus leadDays, clamped to now when already
// past. A just-missed reminder is surfaced late rather than dropped.
func (s *Scheduler) TriggerAt(expiry time.Time, leadDays int) time.Time {
	trigger := item.Midnight(expiry).AddDate(0, 0, -leadDays)
	if now := s.clock.Now(); trigger.Before(now) {
		return now
	}
	return trigger
}

// Schedule registers the single pending reminder for an item. Calling it
// again replaces any prior pending schedule atomically, so duplicate calls
// leave exactly one pending schedule.
func (s *Scheduler) Schedule(itemID string, expiry time.Time, leadDays int) (*item.Schedule, error) {
	if leadDays < 0 {
		return nil, &item.ValidationError{Field: "leadDays", Reason: "must not be negative"}
	}

	sched := &item.Schedule{
		ItemID:    itemID,
		TriggerAt: s.TriggerAt(expiry, leadDays),
		LeadDays:  leadDays,
	}
	if err := s.db.ReplacePendingSchedule(sched); err != nil {
		return nil, fmt.Errorf("storing schedule: %w", err)
	}

	payload, err := json.Marshal(Payload{
		ItemID:   itemID,
		Expiry:   item.Midnight(expiry).Format(payloadDateFormat),
		LeadDays: leadDays,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	if err := s.queue.Register(itemID, payload, sched.TriggerAt); err != nil {
		// Roll the store back so a pending schedule never exists without a
		// matching registration
		if cancelErr := s.db.CancelSchedule(itemID); cancelErr != nil {
			slog.Error("Failed to cancel schedule after registration failure", "item_id", itemID, "error", cancelErr)
		}
		return nil, fmt.Errorf("registering work: %w", err)
	}

	return sched, nil
}

// Reschedule replaces the pending reminder with one derived from the new
// expiry date and lead time
func (s *Scheduler) Reschedule(itemID string, newExpiry time.Time, newLeadDays int) (*item.Schedule, error) {
	return s.Schedule(itemID, newExpiry, newLeadDays)
}

// Cancel withdraws an item's pending reminder. Cancelling when nothing is
// pending is a no-op success.
func (s *Scheduler) Cancel(itemID string) error {
	if err := s.db.CancelSchedule(itemID); err != nil {
		return fmt.Errorf("cancelling schedule: %w", err)
	}
	if err := s.queue.Cancel(itemID); err != nil {
		return fmt.Errorf("cancelling registration: %w", err)
	}
	return nil
}
