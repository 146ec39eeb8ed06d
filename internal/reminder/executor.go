package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/curatrack/curatrack/internal/item"
)

// Notifier is the abstract notification surface. Presentation is out of the
// core's hands.
type Notifier interface {
	Notify(title, body, itemID string) error
}

// LogNotifier writes notifications to the log, the default surface for a
// headless deployment
type LogNotifier struct{}

func (n *LogNotifier) Notify(title, body, itemID string) error {
	slog.Info("Reminder notification", "title", title, "body", body, "item_id", itemID)
	return nil
}

// Executor handles fires from the background runtime. Every branch is safe
// under duplicate, late or stale delivery: the item is always re-read and the
// payload treated only as a hint.
type Executor struct {
	db        item.DB
	scheduler *Scheduler
	notifier  Notifier
	clock     Clock
}

// NewExecutor creates an Executor reading the system clock
func NewExecutor(db item.DB, scheduler *Scheduler, notifier Notifier) *Executor {
	return NewExecutorWithDeps(db, scheduler, notifier, &systemClock{})
}

// NewExecutorWithDeps creates an Executor with a custom clock for testing
func NewExecutorWithDeps(db item.DB, scheduler *Scheduler, notifier Notifier, clock Clock) *Executor {
	return &Executor{db: db, scheduler: scheduler, notifier: notifier, clock: clock}
}

// OnFire processes one delivery from the background runtime
func (e *Executor) OnFire(raw []byte) Outcome {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ItemID == "" {
		// Retrying cannot fix a payload that never parses
		slog.Error("Dropping malformed reminder payload", "error", err, "payload", string(raw))
		return OutcomePermanentFailure
	}

	it, err := e.db.GetItem(payload.ItemID)
	if errors.Is(err, item.ErrNotFound) {
		// Item deleted since registration: nothing to do. Sweep any leftover
		// schedule record so it cannot linger as an orphan.
		if cancelErr := e.db.CancelSchedule(payload.ItemID); cancelErr != nil {
			slog.Warn("Failed to sweep schedule for deleted item", "item_id", payload.ItemID, "error", cancelErr)
		}
		return OutcomeSuccess
	}
	if err != nil {
		slog.Warn("Store unavailable during reminder fire", "item_id", payload.ItemID, "error", err)
		return OutcomeRetryLater
	}

	if it.State != item.StateActive {
		// State changed out from under a stale registration; consume it
		if err := e.db.CancelSchedule(it.ID); err != nil {
			return e.retryOrFail(err, it.ID)
		}
		return OutcomeSuccess
	}

	if it.ExpiryDate == nil {
		// Expiry removed after registration; nothing to remind about
		if err := e.db.CancelSchedule(it.ID); err != nil {
			return e.retryOrFail(err, it.ID)
		}
		return OutcomeSuccess
	}

	today := item.Midnight(e.clock.Now())
	leadDays := e.leadDaysFor(it.ID, payload)
	if it.ExpiryDate.After(today) && daysUntil(today, *it.ExpiryDate) > leadDays {
		// Fired before the lead window opened (clock or registration drift).
		// Re-derive the correct future schedule and report success so the
		// stale delivery dies here.
		if _, err := e.scheduler.Reschedule(it.ID, *it.ExpiryDate, leadDays); err != nil {
			return e.retryOrFail(err, it.ID)
		}
		return OutcomeSuccess
	}

	// Due: notify first so a failure before any store write stays retryable,
	// accepting a possible duplicate notification under at-least-once delivery
	if err := e.notifier.Notify(it.Title, notificationBody(it, today), it.ID); err != nil {
		slog.Warn("Notification surface failed", "item_id", it.ID, "error", err)
		return OutcomeRetryLater
	}

	if err := e.db.SetScheduleStatus(it.ID, item.ScheduleFired); err != nil && !errors.Is(err, item.ErrNotFound) {
		return e.retryOrFail(err, it.ID)
	}
	if !it.ExpiryDate.After(today) {
		// Already past expiry: this item is done
		if _, err := e.db.TransitionItem(it.ID, item.StateArchived); err != nil {
			return e.retryOrFail(err, it.ID)
		}
	}

	return OutcomeSuccess
}

// leadDaysFor prefers the stored schedule's lead time over the payload's,
// which may predate a reschedule
func (e *Executor) leadDaysFor(itemID string, payload Payload) int {
	if sched, err := e.db.GetSchedule(itemID); err == nil {
		return sched.LeadDays
	}
	return payload.LeadDays
}

func (e *Executor) retryOrFail(err error, itemID string) Outcome {
	if item.IsTransient(err) {
		slog.Warn("Transient store failure during reminder fire", "item_id", itemID, "error", err)
		return OutcomeRetryLater
	}
	// Contract errors will come back identical on redelivery
	slog.Error("Unrecoverable failure during reminder fire", "item_id", itemID, "error", err)
	return OutcomePermanentFailure
}

func notificationBody(it *item.Item, today time.Time) string {
	if it.ExpiryDate.After(today) {
		return fmt.Sprintf("%s expires on %s", it.Title, it.ExpiryDate.Format("Jan 2, 2006"))
	}
	return fmt.Sprintf("%s expired on %s", it.Title, it.ExpiryDate.Format("Jan 2, 2006"))
}

// daysUntil counts whole days from midnight from to midnight to
func daysUntil(from, to time.Time) int {
	return int(item.Midnight(to).Sub(item.Midnight(from)).Hours() / 24)
}
