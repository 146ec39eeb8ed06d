package reminder

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curatrack/curatrack/internal/item"
)

// Handler receives fires from the runner. The Executor is the production
// handler; the indirection breaks the construction cycle between the runner,
// the scheduler and the executor.
type Handler interface {
	OnFire(payload []byte) Outcome
}

// Runner is the in-process WorkQueue adapter. A real deployment behind an OS
// scheduler would replace it with glue to that runtime; the contract it
// serves is the same at-least-once one.
type Runner struct {
	mu          sync.Mutex
	timers      map[string]*time.Timer
	handler     Handler
	clock       Clock
	maxAttempts int
	retryDelay  time.Duration
	stopped     bool
}

// NewRunner creates a Runner with the given retry policy. Retries beyond
// maxAttempts are abandoned; the schedule stays pending in the store and is
// re-registered by Rehydrate on the next start.
func NewRunner(maxAttempts int, retryDelay time.Duration) *Runner {
	return NewRunnerWithDeps(maxAttempts, retryDelay, &systemClock{})
}

// NewRunnerWithDeps creates a Runner with a custom clock for testing
func NewRunnerWithDeps(maxAttempts int, retryDelay time.Duration, clock Clock) *Runner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Runner{
		timers:      make(map[string]*time.Timer),
		clock:       clock,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// Bind attaches the fire handler. Must be called before any timer fires.
func (r *Runner) Bind(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// Register arms a timer for the item, replacing any existing one
func (r *Runner) Register(itemID string, payload []byte, triggerAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("runner is stopped")
	}

	if t, ok := r.timers[itemID]; ok {
		t.Stop()
	}

	delay := triggerAt.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}
	r.timers[itemID] = time.AfterFunc(delay, func() {
		r.fire(itemID, payload, 1)
	})
	return nil
}

// Cancel disarms the item's timer; a no-op when none is armed
func (r *Runner) Cancel(itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[itemID]; ok {
		t.Stop()
		delete(r.timers, itemID)
	}
	return nil
}

// Stop disarms all timers
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// Rehydrate re-registers all pending schedules from the store, recovering
// registrations lost to a process restart. Trigger times are recomputed from
// the stored derivation, so a restart cannot introduce drift.
func (r *Runner) Rehydrate(db item.DB, scheduler *Scheduler) error {
	pending, err := db.ListPendingSchedules()
	if err != nil {
		return fmt.Errorf("listing pending schedules: %w", err)
	}

	for _, sched := range pending {
		it, err := db.GetItem(sched.ItemID)
		if err != nil {
			// A pending schedule without an item is corruption outside the
			// cascade path: clean it up rather than fail the start
			slog.Warn("Sweeping orphaned schedule", "item_id", sched.ItemID, "error", err)
			if cancelErr := db.CancelSchedule(sched.ItemID); cancelErr != nil {
				slog.Error("Failed to sweep orphaned schedule", "item_id", sched.ItemID, "error", cancelErr)
			}
			continue
		}
		if it.State != item.StateActive || it.ExpiryDate == nil {
			slog.Warn("Sweeping stale schedule", "item_id", sched.ItemID, "state", string(it.State))
			if cancelErr := db.CancelSchedule(sched.ItemID); cancelErr != nil {
				slog.Error("Failed to sweep stale schedule", "item_id", sched.ItemID, "error", cancelErr)
			}
			continue
		}
		if _, err := scheduler.Schedule(it.ID, *it.ExpiryDate, sched.LeadDays); err != nil {
			slog.Error("Failed to rehydrate schedule", "item_id", it.ID, "error", err)
		}
	}

	return nil
}

func (r *Runner) fire(itemID string, payload []byte, attempt int) {
	r.mu.Lock()
	handler := r.handler
	delete(r.timers, itemID)
	r.mu.Unlock()

	if handler == nil {
		slog.Error("Timer fired with no handler bound", "item_id", itemID)
		return
	}

	outcome := handler.OnFire(payload)
	switch outcome {
	case OutcomeRetryLater:
		if attempt >= r.maxAttempts {
			slog.Error("Giving up on reminder delivery", "item_id", itemID, "attempts", attempt)
			return
		}
		delay := r.retryDelay * time.Duration(1<<(attempt-1))
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		r.timers[itemID] = time.AfterFunc(delay, func() {
			r.fire(itemID, payload, attempt+1)
		})
		r.mu.Unlock()
	case OutcomePermanentFailure:
		slog.Error("Reminder delivery failed permanently", "item_id", itemID)
	}
}
