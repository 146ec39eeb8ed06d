package reminder

import "time"

// Clock provides the current time. All scheduling and execution logic reads
// time through it, never from the wall clock directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (c *systemClock) Now() time.Time {
	return time.Now()
}

// WorkQueue is the external background-work runtime: an at-least-once,
// unordered, possibly-late invoker of registered work. The core only decides
// when and what to register.
type WorkQueue interface {
	// Register arranges for the payload to be delivered at or after triggerAt.
	// Registering again for the same item replaces the earlier registration.
	Register(itemID string, payload []byte, triggerAt time.Time) error

	// Cancel withdraws the registration for an item; a no-op when absent
	Cancel(itemID string) error
}

// Payload is the registration body handed back to the executor on fire. It
// carries enough to detect a stale registration without a store read; the
// store read still happens for the notification content.
type Payload struct {
	ItemID   string `json:"item_id"`
	Expiry   string `json:"expiry"` // YYYY-MM-DD as known at registration
	LeadDays int    `json:"lead_days"`
}

const payloadDateFormat = "2006-01-02"

// Outcome is the tri-state result the executor reports to the runtime
type Outcome int

const (
	// OutcomeSuccess means the work is consumed; do not redeliver
	OutcomeSuccess Outcome = iota
	// OutcomeRetryLater asks the runtime to redeliver with backoff
	OutcomeRetryLater
	// OutcomePermanentFailure means redelivery cannot help
	OutcomePermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryLater:
		return "retry_later"
	case OutcomePermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}
