package item

import "time"

// State is the Item lifecycle state
type State string

const (
	// StateDraft is an extracted item not yet confirmed by the user
	StateDraft State = "draft"
	// StateActive is a confirmed item eligible for reminders
	StateActive State = "active"
	// StateArchived is a past-expiry or dismissed item; no further reminders
	StateArchived State = "archived"
)

// ScheduleStatus is the lifecycle state of a reminder schedule
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleFired     ScheduleStatus = "fired"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// Item represents a tracked scanned object with an optional expiry date
type Item struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"` // local midnight, no time-of-day
	SourceText string     `json:"source_text,omitempty"` // raw recognized text, immutable once set
	ImageFile  string     `json:"image_file,omitempty"`  // stored scan image, if any
	State      State      `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Schedule maps an Item to a future reminder trigger. TriggerAt is always
// re-derivable from (ExpiryDate, LeadDays), so a missed run can recompute it
// without drift.
type Schedule struct {
	ItemID    string         `json:"item_id"`
	TriggerAt time.Time      `json:"trigger_at"`
	LeadDays  int            `json:"lead_days"`
	Status    ScheduleStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Midnight truncates a timestamp to local midnight, the canonical form for
// expiry dates.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
