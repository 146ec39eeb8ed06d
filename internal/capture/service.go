package capture

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/curatrack/curatrack/internal/extract"
	"github.com/curatrack/curatrack/internal/item"
	"github.com/curatrack/curatrack/internal/ocr"
	"github.com/curatrack/curatrack/internal/prefs"
	"github.com/curatrack/curatrack/internal/reminder"
)

// storeAttempts bounds internal retries of transient store failures on the
// interactive path; the executor path delegates retrying to the runtime
const storeAttempts = 3

// ScanResult is a freshly captured draft plus everything the extractor found,
// so the user can pick a different candidate before confirming
type ScanResult struct {
	Item       *item.Item              `json:"item"`
	Candidates []extract.DateCandidate `json:"candidates"`
}

// Service runs the capture-to-record pipeline and the item lifecycle
type Service struct {
	db         item.DB
	recognizer ocr.Recognizer
	storage    Storage
	builder    *item.Builder
	scheduler  *reminder.Scheduler
	prefs      *prefs.Preferences
	clock      reminder.Clock
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewService creates a new Service with the production builder and clock
func NewService(db item.DB, recognizer ocr.Recognizer, storage Storage, scheduler *reminder.Scheduler, preferences *prefs.Preferences) *Service {
	return NewServiceWithDeps(db, recognizer, storage, scheduler, preferences, item.NewBuilder(), wallClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db item.DB, recognizer ocr.Recognizer, storage Storage, scheduler *reminder.Scheduler, preferences *prefs.Preferences, builder *item.Builder, clock reminder.Clock) *Service {
	return &Service{
		db:         db,
		recognizer: recognizer,
		storage:    storage,
		builder:    builder,
		scheduler:  scheduler,
		prefs:      preferences,
		clock:      clock,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length; phone-generated names are long and messy
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "scan"
	}

	return base + ext
}

// ScanLabel runs a captured image through recognition and extraction and
// persists the result as a draft item awaiting user confirmation
func (s *Service) ScanLabel(ctx context.Context, filename string, data []byte, contentType string) (*ScanResult, error) {
	lines, err := s.recognizer.Recognize(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to recognize label",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("recognizing label: %w", err)
	}

	extraction := extract.Extract(lines, s.prefs.Locale())

	built, err := s.builder.Build(extraction, extract.SourceText(lines), item.Overrides{})
	if err != nil {
		return nil, fmt.Errorf("building item: %w", err)
	}

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", built.ID, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving scan image: %w", err)
	}
	built.ImageFile = savedPath

	if err := s.withRetry(func() error { return s.db.CreateItem(built) }); err != nil {
		// Clean up the saved image since the item never materialized
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete scan image", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("saving item: %w", err)
	}

	return &ScanResult{Item: built, Candidates: extraction.ExpiryCandidates}, nil
}

// ConfirmItem applies the user's final edits, activates the item and
// schedules its reminder. A negative leadDays selects the preference default.
func (s *Service) ConfirmItem(id string, overrides item.Overrides, leadDays int) (*item.Item, error) {
	existing, err := s.db.GetItem(id)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	merged, err := s.builder.Merge(existing, overrides)
	if err != nil {
		return nil, fmt.Errorf("merging edits: %w", err)
	}
	if merged.ExpiryDate == nil {
		return nil, &item.ValidationError{Field: "expiryDate", Reason: "required before a reminder can be scheduled"}
	}

	if _, err := s.db.UpdateItem(merged); err != nil {
		return nil, fmt.Errorf("updating item: %w", err)
	}
	confirmed, err := s.db.TransitionItem(id, item.StateActive)
	if err != nil {
		return nil, fmt.Errorf("activating item: %w", err)
	}

	if leadDays < 0 {
		leadDays = s.prefs.LeadDays
	}
	if _, err := s.scheduler.Schedule(id, *merged.ExpiryDate, leadDays); err != nil {
		return nil, fmt.Errorf("scheduling reminder: %w", err)
	}

	return confirmed, nil
}

// EditItem applies user edits to an item. Editing an active item's expiry
// re-derives its reminder.
func (s *Service) EditItem(id string, overrides item.Overrides) (*item.Item, error) {
	existing, err := s.db.GetItem(id)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	merged, err := s.builder.Merge(existing, overrides)
	if err != nil {
		return nil, fmt.Errorf("merging edits: %w", err)
	}
	updated, err := s.db.UpdateItem(merged)
	if err != nil {
		return nil, fmt.Errorf("updating item: %w", err)
	}

	if updated.State == item.StateActive && overrides.ExpiryDate != nil {
		leadDays := s.prefs.LeadDays
		if sched, err := s.db.GetSchedule(id); err == nil {
			leadDays = sched.LeadDays
		}
		if _, err := s.scheduler.Reschedule(id, *updated.ExpiryDate, leadDays); err != nil {
			return nil, fmt.Errorf("rescheduling reminder: %w", err)
		}
	}

	return updated, nil
}

// DismissItem archives an item; any pending reminder is cancelled with it
func (s *Service) DismissItem(id string) (*item.Item, error) {
	archived, err := s.db.TransitionItem(id, item.StateArchived)
	if err != nil {
		return nil, fmt.Errorf("archiving item: %w", err)
	}
	// Store-side cancellation happened inside the transition; this drops the
	// runtime registration
	if err := s.scheduler.Cancel(id); err != nil {
		slog.Warn("Failed to cancel reminder registration", "item_id", id, "error", err)
	}
	return archived, nil
}

// DeleteItem removes an item, its schedule, its runtime registration and its
// stored scan image. Deleting an absent item is a no-op success.
func (s *Service) DeleteItem(id string) error {
	existing, err := s.db.GetItem(id)
	if err == nil && existing.ImageFile != "" {
		if delErr := s.storage.Delete(existing.ImageFile); delErr != nil {
			slog.Warn("Failed to delete scan image", "filename", existing.ImageFile, "error", delErr)
		}
	}

	if err := s.withRetry(func() error { return s.db.DeleteItem(id) }); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if err := s.scheduler.Cancel(id); err != nil {
		slog.Warn("Failed to cancel reminder registration", "item_id", id, "error", err)
	}
	return nil
}

// GetItem retrieves an item by id
func (s *Service) GetItem(id string) (*item.Item, error) {
	it, err := s.db.GetItem(id)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return it, nil
}

// ListItems returns all items
func (s *Service) ListItems() ([]*item.Item, error) {
	items, err := s.db.ListItems()
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

// Upcoming returns active items expiring within the given number of days,
// soonest first. Zero selects the preference default window.
func (s *Service) Upcoming(days int) ([]*item.Item, error) {
	if days <= 0 {
		days = s.prefs.UpcomingDays
	}
	items, err := s.db.UpcomingItems(s.clock.Now(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("querying upcoming items: %w", err)
	}
	return items, nil
}

// ReExtract re-runs field extraction over an item's stored source text. The
// scan is never re-recognized; this is the audit path for tuning edits.
func (s *Service) ReExtract(id string) (*extract.Result, error) {
	it, err := s.db.GetItem(id)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	if it.SourceText == "" {
		return nil, &item.ValidationError{Field: "sourceText", Reason: "item has no stored scan text"}
	}
	result := extract.Extract(extract.LinesFromText(it.SourceText), s.prefs.Locale())
	return &result, nil
}

// GetItemImage retrieves the stored scan image for an item
func (s *Service) GetItemImage(id string) ([]byte, error) {
	it, err := s.db.GetItem(id)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	if it.ImageFile == "" {
		return nil, fmt.Errorf("image for item %s: %w", id, item.ErrNotFound)
	}
	data, err := s.storage.Get(it.ImageFile)
	if err != nil {
		return nil, fmt.Errorf("getting scan image: %w", err)
	}
	return data, nil
}

// withRetry retries transient store failures a bounded number of times before
// surfacing them
func (s *Service) withRetry(op func() error) error {
	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		err = op()
		if err == nil || !item.IsTransient(err) {
			return err
		}
		slog.Warn("Retrying transient store failure", "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return err
}
