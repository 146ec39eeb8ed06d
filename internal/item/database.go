package item

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	itemBucketName     = "items"
	scheduleBucketName = "schedules"
)

// TimeSource provides the current time. The store stamps CreatedAt/UpdatedAt
// itself so callers cannot produce non-monotonic timestamps.
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// DB defines the interface for item and schedule persistence. Combined
// item-plus-schedule mutations are atomic: no reader ever observes a Pending
// schedule pointing at a missing or inactive item.
type DB interface {
	// CreateItem stores a new item, failing with ErrDuplicate on an existing id
	CreateItem(item *Item) error

	// UpdateItem fully replaces an item, failing with ErrNotFound if absent
	UpdateItem(item *Item) (*Item, error)

	// GetItem retrieves an item by id
	GetItem(id string) (*Item, error)

	// DeleteItem removes an item and cancels any pending schedule for it.
	// Deleting an absent id is a no-op success.
	DeleteItem(id string) error

	// ListItems returns all items
	ListItems() ([]*Item, error)

	// UpcomingItems returns active items whose expiry falls within the window
	// starting now, ordered by ascending expiry date
	UpcomingItems(now time.Time, within time.Duration) ([]*Item, error)

	// TransitionItem moves an item to a new lifecycle state. Leaving the
	// active state cancels any pending schedule in the same transaction.
	TransitionItem(id string, to State) (*Item, error)

	// ReplacePendingSchedule registers sched as the single pending schedule
	// for its item, cancelling any prior pending one atomically
	ReplacePendingSchedule(sched *Schedule) error

	// GetSchedule retrieves the schedule record for an item
	GetSchedule(itemID string) (*Schedule, error)

	// ListPendingSchedules returns all schedules with pending status
	ListPendingSchedules() ([]*Schedule, error)

	// SetScheduleStatus moves an item's schedule to the given status
	SetScheduleStatus(itemID string, to ScheduleStatus) error

	// CancelSchedule cancels an item's pending schedule; a no-op when nothing
	// is pending
	CancelSchedule(itemID string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db         *bbolt.DB
	timeSource TimeSource
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	return NewBoltDBWithDeps(path, &defaultTimeSource{})
}

// NewBoltDBWithDeps creates a new BoltDB instance with a custom time source
// for testing
func NewBoltDBWithDeps(path string, timeSource TimeSource) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(itemBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(scheduleBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, timeSource: timeSource}, nil
}

// wrapStoreErr keeps contract errors intact and marks everything else as
// retryable storage failure.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.As(err, &ve) {
		return err
	}
	return &TransientError{Err: err}
}

// CreateItem stores a new item
func (b *BoltDB) CreateItem(item *Item) error {
	return wrapStoreErr(b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(itemBucketName))
		if bucket.Get([]byte(item.ID)) != nil {
			return fmt.Errorf("creating item %s: %w", item.ID, ErrDuplicate)
		}
		now := b.timeSource.Now()
		item.CreatedAt = now
		item.UpdatedAt = now
		if item.State == "" {
			item.State = StateDraft
		}
		return putJSON(bucket, item.ID, item)
	}))
}

// UpdateItem fully replaces an item and bumps UpdatedAt
func (b *BoltDB) UpdateItem(item *Item) (*Item, error) {
	updated := *item
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(itemBucketName))
		existing, err := getItem(bucket, item.ID)
		if err != nil {
			return err
		}
		// CreatedAt and the recognized source text never change after creation
		updated.CreatedAt = existing.CreatedAt
		if existing.SourceText != "" {
			updated.SourceText = existing.SourceText
		}
		updated.UpdatedAt = bumpedNow(b.timeSource, existing.UpdatedAt)
		return putJSON(bucket, updated.ID, &updated)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return &updated, nil
}

// GetItem retrieves an item by id
func (b *BoltDB) GetItem(id string) (*Item, error) {
	var item *Item
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		item, err = getItem(tx.Bucket([]byte(itemBucketName)), id)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return item, nil
}

// DeleteItem removes an item and cancels its pending schedule atomically
func (b *BoltDB) DeleteItem(id string) error {
	return wrapStoreErr(b.db.Update(func(tx *bbolt.Tx) error {
		if err := cancelPending(tx.Bucket([]byte(scheduleBucketName)), id, b.timeSource.Now()); err != nil {
			return err
		}
		return tx.Bucket([]byte(itemBucketName)).Delete([]byte(id))
	}))
}

// ListItems returns all items
func (b *BoltDB) ListItems() ([]*Item, error) {
	items := make([]*Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(itemBucketName)).ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return items, nil
}

// UpcomingItems returns active items expiring within the window, soonest first
func (b *BoltDB) UpcomingItems(now time.Time, within time.Duration) ([]*Item, error) {
	from := Midnight(now)
	to := Midnight(now.Add(within))
	items := make([]*Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(itemBucketName)).ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			if item.State != StateActive || item.ExpiryDate == nil {
				return nil
			}
			expiry := *item.ExpiryDate
			if expiry.Before(from) || expiry.After(to) {
				return nil
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ExpiryDate.Equal(*items[j].ExpiryDate) {
			return items[i].ExpiryDate.Before(*items[j].ExpiryDate)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// TransitionItem moves an item to a new lifecycle state
func (b *BoltDB) TransitionItem(id string, to State) (*Item, error) {
	var updated *Item
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(itemBucketName))
		item, err := getItem(bucket, id)
		if err != nil {
			return err
		}
		now := b.timeSource.Now()
		// Only active items may hold a pending schedule
		if to != StateActive {
			if err := cancelPending(tx.Bucket([]byte(scheduleBucketName)), id, now); err != nil {
				return err
			}
		}
		item.State = to
		item.UpdatedAt = bumpedNow(b.timeSource, item.UpdatedAt)
		updated = item
		return putJSON(bucket, id, item)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return updated, nil
}

// ReplacePendingSchedule registers the single pending schedule for an item
func (b *BoltDB) ReplacePendingSchedule(sched *Schedule) error {
	return wrapStoreErr(b.db.Update(func(tx *bbolt.Tx) error {
		item, err := getItem(tx.Bucket([]byte(itemBucketName)), sched.ItemID)
		if err != nil {
			return err
		}
		if item.State != StateActive {
			return &ValidationError{Field: "state", Reason: fmt.Sprintf("cannot schedule a reminder for a %s item", item.State)}
		}
		// Overwriting the per-item record is the atomic cancel-then-register
		sched.Status = SchedulePending
		sched.UpdatedAt = b.timeSource.Now()
		return putJSON(tx.Bucket([]byte(scheduleBucketName)), sched.ItemID, sched)
	}))
}

// GetSchedule retrieves the schedule record for an item
func (b *BoltDB) GetSchedule(itemID string) (*Schedule, error) {
	var sched *Schedule
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(scheduleBucketName)).Get([]byte(itemID))
		if data == nil {
			return fmt.Errorf("schedule for item %s: %w", itemID, ErrNotFound)
		}
		return json.Unmarshal(data, &sched)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return sched, nil
}

// ListPendingSchedules returns all pending schedules, used to rehydrate the
// background runtime after a restart
func (b *BoltDB) ListPendingSchedules() ([]*Schedule, error) {
	scheds := make([]*Schedule, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(scheduleBucketName)).ForEach(func(k, v []byte) error {
			var sched Schedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return fmt.Errorf("unmarshaling schedule: %w", err)
			}
			if sched.Status == SchedulePending {
				scheds = append(scheds, &sched)
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return scheds, nil
}

// SetScheduleStatus moves an item's schedule to the given status
func (b *BoltDB) SetScheduleStatus(itemID string, to ScheduleStatus) error {
	return wrapStoreErr(b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scheduleBucketName))
		data := bucket.Get([]byte(itemID))
		if data == nil {
			return fmt.Errorf("schedule for item %s: %w", itemID, ErrNotFound)
		}
		var sched Schedule
		if err := json.Unmarshal(data, &sched); err != nil {
			return fmt.Errorf("unmarshaling schedule: %w", err)
		}
		sched.Status = to
		sched.UpdatedAt = b.timeSource.Now()
		return putJSON(bucket, itemID, &sched)
	}))
}

// CancelSchedule cancels an item's pending schedule if one exists
func (b *BoltDB) CancelSchedule(itemID string) error {
	return wrapStoreErr(b.db.Update(func(tx *bbolt.Tx) error {
		return cancelPending(tx.Bucket([]byte(scheduleBucketName)), itemID, b.timeSource.Now())
	}))
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func getItem(bucket *bbolt.Bucket, id string) (*Item, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	return &item, nil
}

func putJSON(bucket *bbolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return bucket.Put([]byte(key), data)
}

// cancelPending flips an item's schedule to cancelled when it is pending.
// Absent or already-consumed schedules are left alone.
func cancelPending(bucket *bbolt.Bucket, itemID string, now time.Time) error {
	data := bucket.Get([]byte(itemID))
	if data == nil {
		return nil
	}
	var sched Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return fmt.Errorf("unmarshaling schedule: %w", err)
	}
	if sched.Status != SchedulePending {
		return nil
	}
	sched.Status = ScheduleCancelled
	sched.UpdatedAt = now
	return putJSON(bucket, itemID, &sched)
}

// bumpedNow keeps UpdatedAt monotonic even if the clock steps backwards
func bumpedNow(ts TimeSource, prev time.Time) time.Time {
	now := ts.Now()
	if now.Before(prev) {
		return prev
	}
	return now
}
