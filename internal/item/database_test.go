package item

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// stubTimeSource returns a controllable fixed time
type stubTimeSource struct {
	now time.Time
}

func (t *stubTimeSource) Now() time.Time {
	return t.now
}

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		clock  *stubTimeSource
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		clock = &stubTimeSource{now: time.Date(2025, 8, 1, 10, 0, 0, 0, time.Local)}
		var err error
		db, err = NewBoltDBWithDeps(dbPath, clock)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newActiveItem := func(id string, expiry time.Time) *Item {
		it := &Item{
			ID:         id,
			Title:      "Test Item " + id,
			ExpiryDate: ptr(Midnight(expiry)),
			SourceText: "BEST BEFORE " + expiry.Format("02/01/2006"),
			State:      StateDraft,
		}
		Expect(db.CreateItem(it)).To(Succeed())
		_, err := db.TransitionItem(id, StateActive)
		Expect(err).NotTo(HaveOccurred())
		return it
	}

	pendingScheduleFor := func(id string, triggerAt time.Time, leadDays int) {
		Expect(db.ReplacePendingSchedule(&Schedule{
			ItemID:    id,
			TriggerAt: triggerAt,
			LeadDays:  leadDays,
		})).To(Succeed())
	}

	Describe("CreateItem", func() {
		var (
			item *Item
			err  error
		)

		BeforeEach(func() {
			item = &Item{
				ID:         "item-1",
				Title:      "ACME CRACKERS",
				ExpiryDate: ptr(localDay(2025, time.August, 12)),
				SourceText: "BEST BEFORE 12/08/2025",
			}
		})

		JustBeforeEach(func() {
			err = db.CreateItem(item)
		})

		When("the id is new", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should persist the item", func() {
				saved, getErr := db.GetItem("item-1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Title).To(Equal("ACME CRACKERS"))
			})

			It("should stamp both timestamps", func() {
				saved, _ := db.GetItem("item-1")
				Expect(saved.CreatedAt).To(BeTemporally("==", clock.now))
				Expect(saved.UpdatedAt).To(BeTemporally("==", clock.now))
			})

			It("should default the state to draft", func() {
				saved, _ := db.GetItem("item-1")
				Expect(saved.State).To(Equal(StateDraft))
			})
		})

		When("the id already exists", func() {
			var original *Item

			BeforeEach(func() {
				original = &Item{ID: "item-1", Title: "Original"}
				Expect(db.CreateItem(original)).To(Succeed())
			})

			It("should fail with ErrDuplicate", func() {
				Expect(errors.Is(err, ErrDuplicate)).To(BeTrue())
			})

			It("should leave the stored item unchanged", func() {
				saved, getErr := db.GetItem("item-1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Title).To(Equal("Original"))
			})
		})
	})

	Describe("GetItem", func() {
		When("the item is absent", func() {
			It("should fail with ErrNotFound", func() {
				_, err := db.GetItem("missing")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("UpdateItem", func() {
		var created *Item

		BeforeEach(func() {
			created = &Item{ID: "item-1", Title: "Before", SourceText: "scanned text"}
			Expect(db.CreateItem(created)).To(Succeed())
			clock.now = clock.now.Add(time.Hour)
		})

		When("the item exists", func() {
			var updated *Item

			BeforeEach(func() {
				var err error
				updated, err = db.UpdateItem(&Item{ID: "item-1", Title: "After", State: StateDraft})
				Expect(err).NotTo(HaveOccurred())
			})

			It("should replace the stored fields", func() {
				saved, _ := db.GetItem("item-1")
				Expect(saved.Title).To(Equal("After"))
			})

			It("should bump UpdatedAt and keep CreatedAt", func() {
				Expect(updated.UpdatedAt).To(BeTemporally("==", clock.now))
				Expect(updated.CreatedAt).To(BeTemporally("==", clock.now.Add(-time.Hour)))
			})

			It("should preserve the immutable source text", func() {
				Expect(updated.SourceText).To(Equal("scanned text"))
			})
		})

		When("the item is absent", func() {
			It("should fail with ErrNotFound", func() {
				_, err := db.UpdateItem(&Item{ID: "missing", Title: "X"})
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("DeleteItem", func() {
		When("the item has a pending schedule", func() {
			BeforeEach(func() {
				newActiveItem("item-1", localDay(2025, time.August, 12))
				pendingScheduleFor("item-1", localDay(2025, time.August, 9), 3)
				Expect(db.DeleteItem("item-1")).To(Succeed())
			})

			It("should remove the item", func() {
				_, err := db.GetItem("item-1")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})

			It("should cancel the schedule in the same operation", func() {
				sched, err := db.GetSchedule("item-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(sched.Status).To(Equal(ScheduleCancelled))
			})
		})

		When("the item is absent", func() {
			It("should succeed as a no-op", func() {
				Expect(db.DeleteItem("missing")).To(Succeed())
			})
		})
	})

	Describe("TransitionItem", func() {
		BeforeEach(func() {
			newActiveItem("item-1", localDay(2025, time.August, 12))
			pendingScheduleFor("item-1", localDay(2025, time.August, 9), 3)
		})

		When("leaving the active state", func() {
			BeforeEach(func() {
				_, err := db.TransitionItem("item-1", StateArchived)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should store the new state", func() {
				saved, _ := db.GetItem("item-1")
				Expect(saved.State).To(Equal(StateArchived))
			})

			It("should cancel the pending schedule atomically", func() {
				sched, err := db.GetSchedule("item-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(sched.Status).To(Equal(ScheduleCancelled))
			})
		})

		When("the item is absent", func() {
			It("should fail with ErrNotFound", func() {
				_, err := db.TransitionItem("missing", StateArchived)
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("ReplacePendingSchedule", func() {
		When("the item is active", func() {
			BeforeEach(func() {
				newActiveItem("item-1", localDay(2025, time.August, 12))
			})

			It("should register a pending schedule", func() {
				pendingScheduleFor("item-1", localDay(2025, time.August, 9), 3)
				sched, err := db.GetSchedule("item-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(sched.Status).To(Equal(SchedulePending))
				Expect(sched.TriggerAt).To(BeTemporally("==", localDay(2025, time.August, 9)))
			})

			It("should leave exactly one pending schedule when called twice", func() {
				pendingScheduleFor("item-1", localDay(2025, time.August, 9), 3)
				pendingScheduleFor("item-1", localDay(2025, time.August, 17), 3)
				pending, err := db.ListPendingSchedules()
				Expect(err).NotTo(HaveOccurred())
				Expect(pending).To(HaveLen(1))
				Expect(pending[0].TriggerAt).To(BeTemporally("==", localDay(2025, time.August, 17)))
			})
		})

		When("the item is absent", func() {
			It("should fail with ErrNotFound", func() {
				err := db.ReplacePendingSchedule(&Schedule{ItemID: "missing"})
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})

		When("the item is not active", func() {
			BeforeEach(func() {
				Expect(db.CreateItem(&Item{ID: "item-1", Title: "Draft"})).To(Succeed())
			})

			It("should reject the schedule", func() {
				err := db.ReplacePendingSchedule(&Schedule{ItemID: "item-1"})
				var ve *ValidationError
				Expect(errors.As(err, &ve)).To(BeTrue())
			})
		})
	})

	Describe("CancelSchedule", func() {
		When("nothing is pending", func() {
			It("should succeed as a no-op", func() {
				Expect(db.CancelSchedule("missing")).To(Succeed())
			})
		})

		When("a fired schedule exists", func() {
			BeforeEach(func() {
				newActiveItem("item-1", localDay(2025, time.August, 12))
				pendingScheduleFor("item-1", localDay(2025, time.August, 9), 3)
				Expect(db.SetScheduleStatus("item-1", ScheduleFired)).To(Succeed())
			})

			It("should leave the fired schedule alone", func() {
				Expect(db.CancelSchedule("item-1")).To(Succeed())
				sched, _ := db.GetSchedule("item-1")
				Expect(sched.Status).To(Equal(ScheduleFired))
			})
		})
	})

	Describe("UpcomingItems", func() {
		BeforeEach(func() {
			newActiveItem("later", localDay(2025, time.August, 20))
			newActiveItem("sooner", localDay(2025, time.August, 5))
			newActiveItem("far", localDay(2025, time.December, 1))

			draft := &Item{ID: "draft", Title: "Draft", ExpiryDate: ptr(localDay(2025, time.August, 5))}
			Expect(db.CreateItem(draft)).To(Succeed())
		})

		It("should return only active items inside the window, soonest first", func() {
			items, err := db.UpcomingItems(time.Date(2025, 8, 1, 15, 0, 0, 0, time.Local), 30*24*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
			Expect(items[0].ID).To(Equal("sooner"))
			Expect(items[1].ID).To(Equal("later"))
		})

		It("should return an empty slice when nothing is due", func() {
			items, err := db.UpcomingItems(time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local), 24*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(BeEmpty())
		})
	})

	Describe("pending schedule invariants", func() {
		It("should never leave a pending schedule on a non-active item", func() {
			newActiveItem("a", localDay(2025, time.August, 12))
			newActiveItem("b", localDay(2025, time.August, 13))
			pendingScheduleFor("a", localDay(2025, time.August, 9), 3)
			pendingScheduleFor("b", localDay(2025, time.August, 10), 3)

			_, err := db.TransitionItem("a", StateArchived)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.DeleteItem("b")).To(Succeed())

			pending, err := db.ListPendingSchedules()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})
})
