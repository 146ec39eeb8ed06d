package reminder

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/curatrack/curatrack/internal/item"
)

// countingHandler records fires and returns a scripted outcome sequence
type countingHandler struct {
	mu       sync.Mutex
	payloads [][]byte
	outcomes []Outcome
}

func (h *countingHandler) OnFire(payload []byte) Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, payload)
	if len(h.outcomes) == 0 {
		return OutcomeSuccess
	}
	outcome := h.outcomes[0]
	if len(h.outcomes) > 1 {
		h.outcomes = h.outcomes[1:]
	}
	return outcome
}

func (h *countingHandler) fires() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

var _ = Describe("Runner", func() {
	var (
		runner  *Runner
		handler *countingHandler
	)

	BeforeEach(func() {
		runner = NewRunner(3, 5*time.Millisecond)
		handler = &countingHandler{}
		runner.Bind(handler)
		DeferCleanup(runner.Stop)
	})

	Describe("Register", func() {
		It("should fire a past-due registration promptly", func() {
			Expect(runner.Register("item-1", []byte(`{}`), time.Now().Add(-time.Hour))).To(Succeed())
			Eventually(handler.fires).Should(Equal(1))
		})

		It("should replace an existing registration for the same item", func() {
			Expect(runner.Register("item-1", []byte(`{"v":1}`), time.Now().Add(time.Hour))).To(Succeed())
			Expect(runner.Register("item-1", []byte(`{"v":2}`), time.Now())).To(Succeed())
			Eventually(handler.fires).Should(Equal(1))
			Consistently(handler.fires, 50*time.Millisecond).Should(Equal(1))
			Expect(string(handler.payloads[0])).To(Equal(`{"v":2}`))
		})
	})

	Describe("Cancel", func() {
		It("should prevent a pending fire", func() {
			Expect(runner.Register("item-1", []byte(`{}`), time.Now().Add(20*time.Millisecond))).To(Succeed())
			Expect(runner.Cancel("item-1")).To(Succeed())
			Consistently(handler.fires, 60*time.Millisecond).Should(Equal(0))
		})

		It("should be a no-op for an unknown item", func() {
			Expect(runner.Cancel("unknown")).To(Succeed())
		})
	})

	When("the handler asks for a retry", func() {
		BeforeEach(func() {
			handler.outcomes = []Outcome{OutcomeRetryLater, OutcomeRetryLater, OutcomeSuccess}
		})

		It("should redeliver with backoff until success", func() {
			Expect(runner.Register("item-1", []byte(`{}`), time.Now())).To(Succeed())
			Eventually(handler.fires).Should(Equal(3))
			Consistently(handler.fires, 50*time.Millisecond).Should(Equal(3))
		})
	})

	When("retries are exhausted", func() {
		BeforeEach(func() {
			handler.outcomes = []Outcome{OutcomeRetryLater}
		})

		It("should give up after the attempt limit", func() {
			Expect(runner.Register("item-1", []byte(`{}`), time.Now())).To(Succeed())
			Eventually(handler.fires).Should(Equal(3))
			Consistently(handler.fires, 60*time.Millisecond).Should(Equal(3))
		})
	})

	Describe("Rehydrate", func() {
		var (
			clock     *stubClock
			db        *item.BoltDB
			queue     *mockQueue
			scheduler *Scheduler
		)

		BeforeEach(func() {
			clock = &stubClock{now: time.Date(2025, 8, 1, 10, 0, 0, 0, time.Local)}
			db = newTestDB(clock)
			queue = &mockQueue{}
			scheduler = NewSchedulerWithDeps(db, queue, clock)
		})

		It("should re-register every pending schedule", func() {
			createActiveItem(db, "item-1", localDay(2025, time.August, 12))
			_, err := scheduler.Schedule("item-1", localDay(2025, time.August, 12), 3)
			Expect(err).NotTo(HaveOccurred())
			queue.registrations = nil // simulate a restart losing the runtime state

			Expect(runner.Rehydrate(db, scheduler)).To(Succeed())
			Expect(queue.registrations).To(HaveLen(1))
			Expect(queue.registrations[0].itemID).To(Equal("item-1"))
			Expect(queue.registrations[0].triggerAt).To(BeTemporally("==", localDay(2025, time.August, 9)))
		})

		It("should do nothing when no schedules are pending", func() {
			Expect(runner.Rehydrate(db, scheduler)).To(Succeed())
			Expect(queue.registrations).To(BeEmpty())
		})
	})
})
