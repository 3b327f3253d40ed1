package eventbus

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/opsmail/emailpipeline/pkg/types"
)

var _ = Describe("Bus", func() {
	var (
		ctx context.Context
		bus *Bus
	)

	BeforeEach(func() {
		ctx = context.Background()
		bus = NewBus(nil, nil)
	})

	Describe("Publish and Subscribe", func() {
		It("delivers events in non-decreasing event_id order for a correlation", func() {
			Expect(bus.Publish(ctx, types.EventTypeTaskCreated, "task-1", map[string]string{"v": "1"})).To(Succeed())
			Expect(bus.Publish(ctx, types.EventTypeTaskUpdated, "task-1", map[string]string{"v": "2"})).To(Succeed())
			Expect(bus.Publish(ctx, types.EventTypeTaskCreated, "task-2", map[string]string{"v": "3"})).To(Succeed())

			events, err := bus.Subscribe(ctx, types.EventTypeTaskCreated, "dashboard")
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
			Expect(events[0].EventID).To(BeNumerically("<", events[1].EventID))
		})

		It("replays every event from the start when no cursor store is configured", func() {
			Expect(bus.Publish(ctx, types.EventTypeTaskCreated, "task-1", "p1")).To(Succeed())
			first, err := bus.Subscribe(ctx, types.EventTypeTaskCreated, "dashboard")
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(HaveLen(1))

			// Without acking, a redis-backed cursor store is required for
			// cross-process resume; the in-process fallback (nil cursors)
			// always starts from 0, matching its documented behavior.
			Expect(bus.Publish(ctx, types.EventTypeTaskCreated, "task-2", "p2")).To(Succeed())
			second, err := bus.Subscribe(ctx, types.EventTypeTaskCreated, "dashboard")
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(HaveLen(2), "nil CursorStore replays from 0 every time")
		})

		It("gives no cross-correlation ordering guarantee, only per-correlation", func() {
			Expect(bus.Publish(ctx, types.EventTypeTaskCreated, "a", "1")).To(Succeed())
			Expect(bus.Publish(ctx, types.EventTypeTaskCreated, "b", "2")).To(Succeed())

			events, err := bus.Subscribe(ctx, types.EventTypeTaskCreated, "sub")
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
		})
	})

	Describe("Redis-backed cursor resume", func() {
		var (
			mr     *miniredis.Miniredis
			client *redis.Client
			store  *RedisCursorStore
		)

		BeforeEach(func() {
			var err error
			mr, err = miniredis.Run()
			Expect(err).NotTo(HaveOccurred())
			client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
			store = NewRedisCursorStore(client)
			bus = NewBus(store, nil)
		})

		AfterEach(func() {
			_ = client.Close()
			mr.Close()
		})

		It("resumes from the acked cursor on the next Subscribe call", func() {
			Expect(bus.Publish(ctx, types.EventTypeSLAWarning, "t1", "p1")).To(Succeed())
			Expect(bus.Publish(ctx, types.EventTypeSLAWarning, "t1", "p2")).To(Succeed())

			first, err := bus.Subscribe(ctx, types.EventTypeSLAWarning, "notifier")
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(HaveLen(2))

			Expect(bus.Ack(ctx, "notifier", first[len(first)-1].EventID)).To(Succeed())
			Expect(bus.Publish(ctx, types.EventTypeSLAWarning, "t1", "p3")).To(Succeed())

			resumed, err := bus.Subscribe(ctx, types.EventTypeSLAWarning, "notifier")
			Expect(err).NotTo(HaveOccurred())
			Expect(resumed).To(HaveLen(1), "should only see events published after the acked cursor")
		})

		It("persists the cursor directly through GetCursor/SetCursor across client instances", func() {
			Expect(store.SetCursor(ctx, "notifier", 42)).To(Succeed())

			freshClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			defer freshClient.Close()
			freshStore := NewRedisCursorStore(freshClient)

			cursor, err := freshStore.GetCursor(ctx, "notifier")
			Expect(err).NotTo(HaveOccurred())
			Expect(cursor).To(Equal(uint64(42)))
		})
	})
})
