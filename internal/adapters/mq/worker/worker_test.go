package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/mq/queue"
	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/mq/worker"
	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/repository"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/anticheat"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// captureIngester records every submission it receives and signals arrival
// on a channel so tests can wait without sleeping.
type captureIngester struct {
	mu       sync.Mutex
	subs     []model.Submission
	raws     []string
	arrived  chan struct{}
	outcomes map[string]repository.Outcome
}

func newCaptureIngester() *captureIngester {
	return &captureIngester{
		arrived:  make(chan struct{}, 64),
		outcomes: map[string]repository.Outcome{},
	}
}

func (c *captureIngester) Ingest(_ context.Context, sub *model.Submission, rawJSON string) (repository.Outcome, error) {
	c.mu.Lock()
	c.subs = append(c.subs, *sub)
	c.raws = append(c.raws, rawJSON)
	out, ok := c.outcomes[sub.EventID]
	c.mu.Unlock()
	c.arrived <- struct{}{}
	if !ok {
		out = repository.Outcome{Success: true}
	}
	return out, nil
}

func (c *captureIngester) wait(t *testing.T, n int) []model.Submission {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.arrived:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for submission %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Submission(nil), c.subs...)
}

func workoutEvent(id, pubkey string, tags [][]string) model.RawEvent {
	return model.RawEvent{
		ID:        id,
		PubKey:    pubkey,
		CreatedAt: 1700000000,
		Kind:      model.WorkoutKind,
		Tags:      tags,
	}
}

func TestWorkerProcessesEvents(t *testing.T) {
	Convey("Given a running worker", t, func() {
		_ = logger.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		ingester := newCaptureIngester()
		w := worker.NewWorker(q, anticheat.NewValidator(), ingester)

		ctx, cancel := context.WithCancel(context.Background())
		go w.Run(ctx)
		Reset(func() {
			cancel()
			_ = q.Close()
		})

		Convey("When a well-formed workout event arrives", func() {
			ev := workoutEvent("e1", "pkA", [][]string{
				{"exercise", "running"},
				{"distance", "10", "km"},
				{"duration", "00:50:00"},
			})
			So(q.Enqueue(ctx, ev), ShouldBeTrue)
			subs := ingester.wait(t, 1)

			Convey("Then the normalized submission reaches the store", func() {
				So(subs, ShouldHaveLength, 1)
				So(subs[0].EventID, ShouldEqual, "e1")
				So(subs[0].Activity, ShouldEqual, model.ActivityRunning)
				So(*subs[0].DistanceM, ShouldAlmostEqual, 10000, 0.01)
				So(*subs[0].DurationS, ShouldEqual, 3000)
				So(subs[0].Provenance, ShouldEqual, model.ProvenanceNostrScan)
				So(subs[0].Flagged, ShouldBeFalse)
			})

			Convey("And the raw event is carried along for the audit trail", func() {
				ingester.mu.Lock()
				raw := ingester.raws[0]
				ingester.mu.Unlock()
				So(raw, ShouldContainSubstring, `"id":"e1"`)
			})
		})

		Convey("When an event trips the pace floor", func() {
			ev := workoutEvent("e2", "pkA", [][]string{
				{"exercise", "running"},
				{"distance", "10", "km"},
				{"duration", "00:10:00"},
			})
			So(q.Enqueue(ctx, ev), ShouldBeTrue)
			subs := ingester.wait(t, 1)

			Convey("Then the submission is marked flagged with the reason", func() {
				So(subs[0].Flagged, ShouldBeTrue)
				So(subs[0].FlagReason, ShouldEqual, anticheat.ReasonSuperhumanPace)
			})
		})

		Convey("When an event cannot be parsed into a workout", func() {
			bad := workoutEvent("e3", "pkA", [][]string{{"client", "runstr"}})
			good := workoutEvent("e4", "pkA", [][]string{
				{"exercise", "walking"},
				{"distance", "2", "km"},
			})
			So(q.Enqueue(ctx, bad), ShouldBeTrue)
			So(q.Enqueue(ctx, good), ShouldBeTrue)
			subs := ingester.wait(t, 1)

			Convey("Then it is dropped and later events still flow", func() {
				So(subs, ShouldHaveLength, 1)
				So(subs[0].EventID, ShouldEqual, "e4")
			})
		})
	})
}

func TestWorkerProvenanceOption(t *testing.T) {
	Convey("Given a worker configured for backfill provenance", t, func() {
		_ = logger.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(4))
		ingester := newCaptureIngester()
		w := worker.NewWorker(q, anticheat.NewValidator(), ingester,
			worker.WithProvenance(model.ProvenanceBaseline),
		)

		ctx, cancel := context.WithCancel(context.Background())
		go w.Run(ctx)
		Reset(func() {
			cancel()
			_ = q.Close()
		})

		Convey("When an event is processed", func() {
			ev := workoutEvent("e1", "pkA", [][]string{
				{"exercise", "cycling"},
				{"distance", "30", "km"},
			})
			So(q.Enqueue(ctx, ev), ShouldBeTrue)
			subs := ingester.wait(t, 1)

			Convey("Then the submission carries that provenance", func() {
				So(subs[0].Provenance, ShouldEqual, model.ProvenanceBaseline)
			})
		})
	})
}

func TestPoolLifecycle(t *testing.T) {
	Convey("Given a pool of workers sharing one queue", t, func() {
		_ = logger.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		ingester := newCaptureIngester()
		pool := worker.NewPool(3, q, anticheat.NewValidator(), ingester)

		So(pool.Size(), ShouldEqual, 3)

		ctx, cancel := context.WithCancel(context.Background())
		pool.Start(ctx)
		Reset(func() {
			cancel()
			_ = q.Close()
		})

		Convey("When several events are enqueued", func() {
			for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
				ev := workoutEvent(id, "pk-"+id, [][]string{
					{"exercise", "running"},
					{"distance", "5", "km"},
					{"duration", "00:30:00"},
				})
				So(q.Enqueue(ctx, ev), ShouldBeTrue)
			}
			subs := ingester.wait(t, 5)

			Convey("Then every event is processed exactly once", func() {
				So(subs, ShouldHaveLength, 5)
				seen := map[string]int{}
				for _, s := range subs {
					seen[s.EventID]++
				}
				for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
					So(seen[id], ShouldEqual, 1)
				}
			})
		})

		Convey("When the pool is stopped", func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer stopCancel()
			pool.Stop(stopCtx)

			Convey("Then stopping completes without hanging", func() {
				So(true, ShouldBeTrue)
			})
		})
	})
}
