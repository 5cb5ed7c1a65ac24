package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	repository "github.com/bohemia111/RUNSTR-sub015/internal/adapters/repository"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func fp(v float64) *float64 { return &v }
func ip(v int64) *int64     { return &v }

func openStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	_ = logger.Init()
	store, err := repository.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func submission(eventID, pubkey string, createdAt, durationS int64) *model.Submission {
	return &model.Submission{
		EventID:    eventID,
		PubKey:     pubkey,
		Activity:   model.ActivityRunning,
		DistanceM:  fp(5000),
		DurationS:  ip(durationS),
		CreatedAt:  createdAt,
		Provenance: model.ProvenanceApp,
	}
}

func TestIngestIdempotence(t *testing.T) {
	Convey("Given an empty mirror", t, func() {
		store := openStore(t)
		ctx := context.Background()

		Convey("When the same submission is ingested three times", func() {
			first, err1 := store.Ingest(ctx, submission("e1", "pkA", 1700000000, 1800), "")
			second, err2 := store.Ingest(ctx, submission("e1", "pkA", 1700000000, 1800), "")
			third, err3 := store.Ingest(ctx, submission("e1", "pkA", 1700000000, 1800), "")

			Convey("Then exactly one row exists and retries report duplicate", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(err3, ShouldBeNil)
				So(first.Success, ShouldBeTrue)
				So(first.Duplicate, ShouldBeFalse)
				So(second.Success, ShouldBeTrue)
				So(second.Duplicate, ShouldBeTrue)
				So(third.Duplicate, ShouldBeTrue)

				total, flagged, err := store.Counts(ctx)
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 1)
				So(flagged, ShouldEqual, 0)
			})
		})
	})
}

func TestIngestOverlap(t *testing.T) {
	Convey("Given a mirror with one submission spanning [T, T+1800)", t, func() {
		store := openStore(t)
		ctx := context.Background()
		const T = int64(1700000000)

		_, err := store.Ingest(ctx, submission("e1", "pkA", T, 1800), "")
		So(err, ShouldBeNil)

		Convey("When the same author submits [T+600, T+2400)", func() {
			out, err := store.Ingest(ctx, submission("e2", "pkA", T+600, 1800), "")

			Convey("Then it resolves as a duplicate no-op", func() {
				So(err, ShouldBeNil)
				So(out.Success, ShouldBeTrue)
				So(out.Duplicate, ShouldBeTrue)
				So(out.Flagged, ShouldBeFalse)

				total, _, err := store.Counts(ctx)
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 1)
			})
		})

		Convey("When the overlapping pair arrives in the other order", func() {
			other := openStore(t)
			_, err := other.Ingest(ctx, submission("e2", "pkA", T+600, 1800), "")
			So(err, ShouldBeNil)
			out, err := other.Ingest(ctx, submission("e1", "pkA", T, 1800), "")

			Convey("Then whichever arrives second is classified the same way", func() {
				So(err, ShouldBeNil)
				So(out.Duplicate, ShouldBeTrue)
			})
		})

		Convey("When another author submits the same interval", func() {
			out, err := store.Ingest(ctx, submission("e3", "pkB", T+600, 1800), "")

			Convey("Then it is accepted; overlap is per author", func() {
				So(err, ShouldBeNil)
				So(out.Success, ShouldBeTrue)
				So(out.Duplicate, ShouldBeFalse)
			})
		})

		Convey("When the same author submits a touching interval [T+1800, ...)", func() {
			out, err := store.Ingest(ctx, submission("e4", "pkA", T+1800, 600), "")

			Convey("Then half-open intervals do not collide at the boundary", func() {
				So(err, ShouldBeNil)
				So(out.Duplicate, ShouldBeFalse)
			})
		})

		Convey("When the same author submits an instant inside the interval", func() {
			instant := submission("e5", "pkA", T+900, 0)
			instant.DurationS = nil
			out, err := store.Ingest(ctx, instant, "")

			Convey("Then the null-duration point still collides", func() {
				So(err, ShouldBeNil)
				So(out.Duplicate, ShouldBeTrue)
			})
		})
	})
}

func TestIngestBaselineRows(t *testing.T) {
	Convey("Given pre-aggregated baseline imports sharing one migration timestamp", t, func() {
		store := openStore(t)
		ctx := context.Background()
		const T = int64(1700000000)

		baseline := func(activity model.Activity, count int64) *model.Submission {
			return &model.Submission{
				EventID:       "baseline:pkA:" + string(activity),
				PubKey:        "pkA",
				Activity:      activity,
				CreatedAt:     T,
				Provenance:    model.ProvenanceBaseline,
				BaselineCount: ip(count),
			}
		}

		Convey("When two activities are imported for the same author", func() {
			first, err1 := store.Ingest(ctx, baseline(model.ActivityRunning, 12), "")
			second, err2 := store.Ingest(ctx, baseline(model.ActivityWalking, 9), "")

			Convey("Then both aggregates persist; baseline rows carry no interval", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first.Success, ShouldBeTrue)
				So(first.Duplicate, ShouldBeFalse)
				So(second.Success, ShouldBeTrue)
				So(second.Duplicate, ShouldBeFalse)

				total, _, err := store.Counts(ctx)
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 2)
			})

			Convey("And re-running the import is still idempotent", func() {
				again, err := store.Ingest(ctx, baseline(model.ActivityWalking, 9), "")
				So(err, ShouldBeNil)
				So(again.Duplicate, ShouldBeTrue)
			})

			Convey("And a live workout at the migration timestamp is not blocked", func() {
				out, err := store.Ingest(ctx, submission("e1", "pkA", T, 1800), "")
				So(err, ShouldBeNil)
				So(out.Success, ShouldBeTrue)
				So(out.Duplicate, ShouldBeFalse)
			})
		})
	})
}

func TestIngestFlagged(t *testing.T) {
	Convey("Given a submission flagged by anti-cheat", t, func() {
		store := openStore(t)
		ctx := context.Background()

		sub := submission("e1", "pkA", 1700000000, 600)
		sub.DistanceM = fp(10000)
		sub.Flagged = true
		sub.FlagReason = "superhuman_pace"

		Convey("When ingesting it", func() {
			out, err := store.Ingest(ctx, sub, `{"id":"e1"}`)

			Convey("Then it is retained as flagged, not successful", func() {
				So(err, ShouldBeNil)
				So(out.Success, ShouldBeFalse)
				So(out.Flagged, ShouldBeTrue)
				So(out.Reason, ShouldEqual, "superhuman_pace")

				total, flagged, err := store.Counts(ctx)
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 1)
				So(flagged, ShouldEqual, 1)
			})

			Convey("And a later non-flagged overlap from the same author is accepted", func() {
				// Flagged rows do not reserve the author's time interval.
				out2, err := store.Ingest(ctx, submission("e2", "pkA", 1700000100, 600), "")
				So(err, ShouldBeNil)
				So(out2.Success, ShouldBeTrue)
				So(out2.Duplicate, ShouldBeFalse)
			})

			Convey("And re-ingesting the flagged event reports duplicate", func() {
				out2, err := store.Ingest(ctx, sub, "")
				So(err, ShouldBeNil)
				So(out2.Duplicate, ShouldBeTrue)
				So(out2.Flagged, ShouldBeFalse)
			})
		})
	})
}

func TestCompetitions(t *testing.T) {
	Convey("Given a mirror", t, func() {
		store := openStore(t)
		ctx := context.Background()

		comp := &model.Competition{
			ID:        "comp-1",
			Name:      "January 10K Club",
			Activity:  model.ActivityRunning,
			Method:    model.ScoreTotalDistance,
			StartTS:   1767225600,
			EndTS:     1769817600,
			CreatedAt: 1767225600,
		}

		Convey("When creating and reading back a competition", func() {
			So(store.CreateCompetition(ctx, comp), ShouldBeNil)
			got, err := store.Competition(ctx, "comp-1")

			Convey("Then the row round-trips", func() {
				So(err, ShouldBeNil)
				So(got, ShouldResemble, *comp)
			})

			Convey("And creating it again fails", func() {
				err := store.CreateCompetition(ctx, comp)
				So(errors.Is(err, repository.ErrCompetitionExists), ShouldBeTrue)
			})
		})

		Convey("When reading an unknown competition", func() {
			_, err := store.Competition(ctx, "nope")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("When a pubkey joins twice", func() {
			So(store.CreateCompetition(ctx, comp), ShouldBeNil)
			So(store.AddParticipant(ctx, "comp-1", "pkA", 1767225601), ShouldBeNil)
			So(store.AddParticipant(ctx, "comp-1", "pkA", 1767225602), ShouldBeNil)

			pks, err := store.Participants(ctx, "comp-1")
			So(err, ShouldBeNil)
			So(pks, ShouldResemble, []string{"pkA"})
		})
	})
}

func TestQualifyingSubmissions(t *testing.T) {
	Convey("Given a competition with participants and mixed submissions", t, func() {
		store := openStore(t)
		ctx := context.Background()

		comp := &model.Competition{
			ID:       "comp-1",
			Name:     "January 10K Club",
			Activity: model.ActivityRunning,
			Method:   model.ScoreTotalDistance,
			StartTS:  1767225600,
			EndTS:    1769817600,
		}
		So(store.CreateCompetition(ctx, comp), ShouldBeNil)
		So(store.AddParticipant(ctx, "comp-1", "pkA", 1767225601), ShouldBeNil)

		// Inside window, participant, running: qualifies.
		_, err := store.Ingest(ctx, submission("e1", "pkA", 1767400000, 1800), "")
		So(err, ShouldBeNil)
		// Outside window.
		_, err = store.Ingest(ctx, submission("e2", "pkA", 1766000000, 1800), "")
		So(err, ShouldBeNil)
		// Non-participant.
		_, err = store.Ingest(ctx, submission("e3", "pkB", 1767400000, 1800), "")
		So(err, ShouldBeNil)
		// Wrong activity.
		ride := submission("e4", "pkA", 1768400000, 1800)
		ride.Activity = model.ActivityCycling
		_, err = store.Ingest(ctx, ride, "")
		So(err, ShouldBeNil)
		// Flagged.
		bad := submission("e5", "pkA", 1769000000, 600)
		bad.Flagged = true
		bad.FlagReason = "superhuman_pace"
		_, err = store.Ingest(ctx, bad, "")
		So(err, ShouldBeNil)

		Convey("When querying qualifying submissions", func() {
			subs, err := store.QualifyingSubmissions(ctx, comp)

			Convey("Then only the qualifying row comes back", func() {
				So(err, ShouldBeNil)
				So(subs, ShouldHaveLength, 1)
				So(subs[0].EventID, ShouldEqual, "e1")
				So(*subs[0].DistanceM, ShouldEqual, 5000)
				So(*subs[0].DurationS, ShouldEqual, 1800)
			})
		})
	})
}
