// Command backfill performs a one-shot historical import into the mirror
// database. It can replay a relay window event by event, and it can load
// pre-aggregated per-author workout counts from a CSV file so standings
// migrated from an earlier system keep their history. Rows written by this
// command carry baseline_migration provenance.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/relay"
	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/repository"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/anticheat"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/normalize"
	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
)

type report struct {
	fetched     int
	accepted    int
	duplicates  int
	flagged     int
	parseErrors int
	errors      int
	baselines   int
}

func main() {
	var (
		dbPath    = flag.String("db", "data/runstr.db", "path to the SQLite mirror database")
		relayList = flag.String("relays", "", "comma-separated relay websocket URLs")
		authors   = flag.String("authors", "", "comma-separated author pubkeys to backfill")
		since     = flag.Int64("since", 0, "window start as a unix timestamp (0 = open)")
		until     = flag.Int64("until", 0, "window end as a unix timestamp (0 = open)")
		timeout   = flag.Duration("timeout", 2*time.Minute, "overall fetch timeout")
		baseline  = flag.String("baseline", "", "CSV of pre-aggregated counts: pubkey,activity,count,created_at")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().Named("backfill")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+30*time.Second)
	defer cancel()

	store, err := repository.NewSQLiteStore(ctx, *dbPath)
	if err != nil {
		log.Error(ctx, "open store", logger.Error(err))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	var rep report

	if *baseline != "" {
		if err := importBaseline(ctx, store, *baseline, &rep); err != nil {
			log.Error(ctx, "baseline import failed", logger.Error(err))
			os.Exit(1)
		}
	}

	if *relayList != "" {
		if err := replayWindow(ctx, log, store, splitList(*relayList), splitList(*authors), *since, *until, *timeout, &rep); err != nil {
			log.Error(ctx, "relay backfill failed", logger.Error(err))
			os.Exit(1)
		}
	}

	if *baseline == "" && *relayList == "" {
		flag.Usage()
		os.Exit(2)
	}

	log.Info(ctx, "backfill complete",
		logger.Int("fetched", rep.fetched),
		logger.Int("accepted", rep.accepted),
		logger.Int("duplicates", rep.duplicates),
		logger.Int("flagged", rep.flagged),
		logger.Int("parseErrors", rep.parseErrors),
		logger.Int("errors", rep.errors),
		logger.Int("baselines", rep.baselines),
	)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// replayWindow fetches the historical window from the relays and ingests
// every event synchronously.
func replayWindow(ctx context.Context, log logger.Logger, store repository.Store, relays, authors []string, since, until int64, fetchTimeout time.Duration, rep *report) error {
	if len(relays) == 0 {
		return relay.ErrNoRelays
	}

	client := relay.New(relays, relay.WithGlobalTimeout(fetchTimeout))

	filter := relay.Filter{
		Kinds:   []int{model.WorkoutKind},
		Authors: authors,
	}
	if since > 0 {
		filter.Since = &since
	}
	if until > 0 {
		filter.Until = &until
	}

	events, err := client.Fetch(ctx, filter)
	if err != nil {
		return err
	}
	rep.fetched = len(events)

	validator := anticheat.NewValidator()
	for i := range events {
		ingestEvent(ctx, log, store, validator, &events[i], rep)
	}
	return nil
}

func ingestEvent(ctx context.Context, log logger.Logger, store repository.Store, validator *anticheat.Validator, ev *model.RawEvent, rep *report) {
	workout, err := normalize.Normalize(ev)
	if err != nil {
		rep.parseErrors++
		return
	}

	verdict := validator.Validate(&workout)
	sub := model.Submission{
		EventID:    workout.EventID,
		PubKey:     workout.PubKey,
		Activity:   workout.Activity,
		DistanceM:  workout.DistanceM,
		DurationS:  workout.DurationS,
		Calories:   workout.Calories,
		CreatedAt:  workout.CreatedAt,
		Provenance: model.ProvenanceBaseline,
		Flagged:    verdict.Flagged,
		FlagReason: verdict.Reason,
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		raw = nil
	}

	outcome, err := store.Ingest(ctx, &sub, string(raw))
	if err != nil {
		rep.errors++
		log.Error(ctx, "ingest event", logger.String("event_id", ev.ID), logger.Error(err))
		return
	}
	switch {
	case outcome.Duplicate:
		rep.duplicates++
	case outcome.Flagged:
		rep.flagged++
	default:
		rep.accepted++
	}
}

// importBaseline loads pre-aggregated workout counts. Each CSV row becomes
// one submission whose baseline_count stands in for that many workouts in
// workout_count competitions. The synthetic event id is deterministic so
// re-running the import stays idempotent.
func importBaseline(ctx context.Context, store repository.Store, path string, rep *report) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open baseline file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("read baseline file: %w", err)
	}

	for i, rec := range records {
		if len(rec) != 4 {
			return fmt.Errorf("baseline row %d: expected pubkey,activity,count,created_at", i+1)
		}
		pubkey := strings.TrimSpace(rec[0])
		activity := model.Activity(strings.TrimSpace(rec[1]))
		count, err := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
		if err != nil || count <= 0 {
			return fmt.Errorf("baseline row %d: bad count %q", i+1, rec[2])
		}
		createdAt, err := strconv.ParseInt(strings.TrimSpace(rec[3]), 10, 64)
		if err != nil {
			return fmt.Errorf("baseline row %d: bad created_at %q", i+1, rec[3])
		}
		if pubkey == "" || !activity.Valid() {
			return fmt.Errorf("baseline row %d: bad pubkey or activity", i+1)
		}

		sub := model.Submission{
			EventID:       "baseline:" + pubkey + ":" + string(activity),
			PubKey:        pubkey,
			Activity:      activity,
			CreatedAt:     createdAt,
			Provenance:    model.ProvenanceBaseline,
			BaselineCount: &count,
		}
		outcome, err := store.Ingest(ctx, &sub, "")
		if err != nil {
			return fmt.Errorf("baseline row %d: %w", i+1, err)
		}
		if outcome.Duplicate {
			rep.duplicates++
			continue
		}
		rep.baselines++
	}
	return nil
}
