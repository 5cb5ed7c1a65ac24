package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/relay"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var upgrader = websocket.Upgrader{}

// fakeRelay serves a canned stored backlog: it answers the first REQ with
// the given events followed by EOSE.
func fakeRelay(t *testing.T, events []model.RawEvent) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
			return
		}
		var subID string
		_ = json.Unmarshal(frame[1], &subID)

		for _, ev := range events {
			msg, _ := json.Marshal([]any{"EVENT", subID, ev})
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		eose, _ := json.Marshal([]any{"EOSE", subID})
		_ = conn.WriteMessage(websocket.TextMessage, eose)

		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// stallingRelay upgrades the connection and then never answers.
func stallingRelay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func rawEvent(id, pubkey string) model.RawEvent {
	return model.RawEvent{
		ID:        id,
		PubKey:    pubkey,
		CreatedAt: 1700000000,
		Kind:      model.WorkoutKind,
		Tags:      [][]string{{"exercise", "running"}, {"distance", "5", "km"}},
	}
}

func TestFetchMergesRelays(t *testing.T) {
	Convey("Given two relays with overlapping backlogs", t, func() {
		_ = logger.Init()
		a := fakeRelay(t, []model.RawEvent{rawEvent("e1", "pkA"), rawEvent("e2", "pkA")})
		b := fakeRelay(t, []model.RawEvent{rawEvent("e2", "pkA"), rawEvent("e3", "pkB")})

		client := relay.New([]string{wsURL(a), wsURL(b)},
			relay.WithPerRelayTimeout(2*time.Second),
			relay.WithGlobalTimeout(5*time.Second),
		)

		Convey("When fetching workout events", func() {
			events, err := client.Fetch(context.Background(), relay.Filter{Kinds: []int{model.WorkoutKind}})

			Convey("Then the union is deduplicated by event ID", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 3)
				ids := map[string]bool{}
				for _, ev := range events {
					ids[ev.ID] = true
				}
				So(ids["e1"], ShouldBeTrue)
				So(ids["e2"], ShouldBeTrue)
				So(ids["e3"], ShouldBeTrue)
			})

			Convey("And per-relay stats record the EOSE", func() {
				stats := client.RelayStats()
				So(stats, ShouldHaveLength, 2)
				So(stats[0].EOSECount, ShouldEqual, 1)
				So(stats[1].EOSECount, ShouldEqual, 1)
			})
		})
	})
}

func TestFetchIsolatesFailures(t *testing.T) {
	Convey("Given one healthy relay, one stalling relay, and one dead endpoint", t, func() {
		_ = logger.Init()
		healthy := fakeRelay(t, []model.RawEvent{rawEvent("e1", "pkA")})
		stalling := stallingRelay(t)

		client := relay.New(
			[]string{wsURL(healthy), wsURL(stalling), "ws://127.0.0.1:1"},
			relay.WithPerRelayTimeout(500*time.Millisecond),
			relay.WithGlobalTimeout(3*time.Second),
			relay.WithHandshakeTimeout(500*time.Millisecond),
		)

		Convey("When fetching", func() {
			start := time.Now()
			events, err := client.Fetch(context.Background(), relay.Filter{Kinds: []int{model.WorkoutKind}})

			Convey("Then partial results come back without error", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 1)
				So(events[0].ID, ShouldEqual, "e1")
			})

			Convey("And the stalling relay only costs its own timeout", func() {
				So(time.Since(start), ShouldBeLessThan, 3*time.Second)
			})
		})
	})
}

func TestFetchNoRelays(t *testing.T) {
	Convey("Given a client with no endpoints", t, func() {
		_ = logger.Init()
		client := relay.New(nil)

		Convey("When fetching", func() {
			_, err := client.Fetch(context.Background(), relay.Filter{})

			Convey("Then it reports the configuration error", func() {
				So(err, ShouldEqual, relay.ErrNoRelays)
			})
		})
	})
}

func TestFetchHonorsContext(t *testing.T) {
	Convey("Given a stalling relay and a cancelled context", t, func() {
		_ = logger.Init()
		stalling := stallingRelay(t)
		client := relay.New([]string{wsURL(stalling)},
			relay.WithPerRelayTimeout(10*time.Second),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		Convey("When the context deadline passes", func() {
			start := time.Now()
			events, err := client.Fetch(ctx, relay.Filter{})

			Convey("Then the fetch returns promptly with what it has", func() {
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
				So(time.Since(start), ShouldBeLessThan, 2*time.Second)
			})
		})
	})
}
