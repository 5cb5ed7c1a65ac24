package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/http/api"
	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/repository"
	service "github.com/bohemia111/RUNSTR-sub015/internal/app"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/normalize"
	. "github.com/smartystreets/goconvey/convey"
)

// stubDeps implements api.Dependencies with canned responses.
type stubDeps struct {
	ingestOutcome api.Outcome
	ingestErr     error
	ingested      []model.RawEvent

	scanReport service.ScanReport
	scanErr    error

	comps   map[string]model.Competition
	joins   []string
	entries []api.Entry
}

func newStubDeps() *stubDeps {
	return &stubDeps{comps: map[string]model.Competition{}}
}

func (s *stubDeps) Ingest(_ context.Context, ev model.RawEvent) (api.Outcome, error) {
	s.ingested = append(s.ingested, ev)
	return s.ingestOutcome, s.ingestErr
}

func (s *stubDeps) Scan(_ context.Context, _ []string, _, _ *int64) (service.ScanReport, error) {
	return s.scanReport, s.scanErr
}

func (s *stubDeps) CreateCompetition(_ context.Context, name string, activity model.Activity, method model.ScoringMethod, startTS, endTS int64) (model.Competition, error) {
	if name == "" {
		return model.Competition{}, fmt.Errorf("%w: empty name", service.ErrInvalidCompetition)
	}
	comp := model.Competition{ID: "c1", Name: name, Activity: activity, Method: method, StartTS: startTS, EndTS: endTS}
	s.comps[comp.ID] = comp
	return comp, nil
}

func (s *stubDeps) Competition(_ context.Context, id string) (model.Competition, error) {
	comp, ok := s.comps[id]
	if !ok {
		return model.Competition{}, repository.ErrNotFound
	}
	return comp, nil
}

func (s *stubDeps) JoinCompetition(_ context.Context, compID, pubkey string) error {
	if _, ok := s.comps[compID]; !ok {
		return repository.ErrNotFound
	}
	s.joins = append(s.joins, compID+":"+pubkey)
	return nil
}

func (s *stubDeps) Leaderboard(_ context.Context, compID string) ([]api.Entry, error) {
	if _, ok := s.comps[compID]; !ok {
		return nil, repository.ErrNotFound
	}
	return s.entries, nil
}

func (s *stubDeps) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true}
}

func newTestServer(deps *stubDeps) *httptest.Server {
	mux := http.NewServeMux()
	api.NewServer(deps, deps).Register(context.Background(), mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func eventBody(id string) string {
	return `{"id":"` + id + `","pubkey":"pkA","created_at":1700000000,"kind":1301,` +
		`"tags":[["exercise","running"],["distance","5","km"]],"content":"","sig":"s"}`
}

func TestIngestEndpoint(t *testing.T) {
	Convey("Given the API server", t, func() {
		deps := newStubDeps()
		srv := newTestServer(deps)
		Reset(srv.Close)

		Convey("When posting a valid event", func() {
			deps.ingestOutcome = api.Outcome{Success: true}
			resp, body := postJSON(t, srv.URL+"/ingest", eventBody("e1"))

			Convey("Then it is accepted with the three independent booleans", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				So(body["status"], ShouldEqual, "accepted")
				So(body["success"], ShouldEqual, true)
				So(body["duplicate"], ShouldEqual, false)
				So(body["flagged"], ShouldEqual, false)
				So(deps.ingested, ShouldHaveLength, 1)
				So(deps.ingested[0].ID, ShouldEqual, "e1")
			})
		})

		Convey("When the event is a duplicate", func() {
			deps.ingestOutcome = api.Outcome{Success: true, Duplicate: true}
			resp, body := postJSON(t, srv.URL+"/ingest", eventBody("e1"))

			Convey("Then the ack reports the duplicate as a success", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body["status"], ShouldEqual, "duplicate")
				So(body["success"], ShouldEqual, true)
				So(body["duplicate"], ShouldEqual, true)
			})
		})

		Convey("When the event is flagged", func() {
			deps.ingestOutcome = api.Outcome{Flagged: true, Reason: "superhuman_pace"}
			resp, body := postJSON(t, srv.URL+"/ingest", eventBody("e1"))

			Convey("Then the ack carries the flag reason and is not a success", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(body["status"], ShouldEqual, "flagged")
				So(body["success"], ShouldEqual, false)
				So(body["flagged"], ShouldEqual, true)
				So(body["reason"], ShouldEqual, "superhuman_pace")
			})
		})

		Convey("When the body is not JSON", func() {
			resp, _ := postJSON(t, srv.URL+"/ingest", "not json")

			Convey("Then the request is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the event kind is wrong", func() {
			resp, _ := postJSON(t, srv.URL+"/ingest",
				`{"id":"e1","pubkey":"pkA","created_at":1700000000,"kind":1,"tags":[]}`)

			Convey("Then the request is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When normalization rejects the event", func() {
			deps.ingestErr = &normalize.ParseError{EventID: "e1", Reason: "no usable workout data"}
			resp, body := postJSON(t, srv.URL+"/ingest", eventBody("e1"))

			Convey("Then it is unprocessable", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusUnprocessableEntity)
				So(body["code"], ShouldEqual, "unparsable_event")
			})
		})
	})
}

func TestScanEndpoint(t *testing.T) {
	Convey("Given the API server", t, func() {
		deps := newStubDeps()
		srv := newTestServer(deps)
		Reset(srv.Close)

		Convey("When requesting a scan", func() {
			deps.scanReport = service.ScanReport{Fetched: 5, Enqueued: 5}
			resp, body := postJSON(t, srv.URL+"/scan", `{"authors":["pkA"]}`)

			Convey("Then the report is returned as accepted", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(body["fetched"], ShouldEqual, 5)
				So(body["enqueued"], ShouldEqual, 5)
				So(body["dropped"], ShouldEqual, 0)
			})
		})

		Convey("When the relay fetch fails", func() {
			deps.scanErr = fmt.Errorf("all relays unreachable")
			resp, body := postJSON(t, srv.URL+"/scan", `{}`)

			Convey("Then the failure maps to a gateway error", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadGateway)
				So(body["code"], ShouldEqual, "relay_fetch_failed")
			})
		})
	})
}

func TestCompetitionEndpoints(t *testing.T) {
	Convey("Given the API server", t, func() {
		deps := newStubDeps()
		srv := newTestServer(deps)
		Reset(srv.Close)

		Convey("When creating a competition", func() {
			resp, body := postJSON(t, srv.URL+"/competitions",
				`{"name":"January 5k","activity":"running","scoring_method":"total_distance","start_ts":1,"end_ts":2}`)

			Convey("Then it is created with an id", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				So(body["id"], ShouldEqual, "c1")
				So(body["activity"], ShouldEqual, "running")
			})

			Convey("And participants can join it", func() {
				jr, jbody := postJSON(t, srv.URL+"/competitions/c1/participants", `{"pubkey":"pkA"}`)
				So(jr.StatusCode, ShouldEqual, http.StatusOK)
				So(jbody["status"], ShouldEqual, "joined")
				So(deps.joins, ShouldResemble, []string{"c1:pkA"})
			})

			Convey("And its leaderboard is served", func() {
				deps.entries = []api.Entry{{Rank: 1, PubKey: "pkA", Score: 5000, WorkoutCount: 1}}
				resp, err := http.Get(srv.URL + "/competitions/c1/leaderboard")
				So(err, ShouldBeNil)
				defer resp.Body.Close()
				var entries []api.Entry
				So(json.NewDecoder(resp.Body).Decode(&entries), ShouldBeNil)
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(entries, ShouldHaveLength, 1)
				So(entries[0].PubKey, ShouldEqual, "pkA")
			})

			Convey("And an empty leaderboard is an empty array", func() {
				resp, err := http.Get(srv.URL + "/competitions/c1/leaderboard")
				So(err, ShouldBeNil)
				defer resp.Body.Close()
				var entries []api.Entry
				So(json.NewDecoder(resp.Body).Decode(&entries), ShouldBeNil)
				So(entries, ShouldNotBeNil)
				So(entries, ShouldBeEmpty)
			})
		})

		Convey("When the competition definition is invalid", func() {
			resp, _ := postJSON(t, srv.URL+"/competitions", `{"name":""}`)

			Convey("Then the request is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When joining an unknown competition", func() {
			resp, _ := postJSON(t, srv.URL+"/competitions/nope/participants", `{"pubkey":"pkA"}`)

			Convey("Then it is not found", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When fetching an unknown competition", func() {
			resp, err := http.Get(srv.URL + "/competitions/nope")
			So(err, ShouldBeNil)
			resp.Body.Close()

			Convey("Then it is not found", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestStatsEndpoint(t *testing.T) {
	Convey("Given the API server", t, func() {
		deps := newStubDeps()
		srv := newTestServer(deps)
		Reset(srv.Close)

		Convey("When fetching stats", func() {
			resp, err := http.Get(srv.URL + "/stats")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			var stats map[string]any
			So(json.NewDecoder(resp.Body).Decode(&stats), ShouldBeNil)

			Convey("Then the service stats come back", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(stats["started"], ShouldEqual, true)
			})
		})
	})
}
