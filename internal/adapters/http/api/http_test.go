package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/okian/soccer-tracker/internal/adapters/http/api"
	"github.com/okian/soccer-tracker/internal/domain/dedupe"
	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeDeps struct {
	mu       sync.Mutex
	players  map[string]model.Player
	stats    map[string][]model.StatRecord
	keys     map[string]model.StatRecord
	view     model.View
	viewErr  error
	gotWait  bool
	gotAge   int
	gotTopN  int
	busyKey  string
	refreshN int
}

func newFakeDeps() *fakeDeps {
	return &fakeDeps{
		players: map[string]model.Player{"p1": {ID: "p1", Name: "Ada", Age: 21, Team: "Reds"}},
		stats: map[string][]model.StatRecord{"p1": {
			{ID: "s2", PlayerID: "p1", MatchDate: model.NewDate(2024, time.March, 1), Goals: 2, MinutesPlayed: 90},
			{ID: "s1", PlayerID: "p1", MatchDate: model.NewDate(2024, time.January, 1), Goals: 1, MinutesPlayed: 80},
		}},
		keys: map[string]model.StatRecord{},
		view: model.View{PlayerID: "p1", Generation: 3, State: model.StateIdle, StatsDigest: "abc", StatCount: 2},
	}
}

func notFound(id string) error {
	return model.Errorf(model.KindNotFound, "get player", "player %s", id)
}

func (f *fakeDeps) ListPlayers(context.Context) ([]model.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Player, 0, len(f.players))
	for _, p := range f.players {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeDeps) GetPlayer(_ context.Context, id string) (model.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[id]
	if !ok {
		return model.Player{}, notFound(id)
	}
	return p, nil
}

func (f *fakeDeps) CreatePlayer(_ context.Context, pf model.PlayerFields) (model.Player, error) {
	if pf.Name == "" {
		return model.Player{}, model.Errorf(model.KindValidation, "create player", "name is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := pf.WithID(fmt.Sprintf("p%d", len(f.players)+1))
	f.players[p.ID] = p
	return p, nil
}

func (f *fakeDeps) UpdatePlayer(_ context.Context, id string, pf model.PlayerFields) (model.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.players[id]; !ok {
		return model.Player{}, notFound(id)
	}
	f.players[id] = pf.WithID(id)
	return f.players[id], nil
}

func (f *fakeDeps) DeletePlayer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.players[id]; !ok {
		return notFound(id)
	}
	delete(f.players, id)
	return nil
}

func (f *fakeDeps) ListStats(_ context.Context, playerID string) ([]model.StatRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs, ok := f.stats[playerID]
	if !ok {
		return nil, notFound(playerID)
	}
	return rs, nil
}

func (f *fakeDeps) StatTrend(ctx context.Context, playerID string) ([]model.StatRecord, error) {
	rs, err := f.ListStats(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return []model.StatRecord{rs[1], rs[0]}, nil
}

func (f *fakeDeps) CreateStat(_ context.Context, key, playerID string, raw map[string]any) (model.StatRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key != "" && key == f.busyKey {
		return model.StatRecord{}, model.NewError(model.KindValidation, "create stat", dedupe.ErrInProgress)
	}
	if rec, ok := f.keys[key]; ok && key != "" {
		return rec, nil
	}
	goals, _ := raw["goals"].(float64)
	if goals < 0 {
		return model.StatRecord{}, model.Errorf(model.KindValidation, "create stat", "goals must not be negative")
	}
	rec := model.StatRecord{ID: fmt.Sprintf("s%d", len(f.stats[playerID])+1), PlayerID: playerID, Goals: int(goals)}
	f.stats[playerID] = append(f.stats[playerID], rec)
	if key != "" {
		f.keys[key] = rec
	}
	return rec, nil
}

func (f *fakeDeps) CreateStats(ctx context.Context, playerID string, raws []map[string]any) ([]model.StatRecord, error) {
	var out []model.StatRecord
	for i, raw := range raws {
		rec, err := f.CreateStat(ctx, "", playerID, raw)
		if err != nil {
			return out, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeDeps) UpdateStat(_ context.Context, playerID, statID string, raw map[string]any) (model.StatRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.stats[playerID] {
		if r.ID == statID {
			if g, ok := raw["goals"].(float64); ok {
				r.Goals = int(g)
			}
			f.stats[playerID][i] = r
			return r, nil
		}
	}
	return model.StatRecord{}, model.Errorf(model.KindNotFound, "update stat", "stat %s", statID)
}

func (f *fakeDeps) DeleteStat(_ context.Context, playerID, statID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := f.stats[playerID]
	for i, r := range rs {
		if r.ID == statID {
			f.stats[playerID] = append(rs[:i:i], rs[i+1:]...)
			return nil
		}
	}
	return model.Errorf(model.KindNotFound, "delete stat", "stat %s", statID)
}

func (f *fakeDeps) Analytics(_ context.Context, playerID string, wait bool) (model.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotWait = wait
	if _, ok := f.players[playerID]; !ok {
		return model.View{}, notFound(playerID)
	}
	return f.view, f.viewErr
}

func (f *fakeDeps) RefreshAnalytics(ctx context.Context, playerID string) (model.View, error) {
	f.mu.Lock()
	f.refreshN++
	f.mu.Unlock()
	return f.Analytics(ctx, playerID, false)
}

func (f *fakeDeps) Insights(_ context.Context, maxAge, topN int) (model.Insights, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotAge, f.gotTopN = maxAge, topN
	return model.Insights{TopUndervalued: []model.UndervaluedPlayer{{PlayerID: "p1", Name: "Ada", Age: 21, Score: 1.2}}}, nil
}

type staticStats map[string]any

func (s staticStats) GetStats() map[string]any { return s }

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return body.Code
}

func TestRoutes(t *testing.T) {
	Convey("Given the API router over fake dependencies", t, func() {
		deps := newFakeDeps()
		h := api.NewServer(deps, staticStats{"started": true}, api.WithLogger(logger.Nop())).Routes()

		Convey("Players", func() {
			Convey("are created and read back", func() {
				rec := do(h, http.MethodPost, "/players", `{"name":"Bo","age":19,"team":"Blues"}`)
				So(rec.Code, ShouldEqual, http.StatusCreated)
				var p model.Player
				So(json.Unmarshal(rec.Body.Bytes(), &p), ShouldBeNil)
				So(p.Name, ShouldEqual, "Bo")

				rec = do(h, http.MethodGet, "/players/"+p.ID, "")
				So(rec.Code, ShouldEqual, http.StatusOK)
			})

			Convey("an unknown player is 404", func() {
				rec := do(h, http.MethodGet, "/players/ghost", "")
				So(rec.Code, ShouldEqual, http.StatusNotFound)
				So(errorCode(rec), ShouldEqual, "not_found")
			})

			Convey("malformed JSON is a bad request", func() {
				rec := do(h, http.MethodPost, "/players", `{"name":`)
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(rec), ShouldEqual, "bad_request")
			})

			Convey("a validation failure is 400", func() {
				rec := do(h, http.MethodPost, "/players", `{"age":19}`)
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(rec), ShouldEqual, "validation")
			})

			Convey("update and delete", func() {
				rec := do(h, http.MethodPut, "/players/p1", `{"name":"Ada","age":22,"team":"Greens"}`)
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(deps.players["p1"].Team, ShouldEqual, "Greens")

				So(do(h, http.MethodDelete, "/players/p1", "").Code, ShouldEqual, http.StatusNoContent)
				So(do(h, http.MethodDelete, "/players/p1", "").Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("Statistics", func() {
			Convey("an idempotency key returns the first record on retry", func() {
				first := do(h, http.MethodPost, "/players/p1/stats", `{"goals":1}`, api.IdempotencyHeader, "k1")
				second := do(h, http.MethodPost, "/players/p1/stats", `{"goals":1}`, api.IdempotencyHeader, "k1")
				So(first.Code, ShouldEqual, http.StatusCreated)
				So(second.Body.String(), ShouldEqual, first.Body.String())
				So(len(deps.stats["p1"]), ShouldEqual, 3)
			})

			Convey("a key still being written is a conflict", func() {
				deps.busyKey = "k2"
				rec := do(h, http.MethodPost, "/players/p1/stats", `{"goals":1}`, api.IdempotencyHeader, "k2")
				So(rec.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(rec), ShouldEqual, "in_progress")
			})

			Convey("a batch stops at the first invalid record and reports what was written", func() {
				rec := do(h, http.MethodPost, "/players/p1/stats/batch", `[{"goals":1},{"goals":-1},{"goals":2}]`)
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				var body struct {
					Created []model.StatRecord `json:"created"`
					Error   struct {
						Code    string `json:"code"`
						Message string `json:"message"`
					} `json:"error"`
				}
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(len(body.Created), ShouldEqual, 1)
				So(body.Error.Code, ShouldEqual, "validation")
				So(body.Error.Message, ShouldContainSubstring, "record 1")
			})

			Convey("an empty batch is rejected", func() {
				So(do(h, http.MethodPost, "/players/p1/stats/batch", `[]`).Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("the trend lists records oldest first", func() {
				rec := do(h, http.MethodGet, "/players/p1/stats/trend", "")
				So(rec.Code, ShouldEqual, http.StatusOK)
				var rs []model.StatRecord
				So(json.Unmarshal(rec.Body.Bytes(), &rs), ShouldBeNil)
				So(rs[0].ID, ShouldEqual, "s1")
			})

			Convey("update and delete address one record", func() {
				rec := do(h, http.MethodPut, "/players/p1/stats/s1", `{"goals":4}`)
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(do(h, http.MethodDelete, "/players/p1/stats/s1", "").Code, ShouldEqual, http.StatusNoContent)
				So(do(h, http.MethodPut, "/players/p1/stats/s1", `{"goals":4}`).Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("Analytics", func() {
			Convey("the view carries an ETag and a matching request is not modified", func() {
				rec := do(h, http.MethodGet, "/players/p1/analytics", "")
				So(rec.Code, ShouldEqual, http.StatusOK)
				tag := rec.Header().Get("ETag")
				So(tag, ShouldEqual, `"abc-3-idle"`)

				rec = do(h, http.MethodGet, "/players/p1/analytics", "", "If-None-Match", tag)
				So(rec.Code, ShouldEqual, http.StatusNotModified)
			})

			Convey("wait is passed through and must be a boolean", func() {
				So(do(h, http.MethodGet, "/players/p1/analytics?wait=true", "").Code, ShouldEqual, http.StatusOK)
				So(deps.gotWait, ShouldBeTrue)
				So(do(h, http.MethodGet, "/players/p1/analytics?wait=soon", "").Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("a wait that times out still answers with the latest view", func() {
				deps.view.State = model.StateInFlight
				deps.viewErr = fmt.Errorf("await analytics: %w", context.DeadlineExceeded)
				rec := do(h, http.MethodGet, "/players/p1/analytics?wait=true", "")
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Header().Get("ETag"), ShouldEqual, `"abc-3-in_flight"`)
			})

			Convey("an upstream model error is a bad gateway", func() {
				deps.viewErr = model.Errorf(model.KindUpstream, "analytics", "model crashed")
				rec := do(h, http.MethodGet, "/players/p1/analytics", "")
				So(rec.Code, ShouldEqual, http.StatusBadGateway)
				So(errorCode(rec), ShouldEqual, "upstream_model_error")
			})

			Convey("refresh is accepted", func() {
				So(do(h, http.MethodPost, "/players/p1/analytics/refresh", "").Code, ShouldEqual, http.StatusAccepted)
				So(deps.refreshN, ShouldEqual, 1)
			})

			Convey("insights take optional positive filters", func() {
				So(do(h, http.MethodGet, "/insights", "").Code, ShouldEqual, http.StatusOK)
				So(deps.gotAge, ShouldEqual, 0)
				So(do(h, http.MethodGet, "/insights?max_age=21&top_n=3", "").Code, ShouldEqual, http.StatusOK)
				So(deps.gotAge, ShouldEqual, 21)
				So(deps.gotTopN, ShouldEqual, 3)
				So(do(h, http.MethodGet, "/insights?top_n=0", "").Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("Operational endpoints", func() {
			rec := do(h, http.MethodGet, "/stats", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"started":true`)
			So(do(h, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
		})
	})
}

type fakeStream struct {
	views     chan model.View
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{views: make(chan model.View, 1), closed: make(chan struct{})}
}

func (f *fakeStream) Select(_ context.Context, playerID string) error {
	if playerID == "ghost" {
		return model.Errorf(model.KindNotFound, "select", "player %s", playerID)
	}
	select {
	case <-f.views:
	default:
	}
	f.views <- model.EmptyView(playerID)
	return nil
}

func (f *fakeStream) Subscribe() (<-chan model.View, func()) { return f.views, func() {} }

func (f *fakeStream) Close() { f.closeOnce.Do(func() { close(f.closed) }) }

func readFrame(ctx context.Context, conn *websocket.Conn) (api.StreamMessage, error) {
	var msg api.StreamMessage
	_, data, err := conn.Read(ctx)
	if err != nil {
		return msg, err
	}
	err = json.Unmarshal(data, &msg)
	return msg, err
}

func TestStream(t *testing.T) {
	Convey("Given a websocket stream", t, func() {
		stream := newFakeStream()
		srv := httptest.NewServer(api.NewServer(newFakeDeps(), staticStats{},
			api.WithLogger(logger.Nop()),
			api.WithStreams(func() (api.StreamSession, error) { return stream, nil }),
		).Routes())
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/players/p1/analytics/stream"
		conn, _, err := websocket.Dial(ctx, url, nil)
		So(err, ShouldBeNil)
		defer conn.CloseNow()

		Convey("The path player is streamed first", func() {
			msg, err := readFrame(ctx, conn)
			So(err, ShouldBeNil)
			So(msg.Type, ShouldEqual, api.MessageView)
			So(msg.View.PlayerID, ShouldEqual, "p1")

			Convey("A select frame switches the player", func() {
				frame, _ := json.Marshal(api.StreamMessage{Type: api.MessageSelect, PlayerID: "p2"})
				So(conn.Write(ctx, websocket.MessageText, frame), ShouldBeNil)
				msg, err := readFrame(ctx, conn)
				So(err, ShouldBeNil)
				So(msg.PlayerID, ShouldEqual, "p2")
			})

			Convey("An unknown player is reported as an error frame", func() {
				frame, _ := json.Marshal(api.StreamMessage{Type: api.MessageSelect, PlayerID: "ghost"})
				So(conn.Write(ctx, websocket.MessageText, frame), ShouldBeNil)
				msg, err := readFrame(ctx, conn)
				So(err, ShouldBeNil)
				So(msg.Type, ShouldEqual, api.MessageError)
				So(msg.Error, ShouldNotBeNil)
			})

			Convey("Closing the socket releases the session", func() {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				select {
				case <-stream.closed:
				case <-ctx.Done():
				}
				So(ctx.Err(), ShouldBeNil)
			})
		})
	})
}
