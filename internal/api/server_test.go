package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-academy/internal/api"
	"github.com/p-n-ai/pai-academy/internal/catalog"
	"github.com/p-n-ai/pai-academy/internal/progress"
	"github.com/p-n-ai/pai-academy/internal/storage"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func newTestServer(t *testing.T) (*api.Server, *api.Hub) {
	t.Helper()
	cat, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	hub := api.NewHub()
	store, err := progress.NewStore(progress.StoreConfig{
		KV:      storage.NewMemoryKV(),
		Catalog: cat,
		Events:  hub,
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return api.NewServer(progress.NewService(store, 0), hub), hub
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: response is not JSON: %s", method, path, rec.Body.String())
		}
	}
	return rec, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, raw)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec, env := do(t, srv.Router(), http.MethodGet, path, "")
		if rec.Code != http.StatusOK || !env.Success {
			t.Errorf("GET %s = %d %s, want 200 success", path, rec.Code, rec.Body.String())
		}
	}
}

func TestCatalogEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	tests := []struct {
		name    string
		path    string
		status  int
		wantIDs []string
	}{
		{"all", "/api/v1/catalog", http.StatusOK, nil},
		{"category", "/api/v1/catalog?category=medical", http.StatusOK, []string{"medical-terminology", "medical-drug-names-quiz"}},
		{"sort by duration desc", "/api/v1/catalog?category=medical,legal&sort=duration&order=desc", http.StatusOK,
			[]string{"legal-transcription", "medical-terminology", "medical-drug-names-quiz"}},
		{"invalid sort", "/api/v1/catalog?sort=popularity", http.StatusUnprocessableEntity, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodGet, tt.path, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				if env.Error == nil || env.Error.Fields["sort_by"] == "" {
					t.Errorf("error = %+v, want sort_by field error", env.Error)
				}
				return
			}
			resp := decode[struct {
				Items []catalog.Item `json:"items"`
				Total int            `json:"total"`
			}](t, env.Data)
			if tt.wantIDs == nil {
				if resp.Total != 8 {
					t.Errorf("total = %d, want 8", resp.Total)
				}
				return
			}
			var ids []string
			for _, it := range resp.Items {
				ids = append(ids, it.ID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}

	rec, _ := do(t, h, http.MethodGet, "/api/v1/catalog/typing-speed", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET item = %d, want 200", rec.Code)
	}
	rec, env := do(t, h, http.MethodGet, "/api/v1/catalog/missing", "")
	if rec.Code != http.StatusNotFound || env.Error.Code != "not_found" {
		t.Errorf("GET missing item = %d %+v, want 404 not_found", rec.Code, env.Error)
	}

	rec, env = do(t, h, http.MethodGet, "/api/v1/catalog/facets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET facets = %d", rec.Code)
	}
	facets := decode[struct {
		Categories []string `json:"categories"`
	}](t, env.Data)
	if diff := cmp.Diff([]string{"legal", "media", "medical", "productivity", "transcription"}, facets.Categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
}

func TestProgressFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()
	const base = "/api/v1/users/u1"

	rec, env := do(t, h, http.MethodPost, base+"/enrollments/typing-speed", "")
	if rec.Code != http.StatusCreated || !env.Success || env.Message == "" {
		t.Fatalf("enroll = %d %s", rec.Code, rec.Body.String())
	}
	rec, env = do(t, h, http.MethodPost, base+"/enrollments/typing-speed", "")
	if rec.Code != http.StatusConflict || env.Error.Code != "already_enrolled" {
		t.Errorf("second enroll = %d %+v, want 409 already_enrolled", rec.Code, env.Error)
	}

	rec, env = do(t, h, http.MethodPost, base+"/progress/typing-speed/units/ts-01/complete", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete = %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[progress.Record](t, env.Data); got.Percentage != 50 {
		t.Errorf("percentage = %v, want 50", got.Percentage)
	}

	rec, _ = do(t, h, http.MethodPost, base+"/progress/typing-speed/units/nope/complete", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("complete unknown unit = %d, want 404", rec.Code)
	}

	rec, _ = do(t, h, http.MethodPut, base+"/progress/typing-speed/position", `{"unit_id":"ts-02","position_seconds":42}`)
	if rec.Code != http.StatusOK {
		t.Errorf("position = %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = do(t, h, http.MethodPut, base+"/progress/typing-speed/position", `{bad json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("position with bad body = %d, want 400", rec.Code)
	}

	rec, env = do(t, h, http.MethodPost, base+"/progress/typing-speed/bookmark", "")
	if rec.Code != http.StatusOK || !decode[progress.Record](t, env.Data).Bookmarked {
		t.Errorf("bookmark = %d %s", rec.Code, rec.Body.String())
	}

	rec, env = do(t, h, http.MethodGet, base+"/progress", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list progress = %d", rec.Code)
	}
	recs := decode[[]progress.Record](t, env.Data)
	if len(recs) != 1 || recs[0].CurrentUnitID != "ts-02" {
		t.Errorf("list progress = %+v", recs)
	}

	rec, env = do(t, h, http.MethodGet, "/api/v1/catalog?user=u1&status=in_progress", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog by status = %d", rec.Code)
	}
	if got := decode[struct {
		Total int `json:"total"`
	}](t, env.Data); got.Total != 1 {
		t.Errorf("in_progress total = %d, want 1", got.Total)
	}

	rec, _ = do(t, h, http.MethodDelete, base+"/enrollments/typing-speed", "")
	if rec.Code != http.StatusOK {
		t.Errorf("unenroll = %d", rec.Code)
	}
	rec, _ = do(t, h, http.MethodGet, base+"/progress/typing-speed", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after unenroll = %d, want 404", rec.Code)
	}

	rec, _ = do(t, h, http.MethodDelete, base+"/progress", "")
	if rec.Code != http.StatusOK {
		t.Errorf("reset = %d", rec.Code)
	}
}

func TestRatingsAndFeedback(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()
	const base = "/api/v1/items/punctuation-quiz"

	do(t, h, http.MethodPost, base+"/ratings", `{"user_id":"u1","rating":5}`)
	rec, env := do(t, h, http.MethodPost, base+"/ratings", `{"user_id":"u2","rating":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("rate = %d %s", rec.Code, rec.Body.String())
	}
	sum := decode[progress.RatingSummary](t, env.Data)
	if sum.Count != 2 || sum.Average != 3.5 {
		t.Errorf("summary = %+v, want avg 3.5 count 2", sum)
	}

	rec, env = do(t, h, http.MethodPost, base+"/ratings", `{"user_id":"u1","rating":7}`)
	if rec.Code != http.StatusUnprocessableEntity || env.Error.Message != progress.ErrInvalidRating.Error() {
		t.Errorf("invalid rating = %d %+v", rec.Code, env.Error)
	}

	rec, env = do(t, h, http.MethodPost, base+"/feedback", `{"user_id":"u1","comment":"   "}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty feedback = %d, want 422", rec.Code)
	}
	if env.Error.Fields["comment"] == "" {
		t.Errorf("fields = %v, want comment error", env.Error.Fields)
	}

	rec, _ = do(t, h, http.MethodPost, base+"/feedback", `{"user_id":"u1","comment":"Clear examples"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("feedback = %d %s", rec.Code, rec.Body.String())
	}
	rec, env = do(t, h, http.MethodGet, base+"/feedback", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list feedback = %d", rec.Code)
	}
	if entries := decode[[]progress.Feedback](t, env.Data); len(entries) != 1 || entries[0].Comment != "Clear examples" {
		t.Errorf("feedback = %+v", entries)
	}
}

func TestFiltersAndPreferences(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()
	const base = "/api/v1/users/u1"

	rec, env := do(t, h, http.MethodPatch, base+"/filters", `{"categories":["transcription"],"sort_by":"title"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch filters = %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[catalog.Options](t, env.Data); got.SortBy != catalog.SortTitle {
		t.Errorf("filters = %+v", got)
	}

	rec, env = do(t, h, http.MethodGet, base+"/catalog", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("user catalog = %d", rec.Code)
	}
	resp := decode[struct {
		Items []catalog.Item `json:"items"`
	}](t, env.Data)
	var ids []string
	for _, it := range resp.Items {
		ids = append(ids, it.ID)
	}
	want := []string{"punctuation-quiz", "transcription-fundamentals", "verbatim-quiz-series"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("saved filter view mismatch (-want +got):\n%s", diff)
	}

	rec, env = do(t, h, http.MethodPatch, base+"/filters", `{"duration":"forever"}`)
	if rec.Code != http.StatusUnprocessableEntity || env.Error.Fields["duration"] == "" {
		t.Errorf("invalid filter = %d %+v", rec.Code, env.Error)
	}

	rec, _ = do(t, h, http.MethodDelete, base+"/filters", "")
	if rec.Code != http.StatusOK {
		t.Errorf("clear filters = %d", rec.Code)
	}
	_, env = do(t, h, http.MethodGet, base+"/catalog", "")
	if got := decode[struct {
		Total int `json:"total"`
	}](t, env.Data); got.Total != 8 {
		t.Errorf("after clear total = %d, want 8", got.Total)
	}

	rec, env = do(t, h, http.MethodPut, base+"/preferences", `{"flags":{"compact_view":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put preferences = %d", rec.Code)
	}
	if prefs := decode[progress.Preferences](t, env.Data); !prefs.Flags["compact_view"] {
		t.Errorf("preferences = %+v", prefs)
	}
}

func TestReport(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	do(t, h, http.MethodPost, "/api/v1/users/u1/enrollments/legal-transcription", "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/report.xlsx", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("report = %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "progress-u1.xlsx") {
		t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows("Progress")
	if len(rows) != 2 || rows[1][0] != "legal-transcription" {
		t.Errorf("progress rows = %v", rows)
	}
}

func TestStream(t *testing.T) {
	srv, hub := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx := t.Context()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/users/u1/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("u1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/v1/users/u1/enrollments/typing-speed", "application/json", nil)
	if err != nil {
		t.Fatalf("enroll request error = %v", err)
	}
	resp.Body.Close()

	var event progress.Event
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("wsjson.Read() error = %v", err)
	}
	if event.EventType != progress.EventEnrolled || event.ItemID != "typing-speed" {
		t.Errorf("event = %+v, want enrolled typing-speed", event)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestHub_OnlyDeliversToOwner(t *testing.T) {
	hub := api.NewHub()
	mine, unsubscribe := hub.Subscribe("u1")
	defer unsubscribe()
	other, unsubscribeOther := hub.Subscribe("u2")

	_ = hub.LogEvent(t.Context(), progress.Event{UserID: "u1", EventType: progress.EventEnrolled})

	select {
	case <-mine:
	default:
		t.Error("owner did not receive event")
	}
	select {
	case e := <-other:
		t.Errorf("other user received %+v", e)
	default:
	}

	unsubscribeOther()
	if n := hub.Subscribers("u2"); n != 0 {
		t.Errorf("Subscribers(u2) after unsubscribe = %d, want 0", n)
	}
}
