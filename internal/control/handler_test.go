package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"camviewer/internal/platform/logger"
	"camviewer/internal/playback"
	"camviewer/internal/render"
	"camviewer/internal/signal"
)

// nopLive satisfies playback.LivePlayer without a backend.
type nopLive struct {
	mu       sync.Mutex
	attaches int
}

func (l *nopLive) Attach(ctx context.Context, streamID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attaches++
	return nil
}

func (l *nopLive) Detach() {}

// idleEngine satisfies playback.FeedEngine and never emits anything.
type idleEngine struct {
	events chan playback.FeedEvent
}

func (e *idleEngine) Start() error                      { return nil }
func (e *idleEngine) Events() <-chan playback.FeedEvent { return e.events }
func (e *idleEngine) SkipBadSegment() error             { return playback.ErrSkipUnsupported }
func (e *idleEngine) Close()                            {}

type testFixture struct {
	handler *Handler
	arbiter *playback.Arbiter
	router  *chi.Mux
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	log := logger.Discard()
	sink := render.NewSink(log, nil)

	player := playback.NewSegmentPlayer(playback.SegmentPlayerConfig{
		IndexURL: func(f signal.SourceFilter) string { return "http://backend/playlist.m3u8" },
		Factory: func(indexURL string, s playback.Surface) (playback.FeedEngine, error) {
			return &idleEngine{events: make(chan playback.FeedEvent)}, nil
		},
		Surface: sink,
		Logger:  log,
	})
	session := playback.NewSessionController(playback.SessionControllerConfig{
		Logger:            log,
		HeartbeatInterval: -1,
	})
	arbiter := playback.NewArbiter(playback.ArbiterConfig{
		StreamID:   "cam1",
		Live:       &nopLive{},
		Historical: player,
		Surface:    sink,
		Logger:     log,
	})
	arbiter.Start(context.Background())
	t.Cleanup(arbiter.Close)

	h := NewHandler(arbiter, session, player, sink, log)
	r := chi.NewRouter()
	r.Route("/session", h.Routes)
	return &testFixture{handler: h, arbiter: arbiter, router: r}
}

func (f *testFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_GetStatus(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodGet, "/session/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Playhead struct {
			Mode string `json:"mode"`
		} `json:"playhead"`
		Session struct {
			Status string `json:"status"`
		} `json:"session"`
		Player struct {
			State string `json:"state"`
		} `json:"player"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.Playhead.Mode != "live" {
		t.Errorf("expected live mode, got %q", resp.Playhead.Mode)
	}
	if resp.Session.Status != "detached" {
		t.Errorf("expected detached session, got %q", resp.Session.Status)
	}
	if resp.Player.State != "idle" {
		t.Errorf("expected idle player, got %q", resp.Player.State)
	}
}

func TestHandler_GetTimeline(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodGet, "/session/timeline", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var tl playback.Timeline
	if err := json.NewDecoder(rec.Body).Decode(&tl); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if tl.End.IsZero() {
		t.Error("expected a non-zero timeline end")
	}
}

func TestHandler_GetDates_without_index(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodGet, "/session/dates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Seek(t *testing.T) {
	f := newTestFixture(t)

	target := time.Now().Add(-30 * time.Second).UTC()
	rec := f.do(t, http.MethodPost, "/session/seek", map[string]any{
		"position": target.Format(time.RFC3339Nano),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var snap playback.ArbiterSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Mode != "historical" {
		t.Errorf("expected historical after a 30s back seek, got %q", snap.Mode)
	}
}

func TestHandler_Seek_bad_request(t *testing.T) {
	f := newTestFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/session/seek", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/session/seek", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing position, got %d", rec.Code)
	}
}

func TestHandler_GoLive(t *testing.T) {
	f := newTestFixture(t)

	f.arbiter.Seek(time.Now().Add(-time.Hour))

	rec := f.do(t, http.MethodPost, "/session/live", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap playback.ArbiterSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Mode != "live" {
		t.Errorf("expected live after go-live, got %q", snap.Mode)
	}
}

func TestHandler_Drag(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/session/drag", map[string]any{"active": true})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !f.arbiter.Snapshot().Dragging {
		t.Error("expected the drag flag set")
	}

	rec = f.do(t, http.MethodPost, "/session/drag", map[string]any{"active": false})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if f.arbiter.Snapshot().Dragging {
		t.Error("expected the drag flag cleared")
	}
}

func TestHandler_SelectDate(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/session/date", map[string]any{
		"date":  "20260109",
		"start": 3600,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap playback.ArbiterSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Mode != "historical" {
		t.Errorf("expected historical after a date selection, got %q", snap.Mode)
	}
	want := time.Date(2026, 1, 9, 1, 0, 0, 0, time.UTC)
	if !snap.Position.Equal(want) {
		t.Errorf("expected position %v, got %v", want, snap.Position)
	}
}

func TestHandler_SelectDate_bad_request(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/session/date", map[string]any{"date": "2026-01-09"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed date, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/session/date", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing date, got %d", rec.Code)
	}
}
