package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"camviewer/internal/signal"
)

// testClock is a manually advanced clock for cache and timeline tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (a *fakeSignalAPI) dateFetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dateFetches
}

func TestDateIndex_caches_within_ttl(t *testing.T) {
	api := newFakeSignalAPI()
	api.recordingDates = []signal.RecordingDate{
		{Date: "20260110", SegmentCount: 120},
		{Date: "20260109", SegmentCount: 480},
	}
	clock := newTestClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	idx := NewDateIndex(api, "cam1", time.Minute, clock.Now)

	for i := 0; i < 3; i++ {
		dates, err := idx.Dates(context.Background())
		if err != nil {
			t.Fatalf("dates: %v", err)
		}
		if len(dates) != 2 {
			t.Fatalf("expected 2 dates, got %d", len(dates))
		}
	}
	if got := api.dateFetchCount(); got != 1 {
		t.Errorf("expected 1 backend fetch within ttl, got %d", got)
	}

	clock.Advance(2 * time.Minute)
	if _, err := idx.Dates(context.Background()); err != nil {
		t.Fatalf("dates after ttl: %v", err)
	}
	if got := api.dateFetchCount(); got != 2 {
		t.Errorf("expected a refresh after ttl, got %d fetches", got)
	}
}

func TestDateIndex_serves_stale_listing_on_refresh_failure(t *testing.T) {
	api := newFakeSignalAPI()
	api.recordingDates = []signal.RecordingDate{{Date: "20260110", SegmentCount: 12}}
	clock := newTestClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	idx := NewDateIndex(api, "cam1", time.Minute, clock.Now)

	if _, err := idx.Dates(context.Background()); err != nil {
		t.Fatalf("initial fetch: %v", err)
	}

	clock.Advance(2 * time.Minute)
	api.mu.Lock()
	api.recordingErr = errors.New("backend down")
	api.mu.Unlock()

	dates, err := idx.Dates(context.Background())
	if err != nil {
		t.Fatalf("expected the stale listing, got error %v", err)
	}
	if len(dates) != 1 || dates[0].Date != "20260110" {
		t.Errorf("expected the cached listing, got %v", dates)
	}
}

func TestDateIndex_error_with_empty_cache(t *testing.T) {
	api := newFakeSignalAPI()
	api.recordingErr = errors.New("backend down")
	idx := NewDateIndex(api, "cam1", time.Minute, nil)

	if _, err := idx.Dates(context.Background()); err == nil {
		t.Fatal("expected an error when nothing is cached")
	}
}

func TestDateIndex_earliest_start(t *testing.T) {
	api := newFakeSignalAPI()
	api.recordingDates = []signal.RecordingDate{
		{Date: "20260110", SegmentCount: 120},
		{Date: "20260108", SegmentCount: 480},
	}
	idx := NewDateIndex(api, "cam1", time.Minute, nil)

	start, ok := idx.EarliestStart(context.Background())
	if !ok {
		t.Fatal("expected a timeline lower bound")
	}
	want := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("expected %v, got %v", want, start)
	}
}

func TestDateIndex_earliest_start_without_recordings(t *testing.T) {
	api := newFakeSignalAPI()
	idx := NewDateIndex(api, "cam1", time.Minute, nil)

	if _, ok := idx.EarliestStart(context.Background()); ok {
		t.Error("expected no lower bound for an empty recording index")
	}
}
