package playback

import (
	"context"
	"sync"
	"time"

	"camviewer/internal/signal"
)

// defaultDateIndexTTL is how long a recording-date listing stays fresh.
const defaultDateIndexTTL = 60 * time.Second

// DateIndex caches the backend's recording-date listing for one stream.
// It refreshes on demand when stale rather than on a timer, so the live
// ticker stays the only periodic background activity of the session.
type DateIndex struct {
	api      signal.API
	streamID string
	ttl      time.Duration
	clock    func() time.Time

	mu        sync.RWMutex
	dates     []signal.RecordingDate
	fetchedAt time.Time
}

// NewDateIndex returns an empty index for streamID. ttl <= 0 selects the
// default; clock may be nil for time.Now.
func NewDateIndex(api signal.API, streamID string, ttl time.Duration, clock func() time.Time) *DateIndex {
	if ttl <= 0 {
		ttl = defaultDateIndexTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &DateIndex{api: api, streamID: streamID, ttl: ttl, clock: clock}
}

// Dates returns the recording dates, newest first, refreshing from the
// backend when the cached listing is stale. A refresh failure with a
// non-empty cache serves the stale listing instead of an error.
func (d *DateIndex) Dates(ctx context.Context) ([]signal.RecordingDate, error) {
	d.mu.RLock()
	fresh := !d.fetchedAt.IsZero() && d.clock().Sub(d.fetchedAt) < d.ttl
	cached := d.dates
	d.mu.RUnlock()

	if fresh {
		return cached, nil
	}

	if err := d.Refresh(ctx); err != nil {
		if len(cached) > 0 {
			return cached, nil
		}
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dates, nil
}

// Refresh fetches the listing unconditionally.
func (d *DateIndex) Refresh(ctx context.Context) error {
	dates, err := d.api.RecordingDates(ctx, d.streamID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.dates = dates
	d.fetchedAt = d.clock()
	d.mu.Unlock()
	return nil
}

// EarliestStart returns the start of the oldest recorded day, for deriving
// the timeline's lower bound. ok is false when nothing is recorded or the
// listing is unavailable.
func (d *DateIndex) EarliestStart(ctx context.Context) (time.Time, bool) {
	dates, err := d.Dates(ctx)
	if err != nil || len(dates) == 0 {
		return time.Time{}, false
	}
	// Listing is newest first; the oldest day is last.
	oldest := dates[len(dates)-1].Date
	t, perr := time.ParseInLocation("20060102", oldest, time.UTC)
	if perr != nil {
		return time.Time{}, false
	}
	return t, true
}
