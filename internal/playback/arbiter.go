package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"camviewer/internal/platform/metrics"
	"camviewer/internal/signal"
)

// LivePlayer is the live-path player the arbiter drives. Implemented by
// SessionController.
type LivePlayer interface {
	Attach(ctx context.Context, streamID string) error
	Detach()
}

// HistoricalPlayer is the historical-path player the arbiter drives.
// Implemented by SegmentPlayer.
type HistoricalPlayer interface {
	Load(filter signal.SourceFilter, at time.Time)
	Retarget(at time.Time)
	Teardown()
	Bucket() string
}

// ArbiterSnapshot is the externally observable arbiter state.
type ArbiterSnapshot struct {
	Timeline      Timeline  `json:"timeline"`
	Position      time.Time `json:"position"`
	Mode          string    `json:"mode"`
	Dragging      bool      `json:"dragging"`
	Transitioning bool      `json:"transitioning"`
}

// ArbiterConfig configures an Arbiter.
type ArbiterConfig struct {
	StreamID   string
	Live       LivePlayer
	Historical HistoricalPlayer
	Surface    Surface
	Dates      *DateIndex
	Logger     *slog.Logger
	Metrics    *metrics.Metrics // optional

	// Clock may be overridden in tests; defaults to time.Now.
	Clock func() time.Time

	LiveThreshold   time.Duration
	TickInterval    time.Duration
	TransitionDelay time.Duration
}

// Arbiter owns the play-head and decides which player feeds the render
// surface. It is the single writer of Timeline and Playhead; every mutation
// re-derives the playback mode, and a mode change swaps the active player.
type Arbiter struct {
	cfg ArbiterConfig
	log *slog.Logger

	mu            sync.Mutex
	timeline      Timeline
	head          Playhead
	filter        signal.SourceFilter // explicit date/time selection; zero = rolling buffer
	transitioning bool
	transTimer    *time.Timer
	started       bool
	closed        bool

	runCtx    context.Context
	runCancel context.CancelFunc

	// liveOps serializes attach/detach against the live player, so a
	// detach issued by one flip can never outrun the attach of the next.
	liveOps chan func()

	tickCancel context.CancelFunc
	tickDone   chan struct{}
}

// NewArbiter returns an arbiter; call Start to begin a session.
func NewArbiter(cfg ArbiterConfig) *Arbiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.LiveThreshold <= 0 {
		cfg.LiveThreshold = DefaultLiveThreshold
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.TransitionDelay <= 0 {
		cfg.TransitionDelay = DefaultTransitionDelay
	}
	return &Arbiter{cfg: cfg, log: cfg.Logger}
}

// Start pins the play-head to now, discovers the timeline's lower bound and
// brings up the live path.
func (a *Arbiter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.runCtx, a.runCancel = context.WithCancel(context.Background())
	a.liveOps = make(chan func(), 16)
	go a.liveLoop(a.runCtx)

	now := a.cfg.Clock()
	a.timeline.End = now
	a.head = Playhead{Position: now, Mode: ModeLive}
	if a.cfg.Dates != nil {
		if start, ok := a.cfg.Dates.EarliestStart(ctx); ok {
			a.timeline.Start = start
		}
	}
	a.startTickerLocked()
	a.mu.Unlock()

	if a.cfg.Metrics != nil {
		a.cfg.Metrics.SetLiveMode(true)
	}
	a.log.Info("playback session starting",
		slog.String("stream_id", a.cfg.StreamID),
		slog.String("mode", ModeLive.String()))
	a.enqueueLiveOp(a.attachLive)
}

// Close tears the session down. The live detach runs to completion here;
// releasing remote resources is not cancelable by the owner going away.
func (a *Arbiter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.stopTickerLocked()
	if a.transTimer != nil {
		a.transTimer.Stop()
		a.transTimer = nil
	}
	if a.runCancel != nil {
		a.runCancel()
	}
	a.mu.Unlock()

	a.cfg.Historical.Teardown()
	a.cfg.Live.Detach()
	if a.cfg.Surface != nil {
		a.cfg.Surface.Clear()
	}
	a.log.Info("playback session closed")
}

// Seek moves the play-head to t and re-derives the mode. While a transition
// is already in flight the position still moves but a further mode flip is
// deferred until the transition window passes.
func (a *Arbiter) Seek(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || !a.started {
		return
	}
	a.head.Position = a.clampLocked(t)
	a.deriveLocked(false)
}

// BeginDrag freezes the timeline's rolling end so the scrub range does not
// move under the viewer's cursor.
func (a *Arbiter) BeginDrag() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.head.Dragging = true
}

// EndDrag resumes normal play-head behavior.
func (a *Arbiter) EndDrag() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.head.Dragging = false
}

// GoLive pins the play-head to now and forces live mode, regardless of drag
// state or a pending transition.
func (a *Arbiter) GoLive() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || !a.started {
		return
	}
	now := a.cfg.Clock()
	a.head.Position = now
	a.timeline.End = now
	a.filter = signal.SourceFilter{}
	if a.head.Mode != ModeLive {
		a.flipLocked(ModeLive, now)
	}
}

// SelectRange points the session at an explicit calendar date (and optional
// time-of-day range). This always lands on the historical path.
func (a *Arbiter) SelectRange(filter signal.SourceFilter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || !a.started || filter.Date == "" {
		return
	}
	a.filter = filter
	at, err := time.ParseInLocation("20060102", filter.Date, time.UTC)
	if err != nil {
		a.log.Warn("invalid date selection", slog.String("date", filter.Date))
		return
	}
	at = at.Add(filter.StartTime)
	a.head.Position = at
	if a.head.Mode != ModeHistorical {
		a.flipLocked(ModeHistorical, at)
		return
	}
	a.cfg.Historical.Load(filter, at)
}

// Dates lists the calendar days with recordings, for the date picker.
func (a *Arbiter) Dates(ctx context.Context) ([]signal.RecordingDate, error) {
	if a.cfg.Dates == nil {
		return nil, nil
	}
	return a.cfg.Dates.Dates(ctx)
}

// Snapshot returns the externally observable session state.
func (a *Arbiter) Snapshot() ArbiterSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ArbiterSnapshot{
		Timeline:      a.timeline,
		Position:      a.head.Position,
		Mode:          a.head.Mode.String(),
		Dragging:      a.head.Dragging,
		Transitioning: a.transitioning,
	}
}

// deriveLocked recomputes the mode from the play-head position and performs
// the flip side effect when it changed. Flips are debounced by the
// transitioning window. Caller holds a.mu.
func (a *Arbiter) deriveLocked(force bool) {
	now := a.cfg.Clock()
	next := DeriveMode(now, a.head.Position, a.cfg.LiveThreshold)
	if next == a.head.Mode {
		if next == ModeHistorical {
			a.retargetLocked()
		}
		return
	}
	if a.transitioning && !force {
		return
	}
	a.flipLocked(next, a.head.Position)
}

// retargetLocked forwards a new historical target to the segment player,
// reloading only when the seek crosses into a different date bucket.
func (a *Arbiter) retargetLocked() {
	filter := a.effectiveFilterLocked(a.head.Position)
	if filter.Date == a.cfg.Historical.Bucket() {
		a.cfg.Historical.Retarget(a.head.Position)
		return
	}
	a.cfg.Historical.Load(filter, a.head.Position)
}

// flipLocked performs the mode transition protocol. Teardown of the
// outgoing player is issued before the incoming player's setup; the surface
// is cleared in between so exactly one player owns it. Caller holds a.mu.
func (a *Arbiter) flipLocked(next Mode, at time.Time) {
	a.head.Mode = next
	a.setTransitioningLocked()

	if a.cfg.Metrics != nil {
		a.cfg.Metrics.IncModeFlips()
		a.cfg.Metrics.SetLiveMode(next == ModeLive)
	}
	a.log.Info("playback mode flip",
		slog.String("mode", next.String()),
		slog.String("position", at.Format(time.RFC3339)))

	switch next {
	case ModeHistorical:
		// Freeze the rolling "now" ceiling at flip time.
		a.stopTickerLocked()
		a.enqueueLiveOp(a.cfg.Live.Detach)
		if a.cfg.Surface != nil {
			a.cfg.Surface.Clear()
		}
		a.cfg.Historical.Load(a.effectiveFilterLocked(at), at)
	case ModeLive:
		a.cfg.Historical.Teardown()
		if a.cfg.Surface != nil {
			a.cfg.Surface.Clear()
		}
		// Attach detaches any prior session first; running it on the
		// live-op worker keeps the arbiter responsive through the
		// multi-step negotiation.
		a.enqueueLiveOp(a.attachLive)
		a.timeline.End = a.cfg.Clock()
		a.startTickerLocked()
	}
}

// effectiveFilterLocked resolves the feed filter for a target instant: the
// explicit viewer selection when present, otherwise the day bucket holding
// the instant.
func (a *Arbiter) effectiveFilterLocked(at time.Time) signal.SourceFilter {
	if !a.filter.IsZero() {
		return a.filter
	}
	return signal.SourceFilter{Date: at.UTC().Format("20060102")}
}

func (a *Arbiter) setTransitioningLocked() {
	a.transitioning = true
	if a.transTimer != nil {
		a.transTimer.Stop()
	}
	a.transTimer = time.AfterFunc(a.cfg.TransitionDelay, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.transitioning = false
		if a.closed {
			return
		}
		// A seek landing inside the window has its flip suppressed.
		// Apply the derivation once the window passes so the viewer's
		// input is not lost.
		now := a.cfg.Clock()
		if next := DeriveMode(now, a.head.Position, a.cfg.LiveThreshold); next != a.head.Mode {
			a.flipLocked(next, a.head.Position)
		}
	})
}

// clampLocked bounds a seek target to the known recording range. The upper
// bound is the wall clock, not the End frozen at the last flip, so a scrub
// back toward "now" can reach the live window again; End catches up to the
// target to keep start <= playhead <= end.
func (a *Arbiter) clampLocked(t time.Time) time.Time {
	if !a.timeline.Start.IsZero() && t.Before(a.timeline.Start) {
		t = a.timeline.Start
	}
	if now := a.cfg.Clock(); t.After(now) {
		t = now
	}
	if t.After(a.timeline.End) {
		a.timeline.End = t
	}
	return t
}

func (a *Arbiter) liveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-a.liveOps:
			op()
		}
	}
}

func (a *Arbiter) enqueueLiveOp(op func()) {
	select {
	case a.liveOps <- op:
	default:
		// Queue full only under pathological flip rates; run out of
		// band rather than block the arbiter.
		go op()
	}
}

func (a *Arbiter) attachLive() {
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := a.cfg.Live.Attach(ctx, a.cfg.StreamID); err != nil {
		a.log.Error("live attach failed", slog.String("error", err.Error()))
	}
}

// startTickerLocked starts the live "now" ticker. It runs only while live
// tracking is on; leaving live mode stops it in lock-step.
func (a *Arbiter) startTickerLocked() {
	if a.tickCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.tickCancel = cancel
	a.tickDone = done
	go a.tickLoop(ctx, done)
}

func (a *Arbiter) stopTickerLocked() {
	if a.tickCancel == nil {
		return
	}
	a.tickCancel()
	a.tickCancel = nil
	a.tickDone = nil
}

func (a *Arbiter) tickLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(a.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.tick()
		}
	}
}

// tick advances the play-head and the timeline end while live tracking is
// on. A drag in progress freezes both.
func (a *Arbiter) tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.head.Mode != ModeLive || a.head.Dragging {
		return
	}
	now := a.cfg.Clock()
	a.head.Position = now
	a.timeline.End = now
}
