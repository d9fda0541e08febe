package playback

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"camviewer/internal/platform/metrics"
	"camviewer/internal/signal"
)

// FaultKind classifies a segment feed failure at the point of occurrence.
// The kind selects the recovery action: network faults restart the fetch
// loop after a short delay, media faults drop the bad segment and resume,
// anything else forces a full reinitialization.
type FaultKind int

// Fault kinds.
const (
	FaultNone FaultKind = iota
	FaultNetwork
	FaultMedia
	FaultFatal
)

func (k FaultKind) String() string {
	switch k {
	case FaultNetwork:
		return "network"
	case FaultMedia:
		return "media"
	case FaultFatal:
		return "fatal"
	default:
		return "none"
	}
}

// PlayerState is the segment player's explicit state.
type PlayerState int

// Player states.
const (
	PlayerIdle PlayerState = iota
	PlayerInitializing
	PlayerPlaying
	PlayerPaused
	PlayerRecovering
	PlayerFailed
)

func (s PlayerState) String() string {
	switch s {
	case PlayerInitializing:
		return "initializing"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerRecovering:
		return "recovering"
	case PlayerFailed:
		return "failed"
	default:
		return "idle"
	}
}

// FeedEventKind discriminates feed engine events.
type FeedEventKind int

// Feed engine event kinds.
const (
	// FeedProgress signals a successfully fetched and decoded segment.
	FeedProgress FeedEventKind = iota
	// FeedFault signals a failure that needs an explicit recovery action.
	FeedFault
	// FeedEnd signals clean end of a finite feed.
	FeedEnd
)

// FeedEvent is one engine notification.
type FeedEvent struct {
	Kind FeedEventKind
	Err  error
}

// ErrSkipUnsupported is returned by engines that cannot resume in place
// after a media fault; the player falls back to restarting the feed.
var ErrSkipUnsupported = errors.New("engine cannot skip segments in place")

// FeedEngine pulls a segment feed from an index URL and pushes decoded
// frames at a Surface. Engines report progress, faults and end-of-feed on
// the Events channel; the channel is closed when the engine stops.
type FeedEngine interface {
	Start() error
	Events() <-chan FeedEvent

	// SkipBadSegment instructs the engine to drop the segment that caused
	// the last media fault and resume. Engines that stop on any fault
	// return ErrSkipUnsupported.
	SkipBadSegment() error

	Close()
}

// EngineFactory builds a FeedEngine for one playback attempt against the
// given segment-index URL.
type EngineFactory func(indexURL string, surface Surface) (FeedEngine, error)

// PlayerSnapshot is the externally observable segment player state.
type PlayerSnapshot struct {
	State             PlayerState
	ConsecutiveErrors int
	LastFault         FaultKind
	Message           string
}

// SegmentPlayerConfig configures a SegmentPlayer.
type SegmentPlayerConfig struct {
	// IndexURL builds the segment-index URL for a source filter.
	// Typically signal.Client.SegmentIndexURL.
	IndexURL func(filter signal.SourceFilter) string

	// Factory builds feed engines. Defaults to the gohlslib-backed HLS
	// engine.
	Factory EngineFactory

	Surface Surface
	Logger  *slog.Logger
	Metrics *metrics.Metrics // optional

	// OnState, when set, is invoked after every state change.
	OnState func(PlayerSnapshot)

	MaxConsecutiveErrors int
	NetworkRetryDelay    time.Duration
	FatalRetryDelay      time.Duration
}

// SegmentPlayer plays a historical (or rolling-buffer) segment feed and
// keeps playing through transient faults. Callers observe state
// transitions; Load never returns an error.
type SegmentPlayer struct {
	cfg SegmentPlayerConfig
	log *slog.Logger

	mu          sync.Mutex
	state       PlayerState
	consecutive int
	lastFault   FaultKind
	lastErr     error
	message     string
	filter      signal.SourceFilter
	target      time.Time
	gen         int
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewSegmentPlayer returns an idle player. Call Load to start playback.
func NewSegmentPlayer(cfg SegmentPlayerConfig) *SegmentPlayer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Factory == nil {
		cfg.Factory = NewHLSEngine
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if cfg.NetworkRetryDelay <= 0 {
		cfg.NetworkRetryDelay = DefaultNetworkRetryDelay
	}
	if cfg.FatalRetryDelay <= 0 {
		cfg.FatalRetryDelay = DefaultFatalRetryDelay
	}
	return &SegmentPlayer{cfg: cfg, log: cfg.Logger}
}

// Load (re)initializes playback against the segment index selected by
// filter, positioned at the target instant. Failures surface through state
// transitions, never as a return value.
func (p *SegmentPlayer) Load(filter signal.SourceFilter, at time.Time) {
	p.mu.Lock()
	p.teardownLocked()
	p.gen++
	gen := p.gen
	p.filter = filter
	p.target = at
	p.consecutive = 0
	p.lastFault = FaultNone
	p.lastErr = nil
	p.message = ""
	p.setStateLocked(PlayerInitializing)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	indexURL := p.cfg.IndexURL(filter)
	p.mu.Unlock()

	p.log.Info("segment player loading",
		slog.String("index_url", indexURL),
		slog.String("target", at.Format(time.RFC3339)))

	go p.run(ctx, gen, indexURL, done)
}

// Retarget moves the play position to a new instant within the current
// date/filter bucket. If the running engine cannot seek in place, the feed
// is reloaded against the same index.
func (p *SegmentPlayer) Retarget(at time.Time) {
	p.mu.Lock()
	p.target = at
	filter := p.filter
	state := p.state
	p.mu.Unlock()

	if state == PlayerIdle || state == PlayerFailed {
		p.Load(filter, at)
		return
	}
	// The HLS engine replays the index from its own position; nothing to
	// forward. Engines with in-place seeking would be told here.
	p.log.Debug("segment player retarget", slog.String("target", at.Format(time.RFC3339)))
}

// Teardown releases all playback resources. Safe to call repeatedly and
// from a partially-initialized state.
func (p *SegmentPlayer) Teardown() {
	p.mu.Lock()
	p.teardownLocked()
	p.setStateLocked(PlayerIdle)
	p.mu.Unlock()
}

// Play re-attempts surface activation after an activation-blocked pause.
func (p *SegmentPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlayerPaused {
		return nil
	}
	if p.cfg.Surface != nil {
		if err := p.cfg.Surface.Activate(); err != nil {
			return err
		}
	}
	p.setStateLocked(PlayerPlaying)
	return nil
}

// Snapshot returns the externally observable player state.
func (p *SegmentPlayer) Snapshot() PlayerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlayerSnapshot{
		State:             p.state,
		ConsecutiveErrors: p.consecutive,
		LastFault:         p.lastFault,
		Message:           p.message,
	}
}

// Bucket returns the date bucket the player is currently loaded against.
// An empty string means the rolling buffer keyed by the target's date.
func (p *SegmentPlayer) Bucket() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filter.Date != "" {
		return p.filter.Date
	}
	return p.target.UTC().Format("20060102")
}

func (p *SegmentPlayer) teardownLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.done != nil {
		done := p.done
		p.done = nil
		p.mu.Unlock()
		<-done
		p.mu.Lock()
	}
}

// progressSurface counts every rendered frame as feed progress, so a
// successful segment load resets the consecutive error count regardless of
// whether the engine reports progress explicitly.
type progressSurface struct {
	inner   Surface
	onWrite func()
}

func (s *progressSurface) Activate() error {
	return s.inner.Activate()
}

func (s *progressSurface) WriteFrame(f Frame) {
	s.inner.WriteFrame(f)
	s.onWrite()
}

func (s *progressSurface) Clear() {
	s.inner.Clear()
}

func (p *SegmentPlayer) run(ctx context.Context, gen int, indexURL string, done chan struct{}) {
	defer close(done)

	surface := p.cfg.Surface
	if surface != nil {
		surface = &progressSurface{inner: p.cfg.Surface, onWrite: func() { p.progress(gen) }}
	}

	for {
		eng, err := p.cfg.Factory(indexURL, surface)
		if err == nil {
			err = eng.Start()
			if err != nil {
				eng.Close()
			}
		}
		if err != nil {
			if !p.fault(gen, ClassifyFault(err), err) {
				return
			}
			if !sleepCtx(ctx, p.cfg.FatalRetryDelay) {
				return
			}
			continue
		}

		p.enterPlaying(gen)

		if !p.serveEngine(ctx, gen, eng) {
			return
		}
	}
}

// serveEngine consumes engine events until the engine needs a restart.
// Returns false when the player is done (torn down, failed, or feed ended).
func (p *SegmentPlayer) serveEngine(ctx context.Context, gen int, eng FeedEngine) bool {
	defer eng.Close()

	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-eng.Events():
			if !ok {
				// Engine stopped without a verdict: treat as an
				// unclassified fault and reinitialize.
				if !p.fault(gen, FaultFatal, errors.New("feed engine stopped unexpectedly")) {
					return false
				}
				return sleepCtx(ctx, p.cfg.FatalRetryDelay)
			}
			switch ev.Kind {
			case FeedProgress:
				p.progress(gen)
			case FeedEnd:
				p.enterEnded(gen)
				return false
			case FeedFault:
				kind := ClassifyFault(ev.Err)
				if !p.fault(gen, kind, ev.Err) {
					return false
				}
				switch kind {
				case FaultMedia:
					if err := eng.SkipBadSegment(); err == nil {
						// Engine resumes in place; counter resets
						// on the next progress event.
						continue
					}
					return true
				case FaultNetwork:
					return sleepCtx(ctx, p.cfg.NetworkRetryDelay)
				default:
					return sleepCtx(ctx, p.cfg.FatalRetryDelay)
				}
			}
		}
	}
}

// progress records a successful segment load: the consecutive error count
// resets and a recovering player goes back to playing.
func (p *SegmentPlayer) progress(gen int) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	changed := false
	if p.consecutive != 0 {
		p.consecutive = 0
		changed = true
	}
	if p.state == PlayerRecovering {
		p.setStateLocked(PlayerPlaying)
	}
	p.mu.Unlock()
	if changed && p.cfg.Metrics != nil {
		p.cfg.Metrics.SetConsecutiveErrors(0)
	}
}

// fault records a feed failure. It returns true while the player may keep
// recovering; at the cap it transitions to Failed with a user-facing
// message naming the fault kind and returns false.
func (p *SegmentPlayer) fault(gen int, kind FaultKind, err error) bool {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return false
	}
	p.consecutive++
	p.lastFault = kind
	p.lastErr = err
	n := p.consecutive

	if n >= p.cfg.MaxConsecutiveErrors {
		p.message = failureMessage(kind)
		p.setStateLocked(PlayerFailed)
		p.mu.Unlock()

		p.log.Error("segment playback failed",
			slog.String("fault", kind.String()),
			slog.Int("consecutive_errors", n),
			slog.String("error", err.Error()))
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.SetConsecutiveErrors(n)
			p.cfg.Metrics.IncPlayerFailures()
		}
		return false
	}

	p.setStateLocked(PlayerRecovering)
	p.mu.Unlock()

	p.log.Warn("segment feed fault, recovering",
		slog.String("fault", kind.String()),
		slog.Int("consecutive_errors", n),
		slog.String("error", err.Error()))
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SetConsecutiveErrors(n)
		p.cfg.Metrics.IncRecoveries(kind.String())
	}
	return true
}

func (p *SegmentPlayer) enterPlaying(gen int) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	next := PlayerPlaying
	if p.cfg.Surface != nil {
		if err := p.cfg.Surface.Activate(); err != nil {
			if errors.Is(err, ErrActivationBlocked) {
				// Not a fault: playback is ready but needs a user
				// gesture to start rendering.
				next = PlayerPaused
			}
		}
	}
	p.setStateLocked(next)
	p.mu.Unlock()
}

func (p *SegmentPlayer) enterEnded(gen int) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.setStateLocked(PlayerPaused)
	p.mu.Unlock()
	p.log.Info("segment feed ended")
}

// setStateLocked is the single transition point. Caller holds p.mu.
func (p *SegmentPlayer) setStateLocked(s PlayerState) {
	if p.state == s {
		return
	}
	p.state = s
	if p.cfg.OnState != nil {
		snap := PlayerSnapshot{
			State:             p.state,
			ConsecutiveErrors: p.consecutive,
			LastFault:         p.lastFault,
			Message:           p.message,
		}
		go p.cfg.OnState(snap)
	}
}

func failureMessage(kind FaultKind) string {
	switch kind {
	case FaultNetwork:
		return "Playback stopped: repeated network errors while fetching video."
	case FaultMedia:
		return "Playback stopped: the recording contains undecodable video data."
	default:
		return "Playback stopped: an unrecoverable playback error occurred."
	}
}

// ClassifyFault maps an engine error to a fault kind. Media faults are
// tagged by the engine with MediaError; network faults are recognized by
// their transport error chain; everything else is unclassified.
func ClassifyFault(err error) FaultKind {
	if err == nil {
		return FaultNone
	}
	var me *MediaError
	if errors.As(err, &me) {
		return FaultMedia
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return FaultNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return FaultNetwork
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return FaultNetwork
	}
	return FaultFatal
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
