// Package playback implements the playback session core: a resilient
// segment player for historical footage, a consumer session controller for
// the live WebRTC path, and the arbiter that switches between them as the
// play-head moves along the timeline.
package playback

import (
	"errors"
	"time"
)

// Defaults for the playback core. All of them can be overridden through the
// respective component configs.
const (
	// DefaultLiveThreshold is how far the play-head may trail the wall
	// clock and still count as live.
	DefaultLiveThreshold = 10 * time.Second

	// DefaultTickInterval is the period of the live-mode "now" ticker.
	DefaultTickInterval = 1 * time.Second

	// DefaultTransitionDelay is how long the transitioning flag stays set
	// after a mode flip.
	DefaultTransitionDelay = 500 * time.Millisecond

	// DefaultMaxConsecutiveErrors is the recovery cap of the segment
	// player; at this count the player goes terminal.
	DefaultMaxConsecutiveErrors = 5

	// DefaultNetworkRetryDelay is the fixed delay before restarting the
	// fetch loop after a network fault.
	DefaultNetworkRetryDelay = 1 * time.Second

	// DefaultFatalRetryDelay is the fixed delay before a full
	// reinitialization after an unclassified fault.
	DefaultFatalRetryDelay = 2 * time.Second
)

// Mode says whether the viewer is on the live feed or a historical one.
type Mode int

// Playback modes.
const (
	ModeLive Mode = iota
	ModeHistorical
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "historical"
}

// DeriveMode returns the mode for a play-head position given the current
// wall clock. A position within threshold of now is live; the boundary
// itself is live.
func DeriveMode(now, position time.Time, threshold time.Duration) Mode {
	if now.Sub(position) <= threshold {
		return ModeLive
	}
	return ModeHistorical
}

// Timeline is the viewer's scrub range: earliest known recording instant to
// "now". Derived state, never persisted.
type Timeline struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Playhead is the single source of truth for what instant the viewer is
// watching.
type Playhead struct {
	Position time.Time `json:"position"`
	Mode     Mode      `json:"-"`
	Dragging bool      `json:"dragging"`
}

// TrackKind distinguishes media track types on the render surface.
type TrackKind string

// Track kinds.
const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Frame is one unit of renderable media handed to the surface: an access
// unit on the historical path, an RTP payload on the live path.
type Frame struct {
	Kind    TrackKind
	PTS     time.Duration
	Payload []byte
}

// ErrActivationBlocked is returned by a Surface whose environment refuses
// to start playback without an explicit user action. It is not a fault.
var ErrActivationBlocked = errors.New("surface activation blocked, user gesture required")

// Surface is the render target for decoded media. Exactly one player owns
// the surface at a time; the arbiter clears it before handing it over.
// Writes are last-writer-wins, so a brief teardown/setup overlap is safe.
type Surface interface {
	// Activate prepares the surface for playback. May return
	// ErrActivationBlocked, which callers treat as "paused, needs user
	// gesture" rather than an error.
	Activate() error

	// WriteFrame renders one frame. Implementations must not block on
	// slow consumers; drop instead.
	WriteFrame(f Frame)

	// Clear detaches whatever feed currently owns the surface.
	Clear()
}

// MediaError tags an error as a decode-level fault on a specific segment,
// so the segment player can recover by skipping it instead of restarting
// the whole feed.
type MediaError struct {
	Sequence int64
	Err      error
}

func (e *MediaError) Error() string {
	return "media fault: " + e.Err.Error()
}

func (e *MediaError) Unwrap() error {
	return e.Err
}
