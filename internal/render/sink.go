// Package render provides the render surface of the headless viewer: a
// frame sink that accounts for whatever the active player produces and
// exposes the throughput for the status endpoint.
package render

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"camviewer/internal/platform/metrics"
	"camviewer/internal/playback"
)

// SinkStats is a point-in-time view of sink throughput.
type SinkStats struct {
	Frames      uint64        `json:"frames"`
	Bytes       uint64        `json:"bytes"`
	LastPTS     time.Duration `json:"lastPts"`
	LastWriteAt time.Time     `json:"lastWriteAt"`
	Active      bool          `json:"active"`
}

// Sink is a playback.Surface that counts frames instead of decoding them.
// Ownership is last-writer-wins: Clear detaches the current feed and the
// next WriteFrame takes over, which keeps the brief teardown/setup overlap
// of a mode flip harmless.
type Sink struct {
	log     *slog.Logger
	metrics *metrics.Metrics // optional

	active atomic.Bool

	mu          sync.Mutex
	frames      uint64
	bytes       uint64
	lastPTS     time.Duration
	lastWriteAt time.Time
}

// NewSink returns an inactive sink.
func NewSink(log *slog.Logger, m *metrics.Metrics) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{log: log, metrics: m}
}

// Activate implements playback.Surface. A headless sink never requires a
// user gesture.
func (s *Sink) Activate() error {
	if !s.active.Swap(true) {
		s.log.Debug("render surface activated")
	}
	return nil
}

// WriteFrame implements playback.Surface.
func (s *Sink) WriteFrame(f playback.Frame) {
	s.active.Store(true)

	s.mu.Lock()
	s.frames++
	s.bytes += uint64(len(f.Payload))
	s.lastPTS = f.PTS
	s.lastWriteAt = time.Now()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AddFrame(len(f.Payload))
	}
}

// Clear implements playback.Surface.
func (s *Sink) Clear() {
	if s.active.Swap(false) {
		s.log.Debug("render surface cleared")
	}
}

// Stats returns the current throughput counters.
func (s *Sink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SinkStats{
		Frames:      s.frames,
		Bytes:       s.bytes,
		LastPTS:     s.lastPTS,
		LastWriteAt: s.lastWriteAt,
		Active:      s.active.Load(),
	}
}
