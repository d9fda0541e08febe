package playback

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
)

// mpegtsClock is the timestamp clock of the segment feed callbacks.
const mpegtsClock = 90000

// hlsEngine is the production FeedEngine: it pulls an HLS segment index
// with gohlslib and forwards decoded access units to the surface.
type hlsEngine struct {
	client  *gohlslib.Client
	surface Surface
	events  chan FeedEvent
	started atomic.Bool
	closed  atomic.Bool
}

// NewHLSEngine returns a FeedEngine reading the segment feed at indexURL.
func NewHLSEngine(indexURL string, surface Surface) (FeedEngine, error) {
	e := &hlsEngine{
		surface: surface,
		events:  make(chan FeedEvent, 1),
	}
	e.client = &gohlslib.Client{
		URI:        indexURL,
		HTTPClient: http.DefaultClient,
		OnTracks:   e.onTracks,
	}
	return e, nil
}

func (e *hlsEngine) Start() error {
	if err := e.client.Start(); err != nil {
		return fmt.Errorf("starting HLS client: %w", err)
	}
	e.started.Store(true)
	go e.watch()
	return nil
}

func (e *hlsEngine) Events() <-chan FeedEvent {
	return e.events
}

// SkipBadSegment is unsupported: gohlslib stops its fetch loop on any
// segment error, so media faults are recovered by restarting the feed.
func (e *hlsEngine) SkipBadSegment() error {
	return ErrSkipUnsupported
}

func (e *hlsEngine) Close() {
	if e.closed.Swap(true) {
		return
	}
	// The client owns no resources until Start has succeeded.
	if e.started.Load() {
		e.client.Close()
	}
}

// watch waits for the client to stop and reports the verdict exactly once.
func (e *hlsEngine) watch() {
	err := e.client.Wait2()
	defer close(e.events)

	if e.closed.Load() {
		return
	}

	var ev FeedEvent
	switch {
	case err == nil, errors.Is(err, gohlslib.ErrClientEOS):
		ev = FeedEvent{Kind: FeedEnd}
	default:
		ev = FeedEvent{Kind: FeedFault, Err: err}
	}

	select {
	case e.events <- ev:
	default:
	}
}

// onTracks wires the discovered tracks to the surface.
func (e *hlsEngine) onTracks(tracks []*gohlslib.Track) error {
	for _, track := range tracks {
		switch track.Codec.(type) {
		case *codecs.H264, *codecs.H265:
			e.client.OnDataH26x(track, e.onVideoData)
		case *codecs.MPEG4Audio:
			e.client.OnDataMPEG4Audio(track, e.onAudioData)
		case *codecs.Opus:
			e.client.OnDataOpus(track, e.onAudioData)
		default:
			// Unsupported codec on an otherwise playable feed; skip
			// the track rather than fail the whole feed.
		}
	}
	return nil
}

func (e *hlsEngine) onVideoData(pts int64, _ int64, au [][]byte) {
	if e.closed.Load() {
		return
	}
	for _, nalu := range au {
		e.surface.WriteFrame(Frame{
			Kind:    TrackVideo,
			PTS:     ptsToDuration(pts),
			Payload: nalu,
		})
	}
}

func (e *hlsEngine) onAudioData(pts int64, aus [][]byte) {
	if e.closed.Load() {
		return
	}
	for _, au := range aus {
		e.surface.WriteFrame(Frame{
			Kind:    TrackAudio,
			PTS:     ptsToDuration(pts),
			Payload: au,
		})
	}
}

func ptsToDuration(pts int64) time.Duration {
	return time.Duration(pts) * time.Second / mpegtsClock
}
