// Package testutil provides helpers for building fake segment feeds in
// tests: an in-memory segment model and an HLS index renderer for mock
// recording backends.
package testutil

import (
	"fmt"
	"math"
	"strings"
)

// Segment is one time-addressed media segment of a fake feed.
type Segment struct {
	Sequence int64
	Duration float64
	Path     string
}

// BuildIndexPlaylist renders segments (ordered by sequence ascending) as an
// HLS playlist. ended appends #EXT-X-ENDLIST, turning the index into a
// finite historical feed. An empty slice produces a minimal valid playlist
// with media sequence 0.
func BuildIndexPlaylist(segments []Segment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if len(segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		if ended {
			b.WriteString("#EXT-X-ENDLIST\n")
		}
		return b.String()
	}

	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(segments)))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n\n", segments[0].Sequence))

	for _, seg := range segments {
		b.WriteString(fmt.Sprintf("#EXTINF:%.1f,\n", seg.Duration))
		b.WriteString(seg.Path)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// targetDuration returns the #EXT-X-TARGETDURATION value: the ceiling of
// the maximum segment duration.
func targetDuration(segments []Segment) int {
	max := 0.0
	for _, seg := range segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
