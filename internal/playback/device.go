package playback

import (
	"errors"
	"strings"

	"camviewer/internal/signal"
)

// ErrNoCompatibleCodecs is returned by Device.Load when the router and the
// local device share no codec.
var ErrNoCompatibleCodecs = errors.New("no codec supported by both router and device")

// Device is the local capability-negotiation context. It is loaded with the
// remote router's capabilities and computes the locally supported
// intersection, which is what gets sent with an attach request.
type Device struct {
	local  []signal.RTPCodecCapability
	shared signal.RTPCapabilities
	loaded bool
}

// NewDevice returns a Device advertising the default local codec set.
func NewDevice() *Device {
	return &Device{local: defaultLocalCodecs()}
}

// NewDeviceWithCodecs returns a Device advertising an explicit local codec
// set. Used in tests.
func NewDeviceWithCodecs(codecs []signal.RTPCodecCapability) *Device {
	return &Device{local: codecs}
}

// Load computes the intersection of the router's capabilities with the
// local codec set. It must be called before RTPCapabilities. Returns
// ErrNoCompatibleCodecs when the intersection is empty.
func (d *Device) Load(router signal.RTPCapabilities) error {
	var shared []signal.RTPCodecCapability
	for _, rc := range router.Codecs {
		for _, lc := range d.local {
			if codecsMatch(rc, lc) {
				// Keep the router's preferred payload type; the
				// remote side allocates payload numbering.
				shared = append(shared, rc)
				break
			}
		}
	}
	if len(shared) == 0 {
		return ErrNoCompatibleCodecs
	}
	d.shared = signal.RTPCapabilities{Codecs: shared}
	d.loaded = true
	return nil
}

// Loaded reports whether Load has succeeded.
func (d *Device) Loaded() bool {
	return d.loaded
}

// RTPCapabilities returns the negotiated intersection. Zero value before a
// successful Load.
func (d *Device) RTPCapabilities() signal.RTPCapabilities {
	return d.shared
}

func codecsMatch(a, b signal.RTPCodecCapability) bool {
	if !strings.EqualFold(a.MimeType, b.MimeType) {
		return false
	}
	if a.ClockRate != b.ClockRate {
		return false
	}
	// Channels only matter for audio; zero means unspecified.
	if a.Channels != 0 && b.Channels != 0 && a.Channels != b.Channels {
		return false
	}
	return true
}

func defaultLocalCodecs() []signal.RTPCodecCapability {
	return []signal.RTPCodecCapability{
		{MimeType: "video/H264", Kind: "video", ClockRate: 90000},
		{MimeType: "video/VP8", Kind: "video", ClockRate: 90000},
		{MimeType: "audio/opus", Kind: "audio", ClockRate: 48000, Channels: 2},
	}
}
