package signal

import "time"

// StreamState reports the lifecycle state of a remote stream.
type StreamState string

// Stream states reported by the stream directory.
const (
	StreamInitializing StreamState = "initializing"
	StreamReady        StreamState = "ready"
	StreamLive         StreamState = "live"
	StreamError        StreamState = "error"
	StreamStopped      StreamState = "stopped"
	StreamClosed       StreamState = "closed"
)

// StreamDescriptor is the stream directory entry for a single stream.
type StreamDescriptor struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	State      StreamState `json:"state"`
	ProducerID string      `json:"producerId"`
}

// RTPCodecCapability describes one codec the router (or the local device)
// can handle.
type RTPCodecCapability struct {
	MimeType             string `json:"mimeType"`
	Kind                 string `json:"kind"`
	ClockRate            int    `json:"clockRate"`
	Channels             int    `json:"channels,omitempty"`
	PreferredPayloadType uint8  `json:"preferredPayloadType,omitempty"`
}

// RTPCapabilities is a set of codec capabilities.
type RTPCapabilities struct {
	Codecs []RTPCodecCapability `json:"codecs"`
}

// ICEParameters carries the remote transport's ICE credentials.
type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

// ICECandidate is one remote transport candidate.
type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

// DTLSFingerprint is one certificate fingerprint of the remote transport.
type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DTLSParameters carries the remote transport's DTLS role and fingerprints.
type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// TransportParams is everything needed to construct the local receive
// transport after a successful attach.
type TransportParams struct {
	ID             string          `json:"id"`
	ICEParameters  ICEParameters   `json:"iceParameters"`
	ICECandidates  []ICECandidate  `json:"iceCandidates"`
	DTLSParameters DTLSParameters  `json:"dtlsParameters"`
}

// RTPCodecParameters describes the negotiated parameters of one codec.
type RTPCodecParameters struct {
	MimeType    string `json:"mimeType"`
	PayloadType uint8  `json:"payloadType"`
	ClockRate   int    `json:"clockRate"`
	Channels    int    `json:"channels,omitempty"`
}

// RTPEncodingParameters describes one negotiated media encoding.
type RTPEncodingParameters struct {
	SSRC uint32 `json:"ssrc"`
}

// RTPParameters are the negotiated receive parameters for a consumer.
type RTPParameters struct {
	Codecs    []RTPCodecParameters    `json:"codecs"`
	Encodings []RTPEncodingParameters `json:"encodings"`
}

// AttachRequest asks the remote router to attach a consumer to a stream.
// ClientID must be unique per attach attempt so the remote side can tell
// retried attaches from the same viewer apart.
type AttachRequest struct {
	ClientID        string          `json:"clientId"`
	RTPCapabilities RTPCapabilities `json:"rtpCapabilities"`
}

// AttachResponse is the remote router's answer to a successful attach.
type AttachResponse struct {
	ConsumerID      string          `json:"consumerId"`
	TransportParams TransportParams `json:"transportParams"`
	RTPParameters   RTPParameters   `json:"rtpParameters"`
}

// RecordingDate reports one calendar day for which recorded segments exist.
type RecordingDate struct {
	Date         string `json:"date"` // YYYYMMDD
	Formatted    string `json:"formatted,omitempty"`
	SegmentCount int    `json:"segmentsCount"`
}

// SourceFilter narrows a segment feed to an explicit calendar date and
// optional time-of-day range. The zero value means the rolling buffer.
type SourceFilter struct {
	Date      string // YYYYMMDD; empty for the rolling buffer
	StartTime time.Duration
	EndTime   time.Duration
}

// IsZero reports whether the filter selects the rolling buffer.
func (f SourceFilter) IsZero() bool {
	return f.Date == "" && f.StartTime == 0 && f.EndTime == 0
}
