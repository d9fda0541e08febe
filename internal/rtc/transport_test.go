package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"camviewer/internal/platform/logger"
	"camviewer/internal/signal"
)

func TestConvertCandidates(t *testing.T) {
	out, err := convertCandidates([]signal.ICECandidate{
		{Foundation: "f0", Priority: 100, Address: "10.0.0.1", Protocol: "udp", Port: 40000, Type: "host"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(out))
	}
	c := out[0]
	if c.Protocol != webrtc.ICEProtocolUDP {
		t.Errorf("expected udp, got %s", c.Protocol)
	}
	if c.Typ != webrtc.ICECandidateTypeHost {
		t.Errorf("expected host, got %s", c.Typ)
	}
	if c.Component != 1 {
		t.Errorf("expected RTP component 1, got %d", c.Component)
	}
}

func TestConvertCandidates_bad_protocol(t *testing.T) {
	_, err := convertCandidates([]signal.ICECandidate{
		{Foundation: "f0", Address: "10.0.0.1", Protocol: "carrier-pigeon", Port: 1, Type: "host"},
	})
	if err == nil {
		t.Fatal("expected an error for an unknown protocol")
	}
}

func TestConvertDTLS_role_mapping(t *testing.T) {
	cases := []struct {
		in   string
		want webrtc.DTLSRole
	}{
		{"client", webrtc.DTLSRoleClient},
		{"server", webrtc.DTLSRoleServer},
		{"Server", webrtc.DTLSRoleServer},
		{"auto", webrtc.DTLSRoleAuto},
		{"", webrtc.DTLSRoleAuto},
	}
	for _, tc := range cases {
		got := convertDTLS(signal.DTLSParameters{Role: tc.in})
		if got.Role != tc.want {
			t.Errorf("role %q: got %v, want %v", tc.in, got.Role, tc.want)
		}
	}
}

func TestConvertDTLS_fingerprints(t *testing.T) {
	got := convertDTLS(signal.DTLSParameters{
		Role:         "server",
		Fingerprints: []signal.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	})
	if len(got.Fingerprints) != 1 || got.Fingerprints[0].Algorithm != "sha-256" {
		t.Errorf("unexpected fingerprints: %+v", got.Fingerprints)
	}
}

func TestRegisterCodecs_empty(t *testing.T) {
	if err := registerCodecs(&webrtc.MediaEngine{}, signal.RTPCapabilities{}); err == nil {
		t.Fatal("expected an error for an empty capability set")
	}
}

func TestNewRecvTransport(t *testing.T) {
	f := NewFactory(logger.Discard())
	tr, err := f.NewRecvTransport(signal.TransportParams{
		ID:            "tr-1",
		ICEParameters: signal.ICEParameters{UsernameFragment: "uf", Password: "pw"},
	}, signal.RTPCapabilities{Codecs: []signal.RTPCodecCapability{
		{MimeType: "video/H264", Kind: "video", ClockRate: 90000, PreferredPayloadType: 101},
	}})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	// Stop on a never-started transport pair may report a state error;
	// the test only cares that construction succeeds.
	_ = tr.Close()
}
