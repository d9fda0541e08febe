// Package rtc implements the receive transport for the live path on top of
// pion's ORTC API. Transport parameters are negotiated out-of-band over the
// signaling REST surface, so no SDP offer/answer is involved: the remote
// router hands us ICE and DTLS parameters and we connect to it directly.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"camviewer/internal/playback"
	"camviewer/internal/signal"
)

// Factory builds pion-backed receive transports.
type Factory struct {
	log *slog.Logger
}

// NewFactory returns a transport factory logging through log.
func NewFactory(log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{log: log}
}

// NewRecvTransport builds a receive-only transport from the negotiated
// remote parameters, with a media engine restricted to the negotiated
// capability intersection.
func (f *Factory) NewRecvTransport(params signal.TransportParams, caps signal.RTPCapabilities) (playback.RecvTransport, error) {
	me := &webrtc.MediaEngine{}
	if err := registerCodecs(me, caps); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(me))

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("create ICE gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("create DTLS transport: %w", err)
	}

	return &recvTransport{
		api:      api,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		params:   params,
		log:      f.log,
	}, nil
}

type recvTransport struct {
	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   signal.TransportParams
	log      *slog.Logger
}

// Connect gathers local candidates, starts ICE against the remote
// transport's candidates and brings DTLS up. confirm is invoked right
// before the DTLS handshake, acknowledging the out-of-band parameter
// exchange.
func (t *recvTransport) Connect(ctx context.Context, confirm func() error) error {
	gathered := make(chan struct{})
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gathered)
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather candidates: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	remote, err := convertCandidates(t.params.ICECandidates)
	if err != nil {
		return err
	}
	if err := t.ice.SetRemoteCandidates(remote); err != nil {
		return fmt.Errorf("set remote candidates: %w", err)
	}

	// The router side is ICE-lite; the viewer always controls.
	role := webrtc.ICERoleControlling
	if err := t.ice.Start(nil, webrtc.ICEParameters{
		UsernameFragment: t.params.ICEParameters.UsernameFragment,
		Password:         t.params.ICEParameters.Password,
	}, &role); err != nil {
		return fmt.Errorf("start ICE: %w", err)
	}

	if confirm != nil {
		if err := confirm(); err != nil {
			return fmt.Errorf("connect confirmation: %w", err)
		}
	}

	if err := t.dtls.Start(convertDTLS(t.params.DTLSParameters)); err != nil {
		return fmt.Errorf("start DTLS: %w", err)
	}

	t.log.Debug("receive transport connected",
		slog.String("transport_id", t.params.ID))
	return nil
}

// Consume creates a paused consumer: the RTP receiver exists but does not
// receive until Resume.
func (t *recvTransport) Consume(_ context.Context, consumerID, producerID string, params signal.RTPParameters) (playback.Consumer, error) {
	if len(params.Codecs) == 0 {
		return nil, errors.New("consumer has no negotiated codecs")
	}
	if len(params.Encodings) == 0 {
		return nil, errors.New("consumer has no encodings")
	}

	kind := webrtc.RTPCodecTypeVideo
	trackKind := playback.TrackVideo
	if strings.HasPrefix(strings.ToLower(params.Codecs[0].MimeType), "audio/") {
		kind = webrtc.RTPCodecTypeAudio
		trackKind = playback.TrackAudio
	}

	receiver, err := t.api.NewRTPReceiver(kind, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("create RTP receiver: %w", err)
	}

	t.log.Debug("consumer created",
		slog.String("consumer_id", consumerID),
		slog.String("producer_id", producerID),
		slog.String("kind", string(trackKind)))

	return &consumer{
		receiver: receiver,
		ssrc:     params.Encodings[0].SSRC,
		kind:     trackKind,
	}, nil
}

func (t *recvTransport) Close() error {
	var errs []error
	if err := t.dtls.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := t.ice.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// consumer wraps a pion RTPReceiver. It is created paused; Resume starts
// reception on the negotiated SSRC.
type consumer struct {
	receiver *webrtc.RTPReceiver
	ssrc     uint32
	kind     playback.TrackKind
	resumed  bool
}

func (c *consumer) Resume() error {
	if c.resumed {
		return nil
	}
	err := c.receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{
			{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: webrtc.SSRC(c.ssrc)}},
		},
	})
	if err != nil {
		return fmt.Errorf("start receiving: %w", err)
	}
	c.resumed = true
	return nil
}

func (c *consumer) Track() playback.Track {
	if !c.resumed {
		return nil
	}
	return &remoteTrack{inner: c.receiver.Track(), kind: c.kind}
}

func (c *consumer) Close() error {
	return c.receiver.Stop()
}

// remoteTrack adapts a pion TrackRemote to the playback Track contract.
type remoteTrack struct {
	inner *webrtc.TrackRemote
	kind  playback.TrackKind
}

func (t *remoteTrack) Kind() playback.TrackKind {
	return t.kind
}

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.inner.ReadRTP()
	return pkt, err
}

func registerCodecs(me *webrtc.MediaEngine, caps signal.RTPCapabilities) error {
	if len(caps.Codecs) == 0 {
		return errors.New("empty capability set")
	}
	pt := uint8(96)
	for _, c := range caps.Codecs {
		kind := webrtc.RTPCodecTypeVideo
		if strings.HasPrefix(strings.ToLower(c.MimeType), "audio/") {
			kind = webrtc.RTPCodecTypeAudio
		}
		payload := c.PreferredPayloadType
		if payload == 0 {
			payload = pt
			pt++
		}
		err := me.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  c.MimeType,
				ClockRate: uint32(c.ClockRate),
				Channels:  uint16(c.Channels),
			},
			PayloadType: webrtc.PayloadType(payload),
		}, kind)
		if err != nil {
			return err
		}
	}
	return nil
}

func convertCandidates(in []signal.ICECandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(in))
	for _, c := range in {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("candidate protocol %q: %w", c.Protocol, err)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate type %q: %w", c.Type, err)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
		})
	}
	return out, nil
}

func convertDTLS(in signal.DTLSParameters) webrtc.DTLSParameters {
	role := webrtc.DTLSRoleAuto
	switch strings.ToLower(in.Role) {
	case "client":
		role = webrtc.DTLSRoleClient
	case "server":
		role = webrtc.DTLSRoleServer
	}
	fps := make([]webrtc.DTLSFingerprint, 0, len(in.Fingerprints))
	for _, fp := range in.Fingerprints {
		fps = append(fps, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return webrtc.DTLSParameters{Role: role, Fingerprints: fps}
}
