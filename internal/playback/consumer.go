package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"

	"camviewer/internal/platform/metrics"
	"camviewer/internal/signal"
)

// SessionStatus is the consumer session controller's explicit state.
type SessionStatus int

// Session states.
const (
	SessionDetached SessionStatus = iota
	SessionNegotiating
	SessionStreaming
	SessionFailed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionNegotiating:
		return "negotiating"
	case SessionStreaming:
		return "streaming"
	case SessionFailed:
		return "failed"
	default:
		return "detached"
	}
}

// Track is one inbound media track produced by a consumer.
type Track interface {
	Kind() TrackKind
	ReadRTP() (*rtp.Packet, error)
}

// Consumer is the local receiving endpoint bound to a remote producer.
// Consumers are created paused and must be resumed explicitly.
type Consumer interface {
	Resume() error
	Track() Track
	Close() error
}

// RecvTransport is the local receive-only transport negotiated from remote
// transport parameters.
type RecvTransport interface {
	// Connect establishes the transport. confirm is invoked when the
	// transport requests DTLS confirmation; with V2 negotiation the DTLS
	// parameters were already exchanged during attach, so confirm only
	// acknowledges.
	Connect(ctx context.Context, confirm func() error) error

	// Consume creates the consumer bound to the given remote producer.
	Consume(ctx context.Context, consumerID, producerID string, params signal.RTPParameters) (Consumer, error)

	Close() error
}

// TransportFactory builds receive transports from negotiated parameters.
type TransportFactory interface {
	NewRecvTransport(params signal.TransportParams, caps signal.RTPCapabilities) (RecvTransport, error)
}

// ConsumerSession is one negotiated real-time attachment. The consumerID is
// the only identity the remote side needs for detach, so it is kept until
// cleanup completes even if negotiation failed halfway.
type ConsumerSession struct {
	StreamID   string
	ClientID   string
	ConsumerID string

	transport      RecvTransport
	consumer       Consumer
	track          Track
	remoteReleased bool
}

// SessionControllerConfig configures a SessionController.
type SessionControllerConfig struct {
	API        signal.API
	Transports TransportFactory
	Surface    Surface
	Logger     *slog.Logger
	Metrics    *metrics.Metrics // optional

	// HeartbeatInterval is how often the backend is told the consumer is
	// still watched. Zero means the default; negative disables.
	HeartbeatInterval time.Duration

	// DetachTimeout bounds the remote detach call during cleanup.
	DetachTimeout time.Duration
}

const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultDetachTimeout     = 5 * time.Second
)

// SessionController negotiates and tears down real-time consumer sessions.
// At most one negotiation is in flight at a time; a new Attach fully tears
// down the previous session first.
type SessionController struct {
	cfg SessionControllerConfig
	log *slog.Logger

	// attachMu serializes Attach/Detach sequences end to end.
	attachMu sync.Mutex

	mu      sync.Mutex
	status  SessionStatus
	session *ConsumerSession
	lastErr error

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	hbCancel   context.CancelFunc
	hbDone     chan struct{}
}

// NewSessionController returns a detached controller.
func NewSessionController(cfg SessionControllerConfig) *SessionController {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.DetachTimeout <= 0 {
		cfg.DetachTimeout = defaultDetachTimeout
	}
	return &SessionController{cfg: cfg, log: cfg.Logger}
}

// Attach runs the full negotiation sequence against streamID and starts
// pumping the inbound track to the surface. The steps run strictly in
// order; any failure aborts the whole sequence, releasing everything
// acquired so far (including the server-side consumer, which is detached
// even when a later local step fails).
func (c *SessionController) Attach(ctx context.Context, streamID string) error {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()

	c.detachLocked()

	c.setStatus(SessionNegotiating, nil)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.IncAttachAttempts()
	}

	sess, err := c.negotiate(ctx, streamID)
	if err != nil {
		if sess != nil {
			c.releaseSession(sess)
		}
		c.setStatus(SessionFailed, err)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.IncAttachFailures()
		}
		c.log.Error("consumer attach failed",
			slog.String("stream_id", streamID),
			slog.String("error", err.Error()))
		return err
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	c.startPump(sess.track)
	c.startHeartbeat(sess.ConsumerID)
	c.setStatus(SessionStreaming, nil)

	c.log.Info("consumer session streaming",
		slog.String("stream_id", streamID),
		slog.String("client_id", sess.ClientID),
		slog.String("consumer_id", sess.ConsumerID))
	return nil
}

// negotiate drives steps 1-7. On error it returns the partially built
// session (nil if no remote resource was created yet) so the caller can
// release it.
func (c *SessionController) negotiate(ctx context.Context, streamID string) (*ConsumerSession, error) {
	// Step 1: stream descriptor; anything but live is terminal.
	desc, err := c.cfg.API.Stream(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("stream lookup: %w", err)
	}
	if desc.State != signal.StreamLive {
		return nil, fmt.Errorf("%w (state %q)", signal.ErrStreamNotLive, desc.State)
	}

	// Step 2: router capabilities are a hard precondition.
	routerCaps, err := c.cfg.API.RouterCapabilities(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("router capabilities: %w", err)
	}

	// Step 3: load the local device, computing the supported intersection.
	device := NewDevice()
	if err := device.Load(routerCaps); err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	// Step 4: request attachment with a fresh client id.
	clientID := uuid.NewString()
	resp, err := c.cfg.API.AttachConsumer(ctx, streamID, signal.AttachRequest{
		ClientID:        clientID,
		RTPCapabilities: device.RTPCapabilities(),
	})
	if err != nil {
		return nil, fmt.Errorf("attach consumer: %w", err)
	}

	// A consumer now exists server-side; from here every failure must
	// still release it.
	sess := &ConsumerSession{
		StreamID:   streamID,
		ClientID:   clientID,
		ConsumerID: resp.ConsumerID,
	}

	// Step 5: build and connect the receive transport.
	transport, err := c.cfg.Transports.NewRecvTransport(resp.TransportParams, device.RTPCapabilities())
	if err != nil {
		return sess, fmt.Errorf("create transport: %w", err)
	}
	sess.transport = transport

	if err := transport.Connect(ctx, func() error {
		// V2 negotiation exchanged DTLS parameters in step 4; this is
		// a confirmation, not a fresh exchange.
		return nil
	}); err != nil {
		return sess, fmt.Errorf("connect transport: %w", err)
	}

	// Step 6: create the consumer bound to the known producer.
	consumer, err := transport.Consume(ctx, resp.ConsumerID, desc.ProducerID, resp.RTPParameters)
	if err != nil {
		return sess, fmt.Errorf("create consumer: %w", err)
	}
	sess.consumer = consumer

	// Step 7: resume (consumers start paused) and take the track.
	if err := consumer.Resume(); err != nil {
		return sess, fmt.Errorf("resume consumer: %w", err)
	}
	sess.track = consumer.Track()
	if sess.track == nil {
		return sess, errors.New("consumer yielded no track")
	}

	if c.cfg.Surface != nil {
		if err := c.cfg.Surface.Activate(); err != nil && !errors.Is(err, ErrActivationBlocked) {
			return sess, fmt.Errorf("activate surface: %w", err)
		}
	}
	return sess, nil
}

// Detach tears the session down: stop the track pump and heartbeat, close
// the consumer, release the server-side consumer, close the transport,
// clear the surface. Safe to call repeatedly and from a partially
// negotiated state; cleanup is never cancelled by the owner going away.
func (c *SessionController) Detach() {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	c.detachLocked()
}

func (c *SessionController) detachLocked() {
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
	c.stopHeartbeat()

	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess != nil {
		c.releaseSession(sess)
	}

	// The pump unblocks when the consumer's track closes, so it can only
	// be waited on after the session is released.
	if c.pumpDone != nil {
		<-c.pumpDone
		c.pumpDone = nil
	}
	c.setStatus(SessionDetached, nil)
}

// releaseSession frees whatever parts of a session exist. The remote
// consumer is released exactly once per session; its failure is logged,
// never escalated, and never blocks the rest of the cleanup.
func (c *SessionController) releaseSession(sess *ConsumerSession) {
	if sess.consumer != nil {
		if err := sess.consumer.Close(); err != nil {
			c.log.Warn("closing consumer", slog.String("error", err.Error()))
		}
		sess.consumer = nil
	}

	if sess.ConsumerID != "" && !sess.remoteReleased {
		sess.remoteReleased = true
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DetachTimeout)
		if err := c.cfg.API.DetachConsumer(ctx, sess.ConsumerID); err != nil {
			c.log.Warn("remote detach failed",
				slog.String("consumer_id", sess.ConsumerID),
				slog.String("error", err.Error()))
		}
		cancel()
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.IncDetaches()
		}
	}

	if sess.transport != nil {
		if err := sess.transport.Close(); err != nil {
			c.log.Warn("closing transport", slog.String("error", err.Error()))
		}
		sess.transport = nil
	}

	if c.cfg.Surface != nil {
		c.cfg.Surface.Clear()
	}
}

// Status returns the controller state and the error of the last failed
// negotiation, if any.
func (c *SessionController) Status() (SessionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// ConsumerID returns the active session's consumer identity, or empty.
func (c *SessionController) ConsumerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ConsumerID
}

func (c *SessionController) setStatus(s SessionStatus, err error) {
	c.mu.Lock()
	c.status = s
	c.lastErr = err
	c.mu.Unlock()
}

func (c *SessionController) startPump(track Track) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.pumpCancel = cancel
	c.pumpDone = done
	go c.pump(ctx, track, done)
}

// pump forwards RTP payloads from the inbound track to the surface until
// the track ends or the session is torn down.
func (c *SessionController) pump(ctx context.Context, track Track, done chan struct{}) {
	defer close(done)

	clock := mpegtsClock
	if track.Kind() == TrackAudio {
		clock = 48000
	}

	for {
		pkt, err := track.ReadRTP()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.log.Warn("live track read ended", slog.String("error", err.Error()))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.cfg.Surface != nil {
			c.cfg.Surface.WriteFrame(Frame{
				Kind:    track.Kind(),
				PTS:     time.Duration(pkt.Timestamp) * time.Second / time.Duration(clock),
				Payload: pkt.Payload,
			})
		}
	}
}

func (c *SessionController) startHeartbeat(consumerID string) {
	if c.cfg.HeartbeatInterval < 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.hbCancel = cancel
	c.hbDone = done
	go c.heartbeat(ctx, consumerID, done)
}

func (c *SessionController) stopHeartbeat() {
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
	if c.hbDone != nil {
		<-c.hbDone
		c.hbDone = nil
	}
}

// heartbeat keeps the server-side consumer alive while streaming. The
// backend reaps consumers that go quiet; a failed heartbeat is logged but
// never faults the session.
func (c *SessionController) heartbeat(ctx context.Context, consumerID string, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.cfg.API.Heartbeat(ctx, consumerID); err != nil {
				c.log.Warn("consumer heartbeat failed",
					slog.String("consumer_id", consumerID),
					slog.String("error", err.Error()))
				if c.cfg.Metrics != nil {
					c.cfg.Metrics.IncHeartbeatFailures()
				}
				continue
			}
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.IncHeartbeats()
			}
		}
	}
}
