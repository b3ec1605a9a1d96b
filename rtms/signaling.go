package rtms

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/metrics"
	"github.com/mrsingh-rishi/rtms-scribe/signer"
	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// SignalingState is the lifecycle of the control socket.
type SignalingState int

const (
	SignalingConnecting SignalingState = iota
	SignalingHandshakeSent
	SignalingReady
	SignalingClosed
	SignalingErrored
)

func (s SignalingState) String() string {
	return [...]string{"connecting", "handshake_sent", "ready", "closed", "errored"}[s]
}

// SignalingHandler receives the events a signaling socket reports upward.
// Calls are made from the socket's read loop and must not block on network I/O.
type SignalingHandler interface {
	OnMediaEndpoint(url string)
	OnSignalingError(err error)
}

// Credentials identify this client to both sockets.
type Credentials struct {
	ClientID string
	Secret   string
}

// ChannelConfig addresses one socket of one session.
type ChannelConfig struct {
	URL         string
	SessionID   string
	StreamID    string
	Credentials Credentials
	// HandshakeTimeout bounds dialing and the wait for the handshake reply. Zero disables it.
	HandshakeTimeout time.Duration
}

// SignalingChannel is the control socket of a session.
type SignalingChannel struct {
	cfg     ChannelConfig
	handler SignalingHandler
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state SignalingState
	conn  *conn
	done  chan struct{}
}

// NewSignalingChannel creates an unconnected signaling channel.
func NewSignalingChannel(cfg ChannelConfig, handler SignalingHandler, log *slog.Logger, m *metrics.Metrics) *SignalingChannel {
	return &SignalingChannel{
		cfg:     cfg,
		handler: handler,
		log:     log.With("channel", metrics.ChannelSignaling, "session_id", cfg.SessionID, "stream_id", cfg.StreamID),
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Connect dials the control endpoint.
func (s *SignalingChannel) Connect(ctx context.Context) error {
	c, err := dial(ctx, s.cfg.URL, s.cfg.HandshakeTimeout)
	if err != nil {
		s.setState(SignalingErrored)
		return errors.Wrap(types.ErrConnectionLost, err.Error())
	}
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
	s.log.Info("signaling socket connected", "url", s.cfg.URL)
	return nil
}

// Handshake sends the signed session handshake and starts the read loop.
func (s *SignalingChannel) Handshake() error {
	c := s.getConn()
	if c == nil {
		return errors.New("signaling channel is not connected")
	}
	sig, err := signer.HandshakeSignature(s.cfg.Credentials.ClientID, s.cfg.SessionID, s.cfg.StreamID, s.cfg.Credentials.Secret)
	if err != nil {
		s.setState(SignalingErrored)
		c.close()
		return err
	}

	c.setReadDeadline(s.cfg.HandshakeTimeout)
	err = c.writeJSON(signalingHandshakeReq{
		MsgType:         MsgSignalingHandshakeReq,
		ProtocolVersion: ProtocolVersion,
		SessionID:       s.cfg.SessionID,
		StreamID:        s.cfg.StreamID,
		Sequence:        time.Now().UnixMilli(),
		Signature:       sig,
	})
	if err != nil {
		s.setState(SignalingErrored)
		c.close()
		return errors.Wrap(types.ErrConnectionLost, err.Error())
	}
	s.setState(SignalingHandshakeSent)

	go s.readLoop(c)
	return nil
}

// SendReadyAck tells the control endpoint that the media socket is ready.
func (s *SignalingChannel) SendReadyAck() error {
	c := s.getConn()
	if c == nil || s.State() != SignalingReady {
		return errors.Errorf("signaling channel not ready (state %s)", s.State())
	}
	err := c.writeJSON(clientReadyAck{
		MsgType:    MsgClientReadyAck,
		StreamID:   s.cfg.StreamID,
		StatusCode: StatusOK,
	})
	if err != nil {
		return errors.Wrap(types.ErrConnectionLost, err.Error())
	}
	s.log.Debug("sent client ready ack")
	return nil
}

// State returns the current state.
func (s *SignalingChannel) State() SignalingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the read loop exits.
func (s *SignalingChannel) Done() <-chan struct{} {
	return s.done
}

// Close shuts the socket without reporting an error. Idempotent.
func (s *SignalingChannel) Close() {
	if c := s.getConn(); c != nil {
		c.close()
	}
}

func (s *SignalingChannel) readLoop(c *conn) {
	defer close(s.done)
	for {
		data, err := c.read()
		if err != nil {
			s.handleClose(c, err)
			return
		}
		s.handleMessage(c, data)
	}
}

func (s *SignalingChannel) handleMessage(c *conn, data []byte) {
	var env envelope
	if err := decode(data, &env); err != nil {
		s.malformed(err)
		return
	}

	switch env.MsgType {
	case MsgKeepAliveReq:
		var req keepAlive
		if err := decode(data, &req); err != nil {
			s.malformed(err)
			return
		}
		if err := c.writeJSON(keepAlive{MsgType: MsgKeepAliveResp, Timestamp: req.Timestamp}); err != nil {
			s.log.Warn("keep-alive reply failed", "error", err)
			return
		}
		s.metrics.KeepAlives.WithLabelValues(metrics.ChannelSignaling).Inc()

	case MsgSignalingHandshakeResp:
		var resp signalingHandshakeResp
		if err := decode(data, &resp); err != nil {
			s.malformed(err)
			return
		}
		s.handleHandshakeResp(c, resp)

	default:
		s.log.Debug("ignoring signaling message", "msg_type", env.MsgType)
	}
}

func (s *SignalingChannel) handleHandshakeResp(c *conn, resp signalingHandshakeResp) {
	if state := s.State(); state != SignalingHandshakeSent {
		s.log.Debug("unexpected handshake response", "state", state)
		return
	}
	if resp.StatusCode != StatusOK {
		s.fail(c, errors.Wrapf(types.ErrSignaling, "handshake rejected with status %d: %s", resp.StatusCode, resp.Reason))
		return
	}
	url := resp.audioURL()
	if url == "" {
		s.fail(c, errors.Wrap(types.ErrSignaling, "handshake response has no media endpoint"))
		return
	}

	c.setReadDeadline(0)
	s.setState(SignalingReady)
	s.log.Info("signaling handshake accepted", "media_url", url)
	s.handler.OnMediaEndpoint(url)
}

func (s *SignalingChannel) handleClose(c *conn, err error) {
	prev := s.State()
	if prev == SignalingErrored {
		return
	}
	s.setState(SignalingClosed)

	if c.closedLocally() {
		s.log.Debug("signaling socket closed")
		return
	}
	if prev < SignalingReady {
		s.log.Warn("signaling socket lost before ready", "error", err)
		s.handler.OnSignalingError(errors.Wrap(types.ErrConnectionLost, err.Error()))
		return
	}
	s.log.Info("signaling socket closed by remote", "error", err)
}

func (s *SignalingChannel) fail(c *conn, err error) {
	s.setState(SignalingErrored)
	s.log.Error("signaling failed", "error", err)
	c.close()
	s.handler.OnSignalingError(err)
}

func (s *SignalingChannel) malformed(err error) {
	s.metrics.MalformedMessages.WithLabelValues(metrics.ChannelSignaling).Inc()
	s.log.Warn("discarding malformed signaling message", "error", err)
}

func (s *SignalingChannel) setState(state SignalingState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *SignalingChannel) getConn() *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
