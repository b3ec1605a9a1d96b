package rtms

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/metrics"
	"github.com/mrsingh-rishi/rtms-scribe/signer"
	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// MediaState is the lifecycle of the media socket.
type MediaState int

const (
	MediaConnecting MediaState = iota
	MediaHandshakeSent
	MediaAcked
	MediaStreaming
	MediaClosed
	MediaErrored
)

func (s MediaState) String() string {
	return [...]string{"connecting", "handshake_sent", "acked", "streaming", "closed", "errored"}[s]
}

// AudioSink receives decoded PCM. Append reports false once the sink stops accepting audio.
type AudioSink interface {
	Append(p []byte) bool
}

// MediaHandler receives the events a media socket reports upward.
type MediaHandler interface {
	// OnMediaAcked runs synchronously after a successful handshake ack; audio is
	// forwarded only after it returns nil.
	OnMediaAcked() error
	// OnMediaClosed reports ErrHandshakeFailed, ErrConnectionLost or ErrStreamEnded.
	OnMediaClosed(err error)
}

// MediaChannel is the audio socket of a session.
type MediaChannel struct {
	cfg     ChannelConfig
	sink    AudioSink
	handler MediaHandler
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state MediaState
	conn  *conn
	done  chan struct{}
}

// NewMediaChannel creates an unconnected media channel feeding sink.
func NewMediaChannel(cfg ChannelConfig, sink AudioSink, handler MediaHandler, log *slog.Logger, m *metrics.Metrics) *MediaChannel {
	return &MediaChannel{
		cfg:     cfg,
		sink:    sink,
		handler: handler,
		log:     log.With("channel", metrics.ChannelMedia, "session_id", cfg.SessionID, "stream_id", cfg.StreamID),
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Connect dials the media endpoint.
func (m *MediaChannel) Connect(ctx context.Context) error {
	c, err := dial(ctx, m.cfg.URL, m.cfg.HandshakeTimeout)
	if err != nil {
		m.setState(MediaErrored)
		return errors.Wrap(types.ErrHandshakeFailed, err.Error())
	}
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
	m.log.Info("media socket connected", "url", m.cfg.URL)
	return nil
}

// Handshake sends the signed data handshake and starts the read loop.
func (m *MediaChannel) Handshake() error {
	c := m.getConn()
	if c == nil {
		return errors.New("media channel is not connected")
	}
	sig, err := signer.HandshakeSignature(m.cfg.Credentials.ClientID, m.cfg.SessionID, m.cfg.StreamID, m.cfg.Credentials.Secret)
	if err != nil {
		m.setState(MediaErrored)
		c.close()
		return err
	}

	c.setReadDeadline(m.cfg.HandshakeTimeout)
	if err := c.writeJSON(newDataHandshake(m.cfg.SessionID, m.cfg.StreamID, sig)); err != nil {
		m.setState(MediaErrored)
		c.close()
		return errors.Wrap(types.ErrHandshakeFailed, err.Error())
	}
	m.setState(MediaHandshakeSent)

	go m.readLoop(c)
	return nil
}

// State returns the current state.
func (m *MediaChannel) State() MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed when the read loop exits.
func (m *MediaChannel) Done() <-chan struct{} {
	return m.done
}

// Close shuts the socket without reporting an error. Idempotent.
func (m *MediaChannel) Close() {
	if c := m.getConn(); c != nil {
		c.close()
	}
}

func (m *MediaChannel) readLoop(c *conn) {
	defer close(m.done)
	for {
		data, err := c.read()
		if err != nil {
			m.handleClose(c, err)
			return
		}
		m.handleMessage(c, data)
	}
}

func (m *MediaChannel) handleMessage(c *conn, data []byte) {
	var env envelope
	if err := decode(data, &env); err != nil {
		m.malformed(err)
		return
	}

	switch env.MsgType {
	case MsgKeepAliveReq:
		var req keepAlive
		if err := decode(data, &req); err != nil {
			m.malformed(err)
			return
		}
		if err := c.writeJSON(keepAlive{MsgType: MsgKeepAliveResp, Timestamp: req.Timestamp}); err != nil {
			m.log.Warn("keep-alive reply failed", "error", err)
			return
		}
		m.metrics.KeepAlives.WithLabelValues(metrics.ChannelMedia).Inc()

	case MsgDataHandshakeResp:
		var resp dataHandshakeResp
		if err := decode(data, &resp); err != nil {
			m.malformed(err)
			return
		}
		m.handleHandshakeResp(c, resp)

	case MsgMediaDataAudio:
		m.handleAudio(data)

	default:
		m.log.Debug("ignoring media message", "msg_type", env.MsgType)
	}
}

func (m *MediaChannel) handleHandshakeResp(c *conn, resp dataHandshakeResp) {
	if state := m.State(); state != MediaHandshakeSent {
		m.log.Debug("unexpected handshake response", "state", state)
		return
	}
	if resp.StatusCode != StatusOK {
		m.fail(c, errors.Wrapf(types.ErrHandshakeFailed, "handshake rejected with status %d: %s", resp.StatusCode, resp.Reason))
		return
	}

	c.setReadDeadline(0)
	m.setState(MediaAcked)
	if err := m.handler.OnMediaAcked(); err != nil {
		m.fail(c, errors.Wrap(err, "acknowledge media readiness"))
		return
	}
	m.setState(MediaStreaming)
	m.log.Info("media stream ready")
}

func (m *MediaChannel) handleAudio(data []byte) {
	if m.State() != MediaStreaming {
		m.metrics.AudioFramesDropped.Inc()
		m.log.Debug("dropping audio received before stream ready")
		return
	}
	var frame audioData
	if err := decode(data, &frame); err != nil {
		m.malformed(err)
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(frame.Content.Data)
	if err != nil {
		m.malformed(errors.Wrap(types.ErrMalformedMessage, err.Error()))
		return
	}
	if len(pcm) == 0 {
		return
	}
	if !m.sink.Append(pcm) {
		m.metrics.AudioFramesDropped.Inc()
		return
	}
	m.metrics.AudioFrames.Inc()
	m.metrics.AudioBytes.Add(float64(len(pcm)))
}

func (m *MediaChannel) handleClose(c *conn, err error) {
	prev := m.State()
	if prev == MediaErrored {
		return
	}
	m.setState(MediaClosed)

	if c.closedLocally() {
		m.log.Debug("media socket closed")
		return
	}

	var reported error
	switch prev {
	case MediaStreaming:
		m.log.Info("media stream ended", "reason", err)
		reported = errors.Wrap(types.ErrStreamEnded, err.Error())
	case MediaAcked:
		m.log.Warn("media socket lost after ack", "error", err)
		reported = errors.Wrap(types.ErrConnectionLost, err.Error())
	default:
		m.log.Warn("media socket closed before handshake ack", "error", err)
		reported = errors.Wrap(types.ErrHandshakeFailed, err.Error())
	}
	m.handler.OnMediaClosed(reported)
}

func (m *MediaChannel) fail(c *conn, err error) {
	m.setState(MediaErrored)
	m.log.Error("media channel failed", "error", err)
	c.close()
	m.handler.OnMediaClosed(err)
}

func (m *MediaChannel) malformed(err error) {
	m.metrics.MalformedMessages.WithLabelValues(metrics.ChannelMedia).Inc()
	m.log.Warn("discarding malformed media message", "error", err)
}

func (m *MediaChannel) setState(state MediaState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *MediaChannel) getConn() *conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}
