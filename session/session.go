package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/audio"
	"github.com/mrsingh-rishi/rtms-scribe/metrics"
	"github.com/mrsingh-rishi/rtms-scribe/rtms"
	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// Stop reasons, used as the metrics label.
const (
	ReasonStopped     = "stopped"
	ReasonStreamEnded = "stream_ended"
	ReasonError       = "error"
	ReasonShutdown    = "shutdown"
)

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID     string    `json:"session_id"`
	StreamID      string    `json:"stream_id"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at,omitempty"`
	BufferedBytes int       `json:"buffered_bytes"`
	Error         string    `json:"error,omitempty"`
}

// Session owns the two sockets and the accumulator of one stream.
type Session struct {
	id        string
	streamID  string
	serverURL string
	cfg       Config
	acc       *audio.Accumulator
	log       *slog.Logger
	metrics   *metrics.Metrics
	onStop    func(*Session, string)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     types.SessionState
	sig       *rtms.SignalingChannel
	media     *rtms.MediaChannel
	startedAt time.Time
	stoppedAt time.Time
	err       error
	done      chan struct{}
}

func newSession(parent context.Context, p StreamPayload, cfg Config, dispatch audio.DispatchFunc, log *slog.Logger, m *metrics.Metrics, onStop func(*Session, string)) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ctx:       ctx,
		cancel:    cancel,
		id:        p.ID(),
		streamID:  p.StreamID,
		serverURL: p.ServerURLs,
		cfg:       cfg,
		log:       log.With("session_id", p.ID(), "stream_id", p.StreamID),
		metrics:   m,
		onStop:    onStop,
		state:     types.SessionIdle,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.acc = audio.NewAccumulator(s.id, cfg.Format, cfg.WindowSeconds, dispatch)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that aborted the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:     s.id,
		StreamID:      s.streamID,
		State:         s.state.String(),
		StartedAt:     s.startedAt,
		StoppedAt:     s.stoppedAt,
		BufferedBytes: s.acc.Buffered(),
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

func (s *Session) channelConfig(url string) rtms.ChannelConfig {
	return rtms.ChannelConfig{
		URL:              url,
		SessionID:        s.id,
		StreamID:         s.streamID,
		Credentials:      s.cfg.Credentials,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}
}

// run connects the signaling socket and sends the handshake. The rest of the
// lifecycle is driven by socket events.
func (s *Session) run() {
	sig := rtms.NewSignalingChannel(s.channelConfig(s.serverURL), s, s.log, s.metrics)
	s.mu.Lock()
	if s.state == types.SessionStopped {
		s.mu.Unlock()
		return
	}
	s.sig = sig
	s.mu.Unlock()

	if err := sig.Connect(s.ctx); err != nil {
		s.abort(err)
		return
	}
	if s.stoppedDuringDial() {
		sig.Close()
		return
	}
	s.advance(types.SessionSignalingConnected)

	// The reply may arrive before Handshake returns.
	s.advance(types.SessionAwaitingMediaRedirect)
	if err := sig.Handshake(); err != nil {
		s.abort(err)
	}
}

// OnMediaEndpoint opens the media socket off the signaling read loop.
func (s *Session) OnMediaEndpoint(url string) {
	s.log.Info("media endpoint assigned", "media_url", url)
	go s.openMedia(url)
}

// OnSignalingError aborts the session.
func (s *Session) OnSignalingError(err error) {
	s.abort(err)
}

func (s *Session) openMedia(url string) {
	media := rtms.NewMediaChannel(s.channelConfig(url), s.acc, s, s.log, s.metrics)
	s.mu.Lock()
	if s.state == types.SessionStopped {
		s.mu.Unlock()
		return
	}
	s.media = media
	s.mu.Unlock()

	if err := media.Connect(s.ctx); err != nil {
		s.abort(err)
		return
	}
	if s.stoppedDuringDial() {
		media.Close()
		return
	}
	s.advance(types.SessionMediaConnected)
	if err := media.Handshake(); err != nil {
		s.abort(err)
	}
}

// OnMediaAcked forwards readiness on the signaling socket before audio is accepted.
func (s *Session) OnMediaAcked() error {
	s.mu.Lock()
	sig := s.sig
	s.mu.Unlock()
	if sig == nil {
		return errors.Wrap(types.ErrConnectionLost, "no signaling channel")
	}
	if err := sig.SendReadyAck(); err != nil {
		return err
	}
	if s.advance(types.SessionStreaming) {
		s.log.Info("session streaming")
	}
	return nil
}

// OnMediaClosed ends the session, normally for StreamEnded and as a failure otherwise.
func (s *Session) OnMediaClosed(err error) {
	if errors.Is(err, types.ErrStreamEnded) {
		s.finish(ReasonStreamEnded, nil)
		return
	}
	s.abort(err)
}

// Stop ends the session, flushing the partial window. Idempotent.
func (s *Session) Stop(reason string) {
	s.finish(reason, nil)
}

func (s *Session) abort(err error) {
	s.finish(ReasonError, err)
}

// stoppedDuringDial reports whether the session stopped while a socket was
// connecting; finish could not close a socket that had no connection yet.
func (s *Session) stoppedDuringDial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == types.SessionStopped
}

// advance moves the state forward; it never leaves Stopped or goes backwards.
func (s *Session) advance(to types.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= to {
		return false
	}
	s.state = to
	return true
}

func (s *Session) finish(reason string, err error) {
	s.mu.Lock()
	if s.state == types.SessionStopped {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = types.SessionStopped
	s.stoppedAt = time.Now()
	s.err = err
	sig, media := s.sig, s.media
	close(s.done)
	s.mu.Unlock()
	s.cancel()

	if err != nil {
		s.log.Error("session aborted", "state", prev, "error", err)
	} else {
		s.log.Info("session stopped", "state", prev, "reason", reason)
	}

	s.acc.Close()
	if media != nil {
		media.Close()
	}
	if sig != nil {
		sig.Close()
	}
	if s.onStop != nil {
		s.onStop(s, reason)
	}
}
