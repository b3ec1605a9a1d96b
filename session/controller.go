// Package session turns webhook notifications into running media sessions.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/metrics"
	"github.com/mrsingh-rishi/rtms-scribe/rtms"
	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// Dispatcher accepts completed audio windows without blocking.
type Dispatcher interface {
	Submit(types.AudioWindow)
}

// Config holds the settings shared by every session.
type Config struct {
	Credentials      rtms.Credentials
	Format           types.AudioFormat
	WindowSeconds    int
	HandshakeTimeout time.Duration
}

// Controller tracks sessions by ID.
type Controller struct {
	cfg        Config
	dispatcher Dispatcher
	log        *slog.Logger
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewController creates a controller that hands windows to dispatcher.
func NewController(cfg Config, dispatcher Dispatcher, log *slog.Logger, m *metrics.Metrics) *Controller {
	if cfg.Format.BytesPerSecond() == 0 {
		cfg.Format = types.L16Mono16k
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        log.With("component", "session_controller"),
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*Session),
	}
}

// HandleEvent routes a webhook notification. Unknown events are ignored.
func (c *Controller) HandleEvent(ev WebhookEvent) error {
	switch ev.Event {
	case EventSessionRTMSStarted, EventMeetingRTMSStarted:
		var p StreamPayload
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		_, err := c.Start(p)
		return err

	case EventSessionRTMSStopped, EventMeetingRTMSStopped:
		var p StreamPayload
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		c.Stop(p.ID())
		return nil

	default:
		c.log.Debug("ignoring webhook event", "event", ev.Event)
		return nil
	}
}

// Start begins a session for p and returns immediately; the sockets are
// connected in the background. A duplicate start for a live session returns
// the existing one.
func (c *Controller) Start(p StreamPayload) (*Session, error) {
	if p.ID() == "" || p.StreamID == "" || p.ServerURLs == "" {
		return nil, errors.Wrap(types.ErrMalformedMessage, "stream start needs session_id, rtms_stream_id and server_urls")
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return nil, errors.New("controller is shut down")
	}
	if existing, ok := c.sessions[p.ID()]; ok && existing.State() != types.SessionStopped {
		c.mu.Unlock()
		c.log.Info("session already active, ignoring duplicate start", "session_id", p.ID())
		return existing, nil
	}
	s := newSession(c.ctx, p, c.cfg, c.dispatcher.Submit, c.log, c.metrics, c.onStopped)
	c.sessions[s.id] = s
	c.mu.Unlock()

	c.metrics.SessionsStarted.Inc()
	c.metrics.ActiveSessions.Inc()
	s.log.Info("session starting", "server_url", p.ServerURLs)
	go s.run()
	return s, nil
}

// Stop ends the session with the given ID. Unknown IDs are ignored.
func (c *Controller) Stop(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("stop for unknown session", "session_id", sessionID)
		return
	}
	s.Stop(ReasonStopped)
}

// Lookup returns a snapshot of the session with the given ID.
func (c *Controller) Lookup(sessionID string) (Snapshot, bool) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Sessions returns snapshots of all known sessions, oldest first.
func (c *Controller) Sessions() []Snapshot {
	c.mu.Lock()
	list := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.Unlock()

	snaps := make([]Snapshot, 0, len(list))
	for _, s := range list {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.Before(snaps[j].StartedAt)
	})
	return snaps
}

// Shutdown stops every session and refuses new ones.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.cancel()
	list := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.Unlock()

	for _, s := range list {
		s.Stop(ReasonShutdown)
	}
	c.log.Info("all sessions stopped", "count", len(list))
}

func (c *Controller) onStopped(s *Session, reason string) {
	c.metrics.SessionsStopped.WithLabelValues(reason).Inc()
	c.metrics.ActiveSessions.Dec()
}
