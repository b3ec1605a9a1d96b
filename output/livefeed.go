package output

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/transcript"
)

// MessageTypeTranscript tags each pushed transcript line.
const MessageTypeTranscript = "transcript"

const subscriberBuffer = 32

// Message is the JSON frame pushed to live viewers.
type Message struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is the part of a websocket connection the feed uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

type subscriber struct {
	send chan Message
}

// LiveFeed fans transcript lines out to connected websocket viewers.
type LiveFeed struct {
	ctx    context.Context
	cancel context.CancelFunc
	events <-chan transcript.Event
	log    *slog.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

// NewLiveFeed creates a feed reading from events.
func NewLiveFeed(events <-chan transcript.Event, log *slog.Logger) (*LiveFeed, error) {
	if events == nil {
		return nil, errors.New("transcript event channel is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LiveFeed{
		ctx:         ctx,
		cancel:      cancel,
		events:      events,
		log:         log.With("component", "live_feed"),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// Start begins broadcasting transcript events.
func (f *LiveFeed) Start() {
	go func() {
		for {
			select {
			case <-f.ctx.Done():
				return
			case ev, ok := <-f.events:
				if !ok {
					return
				}
				f.broadcast(Message{
					Type:      MessageTypeTranscript,
					SessionID: ev.SessionID,
					Text:      ev.Text,
					Timestamp: ev.Timestamp,
				})
			}
		}
	}()
}

// Serve pushes transcript lines to conn until the viewer disconnects or the feed stops.
func (f *LiveFeed) Serve(conn Conn) {
	sub := &subscriber{send: make(chan Message, subscriberBuffer)}
	f.mu.Lock()
	f.subscribers[sub] = struct{}{}
	f.mu.Unlock()
	f.log.Debug("viewer connected", "viewers", f.Subscribers())

	defer func() {
		f.mu.Lock()
		delete(f.subscribers, sub)
		f.mu.Unlock()
		conn.Close()
		f.log.Debug("viewer disconnected")
	}()

	// Viewers never send anything meaningful; reading detects the disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-gone:
			return
		case msg := <-sub.send:
			if err := conn.WriteJSON(msg); err != nil {
				f.log.Warn("live feed write failed", "error", err)
				return
			}
		}
	}
}

// Subscribers returns the number of connected viewers.
func (f *LiveFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// Stop disconnects every viewer.
func (f *LiveFeed) Stop() {
	f.cancel()
}

func (f *LiveFeed) broadcast(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subscribers {
		select {
		case sub.send <- msg:
		default:
			f.log.Warn("viewer too slow, dropping line", "session_id", msg.SessionID)
		}
	}
}
