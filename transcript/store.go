package transcript

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Event is emitted for every line appended to the store.
type Event struct {
	SessionID string
	Text      string
	Timestamp time.Time
}

// Store is an append-only transcript sink.
type Store interface {
	Append(sessionID, line string) error
	Events() <-chan Event
}

// FileStore appends lines to a plain-text file.
type FileStore struct {
	mu       sync.Mutex
	path     string
	eventsCh chan Event
}

// NewFileStore opens path for appending, creating it empty if absent.
func NewFileStore(path string, eventBuffer int) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open transcript %s", path)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrapf(err, "close transcript %s", path)
	}
	return &FileStore{
		path:     path,
		eventsCh: make(chan Event, eventBuffer),
	}, nil
}

// Path returns the transcript file location.
func (s *FileStore) Path() string {
	return s.path
}

// Append writes line verbatim to the end of the file. Writes are serialized.
func (s *FileStore) Append(sessionID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open transcript %s", s.path)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return errors.Wrapf(err, "append transcript %s", s.path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close transcript %s", s.path)
	}

	s.emit(Event{SessionID: sessionID, Text: line, Timestamp: time.Now()})
	return nil
}

// Events returns the channel of appended lines.
func (s *FileStore) Events() <-chan Event {
	return s.eventsCh
}

// emit sends an event without blocking; slow consumers miss lines.
func (s *FileStore) emit(event Event) {
	select {
	case s.eventsCh <- event:
	default:
	}
}
