// Package audio buffers inbound PCM into fixed-size windows and wraps them for transcription.
package audio

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// DefaultWindowSeconds is the amount of audio collected before a window is dispatched.
const DefaultWindowSeconds = 10

// DispatchFunc receives completed windows. It must not block.
type DispatchFunc func(types.AudioWindow)

// Accumulator collects audio for one session and cuts it into windows.
type Accumulator struct {
	sessionID string
	format    types.AudioFormat
	threshold int
	dispatch  DispatchFunc

	mu     sync.Mutex
	buf    []byte
	seq    int
	closed bool
}

// NewAccumulator creates an accumulator whose windows hold windowSeconds of audio.
func NewAccumulator(sessionID string, format types.AudioFormat, windowSeconds int, dispatch DispatchFunc) *Accumulator {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	threshold := format.BytesPerSecond() * windowSeconds
	return &Accumulator{
		sessionID: sessionID,
		format:    format,
		threshold: threshold,
		dispatch:  dispatch,
		buf:       make([]byte, 0, threshold),
	}
}

// Threshold returns the window size in bytes.
func (a *Accumulator) Threshold() int {
	return a.threshold
}

// Append adds p to the buffer and dispatches a window once the threshold is reached.
// It reports false if the accumulator is closed.
func (a *Accumulator) Append(p []byte) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.buf = append(a.buf, p...)
	var w types.AudioWindow
	ready := len(a.buf) >= a.threshold
	if ready {
		w = a.detach()
	}
	a.mu.Unlock()

	if ready {
		a.dispatch(w)
	}
	return true
}

// Close flushes the remaining audio and refuses further appends. Safe to call twice.
func (a *Accumulator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	var w types.AudioWindow
	pending := len(a.buf) > 0
	if pending {
		w = a.detach()
	}
	a.mu.Unlock()

	if pending {
		a.dispatch(w)
	}
}

// Buffered returns the number of bytes waiting for the next window.
func (a *Accumulator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// detach must be called with mu held.
func (a *Accumulator) detach() types.AudioWindow {
	w := types.AudioWindow{
		ID:        uuid.NewString(),
		SessionID: a.sessionID,
		Seq:       a.seq,
		Data:      a.buf,
		Format:    a.format,
	}
	a.seq++
	a.buf = make([]byte, 0, a.threshold)
	return w
}
