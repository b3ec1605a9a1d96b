package workers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrsingh-rishi/rtms-scribe/metrics"
	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// fakeTranscriber echoes the first byte of each window as a word after a per-window delay.
type fakeTranscriber struct {
	delay    func(seq byte) time.Duration
	fail     map[byte]bool
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) ([]types.TranscriptSegment, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	seq := pcm[0]
	if f.delay != nil {
		select {
		case <-time.After(f.delay(seq)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[seq] {
		return nil, fmt.Errorf("engine rejected window %d", seq)
	}
	return []types.TranscriptSegment{{Text: fmt.Sprintf("w%d", seq)}, {Text: "."}}, nil
}

type memorySink struct {
	mu    sync.Mutex
	lines []string
}

func (s *memorySink) Append(sessionID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func (s *memorySink) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines, "")
}

func newTestWorker(t *testing.T, tr Transcriber, sink LineSink, maxInFlight int) *TranscriptionWorker {
	t.Helper()
	w, err := NewTranscriptionWorker(tr, sink, maxInFlight, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.NewNop())
	if err != nil {
		t.Fatalf("NewTranscriptionWorker: %v", err)
	}
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func window(seq byte) types.AudioWindow {
	return types.AudioWindow{SessionID: "s", Seq: int(seq), Data: []byte{seq, 0}, Format: types.L16Mono16k}
}

func drain(t *testing.T, w *TranscriptionWorker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestWorkerWritesInSubmissionOrder(t *testing.T) {
	// Earlier windows take longer, so completions arrive reversed.
	tr := &fakeTranscriber{delay: func(seq byte) time.Duration { return time.Duration(6-seq) * 15 * time.Millisecond }}
	sink := &memorySink{}
	w := newTestWorker(t, tr, sink, 4)

	for seq := byte(1); seq <= 6; seq++ {
		w.Submit(window(seq))
	}
	drain(t, w)

	if got, want := sink.joined(), "w1. w2. w3. w4. w5. w6. "; got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}

func TestWorkerBoundsInFlight(t *testing.T) {
	tr := &fakeTranscriber{delay: func(byte) time.Duration { return 20 * time.Millisecond }}
	sink := &memorySink{}
	w := newTestWorker(t, tr, sink, 2)

	for seq := byte(1); seq <= 8; seq++ {
		w.Submit(window(seq))
	}
	drain(t, w)

	if peak := tr.peak.Load(); peak > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak)
	}
	if n := len(sink.lines); n != 8 {
		t.Errorf("lines = %d, want 8", n)
	}
}

func TestWorkerSkipsFailedWindows(t *testing.T) {
	tr := &fakeTranscriber{fail: map[byte]bool{2: true}}
	sink := &memorySink{}
	w := newTestWorker(t, tr, sink, 4)

	for seq := byte(1); seq <= 3; seq++ {
		w.Submit(window(seq))
	}
	drain(t, w)

	if got := sink.joined(); got != "w1. w3. " {
		t.Errorf("transcript = %q", got)
	}
}

func TestWorkerSubmitDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTranscriber{delay: func(byte) time.Duration {
		<-release
		return 0
	}}
	w := newTestWorker(t, tr, &memorySink{}, 1)

	done := make(chan struct{})
	go func() {
		for seq := byte(1); seq <= 50; seq++ {
			w.Submit(window(seq))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked while the engine was busy")
	}
	close(release)
	drain(t, w)
}

func TestNewTranscriptionWorkerValidates(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewTranscriptionWorker(nil, &memorySink{}, 1, log, metrics.NewNop()); err == nil {
		t.Error("expected error for nil transcriber")
	}
	if _, err := NewTranscriptionWorker(&fakeTranscriber{}, nil, 1, log, metrics.NewNop()); err == nil {
		t.Error("expected error for nil sink")
	}
}
