package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/metrics"
	"github.com/mrsingh-rishi/rtms-scribe/queue"
	"github.com/mrsingh-rishi/rtms-scribe/transcript"
	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// DefaultMaxInFlight bounds concurrent engine calls when none is configured.
const DefaultMaxInFlight = 4

// Transcriber is the speech-recognition engine.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) ([]types.TranscriptSegment, error)
}

// LineSink persists assembled transcript lines.
type LineSink interface {
	Append(sessionID, line string) error
}

type job struct {
	window types.AudioWindow
	result chan string
}

// TranscriptionWorker transcribes audio windows concurrently and appends the results
// through a single writer, in the order the windows were submitted.
type TranscriptionWorker struct {
	ctx    context.Context
	cancel context.CancelFunc

	transcriber Transcriber
	sink        LineSink
	log         *slog.Logger
	metrics     *metrics.Metrics

	backlog *queue.Queue[*job]
	notify  chan struct{}
	ordered chan *job
	slots   chan struct{}

	pending sync.WaitGroup
	loops   sync.WaitGroup
}

// NewTranscriptionWorker creates a worker with at most maxInFlight concurrent engine calls.
func NewTranscriptionWorker(transcriber Transcriber, sink LineSink, maxInFlight int, log *slog.Logger, m *metrics.Metrics) (*TranscriptionWorker, error) {
	if transcriber == nil {
		return nil, errors.New("transcriber is required")
	}
	if sink == nil {
		return nil, errors.New("transcript sink is required")
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TranscriptionWorker{
		ctx:         ctx,
		cancel:      cancel,
		transcriber: transcriber,
		sink:        sink,
		log:         log.With("component", "transcription_worker"),
		metrics:     m,
		backlog:     queue.New[*job](),
		notify:      make(chan struct{}, 1),
		ordered:     make(chan *job, maxInFlight),
		slots:       make(chan struct{}, maxInFlight),
	}, nil
}

// Start launches the dispatch and writer loops.
func (tw *TranscriptionWorker) Start() {
	tw.loops.Add(2)
	go tw.dispatchLoop()
	go tw.writeLoop()
}

// Submit queues a window for transcription. It never blocks.
func (tw *TranscriptionWorker) Submit(w types.AudioWindow) {
	if tw.ctx.Err() != nil {
		tw.log.Warn("worker stopped, dropping window", "session_id", w.SessionID, "window_id", w.ID)
		return
	}
	tw.pending.Add(1)
	tw.backlog.Enqueue(&job{window: w, result: make(chan string, 1)})
	tw.metrics.WindowsDispatched.Inc()
	tw.metrics.TranscriptionBacklog.Set(float64(tw.backlog.Len()))

	select {
	case tw.notify <- struct{}{}:
	default:
	}
}

// Drain waits until every submitted window has been written or ctx expires.
func (tw *TranscriptionWorker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		tw.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels in-flight transcriptions and waits for the loops to exit.
func (tw *TranscriptionWorker) Stop() {
	tw.cancel()
	tw.loops.Wait()
}

func (tw *TranscriptionWorker) dispatchLoop() {
	defer tw.loops.Done()
	for {
		select {
		case <-tw.ctx.Done():
			return
		case <-tw.notify:
		}

		for {
			j, ok := tw.backlog.Dequeue()
			if !ok {
				break
			}
			tw.metrics.TranscriptionBacklog.Set(float64(tw.backlog.Len()))

			select {
			case tw.slots <- struct{}{}:
			case <-tw.ctx.Done():
				return
			}
			select {
			case tw.ordered <- j:
			case <-tw.ctx.Done():
				return
			}
			go tw.run(j)
		}
	}
}

func (tw *TranscriptionWorker) run(j *job) {
	defer func() { <-tw.slots }()

	log := tw.log.With("session_id", j.window.SessionID, "window_id", j.window.ID, "seq", j.window.Seq)
	start := time.Now()
	segments, err := tw.transcriber.Transcribe(tw.ctx, j.window.Data, j.window.Format.SampleRate)
	tw.metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		tw.metrics.TranscriptionFailures.Inc()
		log.Error("transcription failed", "error", err, "audio", j.window.Duration())
		j.result <- ""
		return
	}

	line := transcript.Format(segments)
	log.Info("window transcribed", "audio", j.window.Duration(), "took", time.Since(start), "text", line)
	j.result <- line
}

func (tw *TranscriptionWorker) writeLoop() {
	defer tw.loops.Done()
	for {
		var j *job
		select {
		case <-tw.ctx.Done():
			return
		case j = <-tw.ordered:
		}

		var line string
		select {
		case <-tw.ctx.Done():
			return
		case line = <-j.result:
		}

		if line != "" {
			if err := tw.sink.Append(j.window.SessionID, line); err != nil {
				tw.log.Error("transcript append failed", "session_id", j.window.SessionID, "error", err)
			} else {
				tw.metrics.TranscriptLines.Inc()
			}
		}
		tw.pending.Done()
	}
}
