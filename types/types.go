package types

import "time"

// SessionState is the lifecycle state of one media-streaming session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionSignalingConnected
	SessionAwaitingMediaRedirect
	SessionMediaConnected
	SessionStreaming
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionSignalingConnected:
		return "signaling_connected"
	case SessionAwaitingMediaRedirect:
		return "awaiting_media_redirect"
	case SessionMediaConnected:
		return "media_connected"
	case SessionStreaming:
		return "streaming"
	case SessionStopped:
		return "stopped"
	}
	return "unknown"
}

// AudioFormat describes raw PCM audio.
type AudioFormat struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
}

// L16Mono16k is the only format the media endpoint is asked to send.
var L16Mono16k = AudioFormat{SampleRate: 16000, Channels: 1, BytesPerSample: 2}

// BytesPerSecond returns the byte rate of the format.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample
}

// AudioWindow is a contiguous slice of accumulated audio handed to transcription as one unit.
type AudioWindow struct {
	ID        string
	SessionID string
	Seq       int
	Data      []byte
	Format    AudioFormat
}

// Duration returns how much audio the window holds.
func (w AudioWindow) Duration() time.Duration {
	bps := w.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(w.Data)) * time.Second / time.Duration(bps)
}

// TranscriptSegment is one timed span of recognized text.
type TranscriptSegment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}
