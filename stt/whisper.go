package stt

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/mrsingh-rishi/rtms-scribe/audio"
	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// DefaultWhisperModel is used when no model is configured.
const DefaultWhisperModel = openai.Whisper1

// WhisperClient transcribes PCM windows through an OpenAI-compatible audio API.
type WhisperClient struct {
	Client   *openai.Client
	Model    string
	Language string
	Logger   *slog.Logger
}

// NewWhisperClient creates a client. baseURL may point at any OpenAI-compatible server.
func NewWhisperClient(apiKey, baseURL, model, language string, logger *slog.Logger) *WhisperClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultWhisperModel
	}
	return &WhisperClient{
		Client:   openai.NewClientWithConfig(cfg),
		Model:    model,
		Language: language,
		Logger:   logger,
	}
}

// Transcribe sends one window of 16-bit mono PCM and returns the timed segments in the
// order the engine produced them.
func (w *WhisperClient) Transcribe(ctx context.Context, pcm []byte, sampleRate int) ([]types.TranscriptSegment, error) {
	format := types.L16Mono16k
	format.SampleRate = sampleRate
	wav, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		return nil, err
	}

	resp, err := w.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.Model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(wav),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: w.Language,
	})
	if err != nil {
		return nil, errors.Wrap(err, "whisper transcription")
	}

	segments := make([]types.TranscriptSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, types.TranscriptSegment{
			Start: seconds(s.Start),
			End:   seconds(s.End),
			Text:  s.Text,
		})
	}
	if len(segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		segments = append(segments, types.TranscriptSegment{End: seconds(resp.Duration), Text: resp.Text})
	}

	w.Logger.Debug("window transcribed", "bytes", len(pcm), "segments", len(segments), "language", resp.Language)
	return segments, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
