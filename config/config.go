// Package config loads service settings from a YAML file and the environment.
package config

import (
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/types"
)

const (
	DefaultPort             = 3000
	DefaultTranscriptPath   = "transcript.txt"
	DefaultWindowSeconds    = 10
	DefaultSampleRate       = 16000
	DefaultMaxInFlight      = 4
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultWhisperModel     = "whisper-1"
	DefaultWhisperLanguage  = "en"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// Config is the full service configuration.
type Config struct {
	RTMSClientID       string        `yaml:"rtms_client_id"`
	RTMSSecret         string        `yaml:"rtms_secret"`
	WebhookSecretToken string        `yaml:"webhook_secret_token"`
	SDKKey             string        `yaml:"sdk_key"`
	SDKSecret          string        `yaml:"sdk_secret"`
	Port               int           `yaml:"port"`
	TranscriptPath     string        `yaml:"transcript_path"`
	WindowSeconds      int           `yaml:"window_seconds"`
	SampleRate         int           `yaml:"sample_rate"`
	MaxInFlight        int           `yaml:"max_inflight_transcriptions"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	OpenAIAPIKey       string        `yaml:"openai_api_key"`
	OpenAIBaseURL      string        `yaml:"openai_base_url"`
	WhisperModel       string        `yaml:"whisper_model"`
	WhisperLanguage    string        `yaml:"whisper_language"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
}

// Defaults returns a Config with every optional field set.
func Defaults() Config {
	return Config{
		Port:             DefaultPort,
		TranscriptPath:   DefaultTranscriptPath,
		WindowSeconds:    DefaultWindowSeconds,
		SampleRate:       DefaultSampleRate,
		MaxInFlight:      DefaultMaxInFlight,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WhisperModel:     DefaultWhisperModel,
		WhisperLanguage:  DefaultWhisperLanguage,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
	}
}

// Validate fills derived defaults and rejects unusable settings.
func (c *Config) Validate() error {
	if c.RTMSClientID == "" || c.RTMSSecret == "" {
		return errors.Wrap(types.ErrConfiguration, "ZM_RTMS_CLIENT and ZM_RTMS_SECRET are required")
	}
	if c.WebhookSecretToken == "" {
		return errors.Wrap(types.ErrConfiguration, "ZM_WEBHOOK_SECRET_TOKEN is required")
	}
	if c.SDKKey == "" {
		c.SDKKey = c.RTMSClientID
	}
	if c.SDKSecret == "" {
		c.SDKSecret = c.RTMSSecret
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Wrapf(types.ErrConfiguration, "port out of range: %d", c.Port)
	}
	if c.WindowSeconds <= 0 {
		return errors.Wrapf(types.ErrConfiguration, "window_seconds must be > 0, got %d", c.WindowSeconds)
	}
	if c.SampleRate <= 0 {
		return errors.Wrapf(types.ErrConfiguration, "sample_rate must be > 0, got %d", c.SampleRate)
	}
	if c.MaxInFlight <= 0 {
		return errors.Wrapf(types.ErrConfiguration, "max_inflight_transcriptions must be > 0, got %d", c.MaxInFlight)
	}
	if c.HandshakeTimeout < 0 {
		return errors.Wrapf(types.ErrConfiguration, "handshake_timeout must be >= 0, got %s", c.HandshakeTimeout)
	}
	if c.TranscriptPath == "" {
		c.TranscriptPath = DefaultTranscriptPath
	}
	return nil
}

// AudioFormat returns the PCM format requested from the media endpoint.
func (c Config) AudioFormat() types.AudioFormat {
	f := types.L16Mono16k
	f.SampleRate = c.SampleRate
	return f
}
