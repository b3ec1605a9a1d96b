package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// Loader builds a Config from an optional YAML file and environment variables.
// Tests can override Lookup and ReadFile.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load applies defaults, then CONFIG_FILE if set, then environment overrides, and validates.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Defaults()
	if path, ok := l.lookup("CONFIG_FILE"); ok {
		data, err := l.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(types.ErrConfiguration, "read %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(types.ErrConfiguration, "decode %s: %v", path, err)
		}
	}

	l.overrideString("ZM_RTMS_CLIENT", &cfg.RTMSClientID)
	l.overrideString("ZM_RTMS_SECRET", &cfg.RTMSSecret)
	l.overrideString("ZM_WEBHOOK_SECRET_TOKEN", &cfg.WebhookSecretToken)
	l.overrideString("ZM_SDK_KEY", &cfg.SDKKey)
	l.overrideString("ZM_SDK_SECRET", &cfg.SDKSecret)
	l.overrideString("TRANSCRIPT_PATH", &cfg.TranscriptPath)
	l.overrideString("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	l.overrideString("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	l.overrideString("WHISPER_MODEL", &cfg.WhisperModel)
	l.overrideString("WHISPER_LANGUAGE", &cfg.WhisperLanguage)
	l.overrideString("LOG_LEVEL", &cfg.LogLevel)
	l.overrideString("LOG_FORMAT", &cfg.LogFormat)

	for key, target := range map[string]*int{
		"PORT":                        &cfg.Port,
		"WINDOW_SECONDS":              &cfg.WindowSeconds,
		"SAMPLE_RATE":                 &cfg.SampleRate,
		"MAX_INFLIGHT_TRANSCRIPTIONS": &cfg.MaxInFlight,
	} {
		if err := l.overrideInt(key, target); err != nil {
			return Config{}, err
		}
	}
	if err := l.overrideDuration("HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) lookup(key string) (string, bool) {
	value, ok := l.Lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (l Loader) overrideString(key string, target *string) {
	if value, ok := l.lookup(key); ok {
		*target = value
	}
}

func (l Loader) overrideInt(key string, target *int) error {
	value, ok := l.lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return errors.Wrapf(types.ErrConfiguration, "%s: %v", key, err)
	}
	*target = n
	return nil
}

func (l Loader) overrideDuration(key string, target *time.Duration) error {
	value, ok := l.lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return errors.Wrapf(types.ErrConfiguration, "%s: %v", key, err)
	}
	*target = d
	return nil
}
