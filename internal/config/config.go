// Package config provides the configuration schema and loader for the
// Vibecast stream service.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Vibecast server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Sink selects where scheduled audio is written.
type Sink string

const (
	// SinkStdout writes raw PCM to standard output, for piping into a
	// player such as aplay or ffplay.
	SinkStdout Sink = "stdout"

	// SinkDiscard drops all audio. Useful for headless soak testing.
	SinkDiscard Sink = "discard"
)

// IsValid reports whether s is a recognised sink.
func (s Sink) IsValid() bool {
	return s == SinkStdout || s == SinkDiscard
}

// Duration wraps time.Duration with YAML support for strings like "200ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Vibecast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Provider   ProviderConfig   `yaml:"provider"`
	Stream     StreamConfig     `yaml:"stream"`
	Output     OutputConfig     `yaml:"output"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Favorites  FavoritesConfig  `yaml:"favorites"`
}

// ServerConfig holds logging and HTTP settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the metrics and health endpoints
	// (e.g., ":9090"). Empty disables the HTTP listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderConfig selects and authenticates the music generation backend.
type ProviderConfig struct {
	// APIKey is the authentication key for the generation service.
	APIKey string `yaml:"api_key"`

	// Model selects the generation model. Empty uses the provider default.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default WebSocket endpoint.
	// Leave empty to use the built-in default.
	BaseURL string `yaml:"base_url"`

	// BPM, Temperature and Guidance are forwarded as generation parameters.
	// Zero values leave the service defaults in place.
	BPM         int     `yaml:"bpm"`
	Temperature float64 `yaml:"temperature"`
	Guidance    float64 `yaml:"guidance"`
}

// StreamConfig tunes the session lifecycle and prompt dispatch behaviour.
// Zero values select built-in defaults.
type StreamConfig struct {
	// MaxRetries bounds automatic reconnection attempts before giving up.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the delay before the first reconnection attempt; it
	// doubles per attempt up to MaxBackoff.
	RetryBackoff Duration `yaml:"retry_backoff"`
	MaxBackoff   Duration `yaml:"max_backoff"`

	// ConnectWatchdog bounds how long a session may stay silent after
	// connecting before the attempt counts as failed.
	ConnectWatchdog Duration `yaml:"connect_watchdog"`

	// ThrottleWindow bounds how often prompt updates reach the provider.
	ThrottleWindow Duration `yaml:"throttle_window"`

	// GainRamp is the fade length used on play, pause and stop.
	GainRamp Duration `yaml:"gain_ramp"`

	// DriftSlack is how far scheduling may fall behind the output clock
	// before the stream snaps forward.
	DriftSlack Duration `yaml:"drift_slack"`

	// CrossfadeDuration and CrossfadeTick tune prompt blending.
	CrossfadeDuration Duration `yaml:"crossfade_duration"`
	CrossfadeTick     Duration `yaml:"crossfade_tick"`
}

// OutputConfig describes the audio sink.
type OutputConfig struct {
	// Sink selects where audio goes.
	Sink Sink `yaml:"sink"`

	// SampleRate and Channels describe the sink format. Zero values default
	// to the provider's native format (48 kHz stereo for Lyria).
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// ClassifierConfig configures the optional vibe classifier that turns
// captured frames into prompt sets. When APIKey is empty the classifier and
// capture loop are disabled.
type ClassifierConfig struct {
	// APIKey authenticates against the OpenAI-compatible API.
	APIKey string `yaml:"api_key"`

	// Model selects the vision-capable chat model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// BaseURL overrides the API endpoint, for OpenAI-compatible gateways.
	BaseURL string `yaml:"base_url"`

	// Interval is how often a frame is classified into a new prompt set.
	Interval Duration `yaml:"interval"`

	// FramePath is the image file read on every classification tick. An
	// external capture process keeps it up to date (webcam snapshot, album
	// art, screen grab). Required when the classifier is enabled.
	FramePath string `yaml:"frame_path"`
}

// FavoritesConfig configures persisted favorite prompt sets.
type FavoritesConfig struct {
	// Path is the SQLite database file. Empty disables favorites.
	Path string `yaml:"path"`
}
