package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.APIKey == "" {
		errs = append(errs, errors.New("provider.api_key is required"))
	}
	if cfg.Provider.Temperature < 0 || cfg.Provider.Temperature > 3 {
		errs = append(errs, fmt.Errorf("provider.temperature %.2f is out of range [0, 3]", cfg.Provider.Temperature))
	}
	if cfg.Provider.BPM != 0 && (cfg.Provider.BPM < 60 || cfg.Provider.BPM > 200) {
		errs = append(errs, fmt.Errorf("provider.bpm %d is out of range [60, 200]", cfg.Provider.BPM))
	}

	// Stream tuning
	if cfg.Stream.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("stream.max_retries %d must not be negative", cfg.Stream.MaxRetries))
	}
	if cfg.Stream.MaxBackoff != 0 && cfg.Stream.MaxBackoff < cfg.Stream.RetryBackoff {
		errs = append(errs, fmt.Errorf("stream.max_backoff %s is shorter than stream.retry_backoff %s",
			cfg.Stream.MaxBackoff.Std(), cfg.Stream.RetryBackoff.Std()))
	}
	if cfg.Stream.CrossfadeTick != 0 && cfg.Stream.CrossfadeDuration != 0 &&
		cfg.Stream.CrossfadeTick.Std() > cfg.Stream.CrossfadeDuration.Std() {
		errs = append(errs, fmt.Errorf("stream.crossfade_tick %s exceeds stream.crossfade_duration %s",
			cfg.Stream.CrossfadeTick.Std(), cfg.Stream.CrossfadeDuration.Std()))
	}

	// Output
	if cfg.Output.Sink != "" && !cfg.Output.Sink.IsValid() {
		errs = append(errs, fmt.Errorf("output.sink %q is invalid; valid values: stdout, discard", cfg.Output.Sink))
	}
	if cfg.Output.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("output.sample_rate %d must not be negative", cfg.Output.SampleRate))
	}
	if cfg.Output.Channels != 0 && cfg.Output.Channels != 1 && cfg.Output.Channels != 2 {
		errs = append(errs, fmt.Errorf("output.channels %d is invalid; valid values: 1, 2", cfg.Output.Channels))
	}

	// Classifier
	if cfg.Classifier.APIKey != "" && cfg.Classifier.Model == "" {
		errs = append(errs, errors.New("classifier.model is required when classifier.api_key is set"))
	}
	if cfg.Classifier.APIKey != "" && cfg.Classifier.FramePath == "" {
		errs = append(errs, errors.New("classifier.frame_path is required when classifier.api_key is set"))
	}
	if cfg.Classifier.APIKey == "" && cfg.Classifier.Model != "" {
		slog.Warn("classifier.model is set but classifier.api_key is empty; the vibe classifier stays disabled")
	}

	if cfg.Favorites.Path == "" {
		slog.Warn("favorites.path is empty; favorite prompt sets will not be persisted")
	}

	return errors.Join(errs...)
}
