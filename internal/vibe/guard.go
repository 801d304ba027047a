package vibe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// ErrClassifierCoolingDown is returned by [Guard.Classify] while the guard is
// tripped and the cooldown has not yet elapsed.
var ErrClassifierCoolingDown = errors.New("vibe: classifier cooling down")

// GuardConfig holds tuning knobs for a [Guard].
type GuardConfig struct {
	// MaxFailures is the number of consecutive classification failures before
	// the guard trips. Default: 5.
	MaxFailures int

	// Cooldown is how long a tripped guard rejects calls before letting a
	// probe through. Default: 2m.
	Cooldown time.Duration
}

// Guard wraps a [Classifier] with a trip-and-cooldown gate. The capture loop
// ticks on a fixed interval regardless of API health; without the guard a
// broken key or collapsed endpoint would be retried at full rate forever.
// After MaxFailures consecutive errors the guard rejects calls for Cooldown,
// then lets a single probe through: a successful probe re-arms the guard, a
// failed one starts the next cooldown.
//
// Safe for concurrent use.
type Guard struct {
	inner       Classifier
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	failures int
	tripped  bool
	lastFail time.Time
	probing  bool
}

// Compile-time interface assertion.
var _ Classifier = (*Guard)(nil)

// NewGuard wraps cls. Zero-value config fields are replaced with defaults.
func NewGuard(cls Classifier, cfg GuardConfig) *Guard {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Minute
	}
	return &Guard{
		inner:       cls,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// Classify implements [Classifier]. While tripped it fails fast with
// [ErrClassifierCoolingDown] instead of calling the wrapped classifier.
func (g *Guard) Classify(ctx context.Context, frame []byte) ([]musicgen.WeightedPrompt, error) {
	g.mu.Lock()
	if g.tripped {
		if time.Since(g.lastFail) < g.cooldown || g.probing {
			g.mu.Unlock()
			return nil, ErrClassifierCoolingDown
		}
		// Cooldown elapsed: let exactly one probe through.
		g.probing = true
		slog.Info("classifier guard probing after cooldown")
	}
	g.mu.Unlock()

	prompts, err := g.inner.Classify(ctx, frame)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.lastFail = time.Now()
		g.probing = false
		if g.tripped {
			slog.Warn("classifier probe failed, extending cooldown", "err", err)
			return nil, err
		}
		g.failures++
		if g.failures >= g.maxFailures {
			g.tripped = true
			slog.Warn("classifier guard tripped",
				"consecutive_failures", g.failures,
				"cooldown", g.cooldown)
		}
		return nil, err
	}

	if g.tripped {
		slog.Info("classifier recovered, guard re-armed")
	}
	g.tripped = false
	g.probing = false
	g.failures = 0
	return prompts, nil
}

// Tripped reports whether the guard is currently rejecting calls.
func (g *Guard) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped && (time.Since(g.lastFail) < g.cooldown || g.probing)
}
