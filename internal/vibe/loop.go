package vibe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// defaultInterval is how often a frame is classified when not configured.
const defaultInterval = 15 * time.Second

// FrameSource supplies the next frame to classify. It may block until a
// frame is available and must respect context cancellation.
type FrameSource func(ctx context.Context) ([]byte, error)

// Steerer receives prompt sets derived from classified frames. Satisfied by
// the stream controller.
type Steerer interface {
	// JumpTo applies the prompt set immediately at full weight.
	JumpTo(target []musicgen.WeightedPrompt)
	// CrossfadeTo blends from the current prompt set towards target.
	CrossfadeTo(target []musicgen.WeightedPrompt)
}

// Loop periodically classifies frames and steers the music to match. The
// first successful classification is applied immediately; every later one is
// crossfaded, so the music drifts with the scene instead of cutting.
type Loop struct {
	src      FrameSource
	cls      Classifier
	steer    Steerer
	interval time.Duration

	applied bool
	last    []musicgen.WeightedPrompt
}

// NewLoop creates a capture loop. A non-positive interval selects the default.
func NewLoop(src FrameSource, cls Classifier, steer Steerer, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop{src: src, cls: cls, steer: steer, interval: interval}
}

// Run classifies one frame immediately and then one per interval until ctx
// is cancelled. Classification failures are logged and skipped; the stream
// keeps playing whatever was last applied.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.step(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.step(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// step captures, classifies and steers once.
func (l *Loop) step(ctx context.Context) error {
	frame, err := l.src(ctx)
	if err != nil {
		slog.Warn("frame capture failed", "error", err)
		return fmt.Errorf("vibe: capture frame: %w", err)
	}

	prompts, err := l.cls.Classify(ctx, frame)
	if err != nil {
		slog.Warn("frame classification failed", "error", err)
		return err
	}

	if samePrompts(l.last, prompts) {
		return nil
	}
	l.last = prompts

	if !l.applied {
		l.applied = true
		slog.Info("initial vibe applied", "prompts", len(prompts))
		l.steer.JumpTo(prompts)
		return nil
	}
	slog.Debug("crossfading to new vibe", "prompts", len(prompts))
	l.steer.CrossfadeTo(prompts)
	return nil
}

// samePrompts reports whether two prompt sets are equal in text and weight.
func samePrompts(a, b []musicgen.WeightedPrompt) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
