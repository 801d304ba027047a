package stream

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/vibecast/internal/observe"
	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// ── crossfade defaults ──────────────────────────────────────────────────────

const (
	defaultCrossfadeDuration = 4 * time.Second
	defaultCrossfadeTick     = 25 * time.Millisecond
)

// Crossfade blends between prompt sets over time. Starting a fade captures
// the currently effective blend as the outgoing set and ticks towards the
// target: at progress t the dispatched set is the union of outgoing prompts
// at weight*(1-t) and target prompts at weight*t. A newer fade cancels an
// in-flight one and starts from wherever the blend currently is, so rapid
// retargeting stays smooth.
type Crossfade struct {
	duration time.Duration
	tick     time.Duration
	dispatch func([]musicgen.WeightedPrompt)
	metrics  *observe.Metrics

	mu      sync.Mutex
	gen     uint64
	current []musicgen.WeightedPrompt
}

// NewCrossfade creates a blender that feeds each intermediate set to
// dispatch. Non-positive duration or tick select the defaults; a fade with
// an explicit zero duration can still be requested via Jump.
func NewCrossfade(duration, tick time.Duration, dispatch func([]musicgen.WeightedPrompt), metrics *observe.Metrics) *Crossfade {
	if duration <= 0 {
		duration = defaultCrossfadeDuration
	}
	if tick <= 0 {
		tick = defaultCrossfadeTick
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Crossfade{duration: duration, tick: tick, dispatch: dispatch, metrics: metrics}
}

// Start begins a fade from the current blend towards target. Any in-flight
// fade is superseded.
func (c *Crossfade) Start(target []musicgen.WeightedPrompt) {
	c.start(target, c.duration)
}

// Jump applies target immediately, cancelling any in-flight fade.
func (c *Crossfade) Jump(target []musicgen.WeightedPrompt) {
	c.start(target, 0)
}

func (c *Crossfade) start(target []musicgen.WeightedPrompt, duration time.Duration) {
	target = append(target[:0:0], target...)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	from := c.current
	if duration <= 0 || len(from) == 0 {
		// Nothing to fade out of, or an instant jump was requested.
		c.current = target
		c.mu.Unlock()
		c.dispatch(target)
		return
	}
	c.mu.Unlock()

	c.metrics.Crossfades.Add(context.Background(), 1)
	go c.run(gen, from, target, duration)
}

func (c *Crossfade) run(gen uint64, from, target []musicgen.WeightedPrompt, duration time.Duration) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	start := time.Now()

	for range ticker.C {
		t := float64(time.Since(start)) / float64(duration)
		if t > 1 {
			t = 1
		}
		blended := blend(from, target, t)

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.current = blended
		c.mu.Unlock()

		c.dispatch(blended)
		if t >= 1 {
			return
		}
	}
}

// blend interpolates between two prompt sets at progress t in [0,1].
// Outgoing prompts absent from the target fade towards zero; target prompts
// fade towards their full weight. At t=1 the result is exactly the target.
func blend(from, target []musicgen.WeightedPrompt, t float64) []musicgen.WeightedPrompt {
	if t >= 1 {
		return append(target[:0:0], target...)
	}
	inTarget := make(map[string]struct{}, len(target))
	for _, p := range target {
		inTarget[p.Text] = struct{}{}
	}
	out := make([]musicgen.WeightedPrompt, 0, len(from)+len(target))
	for _, p := range from {
		if _, ok := inTarget[p.Text]; ok {
			continue
		}
		out = append(out, musicgen.WeightedPrompt{Text: p.Text, Weight: p.Weight * (1 - t)})
	}
	for _, p := range target {
		out = append(out, musicgen.WeightedPrompt{Text: p.Text, Weight: p.Weight * t})
	}
	return out
}

// Current returns the most recently dispatched blend.
func (c *Crossfade) Current() []musicgen.WeightedPrompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(c.current[:0:0], c.current...)
}

// Cancel aborts any in-flight fade, freezing the blend at its current state.
func (c *Crossfade) Cancel() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}
