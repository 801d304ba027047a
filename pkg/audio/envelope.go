package audio

import "sync"
import "time"

// Envelope is a linear gain envelope evaluated against an output clock.
// It supports immediate sets, timed ramps, and native ramp cancellation:
// cancelling freezes the gain at its current interpolated value instead of
// discarding envelope state, so a pause/resume cycle never inherits a stale
// scheduled ramp.
//
// All methods are safe for concurrent use.
type Envelope struct {
	mu        sync.Mutex
	base      float64       // value at rampStart
	target    float64       // value at rampEnd
	rampStart time.Duration // clock position where the ramp began
	rampEnd   time.Duration // clock position where the ramp completes
}

// NewEnvelope creates an envelope holding steady at initial (clamped to [0,1]).
func NewEnvelope(initial float64) *Envelope {
	g := clamp01(initial)
	return &Envelope{base: g, target: g}
}

// Value returns the gain at clock position at.
func (e *Envelope) Value(at time.Duration) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valueLocked(at)
}

func (e *Envelope) valueLocked(at time.Duration) float64 {
	if at >= e.rampEnd || e.rampEnd <= e.rampStart {
		return e.target
	}
	if at <= e.rampStart {
		return e.base
	}
	t := float64(at-e.rampStart) / float64(e.rampEnd-e.rampStart)
	return e.base + (e.target-e.base)*t
}

// Set fixes the gain to g (clamped to [0,1]) at clock position at, cancelling
// any ramp in progress.
func (e *Envelope) Set(g float64, at time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g = clamp01(g)
	e.base = g
	e.target = g
	e.rampStart = at
	e.rampEnd = at
}

// RampTo starts a linear ramp from the current value at clock position at to
// target (clamped to [0,1]) over the given duration, replacing any ramp in
// progress. A non-positive duration behaves like Set.
func (e *Envelope) RampTo(target float64, at, over time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.valueLocked(at)
	target = clamp01(target)
	if over <= 0 {
		e.base = target
		e.target = target
		e.rampStart = at
		e.rampEnd = at
		return
	}
	e.base = cur
	e.target = target
	e.rampStart = at
	e.rampEnd = at + over
}

// Cancel aborts any ramp in progress at clock position at, freezing the gain
// at its current interpolated value.
func (e *Envelope) Cancel(at time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.valueLocked(at)
	e.base = cur
	e.target = cur
	e.rampStart = at
	e.rampEnd = at
}

func clamp01(g float64) float64 {
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}

// ApplyGain scales int16 PCM in place-style (a new slice is returned) by a
// gain factor interpolated linearly from g0 at the first sample to g1 at the
// last. Used by outputs to render the envelope into the signal.
func ApplyGain(pcm []byte, g0, g1 float64) []byte {
	if g0 == 1 && g1 == 1 {
		return pcm
	}
	samples := len(pcm) / 2
	out := make([]byte, samples*2)
	for i := range samples {
		g := g0
		if samples > 1 {
			g = g0 + (g1-g0)*float64(i)/float64(samples-1)
		}
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		v := s * g
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		sv := int16(v)
		out[i*2] = byte(sv)
		out[i*2+1] = byte(sv >> 8)
	}
	return out
}
