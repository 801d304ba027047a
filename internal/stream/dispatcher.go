package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vibecast/internal/observe"
	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// defaultThrottleWindow bounds how often prompt updates reach the provider.
// Crossfades and UI sliders can produce dozens of updates per second; the
// generator only needs the latest one per window.
const defaultThrottleWindow = 200 * time.Millisecond

// Dispatcher owns the authored prompt set and decides what subset reaches
// the provider, and when.
//
// The authored set is everything the caller asked for. The active set is the
// authored set minus prompts with non-positive weight and minus prompts the
// provider has filtered this session. Sends are throttled on the trailing
// edge: all updates inside one window coalesce into a single send carrying
// the most recent active set.
//
// The dispatcher also tracks freshness: after a send, the stream is stale
// until a received chunk echoes every sent prompt text back.
type Dispatcher struct {
	window  time.Duration
	send    func([]musicgen.WeightedPrompt) error
	state   func() musicgen.PlaybackState
	onEmpty func() // active set became empty while not stopped
	onFresh func()
	metrics *observe.Metrics

	mu       sync.Mutex
	authored []musicgen.WeightedPrompt
	filtered map[string]struct{}
	lastSent map[string]struct{} // non-nil and non-empty while stale
	pending  []musicgen.WeightedPrompt
	timer    *revocable
	gen      uint64 // bumped by Reset; guards lastSent written after a send
}

// NewDispatcher creates a dispatcher. send performs the network update,
// state reports the current playback state, onEmpty and onFresh may be nil.
// A non-positive window selects the default.
func NewDispatcher(window time.Duration, send func([]musicgen.WeightedPrompt) error, state func() musicgen.PlaybackState, onEmpty, onFresh func(), metrics *observe.Metrics) *Dispatcher {
	if window <= 0 {
		window = defaultThrottleWindow
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Dispatcher{
		window:   window,
		send:     send,
		state:    state,
		onEmpty:  onEmpty,
		onFresh:  onFresh,
		metrics:  metrics,
		filtered: make(map[string]struct{}),
	}
}

// Set replaces the authored prompt set. If the resulting active set is
// non-empty, or playback is already stopped, a throttled send is scheduled.
// An empty active set while playing is reported through onEmpty instead of
// being sent: the generator treats "no prompts" as an error, not silence.
func (d *Dispatcher) Set(prompts []musicgen.WeightedPrompt) {
	d.mu.Lock()
	d.authored = append(d.authored[:0:0], prompts...)
	active := d.activeLocked()
	if len(active) == 0 && d.state() != musicgen.Stopped {
		d.mu.Unlock()
		if d.onEmpty != nil {
			d.onEmpty()
		}
		return
	}
	d.pending = active
	if d.timer != nil {
		// A flush is already scheduled; the newer set simply wins.
		d.mu.Unlock()
		d.metrics.PromptSendsCoalesced.Add(context.Background(), 1)
		return
	}
	d.timer = afterFunc(d.window, d.flush)
	d.mu.Unlock()
}

// Active returns the current active set: authored prompts with positive
// weight that have not been filtered this session.
func (d *Dispatcher) Active() []musicgen.WeightedPrompt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeLocked()
}

func (d *Dispatcher) activeLocked() []musicgen.WeightedPrompt {
	active := make([]musicgen.WeightedPrompt, 0, len(d.authored))
	for _, p := range d.authored {
		if p.Weight <= 0 {
			continue
		}
		if _, ok := d.filtered[p.Text]; ok {
			continue
		}
		active = append(active, p)
	}
	return active
}

func (d *Dispatcher) flush() {
	d.mu.Lock()
	d.timer.Revoke()
	d.timer = nil
	set := d.pending
	d.pending = nil
	if set == nil {
		d.mu.Unlock()
		return
	}
	gen := d.gen
	d.mu.Unlock()

	if err := d.send(set); err != nil {
		// The previous prompt set stays in effect on the provider side;
		// a later update or reconnect resends. Nothing new was sent, so
		// the stream is no more stale than it already was.
		slog.Warn("prompt update failed", "prompts", len(set), "error", err)
		return
	}
	sent := make(map[string]struct{}, len(set))
	for _, p := range set {
		sent[p.Text] = struct{}{}
	}
	d.mu.Lock()
	if d.gen == gen {
		d.lastSent = sent
	}
	d.mu.Unlock()
	d.metrics.PromptSends.Add(context.Background(), 1)
}

// MarkFiltered excludes text from the active set for the rest of the
// session. Reported by the provider, typically for safety reasons.
func (d *Dispatcher) MarkFiltered(text string) {
	d.mu.Lock()
	d.filtered[text] = struct{}{}
	d.mu.Unlock()
}

// ClearFiltered resets the per-session filtered set. Called when a new
// session is established; a fresh session may accept prompts the previous
// one rejected.
func (d *Dispatcher) ClearFiltered() {
	d.mu.Lock()
	d.filtered = make(map[string]struct{})
	d.mu.Unlock()
}

// CheckFreshness compares prompt texts echoed in chunk metadata against the
// last sent set. Once every sent text is echoed back, the stream is fresh
// and onFresh fires exactly once per send.
func (d *Dispatcher) CheckFreshness(echoed []string) {
	d.mu.Lock()
	if len(d.lastSent) == 0 {
		d.mu.Unlock()
		return
	}
	have := make(map[string]struct{}, len(echoed))
	for _, t := range echoed {
		have[t] = struct{}{}
	}
	for t := range d.lastSent {
		if _, ok := have[t]; !ok {
			d.mu.Unlock()
			return
		}
	}
	d.lastSent = nil
	cb := d.onFresh
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Stale reports whether a sent prompt set is still waiting to be reflected
// in the generated audio.
func (d *Dispatcher) Stale() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lastSent) > 0
}

// Reset drops any pending send and freshness tracking. The authored set
// survives so a later Play resumes with the same prompts.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.timer.Revoke()
	d.timer = nil
	d.pending = nil
	d.lastSent = nil
	d.gen++
	d.mu.Unlock()
}
