// Package stream drives a continuous, prompt-steered music stream: it owns
// the session lifecycle against a [musicgen.Provider], schedules received
// audio gaplessly onto an [audio.Output], throttles prompt updates towards
// the provider and blends between prompt sets.
//
// The controller is the only entry point; Scheduler, Dispatcher and
// Crossfade are its building blocks and can be tested in isolation.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vibecast/internal/observe"
	"github.com/MrWong99/vibecast/pkg/audio"
	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// ── controller defaults ─────────────────────────────────────────────────────

const (
	defaultMaxRetries      = 10
	defaultRetryBackoff    = time.Second
	defaultMaxBackoff      = 30 * time.Second
	defaultConnectWatchdog = 8 * time.Second
	defaultGainRamp        = 200 * time.Millisecond
)

// ErrStopped is returned by Play when the controller was stopped while the
// connection attempt was still in flight.
var ErrStopped = errors.New("stream: stopped")

// Config tunes a [Controller]. The zero value selects sensible defaults for
// every field.
type Config struct {
	// MaxRetries bounds automatic reconnection attempts. Once exceeded the
	// controller stops and emits a single FatalError.
	MaxRetries int
	// RetryBackoff is the delay before the first reconnection attempt; it
	// doubles per attempt up to MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// ConnectWatchdog bounds how long a session may sit in loading without
	// an open acknowledgment before the attempt is treated as failed.
	ConnectWatchdog time.Duration
	// GainRamp is the fade length used on play, pause and stop.
	GainRamp time.Duration
	// ThrottleWindow bounds prompt update frequency towards the provider.
	ThrottleWindow time.Duration
	// DriftSlack and SnapLead tune the scheduler's stall handling.
	DriftSlack time.Duration
	SnapLead   time.Duration
	// CrossfadeDuration and CrossfadeTick tune prompt blending.
	CrossfadeDuration time.Duration
	CrossfadeTick     time.Duration
	// Session is forwarded to the provider on every connect.
	Session musicgen.SessionConfig
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.ConnectWatchdog <= 0 {
		c.ConnectWatchdog = defaultConnectWatchdog
	}
	if c.GainRamp <= 0 {
		c.GainRamp = defaultGainRamp
	}
}

// Option customizes a [Controller].
type Option func(*Controller)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEvents registers the event subscriber. Events are delivered
// sequentially from whichever goroutine caused them; the subscriber may call
// back into the controller.
func WithEvents(fn func(Event)) Option {
	return func(c *Controller) { c.events = fn }
}

// Controller is the live stream state machine. All exported methods are safe
// for concurrent use.
type Controller struct {
	provider musicgen.Provider
	out      audio.Output
	cfg      Config
	metrics  *observe.Metrics
	events   func(Event)

	sched *Scheduler
	disp  *Dispatcher
	fade  *Crossfade

	mu           sync.Mutex
	state        musicgen.PlaybackState
	handle       musicgen.SessionHandle
	connecting   *connectAttempt
	retryCount   int
	reconnecting bool
	retryTimer   *revocable
	watchdog     *revocable
	// epoch invalidates callbacks and timers from superseded sessions.
	// Stop bumps it; anything carrying an older epoch is a no-op.
	epoch  uint64
	volume float64
}

// connectAttempt lets concurrent Play calls converge on one in-flight
// connection instead of racing to open parallel sessions.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// New creates a stopped controller on top of provider and out.
func New(provider musicgen.Provider, out audio.Output, cfg Config, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		provider: provider,
		out:      out,
		cfg:      cfg,
		state:    musicgen.Stopped,
		volume:   1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.sched = NewScheduler(out, cfg.DriftSlack, cfg.SnapLead, c.metrics)
	c.disp = NewDispatcher(cfg.ThrottleWindow, c.sendActive, c.State, c.onEmptyActive, c.onFresh, c.metrics)
	c.fade = NewCrossfade(cfg.CrossfadeDuration, cfg.CrossfadeTick, c.disp.Set, c.metrics)
	return c
}

// State returns the current playback state.
func (c *Controller) State() musicgen.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ── playback verbs ──────────────────────────────────────────────────────────

// Play starts or resumes playback. Already playing is a no-op; paused
// resumes the existing session; otherwise a new session is opened. A second
// Play while a connection attempt is in flight waits for that attempt
// instead of starting another. The returned error is nil when the retry
// machinery took over; only a stop or exhausted retries surface here.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == musicgen.Playing:
		c.mu.Unlock()
		return nil
	case c.state == musicgen.Paused:
		return c.resumeLocked()
	}
	if att := c.connecting; att != nil {
		c.mu.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.handle != nil {
		// Session open, waiting for first audio.
		c.mu.Unlock()
		return nil
	}
	att := &connectAttempt{done: make(chan struct{})}
	c.connecting = att
	epoch := c.epoch
	ev := c.setStateLocked(musicgen.Loading)
	c.mu.Unlock()
	c.emit(ev)

	err := c.connect(ctx, epoch)
	c.mu.Lock()
	if c.connecting == att {
		c.connecting = nil
	}
	c.mu.Unlock()
	if err != nil {
		err = c.failSession(epoch, fmt.Sprintf("connect: %v", err))
	}
	att.err = err
	close(att.done)
	return err
}

// connect opens a session, resends the active prompt set and starts
// generation. The gain ramps up from silence once the provider accepted the
// play request.
func (c *Controller) connect(ctx context.Context, epoch uint64) error {
	start := time.Now()
	cb := musicgen.Callbacks{
		OnOpen:           func() { c.onOpen(epoch) },
		OnChunks:         func(chunks []musicgen.AudioChunk) { c.onChunks(epoch, chunks) },
		OnFilteredPrompt: func(text, reason string) { c.onFilteredPrompt(epoch, text, reason) },
		OnClose:          func(err error) { c.onTransport(epoch, "connection closed", err) },
		OnError:          func(err error) { c.onTransport(epoch, "transport error", err) },
	}
	// The dial shares the watchdog bound: a provider that never answers must
	// not pin the controller in loading. The timer armed below covers the
	// window between a successful dial and the open acknowledgment.
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectWatchdog)
	handle, err := c.provider.Connect(dialCtx, c.cfg.Session, cb)
	cancel()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state == musicgen.Stopped {
		c.mu.Unlock()
		_ = handle.Close()
		return ErrStopped
	}
	c.handle = handle
	c.watchdog.Revoke()
	c.watchdog = afterFunc(c.cfg.ConnectWatchdog, func() { c.onWatchdog(epoch) })
	volume := c.volume
	c.mu.Unlock()

	c.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	c.metrics.ActiveSessions.Add(context.Background(), 1)
	c.disp.ClearFiltered()

	if active := c.disp.Active(); len(active) > 0 {
		if err := handle.SetWeightedPrompts(active); err != nil {
			slog.Warn("sending prompts on connect failed", "error", err)
		}
	}
	if err := handle.Play(); err != nil {
		return fmt.Errorf("start generation: %w", err)
	}
	c.out.CancelRamps()
	c.out.SetGain(0)
	c.out.RampGain(volume, c.cfg.GainRamp)
	return nil
}

// resumeLocked resumes a paused session. Called with c.mu held; releases it.
func (c *Controller) resumeLocked() error {
	ev := c.setStateLocked(musicgen.Loading)
	handle := c.handle
	volume := c.volume
	epoch := c.epoch
	c.mu.Unlock()
	c.emit(ev)

	if handle == nil {
		// The session died while paused; the reconnect path owns recovery.
		return nil
	}
	if err := handle.Play(); err != nil {
		return c.failSession(epoch, fmt.Sprintf("resume: %v", err))
	}
	c.out.CancelRamps()
	c.out.SetGain(0)
	c.out.RampGain(volume, c.cfg.GainRamp)
	return nil
}

// Pause halts playback, keeping the session so Play resumes quickly. The
// scheduler cursor resets; audio picks up live on resume instead of
// replaying buffered chunks.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != musicgen.Playing && c.state != musicgen.Loading {
		c.mu.Unlock()
		return nil
	}
	ev := c.setStateLocked(musicgen.Paused)
	handle := c.handle
	c.mu.Unlock()
	c.emit(ev)

	c.sched.Reset()
	c.out.CancelRamps()
	c.out.RampGain(0, c.cfg.GainRamp)
	if handle != nil {
		if err := handle.Pause(); err != nil {
			slog.Warn("pausing generation failed", "error", err)
		}
	}
	return nil
}

// Stop tears the session down. The gain fades out first and the session is
// closed shortly after, so the fade is audible. Stop invalidates every
// pending timer and in-flight callback; it never fails.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == musicgen.Stopped {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	c.retryTimer.Revoke()
	c.retryTimer = nil
	c.watchdog.Revoke()
	c.watchdog = nil
	c.reconnecting = false
	c.retryCount = 0
	c.connecting = nil
	handle := c.handle
	c.handle = nil
	ev := c.setStateLocked(musicgen.Stopped)
	c.mu.Unlock()

	c.sched.Reset()
	c.disp.Reset()
	c.fade.Cancel()
	c.out.CancelRamps()
	c.out.RampGain(0, c.cfg.GainRamp)
	if handle != nil {
		teardown := c.cfg.GainRamp + 50*time.Millisecond
		time.AfterFunc(teardown, func() {
			_ = handle.Stop()
			_ = handle.Close()
		})
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	c.emit(ev)
	return nil
}

// ── prompt steering ─────────────────────────────────────────────────────────

// SetWeightedPrompts replaces the authored prompt set. The update reaches
// the provider throttled and deduplicated; see [Dispatcher].
func (c *Controller) SetWeightedPrompts(prompts []musicgen.WeightedPrompt) {
	c.disp.Set(prompts)
}

// CrossfadeTo blends from the currently effective prompt set towards target
// over the configured crossfade duration.
func (c *Controller) CrossfadeTo(target []musicgen.WeightedPrompt) {
	c.fade.Start(target)
}

// JumpTo applies target immediately, cancelling any in-flight crossfade.
func (c *Controller) JumpTo(target []musicgen.WeightedPrompt) {
	c.fade.Jump(target)
}

// ActivePrompts returns the active prompt set as the dispatcher sees it.
func (c *Controller) ActivePrompts() []musicgen.WeightedPrompt {
	return c.disp.Active()
}

// Stale reports whether the latest prompt update is still waiting to be
// reflected in received audio.
func (c *Controller) Stale() bool {
	return c.disp.Stale()
}

// sendActive is the dispatcher's network send.
func (c *Controller) sendActive(prompts []musicgen.WeightedPrompt) error {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == nil {
		// No session; connect resends the active set.
		return nil
	}
	return handle.SetWeightedPrompts(prompts)
}

func (c *Controller) onEmptyActive() {
	slog.Info("active prompt set empty, pausing generation")
	c.emit(Notice{Message: "all prompts muted or filtered, pausing"})
	_ = c.Pause()
}

func (c *Controller) onFresh() {
	c.emit(PromptsFresh{})
}

// SetSessionConfig replaces the generation parameters. The new parameters
// apply to the running session immediately and to every later reconnect.
func (c *Controller) SetSessionConfig(cfg musicgen.SessionConfig) error {
	c.mu.Lock()
	c.cfg.Session = cfg
	handle := c.handle
	c.mu.Unlock()
	if handle == nil {
		return nil
	}
	return handle.SetConfig(cfg)
}

// ── output controls ─────────────────────────────────────────────────────────

// SetVolume sets the playback gain in [0,1]. Takes effect immediately while
// audible; while paused or stopped it only updates the level the next ramp
// targets.
func (c *Controller) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	c.mu.Lock()
	c.volume = v
	audible := c.state == musicgen.Playing || c.state == musicgen.Loading
	c.mu.Unlock()
	if audible {
		c.out.SetGain(v)
	}
}

// ConnectRecorder attaches a recorder tap to the output.
func (c *Controller) ConnectRecorder(r audio.Recorder) {
	c.out.ConnectRecorder(r)
}

// DisconnectRecorder detaches a recorder tap from the output.
func (c *Controller) DisconnectRecorder(r audio.Recorder) {
	c.out.DisconnectRecorder(r)
}

// ── session callbacks ───────────────────────────────────────────────────────

func (c *Controller) onOpen(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.retryCount = 0
	c.reconnecting = false
	c.watchdog.Revoke()
	c.watchdog = nil
	c.mu.Unlock()
	slog.Info("music session established")
}

func (c *Controller) onChunks(epoch uint64, chunks []musicgen.AudioChunk) {
	// Epoch and state are re-read per chunk: a Stop racing a multi-chunk
	// batch must not let the tail of the batch re-anchor on the freshly
	// reset scheduler.
	for _, chunk := range chunks {
		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			return
		}
		state := c.state
		c.mu.Unlock()

		if state == musicgen.Stopped || state == musicgen.Paused {
			c.metrics.RecordChunkDropped(context.Background(), "state")
			continue
		}
		if len(chunk.EchoedPrompts) > 0 {
			c.disp.CheckFreshness(chunk.EchoedPrompts)
		}
		if err := c.sched.Schedule(chunk); err != nil {
			slog.Warn("dropping audio chunk", "error", err)
			continue
		}
		if state == musicgen.Loading {
			// First audio actually scheduled is what flips to playing,
			// not the transport-level open.
			c.mu.Lock()
			var ev Event
			if c.epoch == epoch && c.state == musicgen.Loading {
				ev = c.setStateLocked(musicgen.Playing)
			}
			c.mu.Unlock()
			c.emit(ev)
		}
	}
}

func (c *Controller) onFilteredPrompt(epoch uint64, text, reason string) {
	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		return
	}
	slog.Info("prompt filtered by provider", "prompt", text, "reason", reason)
	c.metrics.FilteredPrompts.Add(context.Background(), 1)
	c.disp.MarkFiltered(text)
	c.emit(PromptFiltered{Text: text, Reason: reason})
}

func (c *Controller) onTransport(epoch uint64, cause string, err error) {
	if err != nil {
		cause = fmt.Sprintf("%s: %v", cause, err)
	}
	_ = c.failSession(epoch, cause)
}

func (c *Controller) onWatchdog(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != musicgen.Loading {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	_ = c.failSession(epoch, "no audio within connect watchdog")
}

// ── reconnection ────────────────────────────────────────────────────────────

// failSession handles any session-level failure: close event, transport
// error, failed connect, watchdog. While retries remain it schedules a
// backed-off reconnect and returns nil; once the budget is exhausted it
// stops and returns the terminal error. Idempotent per failure burst: a
// close event and a transport error from the same dying session schedule a
// single retry.
func (c *Controller) failSession(epoch uint64, cause string) error {
	c.mu.Lock()
	if c.epoch != epoch || c.state == musicgen.Stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.reconnecting = true
	c.retryCount++
	attempt := c.retryCount
	handle := c.handle
	c.handle = nil
	c.retryTimer.Revoke()
	c.watchdog.Revoke()
	c.watchdog = nil

	if attempt > c.cfg.MaxRetries {
		c.reconnecting = false
		c.retryCount = 0
		c.epoch++
		ev := c.setStateLocked(musicgen.Stopped)
		c.mu.Unlock()

		c.sched.Reset()
		c.disp.Reset()
		c.fade.Cancel()
		c.out.CancelRamps()
		c.out.SetGain(0)
		if handle != nil {
			_ = handle.Close()
			c.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		err := fmt.Errorf("stream: giving up after %d reconnection attempts: %s", c.cfg.MaxRetries, cause)
		slog.Error("music stream failed permanently", "cause", cause, "attempts", c.cfg.MaxRetries)
		c.emit(ev)
		c.emit(FatalError{Err: err})
		return err
	}

	delay := backoff(c.cfg.RetryBackoff, c.cfg.MaxBackoff, attempt)
	ev := c.setStateLocked(musicgen.Loading)
	c.retryTimer = afterFunc(delay, func() { c.retryNow(epoch) })
	c.mu.Unlock()

	c.sched.Reset()
	if handle != nil {
		_ = handle.Close()
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	c.metrics.Reconnects.Add(context.Background(), 1)
	slog.Warn("music stream interrupted, reconnecting",
		"cause", cause, "attempt", attempt, "max", c.cfg.MaxRetries, "delay", delay)
	c.emit(ev)
	c.emit(Notice{Message: fmt.Sprintf("connection interrupted, retrying (%d/%d)", attempt, c.cfg.MaxRetries)})
	return nil
}

// retryNow runs when the backoff timer fires. Clearing the reconnecting flag
// first lets a failure of this very attempt schedule the next one.
func (c *Controller) retryNow(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state == musicgen.Stopped {
		c.mu.Unlock()
		return
	}
	c.reconnecting = false
	c.retryTimer = nil
	c.mu.Unlock()
	_ = c.Play(context.Background())
}

func backoff(initial, max time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// ── internal helpers ────────────────────────────────────────────────────────

// setStateLocked transitions the state and returns the event to emit, or nil
// when the state did not change. Callers emit after releasing c.mu.
func (c *Controller) setStateLocked(s musicgen.PlaybackState) Event {
	if c.state == s {
		return nil
	}
	c.state = s
	return StateChanged{State: s}
}

func (c *Controller) emit(ev Event) {
	if ev == nil {
		return
	}
	c.mu.Lock()
	fn := c.events
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
