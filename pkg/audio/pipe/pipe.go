package pipe

import (
	"container/heap"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vibecast/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Output)(nil)

const defaultQueueCap = 16

// Option configures an [Output] during construction.
type Option func(*Output)

// WithQueueCapacity sets the initial capacity hint for the internal playout
// queue. This does not impose a hard limit — the queue grows as needed.
func WithQueueCapacity(n int) Option {
	return func(o *Output) {
		if n > 0 {
			o.queue = make(entryHeap, 0, n)
		}
	}
}

// Output is a concrete [audio.Output] that writes gain-scaled PCM to an
// io.Writer, pacing writes so that each buffer is emitted at its scheduled
// position on the output clock. The clock starts at zero when New is called
// and advances with wall time.
//
// All exported methods are safe for concurrent use.
type Output struct {
	w      io.Writer
	format audio.Format
	env    *audio.Envelope
	start  time.Time

	mu        sync.Mutex
	queue     entryHeap
	seq       uint64
	recorders []audio.Recorder
	closed    bool

	notify chan struct{} // signalled when a new buffer is scheduled
	done   chan struct{} // closed by Close to stop the playout goroutine
}

// New creates an [Output] that plays buffers of the given format onto w.
// The playout goroutine starts immediately; call [Output.Close] to stop it.
// Writes to w happen sequentially from the playout goroutine; w must not
// block indefinitely.
func New(w io.Writer, format audio.Format, opts ...Option) *Output {
	o := &Output{
		w:      w,
		format: format,
		env:    audio.NewEnvelope(1),
		start:  time.Now(),
		queue:  make(entryHeap, 0, defaultQueueCap),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	heap.Init(&o.queue)
	go o.playout()
	return o
}

// Format returns the fixed playout format.
func (o *Output) Format() audio.Format { return o.format }

// Now returns the current position of the output clock.
func (o *Output) Now() time.Duration { return time.Since(o.start) }

// ScheduleAt enqueues buf to begin playing at position at.
func (o *Output) ScheduleAt(buf audio.Buffer, at time.Duration) error {
	if buf.Format != o.format {
		return fmt.Errorf("pipe: buffer format %dHz/%dch does not match output %dHz/%dch",
			buf.Format.SampleRate, buf.Format.Channels, o.format.SampleRate, o.format.Channels)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("pipe: output closed")
	}
	o.seq++
	heap.Push(&o.queue, entry{buf: buf, at: at, seq: o.seq})
	o.mu.Unlock()

	// Wake the playout goroutine.
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// SetGain sets the gain immediately, cancelling any ramp in progress.
func (o *Output) SetGain(g float64) { o.env.Set(g, o.Now()) }

// RampGain linearly ramps the gain to target over the given duration.
func (o *Output) RampGain(target float64, over time.Duration) {
	o.env.RampTo(target, o.Now(), over)
}

// CancelRamps freezes the gain at its current interpolated value.
func (o *Output) CancelRamps() { o.env.Cancel(o.Now()) }

// ConnectRecorder attaches r as a tap on the playout path.
func (o *Output) ConnectRecorder(r audio.Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.recorders {
		if existing == r {
			return
		}
	}
	o.recorders = append(o.recorders, r)
}

// DisconnectRecorder detaches r.
func (o *Output) DisconnectRecorder(r audio.Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.recorders {
		if existing == r {
			o.recorders = append(o.recorders[:i], o.recorders[i+1:]...)
			return
		}
	}
}

// Close stops the playout goroutine and discards unplayed buffers. Idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.queue = o.queue[:0]
	o.mu.Unlock()

	close(o.done)
	return nil
}

// playout is the background goroutine that pops buffers from the queue and
// writes them to w at their scheduled positions.
func (o *Output) playout() {
	waitTimer := time.NewTimer(0)
	if !waitTimer.Stop() {
		<-waitTimer.C
	}
	defer waitTimer.Stop()

	for {
		e, ok := o.next()
		if !ok {
			// Queue empty — wait for work or shutdown.
			select {
			case <-o.done:
				return
			case <-o.notify:
				continue
			}
		}

		// Sleep until the buffer is due. A newly scheduled buffer cannot be
		// due earlier: the scheduler only appends at or after the cursor.
		if wait := e.at - o.Now(); wait > 0 {
			waitTimer.Reset(wait)
			select {
			case <-o.done:
				if !waitTimer.Stop() {
					<-waitTimer.C
				}
				return
			case <-waitTimer.C:
			}
		}

		o.play(e)
	}
}

// next pops the earliest scheduled entry, or reports ok=false if the queue is
// empty.
func (o *Output) next() (entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queue.Len() == 0 {
		return entry{}, false
	}
	return heap.Pop(&o.queue).(entry), true
}

// play renders the envelope into the buffer, writes it to w, and feeds the
// recorder taps.
func (o *Output) play(e entry) {
	g0 := o.env.Value(e.at)
	g1 := o.env.Value(e.at + e.buf.Duration())
	pcm := audio.ApplyGain(e.buf.PCM, g0, g1)

	if _, err := o.w.Write(pcm); err != nil {
		slog.Warn("pipe output write failed", "bytes", len(pcm), "error", err)
	}

	o.mu.Lock()
	taps := make([]audio.Recorder, len(o.recorders))
	copy(taps, o.recorders)
	o.mu.Unlock()

	for _, r := range taps {
		if err := r.WritePCM(audio.Buffer{PCM: pcm, Format: e.buf.Format}); err != nil {
			slog.Warn("recorder tap write failed", "error", err)
		}
	}
}
