// Package mock provides an in-memory mock implementation of the
// [audio.Output] interface for use in unit tests.
//
// The mock records every method call so that tests can assert on scheduled
// buffers and gain operations, and exposes a settable clock so that
// drift-correction logic can be exercised deterministically.
//
// Typical usage:
//
//	out := &mock.Output{OutputFormat: audio.Format{SampleRate: 48000, Channels: 2}}
//	out.SetNow(2 * time.Second)
//	sched := stream.NewScheduler(out, ...)
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/vibecast/pkg/audio"
)

// ScheduleCall records a single invocation of Output.ScheduleAt.
type ScheduleCall struct {
	// Buf is the buffer passed to ScheduleAt.
	Buf audio.Buffer
	// At is the timeline position passed to ScheduleAt.
	At time.Duration
}

// RampCall records a single invocation of Output.RampGain.
type RampCall struct {
	// Target is the gain target passed to RampGain.
	Target float64
	// Over is the ramp duration passed to RampGain.
	Over time.Duration
}

// Output is a mock implementation of [audio.Output].
// Set the exported fields before use; inspect the call records after.
type Output struct {
	mu sync.Mutex

	// OutputFormat is returned by Format. Defaults to 48 kHz stereo if zero.
	OutputFormat audio.Format

	// NowValue is returned by Now. Adjust with SetNow / AdvanceNow.
	NowValue time.Duration

	// ScheduleErr, if non-nil, is returned by ScheduleAt.
	ScheduleErr error

	// ScheduleCalls records every call to ScheduleAt in order.
	ScheduleCalls []ScheduleCall

	// RampCalls records every call to RampGain in order.
	RampCalls []RampCall

	// Gain is the value from the most recent SetGain call.
	Gain float64

	// CallCountSetGain, CallCountCancelRamps, CallCountClose record calls.
	CallCountSetGain     int
	CallCountCancelRamps int
	CallCountClose       int

	// Recorders holds the currently connected recorder taps.
	Recorders []audio.Recorder
}

// Format implements [audio.Output].
func (o *Output) Format() audio.Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OutputFormat == (audio.Format{}) {
		return audio.Format{SampleRate: 48000, Channels: 2}
	}
	return o.OutputFormat
}

// Now implements [audio.Output]. Returns NowValue.
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.NowValue
}

// SetNow sets the mock clock. Thread-safe.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.NowValue = d
}

// AdvanceNow moves the mock clock forward by d. Thread-safe.
func (o *Output) AdvanceNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.NowValue += d
}

// ScheduleAt implements [audio.Output]. Records the call and returns ScheduleErr.
func (o *Output) ScheduleAt(buf audio.Buffer, at time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ScheduleCalls = append(o.ScheduleCalls, ScheduleCall{Buf: buf, At: at})
	return o.ScheduleErr
}

// SetGain implements [audio.Output]. Records the call.
func (o *Output) SetGain(g float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Gain = g
	o.CallCountSetGain++
}

// RampGain implements [audio.Output]. Records the call.
func (o *Output) RampGain(target float64, over time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.RampCalls = append(o.RampCalls, RampCall{Target: target, Over: over})
}

// CancelRamps implements [audio.Output]. Records the call.
func (o *Output) CancelRamps() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountCancelRamps++
}

// ConnectRecorder implements [audio.Output].
func (o *Output) ConnectRecorder(r audio.Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.Recorders {
		if existing == r {
			return
		}
	}
	o.Recorders = append(o.Recorders, r)
}

// DisconnectRecorder implements [audio.Output].
func (o *Output) DisconnectRecorder(r audio.Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.Recorders {
		if existing == r {
			o.Recorders = append(o.Recorders[:i], o.Recorders[i+1:]...)
			return
		}
	}
}

// Close implements [audio.Output]. Records the call and returns nil.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return nil
}

// LastSchedule returns the most recent ScheduleAt call, or ok=false if none.
func (o *Output) LastSchedule() (ScheduleCall, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.ScheduleCalls) == 0 {
		return ScheduleCall{}, false
	}
	return o.ScheduleCalls[len(o.ScheduleCalls)-1], true
}

// ScheduleCount returns the number of ScheduleAt calls so far. Thread-safe.
func (o *Output) ScheduleCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ScheduleCalls)
}

// CurrentGain returns the value from the most recent SetGain call. Thread-safe.
func (o *Output) CurrentGain() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Gain
}

// Ramps returns a copy of all RampGain calls so far. Thread-safe.
func (o *Output) Ramps() []RampCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RampCall(nil), o.RampCalls...)
}

// Ensure Output implements audio.Output at compile time.
var _ audio.Output = (*Output)(nil)
