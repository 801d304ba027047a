// Package audio defines the types and interfaces for timed audio playout
// within Vibecast.
//
// The central abstraction is [Output]: a playout backend with a monotonically
// advancing clock onto which decoded buffers are scheduled at absolute
// positions. The stream scheduler owns the placement policy (back-to-back,
// drift-corrected); the Output owns the clock, the gain envelope, and the
// recorder taps.
//
// Implementations are provided by sink-specific packages (e.g. audio/pipe for
// writing paced PCM to an io.Writer). This package lives under pkg/ because
// external code is expected to implement [Output] for other backends.
package audio

import "time"

// Recorder receives a copy of every gain-scaled buffer the output plays.
// Attach one via [Output.ConnectRecorder] to tap the live signal, e.g. for
// encoding a recording of the stream.
type Recorder interface {
	// WritePCM is called sequentially from the output's playout path and
	// must not block for extended periods. Errors are logged by the output
	// and do not interrupt playback.
	WritePCM(buf Buffer) error
}

// Output is a timed audio playout backend.
//
// The output clock starts at zero when the Output is created and advances in
// real time. Buffers scheduled in the past begin playing immediately;
// overlapping schedules are an error on the caller's side and the behaviour
// is implementation-defined.
//
// All methods must be safe for concurrent use.
type Output interface {
	// Format returns the fixed playout format. Buffers passed to ScheduleAt
	// must already be in this format.
	Format() Format

	// Now returns the current position of the output clock.
	Now() time.Duration

	// ScheduleAt enqueues buf to begin playing at position at on the output
	// clock. Returns an error if the output is closed or buf does not match
	// the playout format.
	ScheduleAt(buf Buffer, at time.Duration) error

	// SetGain sets the output gain immediately, cancelling any ramp in
	// progress. Gain is clamped to [0, 1].
	SetGain(g float64)

	// RampGain linearly interpolates the gain from its current value to
	// target over the given duration, replacing any ramp in progress.
	// A zero duration is equivalent to SetGain.
	RampGain(target float64, over time.Duration)

	// CancelRamps aborts any ramp in progress, freezing the gain at its
	// current interpolated value.
	CancelRamps()

	// ConnectRecorder attaches r as a tap on the playout path. Connecting
	// the same recorder twice is a no-op.
	ConnectRecorder(r Recorder)

	// DisconnectRecorder detaches r. Detaching a recorder that is not
	// connected is a no-op.
	DisconnectRecorder(r Recorder)

	// Close stops playout and releases resources. Buffers not yet played are
	// discarded. Idempotent.
	Close() error
}
