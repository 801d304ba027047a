// Package musicgen defines the Provider interface for real-time generative
// music backends.
//
// A music generation provider wraps a streaming service that continuously
// produces audio steered by a weighted set of short text prompts. The central
// abstraction is SessionHandle: a long-lived bidirectional channel that
// accepts prompt-weight updates and transport verbs (play/pause/stop) while
// the service pushes encoded audio chunks back through the session callbacks.
//
// All implementations must be safe for concurrent use.
package musicgen

import "context"

// WeightedPrompt is a single steering prompt with its blend weight.
// Weight is conceptually in [0, 1] but is not clamped at this layer; a prompt
// with weight <= 0 is excluded from what is sent to the service while still
// being remembered by the caller.
type WeightedPrompt struct {
	// Text is the prompt text. It doubles as the identity of the prompt:
	// two WeightedPrompts with the same Text describe the same prompt at
	// different weights.
	Text string

	// Weight is the relative influence of this prompt on the generated audio.
	Weight float64
}

// PlaybackState describes where the stream controller is in its lifecycle.
type PlaybackState string

const (
	// Stopped means no session is open and no audio is scheduled.
	Stopped PlaybackState = "stopped"

	// Loading means a session is being established, or is established and
	// the first audio chunk has not been scheduled yet.
	Loading PlaybackState = "loading"

	// Playing means audio chunks are being scheduled onto the output.
	Playing PlaybackState = "playing"

	// Paused means the session is open but generation is suspended.
	Paused PlaybackState = "paused"
)

// AudioChunk is one encoded audio payload received from the service.
// Chunks are transient: the stream controller decodes them into a playable
// buffer immediately and then discards them.
type AudioChunk struct {
	// Data is raw PCM audio (little-endian int16, interleaved).
	Data []byte

	// SampleRate is the sample rate of Data in Hz.
	SampleRate int

	// Channels is the channel count of Data.
	Channels int

	// EchoedPrompts lists the prompt texts the service had acknowledged when
	// it produced this chunk. May be empty when the service omits metadata.
	EchoedPrompts []string
}

// Callbacks carries the event handlers a session fires from its receive loop.
// Any field may be nil; a nil handler is simply not invoked. Handlers are
// called sequentially from the session's internal goroutine and must not
// block for extended periods or call back into blocking session methods.
type Callbacks struct {
	// OnOpen fires once when the service acknowledges session setup.
	OnOpen func()

	// OnChunks fires for every batch of audio chunks received.
	OnChunks func(chunks []AudioChunk)

	// OnFilteredPrompt fires when the service rejects a previously submitted
	// prompt, typically for policy reasons. The prompt is not in effect;
	// generation continues with the remaining accepted prompts.
	OnFilteredPrompt func(text, reason string)

	// OnClose fires once when the session terminates. err is nil for a clean
	// local close and non-nil when the transport failed.
	OnClose func(err error)

	// OnError fires for transport or protocol errors that do not necessarily
	// end the session.
	OnError func(err error)
}

// SessionConfig is the initial generation configuration for a new session.
type SessionConfig struct {
	// BPM fixes the tempo of the generated music. Zero lets the model choose.
	BPM int

	// Temperature controls sampling randomness. Zero means provider default.
	Temperature float64

	// Guidance controls how strictly the model follows the prompts.
	// Zero means provider default.
	Guidance float64
}

// Capabilities describes static properties of a music generation provider.
// The values are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// SampleRate is the fixed output sample rate in Hz.
	SampleRate int

	// Channels is the fixed output channel count.
	Channels int

	// MaxPrompts is the maximum number of simultaneous weighted prompts the
	// service accepts. Zero means no documented limit.
	MaxPrompts int
}

// SessionHandle represents an open music generation session. It is an
// interface so that test code can supply mock implementations without a live
// connection.
//
// Every method must return quickly; each verb may still fail asynchronously
// on the service side, in which case the failure surfaces through the
// Callbacks. Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SetWeightedPrompts replaces the active steering prompt set. The change
	// takes audible effect after the service's internal latency; chunk
	// metadata echoes back the prompts actually in effect.
	SetWeightedPrompts(prompts []WeightedPrompt) error

	// SetConfig replaces the generation parameters mid-session. Like prompt
	// changes, the new parameters take effect after the service's internal
	// latency.
	SetConfig(cfg SessionConfig) error

	// Play instructs the service to start (or resume) producing audio.
	Play() error

	// Pause instructs the service to suspend audio production. The session
	// stays open and retains its prompt state.
	Pause() error

	// Stop instructs the service to stop producing audio and discard its
	// generation context.
	Stop() error

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any real-time music generation backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new session with the given configuration and
	// callback set. The returned SessionHandle is ready to accept prompts
	// immediately; OnOpen fires once the service acknowledges setup.
	//
	// The caller owns the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig, cb Callbacks) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's output.
	Capabilities() Capabilities
}
