package stream

import "github.com/MrWong99/vibecast/pkg/musicgen"

// Event is a notification emitted by a [Controller] towards its subscriber.
// Events are delivered outside the controller's internal locks, so a
// subscriber may call back into the controller.
type Event interface{ isEvent() }

// StateChanged reports a playback state transition.
type StateChanged struct {
	State musicgen.PlaybackState
}

// PromptFiltered reports that the provider rejected a prompt, usually for
// safety reasons. The prompt is excluded from the active set until the next
// session.
type PromptFiltered struct {
	Text   string
	Reason string
}

// PromptsFresh reports that the most recently sent prompt set is now
// reflected in the generated audio.
type PromptsFresh struct{}

// Notice is an advisory message. Playback continues or recovers on its own;
// the subscriber may surface the message but need not act on it.
type Notice struct {
	Message string
}

// FatalError reports an unrecoverable failure. The controller has already
// transitioned to stopped; a new Play call starts over from scratch.
type FatalError struct {
	Err error
}

func (StateChanged) isEvent()   {}
func (PromptFiltered) isEvent() {}
func (PromptsFresh) isEvent()   {}
func (Notice) isEvent()         {}
func (FatalError) isEvent()     {}
