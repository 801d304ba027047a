// Package mock provides test doubles for the musicgen package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to inspect which verbs the stream controller invoked, and the
// retained Callbacks on Provider to drive server-side events (chunks,
// filtered prompts, closes) into the controller under test.
//
// Example:
//
//	sess := &mock.Session{}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg, cb)
//	p.LastCallbacks().OnChunks([]musicgen.AudioChunk{{Data: pcm, SampleRate: 48000, Channels: 2}})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg musicgen.SessionConfig
	// Callbacks is the callback set passed to Connect.
	Callbacks musicgen.Callbacks
}

// Provider is a mock implementation of musicgen.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session.
	Session musicgen.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectErrs, if non-empty, supplies per-call errors: call n returns
	// ConnectErrs[n] (nil entries mean success). Calls beyond the slice fall
	// back to ConnectErr. Useful for scripting retry sequences.
	ConnectErrs []error

	// ProviderCapabilities is returned by Capabilities. Zero value defaults
	// to 48 kHz stereo.
	ProviderCapabilities musicgen.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session (or a fresh default Session).
func (p *Provider) Connect(ctx context.Context, cfg musicgen.SessionConfig, cb musicgen.Callbacks) (musicgen.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.ConnectCalls)
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg, Callbacks: cb})

	if n < len(p.ConnectErrs) {
		if err := p.ConnectErrs[n]; err != nil {
			return nil, err
		}
	} else if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}

	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{}, nil
}

// Capabilities returns ProviderCapabilities, defaulting to 48 kHz stereo.
func (p *Provider) Capabilities() musicgen.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderCapabilities == (musicgen.Capabilities{}) {
		return musicgen.Capabilities{SampleRate: 48000, Channels: 2}
	}
	return p.ProviderCapabilities
}

// LastCallbacks returns the callback set passed to the most recent Connect
// call. Panics if Connect was never called.
func (p *Provider) LastCallbacks() musicgen.Callbacks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ConnectCalls[len(p.ConnectCalls)-1].Callbacks
}

// ConnectCount returns the number of Connect calls so far. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Ensure Provider implements musicgen.Provider at compile time.
var _ musicgen.Provider = (*Provider)(nil)

// PromptCall records a single invocation of Session.SetWeightedPrompts.
type PromptCall struct {
	// Prompts is a copy of the prompt set passed to SetWeightedPrompts.
	Prompts []musicgen.WeightedPrompt
}

// Session is a mock implementation of musicgen.SessionHandle.
// Set the *Err fields to control return values; inspect the call records
// after exercising the code under test.
type Session struct {
	mu sync.Mutex

	// SetWeightedPromptsErr is returned by SetWeightedPrompts.
	SetWeightedPromptsErr error

	// SetConfigErr is returned by SetConfig.
	SetConfigErr error

	// PlayErr is returned by Play.
	PlayErr error

	// PauseErr is returned by Pause.
	PauseErr error

	// StopErr is returned by Stop.
	StopErr error

	// PromptCalls records every call to SetWeightedPrompts in order.
	PromptCalls []PromptCall

	// ConfigCalls records every SessionConfig passed to SetConfig in order.
	ConfigCalls []musicgen.SessionConfig

	// PlayCount, PauseCount, StopCount, CloseCount record verb invocations.
	PlayCount  int
	PauseCount int
	StopCount  int
	CloseCount int
}

// SetWeightedPrompts records a copy of prompts and returns SetWeightedPromptsErr.
func (s *Session) SetWeightedPrompts(prompts []musicgen.WeightedPrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]musicgen.WeightedPrompt, len(prompts))
	copy(cp, prompts)
	s.PromptCalls = append(s.PromptCalls, PromptCall{Prompts: cp})
	return s.SetWeightedPromptsErr
}

// SetConfig records a copy of cfg and returns SetConfigErr.
func (s *Session) SetConfig(cfg musicgen.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConfigCalls = append(s.ConfigCalls, cfg)
	return s.SetConfigErr
}

// Play records the call and returns PlayErr.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayCount++
	return s.PlayErr
}

// Pause records the call and returns PauseErr.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PauseCount++
	return s.PauseErr
}

// Stop records the call and returns StopErr.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCount++
	return s.StopErr
}

// Close records the call and returns nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

// PlayCalls returns the number of Play calls so far. Thread-safe.
func (s *Session) PlayCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PlayCount
}

// PauseCalls returns the number of Pause calls so far. Thread-safe.
func (s *Session) PauseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PauseCount
}

// StopCalls returns the number of Stop calls so far. Thread-safe.
func (s *Session) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCount
}

// CloseCalls returns the number of Close calls so far. Thread-safe.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

// LastPrompts returns the prompt set from the most recent SetWeightedPrompts
// call, or nil if none was made. Thread-safe.
func (s *Session) LastPrompts() []musicgen.WeightedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.PromptCalls) == 0 {
		return nil
	}
	return s.PromptCalls[len(s.PromptCalls)-1].Prompts
}

// PromptCallCount returns the number of SetWeightedPrompts calls. Thread-safe.
func (s *Session) PromptCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.PromptCalls)
}

// Ensure Session implements musicgen.SessionHandle at compile time.
var _ musicgen.SessionHandle = (*Session)(nil)
