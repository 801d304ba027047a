package vibe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// scriptedClassifier returns canned prompt sets in order, then repeats the
// last one.
type scriptedClassifier struct {
	mu      sync.Mutex
	results [][]musicgen.WeightedPrompt
	errs    []error
	calls   int
}

func (c *scriptedClassifier) Classify(_ context.Context, _ []byte) ([]musicgen.WeightedPrompt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	return c.results[i], nil
}

// steerRecorder records JumpTo and CrossfadeTo calls.
type steerRecorder struct {
	mu    sync.Mutex
	jumps [][]musicgen.WeightedPrompt
	fades [][]musicgen.WeightedPrompt
	ch    chan string
}

func newSteerRecorder() *steerRecorder {
	return &steerRecorder{ch: make(chan string, 16)}
}

func (s *steerRecorder) JumpTo(target []musicgen.WeightedPrompt) {
	s.mu.Lock()
	s.jumps = append(s.jumps, target)
	s.mu.Unlock()
	s.ch <- "jump"
}

func (s *steerRecorder) CrossfadeTo(target []musicgen.WeightedPrompt) {
	s.mu.Lock()
	s.fades = append(s.fades, target)
	s.mu.Unlock()
	s.ch <- "fade"
}

func (s *steerRecorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-s.ch:
		if got != want {
			t.Fatalf("steer call = %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func staticFrame(_ context.Context) ([]byte, error) {
	return []byte{0xFF, 0xD8, 0xFF}, nil
}

func TestLoopFirstSetJumpsThenFades(t *testing.T) {
	cls := &scriptedClassifier{results: [][]musicgen.WeightedPrompt{
		{{Text: "morning light", Weight: 1}},
		{{Text: "evening haze", Weight: 1}},
	}}
	steer := newSteerRecorder()
	loop := NewLoop(staticFrame, cls, steer, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	steer.wait(t, "jump")
	steer.wait(t, "fade")
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}

	steer.mu.Lock()
	defer steer.mu.Unlock()
	if len(steer.jumps) != 1 || steer.jumps[0][0].Text != "morning light" {
		t.Errorf("jumps = %+v", steer.jumps)
	}
	if len(steer.fades) == 0 || steer.fades[0][0].Text != "evening haze" {
		t.Errorf("fades = %+v", steer.fades)
	}
}

func TestLoopSkipsUnchangedPrompts(t *testing.T) {
	cls := &scriptedClassifier{results: [][]musicgen.WeightedPrompt{
		{{Text: "steady", Weight: 1}},
	}}
	steer := newSteerRecorder()
	loop := NewLoop(staticFrame, cls, steer, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	steer.mu.Lock()
	defer steer.mu.Unlock()
	if len(steer.jumps) != 1 {
		t.Errorf("jumps = %d, want 1", len(steer.jumps))
	}
	if len(steer.fades) != 0 {
		t.Errorf("fades = %d, want repeated identical sets skipped", len(steer.fades))
	}
}

func TestLoopSurvivesClassifierErrors(t *testing.T) {
	cls := &scriptedClassifier{
		errs: []error{errors.New("model overloaded"), nil},
		results: [][]musicgen.WeightedPrompt{
			nil,
			{{Text: "recovered", Weight: 1}},
		},
	}
	steer := newSteerRecorder()
	loop := NewLoop(staticFrame, cls, steer, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	steer.wait(t, "jump")
	cancel()

	steer.mu.Lock()
	defer steer.mu.Unlock()
	if len(steer.jumps) != 1 || steer.jumps[0][0].Text != "recovered" {
		t.Errorf("jumps = %+v, want the post-error set applied as first", steer.jumps)
	}
}
