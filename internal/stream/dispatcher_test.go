package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// sendRecorder collects dispatcher sends and signals each one on a channel.
type sendRecorder struct {
	mu    sync.Mutex
	calls [][]musicgen.WeightedPrompt
	ch    chan []musicgen.WeightedPrompt
	err   error
}

func newSendRecorder() *sendRecorder {
	return &sendRecorder{ch: make(chan []musicgen.WeightedPrompt, 16)}
}

func (r *sendRecorder) send(prompts []musicgen.WeightedPrompt) error {
	r.mu.Lock()
	r.calls = append(r.calls, prompts)
	err := r.err
	r.mu.Unlock()
	r.ch <- prompts
	return err
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *sendRecorder) waitSend(t *testing.T) []musicgen.WeightedPrompt {
	t.Helper()
	select {
	case set := <-r.ch:
		return set
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a prompt send")
		return nil
	}
}

func playingState() musicgen.PlaybackState { return musicgen.Playing }

func TestDispatcherCoalescesBurst(t *testing.T) {
	rec := newSendRecorder()
	d := NewDispatcher(80*time.Millisecond, rec.send, playingState, nil, nil, nil)

	for i := 0; i < 10; i++ {
		d.Set([]musicgen.WeightedPrompt{{Text: fmt.Sprintf("prompt %d", i), Weight: 1}})
	}

	set := rec.waitSend(t)
	if len(set) != 1 || set[0].Text != "prompt 9" {
		t.Errorf("sent set = %+v, want the last burst entry", set)
	}

	// No trailing stragglers.
	time.Sleep(200 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("expected exactly 1 send for the burst, got %d", got)
	}
}

func TestDispatcherActiveSetFiltering(t *testing.T) {
	rec := newSendRecorder()
	d := NewDispatcher(10*time.Millisecond, rec.send, playingState, nil, nil, nil)
	d.MarkFiltered("banned")

	d.Set([]musicgen.WeightedPrompt{
		{Text: "keep", Weight: 0.8},
		{Text: "muted", Weight: 0},
		{Text: "banned", Weight: 1},
	})

	set := rec.waitSend(t)
	if len(set) != 1 || set[0].Text != "keep" {
		t.Errorf("active set = %+v, want only the unmuted, unfiltered prompt", set)
	}

	d.ClearFiltered()
	active := d.Active()
	if len(active) != 2 {
		t.Errorf("after ClearFiltered active = %+v, want banned prompt restored", active)
	}
}

func TestDispatcherEmptyActiveWhilePlaying(t *testing.T) {
	rec := newSendRecorder()
	emptied := make(chan struct{}, 1)
	d := NewDispatcher(10*time.Millisecond, rec.send, playingState, func() {
		emptied <- struct{}{}
	}, nil, nil)

	d.Set([]musicgen.WeightedPrompt{{Text: "muted", Weight: 0}})

	select {
	case <-emptied:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for empty-active callback")
	}
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("empty active set must not be sent, got %d sends", got)
	}
}

func TestDispatcherSendsEmptySetWhenStopped(t *testing.T) {
	rec := newSendRecorder()
	d := NewDispatcher(10*time.Millisecond, rec.send, func() musicgen.PlaybackState {
		return musicgen.Stopped
	}, func() {
		t.Error("empty-active callback fired while stopped")
	}, nil, nil)

	d.Set(nil)
	set := rec.waitSend(t)
	if len(set) != 0 {
		t.Errorf("sent set = %+v, want empty", set)
	}
}

func TestDispatcherFreshness(t *testing.T) {
	rec := newSendRecorder()
	fresh := make(chan struct{}, 4)
	d := NewDispatcher(10*time.Millisecond, rec.send, playingState, nil, func() {
		fresh <- struct{}{}
	}, nil)

	d.Set([]musicgen.WeightedPrompt{{Text: "a", Weight: 1}, {Text: "b", Weight: 1}})
	rec.waitSend(t)

	if !d.Stale() {
		t.Fatal("dispatcher should be stale right after a send")
	}

	// Partial overlap keeps the stream stale.
	d.CheckFreshness([]string{"a"})
	if !d.Stale() {
		t.Error("partial echo must not clear staleness")
	}
	select {
	case <-fresh:
		t.Fatal("fresh fired on partial echo")
	default:
	}

	// A superset of the sent texts clears it.
	d.CheckFreshness([]string{"a", "b", "c"})
	if d.Stale() {
		t.Error("full echo should clear staleness")
	}
	select {
	case <-fresh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for fresh callback")
	}

	// Repeated echoes do not fire again.
	d.CheckFreshness([]string{"a", "b"})
	select {
	case <-fresh:
		t.Error("fresh fired twice for one send")
	default:
	}
}

func TestDispatcherFailedSendIsNotStale(t *testing.T) {
	rec := newSendRecorder()
	rec.err = fmt.Errorf("socket closed")
	d := NewDispatcher(10*time.Millisecond, rec.send, playingState, nil, nil, nil)

	d.Set([]musicgen.WeightedPrompt{{Text: "lost", Weight: 1}})
	rec.waitSend(t)

	// Nothing reached the provider, so there is nothing to wait on.
	time.Sleep(20 * time.Millisecond)
	if d.Stale() {
		t.Error("failed send must not mark the stream stale")
	}

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	d.Set([]musicgen.WeightedPrompt{{Text: "lost", Weight: 1}})
	rec.waitSend(t)
	time.Sleep(20 * time.Millisecond)
	if !d.Stale() {
		t.Error("successful resend should mark the stream stale")
	}
}

func TestDispatcherResetDropsPendingSend(t *testing.T) {
	rec := newSendRecorder()
	d := NewDispatcher(50*time.Millisecond, rec.send, playingState, nil, nil, nil)

	d.Set([]musicgen.WeightedPrompt{{Text: "pending", Weight: 1}})
	d.Reset()

	time.Sleep(150 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("expected pending send to be dropped, got %d sends", got)
	}
	// The authored set survives a reset.
	if active := d.Active(); len(active) != 1 || active[0].Text != "pending" {
		t.Errorf("authored set lost across reset: %+v", active)
	}
}
