package stream

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vibecast/pkg/musicgen"
)

func TestBlendEndpoints(t *testing.T) {
	from := []musicgen.WeightedPrompt{{Text: "a", Weight: 1}}
	target := []musicgen.WeightedPrompt{{Text: "b", Weight: 1}}

	start := blend(from, target, 0)
	if len(start) != 2 || start[0].Weight != 1 || start[1].Weight != 0 {
		t.Errorf("blend at t=0 = %+v, want outgoing at full weight", start)
	}

	end := blend(from, target, 1)
	if len(end) != 1 || end[0].Text != "b" || end[0].Weight != 1 {
		t.Errorf("blend at t=1 = %+v, want exactly the target", end)
	}
}

func TestBlendMidpoint(t *testing.T) {
	from := []musicgen.WeightedPrompt{{Text: "a", Weight: 1}}
	target := []musicgen.WeightedPrompt{{Text: "b", Weight: 1}}

	mid := blend(from, target, 0.5)
	if len(mid) != 2 {
		t.Fatalf("blend at t=0.5 = %+v, want union of both sets", mid)
	}
	for _, p := range mid {
		if math.Abs(p.Weight-0.5) > 1e-9 {
			t.Errorf("prompt %q weight = %v at midpoint, want 0.5", p.Text, p.Weight)
		}
	}
}

func TestBlendSharedPromptRampsToTargetWeight(t *testing.T) {
	from := []musicgen.WeightedPrompt{{Text: "shared", Weight: 0.4}}
	target := []musicgen.WeightedPrompt{{Text: "shared", Weight: 1}}

	mid := blend(from, target, 0.5)
	if len(mid) != 1 {
		t.Fatalf("shared prompt duplicated in blend: %+v", mid)
	}
	if math.Abs(mid[0].Weight-0.5) > 1e-9 {
		t.Errorf("shared prompt weight = %v, want target weight scaled by t", mid[0].Weight)
	}
}

// blendSink collects dispatched blends.
type blendSink struct {
	mu    sync.Mutex
	sets  [][]musicgen.WeightedPrompt
	final chan []musicgen.WeightedPrompt
}

func newBlendSink() *blendSink {
	return &blendSink{final: make(chan []musicgen.WeightedPrompt, 4)}
}

func (s *blendSink) dispatch(set []musicgen.WeightedPrompt) {
	s.mu.Lock()
	s.sets = append(s.sets, set)
	s.mu.Unlock()
	// Signal once the blend reaches exactly the target shape.
	if len(set) == 1 && set[0].Weight == 1 {
		s.final <- set
	}
}

func (s *blendSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets)
}

func TestCrossfadeReachesTarget(t *testing.T) {
	sink := newBlendSink()
	cf := NewCrossfade(150*time.Millisecond, 10*time.Millisecond, sink.dispatch, nil)

	cf.Jump([]musicgen.WeightedPrompt{{Text: "a", Weight: 1}})
	<-sink.final

	cf.Start([]musicgen.WeightedPrompt{{Text: "b", Weight: 1}})

	select {
	case final := <-sink.final:
		if final[0].Text != "b" {
			t.Errorf("fade settled on %+v, want target prompt b", final)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for fade to settle")
	}
	if got := len(cf.Current()); got != 1 {
		t.Errorf("Current() after settle = %+v, want just the target", cf.Current())
	}
	if sink.count() < 3 {
		t.Errorf("expected multiple intermediate dispatches, got %d", sink.count())
	}
}

func TestCrossfadeZeroDurationAppliesImmediately(t *testing.T) {
	sink := newBlendSink()
	cf := NewCrossfade(time.Second, 10*time.Millisecond, sink.dispatch, nil)

	cf.Jump([]musicgen.WeightedPrompt{{Text: "now", Weight: 1}})
	select {
	case final := <-sink.final:
		if final[0].Text != "now" {
			t.Errorf("jump dispatched %+v", final)
		}
	default:
		t.Fatal("Jump must dispatch synchronously")
	}
}

func TestCrossfadeNewestWins(t *testing.T) {
	sink := newBlendSink()
	cf := NewCrossfade(400*time.Millisecond, 10*time.Millisecond, sink.dispatch, nil)

	cf.Jump([]musicgen.WeightedPrompt{{Text: "a", Weight: 1}})
	<-sink.final
	cf.Start([]musicgen.WeightedPrompt{{Text: "b", Weight: 1}})
	time.Sleep(50 * time.Millisecond)
	cf.Start([]musicgen.WeightedPrompt{{Text: "c", Weight: 1}})

	select {
	case final := <-sink.final:
		if final[0].Text != "c" {
			t.Errorf("fade settled on %+v, want the newest target c", final)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for fade to settle")
	}
	// The superseded fade must not settle afterwards.
	select {
	case extra := <-sink.final:
		t.Errorf("superseded fade settled too: %+v", extra)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestCrossfadeCancelFreezesBlend(t *testing.T) {
	sink := newBlendSink()
	cf := NewCrossfade(300*time.Millisecond, 10*time.Millisecond, sink.dispatch, nil)

	cf.Jump([]musicgen.WeightedPrompt{{Text: "a", Weight: 1}})
	<-sink.final
	cf.Start([]musicgen.WeightedPrompt{{Text: "b", Weight: 1}})
	time.Sleep(50 * time.Millisecond)
	cf.Cancel()

	settled := sink.count()
	time.Sleep(150 * time.Millisecond)
	if got := sink.count(); got > settled+1 {
		t.Errorf("dispatches continued after cancel: %d -> %d", settled, got)
	}
}
