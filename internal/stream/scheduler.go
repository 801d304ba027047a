package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vibecast/internal/observe"
	"github.com/MrWong99/vibecast/pkg/audio"
	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// ── scheduler defaults ──────────────────────────────────────────────────────

const (
	// defaultDriftSlack is how far the cursor may fall behind the output
	// clock before the scheduler snaps forward. Small gaps from scheduling
	// jitter are tolerated; only a genuine stall triggers a snap.
	defaultDriftSlack = 500 * time.Millisecond

	// defaultSnapLead is the headroom added when snapping the cursor
	// forward, so the snapped chunk is not already late when it reaches
	// the output.
	defaultSnapLead = 100 * time.Millisecond
)

// Scheduler places decoded audio chunks gaplessly on an output timeline. It
// owns a single cursor, the timeline position where the next chunk starts.
// Consecutive chunks are butted against each other; if the network stalls
// long enough for the cursor to fall behind the output clock by more than
// the drift slack, the cursor snaps forward and the stall surfaces as one
// bounded gap instead of permanently growing latency.
type Scheduler struct {
	out     audio.Output
	slack   time.Duration
	lead    time.Duration
	metrics *observe.Metrics

	mu     sync.Mutex
	cursor time.Duration
}

// NewScheduler creates a scheduler writing to out. Zero values in slack or
// lead select the defaults.
func NewScheduler(out audio.Output, slack, lead time.Duration, metrics *observe.Metrics) *Scheduler {
	if slack <= 0 {
		slack = defaultDriftSlack
	}
	if lead <= 0 {
		lead = defaultSnapLead
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Scheduler{out: out, slack: slack, lead: lead, metrics: metrics}
}

// Schedule converts chunk to the output format and schedules it at the
// current cursor, advancing the cursor by the chunk's duration. An
// undecodable chunk is reported as an error and leaves the cursor unchanged.
func (s *Scheduler) Schedule(chunk musicgen.AudioChunk) error {
	buf, err := audio.Convert(audio.Buffer{
		PCM:    chunk.Data,
		Format: audio.Format{SampleRate: chunk.SampleRate, Channels: chunk.Channels},
	}, s.out.Format())
	if err != nil {
		s.metrics.RecordChunkDropped(context.Background(), "decode")
		return fmt.Errorf("decode chunk: %w", err)
	}

	s.mu.Lock()
	now := s.out.Now()
	switch {
	case s.cursor == 0 && now > 0:
		// First chunk of a stream against an already running clock.
		s.cursor = now
	case now-s.cursor > s.slack:
		slog.Debug("audio cursor fell behind output clock, snapping forward",
			"behind", now-s.cursor, "slack", s.slack)
		s.cursor = now + s.lead
		s.metrics.DriftSnaps.Add(context.Background(), 1)
	}
	at := s.cursor
	if err := s.out.ScheduleAt(buf, at); err != nil {
		s.mu.Unlock()
		s.metrics.RecordChunkDropped(context.Background(), "output")
		return fmt.Errorf("schedule chunk at %s: %w", at, err)
	}
	s.cursor = at + buf.Duration()
	s.mu.Unlock()

	s.metrics.ChunksScheduled.Add(context.Background(), 1)
	s.metrics.ScheduledAudioSeconds.Add(context.Background(), buf.Duration().Seconds())
	return nil
}

// Reset clears the cursor. The next chunk starts wherever the output clock
// is then, not where the previous stream left off. Called on pause, stop and
// reconnect.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.cursor = 0
	s.mu.Unlock()
}

// Cursor returns the timeline position where the next chunk will start.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
