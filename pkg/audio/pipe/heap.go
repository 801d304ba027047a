// Package pipe provides a concrete [audio.Output] that paces scheduled
// buffers in real time onto an io.Writer, applying the gain envelope in
// software. Point the writer at a raw-PCM player (aplay, ffplay, pacat) or a
// file to hear or capture the stream.
package pipe

import (
	"time"

	"github.com/MrWong99/vibecast/pkg/audio"
)

// entry wraps a scheduled [audio.Buffer] with its timeline position for the
// playout queue. The seq field provides FIFO ordering for buffers scheduled
// at the same position.
type entry struct {
	buf audio.Buffer
	at  time.Duration
	seq uint64 // monotonic insertion order for FIFO tie-breaking
}

// entryHeap implements [container/heap.Interface] as a min-heap ordered by
// timeline position (ascending), with FIFO tie-breaking on seq.
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

// Less reports whether element i should be played before element j.
// Earlier position wins; equal position falls back to insertion order.
func (h entryHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
