// Package opusrec provides an [audio.Recorder] that encodes the tapped
// playout signal into Opus packets.
//
// Connect a Recorder to an output via [audio.Output.ConnectRecorder] to
// capture the live stream in a compressed form. Packets are handed to a sink
// callback in encode order; the caller owns containerisation (ogg, webm, raw
// packet log).
package opusrec

import (
	"fmt"
	"sync"

	"github.com/MrWong99/vibecast/pkg/audio"
	"layeh.com/gopus"
)

// Opus encoding uses 48 kHz stereo at 20 ms frame size.
const (
	sampleRate  = 48000
	channels    = 2
	frameSizeMs = 20
	// frameSize is the number of samples per channel per 20 ms frame.
	frameSize = sampleRate * frameSizeMs / 1000 // 960
	// frameBytes is the byte length of one interleaved stereo int16 frame.
	frameBytes = frameSize * channels * 2
)

// Compile-time interface assertion.
var _ audio.Recorder = (*Recorder)(nil)

// Recorder encodes tapped PCM into Opus packets and hands each packet to the
// sink callback. Input buffers may be any length; the recorder accumulates
// them into fixed 20 ms frames. Safe for concurrent use, though outputs call
// WritePCM sequentially.
type Recorder struct {
	sink func(packet []byte) error

	mu      sync.Mutex
	enc     *gopus.Encoder
	pending []byte // PCM bytes not yet forming a full frame
}

// New creates a Recorder delivering encoded packets to sink. The sink is
// called sequentially from the playout path and must not block for extended
// periods.
func New(sink func(packet []byte) error) (*Recorder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opusrec: create encoder: %w", err)
	}
	return &Recorder{sink: sink, enc: enc}, nil
}

// WritePCM implements [audio.Recorder]. The buffer must be 48 kHz stereo
// s16le; other formats are rejected.
func (r *Recorder) WritePCM(buf audio.Buffer) error {
	if buf.Format.SampleRate != sampleRate || buf.Format.Channels != channels {
		return fmt.Errorf("opusrec: unsupported format %dHz/%dch", buf.Format.SampleRate, buf.Format.Channels)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, buf.PCM...)
	for len(r.pending) >= frameBytes {
		frame := r.pending[:frameBytes]
		r.pending = r.pending[frameBytes:]
		if err := r.encodeFrame(frame); err != nil {
			return err
		}
	}
	return nil
}

// Flush pads any buffered partial frame with silence and encodes it.
// Call once when the recording ends.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}
	frame := make([]byte, frameBytes)
	copy(frame, r.pending)
	r.pending = r.pending[:0]
	return r.encodeFrame(frame)
}

// encodeFrame encodes one full 20 ms frame. Must be called with r.mu held.
func (r *Recorder) encodeFrame(frame []byte) error {
	pcm := bytesToInt16s(frame)
	packet, err := r.enc.Encode(pcm, frameSize, len(frame))
	if err != nil {
		return fmt.Errorf("opusrec: encode: %w", err)
	}
	if err := r.sink(packet); err != nil {
		return fmt.Errorf("opusrec: sink: %w", err)
	}
	return nil
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
