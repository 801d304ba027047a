package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Buffer is a single decoded, playable slice of audio.
// Buffers are the atomic unit the scheduler places on the output timeline —
// decoded from network chunks, gain-scaled by the output, and tapped by
// recorders.
type Buffer struct {
	// PCM is little-endian int16 audio data, interleaved when Channels > 1.
	PCM []byte

	// Format is the sample rate and channel count of PCM.
	Format Format
}

// Duration returns the playback duration of the buffer. A buffer with an
// invalid format reports zero.
func (b Buffer) Duration() time.Duration {
	if b.Format.SampleRate <= 0 || b.Format.Channels <= 0 {
		return 0
	}
	samples := len(b.PCM) / 2 / b.Format.Channels
	return time.Duration(samples) * time.Second / time.Duration(b.Format.SampleRate)
}
