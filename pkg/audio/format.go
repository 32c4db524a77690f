// Package audio holds the PCM helpers shared by capture, the transcription
// server and the recognizers: format arithmetic, WAV framing, channel and
// sample-rate conversion, and fixed-duration chunking.
//
// All PCM in this package is 16-bit signed little-endian.
package audio

import (
	"fmt"
	"time"
)

const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Speech is the format captured for transcription: 16 kHz mono.
var Speech = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// Duration returns the playback time of n bytes of PCM in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Bytes returns the PCM size of d in format f, rounded down to whole frames.
func (f Format) Bytes(d time.Duration) int {
	frame := f.Channels * bytesPerSample
	if frame <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%frame
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
