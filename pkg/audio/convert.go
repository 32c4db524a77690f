package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Convert converts PCM from one format to another. Resampling happens
// before channel conversion so stereo input is only resampled when the
// target is stereo as well. Only mono and stereo are supported.
func Convert(pcm []byte, from, to Format) ([]byte, error) {
	if len(pcm)%bytesPerSample != 0 {
		return nil, fmt.Errorf("audio: odd byte count %d in PCM16 data", len(pcm))
	}
	for _, f := range []Format{from, to} {
		if f.Channels < 1 || f.Channels > 2 || f.SampleRate <= 0 {
			return nil, fmt.Errorf("audio: unsupported format %s", f)
		}
	}
	if from == to {
		return pcm, nil
	}

	channels := from.Channels
	if channels == 2 && to.Channels == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	}
	if from.SampleRate != to.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, from.SampleRate, to.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, from.SampleRate, to.SampleRate)
		}
	}
	if channels == 1 && to.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm, nil
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16((l+r)/2)))
	}
	return out
}

// MixMono sums two mono PCM16 streams sample by sample with clipping. The
// result has the length of the longer input.
func MixMono(a, b []byte) []byte {
	if len(b) > len(a) {
		a, b = b, a
	}
	out := make([]byte, len(a)-len(a)%2)
	for i := 0; i+1 < len(out); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(a[i:])))
		if i+1 < len(b) {
			s += int32(int16(binary.LittleEndian.Uint16(b[i:])))
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(clamp16(s)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. Equal or invalid rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 is [ResampleMono16] for interleaved stereo frames.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 2, srcRate, dstRate)
}

func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	frame := channels * bytesPerSample
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frame {
		return pcm
	}
	srcFrames := len(pcm) / frame
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frame)
	ratio := float64(srcRate) / float64(dstRate)
	sample := func(idx, ch int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[idx*frame+ch*2:])))
	}

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			v := sample(idx, ch)*(1-frac) + sample(next, ch)*frac
			binary.LittleEndian.PutUint16(out[i*frame+ch*2:], uint16(int16(v)))
		}
	}
	return out
}

// PCMToFloat32 converts little-endian int16 PCM to float32 samples in the
// range [-1.0, 1.0), the input layout whisper.cpp expects.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square energy of PCM16 samples normalised to
// [0, 1]. Empty input returns 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
