package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned by [DecodeWAV] for data that is not a PCM16 RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV file")

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF/WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	bps := bytesPerSample * 8
	byteRate := f.BytesPerSecond()
	blockAlign := f.Channels * bytesPerSample
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV extracts the PCM payload and format of a 16-bit PCM WAV file.
// Unknown chunks between "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if !IsWAV(data) {
		return nil, Format{}, ErrNotWAV
	}
	var (
		f       Format
		haveFmt bool
	)
	r := bytes.NewReader(data[12:])
	for r.Len() >= 8 {
		var hdr [8]byte
		if _, err := r.Read(hdr[:]); err != nil {
			break
		}
		id := string(hdr[0:4])
		size := int(binary.LittleEndian.Uint32(hdr[4:8]))
		if size < 0 || size > r.Len() {
			// Streaming writers leave the data size at 0 or 0xFFFFFFFF.
			if id == "data" && haveFmt {
				size = r.Len()
			} else {
				return nil, Format{}, fmt.Errorf("%w: chunk %q overruns file", ErrNotWAV, id)
			}
		}
		body := make([]byte, size)
		if _, err := r.Read(body); err != nil && size > 0 {
			return nil, Format{}, fmt.Errorf("%w: read chunk %q: %v", ErrNotWAV, id, err)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return nil, Format{}, fmt.Errorf("%w: format tag %d", ErrNotWAV, tag)
			}
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: %d bits per sample", ErrNotWAV, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			return body, f, nil
		}
		// Chunks are word aligned.
		if size%2 == 1 && r.Len() > 0 {
			_, _ = r.ReadByte()
		}
	}
	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}
