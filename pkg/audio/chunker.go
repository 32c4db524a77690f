package audio

import (
	"bytes"
	"time"
)

// Chunker slices a continuous PCM stream into fixed-duration chunks.
// Not safe for concurrent use.
type Chunker struct {
	format    Format
	chunkSize int
	buf       bytes.Buffer
}

// NewChunker returns a chunker emitting chunks of d in format f. A
// non-positive d defaults to one second.
func NewChunker(f Format, d time.Duration) *Chunker {
	if d <= 0 {
		d = time.Second
	}
	size := f.Bytes(d)
	if size <= 0 {
		size = bytesPerSample
	}
	return &Chunker{format: f, chunkSize: size}
}

// ChunkSize returns the byte length of a full chunk.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Write appends data and returns every complete chunk now available. The
// returned slices are freshly allocated and owned by the caller.
func (c *Chunker) Write(data []byte) [][]byte {
	c.buf.Write(data)

	var chunks [][]byte
	for c.buf.Len() >= c.chunkSize {
		chunk := make([]byte, c.chunkSize)
		_, _ = c.buf.Read(chunk)
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Flush returns the buffered partial chunk, trimmed to whole frames, and
// resets the chunker. It returns nil when nothing is buffered.
func (c *Chunker) Flush() []byte {
	frame := c.format.Channels * bytesPerSample
	n := c.buf.Len()
	if frame > 0 {
		n -= n % frame
	}
	if n == 0 {
		c.buf.Reset()
		return nil
	}
	out := make([]byte, n)
	_, _ = c.buf.Read(out)
	c.buf.Reset()
	return out
}

// Buffered returns the number of bytes waiting for a full chunk.
func (c *Chunker) Buffered() int { return c.buf.Len() }
