package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

const (
	// SampleRate is the capture rate for every window.
	SampleRate = 16000
	// Channels is the capture channel count.
	Channels = 1

	bytesPerSample = 2
	wavHeaderSize  = 44
)

// ChunkBuffer collects ordered chunks for one capture window. Not safe for
// concurrent use; Capture guards it with its own mutex.
type ChunkBuffer struct {
	chunks [][]byte
	size   int
}

// Append stores a copy of chunk. Empty chunks are ignored.
func (b *ChunkBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, bytes.Clone(chunk))
	b.size += len(chunk)
}

// Len returns the number of buffered chunks.
func (b *ChunkBuffer) Len() int { return len(b.chunks) }

// Size returns the number of buffered PCM bytes.
func (b *ChunkBuffer) Size() int { return b.size }

// Flush returns the buffered chunks as one payload and resets the buffer.
func (b *ChunkBuffer) Flush() Payload {
	payload := Payload{Chunks: b.chunks, SampleRate: SampleRate, Channels: Channels}
	b.chunks = nil
	b.size = 0
	return payload
}

// Payload is the assembled audio of one capture window.
type Payload struct {
	Chunks     [][]byte
	SampleRate int
	Channels   int
}

// Empty reports whether the payload carries no audio.
func (p Payload) Empty() bool {
	for _, chunk := range p.Chunks {
		if len(chunk) > 0 {
			return false
		}
	}
	return true
}

// PCM concatenates chunks in capture order.
func (p Payload) PCM() []byte {
	return bytes.Join(p.Chunks, nil)
}

// Duration is the playback length of the payload.
func (p Payload) Duration() time.Duration {
	rate := p.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}
	channels := max(p.Channels, 1)
	samples := len(p.PCM()) / (bytesPerSample * channels)
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// WAV wraps the payload PCM in a RIFF header.
func (p Payload) WAV() []byte {
	pcm := p.PCM()
	var out bytes.Buffer
	out.Grow(wavHeaderSize + len(pcm))
	rate := p.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}
	_ = WritePCM16WAV(&out, pcm, rate, p.Channels)
	return out.Bytes()
}

// WritePCM16WAV writes little-endian 16-bit PCM with a minimal WAV header.
func WritePCM16WAV(w io.Writer, pcm []byte, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}
