package avatar

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/rbright/consult/internal/logging"
)

// MediaSink consumes inbound media frames for one stream.
type MediaSink interface {
	WriteFrame(frame []byte) error
	Close() error
}

// RenderTarget binds a remote media stream to something that presents it.
type RenderTarget interface {
	Attach(streamID string) (MediaSink, error)
}

// Media is the inbound media handle of a ready stream.
type Media struct {
	StreamID string

	mu     sync.Mutex
	sink   MediaSink
	frames int64
}

// Frames reports how many frames were forwarded to the render target.
func (m *Media) Frames() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Attached reports whether the media is still bound to its target.
func (m *Media) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sink != nil
}

func (m *Media) write(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sink == nil {
		return nil
	}
	m.frames++
	return m.sink.WriteFrame(frame)
}

// detach unbinds the sink. Safe to call more than once.
func (m *Media) detach() error {
	m.mu.Lock()
	sink := m.sink
	m.sink = nil
	m.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

func bindMedia(target RenderTarget, streamID string) (*Media, error) {
	if target == nil {
		target = DiscardTarget{}
	}
	sink, err := target.Attach(streamID)
	if err != nil {
		return nil, fmt.Errorf("attach media %q: %w", streamID, err)
	}
	return &Media{StreamID: streamID, sink: sink}, nil
}

// DiscardTarget drops every frame.
type DiscardTarget struct{}

func (DiscardTarget) Attach(string) (MediaSink, error) { return discardSink{}, nil }

type discardSink struct{}

func (discardSink) WriteFrame([]byte) error { return nil }
func (discardSink) Close() error            { return nil }

// FileTarget records length-prefixed frames to a debug artifact per stream.
type FileTarget struct{}

func (FileTarget) Attach(streamID string) (MediaSink, error) {
	file, err := logging.CreateDebugFile("media-"+sanitizeID(streamID), "bin")
	if err != nil {
		return nil, err
	}
	return newFrameWriter(file), nil
}

type frameWriter struct {
	file   io.WriteCloser
	buffer *bufio.Writer
}

func newFrameWriter(file io.WriteCloser) *frameWriter {
	return &frameWriter{file: file, buffer: bufio.NewWriter(file)}
}

// WriteFrame writes a little-endian uint32 length followed by the frame.
func (w *frameWriter) WriteFrame(frame []byte) error {
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(frame)))
	if _, err := w.buffer.Write(size[:]); err != nil {
		return err
	}
	_, err := w.buffer.Write(frame)
	return err
}

func (w *frameWriter) Close() error {
	flushErr := w.buffer.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func sanitizeID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "stream"
	}
	return string(out)
}
