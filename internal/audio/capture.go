package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	defaultChunkMS  = 1000
	chunkQueueSize  = 32
	speechQueueSize = 16
)

// RecorderConfig selects the device and tunes segmentation and endpointing.
type RecorderConfig struct {
	Input      string
	Fallback   string
	ChunkMS    int
	Endpointer EndpointerConfig
}

// Recorder opens a fresh capture window on every StartCapture call.
type Recorder struct {
	cfg    RecorderConfig
	logger *slog.Logger
}

// NewRecorder builds a recorder. logger may be nil.
func NewRecorder(cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if cfg.ChunkMS <= 0 {
		cfg.ChunkMS = defaultChunkMS
	}
	return &Recorder{cfg: cfg, logger: logger}
}

// StartCapture resolves the input device and starts a 16kHz mono s16 record
// stream. Every failure is returned as *MicrophoneUnavailableError.
func (r *Recorder) StartCapture(ctx context.Context) (*Capture, error) {
	selection, err := SelectDevice(ctx, r.cfg.Input, r.cfg.Fallback)
	if err != nil {
		return nil, &MicrophoneUnavailableError{Device: r.cfg.Input, Err: err}
	}
	if selection.Warning != "" && r.logger != nil {
		r.logger.Warn(selection.Warning, "device", selection.Device.ID)
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, &MicrophoneUnavailableError{Device: selection.Device.ID, Err: err}
	}
	source, err := client.SourceByID(selection.Device.ID)
	if err != nil {
		client.Close()
		return nil, &MicrophoneUnavailableError{
			Device: selection.Device.ID,
			Err:    fmt.Errorf("resolve source: %w", err),
		}
	}

	capture := newCapture(selection.Device, r.cfg)
	capture.client = client

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(frameBytes),
		pulse.RecordMediaName("consult microphone"),
	)
	if err != nil {
		_, _ = capture.Stop()
		return nil, &MicrophoneUnavailableError{
			Device: selection.Device.ID,
			Err:    fmt.Errorf("create pulse record stream: %w", err),
		}
	}
	capture.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_, _ = capture.Stop()
		case <-capture.stopCh:
		}
	}()

	return capture, nil
}

// Capture is one capture window. Chunks and Speech close when Stop returns.
type Capture struct {
	device     Device
	chunkBytes int

	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	speech chan SpeechEvent
	stopCh chan struct{}

	mu         sync.Mutex
	pending    []byte
	frame      []byte
	buffer     ChunkBuffer
	endpointer *Endpointer
	stopped    bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

func newCapture(device Device, cfg RecorderConfig) *Capture {
	chunkMS := cfg.ChunkMS
	if chunkMS <= 0 {
		chunkMS = defaultChunkMS
	}
	return &Capture{
		device:     device,
		chunkBytes: chunkMS * SampleRate * bytesPerSample / 1000,
		chunks:     make(chan []byte, chunkQueueSize),
		speech:     make(chan SpeechEvent, speechQueueSize),
		stopCh:     make(chan struct{}),
		endpointer: NewEndpointer(cfg.Endpointer),
	}
}

// Device returns the source this window records from.
func (c *Capture) Device() Device {
	return c.device
}

// Chunks publishes each completed chunk, the trailing partial one included.
func (c *Capture) Chunks() <-chan []byte {
	return c.chunks
}

// Speech publishes local endpointing transitions.
func (c *Capture) Speech() <-chan SpeechEvent {
	return c.speech
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Stop halts the stream, releases the device, flushes the trailing partial
// chunk and returns the window payload. Later calls return an empty payload.
func (c *Capture) Stop() (Payload, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return Payload{SampleRate: SampleRate, Channels: Channels}, nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	tail := c.pending
	c.pending = nil
	c.frame = nil
	if len(tail) > 0 {
		c.buffer.Append(tail)
	}
	payload := c.buffer.Flush()
	c.mu.Unlock()

	if len(tail) > 0 {
		select {
		case c.chunks <- tail:
		default:
		}
	}
	close(c.chunks)
	close(c.speech)
	return payload, nil
}

// onPCM receives raw Pulse frames, feeds the endpointer and emits chunks.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as c.stopped so Stop's Wait cannot race it.
	c.inflight.Add(1)
	defer c.inflight.Done()

	var events []SpeechEvent
	c.frame = append(c.frame, buffer...)
	for len(c.frame) >= frameBytes {
		if event, ok := c.endpointer.Feed(c.frame[:frameBytes]); ok {
			events = append(events, event)
		}
		c.frame = c.frame[frameBytes:]
	}

	var ready [][]byte
	c.pending = append(c.pending, buffer...)
	for len(c.pending) >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.pending[:c.chunkBytes])
		c.pending = c.pending[c.chunkBytes:]
		c.buffer.Append(chunk)
		ready = append(ready, chunk)
	}
	c.mu.Unlock()

	c.bytes.Add(int64(len(buffer)))

	for _, event := range events {
		select {
		case c.speech <- event:
		default:
		}
	}
	for _, chunk := range ready {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.chunks <- chunk:
		}
	}
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
