// Package portaudio adapts a single full-duplex PortAudio stream to the
// core.Player contract, plus a capture-only helper feeding microphone
// frames to an Orchestrator. It is the reference audio backend; malgo
// (internal/audioio/malgo) is the cross-platform fallback.
package portaudio

import (
	"context"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voxloop/conductor/core"
)

const defaultSampleRate = 24000

// Client owns one full-duplex PortAudio stream: input frames are
// forwarded to onFrame as they are read, output frames are drained from
// a pending buffer fed by Play.
type Client struct {
	stream     *portaudio.Stream
	bufferSize int

	in  []int16
	out []int16

	mu      sync.Mutex
	pending []byte

	onFrame func(ctx context.Context, frame []byte)

	stopCapture chan struct{}
}

// NewClient opens a default mono duplex stream at sampleRate with
// bufferSize frames per callback.
func NewClient(sampleRate, bufferSize int) (*Client, error) {
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, core.ErrConfig("portaudio initialize: %w", err)
	}

	c := &Client{bufferSize: bufferSize}
	c.in = make([]int16, bufferSize)
	c.out = make([]int16, bufferSize)

	stream, err := portaudio.OpenDefaultStream(1, 1, float64(sampleRate), bufferSize, c.in, c.out)
	if err != nil {
		portaudio.Terminate()
		return nil, core.ErrConfig("portaudio open stream: %w", err)
	}
	c.stream = stream
	return c, nil
}

// StartCapture begins forwarding captured frames to onFrame on a
// dedicated goroutine, until ctx is cancelled or StopCapture is called.
func (c *Client) StartCapture(ctx context.Context, onFrame func(ctx context.Context, frame []byte)) error {
	c.onFrame = onFrame
	c.stopCapture = make(chan struct{})
	if err := c.stream.Start(); err != nil {
		return core.ErrConfig("portaudio start stream: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCapture:
				return
			default:
			}
			if err := c.stream.Read(); err != nil {
				continue
			}
			c.drainOutput()

			frame := int16sToBytes(c.in)
			if c.onFrame != nil {
				c.onFrame(ctx, frame)
			}
		}
	}()
	return nil
}

// StopCapture ends the capture goroutine started by StartCapture.
func (c *Client) StopCapture() {
	if c.stopCapture != nil {
		close(c.stopCapture)
	}
}

// drainOutput copies pending playback bytes into the duplex stream's
// output buffer ahead of the next Write, silencing whatever is left.
func (c *Client) drainOutput() {
	c.mu.Lock()
	defer c.mu.Unlock()

	need := c.bufferSize * 2
	if len(c.pending) == 0 {
		for i := range c.out {
			c.out[i] = 0
		}
		return
	}

	chunk := c.pending
	if len(chunk) > need {
		chunk = chunk[:need]
	}
	bytesToInt16s(chunk, c.out)
	c.pending = c.pending[len(chunk):]

	if err := c.stream.Write(); err != nil {
		return
	}
}

// Start satisfies core.Player; the duplex stream is already started by
// StartCapture in the common configuration where one device handles
// both directions.
func (c *Client) Start(ctx context.Context) error {
	if c.stream.Time() == 0 {
		return c.stream.Start()
	}
	return nil
}

// Play enqueues PCM for output on the next duplex callback.
func (c *Client) Play(ctx context.Context, frame core.AudioFrame) error {
	if frame.EndOfUtterance || len(frame.PCM) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, frame.PCM...)
	return nil
}

// Finish waits for queued output to drain.
func (c *Client) Finish(ctx context.Context) error {
	for {
		c.mu.Lock()
		remaining := len(c.pending)
		c.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return core.ErrCancelled("player finish cancelled: %w", ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Kill discards queued output immediately, for barge-in. The duplex
// stream keeps running and plays silence until the next turn queues audio.
func (c *Client) Kill() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// Close releases the stream and terminates the PortAudio session.
func (c *Client) Close() {
	c.stream.Close()
	portaudio.Terminate()
}

func int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func bytesToInt16s(b []byte, dst []int16) {
	n := len(b) / 2
	for i := 0; i < n && i < len(dst); i++ {
		dst[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
