// Package malgo adapts miniaudio (via gen2brain/malgo) devices to the
// core.Player contract and to microphone capture feeding an
// Orchestrator.
package malgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/voxloop/conductor/core"
)

const defaultSampleRate = 24000

// Player is a core.Player backed by a miniaudio playback device. Frames
// queued via Play are copied into a byte buffer drained by the device's
// data callback, so Play never blocks on device timing.
type Player struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	pending []byte
}

// NewPlayer opens a default playback device at sampleRate mono 16-bit PCM.
func NewPlayer(sampleRate int) (*Player, error) {
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("malgo init context: %w", err)
	}

	p := &Player{ctx: audioCtx}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * 1

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Playback.Format = format
	cfg.Playback.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(sampleRate) / 10
	cfg.Periods = 4

	device, err := malgo.InitDevice(audioCtx.Context, cfg, malgo.DeviceCallbacks{
		Data: p.fill(bytesPerFrame),
	})
	if err != nil {
		audioCtx.Uninit()
		audioCtx.Free()
		return nil, fmt.Errorf("malgo init playback device: %w", err)
	}
	p.device = device

	return p, nil
}

func (p *Player) fill(bytesPerFrame int) malgo.DataProc {
	return func(out, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.pending) == 0 {
			return
		}
		if len(p.pending) < need {
			copy(out, p.pending)
			p.pending = nil
			return
		}
		copy(out, p.pending[:need])
		p.pending = p.pending[need:]
	}
}

// Start starts the playback device.
func (p *Player) Start(ctx context.Context) error {
	if p.device == nil {
		return core.ErrConfig("playback device not initialized")
	}
	if err := p.device.Start(); err != nil {
		return fmt.Errorf("start playback device: %w", err)
	}
	return nil
}

// Play enqueues one PCM frame for playback. The EndOfUtterance sentinel
// carries no audio and is a no-op here.
func (p *Player) Play(ctx context.Context, frame core.AudioFrame) error {
	if frame.EndOfUtterance || len(frame.PCM) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, frame.PCM...)
	return nil
}

// Finish waits for queued audio to drain. Used at the natural end of an
// utterance, distinct from Kill's hard stop.
func (p *Player) Finish(ctx context.Context) error {
	for {
		p.mu.Lock()
		remaining := len(p.pending)
		p.mu.Unlock()
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

// Kill immediately discards queued audio, for barge-in. The device keeps
// running (it plays silence on an empty queue), so the next turn's frames
// play without a restart.
func (p *Player) Kill() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// Close releases the device and audio context.
func (p *Player) Close() {
	if p.device != nil {
		p.device.Uninit()
	}
	if p.ctx != nil {
		p.ctx.Uninit()
		p.ctx.Free()
	}
}
