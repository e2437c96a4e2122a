package malgo

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
)

const defaultCaptureSampleRate = 16000

// Microphone captures PCM frames from the default input device and
// forwards each one to a callback, typically Orchestrator.OnAudioFrame.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMicrophone opens a capture device at sampleRate mono 16-bit PCM,
// low-latency profile, ~30ms period. deviceIndex selects a capture device
// from the context's enumeration; a negative index uses the default.
func NewMicrophone(sampleRate, deviceIndex int, onFrame func(ctx context.Context, frame []byte)) (*Microphone, error) {
	if sampleRate == 0 {
		sampleRate = defaultCaptureSampleRate
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("malgo init context: %w", err)
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * 1

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Capture.Format = format
	cfg.Capture.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency
	cfg.PeriodSizeInFrames = 480
	cfg.Periods = 3

	if deviceIndex >= 0 {
		infos, err := audioCtx.Devices(malgo.Capture)
		if err != nil {
			audioCtx.Uninit()
			audioCtx.Free()
			return nil, fmt.Errorf("malgo enumerate capture devices: %w", err)
		}
		if deviceIndex >= len(infos) {
			audioCtx.Uninit()
			audioCtx.Free()
			return nil, fmt.Errorf("capture device index %d out of range (%d devices)", deviceIndex, len(infos))
		}
		cfg.Capture.DeviceID = infos[deviceIndex].ID.Pointer()
	}

	device, err := malgo.InitDevice(audioCtx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(in) < n || n == 0 {
				return
			}
			frame := make([]byte, n)
			copy(frame, in[:n])
			onFrame(context.Background(), frame)
		},
	})
	if err != nil {
		audioCtx.Uninit()
		audioCtx.Free()
		return nil, fmt.Errorf("malgo init capture device: %w", err)
	}

	return &Microphone{ctx: audioCtx, device: device}, nil
}

// Start begins capture.
func (m *Microphone) Start() error {
	return m.device.Start()
}

// Stop pauses capture without releasing the device.
func (m *Microphone) Stop() error {
	if !m.device.IsStarted() {
		return nil
	}
	return m.device.Stop()
}

// Close releases the device and audio context.
func (m *Microphone) Close() {
	if m.device != nil {
		m.device.Uninit()
	}
	if m.ctx != nil {
		m.ctx.Uninit()
		m.ctx.Free()
	}
}
