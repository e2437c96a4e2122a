package core

import (
	"context"
	"sync"
)

// AudioStageCapacity is the bounded queue depth between TTS and Player.
const AudioStageCapacity = 32

// audioStagePressureRatio is the occupancy fraction at which a pressure
// warning is logged.
const audioStagePressureRatio = 0.75

// AudioFrame is an opaque PCM payload. Only its length and the EndOfUtterance
// sentinel are ever inspected by the orchestrator.
type AudioFrame struct {
	PCM            []byte
	EndOfUtterance bool
}

// EndOfUtteranceFrame is the sentinel frame signalling that no more audio
// follows for the current utterance.
var EndOfUtteranceFrame = AudioFrame{EndOfUtterance: true}

// AudioStage is the bounded producer/consumer channel of PCM frames
// carrying audio from TTS to the Player. Send blocks the producer when
// full; Receive blocks the consumer when empty. It is single-producer/
// single-consumer per turn, per the design's resource model.
type AudioStage struct {
	frames chan AudioFrame

	mu       sync.Mutex
	warnedAt int // occupancy level at which the warning fired for the current crossing; 0 while below the threshold
}

// NewAudioStage allocates a stage with AudioStageCapacity capacity.
func NewAudioStage() *AudioStage {
	return &AudioStage{frames: make(chan AudioFrame, AudioStageCapacity)}
}

// Send pushes a frame, blocking if the stage is full (back-pressure). It
// returns ErrCancelled if ctx is done before the frame can be enqueued.
func (s *AudioStage) Send(ctx context.Context, frame AudioFrame) error {
	select {
	case s.frames <- frame:
		s.checkPressure()
		return nil
	case <-ctx.Done():
		return ErrCancelled("audio stage send cancelled: %w", ctx.Err())
	}
}

// Receive pops a frame, blocking if the stage is empty. ok is false only if
// the underlying channel has been closed; Drain does not close it, so a
// receiver waiting on an empty stage keeps waiting after a Drain until a
// frame arrives or ctx is done.
func (s *AudioStage) Receive(ctx context.Context) (frame AudioFrame, ok bool, err error) {
	select {
	case f, open := <-s.frames:
		return f, open, nil
	case <-ctx.Done():
		return AudioFrame{}, false, ErrCancelled("audio stage receive cancelled: %w", ctx.Err())
	}
}

// Occupancy returns the current queue length.
func (s *AudioStage) Occupancy() int {
	return len(s.frames)
}

// checkPressure logs once per crossing of the 75% occupancy threshold
// rather than on every send past it.
func (s *AudioStage) checkPressure() {
	occ := len(s.frames)
	s.mu.Lock()
	defer s.mu.Unlock()
	if float64(occ) >= audioStagePressureRatio*float64(AudioStageCapacity) {
		if s.warnedAt == 0 {
			s.warnedAt = occ
			logger.Warn("audio stage pressure", "occupancy", occ, "capacity", AudioStageCapacity)
		}
	} else {
		s.warnedAt = 0
	}
}

// Drain empties the stage and resets it for reuse, discarding any frames
// still queued. Used by the barge-in handler.
func (s *AudioStage) Drain() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}
