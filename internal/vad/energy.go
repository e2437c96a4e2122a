// Package vad implements the core.VAD contract as an RMS energy
// threshold detector with a sliding-window vote, so a single noisy frame
// cannot flip detection (hysteresis, per the contract's requirement).
package vad

import (
	"math"

	"github.com/voxloop/conductor/core"
)

const (
	defaultWindowFrames = 4
	normalThreshold     = 600.0
	speakingThreshold   = 1400.0
)

// EnergyDetector is a lightweight, dependency-free VAD. Production
// deployments may swap in a model-backed detector behind the same
// core.VAD interface; this one keeps the reference pipeline runnable
// without a model file to fetch.
type EnergyDetector struct {
	windowFrames int
	votes        []bool

	normalThreshold   float64
	speakingThreshold float64
}

// Option adjusts a detector at construction.
type Option func(*EnergyDetector)

// WithThresholds overrides the RMS cutoffs for the normal and elevated
// (assistant-speaking) sensitivities.
func WithThresholds(normal, speaking float64) Option {
	return func(d *EnergyDetector) {
		if normal > 0 {
			d.normalThreshold = normal
		}
		if speaking > 0 {
			d.speakingThreshold = speaking
		}
	}
}

// NewEnergyDetector returns a detector voting over the last
// defaultWindowFrames frames (speech when at least half the votes agree).
func NewEnergyDetector(opts ...Option) *EnergyDetector {
	d := &EnergyDetector{
		windowFrames:      defaultWindowFrames,
		normalThreshold:   normalThreshold,
		speakingThreshold: speakingThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsSpeech treats frame as signed 16-bit little-endian PCM and votes
// speech/silence over a trailing window, reporting speech when at least
// half of the recent frames (a tie counts as speech) reach the cutoff.
func (d *EnergyDetector) IsSpeech(frame []byte, threshold core.Sensitivity) bool {
	rms := rms16(frame)

	cutoff := d.normalThreshold
	if threshold == core.SensitivitySpeaking {
		cutoff = d.speakingThreshold
	}

	d.votes = append(d.votes, rms >= cutoff)
	if len(d.votes) > d.windowFrames {
		d.votes = d.votes[len(d.votes)-d.windowFrames:]
	}

	yes := 0
	for _, v := range d.votes {
		if v {
			yes++
		}
	}
	return yes*2 >= len(d.votes)
}

// Reset clears the vote window, e.g. at the start of a new turn.
func (d *EnergyDetector) Reset() {
	d.votes = d.votes[:0]
}

func rms16(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
