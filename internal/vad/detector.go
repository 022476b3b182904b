// Package vad implements energy-based voice activity detection over
// normalized PCM frames.
package vad

import (
	"math"
	"sync"
)

// DefaultThreshold was tuned against recorded consultations; frames whose
// RMS stays at or below it are treated as room noise.
const DefaultThreshold = 0.015

type Result struct {
	Voiced bool
	Level  float64
}

// Detector classifies audio frames by RMS energy. The threshold is
// runtime-tunable through the debug surface; classification itself has no
// other state.
type Detector struct {
	mu        sync.RWMutex
	threshold float64
}

func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Classify computes the RMS level of a frame of normalized [-1,1] samples
// and compares it against the threshold with strict greater-than. Empty
// and all-zero frames are always silent.
func (d *Detector) Classify(samples []float32) Result {
	level := RMS(samples)

	d.mu.RLock()
	threshold := d.threshold
	d.mu.RUnlock()

	return Result{
		Voiced: level > threshold,
		Level:  level,
	}
}

func (d *Detector) Threshold() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

func (d *Detector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	d.mu.Lock()
	d.threshold = threshold
	d.mu.Unlock()
}

// RMS returns the root-mean-square energy of a frame, 0 for an empty one.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
