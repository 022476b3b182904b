package transcription

import (
	"context"
	"fmt"
	"math"
)

// Simulator is a deterministic stand-in for the real backend: the same
// audio always yields the same placeholder text and confidence. It keeps
// the conversation log flowing when the backend is down, with results that
// are unmistakably approximate.
type Simulator struct{}

func NewSimulator() *Simulator {
	return &Simulator{}
}

var simulatedPhrases = []string{
	"Entendi, pode continuar.",
	"Vou anotar essa informação.",
	"Há quanto tempo sente esses sintomas?",
	"Certo, e a dor melhora com repouso?",
	"Vamos revisar os exames mais recentes.",
	"Sim, doutor, começou na semana passada.",
	"A medicação está sendo tomada corretamente?",
	"Sinto um desconforto principalmente à noite.",
}

func (s *Simulator) Transcribe(_ context.Context, req Request) (Result, error) {
	if len(req.Samples) == 0 || req.SampleRate <= 0 {
		return Result{}, &BackendError{Message: "empty audio request", Err: ErrInvalidAudio}
	}

	dur := req.Duration().Seconds()
	energy := meanAbs(req.Samples)

	// Index the canned phrases off duration and energy so repeated input is
	// stable but different phrases pick different lines.
	idx := (int(dur*10) + int(energy*1000)) % len(simulatedPhrases)

	return Result{
		Text:       fmt.Sprintf("[simulado] %s", simulatedPhrases[idx]),
		Confidence: simulatedConfidence(dur, energy),
		Model:      "simulated",
		Source:     SourceSimulated,
	}, nil
}

// simulatedConfidence maps duration and energy into [0.6, 0.95]: longer,
// louder phrases score higher, matching how a real model behaves.
func simulatedConfidence(durSeconds, energy float64) float64 {
	durScore := math.Min(durSeconds/8, 1)
	energyScore := math.Min(energy/0.3, 1)
	conf := 0.6 + 0.35*(0.5*durScore+0.5*energyScore)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func meanAbs(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

var _ Transcriber = (*Simulator)(nil)
