package transcription

import "context"

// Transcriber converts a finished phrase of audio into text.
//
// Implementations must be safe for concurrent use: one call per in-flight
// phrase, across every active session.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}
