package gateway

import (
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
)

type EventType string

const (
	EventSessionJoin     EventType = "session.join"
	EventSessionJoined   EventType = "session.joined"
	EventSessionLeave    EventType = "session.leave"
	EventAudioFrame      EventType = "audio.frame"
	EventTranscript      EventType = "transcript.update"
	EventTranscribeStart EventType = "transcription.start"
	EventTranscribeStop  EventType = "transcription.stop"
	EventParticipantIn   EventType = "session.participant_joined"
	EventParticipantOut  EventType = "session.participant_left"
	EventError           EventType = "error"
)

// Event is the JSON envelope on the transcription WebSocket. Payload
// fields are pointers so each event carries only its own section.
type Event struct {
	Type          EventType          `json:"type"`
	SessionID     string             `json:"session_id,omitempty"`
	ParticipantID string             `json:"participant_id,omitempty"`
	Channel       shared.Channel     `json:"channel,omitempty"`
	Audio         *AudioPayload      `json:"audio,omitempty"`
	Transcript    *TranscriptPayload `json:"transcript,omitempty"`
	Error         *ErrorPayload      `json:"error,omitempty"`
	Timestamp     time.Time          `json:"timestamp,omitempty"`
}

// AudioPayload carries one capture frame. Data is base64: raw
// little-endian PCM16 by default, or a mono PCM-16 WAV container when
// Encoding is "wav" (the sample rate then comes from the header).
type AudioPayload struct {
	Data       string    `json:"data"`
	Encoding   string    `json:"encoding,omitempty"`
	SampleRate int       `json:"sample_rate"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

const (
	EncodingPCM16 = "pcm16"
	EncodingWAV   = "wav"
)

type TranscriptPayload struct {
	UtteranceID string         `json:"utterance_id"`
	Channel     shared.Channel `json:"channel"`
	Text        string         `json:"text"`
	Confidence  float64        `json:"confidence"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	IsFinal     bool           `json:"is_final"`
	Source      string         `json:"source"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorEvent(sessionID, code, message string) *Event {
	return &Event{
		Type:      EventError,
		SessionID: sessionID,
		Error:     &ErrorPayload{Code: code, Message: message},
		Timestamp: time.Now(),
	}
}
