package room

import (
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
	StatusError  Status = "error"
)

type Mode string

const (
	// ModeInPerson is two microphones in one consultation room.
	ModeInPerson Mode = "presencial"
	// ModeOnline is a LiveKit room with remote participants.
	ModeOnline Mode = "online"
)

// Session is the lifecycle record of one consultation's audio session.
type Session struct {
	ID             string    `json:"id"`
	ConsultationID string    `json:"consultation_id,omitempty"`
	RoomName       string    `json:"room_name,omitempty"`
	Mode           Mode      `json:"mode"`
	Status         Status    `json:"status"`
	Participants   []string  `json:"participants,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
}

func (s *Session) RedisKey() string {
	return "session:" + s.ID
}

func (s *Session) Active() bool {
	return s.Status == StatusActive
}

func UtteranceCountKey(sessionID string) string {
	return "session:" + sessionID + ":utterances"
}
