package utterance

import (
	"time"

	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
)

// Utterance is one finalized phrase of the consultation transcript.
type Utterance struct {
	ID             string `gorm:"primaryKey" json:"id"`
	SessionID      string `gorm:"not null;index" json:"session_id"`
	ConsultationID string `gorm:"index" json:"consultation_id,omitempty"`

	Channel    shared.Channel `gorm:"not null;index" json:"channel"`
	Text       string         `gorm:"not null" json:"text"`
	Confidence float64        `json:"confidence"`

	StartedAt time.Time `gorm:"not null" json:"started_at"`
	EndedAt   time.Time `gorm:"not null" json:"ended_at"`

	IsFinal bool `gorm:"default:true" json:"is_final"`
	// Source marks whether the text came from the real backend or the
	// deterministic fallback; approximate rows carry "simulated".
	Source string `gorm:"default:'backend'" json:"source"`

	CreatedAt time.Time `json:"created_at"`
}

func (u *Utterance) Duration() time.Duration {
	return u.EndedAt.Sub(u.StartedAt)
}
