package shared

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Channel identifies a logical audio source within a session. In-person
// rooms use ChannelDoctor/ChannelPatient; online rooms use the LiveKit
// participant identity as the channel.
type Channel string

const (
	ChannelDoctor  Channel = "doctor"
	ChannelPatient Channel = "patient"
)

func (c Channel) String() string {
	return string(c)
}
