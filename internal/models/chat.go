package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is a TTL-bounded lobby chat entry. It is created on send and
// expires from the store automatically; there is no deletion path.
type ChatMessage struct {
	ID         uuid.UUID `json:"id"`
	LobbyID    uuid.UUID `json:"lobbyId"`
	SenderID   uuid.UUID `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}
