package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is the speaker of a chat message as understood by the model.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// MessageKind tags why a message exists. It is fixed when the message is created.
type MessageKind string

const (
	// KindUser is real learner dialogue, typed or spoken.
	KindUser MessageKind = "user"
	// KindTrigger is an internal prompt sent on the learner's behalf. It is never displayed.
	KindTrigger MessageKind = "trigger"
	// KindModel is a tutor reply.
	KindModel MessageKind = "model"
)

// ChatMessage is one entry of a conversation history.
type ChatMessage struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewMessage creates a message with a fresh ID. The role follows from the kind.
func NewMessage(kind MessageKind, text string) ChatMessage {
	role := RoleUser
	if kind == KindModel {
		role = RoleModel
	}
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// Visible reports whether the message belongs in the rendered transcript.
func (m ChatMessage) Visible() bool {
	return m.Kind != KindTrigger
}
