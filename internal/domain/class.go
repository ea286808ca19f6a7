package domain

import (
	"time"
)

// ClassState is the lifecycle of a learner's class.
type ClassState string

const (
	ClassNotStarted ClassState = "not_started"
	ClassStarted    ClassState = "started"
)

// ClassSession is the persisted snapshot of one tab's class.
type ClassSession struct {
	UserID       string
	SessionID    string
	State        ClassState
	MessagesJSON string
	TurnCount    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StoredMessage is the serialized form of a chat message inside MessagesJSON.
type StoredMessage struct {
	Role    string `json:"role"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}
