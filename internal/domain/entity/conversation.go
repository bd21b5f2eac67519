package entity

import "time"

// Conversation is one support thread: a root message plus all replies.
// RootExternalID identifies the top-level message; every stored message of the
// thread shares this conversation's id.
type Conversation struct {
	ID             string
	RootExternalID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
