package entity

import "time"

// Message is the canonical form of one inbound message (tweet, reply, or quote)
// after normalization. ExternalID is the source identifier and doubles as the
// stored primary key.
type Message struct {
	ExternalID    string
	AuthorID      string
	Text          string
	ReplyParentID string // empty = not a reply (thread root candidate)
	QuotedID      string
	Inbound       bool // true = customer, false = brand/support
	Timestamp     *time.Time
	TimestampRaw  string // original string when the source format did not parse
}
