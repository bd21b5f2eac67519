package models

import "time"

// ConversationModel is the conversations table: one row per support thread.
// Deleting a conversation cascades to its messages.
type ConversationModel struct {
	ID             string         `gorm:"type:varchar(36);primaryKey"`
	RootExternalID string         `gorm:"type:varchar(64);uniqueIndex;not null"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
	Messages       []MessageModel `gorm:"foreignKey:ConversationID;references:ID;constraint:OnDelete:CASCADE"`
}

func (ConversationModel) TableName() string {
	return "conversations"
}

// MessageModel is the tweets table: one row per normalized source message.
// Rows are insert-only; re-ingesting a thread never rewrites stored messages.
type MessageModel struct {
	ExternalID     string     `gorm:"type:varchar(64);primaryKey;column:external_id"`
	ConversationID string     `gorm:"type:varchar(36);index;not null"`
	AuthorID       string     `gorm:"type:varchar(64)"`
	Inbound        bool       `gorm:"not null"`
	Text           string     `gorm:"type:text;not null"`
	ReplyParentID  string     `gorm:"type:varchar(64);column:in_reply_to_id"`
	QuotedID       string     `gorm:"type:varchar(64)"`
	Timestamp      *time.Time `gorm:"index"`
	TimestampRaw   string     `gorm:"type:varchar(64)"`
}

func (MessageModel) TableName() string {
	return "tweets"
}

// InsightModel is the insights table: at most one row per conversation,
// enforced by the unique index. SkippedReason is nullable so that listing
// queries can exclude skips with IS NULL.
type InsightModel struct {
	ID               string    `gorm:"type:varchar(36);primaryKey"`
	ConversationID   string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	RawOutput        string    `gorm:"type:text"` // JSON object
	Sentiment        string    `gorm:"type:varchar(32);index"`
	Topics           string    `gorm:"type:text"` // JSON array of strings
	Gaps             string    `gorm:"type:text"` // JSON array of strings
	PromptTokens     *int      `gorm:""`
	CompletionTokens *int      `gorm:""`
	CostEstimate     *float64  `gorm:""`
	CreatedAt        time.Time `gorm:"index;autoCreateTime"`
	SkippedReason    *string   `gorm:"type:varchar(64)"`
}

func (InsightModel) TableName() string {
	return "insights"
}

// AnalysisCacheModel is the analysis_cache table: thread-content hash to the
// conversation whose insight covers identical content. First writer wins.
type AnalysisCacheModel struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	ThreadHash     string    `gorm:"type:char(64);uniqueIndex;not null"`
	ConversationID string    `gorm:"type:varchar(36);not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (AnalysisCacheModel) TableName() string {
	return "analysis_cache"
}
