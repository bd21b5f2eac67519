package entity

import "time"

// Sentiment values the analysis endpoint is expected to emit. Anything else
// is bucketed as "other" by the trends aggregation.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentMixed    = "mixed"
)

// SkippedReasonCacheHit marks an insight copied from an identical-content
// conversation instead of a fresh analysis call.
const SkippedReasonCacheHit = "cache_hit"

// Insight is the analysis result for one conversation. At most one exists per
// conversation. A non-empty SkippedReason records a decision not to call the
// analysis endpoint (pre-filter miss or cache reuse); RawOutput is empty then.
type Insight struct {
	ID               string
	ConversationID   string
	RawOutput        map[string]any
	Sentiment        string // empty = not extracted
	Topics           []string
	Gaps             []string
	PromptTokens     *int
	CompletionTokens *int
	CostEstimate     *float64
	CreatedAt        time.Time
	SkippedReason    string
}

// Skipped reports whether this insight records a skip rather than an analysis.
func (i *Insight) Skipped() bool {
	return i.SkippedReason != ""
}

// CacheEntry maps a thread-content hash to the conversation whose insight can
// be reused for identical content. First writer wins per hash.
type CacheEntry struct {
	ID             string
	ThreadHash     string
	ConversationID string
	CreatedAt      time.Time
}
