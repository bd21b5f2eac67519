package service

import (
	"strings"
	"time"

	"github.com/threadsight/threadsight/internal/domain/entity"
)

// TabularTimeFormat is the fixed timestamp layout of the tabular (twcs.csv)
// source, e.g. "Tue Oct 31 22:10:47 +0000 2017".
const TabularTimeFormat = "Mon Jan 02 15:04:05 -0700 2006"

// NoTextPlaceholder replaces missing message text so stored text is never empty.
const NoTextPlaceholder = "(no text)"

// ParseTabularTime parses a tabular-source timestamp. Returns nil when the
// string is empty or does not match the fixed format; callers keep the raw
// string in that case.
func ParseTabularTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(TabularTimeFormat, raw)
	if err != nil {
		return nil
	}
	return &t
}

// ParseInbound interprets a string-sourced inbound flag. The truthy token set
// is {"true", "1", "yes"}, case-insensitive; everything else is false.
func ParseInbound(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// NormalizeText ensures message text is never empty.
func NormalizeText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return NoTextPlaceholder
	}
	return text
}

// NormalizeMessage fills the derived fields of a canonical message: placeholder
// text and a timestamp recovered from the raw string (falling back to now so
// stored rows always carry a timestamp for thread ordering).
func NormalizeMessage(msg entity.Message) entity.Message {
	msg.Text = NormalizeText(msg.Text)
	if msg.Timestamp == nil && msg.TimestampRaw != "" {
		msg.Timestamp = ParseTabularTime(msg.TimestampRaw)
	}
	if msg.Timestamp == nil {
		now := time.Now().UTC()
		msg.Timestamp = &now
	}
	return msg
}

// NormalizeMessages normalizes a whole list.
func NormalizeMessages(messages []entity.Message) []entity.Message {
	out := make([]entity.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, NormalizeMessage(m))
	}
	return out
}

// RootExternalID infers the thread root: the message whose external id is not
// named by any reply-parent id in the list. Ties are broken by list order;
// when no message qualifies, the first message's id is the root. Returns ""
// for an empty list.
func RootExternalID(messages []entity.Message) string {
	if len(messages) == 0 {
		return ""
	}
	replyTargets := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if m.ReplyParentID != "" {
			replyTargets[m.ReplyParentID] = struct{}{}
		}
	}
	for _, m := range messages {
		if m.ExternalID == "" {
			continue
		}
		if _, isTarget := replyTargets[m.ExternalID]; !isTarget {
			return m.ExternalID
		}
	}
	return messages[0].ExternalID
}
