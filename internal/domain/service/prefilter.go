package service

import "fmt"

// PreFilterResult reports whether a thread is worth the analysis spend.
type PreFilterResult struct {
	Interesting bool
	Reason      string // "ok", or the failing predicate encoded as a string
}

// PreFilter is the cheap heuristic applied before any analysis call.
// Thresholds come from configuration (defaults: 2 messages, 50 chars).
type PreFilter struct {
	MinMessages   int
	MinTotalChars int
}

// Check evaluates the thread's message count and total character count.
// A miss encodes the failing predicate, e.g. "message_count_1_lt_2".
func (f PreFilter) Check(messageCount, totalChars int) PreFilterResult {
	if messageCount < f.MinMessages {
		return PreFilterResult{
			Reason: fmt.Sprintf("message_count_%d_lt_%d", messageCount, f.MinMessages),
		}
	}
	if totalChars < f.MinTotalChars {
		return PreFilterResult{
			Reason: fmt.Sprintf("total_chars_%d_lt_%d", totalChars, f.MinTotalChars),
		}
	}
	return PreFilterResult{Interesting: true, Reason: "ok"}
}

// CheckTexts evaluates a list of message texts.
func (f PreFilter) CheckTexts(texts []string) PreFilterResult {
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	return f.Check(len(texts), total)
}
