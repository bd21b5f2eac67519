package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ThreadHash fingerprints thread content for analysis dedup: SHA-256 hex of
// the trimmed message texts joined by newline, with the join itself trimmed.
// Order matters — two threads alias only when their ordered, whitespace-
// normalized messages are identical.
func ThreadHash(texts []string) string {
	trimmed := make([]string, 0, len(texts))
	for _, t := range texts {
		trimmed = append(trimmed, strings.TrimSpace(t))
	}
	normalized := strings.TrimSpace(strings.Join(trimmed, "\n"))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
