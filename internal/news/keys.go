package news

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key prefixes. Changing them, or the normalization below, orphans every key
// already persisted by a running deployment.
const (
	rssKeyPrefix  = "RSS|"
	chatKeyPrefix = "AI|"
)

// RSSKey derives the dedup key of a feed entry from its title and link.
// Titles match case-insensitively; links match exactly.
func RSSKey(title, link string) string {
	return rssKeyPrefix + strings.ToLower(strings.TrimSpace(title)) + "|" + link
}

// ChatKey derives the dedup key of a chat item from its rewritten text.
func ChatKey(rewritten string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(rewritten))))
	return chatKeyPrefix + hex.EncodeToString(sum[:])
}
