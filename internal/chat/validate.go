package chat

import (
	"bytes"
	"encoding/json"
	"strings"
)

// MaxContentBytes bounds a message body as it appears JSON-escaped inside
// the change feed's NOTIFY payload, which Postgres caps at 8000 bytes.
const MaxContentBytes = 4000

// NormalizeContent trims surrounding whitespace and rejects empty or
// oversized content.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", validationError("message content is empty")
	}
	if len(trimmed) > MaxContentBytes || escapedLen(trimmed) > MaxContentBytes {
		return "", validationError("message content exceeds %d bytes", MaxContentBytes)
	}
	return trimmed, nil
}

// escapedLen is the length of s as a JSON string body, without quotes.
// encoding/json escapes at least as much as Postgres row_to_json does.
func escapedLen(s string) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return len(s)
	}
	// Encode writes the quotes and a trailing newline.
	return buf.Len() - 3
}

// ValidateAppend checks an append request before any store write.
func ValidateAppend(in AppendInput) (AppendInput, error) {
	if in.ConversationID == "" {
		return in, validationError("conversation id is required")
	}
	if in.SenderID == "" {
		return in, validationError("sender id is required")
	}
	content, err := NormalizeContent(in.Content)
	if err != nil {
		return in, err
	}
	in.Content = content
	return in, nil
}
