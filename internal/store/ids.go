package store

import (
	"strings"

	"github.com/google/uuid"
)

// NewRequestID returns a 12-hex-character request id: the first 12
// characters of a UUIDv4 with its dashes stripped, matching
// original_source's str(uuid.uuid4())[:12] (the Python form keeps the
// dash at position 8, so the Go equivalent removes dashes first to
// land on exactly 12 hex digits).
func NewRequestID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:12]
}

// NewSessionID and NewMessageID return full UUIDv4 strings; discussion
// entities are addressed less frequently than requests and gain
// nothing from truncation.
func NewSessionID() string { return uuid.NewString() }
func NewMessageID() string { return uuid.NewString() }
