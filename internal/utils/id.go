package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed random identifier, e.g. "msg-3f2a...".
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// ShortID returns the first 8 characters of an identifier for display.
func ShortID(id string) string {
	if i := strings.Index(id, "-"); i > 0 && i < 8 {
		id = id[i+1:]
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
