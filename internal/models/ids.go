package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NewID returns a fresh 24-character hex identifier.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// ParseID validates an identifier and returns it in canonical lower-case form.
func ParseID(id string) (string, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%w: malformed id %q", ErrInvalidInput, id)
	}
	return oid.Hex(), nil
}

// Layouts accepted for timestamps persisted as strings.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a creation date stored as text. Both accepted
// layouts carry no zone and are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q: %w", s, lastErr)
}
