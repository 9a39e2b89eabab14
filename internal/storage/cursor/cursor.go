// Package cursor provides opaque pagination token encoding/decoding.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor is the position after which the next page starts. Listings are
// ordered by (started_at, id), so the pair identifies a row uniquely.
type Cursor struct {
	// StartedAt is the started_at of the last row served, in Unix milliseconds.
	StartedAt int64 `json:"started_at"`
	// ID is the id of the last row served.
	ID string `json:"id"`
	// FilterHash ensures tokens are invalidated if the filter changes.
	FilterHash string `json:"filter_hash,omitempty"`
}

// New creates a cursor positioned after the row (startedAt, id).
func New(startedAt time.Time, id, filter string) Cursor {
	return Cursor{
		StartedAt:  startedAt.UTC().UnixMilli(),
		ID:         id,
		FilterHash: HashFilter(filter),
	}
}

// Time returns the cursor's started_at as a UTC time.
func (c Cursor) Time() time.Time {
	return time.UnixMilli(c.StartedAt).UTC()
}

// Encode encodes a cursor to an opaque base64 string.
func Encode(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// Decode decodes an opaque base64 string to a cursor.
// Returns an error if the token is invalid or malformed.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("empty token")
	}

	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode base64: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal cursor: %w", err)
	}
	if strings.TrimSpace(c.ID) == "" {
		return Cursor{}, fmt.Errorf("cursor id is required")
	}

	return c, nil
}

// HashFilter computes a short hash of the filter string for cursor validation.
// Returns empty string for empty filter.
func HashFilter(filter string) string {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return ""
	}
	h := sha256.Sum256([]byte(filter))
	return hex.EncodeToString(h[:8])
}

// ValidateFilterHash checks if the cursor's filter hash matches the current filter.
// Returns an error if the filter has changed since the cursor was created.
func ValidateFilterHash(c Cursor, currentFilter string) error {
	if c.FilterHash != HashFilter(currentFilter) {
		return fmt.Errorf("filter changed since cursor was created")
	}
	return nil
}
