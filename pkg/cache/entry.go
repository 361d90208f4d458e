package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the envelope stored in Redis for every value.
type Entry struct {
	// Data is the JSON-encoded value.
	Data json.RawMessage `json:"data"`

	// StoredAt is when the value was written.
	StoredAt time.Time `json:"stored_at"`

	// Expires is when the value becomes stale. Zero means no expiry.
	Expires time.Time `json:"expires,omitempty"`
}

// NewEntry encodes value into an Entry. A ttl of 0 stores without expiry.
func NewEntry(value any, ttl time.Duration) (*Entry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		Data:     data,
		StoredAt: now,
	}
	if ttl > 0 {
		entry.Expires = now.Add(ttl)
	}
	return entry, nil
}

// Decode unmarshals the stored value into dst.
func (e *Entry) Decode(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// IsExpired returns true if the entry has an expiry that has passed.
func (e *Entry) IsExpired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 for entries without expiry and for expired entries.
func (e *Entry) TTL() time.Duration {
	if e.Expires.IsZero() {
		return 0
	}
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
