package catalog

import (
	"encoding/json"
	"time"
)

// Record is one game returned by the catalog. Only ID is guaranteed; the
// remaining fields are decoded when present and the full payload is kept in Raw.
type Record struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name,omitempty"`
	Slug             string  `json:"slug,omitempty"`
	Summary          string  `json:"summary,omitempty"`
	FirstReleaseDate int64   `json:"first_release_date,omitempty"`
	TotalRating      float64 `json:"total_rating,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps a copy of the payload.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ReleaseDate returns the first release date, or nil when unknown.
func (r Record) ReleaseDate() *time.Time {
	if r.FirstReleaseDate == 0 {
		return nil
	}
	t := time.Unix(r.FirstReleaseDate, 0).UTC()
	return &t
}

// IDRange returns the smallest and largest ID in records.
// Both are 0 for an empty slice.
func IDRange(records []Record) (minID, maxID int64) {
	for i, r := range records {
		if i == 0 || r.ID < minID {
			minID = r.ID
		}
		if i == 0 || r.ID > maxID {
			maxID = r.ID
		}
	}
	return minID, maxID
}

// countResult is one element of a multiquery count response.
type countResult struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
