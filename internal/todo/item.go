// Package todo defines the record type synchronized between the local
// replica and the remote table, plus the filters used to query both.
package todo

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxNameLength bounds Item.Name.
const MaxNameLength = 255

// Item is a versioned todo record.
//
// LocalID is the key of the record in the local store and never leaves the
// device. ID is the remote identity; it stays empty until the remote table
// accepts the first insert, so an Item with an empty ID has never been
// durably persisted remotely.
type Item struct {
	// ===== Identity =====
	LocalID string `json:"local_id,omitempty" yaml:"local_id,omitempty"`
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`

	// ===== Domain fields =====
	Name string `json:"name" yaml:"name"`
	Done bool   `json:"done" yaml:"done"`

	// ===== Concurrency (assigned by the remote) =====
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	Version   string    `json:"version,omitempty" yaml:"version,omitempty"`

	// Deleted marks a remote tombstone. Local records are never stored with
	// this flag set; pull deletes them instead.
	Deleted bool `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// Validate checks the domain fields.
func (i *Item) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(i.Name) > MaxNameLength {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxNameLength, len(i.Name))
	}
	return nil
}

// SameFields reports whether both items carry the same domain fields.
// Identity, timestamps and version tokens are ignored.
func (i *Item) SameFields(other *Item) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.Name == other.Name && i.Done == other.Done && i.Deleted == other.Deleted
}

// Persisted reports whether the remote has ever accepted this item.
func (i *Item) Persisted() bool {
	return i.ID != ""
}

// Clone returns a copy that can be mutated independently.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// String renders the item for logs and conflict prompts.
func (i *Item) String() string {
	state := "open"
	if i.Done {
		state = "done"
	}
	if i.Deleted {
		state = "deleted"
	}
	id := i.ID
	if id == "" {
		id = "(unsynced)"
	}
	return fmt.Sprintf("%s %q [%s] version=%s", id, i.Name, state, i.Version)
}

// MarshalJSONL encodes the item as one line of JSON.
func (i *Item) MarshalJSONL() ([]byte, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item %s: %w", i.LocalID, err)
	}
	return append(data, '\n'), nil
}
