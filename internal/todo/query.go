package todo

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Filter selects items. The zero value matches everything.
//
// Filter is plain data so the same value can be evaluated locally and sent
// to the remote table as the predicate of an incremental pull.
type Filter struct {
	// Done restricts to completed (true) or open (false) items when set.
	Done *bool `json:"done,omitempty" mapstructure:"done"`
	// NameContains is a case-insensitive substring match on Name.
	NameContains string `json:"name_contains,omitempty" mapstructure:"name_contains"`
	// UpdatedAfter keeps items modified strictly after this instant.
	UpdatedAfter time.Time `json:"updated_after,omitempty" mapstructure:"updated_after"`
}

// Match reports whether item satisfies the filter.
func (f Filter) Match(item *Item) bool {
	if item == nil {
		return false
	}
	if f.Done != nil && item.Done != *f.Done {
		return false
	}
	if f.NameContains != "" && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if !f.UpdatedAfter.IsZero() && !item.UpdatedAt.After(f.UpdatedAfter) {
		return false
	}
	return true
}

// OrderField names a sortable column.
type OrderField string

const (
	// OrderUpdatedAt sorts by last modification time.
	OrderUpdatedAt OrderField = "updated_at"
	// OrderName sorts alphabetically.
	OrderName OrderField = "name"
)

// OrderBy describes a sort.
type OrderBy struct {
	Field OrderField `json:"field"`
	Desc  bool       `json:"desc,omitempty"`
}

// Validate rejects unknown sort fields.
func (o OrderBy) Validate() error {
	switch o.Field {
	case "", OrderUpdatedAt, OrderName:
		return nil
	default:
		return fmt.Errorf("unknown order field %q", o.Field)
	}
}

// Sort orders items in place. Ties fall back to LocalID then ID so results
// are deterministic.
func (o OrderBy) Sort(items []*Item) {
	less := func(a, b *Item) bool {
		switch o.Field {
		case OrderName:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		default:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		}
		if a.LocalID != b.LocalID {
			return a.LocalID < b.LocalID
		}
		return a.ID < b.ID
	}
	sort.SliceStable(items, func(i, j int) bool {
		if o.Desc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

// NamedQuery is a stable, labelled filter used to scope incremental pulls.
// Each name owns its own change token, so two different filters must never
// share a name. The filter selects which records a pull brings in; a local
// record that later stops matching is still updated by the pull.
type NamedQuery struct {
	Name   string `json:"name" mapstructure:"name"`
	Filter Filter `json:"filter" mapstructure:"filter"`
}

// Validate checks that the query can own a change token.
func (q NamedQuery) Validate() error {
	if strings.TrimSpace(q.Name) == "" {
		return fmt.Errorf("query name is required")
	}
	return nil
}

// AllItemsQuery is the default pull scope: every item in the remote table.
const AllItemsQuery = "allTodoItems"

// AllItems returns the default named query.
func AllItems() NamedQuery {
	return NamedQuery{Name: AllItemsQuery}
}

// Bool returns a pointer to b, for building filters.
func Bool(b bool) *bool {
	return &b
}

// PendingItems is the list shown to users: open items, oldest change first.
func PendingItems() (Filter, OrderBy) {
	return Filter{Done: Bool(false)}, OrderBy{Field: OrderUpdatedAt}
}
