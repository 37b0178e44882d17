package todo

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    Item
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid item",
			item: Item{Name: "Buy milk"},
		},
		{
			name:    "missing name",
			item:    Item{Done: true},
			wantErr: true,
			errMsg:  "name is required",
		},
		{
			name:    "name too long",
			item:    Item{Name: strings.Repeat("x", MaxNameLength+1)},
			wantErr: true,
			errMsg:  "name must be 255 characters or less",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestItem_SameFields(t *testing.T) {
	base := &Item{ID: "5", Name: "Buy milk", Done: true, Version: "v1", UpdatedAt: time.Now()}

	tests := []struct {
		name  string
		other *Item
		want  bool
	}{
		{"different version only", &Item{ID: "5", Name: "Buy milk", Done: true, Version: "v2"}, true},
		{"different name", &Item{ID: "5", Name: "Buy bread", Done: true, Version: "v1"}, false},
		{"different done", &Item{ID: "5", Name: "Buy milk", Done: false, Version: "v1"}, false},
		{"tombstone", &Item{ID: "5", Name: "Buy milk", Done: true, Deleted: true}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.SameFields(tt.other); got != tt.want {
				t.Errorf("SameFields() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_Match(t *testing.T) {
	now := time.Now()
	item := &Item{Name: "Buy Milk", Done: false, UpdatedAt: now}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"zero filter", Filter{}, true},
		{"open only", Filter{Done: Bool(false)}, true},
		{"done only", Filter{Done: Bool(true)}, false},
		{"name substring case-insensitive", Filter{NameContains: "milk"}, true},
		{"name mismatch", Filter{NameContains: "bread"}, false},
		{"updated after earlier", Filter{UpdatedAfter: now.Add(-time.Minute)}, true},
		{"updated after same instant", Filter{UpdatedAfter: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(item); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderBy_Sort(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []*Item{
		{LocalID: "c", Name: "Alpha", UpdatedAt: t0.Add(2 * time.Hour)},
		{LocalID: "a", Name: "Charlie", UpdatedAt: t0},
		{LocalID: "b", Name: "Bravo", UpdatedAt: t0.Add(time.Hour)},
	}

	names := func() []string {
		var out []string
		for _, it := range items {
			out = append(out, it.Name)
		}
		return out
	}

	OrderBy{Field: OrderUpdatedAt}.Sort(items)
	if diff := cmp.Diff([]string{"Charlie", "Bravo", "Alpha"}, names()); diff != "" {
		t.Errorf("updated_at order mismatch (-want +got):\n%s", diff)
	}

	OrderBy{Field: OrderName, Desc: true}.Sort(items)
	if diff := cmp.Diff([]string{"Charlie", "Bravo", "Alpha"}, names()); diff != "" {
		t.Errorf("name desc order mismatch (-want +got):\n%s", diff)
	}

	OrderBy{Field: OrderName}.Sort(items)
	if diff := cmp.Diff([]string{"Alpha", "Bravo", "Charlie"}, names()); diff != "" {
		t.Errorf("name order mismatch (-want +got):\n%s", diff)
	}
}

func TestNamedQuery_Validate(t *testing.T) {
	if err := AllItems().Validate(); err != nil {
		t.Errorf("AllItems().Validate() = %v, want nil", err)
	}
	if err := (NamedQuery{Name: "  "}).Validate(); err == nil {
		t.Error("Validate() on blank name should fail")
	}
}
