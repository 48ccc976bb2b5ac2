package search

import (
	"testing"

	"github.com/egdb/catalog-mirror/internal/catalog/index"
)

var catalog = []index.TitleEntry{
	{ID: "a1", Title: "Rocket League"},
	{ID: "b2", Title: "Fortnite"},
	{ID: "c3", Title: "Rocket Arena"},
	{ID: "d4", Title: "Dead Island"},
}

// TestTitles compares hit sets; ordering among equal matches is left to the scorer.
func TestTitles(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		limit   int
		wantIDs []string
	}{
		{name: "empty query", query: "  ", wantIDs: nil},
		{name: "case insensitive", query: "FORTNITE", wantIDs: []string{"b2"}},
		{name: "subsequence", query: "rckt", wantIDs: []string{"a1", "c3"}},
		{name: "no match", query: "zzz", wantIDs: nil},
		{name: "exact id", query: "d4", wantIDs: []string{"d4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Titles(catalog, tt.query, tt.limit)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Titles(%q) = %+v, want ids %v", tt.query, got, tt.wantIDs)
			}
			ids := make(map[string]bool)
			for _, m := range got {
				ids[m.ID] = true
			}
			for _, id := range tt.wantIDs {
				if !ids[id] {
					t.Errorf("Titles(%q) missing %s", tt.query, id)
				}
			}
		})
	}
}

func TestTitles_Limit(t *testing.T) {
	if got := Titles(catalog, "rocket", 1); len(got) != 1 {
		t.Errorf("Titles() returned %d matches, want 1", len(got))
	}
	if got := Titles(catalog, "rocket", 0); len(got) != 2 {
		t.Errorf("Titles() without limit returned %d matches, want 2", len(got))
	}
}

func TestTitles_ExactIDFirst(t *testing.T) {
	entries := append([]index.TitleEntry{{ID: "rocket", Title: "Zebra"}}, catalog...)
	got := Titles(entries, "rocket", 0)
	if len(got) != 3 || got[0].ID != "rocket" {
		t.Errorf("Titles() = %+v, want the id match first", got)
	}
}

func TestTitles_Positions(t *testing.T) {
	got := Titles(catalog, "fn", 0)
	if len(got) != 1 || got[0].ID != "b2" {
		t.Fatalf("Titles() = %+v", got)
	}
	if len(got[0].Positions) != 2 || got[0].Positions[0] != 0 {
		t.Errorf("Positions = %v", got[0].Positions)
	}
}
