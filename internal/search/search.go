// Package search ranks catalog titles against a free-text query.
package search

import (
	"strings"

	"github.com/egdb/catalog-mirror/internal/catalog/index"
	"github.com/sahilm/fuzzy"
)

// Match is a ranked hit.
type Match struct {
	index.TitleEntry
	Score int `json:"score"`
	// Positions are the byte offsets of the matched characters in Title.
	Positions []int `json:"positions,omitempty"`
}

// titles adapts entries to fuzzy.Source, matching case-insensitively.
type titles []index.TitleEntry

func (t titles) String(i int) string { return strings.ToLower(t[i].Title) }
func (t titles) Len() int            { return len(t) }

// Titles returns the entries whose title fuzzy-matches query, best first.
// An item id typed exactly is always returned first. limit <= 0 means no limit.
func Titles(entries []index.TitleEntry, query string, limit int) []Match {
	query = strings.TrimSpace(query)
	if query == "" || len(entries) == 0 {
		return nil
	}

	var out []Match
	exact := -1
	for i, e := range entries {
		if e.ID == query {
			exact = i
			out = append(out, Match{TitleEntry: e})
			break
		}
	}

	for _, m := range fuzzy.FindFrom(strings.ToLower(query), titles(entries)) {
		if m.Index == exact {
			continue
		}
		out = append(out, Match{
			TitleEntry: entries[m.Index],
			Score:      m.Score,
			Positions:  m.MatchedIndexes,
		})
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
