package main

import (
	"context"
	"strings"
	"testing"

	"github.com/egdb/catalog-mirror/internal/catalog/diff"
	"github.com/egdb/catalog-mirror/internal/catalog/index"
	"github.com/egdb/catalog-mirror/internal/config"
	"github.com/egdb/catalog-mirror/internal/search"
	"github.com/egdb/catalog-mirror/internal/ui"
)

func TestDescribe(t *testing.T) {
	ui.SetColor(false)

	tests := []struct {
		change diff.Change
		want   string
	}{
		{diff.Change{Type: diff.TypeAddItem, To: "Alpha"}, `add:item "Alpha"`},
		{diff.Change{Type: "remove:categories", From: "games"}, `remove:categories "games"`},
		{diff.Change{Type: "update:title", From: "A", To: "B"}, `update:title "A" → "B"`},
	}
	for _, tt := range tests {
		if got := describe(tt.change); got != tt.want {
			t.Errorf("describe(%s) = %q, want %q", tt.change.Type, got, tt.want)
		}
	}
	if got := renderOp(diff.Change{Type: "update:title"}); got != "~" {
		t.Errorf("renderOp() = %q", got)
	}
}

func TestHighlight_Plain(t *testing.T) {
	ui.SetColor(false)
	m := search.Match{TitleEntry: index.TitleEntry{ID: "a", Title: "Rocket"}, Positions: []int{0, 2}}
	if got := highlight(m); got != "Rocket" {
		t.Errorf("highlight() = %q", got)
	}
}

func TestNewSink(t *testing.T) {
	t.Cleanup(func() { cfg = nil })

	tests := []struct {
		typ     string
		want    string
		wantErr bool
	}{
		{config.SinkNone, "none", false},
		{"", "none", false},
		{config.SinkHTTP, "http", false},
		{"kafka", "", true},
	}

	for _, tt := range tests {
		cfg = config.DefaultConfig()
		cfg.Sink.Type = tt.typ
		cfg.Sink.URL = "http://127.0.0.1:1/changes"

		s, closeFn, err := newSink(context.Background())
		if (err != nil) != tt.wantErr {
			t.Fatalf("newSink(%q) error = %v, wantErr %v", tt.typ, err, tt.wantErr)
		}
		if err != nil {
			if !strings.Contains(err.Error(), tt.typ) {
				t.Errorf("error %q does not name the type", err)
			}
			continue
		}
		closeFn()
		if s.Name() != tt.want {
			t.Errorf("newSink(%q).Name() = %q, want %q", tt.typ, s.Name(), tt.want)
		}
	}
}
