package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/egdb/catalog-mirror/internal/catalog/diff"
	"github.com/egdb/catalog-mirror/internal/catalog/schema"
)

// openTestDB opens a database in a temp dir with the schema initialised.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func TestInitSchema_CreatesTables(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"items", "changes"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestUpsertItem(t *testing.T) {
	db := openTestDB(t)

	item := &schema.Item{
		ID:           "abc",
		Namespace:    "ns",
		Title:        "Game",
		Developer:    "Dev",
		CreationDate: "1970-01-01T00:01:00Z",
		Categories:   []schema.Category{{Path: "games"}, {Path: "applications"}},
	}
	if err := db.UpsertItem(item); err != nil {
		t.Fatalf("UpsertItem() failed: %v", err)
	}

	item.Title = "Game Renamed"
	if err := db.UpsertItem(item); err != nil {
		t.Fatalf("second UpsertItem() failed: %v", err)
	}

	count, err := db.GetItemCount()
	if err != nil {
		t.Fatalf("GetItemCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("GetItemCount() = %d, want 1", count)
	}

	row, err := db.GetItemByID("abc")
	if err != nil {
		t.Fatalf("GetItemByID() failed: %v", err)
	}
	if row.Title != "Game Renamed" || row.CreatedUnix != 60 || len(row.Categories) != 2 {
		t.Errorf("row = %+v", row)
	}

	doc, err := db.GetItemRaw(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetItemRaw() failed: %v", err)
	}
	if doc.Developer != "Dev" {
		t.Errorf("raw Developer = %q", doc.Developer)
	}

	if err := db.UpsertItem(&schema.Item{}); err == nil {
		t.Error("UpsertItem() accepted an item without id")
	}
}

func TestDeleteItem(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpsertItem(&schema.Item{ID: "gone", Namespace: "ns"}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteItem("gone"); err != nil {
		t.Fatalf("DeleteItem() failed: %v", err)
	}
	if _, err := db.GetItemByID("gone"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetItemByID() after delete error = %v, want sql.ErrNoRows", err)
	}
	if err := db.DeleteItem("gone"); err != nil {
		t.Errorf("DeleteItem() on missing row failed: %v", err)
	}
}

func TestNamespaceQueries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, it := range []*schema.Item{
		{ID: "1", Namespace: "a", Title: "Zeta"},
		{ID: "2", Namespace: "a", Title: "Alpha"},
		{ID: "3", Namespace: "b", Title: "Beta"},
	} {
		if err := db.UpsertItem(it); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := db.ItemsByNamespace(ctx, "a")
	if err != nil {
		t.Fatalf("ItemsByNamespace() failed: %v", err)
	}
	if len(rows) != 2 || rows[0].Title != "Alpha" {
		t.Errorf("ItemsByNamespace(a) = %+v", rows)
	}

	counts, err := db.NamespaceCounts(ctx, 0)
	if err != nil {
		t.Fatalf("NamespaceCounts() failed: %v", err)
	}
	if len(counts) != 2 || counts[0].Namespace != "a" || counts[0].Items != 2 {
		t.Errorf("NamespaceCounts() = %+v", counts)
	}

	top, err := db.NamespaceCounts(ctx, 1)
	if err != nil || len(top) != 1 {
		t.Errorf("NamespaceCounts(limit 1) = %+v, %v", top, err)
	}
}

func TestInsertAndListChanges(t *testing.T) {
	db := openTestDB(t)

	var cl diff.Changelist
	cl.Merge(diff.NamespaceChanges{Namespace: "ns", Changes: []diff.Change{
		{Type: "update:title", Item: "abc", From: "A", To: "B", UpdatedAt: "2024-01-01T00:00:00Z"},
		{Type: "add:eulaId", Item: "abc", To: "egstore"},
	}})
	cl.Merge(diff.NamespaceChanges{Namespace: "other", Changes: []diff.Change{
		{Type: diff.TypeAddItem, Item: "xyz", To: "New"},
	}})

	if err := db.InsertChanges("run-1", cl); err != nil {
		t.Fatalf("InsertChanges() failed: %v", err)
	}
	if err := db.InsertChanges("run-2", diff.Changelist{}); err != nil {
		t.Fatalf("InsertChanges() with empty changelist failed: %v", err)
	}

	count, err := db.GetChangeCount()
	if err != nil || count != 3 {
		t.Fatalf("GetChangeCount() = %d, %v; want 3", count, err)
	}

	tests := []struct {
		name   string
		filter ListChangesFilter
		want   int
	}{
		{name: "all", filter: ListChangesFilter{}, want: 3},
		{name: "by run", filter: ListChangesFilter{RunID: "run-1"}, want: 3},
		{name: "by namespace", filter: ListChangesFilter{Namespace: "ns"}, want: 2},
		{name: "by item", filter: ListChangesFilter{ItemID: "xyz"}, want: 1},
		{name: "by prefix", filter: ListChangesFilter{TypePrefix: "add:"}, want: 2},
		{name: "limit", filter: ListChangesFilter{Limit: 1}, want: 1},
		{name: "offset", filter: ListChangesFilter{Offset: 2}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := db.ListChanges(tt.filter)
			if err != nil {
				t.Fatalf("ListChanges() failed: %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("ListChanges() returned %d rows, want %d", len(rows), tt.want)
			}
		})
	}

	rows, err := db.ListChanges(ListChangesFilter{Namespace: "ns"})
	if err != nil {
		t.Fatal(err)
	}
	// newest first
	if rows[0].Type != "add:eulaId" || string(rows[0].From) != "null" || string(rows[0].To) != `"egstore"` {
		t.Errorf("newest change = %+v", rows[0])
	}
	if string(rows[1].From) != `"A"` || rows[1].UpdatedAt != "2024-01-01T00:00:00Z" {
		t.Errorf("title change = %+v", rows[1])
	}
}

func TestValueToNullString(t *testing.T) {
	ns, err := valueToNullString(nil)
	if err != nil || ns.Valid {
		t.Errorf("valueToNullString(nil) = %+v, %v; want NULL", ns, err)
	}

	ns, err = valueToNullString([]string{"p1", "p2"})
	if err != nil {
		t.Fatalf("valueToNullString() failed: %v", err)
	}
	if !ns.Valid || ns.String != `["p1","p2"]` {
		t.Errorf("valueToNullString() = %+v", ns)
	}

	if _, err := valueToNullString(make(chan int)); err == nil {
		t.Error("valueToNullString() accepted a value JSON cannot encode")
	}
}
