package daemon

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/db"
	"github.com/egdb/catalog-mirror/internal/catalog/schema"
	"github.com/egdb/catalog-mirror/internal/catalog/store"
	"github.com/fsnotify/fsnotify"
)

func setupTest(t *testing.T) (*db.DB, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	s := store.New(filepath.Join(dir, "database"))
	if err := os.MkdirAll(s.ItemsDir(), 0755); err != nil {
		t.Fatal(err)
	}
	return database, s
}

func writeItem(t *testing.T, s *store.Store, id, title string) {
	t.Helper()
	if err := schema.WriteItemFile(s.ItemsDir(), &schema.Item{ID: id, Namespace: "ns", Title: title}); err != nil {
		t.Fatalf("WriteItemFile() failed: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func titleOf(database *db.DB, id string) string {
	row, err := database.GetItemByID(id)
	if err != nil {
		return ""
	}
	return row.Title
}

func startDaemon(t *testing.T, database *db.DB, s *store.Store) *Daemon {
	t.Helper()

	d, err := New(database, s, &Config{
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	select {
	case <-d.Ready():
	case err := <-done:
		t.Fatalf("Start() exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}
	return d
}

func TestNew_RequiresCollaborators(t *testing.T) {
	database, s := setupTest(t)
	if _, err := New(nil, s, nil); err == nil {
		t.Error("New() accepted a nil db")
	}
	if _, err := New(database, nil, nil); err == nil {
		t.Error("New() accepted a nil store")
	}
}

func TestPerformFullSync(t *testing.T) {
	database, s := setupTest(t)
	writeItem(t, s, "a", "Alpha")
	writeItem(t, s, "b", "Beta")
	if err := os.WriteFile(filepath.Join(s.ItemsDir(), "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := New(database, s, &Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.PerformFullSync(context.Background()); err != nil {
		t.Fatalf("PerformFullSync() failed: %v", err)
	}

	n, err := database.GetItemCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("item count = %d, want 2", n)
	}
}

func TestDaemon_MirrorsFileChanges(t *testing.T) {
	database, s := setupTest(t)
	writeItem(t, s, "existing", "Existing")

	startDaemon(t, database, s)

	if got := titleOf(database, "existing"); got != "Existing" {
		t.Fatalf("initial sync title = %q", got)
	}

	writeItem(t, s, "fresh", "Fresh")
	waitFor(t, "created item", func() bool { return titleOf(database, "fresh") == "Fresh" })

	writeItem(t, s, "fresh", "Renamed")
	waitFor(t, "modified item", func() bool { return titleOf(database, "fresh") == "Renamed" })

	if err := s.Delete("existing"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "deleted item", func() bool {
		_, err := database.GetItemByID("existing")
		return errors.Is(err, sql.ErrNoRows)
	})
}

func TestDaemon_CoalescesBursts(t *testing.T) {
	database, s := setupTest(t)

	applied := make(chan int, 64)
	d, err := New(database, s, &Config{
		DebounceInterval: time.Hour,
		Logger:           log.New(io.Discard, "", 0),
		OnApplied:        func(up, del int) { applied <- up + del },
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		d.queueChange(FileEvent{Path: filepath.Join(s.ItemsDir(), "x.json"), ID: "x", Op: OpModify})
	}
	writeItem(t, s, "x", "Final")

	d.applyPending(context.Background(), false)
	if titleOf(database, "x") != "" {
		t.Fatal("change applied before the debounce elapsed")
	}

	d.applyPending(context.Background(), true)
	if got := <-applied; got != 1 {
		t.Errorf("applied %d changes, want 1", got)
	}
	if got := titleOf(database, "x"); got != "Final" {
		t.Errorf("title = %q, want Final", got)
	}
}

func TestItemID(t *testing.T) {
	tests := []struct {
		path   string
		wantID string
		wantOK bool
	}{
		{"/db/items/abc.json", "abc", true},
		{"/db/items/.abc.json.tmp-123", "", false},
		{"/db/items/.hidden.json", "", false},
		{"/db/items/notes.txt", "", false},
		{"/db/items/.json", "", false},
	}

	for _, tt := range tests {
		id, ok := ItemID(tt.path)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("ItemID(%q) = %q, %v; want %q, %v", tt.path, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestConvertEvent(t *testing.T) {
	fw := &FileWatcher{itemsDir: "/db/items"}

	tests := []struct {
		name   string
		event  fsnotify.Event
		wantOp EventOp
		wantOK bool
	}{
		{"create", fsnotify.Event{Name: "/db/items/a.json", Op: fsnotify.Create}, OpCreate, true},
		{"write", fsnotify.Event{Name: "/db/items/a.json", Op: fsnotify.Write}, OpModify, true},
		{"remove", fsnotify.Event{Name: "/db/items/a.json", Op: fsnotify.Remove}, OpDelete, true},
		{"rename", fsnotify.Event{Name: "/db/items/a.json", Op: fsnotify.Rename}, OpDelete, true},
		{"chmod", fsnotify.Event{Name: "/db/items/a.json", Op: fsnotify.Chmod}, 0, false},
		{"temp file", fsnotify.Event{Name: "/db/items/.a.json.tmp-1", Op: fsnotify.Create}, 0, false},
		{"other dir", fsnotify.Event{Name: "/db/a.json", Op: fsnotify.Create}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := fw.convertEvent(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (ev.Op != tt.wantOp || ev.ID != "a") {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}
