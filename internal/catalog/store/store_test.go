package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/egdb/catalog-mirror/internal/catalog/schema"
)

func TestStore_SaveLoad(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "database"))

	got, err := s.Load("missing")
	if err != nil || got != nil {
		t.Fatalf("Load(missing) = %v, %v; want nil, nil", got, err)
	}

	item := &schema.Item{ID: "abc", Namespace: "ns", Title: "First"}
	if err := s.Save(item); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	item.Title = "Second"
	if err := s.Save(item); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	got, err = s.Load("abc")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.Title != "Second" {
		t.Errorf("Title = %q, want Second (last write wins)", got.Title)
	}

	if err := s.Delete("abc"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete("abc"); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
}

func TestStore_LoadMalformed(t *testing.T) {
	s := New(t.TempDir())
	if err := os.MkdirAll(s.ItemsDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.ItemsDir(), "bad.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load("bad"); !errors.Is(err, schema.ErrMalformedItem) {
		t.Errorf("Load(bad) error = %v, want ErrMalformedItem", err)
	}
	if _, err := s.Load("../escape"); err == nil {
		t.Error("Load() accepted a path-like id")
	}
}

func TestStore_Each(t *testing.T) {
	s := New(t.TempDir())
	for _, id := range []string{"b", "a", "c"} {
		if err := s.Save(&schema.Item{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.ItemsDir(), "broken.json"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.ItemsDir(), "README.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var ids, malformed []string
	err := s.Each(func(item *schema.Item) error {
		ids = append(ids, item.ID)
		return nil
	}, func(name string, err error) {
		malformed = append(malformed, name)
	})
	if err != nil {
		t.Fatalf("Each() failed: %v", err)
	}

	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("ids = %v, want [a b c]", ids)
	}
	if len(malformed) != 1 || malformed[0] != "broken.json" {
		t.Errorf("malformed = %v", malformed)
	}
}

func TestStore_EachOnMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nothing"))
	calls := 0
	if err := s.Each(func(*schema.Item) error { calls++; return nil }, nil); err != nil {
		t.Fatalf("Each() failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("Each() visited %d items in a missing directory", calls)
	}
}

func TestStore_WriteReadJSON(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "db"))
	in := map[string][]string{"ns": {"a", "b"}}
	if err := s.WriteJSON("namespaces.json", in); err != nil {
		t.Fatalf("WriteJSON() failed: %v", err)
	}
	var out map[string][]string
	if err := s.ReadJSON("namespaces.json", &out); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	if len(out["ns"]) != 2 {
		t.Errorf("read back %v", out)
	}
}
