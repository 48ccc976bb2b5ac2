// Package store persists catalog items as one JSON file per item and writes
// the derived index files next to them.
//
// Layout:
//
//	database/
//	  items/<id>.json
//	  namespaces.json
//	  titles.json
//	  list.json
//	  tracking-stats.json
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/egdb/catalog-mirror/internal/catalog/schema"
)

// DefaultRoot is the default database directory.
const DefaultRoot = "database"

// ItemsDirName is the directory under the root holding item files.
const ItemsDirName = "items"

// Store is the on-disk item snapshot store.
type Store struct {
	root string
}

// New creates a store rooted at root. The directory is created on first write.
func New(root string) *Store {
	if root == "" {
		root = DefaultRoot
	}
	return &Store{root: root}
}

// Root returns the database directory.
func (s *Store) Root() string {
	return s.root
}

// ItemsDir returns the directory holding item files.
func (s *Store) ItemsDir() string {
	return filepath.Join(s.root, ItemsDirName)
}

// Path returns the path of a file directly under the root.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Load returns the stored snapshot of id. A missing file yields nil, nil;
// an unreadable document yields an error wrapping schema.ErrMalformedItem.
func (s *Store) Load(id string) (*schema.Item, error) {
	probe := &schema.Item{ID: id}
	if err := probe.Validate(); err != nil {
		return nil, fmt.Errorf("invalid item id: %w", err)
	}

	item, err := schema.ReadItemFile(filepath.Join(s.ItemsDir(), probe.Filename()))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

// Save writes item, atomically replacing any previous snapshot.
func (s *Store) Save(item *schema.Item) error {
	return schema.WriteItemFile(s.ItemsDir(), item)
}

// Delete removes the snapshot of id. Missing files are not an error.
func (s *Store) Delete(id string) error {
	probe := &schema.Item{ID: id}
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("invalid item id: %w", err)
	}
	err := os.Remove(filepath.Join(s.ItemsDir(), probe.Filename()))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

// ItemFiles returns the names of all item files in lexical order.
// Non-JSON entries and directories are skipped.
func (s *Store) ItemFiles() ([]string, error) {
	entries, err := os.ReadDir(s.ItemsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read items directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Each calls fn for every stored item in file-name order. Files that fail to
// parse are passed to onMalformed (if non-nil) and skipped. Iteration stops at
// the first error returned by fn.
func (s *Store) Each(fn func(*schema.Item) error, onMalformed func(name string, err error)) error {
	names, err := s.ItemFiles()
	if err != nil {
		return err
	}

	for _, name := range names {
		item, err := schema.ReadItemFile(filepath.Join(s.ItemsDir(), name))
		if err != nil {
			if onMalformed != nil {
				onMalformed(name, err)
			}
			continue
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes v as indented JSON to root/name, replacing it atomically.
func (s *Store) WriteJSON(name string, v any) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return schema.WriteFileAtomic(s.Path(name), data)
}

// ReadJSON decodes root/name into v.
func (s *Store) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}
