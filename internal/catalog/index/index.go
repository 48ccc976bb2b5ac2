// Package index derives the secondary index files from the item store.
package index

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/db"
	"github.com/egdb/catalog-mirror/internal/catalog/schema"
	"github.com/egdb/catalog-mirror/internal/catalog/store"
)

// Index file names under the database root.
const (
	NamespacesFile = "namespaces.json"
	TitlesFile     = "titles.json"
	ListFile       = "list.json"
)

// TitleEntry is one element of titles.json.
type TitleEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Row is one positional tuple of list.json:
// [id, namespace, title, [category paths], developer, createdUnix, modifiedUnix]
type Row [7]any

// NewRow builds the list.json tuple for item.
func NewRow(item *schema.Item) Row {
	return Row{
		item.ID,
		item.Namespace,
		item.Title,
		item.CategoryPaths(),
		item.Developer,
		item.CreationUnix(),
		item.LastModifiedUnix(),
	}
}

// Result summarises one indexing pass.
type Result struct {
	Items      int
	Malformed  int
	Namespaces int
	DBFailed   int
	Duration   time.Duration
}

// Indexer performs the full pass over the item store.
type Indexer struct {
	store  *store.Store
	db     *db.DB
	logger *log.Logger
}

// New creates an Indexer. database may be nil, in which case only the JSON
// index files are written. If logger is nil, a default logger writing to
// stderr is used.
func New(s *store.Store, database *db.DB, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = log.New(os.Stderr, "[index] ", log.LstdFlags)
	}
	return &Indexer{store: s, db: database, logger: logger}
}

// Run reads every stored item once and writes namespaces.json, titles.json
// and list.json. Items that fail to parse are logged and skipped. When a
// database is attached each item is also upserted; individual upsert
// failures are logged and counted but don't stop the pass.
func (ix *Indexer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	ix.logger.Printf("Indexing %s", ix.store.ItemsDir())

	res := &Result{}
	namespaces := make(map[string][]string)
	titles := make([]TitleEntry, 0)
	list := make([]Row, 0)

	err := ix.store.Each(func(item *schema.Item) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if item.Namespace != "" {
			namespaces[item.Namespace] = append(namespaces[item.Namespace], item.ID)
		}
		titles = append(titles, TitleEntry{ID: item.ID, Title: item.Title})
		list = append(list, NewRow(item))
		res.Items++

		if ix.db != nil {
			if err := ix.db.UpsertItemContext(ctx, item); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				ix.logger.Printf("WARNING: Failed to mirror item %s: %v", item.ID, err)
				res.DBFailed++
			}
		}
		return nil
	}, func(name string, err error) {
		ix.logger.Printf("WARNING: Skipping malformed item %s: %v", name, err)
		res.Malformed++
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index items: %w", err)
	}

	if err := ix.store.WriteJSON(NamespacesFile, namespaces); err != nil {
		return nil, err
	}
	if err := ix.store.WriteJSON(TitlesFile, titles); err != nil {
		return nil, err
	}
	if err := ix.store.WriteJSON(ListFile, list); err != nil {
		return nil, err
	}

	res.Namespaces = len(namespaces)
	res.Duration = time.Since(start)
	ix.logger.Printf("Index complete: items=%d (malformed=%d), namespaces=%d, db failures=%d",
		res.Items, res.Malformed, res.Namespaces, res.DBFailed)
	return res, nil
}

// ReadTitles loads titles.json from the store.
func ReadTitles(s *store.Store) ([]TitleEntry, error) {
	var titles []TitleEntry
	if err := s.ReadJSON(TitlesFile, &titles); err != nil {
		return nil, err
	}
	return titles, nil
}
