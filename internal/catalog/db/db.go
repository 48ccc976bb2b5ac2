// Package db provides the SQLite query mirror of the item store.
//
// The JSON files under database/items remain the source of truth. This
// package keeps a queryable copy of them plus the history of every change
// record a run produced, so status, search and the dashboard never have to
// scan the filesystem.
//
// Architecture:
//   - Database file: .mirror/catalog.db (configurable)
//   - WAL mode: concurrent readers while the indexer or watcher writes
//   - Schema: items, changes tables
//
// Workflow:
//  1. A run fetches namespaces and writes items/*.json
//  2. The indexer pass upserts every item into the items table
//  3. The run's changelist is appended to the changes table
//  4. The watcher keeps the items table current between runs
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/diff"
	"github.com/egdb/catalog-mirror/internal/catalog/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	database, err := db.Open(".mirror/catalog.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		developer TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		created_unix INTEGER NOT NULL DEFAULT 0,
		modified_unix INTEGER NOT NULL DEFAULT 0,
		categories TEXT NOT NULL DEFAULT '[]',  -- JSON array of paths
		raw TEXT NOT NULL,                      -- item document
		indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		namespace TEXT NOT NULL,
		item_id TEXT NOT NULL,
		type TEXT NOT NULL,
		from_value TEXT,  -- JSON
		to_value TEXT,    -- JSON
		updated_at TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_namespace ON items(namespace);
	CREATE INDEX IF NOT EXISTS idx_items_title ON items(title);
	CREATE INDEX IF NOT EXISTS idx_items_modified ON items(modified_unix);

	CREATE INDEX IF NOT EXISTS idx_changes_run ON changes(run_id);
	CREATE INDEX IF NOT EXISTS idx_changes_item ON changes(item_id);
	CREATE INDEX IF NOT EXISTS idx_changes_namespace ON changes(namespace);
	CREATE INDEX IF NOT EXISTS idx_changes_type ON changes(type);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// UpsertItem inserts or updates an item row.
func (db *DB) UpsertItem(item *schema.Item) error {
	return db.UpsertItemContext(context.Background(), item)
}

// UpsertItemContext inserts or updates an item with context support.
func (db *DB) UpsertItemContext(ctx context.Context, item *schema.Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	categoriesJSON, err := json.Marshal(item.CategoryPaths())
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	query := `
	INSERT INTO items (
		id, namespace, title, developer, status,
		created_unix, modified_unix, categories, raw, indexed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		namespace = excluded.namespace,
		title = excluded.title,
		developer = excluded.developer,
		status = excluded.status,
		created_unix = excluded.created_unix,
		modified_unix = excluded.modified_unix,
		categories = excluded.categories,
		raw = excluded.raw,
		indexed_at = excluded.indexed_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		item.ID,
		item.Namespace,
		item.Title,
		item.Developer,
		item.Status,
		item.CreationUnix(),
		item.LastModifiedUnix(),
		string(categoriesJSON),
		string(raw),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}

	return nil
}

// DeleteItem removes an item row. Missing rows are not an error.
func (db *DB) DeleteItem(id string) error {
	return db.DeleteItemContext(context.Background(), id)
}

// DeleteItemContext removes an item with context support.
func (db *DB) DeleteItemContext(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

// InsertChanges appends every record of cl to the change history under runID.
func (db *DB) InsertChanges(runID string, cl diff.Changelist) error {
	return db.InsertChangesContext(context.Background(), runID, cl)
}

// InsertChangesContext appends change records with context support.
// All records are written in one transaction.
func (db *DB) InsertChangesContext(ctx context.Context, runID string, cl diff.Changelist) error {
	if cl.Empty() {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO changes (run_id, namespace, item_id, type, from_value, to_value, updated_at, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare change insert: %w", err)
	}
	defer stmt.Close()

	recordedAt := time.Now().UTC().Format(time.RFC3339)
	for _, nc := range cl.Changelist {
		for _, c := range nc.Changes {
			from, err := valueToNullString(c.From)
			if err != nil {
				return err
			}
			to, err := valueToNullString(c.To)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, runID, nc.Namespace, c.Item, c.Type, from, to, c.UpdatedAt, recordedAt); err != nil {
				return fmt.Errorf("failed to insert change %s for %s: %w", c.Type, c.Item, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetItemCount returns the number of mirrored items.
func (db *DB) GetItemCount() (int, error) {
	return db.GetItemCountContext(context.Background())
}

// GetItemCountContext returns the number of mirrored items with context support.
func (db *DB) GetItemCountContext(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

// GetChangeCount returns the number of recorded changes.
func (db *DB) GetChangeCount() (int, error) {
	return db.GetChangeCountContext(context.Background())
}

// GetChangeCountContext returns the number of recorded changes with context support.
func (db *DB) GetChangeCountContext(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM changes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get change count: %w", err)
	}
	return count, nil
}

// ItemRow is the queryable projection of a stored item.
type ItemRow struct {
	ID           string   `json:"id"`
	Namespace    string   `json:"namespace"`
	Title        string   `json:"title"`
	Developer    string   `json:"developer"`
	Status       string   `json:"status"`
	CreatedUnix  int64    `json:"createdUnix"`
	ModifiedUnix int64    `json:"modifiedUnix"`
	Categories   []string `json:"categories"`
	IndexedAt    string   `json:"indexedAt"`
}

const itemColumns = `id, namespace, title, developer, status, created_unix, modified_unix, categories, indexed_at`

// GetItemByID returns one item row. Returns sql.ErrNoRows if absent.
func (db *DB) GetItemByID(id string) (*ItemRow, error) {
	return db.GetItemByIDContext(context.Background(), id)
}

// GetItemByIDContext returns one item row with context support.
func (db *DB) GetItemByIDContext(ctx context.Context, id string) (*ItemRow, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query item %s: %w", id, err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, sql.ErrNoRows
	}
	return items[0], nil
}

// GetItemRaw returns the stored document of an item. Returns sql.ErrNoRows if absent.
func (db *DB) GetItemRaw(ctx context.Context, id string) (*schema.Item, error) {
	var raw string
	if err := db.conn.QueryRowContext(ctx, `SELECT raw FROM items WHERE id = ?`, id).Scan(&raw); err != nil {
		return nil, err
	}
	return schema.DecodeItem([]byte(raw))
}

// ItemsByNamespace returns the rows of one namespace ordered by title.
func (db *DB) ItemsByNamespace(ctx context.Context, namespace string) ([]*ItemRow, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE namespace = ? ORDER BY title ASC, id ASC`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query namespace %s: %w", namespace, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// NamespaceCount is the number of items in a namespace.
type NamespaceCount struct {
	Namespace string `json:"namespace"`
	Items     int    `json:"items"`
}

// NamespaceCounts returns item counts per namespace, largest first.
func (db *DB) NamespaceCounts(ctx context.Context, limit int) ([]NamespaceCount, error) {
	query := `SELECT namespace, COUNT(*) AS n FROM items GROUP BY namespace ORDER BY n DESC, namespace ASC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count namespaces: %w", err)
	}
	defer rows.Close()

	var out []NamespaceCount
	for rows.Next() {
		var nc NamespaceCount
		if err := rows.Scan(&nc.Namespace, &nc.Items); err != nil {
			return nil, fmt.Errorf("failed to scan namespace count: %w", err)
		}
		out = append(out, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating namespace counts: %w", err)
	}
	return out, nil
}

// ChangeRow is a recorded change record.
type ChangeRow struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"runId"`
	Namespace  string          `json:"namespace"`
	ItemID     string          `json:"item"`
	Type       string          `json:"type"`
	From       json.RawMessage `json:"from"`
	To         json.RawMessage `json:"to"`
	UpdatedAt  string          `json:"updatedAt"`
	RecordedAt string          `json:"recordedAt"`
}

// ListChangesFilter configures the ListChanges query.
type ListChangesFilter struct {
	// RunID filters by run (empty = all runs)
	RunID string
	// Namespace filters by namespace (empty = all namespaces)
	Namespace string
	// ItemID filters by item (empty = all items)
	ItemID string
	// TypePrefix filters by change type prefix, e.g. "add:" (empty = all types)
	TypePrefix string
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results (for pagination)
	Offset int
}

// ListChanges returns recorded changes, newest first.
func (db *DB) ListChanges(filter ListChangesFilter) ([]*ChangeRow, error) {
	return db.ListChangesContext(context.Background(), filter)
}

// ListChangesContext returns recorded changes with context support.
func (db *DB) ListChangesContext(ctx context.Context, filter ListChangesFilter) ([]*ChangeRow, error) {
	var conditions []string
	var args []interface{}

	if filter.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Namespace != "" {
		conditions = append(conditions, "namespace = ?")
		args = append(args, filter.Namespace)
	}
	if filter.ItemID != "" {
		conditions = append(conditions, "item_id = ?")
		args = append(args, filter.ItemID)
	}
	if filter.TypePrefix != "" {
		conditions = append(conditions, "substr(type, 1, ?) = ?")
		args = append(args, len(filter.TypePrefix), filter.TypePrefix)
	}

	query := `SELECT id, run_id, namespace, item_id, type, from_value, to_value, updated_at, recorded_at FROM changes`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var out []*ChangeRow
	for rows.Next() {
		var c ChangeRow
		var from, to sql.NullString
		if err := rows.Scan(&c.ID, &c.RunID, &c.Namespace, &c.ItemID, &c.Type, &from, &to, &c.UpdatedAt, &c.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.From = nullStringToRaw(from)
		c.To = nullStringToRaw(to)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}
	return out, nil
}

// scanItems is a helper function to scan item rows.
func scanItems(rows *sql.Rows) ([]*ItemRow, error) {
	var items []*ItemRow

	for rows.Next() {
		var item ItemRow
		var categoriesJSON string

		err := rows.Scan(
			&item.ID,
			&item.Namespace,
			&item.Title,
			&item.Developer,
			&item.Status,
			&item.CreatedUnix,
			&item.ModifiedUnix,
			&categoriesJSON,
			&item.IndexedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		if categoriesJSON != "" && categoriesJSON != "null" {
			if err := json.Unmarshal([]byte(categoriesJSON), &item.Categories); err != nil {
				return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
			}
		}
		if item.Categories == nil {
			item.Categories = []string{}
		}

		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

// valueToNullString encodes a change projection as JSON; nil becomes NULL.
func valueToNullString(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal change value: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullStringToRaw(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return json.RawMessage("null")
	}
	return json.RawMessage(ns.String)
}
