// Package daemon keeps the SQLite mirror in step with the item store while
// the store is edited outside a pipeline run.
//
// The daemon:
//  1. Mirrors every stored item into the database on start
//  2. Watches items/ for created, modified and deleted files
//  3. Applies changes after a short debounce, so a burst of writes to one
//     file costs a single upsert
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/db"
	"github.com/egdb/catalog-mirror/internal/catalog/schema"
	"github.com/egdb/catalog-mirror/internal/catalog/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must be quiet before it is applied.
	DebounceInterval time.Duration

	// OnApplied, when set, is called after each batch of applied changes.
	OnApplied func(upserted, deleted int)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon mirrors item file changes into the database.
type Daemon struct {
	db     *db.DB
	store  *store.Store
	config *Config

	watcher *FileWatcher

	pending   map[string]pendingChange
	pendingMu sync.Mutex

	ready chan struct{}
	wg    sync.WaitGroup
}

type pendingChange struct {
	event    FileEvent
	queuedAt time.Time
}

// New creates a Daemon. config may be nil.
func New(database *db.DB, s *store.Store, config *Config) (*Daemon, error) {
	if database == nil {
		return nil, errors.New("db cannot be nil")
	}
	if s == nil {
		return nil, errors.New("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	return &Daemon{
		db:      database,
		store:   s,
		config:  config,
		watcher: watcher,
		pending: make(map[string]pendingChange),
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once the initial sync is done and the watch is active.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Start performs a full sync, then watches until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.PerformFullSync(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if err := os.MkdirAll(d.store.ItemsDir(), 0755); err != nil {
		return err
	}
	if err := d.watcher.Start(d.store.ItemsDir()); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.store.ItemsDir())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.wg.Add(2)
	go d.watchFileEvents(runCtx)
	go d.processChangeQueue(runCtx)
	close(d.ready)

	<-ctx.Done()
	d.config.Logger.Println("Stopping daemon")
	cancel()
	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("WARNING: %v", err)
	}
	d.wg.Wait()

	// Apply whatever was still waiting on the debounce.
	d.applyPending(context.Background(), true)
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// PerformFullSync upserts every stored item. Malformed files are logged and skipped.
func (d *Daemon) PerformFullSync(ctx context.Context) error {
	d.config.Logger.Println("Performing full sync")

	synced, failed := 0, 0
	err := d.store.Each(func(item *schema.Item) error {
		if err := d.db.UpsertItemContext(ctx, item); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.config.Logger.Printf("WARNING: failed to sync item %s: %v", item.ID, err)
			failed++
			return nil
		}
		synced++
		return nil
	}, func(name string, err error) {
		d.config.Logger.Printf("WARNING: skipping malformed item %s: %v", name, err)
	})
	if err != nil {
		return err
	}

	d.config.Logger.Printf("Full sync complete: %d items (%d failed)", synced, failed)
	return nil
}

func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()

	events, errs := d.watcher.Events(), d.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			d.queueChange(event)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records the latest event per item; the debounce restarts.
func (d *Daemon) queueChange(event FileEvent) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending[event.ID] = pendingChange{event: event, queuedAt: time.Now()}
}

func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.applyPending(ctx, false)
		}
	}
}

// applyPending applies the changes that have been quiet for the debounce
// interval, or all of them when flush is set.
func (d *Daemon) applyPending(ctx context.Context, flush bool) {
	d.pendingMu.Lock()
	now := time.Now()
	var ready []FileEvent
	for id, p := range d.pending {
		if !flush && now.Sub(p.queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, p.event)
		delete(d.pending, id)
	}
	d.pendingMu.Unlock()

	if len(ready) == 0 {
		return
	}

	upserted, deleted := 0, 0
	for _, event := range ready {
		removed, err := d.apply(ctx, event)
		if err != nil {
			d.config.Logger.Printf("Error syncing %s: %v", event.Path, err)
			continue
		}
		if removed {
			deleted++
		} else {
			upserted++
		}
	}

	if d.config.OnApplied != nil {
		d.config.OnApplied(upserted, deleted)
	}
}

// apply mirrors the current state of the file; the event op is only a hint
// since the file may have changed again since.
func (d *Daemon) apply(ctx context.Context, event FileEvent) (removed bool, err error) {
	item, err := schema.ReadItemFile(event.Path)
	if errors.Is(err, os.ErrNotExist) {
		d.config.Logger.Printf("Deleting item: %s", event.ID)
		return true, d.db.DeleteItemContext(ctx, event.ID)
	}
	if err != nil {
		return false, err
	}
	return false, d.db.UpsertItemContext(ctx, item)
}
