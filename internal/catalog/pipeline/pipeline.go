// Package pipeline runs one mirror pass: dequeue a batch of namespaces,
// fetch and diff each one, persist the snapshots, rebuild the indices and
// hand the changelist to its consumers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/db"
	"github.com/egdb/catalog-mirror/internal/catalog/diff"
	"github.com/egdb/catalog-mirror/internal/catalog/fetch"
	"github.com/egdb/catalog-mirror/internal/catalog/index"
	"github.com/egdb/catalog-mirror/internal/catalog/queue"
	"github.com/egdb/catalog-mirror/internal/catalog/schema"
	"github.com/egdb/catalog-mirror/internal/catalog/store"
	"github.com/egdb/catalog-mirror/internal/remote/auth"
	"github.com/egdb/catalog-mirror/internal/sink"
	"github.com/egdb/catalog-mirror/internal/vcs"
	"github.com/google/uuid"
)

// Config wires a Pipeline. Queue, Store and Getter are required.
type Config struct {
	Queue     *queue.Queue
	BatchSize int
	Store     *store.Store
	Getter    fetch.Getter

	// Fetch configures the per-run fetcher. Index and OnStage are set by the pipeline.
	Fetch fetch.Config

	// Session is closed once fetching is done.
	Session *auth.Handle

	// DB, when set, receives item upserts during indexing and the run's changelist.
	DB *db.DB

	Sink     sink.Sink
	Observer Observer

	// Repo, when set, publishes the database and queue file after the run.
	// Sync.Paths, StatsPath and WriteStats are filled in by the pipeline.
	Repo vcs.Repo
	Sync vcs.SyncOptions

	Now func() time.Time
}

// FailedNamespace records a namespace whose fetch was abandoned.
type FailedNamespace struct {
	Namespace string
	// Stage is the state the namespace was in when it failed.
	Stage State
	Err   error
}

// RunResult summarises a run.
type RunResult struct {
	Stats      *Stats
	Batch      *queue.Batch
	Changelist diff.Changelist
	Failed     []FailedNamespace
	Index      *index.Result
	Sync       *vcs.SyncResult

	// SinkErr and SyncErr are reported but don't fail the run.
	SinkErr error
	SyncErr error
}

// Pipeline runs mirror passes.
type Pipeline struct {
	cfg    Config
	logger *log.Logger

	// current is the namespace being fetched; stage callbacks route to it.
	current  *machine
	stageErr error
	runID    string
}

// New creates a Pipeline. If logger is nil, a default logger writing to stderr is used.
func New(cfg Config, logger *log.Logger) (*Pipeline, error) {
	if cfg.Queue == nil || cfg.Store == nil || cfg.Getter == nil {
		return nil, errors.New("pipeline requires a queue, a store and a getter")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[pipeline] ", log.LstdFlags)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = queue.DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Fetch.Offers == nil {
		cfg.Fetch.Offers = fetch.NewOffersCache()
	}
	return &Pipeline{cfg: cfg, logger: logger}, nil
}

// Run performs one pass. Failures of individual namespaces are recorded in
// the result; errors returned here are fatal to the run (queue, indexing,
// cancellation).
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	p.runID = uuid.NewString()
	stats := newStats(p.runID)
	res := &RunResult{Stats: stats}

	batch, err := p.cfg.Queue.Dequeue(ctx, p.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue namespaces: %w", err)
	}
	res.Batch = batch
	stats.Namespaces = len(batch.Namespaces)
	p.logger.Printf("Run %s: %d namespaces (%d left in queue)", p.runID, len(batch.Namespaces), batch.Remaining)
	p.emit(Event{Kind: EventRunStarted, Items: len(batch.Namespaces)})

	fcfg := p.cfg.Fetch
	fcfg.Index = batch.Index
	fcfg.OnStage = p.onStage
	fetcher := fetch.New(p.cfg.Getter, fcfg, p.logger)

	fetchStart := time.Now()
	for _, ns := range batch.Namespaces {
		nc, items, stage, err := p.processNamespace(ctx, fetcher, ns)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.logger.Printf("WARNING: Namespace %s failed during %s: %v", ns, stage, err)
			res.Failed = append(res.Failed, FailedNamespace{Namespace: ns, Stage: stage, Err: err})
			stats.FailedNamespaces = append(stats.FailedNamespaces, ns)
			p.emit(Event{Kind: EventNamespaceFailed, Namespace: ns, State: StateFailed, Err: err})
			continue
		}
		stats.Items += items
		res.Changelist.Merge(nc)
		p.emit(Event{Kind: EventNamespaceDone, Namespace: ns, State: StateDone, Items: items, Changes: nc.Changes})
	}
	stats.FetchItemsTime = time.Since(fetchStart).Milliseconds()
	stats.Changes = res.Changelist.Len()

	if p.cfg.Session != nil {
		if err := p.cfg.Session.Close(ctx); err != nil {
			p.logger.Printf("WARNING: Failed to close session: %v", err)
		}
	}

	indexStart := time.Now()
	ixRes, err := index.New(p.cfg.Store, p.cfg.DB, p.logger).Run(ctx)
	if err != nil {
		return nil, err
	}
	res.Index = ixRes
	stats.IndexTime = time.Since(indexStart).Milliseconds()
	p.emit(Event{Kind: EventIndexComplete, Items: ixRes.Items})

	if p.cfg.DB != nil && !res.Changelist.Empty() {
		if err := p.cfg.DB.InsertChangesContext(ctx, p.runID, res.Changelist); err != nil {
			p.logger.Printf("WARNING: Failed to record changes: %v", err)
		}
	}

	if err := sink.Send(ctx, p.cfg.Sink, res.Changelist); err != nil {
		p.logger.Printf("WARNING: Failed to deliver changelist: %v", err)
		res.SinkErr = err
	}

	stats.stamp(p.cfg.Now())
	if err := p.publish(ctx, res); err != nil {
		return nil, err
	}

	p.logger.Printf("Run %s complete: namespaces=%d failed=%d items=%d changes=%d",
		p.runID, stats.Namespaces, len(res.Failed), stats.Items, stats.Changes)
	p.emit(Event{Kind: EventRunComplete, Stats: stats})
	return res, nil
}

// processNamespace drives one namespace through its states and returns its
// changes along with the number of items fetched. On error it also returns
// the state the namespace had reached.
func (p *Pipeline) processNamespace(ctx context.Context, fetcher *fetch.Fetcher, ns string) (diff.NamespaceChanges, int, State, error) {
	nc := diff.NamespaceChanges{Namespace: ns}
	m := newMachine(ns, func(ns string, s State) {
		p.emit(Event{Kind: EventNamespaceState, Namespace: ns, State: s})
	})
	p.current, p.stageErr = m, nil
	defer func() { p.current = nil }()

	p.logger.Printf("Updating items for namespace %s", ns)
	items, err := fetcher.FetchNamespace(ctx, ns)
	if p.stageErr != nil {
		return nc, 0, m.state, p.stageErr
	}
	if err != nil {
		stage := m.state
		_ = m.enter(StateFailed)
		return nc, 0, stage, err
	}

	if err := m.enter(StateDiff); err != nil {
		return nc, 0, m.state, err
	}
	latest := make(map[string]*schema.Item, len(items))
	order := make([]string, 0, len(items))
	for _, next := range items {
		prev, seen := latest[next.ID]
		if !seen {
			prev = p.loadPrevious(next.ID)
			order = append(order, next.ID)
		}
		changes := diff.Diff(prev, next)
		nc.Changes = append(nc.Changes, diff.Stamp(changes, next.LastModifiedDate)...)
		latest[next.ID] = next
	}

	if err := m.enter(StatePersist); err != nil {
		return nc, 0, m.state, err
	}
	for _, id := range order {
		if err := p.cfg.Store.Save(latest[id]); err != nil {
			p.logger.Printf("WARNING: Failed to save item %s: %v", id, err)
		}
	}

	if err := m.enter(StateDone); err != nil {
		return nc, 0, m.state, err
	}
	if len(nc.Changes) > 0 {
		p.logger.Printf("Namespace %s: %d items, %d changes", ns, len(items), len(nc.Changes))
	}
	return nc, len(items), StateDone, nil
}

// loadPrevious returns the stored snapshot of id. A corrupt snapshot is
// treated as absent so the item is re-recorded.
func (p *Pipeline) loadPrevious(id string) *schema.Item {
	prev, err := p.cfg.Store.Load(id)
	if err != nil {
		p.logger.Printf("WARNING: Ignoring stored item %s: %v", id, err)
		return nil
	}
	return prev
}

func (p *Pipeline) onStage(ns string, stage fetch.Stage) {
	if p.current == nil || p.stageErr != nil {
		return
	}
	p.stageErr = p.current.enter(stateForStage(stage))
}

// publish writes tracking-stats.json, through the VCS sync when one is
// configured so the file only changes alongside published data.
func (p *Pipeline) publish(ctx context.Context, res *RunResult) error {
	writeStats := func() error {
		return p.cfg.Store.WriteJSON(StatsFile, res.Stats)
	}

	if p.cfg.Repo == nil {
		return writeStats()
	}

	opts := p.cfg.Sync
	opts.Paths = []string{absPath(p.cfg.Store.Root()), absPath(p.cfg.Queue.Path())}
	opts.StatsPath = absPath(p.cfg.Store.Path(StatsFile))
	opts.WriteStats = writeStats
	if opts.Logger == nil {
		opts.Logger = p.logger
	}

	syncRes, err := vcs.Sync(ctx, p.cfg.Repo, opts)
	res.Sync = syncRes
	if err != nil {
		if vcs.IsFatal(err) {
			return fmt.Errorf("failed to publish: %w", err)
		}
		p.logger.Printf("WARNING: Failed to publish: %v", err)
		res.SyncErr = err
	}
	return nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (p *Pipeline) emit(e Event) {
	if p.cfg.Observer == nil {
		return
	}
	e.RunID = p.runID
	e.Time = p.cfg.Now()
	p.cfg.Observer.Observe(e)
}
