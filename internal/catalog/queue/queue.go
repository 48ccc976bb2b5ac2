// Package queue persists the namespaces still to be processed across runs.
//
// Each run dequeues a bounded batch. The remainder is written back to the
// queue file before any catalog fetch begins, so a crash mid-run never
// reprocesses a namespace that was already handed out (at-most-once per run).
// When the remainder is empty the file is removed and the next run reseeds
// the queue from the configured Source.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/schema"
)

// Defaults.
const (
	DefaultFilename  = "ns-queue.json"
	DefaultBatchSize = 100
)

// ErrNoSource is returned when the queue is empty and no source is configured.
var ErrNoSource = errors.New("no namespace source configured")

// Batch is the work handed to one run.
type Batch struct {
	// Namespaces to process, in order.
	Namespaces []string

	// Index maps every namespace in the batch to its offer ids (possibly empty).
	Index map[string][]string

	// Remaining is the number of namespaces left in the queue file.
	Remaining int

	// Seeded is true when the batch came from the source rather than the queue file.
	Seeded bool
}

// Options configures a Queue.
type Options struct {
	// Path of the queue file. Defaults to ns-queue.json in the working directory.
	Path string

	// Source seeds the queue when no queue file exists.
	Source Source

	// Shuffle randomises the order before each batch is sliced off.
	Shuffle bool

	// Rand is used when Shuffle is set. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// Queue is the persisted namespace work queue.
type Queue struct {
	path    string
	source  Source
	shuffle bool
	rng     *rand.Rand
	logger  *log.Logger
}

// New creates a Queue. If logger is nil, a default logger writing to stderr is used.
func New(opts Options, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	path := opts.Path
	if path == "" {
		path = DefaultFilename
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Queue{
		path:    path,
		source:  opts.Source,
		shuffle: opts.Shuffle,
		rng:     rng,
		logger:  logger,
	}
}

// Path returns the queue file path.
func (q *Queue) Path() string {
	return q.path
}

// Dequeue removes up to maxBatch namespaces from the queue and returns them
// with their offer index. The queue file is rewritten (or removed) before
// Dequeue returns.
func (q *Queue) Dequeue(ctx context.Context, maxBatch int) (*Batch, error) {
	if maxBatch <= 0 {
		maxBatch = DefaultBatchSize
	}

	index, seeded, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	order := q.order(index)
	n := maxBatch
	if n > len(order) {
		n = len(order)
	}

	batch := &Batch{
		Namespaces: order[:n],
		Index:      make(map[string][]string, n),
		Remaining:  len(order) - n,
		Seeded:     seeded,
	}
	for _, ns := range batch.Namespaces {
		batch.Index[ns] = index[ns]
	}

	rest := make(map[string][]string, batch.Remaining)
	for _, ns := range order[n:] {
		rest[ns] = index[ns]
	}

	if len(rest) == 0 {
		if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove queue file: %w", err)
		}
		q.logger.Printf("No namespaces left in the queue")
	} else {
		if err := q.write(rest); err != nil {
			return nil, err
		}
		q.logger.Printf("%d namespaces left in the queue", len(rest))
	}

	q.logger.Printf("Using %d namespaces from the queue", len(batch.Namespaces))
	return batch, nil
}

// Peek returns the number of namespaces waiting in the queue file.
// A missing file means zero.
func (q *Queue) Peek() (int, error) {
	index, err := q.read()
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(index), nil
}

// Reset removes the queue file so the next run reseeds from the source.
func (q *Queue) Reset() error {
	if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove queue file: %w", err)
	}
	return nil
}

func (q *Queue) load(ctx context.Context) (map[string][]string, bool, error) {
	index, err := q.read()
	if err == nil {
		return index, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, err
	}

	if q.source == nil {
		return nil, false, ErrNoSource
	}
	q.logger.Printf("No queue file found at %s, fetching namespaces", q.path)
	index, err = q.source.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load namespaces: %w", err)
	}
	return index, true, nil
}

// read returns an *os.PathError satisfying os.IsNotExist when the file is absent.
func (q *Queue) read() (map[string][]string, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		return nil, err
	}
	index, err := decodeIndex(data)
	if err != nil {
		return nil, fmt.Errorf("queue file %s: %w", q.path, err)
	}
	return index, nil
}

func (q *Queue) write(index map[string][]string) error {
	if dir := filepath.Dir(q.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create queue directory: %w", err)
		}
	}
	// encoding/json sorts map keys
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	if err := schema.WriteFileAtomic(q.path, data); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	return nil
}

func (q *Queue) order(index map[string][]string) []string {
	keys := make([]string, 0, len(index))
	for ns := range index {
		keys = append(keys, ns)
	}
	sort.Strings(keys)
	if q.shuffle {
		q.rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	}
	return keys
}
