package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

type staticSource struct {
	index map[string][]string
	loads int
}

func (s *staticSource) Load(context.Context) (map[string][]string, error) {
	s.loads++
	out := make(map[string][]string, len(s.index))
	for k, v := range s.index {
		out[k] = v
	}
	return out, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func makeIndex(n int) map[string][]string {
	index := make(map[string][]string, n)
	for i := 0; i < n; i++ {
		index[fmt.Sprintf("ns%02d", i)] = []string{fmt.Sprintf("offer%02d", i)}
	}
	return index
}

func readQueueFile(t *testing.T, path string) map[string][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read queue file: %v", err)
	}
	var index map[string][]string
	if err := json.Unmarshal(data, &index); err != nil {
		t.Fatalf("queue file is not valid JSON: %v", err)
	}
	return index
}

func TestDequeue_SeedsFromSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	src := &staticSource{index: makeIndex(5)}
	q := New(Options{Path: path, Source: src}, quietLogger())

	batch, err := q.Dequeue(context.Background(), 2)
	if err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if !batch.Seeded {
		t.Error("first batch should be seeded from the source")
	}
	if len(batch.Namespaces) != 2 || batch.Namespaces[0] != "ns00" || batch.Namespaces[1] != "ns01" {
		t.Errorf("Namespaces = %v, want [ns00 ns01]", batch.Namespaces)
	}
	if got := batch.Index["ns01"]; len(got) != 1 || got[0] != "offer01" {
		t.Errorf("Index[ns01] = %v", got)
	}
	if batch.Remaining != 3 {
		t.Errorf("Remaining = %d, want 3", batch.Remaining)
	}

	rest := readQueueFile(t, path)
	if len(rest) != 3 {
		t.Fatalf("queue file has %d namespaces, want 3", len(rest))
	}
	for _, ns := range batch.Namespaces {
		if _, ok := rest[ns]; ok {
			t.Errorf("dequeued namespace %s still in queue file", ns)
		}
	}
}

func TestDequeue_DrainsAndDeletes(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	src := &staticSource{index: makeIndex(5)}
	q := New(Options{Path: path, Source: src}, quietLogger())
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		batch, err := q.Dequeue(ctx, 2)
		if err != nil {
			t.Fatalf("Dequeue() #%d failed: %v", i, err)
		}
		for _, ns := range batch.Namespaces {
			if seen[ns] {
				t.Errorf("namespace %s handed out twice", ns)
			}
			seen[ns] = true
		}
	}

	if len(seen) != 5 {
		t.Errorf("processed %d namespaces, want 5", len(seen))
	}
	if src.loads != 1 {
		t.Errorf("source loaded %d times, want 1", src.loads)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("queue file should be removed once drained, stat err = %v", err)
	}

	// Next run reseeds.
	batch, err := q.Dequeue(ctx, 2)
	if err != nil {
		t.Fatalf("Dequeue() after drain failed: %v", err)
	}
	if !batch.Seeded || src.loads != 2 {
		t.Errorf("expected reseed, seeded=%v loads=%d", batch.Seeded, src.loads)
	}
}

func TestDequeue_SmallSourceLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	q := New(Options{Path: path, Source: &staticSource{index: makeIndex(2)}}, quietLogger())

	batch, err := q.Dequeue(context.Background(), 10)
	if err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if len(batch.Namespaces) != 2 || batch.Remaining != 0 {
		t.Errorf("batch = %+v", batch)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("queue file written for a source that fit in one batch")
	}
}

func TestDequeue_NoSource(t *testing.T) {
	q := New(Options{Path: filepath.Join(t.TempDir(), DefaultFilename)}, quietLogger())
	if _, err := q.Dequeue(context.Background(), 1); !errors.Is(err, ErrNoSource) {
		t.Errorf("Dequeue() error = %v, want ErrNoSource", err)
	}
}

func TestDequeue_Shuffle(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	q := New(Options{
		Path:    path,
		Source:  &staticSource{index: makeIndex(20)},
		Shuffle: true,
		Rand:    rand.New(rand.NewSource(7)),
	}, quietLogger())

	batch, err := q.Dequeue(context.Background(), 20)
	if err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if len(batch.Namespaces) != 20 {
		t.Fatalf("got %d namespaces, want 20", len(batch.Namespaces))
	}
	unique := map[string]bool{}
	for _, ns := range batch.Namespaces {
		unique[ns] = true
	}
	if len(unique) != 20 {
		t.Errorf("shuffle lost or duplicated namespaces: %v", batch.Namespaces)
	}
}

func TestPeekAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	q := New(Options{Path: path, Source: &staticSource{index: makeIndex(4)}}, quietLogger())

	if n, err := q.Peek(); err != nil || n != 0 {
		t.Errorf("Peek() on missing file = %d, %v", n, err)
	}
	if _, err := q.Dequeue(context.Background(), 1); err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if n, err := q.Peek(); err != nil || n != 3 {
		t.Errorf("Peek() = %d, %v; want 3", n, err)
	}
	if err := q.Reset(); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if n, _ := q.Peek(); n != 0 {
		t.Errorf("Peek() after Reset = %d", n)
	}
	if err := q.Reset(); err != nil {
		t.Errorf("second Reset() failed: %v", err)
	}
}

func TestNewSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ns.json")
	if err := os.WriteFile(file, []byte(`{"a":["o1"],"b":null}`), 0644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"remote":["x","y"]}`)
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		location string
		wantErr  error
		wantKeys int
	}{
		{name: "bare path", location: file, wantKeys: 2},
		{name: "file url", location: "file://" + file, wantKeys: 2},
		{name: "http url", location: srv.URL, wantKeys: 1},
		{name: "empty", location: "", wantErr: ErrNoSource},
		{name: "ftp", location: "ftp://example.com/ns.json", wantErr: ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewSource(tt.location)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewSource() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSource() failed: %v", err)
			}
			index, err := src.Load(context.Background())
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if len(index) != tt.wantKeys {
				t.Errorf("Load() returned %d namespaces, want %d", len(index), tt.wantKeys)
			}
			if offers, ok := index["b"]; ok && offers == nil {
				t.Error("null offer list should decode as empty")
			}
		})
	}
}
