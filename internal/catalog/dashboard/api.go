package dashboard

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/egdb/catalog-mirror/internal/catalog/db"
	"github.com/egdb/catalog-mirror/internal/catalog/pipeline"
	"github.com/go-chi/chi/v5"
)

const maxListLimit = 500

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryLimit parses ?limit=, clamped to [1, maxListLimit].
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	snap := s.progress.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":      snap.RunID,
		"running":    snap.Running,
		"done":       snap.Done,
		"failed":     snap.Failed,
		"changes":    snap.Changes,
		"namespaces": sortedStates(snap.States),
	})
}

// handleStats serves the stats file of the last published run.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "no store configured")
		return
	}
	stats, err := pipeline.ReadStats(s.store)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "no run has been published yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "database disabled")
		return
	}
	limit, err := queryLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	rows, err := s.db.ListChangesContext(r.Context(), db.ListChangesFilter{
		RunID:      q.Get("run"),
		Namespace:  q.Get("namespace"),
		ItemID:     q.Get("item"),
		TypePrefix: q.Get("type"),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []*db.ChangeRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "database disabled")
		return
	}
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.db.NamespaceCounts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if counts == nil {
		counts = []db.NamespaceCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "database disabled")
		return
	}
	id := chi.URLParam(r, "id")
	item, err := s.db.GetItemRaw(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("item %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Catalog Mirror</title>
</head>
<body>
    <h1>Catalog Mirror</h1>
    <p>Live feed: <code>ws://%s/ws</code></p>
    <ul>
        <li><a href="/api/progress">/api/progress</a></li>
        <li><a href="/api/stats">/api/stats</a></li>
        <li><a href="/api/changes">/api/changes</a></li>
        <li><a href="/api/namespaces">/api/namespaces</a></li>
        <li><a href="/health">/health</a></li>
    </ul>
</body>
</html>`, r.Host)
}
