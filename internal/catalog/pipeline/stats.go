package pipeline

import (
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/store"
)

// StatsFile is written under the database root at the end of a run.
const StatsFile = "tracking-stats.json"

// Stats is the content of tracking-stats.json. Durations are in TimeUnit.
type Stats struct {
	RunID            string   `json:"runId"`
	TimeUnit         string   `json:"timeUnit"`
	FetchItemsTime   int64    `json:"fetchItemsTime"`
	IndexTime        int64    `json:"indexTime"`
	LastUpdate       int64    `json:"lastUpdate"`
	LastUpdateString string   `json:"lastUpdateString"`
	Namespaces       int      `json:"namespaces"`
	Items            int      `json:"items"`
	Changes          int      `json:"changes"`
	FailedNamespaces []string `json:"failedNamespaces"`
}

func newStats(runID string) *Stats {
	return &Stats{RunID: runID, TimeUnit: "ms", FailedNamespaces: []string{}}
}

// stamp records the end of the run.
func (s *Stats) stamp(now time.Time) {
	s.LastUpdate = now.UnixMilli()
	s.LastUpdateString = now.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ReadStats loads the last run's stats from the store.
func ReadStats(s *store.Store) (*Stats, error) {
	var stats Stats
	if err := s.ReadJSON(StatsFile, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
