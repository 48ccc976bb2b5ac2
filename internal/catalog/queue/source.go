package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrUnsupportedScheme is returned by NewSource for locations that are neither
// http(s) nor file.
var ErrUnsupportedScheme = errors.New("unsupported namespace source scheme")

// Source supplies the full namespace → offer-id index.
type Source interface {
	Load(ctx context.Context) (map[string][]string, error)
}

// NewSource picks a Source for location: http and https URLs are fetched,
// file URLs and bare paths are read from disk.
func NewSource(location string) (Source, error) {
	if location == "" {
		return nil, ErrNoSource
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid namespace source %q: %w", location, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return &HTTPSource{URL: location}, nil
	case "file":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return FileSource{Path: path}, nil
	case "":
		return FileSource{Path: location}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// HTTPSource fetches the index as JSON from a URL.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Load implements Source.
func (s *HTTPSource) Load(ctx context.Context) (map[string][]string, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build namespace source request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch namespaces from %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("namespace source %s returned %d", s.URL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read namespace source: %w", err)
	}
	return decodeIndex(data)
}

// FileSource reads the index from a local JSON file.
type FileSource struct {
	Path string
}

// Load implements Source.
func (s FileSource) Load(context.Context) (map[string][]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read namespace source %s: %w", s.Path, err)
	}
	return decodeIndex(data)
}

// decodeIndex parses a namespace → offer-id object. Null offer lists become empty.
func decodeIndex(data []byte) (map[string][]string, error) {
	var index map[string][]string
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse namespace index: %w", err)
	}
	if index == nil {
		index = map[string][]string{}
	}
	for ns, offers := range index {
		if offers == nil {
			index[ns] = []string{}
		}
	}
	return index, nil
}
