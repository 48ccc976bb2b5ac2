// Package sink delivers a run's changelist to its downstream consumer.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/diff"
)

// Sink consumes a changelist. Implementations are not called with an empty changelist.
type Sink interface {
	Send(ctx context.Context, cl diff.Changelist) error
	Name() string
}

// Send hands cl to s unless it is empty or s is nil.
func Send(ctx context.Context, s Sink, cl diff.Changelist) error {
	if s == nil || cl.Empty() {
		return nil
	}
	if err := s.Send(ctx, cl); err != nil {
		return fmt.Errorf("%s sink: %w", s.Name(), err)
	}
	return nil
}

// Nop discards changelists.
type Nop struct{}

// Send implements Sink.
func (Nop) Send(context.Context, diff.Changelist) error { return nil }

// Name implements Sink.
func (Nop) Name() string { return "none" }

// HTTPSink POSTs {changelist: [...]} to an endpoint with bearer auth.
type HTTPSink struct {
	URL    string
	Token  string
	Client *http.Client
}

// Name implements Sink.
func (s *HTTPSink) Name() string { return "http" }

// Send implements Sink.
func (s *HTTPSink) Send(ctx context.Context, cl diff.Changelist) error {
	body, err := json.Marshal(cl)
	if err != nil {
		return fmt.Errorf("failed to marshal changelist: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post changelist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("changelist endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
