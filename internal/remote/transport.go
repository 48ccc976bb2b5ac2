// Package remote provides the authenticated HTTP transport and the retry
// policy wrapped around every catalog call.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/egdb/catalog-mirror/internal/remote/auth"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when TransportConfig.UserAgent is empty.
const DefaultUserAgent = "catalog-mirror/1.0"

// TransportConfig configures a Transport.
type TransportConfig struct {
	HTTPClient *http.Client

	// RequestsPerSecond caps the request rate across all calls. Zero disables the cap.
	RequestsPerSecond float64

	UserAgent string
}

// Transport performs authenticated GET requests.
type Transport struct {
	client    *http.Client
	session   *auth.Handle
	limiter   *rate.Limiter
	userAgent string
}

// NewTransport creates a transport that authenticates through session.
func NewTransport(session *auth.Handle, cfg TransportConfig) *Transport {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	t := &Transport{client: client, session: session, userAgent: ua}
	if cfg.RequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return t
}

// Session returns the session handle used by the transport.
func (t *Transport) Session() *auth.Handle {
	return t.session
}

// Get fetches url and returns the response body.
//
// Non-2xx responses are returned as *APIError carrying the decoded error code
// and the raw body. Network failures wrap ErrTransient.
func (t *Transport) Get(ctx context.Context, url string) ([]byte, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)

	if t.session != nil {
		s, err := t.session.Current(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", s.Authorization())
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransient, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrTransient, url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(url, resp.StatusCode, body)
	}
	return body, nil
}

func newAPIError(url string, status int, body []byte) *APIError {
	e := &APIError{URL: url, Status: status, Body: body}
	if gjson.ValidBytes(body) {
		e.ErrorCode = gjson.GetBytes(body, "errorCode").String()
		e.Message = gjson.GetBytes(body, "errorMessage").String()
	}
	return e
}
