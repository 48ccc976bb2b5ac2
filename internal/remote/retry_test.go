package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/egdb/catalog-mirror/internal/remote/auth"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// recordingSleeper records requested pauses without sleeping.
type recordingSleeper struct {
	pauses []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.pauses = append(r.pauses, d)
	return ctx.Err()
}

// tokenProvider issues tok-1, tok-2, ... on each Init.
type tokenProvider struct {
	inits atomic.Int32
}

func (p *tokenProvider) Init(context.Context) (*auth.Session, error) {
	n := p.inits.Add(1)
	return &auth.Session{AccessToken: fmt.Sprintf("tok-%d", n)}, nil
}

func (p *tokenProvider) Logout(context.Context, *auth.Session) error { return nil }

func newTestPolicy(t *testing.T, srv *httptest.Server, sleeper *recordingSleeper) (*Policy, *auth.Handle) {
	t.Helper()
	handle := auth.NewHandle(&tokenProvider{}, quietLogger())
	transport := NewTransport(handle, TransportConfig{HTTPClient: srv.Client()})
	policy := NewPolicy(transport, handle, PolicyConfig{
		BaseDelay: time.Second,
		MaxDelay:  4 * time.Second,
		Sleep:     sleeper.Sleep,
	}, quietLogger())
	return policy, handle
}

func TestPolicy_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	policy, _ := newTestPolicy(t, srv, sleeper)

	body, err := policy.Get(context.Background(), srv.URL+"/x")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(sleeper.pauses) != 2 {
		t.Fatalf("pauses = %v, want 2 pauses", sleeper.pauses)
	}
	if sleeper.pauses[0] != time.Second || sleeper.pauses[1] != 2*time.Second {
		t.Errorf("pauses = %v, want [1s 2s]", sleeper.pauses)
	}
}

func TestPolicy_PermanentFailureExhausts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"errorCode":"errors.com.epicgames.common.server_error","errorMessage":"boom"}`)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	policy, _ := newTestPolicy(t, srv, sleeper)
	url := srv.URL + "/namespace/ns/items"

	_, err := policy.Get(context.Background(), url)
	if !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("Get() error = %v, want ErrExhaustedRetries", err)
	}
	if !strings.Contains(err.Error(), url) {
		t.Errorf("error %q does not name the url", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error does not carry the original cause: %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Message != "boom" {
		t.Errorf("cause = %+v", apiErr)
	}
	if !IsFatal(err) || IsRetryable(err) {
		t.Errorf("exhausted error classification: fatal=%v retryable=%v", IsFatal(err), IsRetryable(err))
	}
	if calls.Load() != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", calls.Load(), DefaultMaxAttempts)
	}
	if len(sleeper.pauses) != DefaultMaxAttempts-1 {
		t.Errorf("pauses = %d, want %d", len(sleeper.pauses), DefaultMaxAttempts-1)
	}
}

func TestPolicy_NotFoundIsNeutral(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http 404", status: http.StatusNotFound},
		{name: "error code", status: http.StatusBadRequest, body: `{"errorCode":"errors.com.epicgames.catalog.item_not_found"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			sleeper := &recordingSleeper{}
			policy, _ := newTestPolicy(t, srv, sleeper)

			body, err := policy.Get(context.Background(), srv.URL)
			if err != nil || body != nil {
				t.Fatalf("Get() = %q, %v; want nil, nil", body, err)
			}
			if calls.Load() != 1 || len(sleeper.pauses) != 0 {
				t.Errorf("calls = %d, pauses = %d; want 1, 0", calls.Load(), len(sleeper.pauses))
			}
		})
	}
}

func TestPolicy_AuthExpiredRefreshesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "bearer tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"errorCode":"errors.com.epicgames.common.authentication.token_verification_failed"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"item"}`)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	policy, handle := newTestPolicy(t, srv, sleeper)

	body, err := policy.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(body) != `{"id":"item"}` {
		t.Errorf("body = %s", body)
	}
	if handle.Refreshes() != 1 {
		t.Errorf("Refreshes() = %d, want 1", handle.Refreshes())
	}
	if len(sleeper.pauses) != 0 {
		t.Errorf("reauthentication paused %d times", len(sleeper.pauses))
	}
}

func TestPolicy_AuthExpiredIsBounded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	policy, _ := newTestPolicy(t, srv, &recordingSleeper{})

	_, err := policy.Get(context.Background(), srv.URL)
	if !errors.Is(err, ErrExhaustedRetries) || !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("Get() error = %v, want exhausted auth failure", err)
	}
	if calls.Load() != int32(policy.MaxAttempts()) {
		t.Errorf("calls = %d, want %d", calls.Load(), policy.MaxAttempts())
	}
}

func TestPolicy_PartialResultFromErrorBody(t *testing.T) {
	const partial = `{"elements":[{"id":"a"}],"paging":{"start":0,"count":1,"total":1}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, partial)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	policy, _ := newTestPolicy(t, srv, sleeper)

	body, err := policy.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(body) != partial {
		t.Errorf("body = %s, want partial listing", body)
	}
	if len(sleeper.pauses) != 0 {
		t.Errorf("pauses = %d, want 0", len(sleeper.pauses))
	}
}

func TestPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := NewPolicy(nil, nil, PolicyConfig{
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}, quietLogger())

	var calls int
	_, err := policy.Do(ctx, "op", func(context.Context) ([]byte, error) {
		calls++
		return nil, ErrTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicy_DelayAndClamp(t *testing.T) {
	p := NewPolicy(nil, nil, PolicyConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}, quietLogger())
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %s, want %s", i+1, got, w)
		}
	}

	tests := []struct {
		in, want int
	}{
		{0, DefaultMaxAttempts},
		{-2, DefaultMaxAttempts},
		{1, 1},
		{4, 4},
		{9, MaxAttemptsCeiling},
	}
	for _, tt := range tests {
		p := NewPolicy(nil, nil, PolicyConfig{MaxAttempts: tt.in}, quietLogger())
		if p.MaxAttempts() != tt.want {
			t.Errorf("MaxAttempts(%d) = %d, want %d", tt.in, p.MaxAttempts(), tt.want)
		}
	}
}

func TestSleepContext(t *testing.T) {
	start := time.Now()
	if err := SleepContext(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("SleepContext() failed: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("SleepContext() returned early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("SleepContext() on cancelled context = %v", err)
	}
}
