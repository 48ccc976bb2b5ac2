package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/egdb/catalog-mirror/internal/remote/auth"
	"github.com/tidwall/gjson"
)

// Retry bounds.
const (
	DefaultMaxAttempts = 3
	MaxAttemptsCeiling = 5
	DefaultBaseDelay   = 3 * time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// Operation is a single remote call.
type Operation func(ctx context.Context) ([]byte, error)

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Reauthenticator replaces the current session with a new one.
type Reauthenticator interface {
	Refresh(ctx context.Context) (*auth.Session, error)
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PolicyConfig configures a Policy. Zero values select the defaults.
type PolicyConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Sleep       Sleeper
}

// Policy wraps remote calls with bounded retry.
//
// Failures are classified in order:
//  1. not found: the call yields a nil body and no error
//  2. auth expired: the session is refreshed and the call retried
//  3. an error body that still carries elements and paging is returned as the result
//  4. anything else: back off and retry
//
// Every path is bounded by MaxAttempts; reauthentication attempts count
// against the same bound.
type Policy struct {
	transport   *Transport
	reauth      Reauthenticator
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       Sleeper
	logger      *log.Logger
}

// NewPolicy creates a retry policy. transport may be nil when only Do is used;
// reauth may be nil, in which case auth failures are retried like transient ones.
func NewPolicy(transport *Transport, reauth Reauthenticator, cfg PolicyConfig, logger *log.Logger) *Policy {
	if logger == nil {
		logger = log.New(os.Stderr, "[retry] ", log.LstdFlags)
	}

	p := &Policy{
		transport:   transport,
		reauth:      reauth,
		maxAttempts: clampAttempts(cfg.MaxAttempts),
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		sleep:       cfg.Sleep,
		logger:      logger,
	}
	if p.baseDelay <= 0 {
		p.baseDelay = DefaultBaseDelay
	}
	if p.maxDelay <= 0 {
		p.maxDelay = DefaultMaxDelay
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	if p.sleep == nil {
		p.sleep = SleepContext
	}
	return p
}

func clampAttempts(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxAttempts
	case n > MaxAttemptsCeiling:
		return MaxAttemptsCeiling
	default:
		return n
	}
}

// MaxAttempts returns the attempt bound in effect.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay returns the pause after the given failed attempt (1-based).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.maxDelay {
			return p.maxDelay
		}
	}
	return d
}

// Get fetches url through the transport under the policy.
func (p *Policy) Get(ctx context.Context, url string) ([]byte, error) {
	if p.transport == nil {
		return nil, fmt.Errorf("retry policy has no transport")
	}
	return p.Do(ctx, url, func(ctx context.Context) ([]byte, error) {
		return p.transport.Get(ctx, url)
	})
}

// Do runs op under the policy. url names the call in logs and errors.
//
// A nil body with a nil error means the resource does not exist.
func (p *Policy) Do(ctx context.Context, url string, op Operation) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := op(ctx)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if IsNotFound(err) {
			p.logger.Printf("Not found: %s", url)
			return nil, nil
		}

		if IsAuthExpired(err) && p.reauth != nil {
			p.logger.Printf("Reauthenticating after %s rejected the session (attempt %d/%d)", url, attempt, p.maxAttempts)
			if _, rerr := p.reauth.Refresh(ctx); rerr != nil {
				lastErr = fmt.Errorf("%w (reauthentication failed: %v)", err, rerr)
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
			} else {
				continue
			}
		}

		if partial, ok := partialResult(err); ok {
			p.logger.Printf("Using listing body from failed response for %s", url)
			return partial, nil
		}

		if attempt == p.maxAttempts {
			break
		}

		d := p.Delay(attempt)
		p.logger.Printf("Attempt %d/%d for %s failed: %v (retrying in %s)", attempt, p.maxAttempts, url, err, d)
		if err := p.sleep(ctx, d); err != nil {
			return nil, err
		}
	}

	return nil, &ExhaustedError{URL: url, Attempts: p.maxAttempts, Cause: lastErr}
}

// partialResult returns the body of a failed response that still looks like a
// listing page: an elements array alongside paging metadata.
func partialResult(err error) ([]byte, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || len(apiErr.Body) == 0 {
		return nil, false
	}
	if !gjson.ValidBytes(apiErr.Body) {
		return nil, false
	}
	res := gjson.GetManyBytes(apiErr.Body, "elements", "paging")
	if !res[0].IsArray() || !res[1].Exists() {
		return nil, false
	}
	return apiErr.Body, true
}
