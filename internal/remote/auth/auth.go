// Package auth manages the bearer session shared by every remote call.
//
// A Handle owns the current Session. Reauthentication is a capability of the
// handle (Refresh), not a mutation callers perform on shared state: after a
// refresh every later call to Current observes the new session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

var (
	// ErrNoSession is returned when a session is needed but none was established.
	ErrNoSession = errors.New("no session established")

	// ErrInvalidCredentials is returned when the token endpoint rejects the credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Session is an authenticated bearer session.
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	AccountID   string
}

// Authorization returns the value for the Authorization header.
func (s *Session) Authorization() string {
	typ := s.TokenType
	if typ == "" {
		typ = "bearer"
	}
	return typ + " " + s.AccessToken
}

// Expired reports whether the session is past its expiry. Sessions without
// an expiry never expire locally.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Provider establishes and tears down sessions.
type Provider interface {
	Init(ctx context.Context) (*Session, error)
	Logout(ctx context.Context, s *Session) error
}

// Handle holds the process-wide session.
type Handle struct {
	mu           sync.Mutex
	provider     Provider
	current      *Session
	refreshCount int
	logger       *log.Logger
	now          func() time.Time
}

// NewHandle creates a handle over provider. No session is established until
// the first call to Current or Refresh.
func NewHandle(provider Provider, logger *log.Logger) *Handle {
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Handle{provider: provider, logger: logger, now: time.Now}
}

// Current returns the active session, initialising one if needed. A session
// past its expiry is refreshed before it is handed out.
func (h *Handle) Current(ctx context.Context) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil {
		if !h.current.Expired(h.now()) {
			return h.current, nil
		}
		h.logger.Printf("Session expired at %s, refreshing", h.current.ExpiresAt.Format(time.RFC3339))
		return h.refreshLocked(ctx)
	}

	s, err := h.provider.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise session: %w", err)
	}
	h.current = s
	return s, nil
}

// Refresh logs the current session out and initialises a new one.
// A logout failure is logged; the new session is still requested.
func (h *Handle) Refresh(ctx context.Context) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshLocked(ctx)
}

func (h *Handle) refreshLocked(ctx context.Context) (*Session, error) {
	if h.current != nil {
		if err := h.provider.Logout(ctx, h.current); err != nil {
			h.logger.Printf("WARNING: logout before refresh failed: %v", err)
		}
		h.current = nil
	}

	s, err := h.provider.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	h.current = s
	h.refreshCount++
	h.logger.Printf("Session refreshed (refresh #%d)", h.refreshCount)
	return s, nil
}

// Refreshes returns how many times the session was refreshed.
func (h *Handle) Refreshes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshCount
}

// Close logs out the current session, if any.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == nil {
		return nil
	}
	err := h.provider.Logout(ctx, h.current)
	h.current = nil
	return err
}
