package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Static hands out a fixed, pre-issued token. Logout is a no-op.
type Static struct {
	Token string
}

// Init implements Provider.
func (s Static) Init(context.Context) (*Session, error) {
	if s.Token == "" {
		return nil, ErrNoSession
	}
	return &Session{AccessToken: s.Token, TokenType: "bearer"}, nil
}

// Logout implements Provider.
func (Static) Logout(context.Context, *Session) error { return nil }

// ClientCredentials obtains sessions with the OAuth2 client_credentials grant.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// KillURL, when set, receives a DELETE carrying the session token on logout.
	KillURL string

	HTTPClient *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ExpiresAt   string `json:"expires_at"`
	AccountID   string `json:"account_id"`
}

func (c *ClientCredentials) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Init implements Provider.
func (c *ClientCredentials) Init(ctx context.Context) (*Session, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: token endpoint returned %d", ErrInvalidCredentials, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access_token")
	}

	s := &Session{AccessToken: tr.AccessToken, TokenType: tr.TokenType, AccountID: tr.AccountID}
	switch {
	case tr.ExpiresAt != "":
		if t, err := time.Parse(time.RFC3339, tr.ExpiresAt); err == nil {
			s.ExpiresAt = t
		}
	case tr.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return s, nil
}

// Logout implements Provider.
func (c *ClientCredentials) Logout(ctx context.Context, s *Session) error {
	if c.KillURL == "" || s == nil {
		return nil
	}
	target := strings.TrimRight(c.KillURL, "/") + "/" + url.PathEscape(s.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build logout request: %w", err)
	}
	req.Header.Set("Authorization", s.Authorization())

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("logout returned %d", resp.StatusCode)
	}
	return nil
}
