package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenLifetime is how long a fetched token is trusted. The provider issues
// two-hour tokens; thirty minutes are kept as margin.
const TokenLifetime = 90 * time.Minute

// refreshTimeout bounds a shared refresh, which outlives any one caller.
const refreshTimeout = 30 * time.Second

// TokenSource hands out bearer tokens for the remote API.
type TokenSource interface {
	// Token returns the cached token unless it expired or forceRefresh is set.
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// TokenConfig configures a TokenCache.
type TokenConfig struct {
	BaseURL    string
	PublicKey  string
	Lifetime   time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// TokenCache caches one bearer token and refreshes it on expiry or demand.
// Concurrent refreshes collapse into a single auth request.
type TokenCache struct {
	baseURL    string
	publicKey  string
	lifetime   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time

	group singleflight.Group
}

// NewTokenCache creates a token cache.
func NewTokenCache(cfg TokenConfig) *TokenCache {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = TokenLifetime
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenCache{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		publicKey:  cfg.PublicKey,
		lifetime:   cfg.Lifetime,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Token implements TokenSource.
func (c *TokenCache) Token(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		c.mu.Lock()
		if c.token != "" && c.now().Before(c.expiry) {
			token := c.token
			c.mu.Unlock()
			return token, nil
		}
		c.mu.Unlock()
	}

	// The refresh is shared by every waiter, so one caller giving up must
	// not fail the others.
	ch := c.group.DoChan("token", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(rctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}

// Expiry returns when the cached token stops being used.
func (c *TokenCache) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	if c.publicKey == "" {
		return "", authError("auth", errors.New("no public key configured"))
	}

	body, err := json.Marshal(map[string]string{"public_key": c.publicKey})
	if err != nil {
		return "", authError("auth", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return "", authError("auth", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", authError("auth", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", authError("auth", fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			Op:         "auth",
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
			kind:       ErrAuth,
		}
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", authError("auth", fmt.Errorf("failed to decode response: %w", err))
	}
	if parsed.Token == "" {
		return "", authError("auth", errors.New("response did not contain a token"))
	}

	expiry := c.now().Add(c.lifetime)
	c.mu.Lock()
	c.token = parsed.Token
	c.expiry = expiry
	c.mu.Unlock()

	c.logger.Debug("remote token refreshed", "expires", expiry)
	return parsed.Token, nil
}

var _ TokenSource = (*TokenCache)(nil)
