package avito

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

const tokenCacheKey = "avito:access_token"

// TokenManager obtains and caches Avito client_credentials access tokens.
// Refreshes are serialized behind a mutex so concurrent callers never trigger
// duplicate token requests.
type TokenManager struct {
	clientID     string
	clientSecret string
	tokenURL     string
	margin       time.Duration
	redis        *redis.Client
	httpClient   *http.Client
	logger       *logging.Logger

	mu sync.Mutex
}

// TokenConfig controls TokenManager behavior.
type TokenConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// RefreshMargin renews the token this long before expiry.
	RefreshMargin time.Duration
	HTTPClient    *http.Client
}

func NewTokenManager(cfg TokenConfig, redisClient *redis.Client, logger *logging.Logger) *TokenManager {
	if logger == nil {
		logger = logging.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &TokenManager{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     strings.TrimRight(cfg.BaseURL, "/") + "/token",
		margin:       margin,
		redis:        redisClient,
		httpClient:   httpClient,
		logger:       logger,
	}
}

// AccessToken returns a valid token, requesting a new one when the cached
// token is missing or close to expiry.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token := m.cachedToken(ctx); token != "" {
		return token, nil
	}
	return m.requestToken(ctx)
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (m *TokenManager) Invalidate(ctx context.Context) {
	if err := m.redis.Del(ctx, tokenCacheKey).Err(); err != nil {
		m.logger.Warn("failed to drop cached avito token", "error", err)
	}
}

func (m *TokenManager) cachedToken(ctx context.Context) string {
	token, err := m.redis.Get(ctx, tokenCacheKey).Result()
	if err != nil {
		if err != redis.Nil {
			m.logger.Warn("avito token cache read failed", "error", err)
		}
		return ""
	}
	ttl, err := m.redis.TTL(ctx, tokenCacheKey).Result()
	if err != nil {
		return token
	}
	if ttl >= 0 && ttl < m.margin {
		m.logger.Debug("cached avito token close to expiry, refreshing", "ttl", ttl)
		return ""
	}
	return token
}

func (m *TokenManager) requestToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("avito: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	m.logger.Info("requesting new avito access token")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("avito: token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("avito: read token response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("avito: decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("avito: token response missing access_token")
	}

	ttl := time.Duration(parsed.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := m.redis.Set(ctx, tokenCacheKey, parsed.AccessToken, ttl).Err(); err != nil {
		m.logger.Warn("failed to cache avito token", "error", err)
	}
	m.logger.Debug("avito token cached", "ttl", ttl)
	return parsed.AccessToken, nil
}
