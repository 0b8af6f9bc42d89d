package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

const (
	tokensCacheKey = "amocrm:tokens"
	tokensCacheTTL = 24 * time.Hour
)

// ErrAuthorizationRequired is returned when no refresh token is available and
// the integration needs a fresh OAuth authorization code.
var ErrAuthorizationRequired = errors.New("amocrm: initial OAuth authorization required")

// TokenManager keeps the amoCRM OAuth2 token pair fresh. Refreshes are
// serialized behind a mutex.
type TokenManager struct {
	baseURL      string
	clientID     string
	clientSecret string
	redirectURI  string
	redis        *redis.Client
	httpClient   *http.Client
	logger       *logging.Logger

	mu sync.Mutex
}

type AuthConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	HTTPClient   *http.Client
}

func NewTokenManager(cfg AuthConfig, redisClient *redis.Client, logger *logging.Logger) *TokenManager {
	if logger == nil {
		logger = logging.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenManager{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		redis:        redisClient,
		httpClient:   httpClient,
		logger:       logger,
	}
}

// AccessToken returns a valid access token, refreshing through the stored
// refresh token when expired.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cached, err := m.cachedTokens(ctx)
	if err != nil {
		return "", err
	}
	if cached != nil && !cached.Expired() {
		return cached.AccessToken, nil
	}
	if cached == nil || cached.RefreshToken == "" {
		return "", ErrAuthorizationRequired
	}

	m.logger.Info("amocrm access token expired, refreshing")
	tokens, err := m.grant(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": cached.RefreshToken,
	})
	if err != nil {
		return "", err
	}
	if err := m.cacheTokens(ctx, tokens); err != nil {
		m.logger.Warn("failed to cache amocrm tokens", "error", err)
	}
	return tokens.AccessToken, nil
}

// ExchangeCode trades an authorization code for the initial token pair.
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens, err := m.grant(ctx, map[string]string{
		"grant_type": "authorization_code",
		"code":       code,
	})
	if err != nil {
		return err
	}
	return m.cacheTokens(ctx, tokens)
}

// Invalidate drops the cached token pair.
func (m *TokenManager) Invalidate(ctx context.Context) {
	if err := m.redis.Del(ctx, tokensCacheKey).Err(); err != nil {
		m.logger.Warn("failed to drop cached amocrm tokens", "error", err)
	}
}

func (m *TokenManager) cachedTokens(ctx context.Context) (*Tokens, error) {
	data, err := m.redis.Get(ctx, tokensCacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("amocrm: token cache read: %w", err)
	}
	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("amocrm: decode cached tokens: %w", err)
	}
	return &tokens, nil
}

func (m *TokenManager) cacheTokens(ctx context.Context, tokens *Tokens) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("amocrm: marshal tokens: %w", err)
	}
	return m.redis.Set(ctx, tokensCacheKey, data, tokensCacheTTL).Err()
}

func (m *TokenManager) grant(ctx context.Context, params map[string]string) (*Tokens, error) {
	payload := map[string]string{
		"client_id":     m.clientID,
		"client_secret": m.clientSecret,
		"redirect_uri":  m.redirectURI,
	}
	for k, v := range params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("amocrm: marshal grant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/oauth2/access_token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("amocrm: build grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("amocrm: grant request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("amocrm: read grant response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("amocrm: decode grant response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, errors.New("amocrm: grant response missing access_token")
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 86400
	}
	return &Tokens{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
