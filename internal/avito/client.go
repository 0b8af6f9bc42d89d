package avito

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

const defaultUserAgent = "avito-ai-platform/0.1"

// tokenSource abstracts TokenManager for tests.
type tokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate(ctx context.Context)
}

// Config controls how the Avito client behaves.
type Config struct {
	BaseURL    string
	UserID     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

// Client wraps the Avito messenger and items REST endpoints.
type Client struct {
	baseURL    string
	userID     string
	tokens     tokenSource
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	userAgent  string
}

// Item is a published Avito listing.
type Item struct {
	ID     json.Number `json:"id"`
	Title  string      `json:"title"`
	Status string      `json:"status"`
	URL    string      `json:"url"`
}

// ItemStats holds view/contact counters for a listing.
type ItemStats struct {
	Views     int `json:"views"`
	Contacts  int `json:"contacts"`
	Favorites int `json:"favorites"`
}

// New creates a configured Client with sane defaults.
func New(cfg Config, tokens tokenSource, logger *logging.Logger) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("avito: token source is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.avito.ru"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		userID:     strings.TrimSpace(cfg.UserID),
		tokens:     tokens,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// SendMessage posts a text message into an Avito chat.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("avito: chat id is required")
	}
	body, err := json.Marshal(struct {
		Type    string `json:"type"`
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}{
		Type: "text",
		Message: struct {
			Text string `json:"text"`
		}{Text: text},
	})
	if err != nil {
		return fmt.Errorf("avito: marshal message body: %w", err)
	}
	path := fmt.Sprintf("/messenger/v1/accounts/%s/chats/%s/messages", c.userID, chatID)
	_, err = c.invoke(ctx, http.MethodPost, path, nil, body)
	return err
}

// GetItems lists the account's published listings.
func (c *Client) GetItems(ctx context.Context) ([]Item, error) {
	data, err := c.invoke(ctx, http.MethodGet, "/core/v1/items", nil, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("avito: decode items response: %w", err)
	}
	return parsed.Items, nil
}

// GetItemStats fetches view/contact statistics for a listing.
func (c *Client) GetItemStats(ctx context.Context, itemID string) (*ItemStats, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, errors.New("avito: item id is required")
	}
	data, err := c.invoke(ctx, http.MethodGet, fmt.Sprintf("/core/v1/items/%s/stats", itemID), nil, nil)
	if err != nil {
		return nil, err
	}
	var stats ItemStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("avito: decode item stats: %w", err)
	}
	return &stats, nil
}

// RegisterWebhook subscribes the given URL to messenger events.
func (c *Client) RegisterWebhook(ctx context.Context, webhookURL string) error {
	body, err := json.Marshal(map[string]string{"url": webhookURL})
	if err != nil {
		return fmt.Errorf("avito: marshal webhook body: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPost, "/messenger/v3/webhook", nil, body)
	return err
}

// WebhookStatus returns the current messenger subscriptions.
func (c *Client) WebhookStatus(ctx context.Context) (json.RawMessage, error) {
	data, err := c.invoke(ctx, http.MethodPost, "/messenger/v1/subscriptions", nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// UnregisterWebhook removes the subscription for the given URL.
func (c *Client) UnregisterWebhook(ctx context.Context, webhookURL string) error {
	body, err := json.Marshal(map[string]string{"url": webhookURL})
	if err != nil {
		return fmt.Errorf("avito: marshal webhook body: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPost, "/messenger/v1/webhook/unsubscribe", nil, body)
	return err
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}

		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("avito: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !retryableNetErr(err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("avito: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, c.backoff*time.Duration(1<<attempt)); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("avito: read response: %w", readErr)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data, nil

		case resp.StatusCode == http.StatusUnauthorized:
			// Cached token is stale: invalidate once and retry.
			c.tokens.Invalidate(ctx)
			if attempt == c.maxRetries {
				return nil, &AuthError{StatusCode: resp.StatusCode}
			}
			lastErr = &AuthError{StatusCode: resp.StatusCode}
			c.logRetry(path, attempt, resp.StatusCode, lastErr)
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := c.backoff * time.Duration(1<<attempt)
			if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > wait {
				wait = ra
			}
			if attempt == c.maxRetries {
				return nil, &RateLimitError{RetryAfter: wait}
			}
			lastErr = &RateLimitError{RetryAfter: wait}
			c.logRetry(path, attempt, resp.StatusCode, lastErr)
			if sleepErr := c.sleep(ctx, wait); sleepErr != nil {
				return nil, sleepErr
			}
			continue

		case resp.StatusCode >= 500:
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
			if attempt == c.maxRetries {
				return nil, apiErr
			}
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, c.backoff*time.Duration(1<<attempt)); sleepErr != nil {
				return nil, sleepErr
			}
			continue

		default:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("avito: request failed without response")
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("avito retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func retryableNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return !errors.Is(err, context.Canceled)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
