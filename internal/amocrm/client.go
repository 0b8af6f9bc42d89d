package amocrm

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

// APIError is returned for non-2xx amoCRM responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amocrm: API returned status %d: %s", e.StatusCode, e.Body)
}

// ErrRateLimited is returned when retries against a 429 are exhausted.
var ErrRateLimited = errors.New("amocrm: rate limit exceeded")

type tokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate(ctx context.Context)
}

// Config controls the amoCRM client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
}

// Client wraps the amoCRM v4 REST endpoints the pipeline needs.
type Client struct {
	baseURL    string
	tokens     tokenSource
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

func New(cfg Config, tokens tokenSource, logger *logging.Logger) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("amocrm: token source is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("amocrm: base URL is required")
	}
	if logger == nil {
		logger = logging.Default()
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
		maxRetries = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/api/v4",
		tokens:     tokens,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

// FindContactByPhone searches contacts by a phone-derived query. Returns nil
// when no contact matches.
func (c *Client) FindContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, errors.New("amocrm: search query is required")
	}
	q := url.Values{"query": {phone}}
	data, err := c.invoke(ctx, http.MethodGet, "/contacts", q, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var parsed struct {
		Embedded struct {
			Contacts []Contact `json:"contacts"`
		} `json:"_embedded"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("amocrm: decode contacts response: %w", err)
	}
	if len(parsed.Embedded.Contacts) == 0 {
		return nil, nil
	}
	return &parsed.Embedded.Contacts[0], nil
}

// FindLeadsByContact returns the contact's leads inside one pipeline.
func (c *Client) FindLeadsByContact(ctx context.Context, contactID, pipelineID int64) ([]Lead, error) {
	q := url.Values{
		"filter[contacts][]":  {strconv.FormatInt(contactID, 10)},
		"filter[pipeline_id]": {strconv.FormatInt(pipelineID, 10)},
	}
	data, err := c.invoke(ctx, http.MethodGet, "/leads", q, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var parsed struct {
		Embedded struct {
			Leads []Lead `json:"leads"`
		} `json:"_embedded"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("amocrm: decode leads response: %w", err)
	}
	return parsed.Embedded.Leads, nil
}

// CreateContact creates a contact with phone/email custom fields.
func (c *Client) CreateContact(ctx context.Context, req CreateContactRequest) (int64, error) {
	payload := map[string]any{"name": req.Name}

	var fields []CustomField
	if req.Phone != "" {
		fields = append(fields, CustomField{
			FieldCode: "PHONE",
			Values:    []CustomFieldValue{{Value: req.Phone}},
		})
	}
	if req.Email != "" {
		fields = append(fields, CustomField{
			FieldCode: "EMAIL",
			Values:    []CustomFieldValue{{Value: req.Email}},
		})
	}
	if len(fields) > 0 {
		payload["custom_fields_values"] = fields
	}

	data, err := c.invokeJSON(ctx, http.MethodPost, "/contacts", []any{payload})
	if err != nil {
		return 0, err
	}
	id, err := firstEmbeddedID(data, "contacts")
	if err != nil {
		return 0, err
	}
	c.logger.Info("amocrm contact created", "contact_id", id)
	return id, nil
}

// CreateLead creates a lead, optionally linked to a contact.
func (c *Client) CreateLead(ctx context.Context, req CreateLeadRequest) (int64, error) {
	payload := map[string]any{"name": req.Name}
	if req.StatusID != 0 {
		payload["status_id"] = req.StatusID
	}
	if req.PipelineID != 0 {
		payload["pipeline_id"] = req.PipelineID
	}
	if req.Price > 0 {
		payload["price"] = req.Price
	}
	if len(req.Fields) > 0 {
		payload["custom_fields_values"] = req.Fields
	}
	if req.ContactID != 0 {
		payload["_embedded"] = map[string]any{
			"contacts": []map[string]any{{"id": req.ContactID}},
		}
	}

	data, err := c.invokeJSON(ctx, http.MethodPost, "/leads", []any{payload})
	if err != nil {
		return 0, err
	}
	id, err := firstEmbeddedID(data, "leads")
	if err != nil {
		return 0, err
	}
	c.logger.Info("amocrm lead created", "lead_id", id)
	return id, nil
}

// UpdateLeadStatus moves a lead to a new pipeline status.
func (c *Client) UpdateLeadStatus(ctx context.Context, leadID, statusID int64) error {
	payload := map[string]any{"status_id": statusID}
	_, err := c.invokeJSON(ctx, http.MethodPatch, fmt.Sprintf("/leads/%d", leadID), payload)
	return err
}

// AddNote attaches a common note to a lead.
func (c *Client) AddNote(ctx context.Context, leadID int64, text string) error {
	payload := []any{map[string]any{
		"entity_id": leadID,
		"note_type": "common",
		"params":    map[string]string{"text": text},
	}}
	_, err := c.invokeJSON(ctx, http.MethodPost, fmt.Sprintf("/leads/%d/notes", leadID), payload)
	return err
}

func (c *Client) invokeJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("amocrm: marshal request body: %w", err)
	}
	return c.invoke(ctx, method, path, nil, body)
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	invalidated := false
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
			return nil, fmt.Errorf("amocrm: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !retryableNetErr(err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("amocrm: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("amocrm: read response: %w", readErr)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data, nil

		case resp.StatusCode == http.StatusUnauthorized && !invalidated:
			// Stale token: invalidate once and retry with a fresh one.
			c.logger.Warn("amocrm 401, refreshing tokens")
			c.tokens.Invalidate(ctx)
			invalidated = true
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt == c.maxRetries {
				return nil, ErrRateLimited
			}
			lastErr = ErrRateLimited
			c.logRetry(path, attempt, resp.StatusCode, lastErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
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
	return nil, errors.New("amocrm: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("amocrm retry",
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

func firstEmbeddedID(data []byte, key string) (int64, error) {
	var parsed struct {
		Embedded map[string][]struct {
			ID int64 `json:"id"`
		} `json:"_embedded"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("amocrm: decode create response: %w", err)
	}
	entries := parsed.Embedded[key]
	if len(entries) == 0 {
		return 0, fmt.Errorf("amocrm: create response missing %s entry", key)
	}
	return entries[0].ID, nil
}
