package avito

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

type staticTokens struct {
	token       string
	invalidated atomic.Int64
	issued      atomic.Int64
	failWithErr error
	secondToken string
}

func (s *staticTokens) AccessToken(ctx context.Context) (string, error) {
	if s.failWithErr != nil {
		return "", s.failWithErr
	}
	n := s.issued.Add(1)
	if n > 1 && s.secondToken != "" {
		return s.secondToken, nil
	}
	return s.token, nil
}

func (s *staticTokens) Invalidate(ctx context.Context) {
	s.invalidated.Add(1)
}

func newTestClient(t *testing.T, serverURL string) (*Client, *staticTokens) {
	t.Helper()
	tokens := &staticTokens{token: "tok-1", secondToken: "tok-2"}
	client, err := New(Config{
		BaseURL:    serverURL,
		UserID:     "12345",
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	}, tokens, logging.Default())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client, tokens
}

func TestSendMessageSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	if err := client.SendMessage(context.Background(), "chat-1", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if gotPath != "/messenger/v1/accounts/12345/chats/chat-1/messages" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("unexpected auth header %s", gotAuth)
	}
	msg, _ := gotBody["message"].(map[string]any)
	if msg["text"] != "hello" {
		t.Errorf("unexpected message body %#v", gotBody)
	}
}

func TestInvokeRetriesOn429WithRetryAfter(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	if _, err := client.GetItems(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestInvokeInvalidatesTokenOn401(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			t.Errorf("expected refreshed token, got %s", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	client, tokens := newTestClient(t, srv.URL)
	if _, err := client.GetItems(context.Background()); err != nil {
		t.Fatalf("expected 401 recovery, got %v", err)
	}
	if tokens.invalidated.Load() != 1 {
		t.Errorf("expected exactly one invalidation, got %d", tokens.invalidated.Load())
	}
}

func TestInvokeSurfacesClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad chat"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	err := client.SendMessage(context.Background(), "chat-1", "hi")
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", apiErr.StatusCode)
	}
}

func TestGetItemStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/core/v1/items/777/stats" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"views":120,"contacts":7,"favorites":3}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	stats, err := client.GetItemStats(context.Background(), "777")
	if err != nil {
		t.Fatalf("GetItemStats returned error: %v", err)
	}
	if stats.Views != 120 || stats.Contacts != 7 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("15"); got != 15*time.Second {
		t.Errorf("expected 15s, got %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("expected 0, got %s", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("expected 0 for junk header, got %s", got)
	}
}
