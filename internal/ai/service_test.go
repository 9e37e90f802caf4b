package ai

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backlog/api/internal/store"
)

type fakeProvider struct {
	calls    int
	response string
	err      error
}

func (p *fakeProvider) Complete(ctx context.Context, system, user string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.response, nil
}

type fakeCache struct {
	entries map[string]store.AICacheEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]store.AICacheEntry)}
}

func (c *fakeCache) GetAICache(ctx context.Context, issueID, entryType string) (store.AICacheEntry, error) {
	entry, ok := c.entries[issueID+"/"+entryType]
	if !ok {
		return store.AICacheEntry{}, sql.ErrNoRows
	}
	return entry, nil
}

func (c *fakeCache) SaveAICache(ctx context.Context, entry store.AICacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	c.entries[entry.IssueID+"/"+entry.Type] = entry
	return nil
}

type fakeLimiter struct {
	allowed bool
	calls   int
}

func (l *fakeLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	l.calls++
	return l.allowed, 0, nil
}

func testIssue() IssueInput {
	return IssueInput{
		ID:          "iss_1",
		Title:       "Login page crashes",
		Description: "Crashes on submit with empty email",
		Type:        "BUG",
		Priority:    "HIGH",
		Status:      "To Do",
	}
}

func TestSummarizeGeneratesAndCaches(t *testing.T) {
	provider := &fakeProvider{response: "The login page crashes on empty email."}
	cache := newFakeCache()
	limiter := &fakeLimiter{allowed: true}
	svc := NewService(provider, cache, limiter)
	ctx := context.Background()

	out, err := svc.Summarize(ctx, "usr_1", testIssue())
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if out != provider.response {
		t.Errorf("unexpected output: %q", out)
	}
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.calls)
	}

	// Second call with the same input hits the cache.
	out, err = svc.Summarize(ctx, "usr_1", testIssue())
	if err != nil {
		t.Fatalf("second Summarize failed: %v", err)
	}
	if out != provider.response {
		t.Errorf("unexpected cached output: %q", out)
	}
	if provider.calls != 1 {
		t.Errorf("cached call should not hit the provider, got %d calls", provider.calls)
	}
}

func TestChangedInputBypassesCache(t *testing.T) {
	provider := &fakeProvider{response: "summary"}
	cache := newFakeCache()
	limiter := &fakeLimiter{allowed: true}
	svc := NewService(provider, cache, limiter)
	ctx := context.Background()

	if _, err := svc.Summarize(ctx, "usr_1", testIssue()); err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	issue := testIssue()
	issue.Description = "Now crashes on every submit"
	if _, err := svc.Summarize(ctx, "usr_1", issue); err != nil {
		t.Fatalf("Summarize with changed input failed: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("changed input should regenerate, got %d calls", provider.calls)
	}
}

func TestExpiredCacheRegenerates(t *testing.T) {
	provider := &fakeProvider{response: "summary"}
	cache := newFakeCache()
	limiter := &fakeLimiter{allowed: true}
	svc := NewService(provider, cache, limiter)
	ctx := context.Background()

	if _, err := svc.Summarize(ctx, "usr_1", testIssue()); err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	// Age the cached entry past the TTL.
	key := "iss_1/" + TypeSummary
	entry := cache.entries[key]
	entry.CreatedAt = time.Now().Add(-25 * time.Hour)
	cache.entries[key] = entry

	if _, err := svc.Summarize(ctx, "usr_1", testIssue()); err != nil {
		t.Fatalf("Summarize after expiry failed: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("expired cache should regenerate, got %d calls", provider.calls)
	}
}

func TestRateLimited(t *testing.T) {
	provider := &fakeProvider{response: "summary"}
	svc := NewService(provider, newFakeCache(), &fakeLimiter{allowed: false})

	_, err := svc.Summarize(context.Background(), "usr_1", testIssue())
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if provider.calls != 0 {
		t.Error("rate-limited call should not hit the provider")
	}
}

func TestCachedAnswerSkipsRateLimit(t *testing.T) {
	provider := &fakeProvider{response: "summary"}
	cache := newFakeCache()
	limiter := &fakeLimiter{allowed: true}
	svc := NewService(provider, cache, limiter)
	ctx := context.Background()

	if _, err := svc.Summarize(ctx, "usr_1", testIssue()); err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	limiter.allowed = false
	out, err := svc.Summarize(ctx, "usr_1", testIssue())
	if err != nil {
		t.Fatalf("cached Summarize should not be rate limited: %v", err)
	}
	if out != provider.response {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream down")}
	svc := NewService(provider, newFakeCache(), &fakeLimiter{allowed: true})

	if _, err := svc.Summarize(context.Background(), "usr_1", testIssue()); err == nil {
		t.Error("expected error from failing provider")
	}
}

func TestDisabledService(t *testing.T) {
	svc := NewService(NewHTTPProvider("http://localhost", "", "model"), newFakeCache(), &fakeLimiter{allowed: true})

	if svc.Enabled() {
		t.Error("service with empty api key should be disabled")
	}
	_, err := svc.Summarize(context.Background(), "usr_1", testIssue())
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestHTTPProviderComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key123" {
			t.Errorf("unexpected auth header %q", auth)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}

		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{
				{Message: chatMessage{Role: "assistant", Content: "hello"}},
			},
		})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "key123", "test-model")
	out, err := provider.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "hello" {
		t.Errorf("unexpected completion %q", out)
	}
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "key123", "test-model")
	_, err := provider.Complete(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
