// Package ai generates issue summaries, suggestions, duplicate hints and
// label recommendations through an OpenAI-compatible chat completion API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider produces a completion for a prompt.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("ai provider not configured")

// HTTPProvider talks to an OpenAI-compatible /chat/completions endpoint.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPProvider creates a provider. Returns nil if apiKey is empty, which
// callers treat as "AI disabled".
func NewHTTPProvider(baseURL, apiKey, model string) *HTTPProvider {
	if apiKey == "" {
		return nil
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt and returns the first choice's content.
func (p *HTTPProvider) Complete(ctx context.Context, system, user string) (string, error) {
	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.3,
		MaxTokens:   1024,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ai provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read ai response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode ai response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("ai provider error: %s", parsed.Error.Message)
		}
		return "", fmt.Errorf("ai provider status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("ai provider returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
