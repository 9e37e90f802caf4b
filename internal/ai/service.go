package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"backlog/api/internal/store"
)

const (
	TypeSummary    = "summary"
	TypeSuggest    = "suggest"
	TypeDuplicates = "duplicates"
	TypeLabels     = "labels"
)

// ErrRateLimited is returned when the caller has exhausted their window.
var ErrRateLimited = errors.New("ai request limit reached")

// cacheTTL bounds how long a generated answer is reused for unchanged input.
const cacheTTL = 24 * time.Hour

// CacheStore persists generated answers keyed by issue and type.
type CacheStore interface {
	GetAICache(ctx context.Context, issueID, entryType string) (store.AICacheEntry, error)
	SaveAICache(ctx context.Context, entry store.AICacheEntry) error
}

// Limiter throttles generation per user.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int, error)
}

// IssueInput is the issue context fed into prompts.
type IssueInput struct {
	ID          string
	Title       string
	Description string
	Type        string
	Priority    string
	Status      string
}

// Candidate is a sibling issue considered for duplicate detection.
type Candidate struct {
	Number int
	Title  string
}

// Service generates issue text through the provider, with a per-user rate
// limit and a per-issue TTL cache. A nil provider means AI is disabled.
type Service struct {
	provider Provider
	cache    CacheStore
	limiter  Limiter
}

func NewService(provider Provider, cache CacheStore, limiter Limiter) *Service {
	return &Service{provider: provider, cache: cache, limiter: limiter}
}

// Enabled reports whether a provider is configured.
func (s *Service) Enabled() bool {
	return s.provider != nil && interfaceIsNonNil(s.provider)
}

// interfaceIsNonNil guards against a typed-nil *HTTPProvider stored in the
// Provider interface.
func interfaceIsNonNil(p Provider) bool {
	if hp, ok := p.(*HTTPProvider); ok {
		return hp != nil
	}
	return true
}

// Summarize produces a short summary of the issue.
func (s *Service) Summarize(ctx context.Context, userID string, issue IssueInput) (string, error) {
	system := "You are an assistant for an issue tracker. Summarize the issue in at most three sentences. Be factual and concise."
	return s.generate(ctx, userID, issue.ID, TypeSummary, system, issuePrompt(issue))
}

// Suggest produces improvement suggestions for the issue description.
func (s *Service) Suggest(ctx context.Context, userID string, issue IssueInput) (string, error) {
	system := "You are an assistant for an issue tracker. Suggest concrete next steps or missing details for this issue as a short bullet list."
	return s.generate(ctx, userID, issue.ID, TypeSuggest, system, issuePrompt(issue))
}

// FindDuplicates asks whether the issue duplicates any of the candidates.
func (s *Service) FindDuplicates(ctx context.Context, userID string, issue IssueInput, candidates []Candidate) (string, error) {
	var b strings.Builder
	b.WriteString(issuePrompt(issue))
	b.WriteString("\n\nExisting issues in the same project:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "#%d: %s\n", c.Number, c.Title)
	}
	system := "You are an assistant for an issue tracker. List the numbers of any existing issues that likely describe the same problem as the new issue, with a one-line reason each. If none match, say so."
	return s.generate(ctx, userID, issue.ID, TypeDuplicates, system, b.String())
}

// SuggestLabels picks fitting labels from the project's label set.
func (s *Service) SuggestLabels(ctx context.Context, userID string, issue IssueInput, available []string) (string, error) {
	var b strings.Builder
	b.WriteString(issuePrompt(issue))
	b.WriteString("\n\nAvailable labels: ")
	b.WriteString(strings.Join(available, ", "))
	system := "You are an assistant for an issue tracker. From the available labels only, pick up to three that fit this issue. Answer with a comma-separated list, or 'none'."
	return s.generate(ctx, userID, issue.ID, TypeLabels, system, b.String())
}

func issuePrompt(issue IssueInput) string {
	return fmt.Sprintf("Title: %s\nType: %s\nPriority: %s\nStatus: %s\nDescription:\n%s",
		issue.Title, issue.Type, issue.Priority, issue.Status, issue.Description)
}

func (s *Service) generate(ctx context.Context, userID, issueID, entryType, system, user string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}

	inputHash := hashInput(system, user)

	// Unchanged input within the TTL is served from cache without touching
	// the rate limit.
	if entry, err := s.cache.GetAICache(ctx, issueID, entryType); err == nil {
		if entry.ContentHash == inputHash && time.Since(entry.CreatedAt) < cacheTTL {
			return entry.Content, nil
		}
	}

	allowed, _, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("check rate limit: %w", err)
	}
	if !allowed {
		return "", ErrRateLimited
	}

	content, err := s.provider.Complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", entryType, err)
	}

	entry := store.AICacheEntry{
		IssueID:     issueID,
		Type:        entryType,
		Content:     content,
		ContentHash: inputHash,
	}
	if err := s.cache.SaveAICache(ctx, entry); err != nil {
		// The answer is already generated; cache failures only cost a
		// regeneration later.
		return content, nil
	}

	return content, nil
}

func hashInput(system, user string) string {
	sum := sha256.Sum256([]byte(system + "\x00" + user))
	return hex.EncodeToString(sum[:])
}
