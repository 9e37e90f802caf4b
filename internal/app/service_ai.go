package app

import (
	"context"
	"errors"
	"net/http"

	"backlog/api/internal/ai"
	"backlog/api/internal/store"
)

// AIResult wraps a generated answer for the API.
type AIResult struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s *Service) aiIssueInput(issue store.Issue) ai.IssueInput {
	return ai.IssueInput{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Type:        issue.Type,
		Priority:    issue.Priority,
		Status:      issue.StatusName,
	}
}

func mapAIError(err error) error {
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		return domainError(http.StatusServiceUnavailable, "AI_DISABLED", "the AI assistant is not configured")
	case errors.Is(err, ai.ErrRateLimited):
		return domainError(http.StatusTooManyRequests, "AI_RATE_LIMITED", "too many AI requests, try again later")
	}
	return err
}

// SummarizeIssue produces a short summary of the issue and its comments.
func (s *Service) SummarizeIssue(ctx context.Context, issueID, userID string) (AIResult, error) {
	issue, _, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return AIResult{}, err
	}
	content, err := s.ai.Summarize(ctx, userID, s.aiIssueInput(issue))
	if err != nil {
		return AIResult{}, mapAIError(err)
	}
	return AIResult{Type: ai.TypeSummary, Content: content}, nil
}

// SuggestNextSteps asks for concrete follow-up actions on the issue.
func (s *Service) SuggestNextSteps(ctx context.Context, issueID, userID string) (AIResult, error) {
	issue, _, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return AIResult{}, err
	}
	content, err := s.ai.Suggest(ctx, userID, s.aiIssueInput(issue))
	if err != nil {
		return AIResult{}, mapAIError(err)
	}
	return AIResult{Type: ai.TypeSuggest, Content: content}, nil
}

// FindDuplicateIssues compares the issue against the rest of its project.
func (s *Service) FindDuplicateIssues(ctx context.Context, issueID, userID string) (AIResult, error) {
	issue, _, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return AIResult{}, err
	}
	others, err := s.store.ListIssues(ctx, issue.ProjectID, store.IssueFilter{})
	if err != nil {
		return AIResult{}, err
	}
	candidates := make([]ai.Candidate, 0, len(others))
	for _, other := range others {
		if other.ID == issue.ID {
			continue
		}
		candidates = append(candidates, ai.Candidate{Number: other.Number, Title: other.Title})
	}
	content, err := s.ai.FindDuplicates(ctx, userID, s.aiIssueInput(issue), candidates)
	if err != nil {
		return AIResult{}, mapAIError(err)
	}
	return AIResult{Type: ai.TypeDuplicates, Content: content}, nil
}

// SuggestIssueLabels picks fitting labels from the project's label set.
func (s *Service) SuggestIssueLabels(ctx context.Context, issueID, userID string) (AIResult, error) {
	issue, _, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return AIResult{}, err
	}
	labels, err := s.store.ListLabels(ctx, issue.ProjectID)
	if err != nil {
		return AIResult{}, err
	}
	available := make([]string, 0, len(labels))
	for _, l := range labels {
		available = append(available, l.Name)
	}
	content, err := s.ai.SuggestLabels(ctx, userID, s.aiIssueInput(issue), available)
	if err != nil {
		return AIResult{}, mapAIError(err)
	}
	return AIResult{Type: ai.TypeLabels, Content: content}, nil
}
