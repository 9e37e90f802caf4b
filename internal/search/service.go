package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexIssue indexes an issue (fire-and-forget to Meilisearch).
func (s *Service) IndexIssue(issue IssueRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexIssue(issue); err != nil {
			log.Printf("search: index issue %s: %v", issue.ID, err)
		}
	}()
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(comment CommentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(comment); err != nil {
			log.Printf("search: index comment %s: %v", comment.ID, err)
		}
	}()
}

// DeleteIssue removes an issue from the search index (fire-and-forget).
func (s *Service) DeleteIssue(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteIssue(id); err != nil {
			log.Printf("search: delete issue %s: %v", id, err)
		}
	}()
}

// DeleteComment removes a comment from the search index (fire-and-forget).
func (s *Service) DeleteComment(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			log.Printf("search: delete comment %s: %v", id, err)
		}
	}()
}

// DeleteProjectDocuments removes everything indexed under a project.
// PG FTS needs no cleanup since it queries live rows.
func (s *Service) DeleteProjectDocuments(ctx context.Context, projectID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProject(projectID); err != nil {
			log.Printf("search: delete project %s documents: %v", projectID, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called during startup if Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	issues, comments, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexIssues(issues); err != nil {
		log.Printf("search: reindex issues: %v", err)
	}
	if err := s.meili.IndexComments(comments); err != nil {
		log.Printf("search: reindex comments: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
