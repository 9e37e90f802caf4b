package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The tsvectors are computed inline; at fallback scale that is fine.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across issues and comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.TeamIDs) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	teamPlaceholders := make([]string, len(q.TeamIDs))
	for i, teamID := range q.TeamIDs {
		teamPlaceholders[i] = fmt.Sprintf("$%d", argN)
		args = append(args, teamID)
		argN++
	}
	teamIn := "p.team_id IN (" + strings.Join(teamPlaceholders, ", ") + ")"

	projectFilter := ""
	if q.FilterProjectID != "" {
		projectFilter = fmt.Sprintf(" AND p.id = $%d", argN)
		args = append(args, q.FilterProjectID)
		argN++
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultIssue {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'issue'::text AS type, i.id, i.title,
				ts_headline('english', coalesce(i.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				i.id AS issue_id, p.id AS project_id, p.team_id,
				ts_rank(to_tsvector('english', i.title || ' ' || coalesce(i.description, '')), %s) AS rank
			FROM issues i
			JOIN projects p ON p.id = i.project_id
			WHERE to_tsvector('english', i.title || ' ' || coalesce(i.description, '')) @@ %s
				AND i.deleted_at IS NULL AND %s%s`, tsQuery, tsQuery, tsQuery, teamIn, projectFilter))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, ''::text AS title,
				ts_headline('english', c.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.issue_id, p.id AS project_id, p.team_id,
				ts_rank(to_tsvector('english', c.content), %s) AS rank
			FROM issue_comments c
			JOIN issues i ON i.id = c.issue_id
			JOIN projects p ON p.id = i.project_id
			WHERE to_tsvector('english', c.content) @@ %s
				AND c.deleted_at IS NULL AND i.deleted_at IS NULL AND %s%s`, tsQuery, tsQuery, tsQuery, teamIn, projectFilter))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, issue_id, project_id, team_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.IssueID, &r.ProjectID, &r.TeamID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]IssueRecord, []CommentRecord, error) {
	issueRows, err := p.db.QueryContext(ctx, `
		SELECT i.id, i.title, coalesce(i.description, ''), i.number, p.id, p.team_id, st.name, i.type, i.priority
		FROM issues i
		JOIN projects p ON p.id = i.project_id
		JOIN issue_statuses st ON st.id = i.status_id
		WHERE i.deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load issues: %w", err)
	}
	defer issueRows.Close()

	issues := make([]IssueRecord, 0)
	for issueRows.Next() {
		var rec IssueRecord
		if err := issueRows.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Number, &rec.ProjectID, &rec.TeamID, &rec.Status, &rec.Type, &rec.Priority); err != nil {
			return nil, nil, fmt.Errorf("scan issue record: %w", err)
		}
		issues = append(issues, rec)
	}
	if err := issueRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate issue records: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.issue_id, p.id, p.team_id
		FROM issue_comments c
		JOIN issues i ON i.id = c.issue_id
		JOIN projects p ON p.id = i.project_id
		WHERE c.deleted_at IS NULL AND i.deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var rec CommentRecord
		if err := commentRows.Scan(&rec.ID, &rec.Content, &rec.IssueID, &rec.ProjectID, &rec.TeamID); err != nil {
			return nil, nil, fmt.Errorf("scan comment record: %w", err)
		}
		comments = append(comments, rec)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comment records: %w", err)
	}

	return issues, comments, nil
}
