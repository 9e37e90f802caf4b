package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// CreateIssue assigns the per-project number and inserts the issue together
// with its "created" activity row in one transaction, so an issue can never
// exist without its first audit entry. Numbers are max(number)+1 over live
// rows; a number freed by deleting the highest issue is reused.
func (s *PostgresStore) CreateIssue(ctx context.Context, issue Issue, activity IssueActivity) (int, error) {
	var number int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(number), 0) + 1 FROM issues WHERE project_id=$1
		`, issue.ProjectID).Scan(&number); err != nil {
			return fmt.Errorf("next issue number: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issues (id, project_id, number, title, description, type, priority, status_id, assignee_id, reporter_id, due_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, issue.ID, issue.ProjectID, number, issue.Title, issue.Description, issue.Type, issue.Priority, issue.StatusID, issue.AssigneeID, issue.ReporterID, issue.DueDate); err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issue_activity (id, issue_id, actor_id, action)
			VALUES ($1, $2, $3, $4)
		`, activity.ID, issue.ID, activity.ActorID, activity.Action); err != nil {
			return fmt.Errorf("insert created activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

const issueColumns = `
	i.id, i.project_id, i.number, i.title, i.description, i.type, i.priority,
	i.status_id, i.assignee_id, i.reporter_id, i.due_date, i.deleted_at,
	i.created_at, i.updated_at,
	st.name AS status_name, COALESCE(a.name, '') AS assignee_name, COALESCE(r.name, '') AS reporter_name`

const issueJoins = `
	FROM issues i
	JOIN issue_statuses st ON st.id = i.status_id
	LEFT JOIN users a ON a.id = i.assignee_id
	LEFT JOIN users r ON r.id = i.reporter_id`

func scanIssue(scan func(...any) error) (Issue, error) {
	var item Issue
	err := scan(
		&item.ID,
		&item.ProjectID,
		&item.Number,
		&item.Title,
		&item.Description,
		&item.Type,
		&item.Priority,
		&item.StatusID,
		&item.AssigneeID,
		&item.ReporterID,
		&item.DueDate,
		&item.DeletedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.StatusName,
		&item.AssigneeName,
		&item.ReporterName,
	)
	if err != nil {
		return Issue{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetIssue(ctx context.Context, issueID string) (Issue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+issueJoins+` WHERE i.id=$1 AND i.deleted_at IS NULL`, issueID)
	item, err := scanIssue(row.Scan)
	if err != nil {
		return Issue{}, err
	}
	labels, err := s.listLabelsForIssue(ctx, issueID)
	if err != nil {
		return Issue{}, err
	}
	item.Labels = labels
	return item, nil
}

// ListIssues filters the project's live issues. The filter is built with
// squirrel because every field is optional and label filtering adds a join.
func (s *PostgresStore) ListIssues(ctx context.Context, projectID string, filter IssueFilter) ([]Issue, error) {
	builder := sq.Select(
		"i.id", "i.project_id", "i.number", "i.title", "i.description", "i.type", "i.priority",
		"i.status_id", "i.assignee_id", "i.reporter_id", "i.due_date", "i.deleted_at",
		"i.created_at", "i.updated_at",
		"st.name AS status_name", "COALESCE(a.name, '') AS assignee_name", "COALESCE(r.name, '') AS reporter_name",
	).
		From("issues i").
		Join("issue_statuses st ON st.id = i.status_id").
		LeftJoin("users a ON a.id = i.assignee_id").
		LeftJoin("users r ON r.id = i.reporter_id").
		Where(sq.Eq{"i.project_id": projectID}).
		Where("i.deleted_at IS NULL").
		OrderBy("i.number ASC").
		PlaceholderFormat(sq.Dollar)

	if filter.StatusID != "" {
		builder = builder.Where(sq.Eq{"i.status_id": filter.StatusID})
	}
	if filter.AssigneeID != "" {
		builder = builder.Where(sq.Eq{"i.assignee_id": filter.AssigneeID})
	}
	if filter.Type != "" {
		builder = builder.Where(sq.Eq{"i.type": filter.Type})
	}
	if filter.Priority != "" {
		builder = builder.Where(sq.Eq{"i.priority": filter.Priority})
	}
	if filter.LabelID != "" {
		builder = builder.Join("issue_labels il ON il.issue_id = i.id").Where(sq.Eq{"il.label_id": filter.LabelID})
	}
	if filter.Search != "" {
		builder = builder.Where(sq.Or{
			sq.ILike{"i.title": "%" + filter.Search + "%"},
			sq.ILike{"i.description": "%" + filter.Search + "%"},
		})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build issue query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	items := make([]Issue, 0)
	for rows.Next() {
		item, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}

	labelsByIssue, err := s.labelsByProjectIssues(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for idx := range items {
		items[idx].Labels = labelsByIssue[items[idx].ID]
	}
	return items, nil
}

// UpdateIssueWithActivity writes the patched row and its per-field diff
// entries in one transaction.
func (s *PostgresStore) UpdateIssueWithActivity(ctx context.Context, issue Issue, entries []IssueActivity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE issues
			SET title=$2, description=$3, type=$4, priority=$5, status_id=$6, assignee_id=$7, due_date=$8, updated_at=NOW()
			WHERE id=$1
		`, issue.ID, issue.Title, issue.Description, issue.Type, issue.Priority, issue.StatusID, issue.AssigneeID, issue.DueDate); err != nil {
			return fmt.Errorf("update issue: %w", err)
		}
		for _, entry := range entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issue_activity (id, issue_id, actor_id, action, field, old_value, new_value)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, entry.ID, entry.IssueID, entry.ActorID, entry.Action, entry.Field, entry.OldValue, entry.NewValue); err != nil {
				return fmt.Errorf("insert activity %s: %w", entry.Field, err)
			}
		}
		return nil
	})
}

// DeleteIssue removes the row outright. Comments soft-delete but issues do
// not; the UI relied on this asymmetry, so it is kept.
func (s *PostgresStore) DeleteIssue(ctx context.Context, issueID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE id=$1`, issueID)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIssueActivity(ctx context.Context, issueID string) ([]IssueActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ia.id, ia.issue_id, ia.actor_id, ia.action, ia.field, ia.old_value, ia.new_value, ia.created_at, COALESCE(u.name, '')
		FROM issue_activity ia
		LEFT JOIN users u ON u.id = ia.actor_id
		WHERE ia.issue_id=$1
		ORDER BY ia.created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list issue activity: %w", err)
	}
	defer rows.Close()

	items := make([]IssueActivity, 0)
	for rows.Next() {
		var item IssueActivity
		if err := rows.Scan(&item.ID, &item.IssueID, &item.ActorID, &item.Action, &item.Field, &item.OldValue, &item.NewValue, &item.CreatedAt, &item.ActorName); err != nil {
			return nil, fmt.Errorf("scan issue activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue activity: %w", err)
	}
	return items, nil
}

// CreateComment inserts the comment and its "commented" activity row in one
// transaction.
func (s *PostgresStore) CreateComment(ctx context.Context, comment IssueComment, activity IssueActivity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issue_comments (id, issue_id, author_id, content)
			VALUES ($1, $2, $3, $4)
		`, comment.ID, comment.IssueID, comment.AuthorID, comment.Content); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issue_activity (id, issue_id, actor_id, action)
			VALUES ($1, $2, $3, $4)
		`, activity.ID, comment.IssueID, activity.ActorID, activity.Action); err != nil {
			return fmt.Errorf("insert commented activity: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (IssueComment, error) {
	var item IssueComment
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.issue_id, c.author_id, c.content, c.deleted_at, c.created_at, c.updated_at, COALESCE(u.name, '')
		FROM issue_comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.id=$1
	`, commentID).Scan(&item.ID, &item.IssueID, &item.AuthorID, &item.Content, &item.DeletedAt, &item.CreatedAt, &item.UpdatedAt, &item.AuthorName)
	if err != nil {
		return IssueComment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, issueID string) ([]IssueComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.issue_id, c.author_id, c.content, c.deleted_at, c.created_at, c.updated_at, COALESCE(u.name, '')
		FROM issue_comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.issue_id=$1 AND c.deleted_at IS NULL
		ORDER BY c.created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]IssueComment, 0)
	for rows.Next() {
		var item IssueComment
		if err := rows.Scan(&item.ID, &item.IssueID, &item.AuthorID, &item.Content, &item.DeletedAt, &item.CreatedAt, &item.UpdatedAt, &item.AuthorName); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, content string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE issue_comments SET content=$2, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, commentID, content)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

// SoftDeleteComment sets deleted_at; the row stays queryable by ID.
func (s *PostgresStore) SoftDeleteComment(ctx context.Context, commentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE issue_comments SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, commentID)
	if err != nil {
		return fmt.Errorf("soft delete comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSubtasks(ctx context.Context, issueID string) ([]Subtask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, title, completed, sort_order, created_at
		FROM subtasks
		WHERE issue_id=$1
		ORDER BY sort_order ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	items := make([]Subtask, 0)
	for rows.Next() {
		var item Subtask
		if err := rows.Scan(&item.ID, &item.IssueID, &item.Title, &item.Completed, &item.SortOrder, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSubtask(ctx context.Context, subtaskID string) (Subtask, error) {
	var item Subtask
	err := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, title, completed, sort_order, created_at FROM subtasks WHERE id=$1
	`, subtaskID).Scan(&item.ID, &item.IssueID, &item.Title, &item.Completed, &item.SortOrder, &item.CreatedAt)
	if err != nil {
		return Subtask{}, err
	}
	return item, nil
}

func (s *PostgresStore) CreateSubtask(ctx context.Context, subtask Subtask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subtasks (id, issue_id, title, sort_order)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(sort_order), 0) + 1 FROM subtasks WHERE issue_id=$2))
	`, subtask.ID, subtask.IssueID, subtask.Title)
	if err != nil {
		return fmt.Errorf("create subtask: %w", err)
	}
	return nil
}

// UpdateSubtask changes title and completion; sort_order is only touched by
// ReorderSubtasks.
func (s *PostgresStore) UpdateSubtask(ctx context.Context, subtaskID, title string, completed bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subtasks SET title=$2, completed=$3 WHERE id=$1
	`, subtaskID, title, completed)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSubtask(ctx context.Context, subtaskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subtasks WHERE id=$1`, subtaskID)
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountSubtasks(ctx context.Context, issueID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subtasks WHERE issue_id=$1`, issueID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count subtasks: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ReorderSubtasks(ctx context.Context, issueID string, orderedIDs []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for position, subtaskID := range orderedIDs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE subtasks SET sort_order=$3 WHERE issue_id=$1 AND id=$2
			`, issueID, subtaskID, position+1); err != nil {
				return fmt.Errorf("reorder subtask %s: %w", subtaskID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) AttachLabel(ctx context.Context, issueID, labelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_labels (issue_id, label_id) VALUES ($1, $2)
	`, issueID, labelID)
	if err != nil {
		return fmt.Errorf("attach label: %w", err)
	}
	return nil
}

// DetachLabel reports whether a link row was actually removed so callers
// can reject a second detach cleanly.
func (s *PostgresStore) DetachLabel(ctx context.Context, issueID, labelID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM issue_labels WHERE issue_id=$1 AND label_id=$2
	`, issueID, labelID)
	if err != nil {
		return false, fmt.Errorf("detach label: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("detach label rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountIssueLabels(ctx context.Context, issueID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issue_labels WHERE issue_id=$1`, issueID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count issue labels: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) IssueHasLabel(ctx context.Context, issueID, labelID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM issue_labels WHERE issue_id=$1 AND label_id=$2)
	`, issueID, labelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check issue label: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) listLabelsForIssue(ctx context.Context, issueID string) ([]Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.project_id, l.name, l.color, l.created_at
		FROM issue_labels il
		JOIN labels l ON l.id = il.label_id
		WHERE il.issue_id=$1
		ORDER BY l.name ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list issue labels: %w", err)
	}
	defer rows.Close()

	items := make([]Label, 0)
	for rows.Next() {
		var item Label
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Color, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue label: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue labels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) labelsByProjectIssues(ctx context.Context, projectID string) (map[string][]Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT il.issue_id, l.id, l.project_id, l.name, l.color, l.created_at
		FROM issue_labels il
		JOIN labels l ON l.id = il.label_id
		JOIN issues i ON i.id = il.issue_id
		WHERE i.project_id=$1 AND i.deleted_at IS NULL
		ORDER BY l.name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project issue labels: %w", err)
	}
	defer rows.Close()

	byIssue := make(map[string][]Label)
	for rows.Next() {
		var issueID string
		var item Label
		if err := rows.Scan(&issueID, &item.ID, &item.ProjectID, &item.Name, &item.Color, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project issue label: %w", err)
		}
		byIssue[issueID] = append(byIssue[issueID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project issue labels: %w", err)
	}
	return byIssue, nil
}

// DueIssuesBetween returns live, open, assigned issues whose due date falls
// in [from, to); the cron scan feeds these into notifications.
func (s *PostgresStore) DueIssuesBetween(ctx context.Context, from, to string) ([]DueIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.title, i.number, p.key, t.slug, i.assignee_id, i.due_date
		FROM issues i
		JOIN issue_statuses st ON st.id = i.status_id
		JOIN projects p ON p.id = i.project_id
		JOIN teams t ON t.id = p.team_id
		WHERE i.deleted_at IS NULL
			AND i.assignee_id IS NOT NULL
			AND NOT st.is_closed
			AND i.due_date >= $1::timestamptz
			AND i.due_date < $2::timestamptz
		ORDER BY i.due_date ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list due issues: %w", err)
	}
	defer rows.Close()

	items := make([]DueIssue, 0)
	for rows.Next() {
		var item DueIssue
		if err := rows.Scan(&item.IssueID, &item.Title, &item.Number, &item.ProjectKey, &item.TeamSlug, &item.AssigneeID, &item.DueDate); err != nil {
			return nil, fmt.Errorf("scan due issue: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due issues: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateAttachment(ctx context.Context, attachment Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, issue_id, uploader_id, file_name, object_key, content_type, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attachment.ID, attachment.IssueID, attachment.UploaderID, attachment.FileName, attachment.ObjectKey, attachment.ContentType, attachment.Size)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, uploader_id, file_name, object_key, content_type, size, created_at
		FROM attachments WHERE id=$1
	`, attachmentID).Scan(&item.ID, &item.IssueID, &item.UploaderID, &item.FileName, &item.ObjectKey, &item.ContentType, &item.Size, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, issueID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, uploader_id, file_name, object_key, content_type, size, created_at
		FROM attachments
		WHERE issue_id=$1
		ORDER BY created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.IssueID, &item.UploaderID, &item.FileName, &item.ObjectKey, &item.ContentType, &item.Size, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}
