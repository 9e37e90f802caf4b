package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateProject inserts the project together with its seed statuses in one
// transaction so a project can never exist without a default column.
func (s *PostgresStore) CreateProject(ctx context.Context, project Project, statuses []IssueStatus) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, team_id, name, key, description)
			VALUES ($1, $2, $3, $4, $5)
		`, project.ID, project.TeamID, project.Name, project.Key, project.Description); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		for _, status := range statuses {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issue_statuses (id, project_id, name, color, sort_order, is_default, is_closed, wip_limit)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, status.ID, project.ID, status.Name, status.Color, status.SortOrder, status.IsDefault, status.IsClosed, status.WIPLimit); err != nil {
				return fmt.Errorf("seed status %s: %w", status.Name, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ProjectKeyExists(ctx context.Context, teamID, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM projects WHERE team_id=$1 AND key=$2)
	`, teamID, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check project key: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, name, key, description, archived, created_at, updated_at
		FROM projects WHERE id=$1
	`, projectID).Scan(&item.ID, &item.TeamID, &item.Name, &item.Key, &item.Description, &item.Archived, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListTeamProjects(ctx context.Context, teamID, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.team_id, p.name, p.key, p.description, p.archived, p.created_at, p.updated_at,
			EXISTS(SELECT 1 FROM project_favorites f WHERE f.project_id=p.id AND f.user_id=$2) AS favorite,
			(SELECT COUNT(*) FROM issues i WHERE i.project_id=p.id AND i.deleted_at IS NULL) AS issue_count
		FROM projects p
		WHERE p.team_id=$1
		ORDER BY p.created_at ASC
	`, teamID, userID)
	if err != nil {
		return nil, fmt.Errorf("list team projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.TeamID, &item.Name, &item.Key, &item.Description, &item.Archived, &item.CreatedAt, &item.UpdatedAt, &item.Favorite, &item.IssueCount); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

// UpdateProject changes name and description only; the key is immutable.
func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, name, description string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, projectID, name, description)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetProjectArchived(ctx context.Context, projectID string, archived bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET archived=$2, updated_at=NOW() WHERE id=$1
	`, projectID, archived)
	if err != nil {
		return fmt.Errorf("set project archived: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

const statusColumns = `id, project_id, name, color, sort_order, is_default, is_closed, wip_limit, created_at`

func (s *PostgresStore) ListStatuses(ctx context.Context, projectID string) ([]IssueStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.project_id, st.name, st.color, st.sort_order, st.is_default, st.is_closed, st.wip_limit, st.created_at,
			(SELECT COUNT(*) FROM issues i WHERE i.status_id=st.id AND i.deleted_at IS NULL) AS issue_count
		FROM issue_statuses st
		WHERE st.project_id=$1
		ORDER BY st.sort_order ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	items := make([]IssueStatus, 0)
	for rows.Next() {
		var item IssueStatus
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Color, &item.SortOrder, &item.IsDefault, &item.IsClosed, &item.WIPLimit, &item.CreatedAt, &item.IssueCount); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, statusID string) (IssueStatus, error) {
	var item IssueStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT `+statusColumns+` FROM issue_statuses WHERE id=$1
	`, statusID).Scan(&item.ID, &item.ProjectID, &item.Name, &item.Color, &item.SortOrder, &item.IsDefault, &item.IsClosed, &item.WIPLimit, &item.CreatedAt)
	if err != nil {
		return IssueStatus{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetDefaultStatus(ctx context.Context, projectID string) (IssueStatus, error) {
	var item IssueStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT `+statusColumns+` FROM issue_statuses WHERE project_id=$1 AND is_default
	`, projectID).Scan(&item.ID, &item.ProjectID, &item.Name, &item.Color, &item.SortOrder, &item.IsDefault, &item.IsClosed, &item.WIPLimit, &item.CreatedAt)
	if err != nil {
		return IssueStatus{}, err
	}
	return item, nil
}

// CreateStatus appends the new column after the current last one.
func (s *PostgresStore) CreateStatus(ctx context.Context, status IssueStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_statuses (id, project_id, name, color, sort_order, is_default, is_closed, wip_limit)
		VALUES ($1, $2, $3, $4,
			(SELECT COALESCE(MAX(sort_order), 0) + 1 FROM issue_statuses WHERE project_id=$2),
			$5, $6, $7)
	`, status.ID, status.ProjectID, status.Name, status.Color, status.IsDefault, status.IsClosed, status.WIPLimit)
	if err != nil {
		return fmt.Errorf("create status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, status IssueStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE issue_statuses
		SET name=$2, color=$3, is_closed=$4, wip_limit=$5
		WHERE id=$1
	`, status.ID, status.Name, status.Color, status.IsClosed, status.WIPLimit)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStatus(ctx context.Context, statusID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM issue_statuses WHERE id=$1`, statusID)
	if err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	return nil
}

// ReorderStatuses applies the given ordering transactionally so a failure
// mid-sequence never leaves a half-shuffled board.
func (s *PostgresStore) ReorderStatuses(ctx context.Context, projectID string, orderedIDs []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for position, statusID := range orderedIDs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE issue_statuses SET sort_order=$3 WHERE project_id=$1 AND id=$2
			`, projectID, statusID, position+1); err != nil {
				return fmt.Errorf("reorder status %s: %w", statusID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) CountStatuses(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issue_statuses WHERE project_id=$1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count statuses: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountIssuesWithStatus(ctx context.Context, statusID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM issues WHERE status_id=$1 AND deleted_at IS NULL
	`, statusID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count issues with status: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListLabels(ctx context.Context, projectID string) ([]Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, color, created_at
		FROM labels
		WHERE project_id=$1
		ORDER BY name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	items := make([]Label, 0)
	for rows.Next() {
		var item Label
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Color, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetLabel(ctx context.Context, labelID string) (Label, error) {
	var item Label
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, color, created_at FROM labels WHERE id=$1
	`, labelID).Scan(&item.ID, &item.ProjectID, &item.Name, &item.Color, &item.CreatedAt)
	if err != nil {
		return Label{}, err
	}
	return item, nil
}

func (s *PostgresStore) CreateLabel(ctx context.Context, label Label) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, project_id, name, color)
		VALUES ($1, $2, $3, $4)
	`, label.ID, label.ProjectID, label.Name, label.Color)
	if err != nil {
		return fmt.Errorf("create label: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLabel(ctx context.Context, labelID, name, color string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE labels SET name=$2, color=$3 WHERE id=$1
	`, labelID, name, color)
	if err != nil {
		return fmt.Errorf("update label: %w", err)
	}
	return nil
}

// DeleteLabel removes the label; issue_labels rows go via cascade, which
// detaches it from every issue.
func (s *PostgresStore) DeleteLabel(ctx context.Context, labelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM labels WHERE id=$1`, labelID)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountLabels(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM labels WHERE project_id=$1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count labels: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) LabelNameExists(ctx context.Context, projectID, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM labels WHERE project_id=$1 AND LOWER(name)=LOWER($2))
	`, projectID, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check label name: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddFavorite(ctx context.Context, userID, projectID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_favorites (user_id, project_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, project_id) DO NOTHING
	`, userID, projectID)
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveFavorite(ctx context.Context, userID, projectID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM project_favorites WHERE user_id=$1 AND project_id=$2
	`, userID, projectID)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}
