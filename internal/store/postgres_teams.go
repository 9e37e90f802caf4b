package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"backlog/api/internal/util"
)

// CreateTeam inserts the team and its sole OWNER membership in one
// transaction so a team can never exist without an owner.
func (s *PostgresStore) CreateTeam(ctx context.Context, team Team, ownerID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO teams (id, name, slug, description)
			VALUES ($1, $2, $3, $4)
		`, team.ID, team.Name, team.Slug, team.Description); err != nil {
			return fmt.Errorf("insert team: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_members (id, team_id, user_id, role)
			VALUES ($1, $2, $3, 'OWNER')
		`, util.NewID("mbr"), team.ID, ownerID); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) TeamSlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM teams WHERE slug=$1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check team slug: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetTeamBySlug(ctx context.Context, slug string) (Team, error) {
	var team Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, created_at, updated_at
		FROM teams WHERE slug=$1
	`, slug).Scan(&team.ID, &team.Name, &team.Slug, &team.Description, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

func (s *PostgresStore) GetTeamByID(ctx context.Context, teamID string) (Team, error) {
	var team Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, created_at, updated_at
		FROM teams WHERE id=$1
	`, teamID).Scan(&team.ID, &team.Name, &team.Slug, &team.Description, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

func (s *PostgresStore) UpdateTeam(ctx context.Context, teamID, name, description string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE teams SET name=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, teamID, name, description)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	return nil
}

// DeleteTeam removes the team; projects, issues, members, invites and
// activity go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteTeam(ctx context.Context, teamID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id=$1`, teamID)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTeamsForUser(ctx context.Context, userID string) ([]TeamWithRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.slug, t.description, t.created_at, t.updated_at, tm.role,
			(SELECT COUNT(*) FROM team_members c WHERE c.team_id=t.id) AS member_count
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id=$1
		ORDER BY t.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list teams for user: %w", err)
	}
	defer rows.Close()

	items := make([]TeamWithRole, 0)
	for rows.Next() {
		var item TeamWithRole
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.Description, &item.CreatedAt, &item.UpdatedAt, &item.Role, &item.MemberCount); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return items, nil
}

// GetMembership resolves the actor's role within a team. sql.ErrNoRows
// means the actor is not a member; callers fail closed on it.
func (s *PostgresStore) GetMembership(ctx context.Context, teamID, userID string) (TeamMember, error) {
	var member TeamMember
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, user_id, role, created_at
		FROM team_members
		WHERE team_id=$1 AND user_id=$2
	`, teamID, userID).Scan(&member.ID, &member.TeamID, &member.UserID, &member.Role, &member.CreatedAt)
	if err != nil {
		return TeamMember{}, err
	}
	return member, nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tm.id, tm.team_id, tm.user_id, tm.role, tm.created_at, u.name, u.email, u.avatar_url
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id=$1
		ORDER BY tm.created_at ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	items := make([]TeamMember, 0)
	for rows.Next() {
		var item TeamMember
		if err := rows.Scan(&item.ID, &item.TeamID, &item.UserID, &item.Role, &item.CreatedAt, &item.UserName, &item.UserEmail, &item.UserAvatarURL); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddTeamMember(ctx context.Context, member TeamMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (id, team_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, member.ID, member.TeamID, member.UserID, member.Role)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM team_members WHERE team_id=$1 AND user_id=$2
	`, teamID, userID)
	if err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, teamID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE team_members SET role=$3 WHERE team_id=$1 AND user_id=$2
	`, teamID, userID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return nil
}

// TransferOwnership demotes the current owner and promotes the target in a
// single transaction; either both role changes land or neither does.
func (s *PostgresStore) TransferOwnership(ctx context.Context, teamID, fromUserID, toUserID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE team_members SET role='ADMIN' WHERE team_id=$1 AND user_id=$2 AND role='OWNER'
		`, teamID, fromUserID)
		if err != nil {
			return fmt.Errorf("demote owner: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("demote owner rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE team_members SET role='OWNER' WHERE team_id=$1 AND user_id=$2 AND role='ADMIN'
		`, teamID, toUserID)
		if err != nil {
			return fmt.Errorf("promote new owner: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("promote new owner rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// CreateTeamInvite clears any expired invite for the same address first, so
// the (team_id, email) uniqueness only ever blocks a live pending invite.
func (s *PostgresStore) CreateTeamInvite(ctx context.Context, invite TeamInvite) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM team_invites WHERE team_id=$1 AND email=LOWER($2) AND expires_at <= NOW()
	`, invite.TeamID, invite.Email)
	if err != nil {
		return fmt.Errorf("clear expired invite: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO team_invites (id, team_id, email, role, token_hash, invited_by, expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7)
	`, invite.ID, invite.TeamID, invite.Email, invite.Role, invite.TokenHash, invite.InvitedBy, invite.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create team invite: %w", err)
	}
	return nil
}

// GetPendingInvite ignores expired rows so a lapsed invite never blocks a
// fresh one.
func (s *PostgresStore) GetPendingInvite(ctx context.Context, teamID, email string) (TeamInvite, error) {
	var invite TeamInvite
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, email, role, token_hash, invited_by, expires_at, created_at
		FROM team_invites
		WHERE team_id=$1 AND email=LOWER($2) AND expires_at > NOW()
	`, teamID, email).Scan(&invite.ID, &invite.TeamID, &invite.Email, &invite.Role, &invite.TokenHash, &invite.InvitedBy, &invite.ExpiresAt, &invite.CreatedAt)
	if err != nil {
		return TeamInvite{}, err
	}
	return invite, nil
}

func (s *PostgresStore) GetInviteByTokenHash(ctx context.Context, tokenHash string) (TeamInvite, error) {
	var invite TeamInvite
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, email, role, token_hash, invited_by, expires_at, created_at
		FROM team_invites
		WHERE token_hash=$1
	`, tokenHash).Scan(&invite.ID, &invite.TeamID, &invite.Email, &invite.Role, &invite.TokenHash, &invite.InvitedBy, &invite.ExpiresAt, &invite.CreatedAt)
	if err != nil {
		return TeamInvite{}, err
	}
	return invite, nil
}

func (s *PostgresStore) ListTeamInvites(ctx context.Context, teamID string) ([]TeamInvite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, email, role, token_hash, invited_by, expires_at, created_at
		FROM team_invites
		WHERE team_id=$1
		ORDER BY created_at ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team invites: %w", err)
	}
	defer rows.Close()

	items := make([]TeamInvite, 0)
	for rows.Next() {
		var item TeamInvite
		if err := rows.Scan(&item.ID, &item.TeamID, &item.Email, &item.Role, &item.TokenHash, &item.InvitedBy, &item.ExpiresAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team invite: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team invites: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteTeamInvite(ctx context.Context, inviteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM team_invites WHERE id=$1`, inviteID)
	if err != nil {
		return fmt.Errorf("delete team invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTeamActivity(ctx context.Context, activity TeamActivity) error {
	metadata := activity.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal team activity metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO team_activity (id, team_id, actor_id, action, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, activity.ID, activity.TeamID, activity.ActorID, activity.Action, string(encoded))
	if err != nil {
		return fmt.Errorf("insert team activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTeamActivity(ctx context.Context, teamID string, limit int) ([]TeamActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ta.id, ta.team_id, ta.actor_id, ta.action, ta.metadata, ta.created_at, COALESCE(u.name, '')
		FROM team_activity ta
		LEFT JOIN users u ON u.id = ta.actor_id
		WHERE ta.team_id=$1
		ORDER BY ta.created_at DESC
		LIMIT $2
	`, teamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list team activity: %w", err)
	}
	defer rows.Close()

	items := make([]TeamActivity, 0)
	for rows.Next() {
		var item TeamActivity
		var metadataRaw []byte
		if err := rows.Scan(&item.ID, &item.TeamID, &item.ActorID, &item.Action, &metadataRaw, &item.CreatedAt, &item.ActorName); err != nil {
			return nil, fmt.Errorf("scan team activity: %w", err)
		}
		_ = json.Unmarshal(metadataRaw, &item.Metadata)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team activity: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) TeamStatistics(ctx context.Context, teamID string) (TeamStats, error) {
	stats := TeamStats{
		ByPriority: make(map[string]int),
		ByType:     make(map[string]int),
		ByAssignee: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE team_id=$1`, teamID).Scan(&stats.Projects); err != nil {
		return TeamStats{}, fmt.Errorf("count team projects: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM team_members WHERE team_id=$1`, teamID).Scan(&stats.Members); err != nil {
		return TeamStats{}, fmt.Errorf("count team members: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT st.is_closed),
			COUNT(*) FILTER (WHERE st.is_closed)
		FROM issues i
		JOIN issue_statuses st ON st.id = i.status_id
		JOIN projects p ON p.id = i.project_id
		WHERE p.team_id=$1 AND i.deleted_at IS NULL
	`, teamID).Scan(&stats.OpenIssues, &stats.ClosedIssues); err != nil {
		return TeamStats{}, fmt.Errorf("count team issues: %w", err)
	}

	groupCounts := func(query string, into map[string]int) error {
		rows, err := s.db.QueryContext(ctx, query, teamID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				return err
			}
			into[key] = count
		}
		return rows.Err()
	}

	if err := groupCounts(`
		SELECT i.priority, COUNT(*)::int
		FROM issues i JOIN projects p ON p.id = i.project_id
		WHERE p.team_id=$1 AND i.deleted_at IS NULL
		GROUP BY i.priority
	`, stats.ByPriority); err != nil {
		return TeamStats{}, fmt.Errorf("count issues by priority: %w", err)
	}
	if err := groupCounts(`
		SELECT i.type, COUNT(*)::int
		FROM issues i JOIN projects p ON p.id = i.project_id
		WHERE p.team_id=$1 AND i.deleted_at IS NULL
		GROUP BY i.type
	`, stats.ByType); err != nil {
		return TeamStats{}, fmt.Errorf("count issues by type: %w", err)
	}
	if err := groupCounts(`
		SELECT COALESCE(u.name, 'Unassigned'), COUNT(*)::int
		FROM issues i
		JOIN projects p ON p.id = i.project_id
		LEFT JOIN users u ON u.id = i.assignee_id
		WHERE p.team_id=$1 AND i.deleted_at IS NULL
		GROUP BY COALESCE(u.name, 'Unassigned')
	`, stats.ByAssignee); err != nil {
		return TeamStats{}, fmt.Errorf("count issues by assignee: %w", err)
	}

	return stats, nil
}
