package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, link)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, notification.ID, notification.UserID, notification.Type, notification.Title, notification.Message, notification.Link)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, link, read, created_at
		FROM notifications
		WHERE user_id=$1`
	if unreadOnly {
		query += ` AND NOT read`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Type, &item.Title, &item.Message, &item.Link, &item.Read, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND NOT read
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead is scoped to the owner; marking someone else's
// notification reports not found.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE user_id=$1 AND NOT read
	`, userID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, notificationID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete notification rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DueNotificationExistsToday dedupes the cron scan: one due-soon reminder per
// issue per assignee per title per calendar day.
func (s *PostgresStore) DueNotificationExistsToday(ctx context.Context, userID, link, title string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM notifications
			WHERE user_id=$1 AND type=$2 AND link=$3 AND title=$4 AND created_at >= date_trunc('day', NOW())
		)
	`, userID, NotifyIssueDueSoon, link, title).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check due notification: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetAICache(ctx context.Context, issueID, entryType string) (AICacheEntry, error) {
	var item AICacheEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT issue_id, type, content, content_hash, created_at
		FROM ai_cache WHERE issue_id=$1 AND type=$2
	`, issueID, entryType).Scan(&item.IssueID, &item.Type, &item.Content, &item.ContentHash, &item.CreatedAt)
	if err != nil {
		return AICacheEntry{}, err
	}
	return item, nil
}

// SaveAICache upserts; a regenerated answer for the same issue and type
// replaces the old one.
func (s *PostgresStore) SaveAICache(ctx context.Context, entry AICacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_cache (issue_id, type, content, content_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (issue_id, type) DO UPDATE SET content=EXCLUDED.content, content_hash=EXCLUDED.content_hash, created_at=NOW()
	`, entry.IssueID, entry.Type, entry.Content, entry.ContentHash)
	if err != nil {
		return fmt.Errorf("save ai cache: %w", err)
	}
	return nil
}
