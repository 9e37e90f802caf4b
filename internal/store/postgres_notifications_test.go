package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestInsertNotificationWritesMessageColumn(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO notifications \(id, user_id, type, title, message, link\)`).
		WithArgs("ntf_1", "usr_1", NotifyIssueAssigned, "Issue assigned", "WEB-1 was assigned to you", "/issues/iss_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertNotification(context.Background(), Notification{
		ID:      "ntf_1",
		UserID:  "usr_1",
		Type:    NotifyIssueAssigned,
		Title:   "Issue assigned",
		Message: "WEB-1 was assigned to you",
		Link:    "/issues/iss_1",
	})
	if err != nil {
		t.Fatalf("InsertNotification() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListNotificationsScansMessage(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT id, user_id, type, title, message, link, read, created_at`).
		WithArgs("usr_1", 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "title", "message", "link", "read", "created_at"}).
			AddRow("ntf_1", "usr_1", NotifyIssueComment, "New comment", "Alice commented on WEB-1", "/issues/iss_1", false, now))

	items, err := s.ListNotifications(context.Background(), "usr_1", false, 20)
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(items))
	}
	if items[0].Message != "Alice commented on WEB-1" {
		t.Errorf("Message = %q, want the comment text", items[0].Message)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDueNotificationDedupeIncludesTitle(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT 1 FROM notifications`).
		WithArgs("usr_1", NotifyIssueDueSoon, "/issues/iss_1", "Issue due soon").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.DueNotificationExistsToday(context.Background(), "usr_1", "/issues/iss_1", "Issue due soon")
	if err != nil {
		t.Fatalf("DueNotificationExistsToday() error = %v", err)
	}
	if !exists {
		t.Error("expected dedupe hit for matching user, link and title")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
