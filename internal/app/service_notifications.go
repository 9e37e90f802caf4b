package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"backlog/api/internal/store"
	"backlog/api/internal/util"
)

type NotificationView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt"`
}

// notify fans a notification out to recipients, always skipping the actor.
// Delivery is best effort; a failed insert is logged and dropped.
func (s *Service) notify(ctx context.Context, recipients []string, actorID string, template store.Notification) {
	seen := make(map[string]bool, len(recipients))
	for _, userID := range recipients {
		if userID == "" || userID == actorID || seen[userID] {
			continue
		}
		seen[userID] = true
		n := template
		n.ID = util.NewID("ntf")
		n.UserID = userID
		if err := s.store.InsertNotification(ctx, n); err != nil {
			log.Printf("notify %s: %v", userID, err)
		}
	}
}

// notifyIssueParticipants notifies everyone attached to an issue: the
// reporter, the assignee, and every comment author.
func (s *Service) notifyIssueParticipants(ctx context.Context, issue store.Issue, project store.Project, actorID string, template store.Notification) {
	recipients := []string{issue.ReporterID}
	if issue.AssigneeID != nil {
		recipients = append(recipients, *issue.AssigneeID)
	}
	comments, err := s.store.ListComments(ctx, issue.ID)
	if err == nil {
		for _, c := range comments {
			recipients = append(recipients, c.AuthorID)
		}
	}
	s.notify(ctx, recipients, actorID, template)
}

func (s *Service) ListNotificationViews(ctx context.Context, userID string, unreadOnly bool, limit int) ([]NotificationView, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	notifications, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	out := make([]NotificationView, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, NotificationView{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Link:      n.Link,
			Read:      n.Read,
			CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (s *Service) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnreadNotifications(ctx, userID)
}

func (s *Service) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	return s.store.MarkNotificationRead(ctx, notificationID, userID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

func (s *Service) DeleteNotification(ctx context.Context, notificationID, userID string) error {
	return s.store.DeleteNotification(ctx, notificationID, userID)
}

// RunDueDateScan notifies assignees of open issues due today or tomorrow.
// Triggered by an external scheduler; the per-day existence check keeps
// repeated runs from duplicating notifications.
func (s *Service) RunDueDateScan(ctx context.Context) (int, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	from := today.Format("2006-01-02")
	to := today.Add(48 * time.Hour).Format("2006-01-02")

	due, err := s.store.DueIssuesBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}

	const dueTitle = "Issue due soon"

	sent := 0
	for _, issue := range due {
		link := "/issues/" + issue.IssueID
		exists, err := s.store.DueNotificationExistsToday(ctx, issue.AssigneeID, link, dueTitle)
		if err != nil {
			log.Printf("due scan: check %s: %v", issue.IssueID, err)
			continue
		}
		if exists {
			continue
		}
		err = s.store.InsertNotification(ctx, store.Notification{
			ID:      util.NewID("ntf"),
			UserID:  issue.AssigneeID,
			Type:    store.NotifyIssueDueSoon,
			Title:   dueTitle,
			Message: fmt.Sprintf("%s-%d %s is due %s", issue.ProjectKey, issue.Number, issue.Title, issue.DueDate.Format("2006-01-02")),
			Link:    link,
		})
		if err != nil {
			log.Printf("due scan: notify %s: %v", issue.AssigneeID, err)
			continue
		}
		sent++
	}
	return sent, nil
}
