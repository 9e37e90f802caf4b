package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"backlog/api/internal/rbac"
	"backlog/api/internal/search"
	"backlog/api/internal/store"
	"backlog/api/internal/util"
)

const (
	maxLabelsPerIssue   = 5
	maxSubtasksPerIssue = 20
	maxAttachmentSize   = 20 << 20
)

func validIssueType(t string) bool {
	switch t {
	case store.IssueTypeTask, store.IssueTypeBug, store.IssueTypeFeature, store.IssueTypeStory, store.IssueTypeEpic:
		return true
	}
	return false
}

func validPriority(p string) bool {
	switch p {
	case store.PriorityLow, store.PriorityMedium, store.PriorityHigh, store.PriorityUrgent:
		return true
	}
	return false
}

type IssueView struct {
	ID           string      `json:"id"`
	ProjectID    string      `json:"projectId"`
	Key          string      `json:"key"`
	Number       int         `json:"number"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Type         string      `json:"type"`
	Priority     string      `json:"priority"`
	StatusID     string      `json:"statusId"`
	StatusName   string      `json:"statusName"`
	AssigneeID   *string     `json:"assigneeId,omitempty"`
	AssigneeName string      `json:"assigneeName,omitempty"`
	ReporterID   string      `json:"reporterId"`
	ReporterName string      `json:"reporterName,omitempty"`
	DueDate      *string     `json:"dueDate,omitempty"`
	Labels       []LabelView `json:"labels"`
	CreatedAt    string      `json:"createdAt"`
	UpdatedAt    string      `json:"updatedAt"`
}

type CommentView struct {
	ID         string `json:"id"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

type SubtaskView struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	SortOrder int    `json:"sortOrder"`
}

type IssueActivityView struct {
	ID        string `json:"id"`
	ActorID   string `json:"actorId"`
	ActorName string `json:"actorName"`
	Action    string `json:"action"`
	Field     string `json:"field,omitempty"`
	OldValue  string `json:"oldValue,omitempty"`
	NewValue  string `json:"newValue,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type AttachmentView struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	UploaderID  string `json:"uploaderId"`
	CreatedAt   string `json:"createdAt"`
}

func issueView(issue store.Issue, projectKey string) IssueView {
	labels := make([]LabelView, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, labelView(l))
	}
	view := IssueView{
		ID:           issue.ID,
		ProjectID:    issue.ProjectID,
		Key:          fmt.Sprintf("%s-%d", projectKey, issue.Number),
		Number:       issue.Number,
		Title:        issue.Title,
		Description:  issue.Description,
		Type:         issue.Type,
		Priority:     issue.Priority,
		StatusID:     issue.StatusID,
		StatusName:   issue.StatusName,
		AssigneeID:   issue.AssigneeID,
		AssigneeName: issue.AssigneeName,
		ReporterID:   issue.ReporterID,
		ReporterName: issue.ReporterName,
		Labels:       labels,
		CreatedAt:    issue.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    issue.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if issue.DueDate != nil {
		due := issue.DueDate.UTC().Format("2006-01-02")
		view.DueDate = &due
	}
	return view
}

func commentView(c store.IssueComment) CommentView {
	return CommentView{
		ID:         c.ID,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Content:    c.Content,
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateIssueInput is the POST body for a new issue.
type CreateIssueInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Priority    string  `json:"priority"`
	StatusID    string  `json:"statusId"`
	AssigneeID  *string `json:"assigneeId"`
	DueDate     *string `json:"dueDate"`
}

// CreateIssue creates an issue in a project. The per-project number is
// assigned inside the store transaction.
func (s *Service) CreateIssue(ctx context.Context, projectID, userID string, in CreateIssueInput) (IssueView, error) {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return IssueView{}, err
	}
	if err := requireWritable(project); err != nil {
		return IssueView{}, err
	}

	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "title is required")
	}
	if len(in.Title) > 200 {
		return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "title must be at most 200 characters")
	}
	if in.Type == "" {
		in.Type = store.IssueTypeTask
	}
	if !validIssueType(in.Type) {
		return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "unknown issue type")
	}
	if in.Priority == "" {
		in.Priority = store.PriorityMedium
	}
	if !validPriority(in.Priority) {
		return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "unknown priority")
	}

	statusID := in.StatusID
	if statusID == "" {
		def, err := s.store.GetDefaultStatus(ctx, projectID)
		if err != nil {
			return IssueView{}, err
		}
		statusID = def.ID
	} else {
		status, err := s.store.GetStatus(ctx, statusID)
		if err != nil || status.ProjectID != projectID {
			return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "status does not belong to this project")
		}
	}

	if in.AssigneeID != nil && *in.AssigneeID != "" {
		if _, err := s.membership(ctx, project.TeamID, *in.AssigneeID); err != nil {
			return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "assignee must be a team member")
		}
	} else {
		in.AssigneeID = nil
	}

	var dueDate *time.Time
	if in.DueDate != nil && *in.DueDate != "" {
		parsed, err := time.Parse("2006-01-02", *in.DueDate)
		if err != nil {
			return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "due date must be YYYY-MM-DD")
		}
		dueDate = &parsed
	}

	issue := store.Issue{
		ID:          util.NewID("iss"),
		ProjectID:   projectID,
		Title:       in.Title,
		Description: in.Description,
		Type:        in.Type,
		Priority:    in.Priority,
		StatusID:    statusID,
		AssigneeID:  in.AssigneeID,
		ReporterID:  userID,
		DueDate:     dueDate,
	}
	activity := store.IssueActivity{
		ID:      util.NewID("act"),
		IssueID: issue.ID,
		ActorID: userID,
		Action:  store.ActivityCreated,
	}
	number, err := s.store.CreateIssue(ctx, issue, activity)
	if err != nil {
		return IssueView{}, err
	}
	issue.Number = number

	if issue.AssigneeID != nil && *issue.AssigneeID != userID {
		s.notify(ctx, []string{*issue.AssigneeID}, userID, store.Notification{
			Type:    store.NotifyIssueAssigned,
			Title:   "Issue assigned to you",
			Message: fmt.Sprintf("%s-%d %s", project.Key, number, issue.Title),
			Link:    "/issues/" + issue.ID,
		})
	}
	s.indexIssue(ctx, issue, project)

	created, err := s.store.GetIssue(ctx, issue.ID)
	if err != nil {
		return issueView(issue, project.Key), nil
	}
	return issueView(created, project.Key), nil
}

// ListProjectIssues lists live issues in a project, optionally filtered.
func (s *Service) ListProjectIssues(ctx context.Context, projectID, userID string, filter store.IssueFilter) ([]IssueView, error) {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	issues, err := s.store.ListIssues(ctx, projectID, filter)
	if err != nil {
		return nil, err
	}
	out := make([]IssueView, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issueView(issue, project.Key))
	}
	return out, nil
}

func (s *Service) GetIssueView(ctx context.Context, issueID, userID string) (IssueView, error) {
	issue, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return IssueView{}, err
	}
	return issueView(issue, project.Key), nil
}

// UpdateIssueInput is a patch; nil fields are left unchanged.
type UpdateIssueInput struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Type          *string `json:"type"`
	Priority      *string `json:"priority"`
	StatusID      *string `json:"statusId"`
	AssigneeID    *string `json:"assigneeId"`
	ClearAssignee bool    `json:"clearAssignee"`
	DueDate       *string `json:"dueDate"`
	ClearDueDate  bool    `json:"clearDueDate"`
}

// UpdateIssue applies a patch and writes one activity row per changed
// field, all in a single transaction with the issue update.
func (s *Service) UpdateIssue(ctx context.Context, issueID, userID string, in UpdateIssueInput) (IssueView, error) {
	issue, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return IssueView{}, err
	}
	if err := requireWritable(project); err != nil {
		return IssueView{}, err
	}

	var entries []store.IssueActivity
	record := func(field, oldValue, newValue string) {
		entries = append(entries, store.IssueActivity{
			ID:       util.NewID("act"),
			IssueID:  issueID,
			ActorID:  userID,
			Action:   store.ActivityUpdated,
			Field:    field,
			OldValue: oldValue,
			NewValue: newValue,
		})
	}

	assigneeChangedTo := ""

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" || len(title) > 200 {
			return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "title must be 1-200 characters")
		}
		if title != issue.Title {
			record("title", issue.Title, title)
			issue.Title = title
		}
	}
	if in.Description != nil && *in.Description != issue.Description {
		record("description", truncateValue(issue.Description), truncateValue(*in.Description))
		issue.Description = *in.Description
	}
	if in.Type != nil {
		if !validIssueType(*in.Type) {
			return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "unknown issue type")
		}
		if *in.Type != issue.Type {
			record("type", issue.Type, *in.Type)
			issue.Type = *in.Type
		}
	}
	if in.Priority != nil {
		if !validPriority(*in.Priority) {
			return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "unknown priority")
		}
		if *in.Priority != issue.Priority {
			record("priority", issue.Priority, *in.Priority)
			issue.Priority = *in.Priority
		}
	}
	if in.StatusID != nil && *in.StatusID != issue.StatusID {
		status, err := s.store.GetStatus(ctx, *in.StatusID)
		if err != nil || status.ProjectID != issue.ProjectID {
			return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "status does not belong to this project")
		}
		record("status", issue.StatusName, status.Name)
		issue.StatusID = status.ID
		issue.StatusName = status.Name
	}
	if in.ClearAssignee {
		if issue.AssigneeID != nil {
			record("assignee", issue.AssigneeName, "")
			issue.AssigneeID = nil
			issue.AssigneeName = ""
		}
	} else if in.AssigneeID != nil && (issue.AssigneeID == nil || *in.AssigneeID != *issue.AssigneeID) {
		member, err := s.membership(ctx, project.TeamID, *in.AssigneeID)
		if err != nil {
			return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "assignee must be a team member")
		}
		record("assignee", issue.AssigneeName, member.UserName)
		issue.AssigneeID = in.AssigneeID
		issue.AssigneeName = member.UserName
		assigneeChangedTo = *in.AssigneeID
	}
	if in.ClearDueDate {
		if issue.DueDate != nil {
			record("dueDate", issue.DueDate.Format("2006-01-02"), "")
			issue.DueDate = nil
		}
	} else if in.DueDate != nil && *in.DueDate != "" {
		parsed, err := time.Parse("2006-01-02", *in.DueDate)
		if err != nil {
			return IssueView{}, domainError(http.StatusBadRequest, "VALIDATION", "due date must be YYYY-MM-DD")
		}
		if issue.DueDate == nil || !issue.DueDate.Equal(parsed) {
			old := ""
			if issue.DueDate != nil {
				old = issue.DueDate.Format("2006-01-02")
			}
			record("dueDate", old, *in.DueDate)
			issue.DueDate = &parsed
		}
	}

	if len(entries) == 0 {
		return issueView(issue, project.Key), nil
	}

	if err := s.store.UpdateIssueWithActivity(ctx, issue, entries); err != nil {
		return IssueView{}, err
	}

	if assigneeChangedTo != "" && assigneeChangedTo != userID {
		s.notify(ctx, []string{assigneeChangedTo}, userID, store.Notification{
			Type:    store.NotifyIssueAssigned,
			Title:   "Issue assigned to you",
			Message: fmt.Sprintf("%s-%d %s", project.Key, issue.Number, issue.Title),
			Link:    "/issues/" + issue.ID,
		})
	}
	s.notifyIssueParticipants(ctx, issue, project, userID, store.Notification{
		Type:    store.NotifyIssueUpdated,
		Title:   "Issue updated",
		Message: fmt.Sprintf("%s-%d %s", project.Key, issue.Number, issue.Title),
		Link:    "/issues/" + issue.ID,
	})
	s.indexIssue(ctx, issue, project)

	updated, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return issueView(issue, project.Key), nil
	}
	return issueView(updated, project.Key), nil
}

// MoveIssue changes only the status column. Used by board drag and drop.
func (s *Service) MoveIssue(ctx context.Context, issueID, userID, statusID string) (IssueView, error) {
	return s.UpdateIssue(ctx, issueID, userID, UpdateIssueInput{StatusID: &statusID})
}

// DeleteIssue removes the issue permanently together with its comments,
// subtasks, and activity.
func (s *Service) DeleteIssue(ctx context.Context, issueID, userID string) error {
	issue, project, member, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return err
	}
	if err := requireWritable(project); err != nil {
		return err
	}
	if issue.ReporterID != userID && !rbac.AtLeast(rbac.Role(member.Role), rbac.RoleAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the reporter or an admin can delete an issue")
	}
	if err := s.store.DeleteIssue(ctx, issueID); err != nil {
		return err
	}
	s.search.DeleteIssue(issueID)
	return nil
}

func (s *Service) ListIssueActivityViews(ctx context.Context, issueID, userID string) ([]IssueActivityView, error) {
	if _, _, _, err := s.issueAccess(ctx, issueID, userID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListIssueActivity(ctx, issueID)
	if err != nil {
		return nil, err
	}
	out := make([]IssueActivityView, 0, len(entries))
	for _, e := range entries {
		out = append(out, IssueActivityView{
			ID:        e.ID,
			ActorID:   e.ActorID,
			ActorName: e.ActorName,
			Action:    e.Action,
			Field:     e.Field,
			OldValue:  e.OldValue,
			NewValue:  e.NewValue,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// Comments

func (s *Service) AddComment(ctx context.Context, issueID, userID, content string) (CommentView, error) {
	issue, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return CommentView{}, err
	}
	if err := requireWritable(project); err != nil {
		return CommentView{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return CommentView{}, domainError(http.StatusBadRequest, "VALIDATION", "comment content is required")
	}
	if len(content) > 10000 {
		return CommentView{}, domainError(http.StatusBadRequest, "VALIDATION", "comment must be at most 10000 characters")
	}

	comment := store.IssueComment{
		ID:       util.NewID("cmt"),
		IssueID:  issueID,
		AuthorID: userID,
		Content:  content,
	}
	activity := store.IssueActivity{
		ID:      util.NewID("act"),
		IssueID: issueID,
		ActorID: userID,
		Action:  store.ActivityCommented,
	}
	if err := s.store.CreateComment(ctx, comment, activity); err != nil {
		return CommentView{}, err
	}

	s.notifyIssueParticipants(ctx, issue, project, userID, store.Notification{
		Type:    store.NotifyIssueComment,
		Title:   "New comment",
		Message: fmt.Sprintf("%s-%d %s", project.Key, issue.Number, issue.Title),
		Link:    "/issues/" + issue.ID,
	})
	s.search.IndexComment(search.CommentRecord{
		ID:        comment.ID,
		Content:   comment.Content,
		IssueID:   issueID,
		ProjectID: project.ID,
		TeamID:    project.TeamID,
	})

	saved, err := s.store.GetComment(ctx, comment.ID)
	if err != nil {
		return commentView(comment), nil
	}
	return commentView(saved), nil
}

func (s *Service) ListCommentViews(ctx context.Context, issueID, userID string) ([]CommentView, error) {
	if _, _, _, err := s.issueAccess(ctx, issueID, userID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, issueID)
	if err != nil {
		return nil, err
	}
	out := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		out = append(out, commentView(c))
	}
	return out, nil
}

// commentAccess loads a comment on an issue the caller can see and checks
// it belongs to that issue.
func (s *Service) commentAccess(ctx context.Context, issueID, commentID, userID string) (store.IssueComment, store.Project, store.TeamMember, error) {
	_, project, member, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return store.IssueComment{}, store.Project{}, store.TeamMember{}, err
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.IssueComment{}, store.Project{}, store.TeamMember{}, err
	}
	if comment.IssueID != issueID {
		return store.IssueComment{}, store.Project{}, store.TeamMember{}, domainError(http.StatusNotFound, "NOT_FOUND", "comment not found on this issue")
	}
	return comment, project, member, nil
}

// EditComment updates a comment's content. Only the author edits.
func (s *Service) EditComment(ctx context.Context, issueID, commentID, userID, content string) (CommentView, error) {
	comment, project, _, err := s.commentAccess(ctx, issueID, commentID, userID)
	if err != nil {
		return CommentView{}, err
	}
	if err := requireWritable(project); err != nil {
		return CommentView{}, err
	}
	if comment.AuthorID != userID {
		return CommentView{}, domainError(http.StatusForbidden, "FORBIDDEN", "only the author can edit a comment")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return CommentView{}, domainError(http.StatusBadRequest, "VALIDATION", "comment content is required")
	}
	if err := s.store.UpdateComment(ctx, commentID, content); err != nil {
		return CommentView{}, err
	}
	comment.Content = content
	s.search.IndexComment(search.CommentRecord{
		ID:        comment.ID,
		Content:   content,
		IssueID:   issueID,
		ProjectID: project.ID,
		TeamID:    project.TeamID,
	})
	return commentView(comment), nil
}

// RemoveComment soft-deletes a comment. The author or an admin can delete.
func (s *Service) RemoveComment(ctx context.Context, issueID, commentID, userID string) error {
	comment, project, member, err := s.commentAccess(ctx, issueID, commentID, userID)
	if err != nil {
		return err
	}
	if err := requireWritable(project); err != nil {
		return err
	}
	if comment.AuthorID != userID && !rbac.AtLeast(rbac.Role(member.Role), rbac.RoleAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the author or an admin can delete a comment")
	}
	if err := s.store.SoftDeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.search.DeleteComment(commentID)
	return nil
}

// Subtasks

func (s *Service) ListSubtaskViews(ctx context.Context, issueID, userID string) ([]SubtaskView, error) {
	if _, _, _, err := s.issueAccess(ctx, issueID, userID); err != nil {
		return nil, err
	}
	subtasks, err := s.store.ListSubtasks(ctx, issueID)
	if err != nil {
		return nil, err
	}
	out := make([]SubtaskView, 0, len(subtasks))
	for _, st := range subtasks {
		out = append(out, SubtaskView{ID: st.ID, Title: st.Title, Completed: st.Completed, SortOrder: st.SortOrder})
	}
	return out, nil
}

func (s *Service) AddSubtask(ctx context.Context, issueID, userID, title string) (SubtaskView, error) {
	_, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return SubtaskView{}, err
	}
	if err := requireWritable(project); err != nil {
		return SubtaskView{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 200 {
		return SubtaskView{}, domainError(http.StatusBadRequest, "VALIDATION", "subtask title must be 1-200 characters")
	}
	count, err := s.store.CountSubtasks(ctx, issueID)
	if err != nil {
		return SubtaskView{}, err
	}
	if count >= maxSubtasksPerIssue {
		return SubtaskView{}, domainError(http.StatusConflict, "SUBTASK_LIMIT", "an issue can have at most 20 subtasks")
	}
	subtask := store.Subtask{
		ID:      util.NewID("sub"),
		IssueID: issueID,
		Title:   title,
	}
	if err := s.store.CreateSubtask(ctx, subtask); err != nil {
		return SubtaskView{}, err
	}
	saved, err := s.store.GetSubtask(ctx, subtask.ID)
	if err != nil {
		return SubtaskView{ID: subtask.ID, Title: title}, nil
	}
	return SubtaskView{ID: saved.ID, Title: saved.Title, Completed: saved.Completed, SortOrder: saved.SortOrder}, nil
}

func (s *Service) UpdateSubtaskItem(ctx context.Context, issueID, subtaskID, userID, title string, completed bool) (SubtaskView, error) {
	_, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return SubtaskView{}, err
	}
	if err := requireWritable(project); err != nil {
		return SubtaskView{}, err
	}
	subtask, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return SubtaskView{}, err
	}
	if subtask.IssueID != issueID {
		return SubtaskView{}, domainError(http.StatusNotFound, "NOT_FOUND", "subtask not found on this issue")
	}
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 200 {
		return SubtaskView{}, domainError(http.StatusBadRequest, "VALIDATION", "subtask title must be 1-200 characters")
	}
	if err := s.store.UpdateSubtask(ctx, subtaskID, title, completed); err != nil {
		return SubtaskView{}, err
	}
	return SubtaskView{ID: subtaskID, Title: title, Completed: completed, SortOrder: subtask.SortOrder}, nil
}

func (s *Service) RemoveSubtask(ctx context.Context, issueID, subtaskID, userID string) error {
	_, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return err
	}
	if err := requireWritable(project); err != nil {
		return err
	}
	subtask, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return err
	}
	if subtask.IssueID != issueID {
		return domainError(http.StatusNotFound, "NOT_FOUND", "subtask not found on this issue")
	}
	return s.store.DeleteSubtask(ctx, subtaskID)
}

func (s *Service) ReorderSubtaskItems(ctx context.Context, issueID, userID string, orderedIDs []string) error {
	_, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return err
	}
	if err := requireWritable(project); err != nil {
		return err
	}
	existing, err := s.store.ListSubtasks(ctx, issueID)
	if err != nil {
		return err
	}
	if len(orderedIDs) != len(existing) {
		return domainError(http.StatusBadRequest, "VALIDATION", "order must list every subtask exactly once")
	}
	known := make(map[string]bool, len(existing))
	for _, st := range existing {
		known[st.ID] = true
	}
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if !known[id] || seen[id] {
			return domainError(http.StatusBadRequest, "VALIDATION", "order must list every subtask exactly once")
		}
		seen[id] = true
	}
	return s.store.ReorderSubtasks(ctx, issueID, orderedIDs)
}

// Labels on issues

// AttachIssueLabel adds a project label to an issue. Duplicates and the
// per-issue cap are rejected.
func (s *Service) AttachIssueLabel(ctx context.Context, issueID, labelID, userID string) error {
	issue, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return err
	}
	if err := requireWritable(project); err != nil {
		return err
	}
	label, err := s.store.GetLabel(ctx, labelID)
	if err != nil {
		return err
	}
	if label.ProjectID != issue.ProjectID {
		return domainError(http.StatusBadRequest, "VALIDATION", "label belongs to a different project")
	}
	has, err := s.store.IssueHasLabel(ctx, issueID, labelID)
	if err != nil {
		return err
	}
	if has {
		return domainError(http.StatusConflict, "LABEL_ATTACHED", "this label is already on the issue")
	}
	count, err := s.store.CountIssueLabels(ctx, issueID)
	if err != nil {
		return err
	}
	if count >= maxLabelsPerIssue {
		return domainError(http.StatusConflict, "LABEL_LIMIT", "an issue can have at most 5 labels")
	}
	return s.store.AttachLabel(ctx, issueID, labelID)
}

func (s *Service) DetachIssueLabel(ctx context.Context, issueID, labelID, userID string) error {
	_, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return err
	}
	if err := requireWritable(project); err != nil {
		return err
	}
	removed, err := s.store.DetachLabel(ctx, issueID, labelID)
	if err != nil {
		return err
	}
	if !removed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "this label is not on the issue")
	}
	return nil
}

// Attachments

func (s *Service) UploadAttachment(ctx context.Context, issueID, userID, fileName, contentType string, reader io.Reader, size int64) (AttachmentView, error) {
	if s.blobs == nil {
		return AttachmentView{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "object storage is not configured")
	}
	_, project, _, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return AttachmentView{}, err
	}
	if err := requireWritable(project); err != nil {
		return AttachmentView{}, err
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return AttachmentView{}, domainError(http.StatusBadRequest, "VALIDATION", "file name is required")
	}
	if size <= 0 || size > maxAttachmentSize {
		return AttachmentView{}, domainError(http.StatusBadRequest, "VALIDATION", "attachment must be at most 20MB")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	attachment := store.Attachment{
		ID:          util.NewID("att"),
		IssueID:     issueID,
		UploaderID:  userID,
		FileName:    fileName,
		ObjectKey:   "attachments/" + issueID + "/" + util.NewID("obj"),
		ContentType: contentType,
		Size:        size,
	}
	if err := s.blobs.Put(ctx, attachment.ObjectKey, reader, size, contentType); err != nil {
		return AttachmentView{}, fmt.Errorf("store attachment: %w", err)
	}
	if err := s.store.CreateAttachment(ctx, attachment); err != nil {
		_ = s.blobs.Delete(ctx, attachment.ObjectKey)
		return AttachmentView{}, err
	}
	return attachmentView(attachment), nil
}

func attachmentView(a store.Attachment) AttachmentView {
	return AttachmentView{
		ID:          a.ID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Size:        a.Size,
		UploaderID:  a.UploaderID,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Service) ListAttachmentViews(ctx context.Context, issueID, userID string) ([]AttachmentView, error) {
	if _, _, _, err := s.issueAccess(ctx, issueID, userID); err != nil {
		return nil, err
	}
	attachments, err := s.store.ListAttachments(ctx, issueID)
	if err != nil {
		return nil, err
	}
	out := make([]AttachmentView, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, attachmentView(a))
	}
	return out, nil
}

// AttachmentDownloadURL hands back a short-lived presigned link.
func (s *Service) AttachmentDownloadURL(ctx context.Context, issueID, attachmentID, userID string) (string, error) {
	if s.blobs == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "object storage is not configured")
	}
	if _, _, _, err := s.issueAccess(ctx, issueID, userID); err != nil {
		return "", err
	}
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return "", err
	}
	if attachment.IssueID != issueID {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "attachment not found on this issue")
	}
	return s.blobs.PresignedGetURL(ctx, attachment.ObjectKey, attachment.FileName, 15*time.Minute)
}

func (s *Service) RemoveAttachment(ctx context.Context, issueID, attachmentID, userID string) error {
	_, project, member, err := s.issueAccess(ctx, issueID, userID)
	if err != nil {
		return err
	}
	if err := requireWritable(project); err != nil {
		return err
	}
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if attachment.IssueID != issueID {
		return domainError(http.StatusNotFound, "NOT_FOUND", "attachment not found on this issue")
	}
	if attachment.UploaderID != userID && !rbac.AtLeast(rbac.Role(member.Role), rbac.RoleAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the uploader or an admin can delete an attachment")
	}
	if err := s.store.DeleteAttachment(ctx, attachmentID); err != nil {
		return err
	}
	if s.blobs != nil {
		_ = s.blobs.Delete(ctx, attachment.ObjectKey)
	}
	return nil
}

// Search

// SearchAll runs a scoped search across every team the caller belongs to.
func (s *Service) SearchAll(ctx context.Context, userID, text, filterType, projectID string, limit, offset int) (search.Response, error) {
	teams, err := s.store.ListTeamsForUser(ctx, userID)
	if err != nil {
		return search.Response{}, err
	}
	if len(teams) == 0 {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	teamIDs := make([]string, 0, len(teams))
	for _, t := range teams {
		teamIDs = append(teamIDs, t.ID)
	}
	if projectID != "" {
		// Scope check; the filter is only honored for projects the
		// caller can see.
		if _, _, err := s.projectAccess(ctx, projectID, userID); err != nil {
			return search.Response{}, err
		}
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(search.Query{
		Text:            text,
		FilterType:      search.ResultType(filterType),
		FilterProjectID: projectID,
		TeamIDs:         teamIDs,
		Limit:           limit,
		Offset:          offset,
	}), nil
}

// indexIssue pushes the issue into the search index.
func (s *Service) indexIssue(ctx context.Context, issue store.Issue, project store.Project) {
	s.search.IndexIssue(search.IssueRecord{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Number:      issue.Number,
		ProjectID:   project.ID,
		TeamID:      project.TeamID,
		Status:      issue.StatusName,
		Type:        issue.Type,
		Priority:    issue.Priority,
	})
}

// truncateValue keeps activity rows readable for long text fields. The cut
// lands on a rune boundary so stored values stay valid UTF-8.
func truncateValue(v string) string {
	if len(v) <= 200 {
		return v
	}
	cut := 200
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut] + "…"
}
