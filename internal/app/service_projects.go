package app

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"backlog/api/internal/export"
	"backlog/api/internal/rbac"
	"backlog/api/internal/store"
	"backlog/api/internal/util"
)

const (
	maxLabelsPerProject = 20
	maxWIPLimit         = 50
)

var projectKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

// Statuses seeded into every new project.
func defaultStatuses(projectID string) []store.IssueStatus {
	return []store.IssueStatus{
		{ID: util.NewID("sts"), ProjectID: projectID, Name: "To Do", Color: "#94a3b8", SortOrder: 1, IsDefault: true},
		{ID: util.NewID("sts"), ProjectID: projectID, Name: "In Progress", Color: "#3b82f6", SortOrder: 2},
		{ID: util.NewID("sts"), ProjectID: projectID, Name: "In Review", Color: "#a855f7", SortOrder: 3},
		{ID: util.NewID("sts"), ProjectID: projectID, Name: "Done", Color: "#22c55e", SortOrder: 4, IsClosed: true},
	}
}

type ProjectView struct {
	ID          string `json:"id"`
	TeamID      string `json:"teamId"`
	Name        string `json:"name"`
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
	Archived    bool   `json:"archived"`
	Favorite    bool   `json:"favorite"`
	IssueCount  int    `json:"issueCount"`
	CreatedAt   string `json:"createdAt"`
}

type StatusView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color"`
	SortOrder  int    `json:"sortOrder"`
	IsDefault  bool   `json:"isDefault"`
	IsClosed   bool   `json:"isClosed"`
	WIPLimit   *int   `json:"wipLimit,omitempty"`
	IssueCount int    `json:"issueCount"`
}

type LabelView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

func projectView(p store.Project) ProjectView {
	return ProjectView{
		ID:          p.ID,
		TeamID:      p.TeamID,
		Name:        p.Name,
		Key:         p.Key,
		Description: p.Description,
		Archived:    p.Archived,
		Favorite:    p.Favorite,
		IssueCount:  p.IssueCount,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func statusView(st store.IssueStatus) StatusView {
	return StatusView{
		ID:         st.ID,
		Name:       st.Name,
		Color:      st.Color,
		SortOrder:  st.SortOrder,
		IsDefault:  st.IsDefault,
		IsClosed:   st.IsClosed,
		WIPLimit:   st.WIPLimit,
		IssueCount: st.IssueCount,
	}
}

func labelView(l store.Label) LabelView {
	return LabelView{ID: l.ID, Name: l.Name, Color: l.Color}
}

// CreateProject creates a project inside a team and seeds its default
// kanban columns. The key must be unique within the team.
func (s *Service) CreateProject(ctx context.Context, slug, userID, name, key, description string) (ProjectView, error) {
	team, _, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return ProjectView{}, err
	}
	if _, err := s.requireRole(ctx, team.ID, userID, rbac.RoleAdmin); err != nil {
		return ProjectView{}, err
	}

	name = strings.TrimSpace(name)
	key = strings.ToUpper(strings.TrimSpace(key))
	if name == "" {
		return ProjectView{}, domainError(http.StatusBadRequest, "VALIDATION", "project name is required")
	}
	if len(name) > 100 {
		return ProjectView{}, domainError(http.StatusBadRequest, "VALIDATION", "project name must be at most 100 characters")
	}
	if !projectKeyPattern.MatchString(key) {
		return ProjectView{}, domainError(http.StatusBadRequest, "VALIDATION", "key must be 2-10 uppercase letters or digits, starting with a letter")
	}
	taken, err := s.store.ProjectKeyExists(ctx, team.ID, key)
	if err != nil {
		return ProjectView{}, err
	}
	if taken {
		return ProjectView{}, domainError(http.StatusConflict, "KEY_TAKEN", "a project with this key already exists in the team")
	}

	project := store.Project{
		ID:          util.NewID("prj"),
		TeamID:      team.ID,
		Name:        name,
		Key:         key,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.CreateProject(ctx, project, defaultStatuses(project.ID)); err != nil {
		return ProjectView{}, err
	}
	s.teamActivity(ctx, team.ID, userID, store.TeamActionProjectCreated, map[string]any{"projectId": project.ID, "key": key})
	return projectView(project), nil
}

func (s *Service) ListProjects(ctx context.Context, slug, userID string) ([]ProjectView, error) {
	team, _, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return nil, err
	}
	projects, err := s.store.ListTeamProjects(ctx, team.ID, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectView(p))
	}
	return out, nil
}

func (s *Service) GetProjectView(ctx context.Context, projectID, userID string) (ProjectView, error) {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return ProjectView{}, err
	}
	return projectView(project), nil
}

func (s *Service) UpdateProject(ctx context.Context, projectID, userID, name, description string) (ProjectView, error) {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return ProjectView{}, err
	}
	if _, err := s.requireRole(ctx, project.TeamID, userID, rbac.RoleAdmin); err != nil {
		return ProjectView{}, err
	}
	if err := requireWritable(project); err != nil {
		return ProjectView{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ProjectView{}, domainError(http.StatusBadRequest, "VALIDATION", "project name is required")
	}
	if err := s.store.UpdateProject(ctx, projectID, name, strings.TrimSpace(description)); err != nil {
		return ProjectView{}, err
	}
	project.Name = name
	project.Description = strings.TrimSpace(description)
	return projectView(project), nil
}

// SetArchived flips the archived flag. Archived projects stay readable but
// reject writes.
func (s *Service) SetArchived(ctx context.Context, projectID, userID string, archived bool) error {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, project.TeamID, userID, rbac.RoleAdmin); err != nil {
		return err
	}
	if project.Archived == archived {
		return nil
	}
	if err := s.store.SetProjectArchived(ctx, projectID, archived); err != nil {
		return err
	}
	action := store.TeamActionProjectArchived
	if !archived {
		action = store.TeamActionProjectUnarchived
	}
	s.teamActivity(ctx, project.TeamID, userID, action, map[string]any{"projectId": projectID, "key": project.Key})
	return nil
}

func (s *Service) DeleteProject(ctx context.Context, projectID, userID string) error {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, project.TeamID, userID, rbac.RoleAdmin); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.teamActivity(ctx, project.TeamID, userID, store.TeamActionProjectDeleted, map[string]any{"key": project.Key})
	s.search.DeleteProjectDocuments(ctx, projectID)
	return nil
}

func (s *Service) SetFavorite(ctx context.Context, projectID, userID string, favorite bool) error {
	if _, _, err := s.projectAccess(ctx, projectID, userID); err != nil {
		return err
	}
	if favorite {
		return s.store.AddFavorite(ctx, userID, projectID)
	}
	return s.store.RemoveFavorite(ctx, userID, projectID)
}

func (s *Service) ListStatusViews(ctx context.Context, projectID, userID string) ([]StatusView, error) {
	if _, _, err := s.projectAccess(ctx, projectID, userID); err != nil {
		return nil, err
	}
	statuses, err := s.store.ListStatuses(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, statusView(st))
	}
	return out, nil
}

func validateWIPLimit(limit *int) error {
	if limit == nil {
		return nil
	}
	if *limit < 1 || *limit > maxWIPLimit {
		return domainError(http.StatusBadRequest, "VALIDATION", "WIP limit must be between 1 and 50")
	}
	return nil
}

func (s *Service) CreateStatus(ctx context.Context, projectID, userID, name, color string, wipLimit *int, isClosed bool) (StatusView, error) {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return StatusView{}, err
	}
	if _, err := s.requireRole(ctx, project.TeamID, userID, rbac.RoleAdmin); err != nil {
		return StatusView{}, err
	}
	if err := requireWritable(project); err != nil {
		return StatusView{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return StatusView{}, domainError(http.StatusBadRequest, "VALIDATION", "status name must be 1-50 characters")
	}
	if err := validateWIPLimit(wipLimit); err != nil {
		return StatusView{}, err
	}
	count, err := s.store.CountStatuses(ctx, projectID)
	if err != nil {
		return StatusView{}, err
	}
	status := store.IssueStatus{
		ID:        util.NewID("sts"),
		ProjectID: projectID,
		Name:      name,
		Color:     color,
		SortOrder: count + 1,
		IsClosed:  isClosed,
		WIPLimit:  wipLimit,
	}
	if err := s.store.CreateStatus(ctx, status); err != nil {
		return StatusView{}, err
	}
	return statusView(status), nil
}

func (s *Service) UpdateStatusColumn(ctx context.Context, projectID, statusID, userID, name, color string, wipLimit *int, isClosed bool) (StatusView, error) {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return StatusView{}, err
	}
	if _, err := s.requireRole(ctx, project.TeamID, userID, rbac.RoleAdmin); err != nil {
		return StatusView{}, err
	}
	if err := requireWritable(project); err != nil {
		return StatusView{}, err
	}
	status, err := s.store.GetStatus(ctx, statusID)
	if err != nil {
		return StatusView{}, err
	}
	if status.ProjectID != projectID {
		return StatusView{}, domainError(http.StatusNotFound, "NOT_FOUND", "status not found in this project")
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return StatusView{}, domainError(http.StatusBadRequest, "VALIDATION", "status name must be 1-50 characters")
	}
	if err := validateWIPLimit(wipLimit); err != nil {
		return StatusView{}, err
	}
	status.Name = name
	status.Color = color
	status.WIPLimit = wipLimit
	status.IsClosed = isClosed
	if err := s.store.UpdateStatus(ctx, status); err != nil {
		return StatusView{}, err
	}
	return statusView(status), nil
}

// DeleteStatusColumn removes a column. The default column, the last
// remaining column, and columns that still hold issues are protected.
func (s *Service) DeleteStatusColumn(ctx context.Context, projectID, statusID, userID string) error {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, project.TeamID, userID, rbac.RoleAdmin); err != nil {
		return err
	}
	if err := requireWritable(project); err != nil {
		return err
	}
	status, err := s.store.GetStatus(ctx, statusID)
	if err != nil {
		return err
	}
	if status.ProjectID != projectID {
		return domainError(http.StatusNotFound, "NOT_FOUND", "status not found in this project")
	}
	if status.IsDefault {
		return domainError(http.StatusConflict, "STATUS_DEFAULT", "the default status cannot be deleted")
	}
	count, err := s.store.CountStatuses(ctx, projectID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return domainError(http.StatusConflict, "STATUS_LAST", "a project needs at least one status")
	}
	inUse, err := s.store.CountIssuesWithStatus(ctx, statusID)
	if err != nil {
		return err
	}
	if inUse > 0 {
		return domainErrorWithDetails(http.StatusConflict, "STATUS_IN_USE", "move the issues out of this column first", map[string]any{"issueCount": inUse})
	}
	return s.store.DeleteStatus(ctx, statusID)
}

func (s *Service) ReorderStatusColumns(ctx context.Context, projectID, userID string, orderedIDs []string) error {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, project.TeamID, userID, rbac.RoleAdmin); err != nil {
		return err
	}
	if err := requireWritable(project); err != nil {
		return err
	}
	existing, err := s.store.ListStatuses(ctx, projectID)
	if err != nil {
		return err
	}
	if len(orderedIDs) != len(existing) {
		return domainError(http.StatusBadRequest, "VALIDATION", "order must list every status exactly once")
	}
	known := make(map[string]bool, len(existing))
	for _, st := range existing {
		known[st.ID] = true
	}
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if !known[id] || seen[id] {
			return domainError(http.StatusBadRequest, "VALIDATION", "order must list every status exactly once")
		}
		seen[id] = true
	}
	return s.store.ReorderStatuses(ctx, projectID, orderedIDs)
}

func (s *Service) ListLabelViews(ctx context.Context, projectID, userID string) ([]LabelView, error) {
	if _, _, err := s.projectAccess(ctx, projectID, userID); err != nil {
		return nil, err
	}
	labels, err := s.store.ListLabels(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]LabelView, 0, len(labels))
	for _, l := range labels {
		out = append(out, labelView(l))
	}
	return out, nil
}

func (s *Service) CreateLabel(ctx context.Context, projectID, userID, name, color string) (LabelView, error) {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return LabelView{}, err
	}
	if err := requireWritable(project); err != nil {
		return LabelView{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return LabelView{}, domainError(http.StatusBadRequest, "VALIDATION", "label name must be 1-50 characters")
	}
	count, err := s.store.CountLabels(ctx, projectID)
	if err != nil {
		return LabelView{}, err
	}
	if count >= maxLabelsPerProject {
		return LabelView{}, domainError(http.StatusConflict, "LABEL_LIMIT", "a project can have at most 20 labels")
	}
	exists, err := s.store.LabelNameExists(ctx, projectID, name)
	if err != nil {
		return LabelView{}, err
	}
	if exists {
		return LabelView{}, domainError(http.StatusConflict, "LABEL_EXISTS", "a label with this name already exists")
	}
	label := store.Label{
		ID:        util.NewID("lbl"),
		ProjectID: projectID,
		Name:      name,
		Color:     color,
	}
	if err := s.store.CreateLabel(ctx, label); err != nil {
		return LabelView{}, err
	}
	return labelView(label), nil
}

func (s *Service) UpdateLabel(ctx context.Context, projectID, labelID, userID, name, color string) (LabelView, error) {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return LabelView{}, err
	}
	if err := requireWritable(project); err != nil {
		return LabelView{}, err
	}
	label, err := s.store.GetLabel(ctx, labelID)
	if err != nil {
		return LabelView{}, err
	}
	if label.ProjectID != projectID {
		return LabelView{}, domainError(http.StatusNotFound, "NOT_FOUND", "label not found in this project")
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 50 {
		return LabelView{}, domainError(http.StatusBadRequest, "VALIDATION", "label name must be 1-50 characters")
	}
	if !strings.EqualFold(name, label.Name) {
		exists, err := s.store.LabelNameExists(ctx, projectID, name)
		if err != nil {
			return LabelView{}, err
		}
		if exists {
			return LabelView{}, domainError(http.StatusConflict, "LABEL_EXISTS", "a label with this name already exists")
		}
	}
	if err := s.store.UpdateLabel(ctx, labelID, name, color); err != nil {
		return LabelView{}, err
	}
	label.Name = name
	label.Color = color
	return labelView(label), nil
}

func (s *Service) DeleteLabel(ctx context.Context, projectID, labelID, userID string) error {
	project, _, err := s.projectAccess(ctx, projectID, userID)
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
	if label.ProjectID != projectID {
		return domainError(http.StatusNotFound, "NOT_FOUND", "label not found in this project")
	}
	return s.store.DeleteLabel(ctx, labelID)
}

// ExportBoard renders the project's kanban board as a PDF or CSV file.
// The board is assembled here; the export service only formats it.
func (s *Service) ExportBoard(ctx context.Context, projectID, userID string, format export.Format) (*export.Result, error) {
	project, _, err := s.projectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	team, err := s.store.GetTeamByID(ctx, project.TeamID)
	if err != nil {
		return nil, err
	}
	statuses, err := s.store.ListStatuses(ctx, projectID)
	if err != nil {
		return nil, err
	}
	issues, err := s.store.ListIssues(ctx, projectID, store.IssueFilter{})
	if err != nil {
		return nil, err
	}

	byStatus := make(map[string][]export.BoardIssue, len(statuses))
	for _, issue := range issues {
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.Name)
		}
		byStatus[issue.StatusID] = append(byStatus[issue.StatusID], export.BoardIssue{
			Number:   issue.Number,
			Title:    issue.Title,
			Type:     issue.Type,
			Priority: issue.Priority,
			Assignee: issue.AssigneeName,
			Labels:   labels,
			DueDate:  issue.DueDate,
		})
	}

	board := export.Board{
		ProjectName: project.Name,
		ProjectKey:  project.Key,
		TeamName:    team.Name,
		GeneratedAt: time.Now(),
	}
	for _, st := range statuses {
		col := export.Column{Name: st.Name, Issues: byStatus[st.ID]}
		if st.WIPLimit != nil {
			col.WIPLimit = *st.WIPLimit
		}
		board.Columns = append(board.Columns, col)
	}
	return s.exporter.Export(board, format)
}
