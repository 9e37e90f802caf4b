package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"backlog/api/internal/store"
)

// memStore is an in-memory dataStore used by the app tests. It mirrors the
// semantics the service relies on from store.PostgresStore: sql.ErrNoRows
// for missing rows, max+1 issue numbering per project, soft-deleted comments
// filtered out of listings, and the same list orderings.
type memStore struct {
	mu      sync.Mutex
	pingErr error

	users         []*store.User
	teams         []*store.Team
	members       []*store.TeamMember
	invites       []*store.TeamInvite
	teamActivity  []*store.TeamActivity
	projects      []*store.Project
	favorites     map[string]bool
	statuses      []*store.IssueStatus
	labels        []*store.Label
	issues        []*store.Issue
	issueLabels   map[string][]string
	activity      []*store.IssueActivity
	comments      []*store.IssueComment
	subtasks      []*store.Subtask
	attachments   []*store.Attachment
	notifications []*store.Notification

	resets      map[string]*passwordReset
	revokedJTIs map[string]bool
	refresh     map[string]*refreshSession
}

type passwordReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

type refreshSession struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

func newMemStore() *memStore {
	return &memStore{
		favorites:   make(map[string]bool),
		issueLabels: make(map[string][]string),
		resets:      make(map[string]*passwordReset),
		revokedJTIs: make(map[string]bool),
		refresh:     make(map[string]*refreshSession),
	}
}

func (m *memStore) Ping(ctx context.Context) error {
	return m.pingErr
}

// Users

func (m *memStore) userByID(userID string) *store.User {
	for _, u := range m.users {
		if u.ID == userID {
			return u
		}
	}
	return nil
}

func (m *memStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u := m.userByID(userID); u != nil {
		return *u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) CreateUser(ctx context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users = append(m.users, &user)
	return nil
}

func (m *memStore) UpdateUserProfile(ctx context.Context, userID, name, avatarURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userByID(userID)
	if u == nil {
		return sql.ErrNoRows
	}
	u.Name = name
	u.AvatarURL = avatarURL
	u.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, u := range m.users {
		if u.ID == userID {
			m.users = append(m.users[:i], m.users[i+1:]...)
			break
		}
	}
	kept := m.members[:0]
	for _, mb := range m.members {
		if mb.UserID != userID {
			kept = append(kept, mb)
		}
	}
	m.members = kept
	return nil
}

func (m *memStore) CountOwnedTeams(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, mb := range m.members {
		if mb.UserID == userID && mb.Role == "OWNER" {
			count++
		}
	}
	return count, nil
}

func (m *memStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userByID(userID)
	if u == nil {
		return sql.ErrNoRows
	}
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	return nil
}

func (m *memStore) VerifyUserEmail(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.VerificationToken == token && u.VerificationExpiresAt != nil && u.VerificationExpiresAt.After(time.Now()) {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			u.VerificationExpiresAt = nil
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userByID(userID)
	if u == nil {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = &passwordReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resets[token]
	if !ok || r.used || !r.expiresAt.After(time.Now()) {
		return "", sql.ErrNoRows
	}
	return r.userID, nil
}

func (m *memStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resets[token]; ok {
		r.used = true
	}
	return nil
}

func (m *memStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedJTIs[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokedJTIs[jti], nil
}

// Refresh sessions (Postgres fallback shape)

func (m *memStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = &refreshSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.refresh[tokenHash]
	if !ok || s.revoked || !s.expiresAt.After(time.Now()) {
		return store.User{}, sql.ErrNoRows
	}
	if u := m.userByID(s.userID); u != nil {
		return *u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.refresh[tokenHash]; ok {
		s.revoked = true
	}
	return nil
}

// Teams

func (m *memStore) teamByID(teamID string) *store.Team {
	for _, t := range m.teams {
		if t.ID == teamID {
			return t
		}
	}
	return nil
}

func (m *memStore) memberOf(teamID, userID string) *store.TeamMember {
	for _, mb := range m.members {
		if mb.TeamID == teamID && mb.UserID == userID {
			return mb
		}
	}
	return nil
}

func (m *memStore) joinedMember(mb *store.TeamMember) store.TeamMember {
	out := *mb
	if u := m.userByID(mb.UserID); u != nil {
		out.UserName = u.Name
		out.UserEmail = u.Email
		out.UserAvatarURL = u.AvatarURL
	}
	return out
}

func (m *memStore) CreateTeam(ctx context.Context, team store.Team, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	team.CreatedAt = time.Now()
	team.UpdatedAt = team.CreatedAt
	m.teams = append(m.teams, &team)
	m.members = append(m.members, &store.TeamMember{
		ID:        "mem_" + team.ID,
		TeamID:    team.ID,
		UserID:    ownerID,
		Role:      "OWNER",
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *memStore) TeamSlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teams {
		if t.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetTeamBySlug(ctx context.Context, slug string) (store.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teams {
		if t.Slug == slug {
			return *t, nil
		}
	}
	return store.Team{}, sql.ErrNoRows
}

func (m *memStore) GetTeamByID(ctx context.Context, teamID string) (store.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.teamByID(teamID); t != nil {
		return *t, nil
	}
	return store.Team{}, sql.ErrNoRows
}

func (m *memStore) UpdateTeam(ctx context.Context, teamID, name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.teamByID(teamID)
	if t == nil {
		return sql.ErrNoRows
	}
	t.Name = name
	t.Description = description
	t.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) DeleteTeam(ctx context.Context, teamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.teams {
		if t.ID == teamID {
			m.teams = append(m.teams[:i], m.teams[i+1:]...)
			break
		}
	}
	kept := m.members[:0]
	for _, mb := range m.members {
		if mb.TeamID != teamID {
			kept = append(kept, mb)
		}
	}
	m.members = kept
	for _, p := range append([]*store.Project(nil), m.projects...) {
		if p.TeamID == teamID {
			m.deleteProjectLocked(p.ID)
		}
	}
	return nil
}

func (m *memStore) ListTeamsForUser(ctx context.Context, userID string) ([]store.TeamWithRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TeamWithRole
	for _, t := range m.teams {
		mb := m.memberOf(t.ID, userID)
		if mb == nil {
			continue
		}
		count := 0
		for _, other := range m.members {
			if other.TeamID == t.ID {
				count++
			}
		}
		out = append(out, store.TeamWithRole{Team: *t, Role: mb.Role, MemberCount: count})
	}
	return out, nil
}

func (m *memStore) GetMembership(ctx context.Context, teamID, userID string) (store.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mb := m.memberOf(teamID, userID); mb != nil {
		return m.joinedMember(mb), nil
	}
	return store.TeamMember{}, sql.ErrNoRows
}

func (m *memStore) ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TeamMember
	for _, mb := range m.members {
		if mb.TeamID == teamID {
			out = append(out, m.joinedMember(mb))
		}
	}
	return out, nil
}

func (m *memStore) AddTeamMember(ctx context.Context, member store.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member.CreatedAt = time.Now()
	m.members = append(m.members, &member)
	return nil
}

func (m *memStore) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, mb := range m.members {
		if mb.TeamID == teamID && mb.UserID == userID {
			m.members = append(m.members[:i], m.members[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) UpdateMemberRole(ctx context.Context, teamID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb := m.memberOf(teamID, userID)
	if mb == nil {
		return sql.ErrNoRows
	}
	mb.Role = role
	return nil
}

func (m *memStore) TransferOwnership(ctx context.Context, teamID, fromUserID, toUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.memberOf(teamID, fromUserID)
	to := m.memberOf(teamID, toUserID)
	if from == nil || to == nil {
		return sql.ErrNoRows
	}
	from.Role = "ADMIN"
	to.Role = "OWNER"
	return nil
}

func (m *memStore) CreateTeamInvite(ctx context.Context, invite store.TeamInvite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.invites[:0]
	for _, inv := range m.invites {
		if inv.TeamID == invite.TeamID && inv.Email == invite.Email && !inv.ExpiresAt.After(time.Now()) {
			continue
		}
		kept = append(kept, inv)
	}
	m.invites = kept
	invite.CreatedAt = time.Now()
	m.invites = append(m.invites, &invite)
	return nil
}

func (m *memStore) GetPendingInvite(ctx context.Context, teamID, email string) (store.TeamInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invites {
		if inv.TeamID == teamID && inv.Email == email && inv.ExpiresAt.After(time.Now()) {
			return *inv, nil
		}
	}
	return store.TeamInvite{}, sql.ErrNoRows
}

func (m *memStore) GetInviteByTokenHash(ctx context.Context, tokenHash string) (store.TeamInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invites {
		if inv.TokenHash == tokenHash {
			return *inv, nil
		}
	}
	return store.TeamInvite{}, sql.ErrNoRows
}

func (m *memStore) ListTeamInvites(ctx context.Context, teamID string) ([]store.TeamInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TeamInvite
	for _, inv := range m.invites {
		if inv.TeamID == teamID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memStore) DeleteTeamInvite(ctx context.Context, inviteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, inv := range m.invites {
		if inv.ID == inviteID {
			m.invites = append(m.invites[:i], m.invites[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) InsertTeamActivity(ctx context.Context, activity store.TeamActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	activity.CreatedAt = time.Now()
	if u := m.userByID(activity.ActorID); u != nil {
		activity.ActorName = u.Name
	}
	m.teamActivity = append(m.teamActivity, &activity)
	return nil
}

func (m *memStore) ListTeamActivity(ctx context.Context, teamID string, limit int) ([]store.TeamActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TeamActivity
	for i := len(m.teamActivity) - 1; i >= 0 && len(out) < limit; i-- {
		if m.teamActivity[i].TeamID == teamID {
			out = append(out, *m.teamActivity[i])
		}
	}
	return out, nil
}

func (m *memStore) TeamStatistics(ctx context.Context, teamID string) (store.TeamStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := store.TeamStats{
		ByPriority: make(map[string]int),
		ByType:     make(map[string]int),
		ByAssignee: make(map[string]int),
	}
	projectIDs := make(map[string]bool)
	for _, p := range m.projects {
		if p.TeamID == teamID {
			stats.Projects++
			projectIDs[p.ID] = true
		}
	}
	for _, mb := range m.members {
		if mb.TeamID == teamID {
			stats.Members++
		}
	}
	for _, i := range m.issues {
		if !projectIDs[i.ProjectID] || i.DeletedAt != nil {
			continue
		}
		if st := m.statusByID(i.StatusID); st != nil && st.IsClosed {
			stats.ClosedIssues++
			continue
		}
		stats.OpenIssues++
		stats.ByPriority[i.Priority]++
		stats.ByType[i.Type]++
		if i.AssigneeID != nil {
			if u := m.userByID(*i.AssigneeID); u != nil {
				stats.ByAssignee[u.Name]++
			}
		}
	}
	return stats, nil
}

// Projects

func (m *memStore) projectByID(projectID string) *store.Project {
	for _, p := range m.projects {
		if p.ID == projectID {
			return p
		}
	}
	return nil
}

func (m *memStore) statusByID(statusID string) *store.IssueStatus {
	for _, st := range m.statuses {
		if st.ID == statusID {
			return st
		}
	}
	return nil
}

func (m *memStore) CreateProject(ctx context.Context, project store.Project, statuses []store.IssueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project.CreatedAt = time.Now()
	project.UpdatedAt = project.CreatedAt
	m.projects = append(m.projects, &project)
	for i := range statuses {
		st := statuses[i]
		st.CreatedAt = time.Now()
		m.statuses = append(m.statuses, &st)
	}
	return nil
}

func (m *memStore) ProjectKeyExists(ctx context.Context, teamID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.TeamID == teamID && p.Key == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.projectByID(projectID); p != nil {
		return *p, nil
	}
	return store.Project{}, sql.ErrNoRows
}

func (m *memStore) ListTeamProjects(ctx context.Context, teamID, userID string) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Project
	for _, p := range m.projects {
		if p.TeamID != teamID {
			continue
		}
		row := *p
		row.Favorite = m.favorites[userID+"\x00"+p.ID]
		for _, i := range m.issues {
			if i.ProjectID == p.ID && i.DeletedAt == nil {
				row.IssueCount++
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *memStore) UpdateProject(ctx context.Context, projectID, name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projectByID(projectID)
	if p == nil {
		return sql.ErrNoRows
	}
	p.Name = name
	p.Description = description
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) SetProjectArchived(ctx context.Context, projectID string, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projectByID(projectID)
	if p == nil {
		return sql.ErrNoRows
	}
	p.Archived = archived
	return nil
}

func (m *memStore) deleteProjectLocked(projectID string) {
	for i, p := range m.projects {
		if p.ID == projectID {
			m.projects = append(m.projects[:i], m.projects[i+1:]...)
			break
		}
	}
	keptStatuses := m.statuses[:0]
	for _, st := range m.statuses {
		if st.ProjectID != projectID {
			keptStatuses = append(keptStatuses, st)
		}
	}
	m.statuses = keptStatuses
	keptLabels := m.labels[:0]
	for _, l := range m.labels {
		if l.ProjectID != projectID {
			keptLabels = append(keptLabels, l)
		}
	}
	m.labels = keptLabels
	for _, i := range append([]*store.Issue(nil), m.issues...) {
		if i.ProjectID == projectID {
			m.deleteIssueLocked(i.ID)
		}
	}
}

func (m *memStore) DeleteProject(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteProjectLocked(projectID)
	return nil
}

func (m *memStore) ListStatuses(ctx context.Context, projectID string) ([]store.IssueStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.IssueStatus
	for _, st := range m.statuses {
		if st.ProjectID != projectID {
			continue
		}
		row := *st
		for _, i := range m.issues {
			if i.StatusID == st.ID && i.DeletedAt == nil {
				row.IssueCount++
			}
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SortOrder < out[b].SortOrder })
	return out, nil
}

func (m *memStore) GetStatus(ctx context.Context, statusID string) (store.IssueStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.statusByID(statusID); st != nil {
		return *st, nil
	}
	return store.IssueStatus{}, sql.ErrNoRows
}

func (m *memStore) GetDefaultStatus(ctx context.Context, projectID string) (store.IssueStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.statuses {
		if st.ProjectID == projectID && st.IsDefault {
			return *st, nil
		}
	}
	return store.IssueStatus{}, sql.ErrNoRows
}

func (m *memStore) CreateStatus(ctx context.Context, status store.IssueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status.CreatedAt = time.Now()
	m.statuses = append(m.statuses, &status)
	return nil
}

func (m *memStore) UpdateStatus(ctx context.Context, status store.IssueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.statusByID(status.ID)
	if st == nil {
		return sql.ErrNoRows
	}
	st.Name = status.Name
	st.Color = status.Color
	st.WIPLimit = status.WIPLimit
	st.IsClosed = status.IsClosed
	return nil
}

func (m *memStore) DeleteStatus(ctx context.Context, statusID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, st := range m.statuses {
		if st.ID == statusID {
			m.statuses = append(m.statuses[:i], m.statuses[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) ReorderStatuses(ctx context.Context, projectID string, orderedIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pos, id := range orderedIDs {
		if st := m.statusByID(id); st != nil && st.ProjectID == projectID {
			st.SortOrder = pos + 1
		}
	}
	return nil
}

func (m *memStore) CountStatuses(ctx context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, st := range m.statuses {
		if st.ProjectID == projectID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountIssuesWithStatus(ctx context.Context, statusID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, i := range m.issues {
		if i.StatusID == statusID && i.DeletedAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListLabels(ctx context.Context, projectID string) ([]store.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Label
	for _, l := range m.labels {
		if l.ProjectID == projectID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func (m *memStore) GetLabel(ctx context.Context, labelID string) (store.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.labels {
		if l.ID == labelID {
			return *l, nil
		}
	}
	return store.Label{}, sql.ErrNoRows
}

func (m *memStore) CreateLabel(ctx context.Context, label store.Label) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	label.CreatedAt = time.Now()
	m.labels = append(m.labels, &label)
	return nil
}

func (m *memStore) UpdateLabel(ctx context.Context, labelID, name, color string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.labels {
		if l.ID == labelID {
			l.Name = name
			l.Color = color
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) DeleteLabel(ctx context.Context, labelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.labels {
		if l.ID == labelID {
			m.labels = append(m.labels[:i], m.labels[i+1:]...)
			break
		}
	}
	for issueID, ids := range m.issueLabels {
		kept := ids[:0]
		for _, id := range ids {
			if id != labelID {
				kept = append(kept, id)
			}
		}
		m.issueLabels[issueID] = kept
	}
	return nil
}

func (m *memStore) CountLabels(ctx context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, l := range m.labels {
		if l.ProjectID == projectID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) LabelNameExists(ctx context.Context, projectID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.labels {
		if l.ProjectID == projectID && strings.EqualFold(l.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) AddFavorite(ctx context.Context, userID, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.favorites[userID+"\x00"+projectID] = true
	return nil
}

func (m *memStore) RemoveFavorite(ctx context.Context, userID, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.favorites, userID+"\x00"+projectID)
	return nil
}

// Issues

func (m *memStore) issueByID(issueID string) *store.Issue {
	for _, i := range m.issues {
		if i.ID == issueID && i.DeletedAt == nil {
			return i
		}
	}
	return nil
}

func (m *memStore) joinedIssue(i *store.Issue) store.Issue {
	out := *i
	if st := m.statusByID(i.StatusID); st != nil {
		out.StatusName = st.Name
	}
	if i.AssigneeID != nil {
		if u := m.userByID(*i.AssigneeID); u != nil {
			out.AssigneeName = u.Name
		}
	}
	if u := m.userByID(i.ReporterID); u != nil {
		out.ReporterName = u.Name
	}
	var labels []store.Label
	for _, labelID := range m.issueLabels[i.ID] {
		for _, l := range m.labels {
			if l.ID == labelID {
				labels = append(labels, *l)
			}
		}
	}
	sort.Slice(labels, func(a, b int) bool { return labels[a].Name < labels[b].Name })
	out.Labels = labels
	return out
}

func (m *memStore) CreateIssue(ctx context.Context, issue store.Issue, activity store.IssueActivity) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	number := 0
	for _, i := range m.issues {
		if i.ProjectID == issue.ProjectID && i.Number > number {
			number = i.Number
		}
	}
	number++
	issue.Number = number
	issue.CreatedAt = time.Now()
	issue.UpdatedAt = issue.CreatedAt
	m.issues = append(m.issues, &issue)
	activity.IssueID = issue.ID
	activity.CreatedAt = time.Now()
	m.activity = append(m.activity, &activity)
	return number, nil
}

func (m *memStore) GetIssue(ctx context.Context, issueID string) (store.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.issueByID(issueID); i != nil {
		return m.joinedIssue(i), nil
	}
	return store.Issue{}, sql.ErrNoRows
}

func (m *memStore) ListIssues(ctx context.Context, projectID string, filter store.IssueFilter) ([]store.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Issue
	for _, i := range m.issues {
		if i.ProjectID != projectID || i.DeletedAt != nil {
			continue
		}
		if filter.StatusID != "" && i.StatusID != filter.StatusID {
			continue
		}
		if filter.AssigneeID != "" && (i.AssigneeID == nil || *i.AssigneeID != filter.AssigneeID) {
			continue
		}
		if filter.Type != "" && i.Type != filter.Type {
			continue
		}
		if filter.Priority != "" && i.Priority != filter.Priority {
			continue
		}
		if filter.LabelID != "" {
			found := false
			for _, id := range m.issueLabels[i.ID] {
				if id == filter.LabelID {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		if filter.Search != "" {
			q := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(i.Title), q) && !strings.Contains(strings.ToLower(i.Description), q) {
				continue
			}
		}
		out = append(out, m.joinedIssue(i))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Number < out[b].Number })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) UpdateIssueWithActivity(ctx context.Context, issue store.Issue, entries []store.IssueActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.issueByID(issue.ID)
	if i == nil {
		return sql.ErrNoRows
	}
	i.Title = issue.Title
	i.Description = issue.Description
	i.Type = issue.Type
	i.Priority = issue.Priority
	i.StatusID = issue.StatusID
	i.AssigneeID = issue.AssigneeID
	i.DueDate = issue.DueDate
	i.UpdatedAt = time.Now()
	for idx := range entries {
		e := entries[idx]
		e.CreatedAt = time.Now()
		m.activity = append(m.activity, &e)
	}
	return nil
}

func (m *memStore) deleteIssueLocked(issueID string) {
	for i, issue := range m.issues {
		if issue.ID == issueID {
			m.issues = append(m.issues[:i], m.issues[i+1:]...)
			break
		}
	}
	keptActivity := m.activity[:0]
	for _, a := range m.activity {
		if a.IssueID != issueID {
			keptActivity = append(keptActivity, a)
		}
	}
	m.activity = keptActivity
	keptComments := m.comments[:0]
	for _, c := range m.comments {
		if c.IssueID != issueID {
			keptComments = append(keptComments, c)
		}
	}
	m.comments = keptComments
	keptSubtasks := m.subtasks[:0]
	for _, st := range m.subtasks {
		if st.IssueID != issueID {
			keptSubtasks = append(keptSubtasks, st)
		}
	}
	m.subtasks = keptSubtasks
	keptAttachments := m.attachments[:0]
	for _, a := range m.attachments {
		if a.IssueID != issueID {
			keptAttachments = append(keptAttachments, a)
		}
	}
	m.attachments = keptAttachments
	delete(m.issueLabels, issueID)
}

func (m *memStore) DeleteIssue(ctx context.Context, issueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteIssueLocked(issueID)
	return nil
}

func (m *memStore) ListIssueActivity(ctx context.Context, issueID string) ([]store.IssueActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.IssueActivity
	for _, a := range m.activity {
		if a.IssueID != issueID {
			continue
		}
		row := *a
		if u := m.userByID(a.ActorID); u != nil {
			row.ActorName = u.Name
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *memStore) CreateComment(ctx context.Context, comment store.IssueComment, activity store.IssueActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment.CreatedAt = time.Now()
	comment.UpdatedAt = comment.CreatedAt
	m.comments = append(m.comments, &comment)
	activity.CreatedAt = time.Now()
	m.activity = append(m.activity, &activity)
	return nil
}

func (m *memStore) GetComment(ctx context.Context, commentID string) (store.IssueComment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.comments {
		if c.ID == commentID && c.DeletedAt == nil {
			row := *c
			if u := m.userByID(c.AuthorID); u != nil {
				row.AuthorName = u.Name
			}
			return row, nil
		}
	}
	return store.IssueComment{}, sql.ErrNoRows
}

func (m *memStore) ListComments(ctx context.Context, issueID string) ([]store.IssueComment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.IssueComment
	for _, c := range m.comments {
		if c.IssueID != issueID || c.DeletedAt != nil {
			continue
		}
		row := *c
		if u := m.userByID(c.AuthorID); u != nil {
			row.AuthorName = u.Name
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *memStore) UpdateComment(ctx context.Context, commentID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.comments {
		if c.ID == commentID && c.DeletedAt == nil {
			c.Content = content
			c.UpdatedAt = time.Now()
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) SoftDeleteComment(ctx context.Context, commentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.comments {
		if c.ID == commentID && c.DeletedAt == nil {
			now := time.Now()
			c.DeletedAt = &now
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) ListSubtasks(ctx context.Context, issueID string) ([]store.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Subtask
	for _, st := range m.subtasks {
		if st.IssueID == issueID {
			out = append(out, *st)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SortOrder < out[b].SortOrder })
	return out, nil
}

func (m *memStore) GetSubtask(ctx context.Context, subtaskID string) (store.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.subtasks {
		if st.ID == subtaskID {
			return *st, nil
		}
	}
	return store.Subtask{}, sql.ErrNoRows
}

func (m *memStore) CreateSubtask(ctx context.Context, subtask store.Subtask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxOrder := 0
	for _, st := range m.subtasks {
		if st.IssueID == subtask.IssueID && st.SortOrder > maxOrder {
			maxOrder = st.SortOrder
		}
	}
	subtask.SortOrder = maxOrder + 1
	subtask.CreatedAt = time.Now()
	m.subtasks = append(m.subtasks, &subtask)
	return nil
}

func (m *memStore) UpdateSubtask(ctx context.Context, subtaskID, title string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.subtasks {
		if st.ID == subtaskID {
			st.Title = title
			st.Completed = completed
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) DeleteSubtask(ctx context.Context, subtaskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, st := range m.subtasks {
		if st.ID == subtaskID {
			m.subtasks = append(m.subtasks[:i], m.subtasks[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) CountSubtasks(ctx context.Context, issueID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, st := range m.subtasks {
		if st.IssueID == issueID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ReorderSubtasks(ctx context.Context, issueID string, orderedIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pos, id := range orderedIDs {
		for _, st := range m.subtasks {
			if st.ID == id && st.IssueID == issueID {
				st.SortOrder = pos + 1
			}
		}
	}
	return nil
}

func (m *memStore) AttachLabel(ctx context.Context, issueID, labelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.issueLabels[issueID] {
		if id == labelID {
			return nil
		}
	}
	m.issueLabels[issueID] = append(m.issueLabels[issueID], labelID)
	return nil
}

func (m *memStore) DetachLabel(ctx context.Context, issueID, labelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.issueLabels[issueID]
	for i, id := range ids {
		if id == labelID {
			m.issueLabels[issueID] = append(ids[:i], ids[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CountIssueLabels(ctx context.Context, issueID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issueLabels[issueID]), nil
}

func (m *memStore) IssueHasLabel(ctx context.Context, issueID, labelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.issueLabels[issueID] {
		if id == labelID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DueIssuesBetween(ctx context.Context, from, to string) ([]store.DueIssue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fromT, err := time.Parse("2006-01-02", from)
	if err != nil {
		return nil, err
	}
	toT, err := time.Parse("2006-01-02", to)
	if err != nil {
		return nil, err
	}
	var out []store.DueIssue
	for _, i := range m.issues {
		if i.DeletedAt != nil || i.AssigneeID == nil || i.DueDate == nil {
			continue
		}
		if st := m.statusByID(i.StatusID); st != nil && st.IsClosed {
			continue
		}
		if i.DueDate.Before(fromT) || !i.DueDate.Before(toT) {
			continue
		}
		p := m.projectByID(i.ProjectID)
		if p == nil {
			continue
		}
		t := m.teamByID(p.TeamID)
		if t == nil {
			continue
		}
		out = append(out, store.DueIssue{
			IssueID:    i.ID,
			Title:      i.Title,
			Number:     i.Number,
			ProjectKey: p.Key,
			TeamSlug:   t.Slug,
			AssigneeID: *i.AssigneeID,
			DueDate:    *i.DueDate,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DueDate.Before(out[b].DueDate) })
	return out, nil
}

func (m *memStore) CreateAttachment(ctx context.Context, attachment store.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attachment.CreatedAt = time.Now()
	m.attachments = append(m.attachments, &attachment)
	return nil
}

func (m *memStore) GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attachments {
		if a.ID == attachmentID {
			return *a, nil
		}
	}
	return store.Attachment{}, sql.ErrNoRows
}

func (m *memStore) ListAttachments(ctx context.Context, issueID string) ([]store.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Attachment
	for _, a := range m.attachments {
		if a.IssueID == issueID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.attachments {
		if a.ID == attachmentID {
			m.attachments = append(m.attachments[:i], m.attachments[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

// Notifications

func (m *memStore) InsertNotification(ctx context.Context, notification store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification.CreatedAt = time.Now()
	m.notifications = append(m.notifications, &notification)
	return nil
}

func (m *memStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := m.notifications[i]
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func (m *memStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *memStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID == notificationID && n.UserID == userID {
			n.Read = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.UserID == userID {
			n.Read = true
		}
	}
	return nil
}

func (m *memStore) DeleteNotification(ctx context.Context, notificationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications {
		if n.ID == notificationID && n.UserID == userID {
			m.notifications = append(m.notifications[:i], m.notifications[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) DueNotificationExistsToday(ctx context.Context, userID, link, title string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for _, n := range m.notifications {
		if n.UserID == userID && n.Type == store.NotifyIssueDueSoon && n.Link == link && n.Title == title && !n.CreatedAt.UTC().Before(today) {
			return true, nil
		}
	}
	return false, nil
}
