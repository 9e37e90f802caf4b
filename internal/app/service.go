package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"backlog/api/internal/ai"
	"backlog/api/internal/auth"
	"backlog/api/internal/authpw"
	"backlog/api/internal/blob"
	"backlog/api/internal/config"
	"backlog/api/internal/export"
	"backlog/api/internal/rbac"
	"backlog/api/internal/search"
	"backlog/api/internal/store"
	"backlog/api/internal/util"
)

// dataStore is the persistence surface the service consumes. The concrete
// implementation is store.PostgresStore; tests substitute an in-memory fake.
type dataStore interface {
	Ping(ctx context.Context) error

	// Users
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserProfile(ctx context.Context, userID, name, avatarURL string) error
	DeleteUser(ctx context.Context, userID string) error
	CountOwnedTeams(ctx context.Context, userID string) (int, error)
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	// Teams
	CreateTeam(ctx context.Context, team store.Team, ownerID string) error
	TeamSlugExists(ctx context.Context, slug string) (bool, error)
	GetTeamBySlug(ctx context.Context, slug string) (store.Team, error)
	GetTeamByID(ctx context.Context, teamID string) (store.Team, error)
	UpdateTeam(ctx context.Context, teamID, name, description string) error
	DeleteTeam(ctx context.Context, teamID string) error
	ListTeamsForUser(ctx context.Context, userID string) ([]store.TeamWithRole, error)
	GetMembership(ctx context.Context, teamID, userID string) (store.TeamMember, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error)
	AddTeamMember(ctx context.Context, member store.TeamMember) error
	RemoveTeamMember(ctx context.Context, teamID, userID string) error
	UpdateMemberRole(ctx context.Context, teamID, userID, role string) error
	TransferOwnership(ctx context.Context, teamID, fromUserID, toUserID string) error
	CreateTeamInvite(ctx context.Context, invite store.TeamInvite) error
	GetPendingInvite(ctx context.Context, teamID, email string) (store.TeamInvite, error)
	GetInviteByTokenHash(ctx context.Context, tokenHash string) (store.TeamInvite, error)
	ListTeamInvites(ctx context.Context, teamID string) ([]store.TeamInvite, error)
	DeleteTeamInvite(ctx context.Context, inviteID string) error
	InsertTeamActivity(ctx context.Context, activity store.TeamActivity) error
	ListTeamActivity(ctx context.Context, teamID string, limit int) ([]store.TeamActivity, error)
	TeamStatistics(ctx context.Context, teamID string) (store.TeamStats, error)

	// Projects
	CreateProject(ctx context.Context, project store.Project, statuses []store.IssueStatus) error
	ProjectKeyExists(ctx context.Context, teamID, key string) (bool, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListTeamProjects(ctx context.Context, teamID, userID string) ([]store.Project, error)
	UpdateProject(ctx context.Context, projectID, name, description string) error
	SetProjectArchived(ctx context.Context, projectID string, archived bool) error
	DeleteProject(ctx context.Context, projectID string) error
	ListStatuses(ctx context.Context, projectID string) ([]store.IssueStatus, error)
	GetStatus(ctx context.Context, statusID string) (store.IssueStatus, error)
	GetDefaultStatus(ctx context.Context, projectID string) (store.IssueStatus, error)
	CreateStatus(ctx context.Context, status store.IssueStatus) error
	UpdateStatus(ctx context.Context, status store.IssueStatus) error
	DeleteStatus(ctx context.Context, statusID string) error
	ReorderStatuses(ctx context.Context, projectID string, orderedIDs []string) error
	CountStatuses(ctx context.Context, projectID string) (int, error)
	CountIssuesWithStatus(ctx context.Context, statusID string) (int, error)
	ListLabels(ctx context.Context, projectID string) ([]store.Label, error)
	GetLabel(ctx context.Context, labelID string) (store.Label, error)
	CreateLabel(ctx context.Context, label store.Label) error
	UpdateLabel(ctx context.Context, labelID, name, color string) error
	DeleteLabel(ctx context.Context, labelID string) error
	CountLabels(ctx context.Context, projectID string) (int, error)
	LabelNameExists(ctx context.Context, projectID, name string) (bool, error)
	AddFavorite(ctx context.Context, userID, projectID string) error
	RemoveFavorite(ctx context.Context, userID, projectID string) error

	// Issues
	CreateIssue(ctx context.Context, issue store.Issue, activity store.IssueActivity) (int, error)
	GetIssue(ctx context.Context, issueID string) (store.Issue, error)
	ListIssues(ctx context.Context, projectID string, filter store.IssueFilter) ([]store.Issue, error)
	UpdateIssueWithActivity(ctx context.Context, issue store.Issue, entries []store.IssueActivity) error
	DeleteIssue(ctx context.Context, issueID string) error
	ListIssueActivity(ctx context.Context, issueID string) ([]store.IssueActivity, error)
	CreateComment(ctx context.Context, comment store.IssueComment, activity store.IssueActivity) error
	GetComment(ctx context.Context, commentID string) (store.IssueComment, error)
	ListComments(ctx context.Context, issueID string) ([]store.IssueComment, error)
	UpdateComment(ctx context.Context, commentID, content string) error
	SoftDeleteComment(ctx context.Context, commentID string) error
	ListSubtasks(ctx context.Context, issueID string) ([]store.Subtask, error)
	GetSubtask(ctx context.Context, subtaskID string) (store.Subtask, error)
	CreateSubtask(ctx context.Context, subtask store.Subtask) error
	UpdateSubtask(ctx context.Context, subtaskID, title string, completed bool) error
	DeleteSubtask(ctx context.Context, subtaskID string) error
	CountSubtasks(ctx context.Context, issueID string) (int, error)
	ReorderSubtasks(ctx context.Context, issueID string, orderedIDs []string) error
	AttachLabel(ctx context.Context, issueID, labelID string) error
	DetachLabel(ctx context.Context, issueID, labelID string) (bool, error)
	CountIssueLabels(ctx context.Context, issueID string) (int, error)
	IssueHasLabel(ctx context.Context, issueID, labelID string) (bool, error)
	DueIssuesBetween(ctx context.Context, from, to string) ([]store.DueIssue, error)
	CreateAttachment(ctx context.Context, attachment store.Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	ListAttachments(ctx context.Context, issueID string) ([]store.Attachment, error)
	DeleteAttachment(ctx context.Context, attachmentID string) error

	// Notifications and AI cache
	InsertNotification(ctx context.Context, notification store.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, notificationID, userID string) error
	DueNotificationExistsToday(ctx context.Context, userID, link, title string) (bool, error)
}

// refreshStore holds refresh sessions. Redis when available, Postgres as
// the fallback; both sides hash the token before it gets here.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// blobStore is the object-storage surface for avatars and attachments.
type blobStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignedGetURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

// mailer is the email surface the service consumes. Sends are best-effort
// from callers; failures never fail the parent operation.
type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendTeamInviteEmail(to, teamName, inviterName, role, acceptURL string) error
	SendTeamNoticeEmail(to, userName, teamName, subject, message string) error
}

// Service implements the application operations behind the HTTP API.
type Service struct {
	cfg       config.Config
	store     dataStore
	refresh   refreshStore
	passwords *authpw.Service
	email     mailer
	search    *search.Service
	exporter  *export.Service
	blobs     blobStore
	ai        *ai.Service
}

func NewService(cfg config.Config, st dataStore, refresh refreshStore, passwords *authpw.Service, mail mailer, searcher *search.Service, exporter *export.Service, blobs blobStore, aiSvc *ai.Service) *Service {
	// A nil *blob.Service still satisfies the interface; collapse it so
	// the nil checks at call sites work.
	if b, ok := blobs.(*blob.Service); ok && b == nil {
		blobs = nil
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		refresh:   refresh,
		passwords: passwords,
		email:     mail,
		search:    searcher,
		exporter:  exporter,
		blobs:     blobs,
		ai:        aiSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Session is what a successful login or refresh hands back to the client.
type Session struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	JTI          string `json:"-"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// CreateSession issues an access/refresh token pair for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	exp := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  exp.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken := util.NewID("rft") + util.NewToken()
	refreshExp := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExp); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    exp.Unix(),
	}, nil
}

// Refresh rotates a refresh token. The old token is revoked before the new
// session is issued so a replayed token fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, domainError(http.StatusBadRequest, "VALIDATION", "refresh token is required")
	}
	hash := auth.HashToken(refreshToken)
	user, err := s.refresh.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token")
	}
	// The refresh store may only round-trip the user ID.
	full, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token")
	}
	if err := s.refresh.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.issueSession(ctx, full)
}

// SessionFromToken validates a bearer token and loads the current user.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		JTI:       claims.JTI,
		ExpiresAt: claims.Exp,
	}, nil
}

// Logout revokes both halves of the session. Best effort on the refresh
// side; the access token revocation is what closes the window.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	if session.JTI == "" {
		return nil
	}
	return s.store.RevokeAccessToken(ctx, session.JTI, time.Unix(session.ExpiresAt, 0))
}

// AuthPasswordService exposes the credential flows to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.passwords
}

func (s *Service) SMTPConfigured() bool {
	return s.email.IsConfigured()
}

func (s *Service) SendVerificationEmail(to, userName, token string) error {
	url := s.cfg.AppURL + "/verify-email?token=" + token
	return s.email.SendVerificationEmail(to, userName, url)
}

func (s *Service) SendPasswordResetEmail(to, userName, token string) error {
	url := s.cfg.AppURL + "/reset-password?token=" + token
	return s.email.SendPasswordResetEmail(to, userName, url)
}

// UserProfile is the /users/me shape.
type UserProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func profileOf(user store.User) UserProfile {
	return UserProfile{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Service) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	return profileOf(user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID, name string) (UserProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return UserProfile{}, domainError(http.StatusBadRequest, "VALIDATION", "name is required")
	}
	if len(name) > 100 {
		return UserProfile{}, domainError(http.StatusBadRequest, "VALIDATION", "name must be at most 100 characters")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	if err := s.store.UpdateUserProfile(ctx, userID, name, user.AvatarURL); err != nil {
		return UserProfile{}, err
	}
	user.Name = name
	return profileOf(user), nil
}

// UploadAvatar stores the image and records its key on the profile.
func (s *Service) UploadAvatar(ctx context.Context, userID string, reader io.Reader, size int64, contentType string) (UserProfile, error) {
	if s.blobs == nil {
		return UserProfile{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "object storage is not configured")
	}
	if size > 5<<20 {
		return UserProfile{}, domainError(http.StatusBadRequest, "VALIDATION", "avatar must be at most 5MB")
	}
	switch contentType {
	case "image/png", "image/jpeg", "image/webp":
	default:
		return UserProfile{}, domainError(http.StatusBadRequest, "VALIDATION", "avatar must be a PNG, JPEG, or WebP image")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	key := "avatars/" + userID
	if err := s.blobs.Put(ctx, key, reader, size, contentType); err != nil {
		return UserProfile{}, fmt.Errorf("store avatar: %w", err)
	}
	url, err := s.blobs.PresignedGetURL(ctx, key, "", 7*24*time.Hour)
	if err != nil {
		return UserProfile{}, fmt.Errorf("presign avatar: %w", err)
	}
	if err := s.store.UpdateUserProfile(ctx, userID, user.Name, url); err != nil {
		return UserProfile{}, err
	}
	user.AvatarURL = url
	return profileOf(user), nil
}

// DeleteAccount removes the user. Sole owners have to transfer or delete
// their teams first.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	owned, err := s.store.CountOwnedTeams(ctx, userID)
	if err != nil {
		return err
	}
	if owned > 0 {
		return domainError(http.StatusConflict, "OWNS_TEAMS", "transfer or delete owned teams before deleting the account")
	}
	return s.store.DeleteUser(ctx, userID)
}

// membership loads the caller's role in a team, failing closed. Anyone who
// is not a member gets the same 403 regardless of whether the team exists.
func (s *Service) membership(ctx context.Context, teamID, userID string) (store.TeamMember, error) {
	member, err := s.store.GetMembership(ctx, teamID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.TeamMember{}, errNotTeamMember
	}
	if err != nil {
		return store.TeamMember{}, err
	}
	return member, nil
}

var errNotTeamMember = domainError(http.StatusForbidden, "FORBIDDEN", "you are not a member of this team")

// requireRole loads the membership and enforces a minimum role.
func (s *Service) requireRole(ctx context.Context, teamID, userID string, threshold rbac.Role) (store.TeamMember, error) {
	member, err := s.membership(ctx, teamID, userID)
	if err != nil {
		return store.TeamMember{}, err
	}
	if !rbac.AtLeast(rbac.Role(member.Role), threshold) {
		return store.TeamMember{}, domainError(http.StatusForbidden, "FORBIDDEN", "insufficient role for this action")
	}
	return member, nil
}

// projectAccess resolves a project and verifies the caller belongs to its
// team.
func (s *Service) projectAccess(ctx context.Context, projectID, userID string) (store.Project, store.TeamMember, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, store.TeamMember{}, err
	}
	member, err := s.membership(ctx, project.TeamID, userID)
	if err != nil {
		return store.Project{}, store.TeamMember{}, err
	}
	return project, member, nil
}

// issueAccess resolves an issue through its project to the caller's
// membership.
func (s *Service) issueAccess(ctx context.Context, issueID, userID string) (store.Issue, store.Project, store.TeamMember, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return store.Issue{}, store.Project{}, store.TeamMember{}, err
	}
	project, member, err := s.projectAccess(ctx, issue.ProjectID, userID)
	if err != nil {
		return store.Issue{}, store.Project{}, store.TeamMember{}, err
	}
	return issue, project, member, nil
}

var errProjectArchived = domainError(http.StatusConflict, "PROJECT_ARCHIVED", "this project is archived and read-only")

func requireWritable(project store.Project) error {
	if project.Archived {
		return errProjectArchived
	}
	return nil
}

// teamActivity records an audit entry. Audit failures never fail the
// primary operation.
func (s *Service) teamActivity(ctx context.Context, teamID, actorID, action string, metadata map[string]any) {
	_ = s.store.InsertTeamActivity(ctx, store.TeamActivity{
		ID:       util.NewID("tac"),
		TeamID:   teamID,
		ActorID:  actorID,
		Action:   action,
		Metadata: metadata,
	})
}
