package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"backlog/api/internal/auth"
	"backlog/api/internal/rbac"
	"backlog/api/internal/store"
	"backlog/api/internal/util"
)

const inviteTTL = 7 * 24 * time.Hour

// TeamView is a team row shaped for the API, with the caller's role.
type TeamView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Role        string `json:"role"`
	MemberCount int    `json:"memberCount,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type MemberView struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Role      string `json:"role"`
	JoinedAt  string `json:"joinedAt"`
}

type InviteView struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expiresAt"`
	CreatedAt string `json:"createdAt"`
	// Token is only populated at creation time when email delivery is not
	// configured, so local setups can hand the link over manually.
	Token string `json:"token,omitempty"`
}

type ActivityView struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actorId"`
	ActorName string         `json:"actorName"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func teamView(team store.Team, role string, memberCount int) TeamView {
	return TeamView{
		ID:          team.ID,
		Name:        team.Name,
		Slug:        team.Slug,
		Description: team.Description,
		Role:        role,
		MemberCount: memberCount,
		CreatedAt:   team.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func memberView(m store.TeamMember) MemberView {
	return MemberView{
		UserID:    m.UserID,
		Name:      m.UserName,
		Email:     m.UserEmail,
		AvatarURL: m.UserAvatarURL,
		Role:      m.Role,
		JoinedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateTeam creates a team with the caller as OWNER. The slug is derived
// from the name; collisions get a random suffix.
func (s *Service) CreateTeam(ctx context.Context, userID, name, description string) (TeamView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return TeamView{}, domainError(http.StatusBadRequest, "VALIDATION", "team name is required")
	}
	if len(name) > 100 {
		return TeamView{}, domainError(http.StatusBadRequest, "VALIDATION", "team name must be at most 100 characters")
	}

	slug := util.Slugify(name)
	if slug == "" {
		slug = "team"
	}
	taken, err := s.store.TeamSlugExists(ctx, slug)
	if err != nil {
		return TeamView{}, err
	}
	if taken {
		slug = slug + "-" + util.SlugSuffix()
	}

	team := store.Team{
		ID:          util.NewID("team"),
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.CreateTeam(ctx, team, userID); err != nil {
		return TeamView{}, err
	}
	return teamView(team, string(rbac.RoleOwner), 1), nil
}

func (s *Service) ListMyTeams(ctx context.Context, userID string) ([]TeamView, error) {
	teams, err := s.store.ListTeamsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]TeamView, 0, len(teams))
	for _, t := range teams {
		out = append(out, teamView(t.Team, t.Role, t.MemberCount))
	}
	return out, nil
}

// teamBySlug resolves a slug for a member, returning the same 403 for
// unknown slugs and non-membership alike.
func (s *Service) teamBySlug(ctx context.Context, slug, userID string) (store.Team, store.TeamMember, error) {
	team, err := s.store.GetTeamBySlug(ctx, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Team{}, store.TeamMember{}, errNotTeamMember
	}
	if err != nil {
		return store.Team{}, store.TeamMember{}, err
	}
	member, err := s.membership(ctx, team.ID, userID)
	if err != nil {
		return store.Team{}, store.TeamMember{}, err
	}
	return team, member, nil
}

func (s *Service) GetTeam(ctx context.Context, slug, userID string) (TeamView, error) {
	team, member, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return TeamView{}, err
	}
	members, err := s.store.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return TeamView{}, err
	}
	return teamView(team, member.Role, len(members)), nil
}

func (s *Service) UpdateTeam(ctx context.Context, slug, userID, name, description string) (TeamView, error) {
	team, member, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return TeamView{}, err
	}
	if !rbac.AtLeast(rbac.Role(member.Role), rbac.RoleAdmin) {
		return TeamView{}, domainError(http.StatusForbidden, "FORBIDDEN", "insufficient role for this action")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return TeamView{}, domainError(http.StatusBadRequest, "VALIDATION", "team name is required")
	}
	if err := s.store.UpdateTeam(ctx, team.ID, name, strings.TrimSpace(description)); err != nil {
		return TeamView{}, err
	}
	s.teamActivity(ctx, team.ID, userID, store.TeamActionTeamUpdated, map[string]any{"name": name})
	team.Name = name
	team.Description = strings.TrimSpace(description)
	return teamView(team, member.Role, 0), nil
}

func (s *Service) DeleteTeam(ctx context.Context, slug, userID string) error {
	team, member, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return err
	}
	if member.Role != string(rbac.RoleOwner) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the owner can delete a team")
	}
	return s.store.DeleteTeam(ctx, team.ID)
}

func (s *Service) ListMembers(ctx context.Context, slug, userID string) ([]MemberView, error) {
	team, _, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	out := make([]MemberView, 0, len(members))
	for _, m := range members {
		out = append(out, memberView(m))
	}
	return out, nil
}

// InviteMember creates a pending invite and delivers it by email when SMTP
// is configured. Inviting as ADMIN is reserved for the owner.
func (s *Service) InviteMember(ctx context.Context, slug, inviterID, inviteEmail, role string) (InviteView, error) {
	team, inviter, err := s.teamBySlug(ctx, slug, inviterID)
	if err != nil {
		return InviteView{}, err
	}
	if !rbac.AtLeast(rbac.Role(inviter.Role), rbac.RoleAdmin) {
		return InviteView{}, domainError(http.StatusForbidden, "FORBIDDEN", "insufficient role for this action")
	}

	inviteEmail = strings.ToLower(strings.TrimSpace(inviteEmail))
	if inviteEmail == "" || !strings.Contains(inviteEmail, "@") {
		return InviteView{}, domainError(http.StatusBadRequest, "VALIDATION", "a valid email is required")
	}
	switch role {
	case string(rbac.RoleMember):
	case string(rbac.RoleAdmin):
		if inviter.Role != string(rbac.RoleOwner) {
			return InviteView{}, domainError(http.StatusForbidden, "FORBIDDEN", "only the owner can invite admins")
		}
	default:
		return InviteView{}, domainError(http.StatusBadRequest, "VALIDATION", "role must be MEMBER or ADMIN")
	}

	// Reject if the address already belongs to a member.
	if existing, err := s.store.GetUserByEmail(ctx, inviteEmail); err == nil {
		if _, err := s.store.GetMembership(ctx, team.ID, existing.ID); err == nil {
			return InviteView{}, domainError(http.StatusConflict, "ALREADY_MEMBER", "this user is already a member")
		}
	}
	if _, err := s.store.GetPendingInvite(ctx, team.ID, inviteEmail); err == nil {
		return InviteView{}, domainError(http.StatusConflict, "INVITE_PENDING", "an invite for this email is already pending")
	}

	token := util.NewToken()
	invite := store.TeamInvite{
		ID:        util.NewID("inv"),
		TeamID:    team.ID,
		Email:     inviteEmail,
		Role:      role,
		TokenHash: auth.HashToken(token),
		InvitedBy: inviterID,
		ExpiresAt: time.Now().Add(inviteTTL),
	}
	if err := s.store.CreateTeamInvite(ctx, invite); err != nil {
		return InviteView{}, err
	}

	view := InviteView{
		ID:        invite.ID,
		Email:     invite.Email,
		Role:      invite.Role,
		ExpiresAt: invite.ExpiresAt.UTC().Format(time.RFC3339),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	acceptURL := s.cfg.AppURL + "/invites/" + token
	if s.email.IsConfigured() {
		_ = s.email.SendTeamInviteEmail(inviteEmail, team.Name, inviter.UserName, role, acceptURL)
	} else {
		view.Token = token
	}

	// Existing users also get an in-app notification.
	if invitee, err := s.store.GetUserByEmail(ctx, inviteEmail); err == nil {
		s.notify(ctx, []string{invitee.ID}, inviterID, store.Notification{
			Type:    store.NotifyTeamInvite,
			Title:   "Team invitation",
			Message: inviter.UserName + " invited you to join " + team.Name,
			Link:    "/invites/" + token,
		})
	}

	return view, nil
}

func (s *Service) ListInvites(ctx context.Context, slug, userID string) ([]InviteView, error) {
	team, _, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, team.ID, userID, rbac.RoleAdmin); err != nil {
		return nil, err
	}
	invites, err := s.store.ListTeamInvites(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	out := make([]InviteView, 0, len(invites))
	for _, inv := range invites {
		out = append(out, InviteView{
			ID:        inv.ID,
			Email:     inv.Email,
			Role:      inv.Role,
			ExpiresAt: inv.ExpiresAt.UTC().Format(time.RFC3339),
			CreatedAt: inv.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (s *Service) RevokeInvite(ctx context.Context, slug, userID, inviteID string) error {
	team, _, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, team.ID, userID, rbac.RoleAdmin); err != nil {
		return err
	}
	invites, err := s.store.ListTeamInvites(ctx, team.ID)
	if err != nil {
		return err
	}
	for _, inv := range invites {
		if inv.ID == inviteID {
			return s.store.DeleteTeamInvite(ctx, inviteID)
		}
	}
	return sql.ErrNoRows
}

// AcceptInvite joins the caller to the team the invite belongs to. The
// invite must be unexpired and addressed to the caller's email.
func (s *Service) AcceptInvite(ctx context.Context, userID, token string) (TeamView, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return TeamView{}, err
	}
	invite, err := s.store.GetInviteByTokenHash(ctx, auth.HashToken(token))
	if errors.Is(err, sql.ErrNoRows) {
		return TeamView{}, domainError(http.StatusNotFound, "INVITE_NOT_FOUND", "invite not found or already used")
	}
	if err != nil {
		return TeamView{}, err
	}
	if time.Now().After(invite.ExpiresAt) {
		_ = s.store.DeleteTeamInvite(ctx, invite.ID)
		return TeamView{}, domainError(http.StatusGone, "INVITE_EXPIRED", "this invite has expired")
	}
	if !strings.EqualFold(invite.Email, user.Email) {
		return TeamView{}, domainError(http.StatusForbidden, "FORBIDDEN", "this invite was sent to a different email")
	}
	if _, err := s.store.GetMembership(ctx, invite.TeamID, userID); err == nil {
		_ = s.store.DeleteTeamInvite(ctx, invite.ID)
		return TeamView{}, domainError(http.StatusConflict, "ALREADY_MEMBER", "you are already a member of this team")
	}

	member := store.TeamMember{
		ID:     util.NewID("mem"),
		TeamID: invite.TeamID,
		UserID: userID,
		Role:   invite.Role,
	}
	if err := s.store.AddTeamMember(ctx, member); err != nil {
		return TeamView{}, err
	}
	if err := s.store.DeleteTeamInvite(ctx, invite.ID); err != nil {
		return TeamView{}, err
	}
	s.teamActivity(ctx, invite.TeamID, userID, store.TeamActionMemberJoined, map[string]any{"role": invite.Role})

	team, err := s.store.GetTeamByID(ctx, invite.TeamID)
	if err != nil {
		return TeamView{}, err
	}
	return teamView(team, invite.Role, 0), nil
}

func (s *Service) DeclineInvite(ctx context.Context, userID, token string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	invite, err := s.store.GetInviteByTokenHash(ctx, auth.HashToken(token))
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "INVITE_NOT_FOUND", "invite not found or already used")
	}
	if err != nil {
		return err
	}
	if !strings.EqualFold(invite.Email, user.Email) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "this invite was sent to a different email")
	}
	return s.store.DeleteTeamInvite(ctx, invite.ID)
}

// UpdateMemberRole switches a member between MEMBER and ADMIN. Only the
// owner changes roles; ownership moves through TransferOwnership instead.
func (s *Service) UpdateMemberRole(ctx context.Context, slug, actorID, targetUserID, role string) error {
	team, actor, err := s.teamBySlug(ctx, slug, actorID)
	if err != nil {
		return err
	}
	if actor.Role != string(rbac.RoleOwner) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the owner can change roles")
	}
	if targetUserID == actorID {
		return domainError(http.StatusBadRequest, "VALIDATION", "you cannot change your own role")
	}
	if role != string(rbac.RoleMember) && role != string(rbac.RoleAdmin) {
		return domainError(http.StatusBadRequest, "VALIDATION", "role must be MEMBER or ADMIN")
	}
	target, err := s.store.GetMembership(ctx, team.ID, targetUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "member not found")
	}
	if err != nil {
		return err
	}
	if target.Role == role {
		return nil
	}
	if err := s.store.UpdateMemberRole(ctx, team.ID, targetUserID, role); err != nil {
		return err
	}
	s.teamActivity(ctx, team.ID, actorID, store.TeamActionRoleChanged, map[string]any{
		"userId": targetUserID,
		"from":   target.Role,
		"to":     role,
	})
	s.notify(ctx, []string{targetUserID}, actorID, store.Notification{
		Type:    store.NotifyRoleChanged,
		Title:   "Role changed",
		Message: "Your role in " + team.Name + " is now " + role,
		Link:    "/teams/" + team.Slug,
	})
	if s.email.IsConfigured() {
		if err := s.email.SendTeamNoticeEmail(target.UserEmail, target.UserName, team.Name, "Your role was updated", "Your role in "+team.Name+" is now "+role+"."); err != nil {
			log.Printf("role change email to %s: %v", target.UserEmail, err)
		}
	}
	return nil
}

// RemoveMember kicks a member. Admins can remove members; only the owner
// can remove another admin. Nobody removes the owner.
func (s *Service) RemoveMember(ctx context.Context, slug, actorID, targetUserID string) error {
	team, actor, err := s.teamBySlug(ctx, slug, actorID)
	if err != nil {
		return err
	}
	if !rbac.AtLeast(rbac.Role(actor.Role), rbac.RoleAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "insufficient role for this action")
	}
	if targetUserID == actorID {
		return domainError(http.StatusBadRequest, "VALIDATION", "use leave to remove yourself")
	}
	target, err := s.store.GetMembership(ctx, team.ID, targetUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "member not found")
	}
	if err != nil {
		return err
	}
	if target.Role == string(rbac.RoleOwner) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "the owner cannot be removed")
	}
	if target.Role == string(rbac.RoleAdmin) && actor.Role != string(rbac.RoleOwner) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the owner can remove an admin")
	}
	if err := s.store.RemoveTeamMember(ctx, team.ID, targetUserID); err != nil {
		return err
	}
	s.teamActivity(ctx, team.ID, actorID, store.TeamActionMemberKicked, map[string]any{"userId": targetUserID})
	s.notify(ctx, []string{targetUserID}, actorID, store.Notification{
		Type:    store.NotifyMemberRemoved,
		Title:   "Removed from team",
		Message: "You were removed from " + team.Name,
	})
	if s.email.IsConfigured() {
		if err := s.email.SendTeamNoticeEmail(target.UserEmail, target.UserName, team.Name, "Removed from "+team.Name, "You were removed from "+team.Name+"."); err != nil {
			log.Printf("member removal email to %s: %v", target.UserEmail, err)
		}
	}
	return nil
}

// LeaveTeam removes the caller. The owner must transfer ownership first.
func (s *Service) LeaveTeam(ctx context.Context, slug, userID string) error {
	team, member, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return err
	}
	if member.Role == string(rbac.RoleOwner) {
		return domainError(http.StatusConflict, "OWNER_CANNOT_LEAVE", "transfer ownership before leaving the team")
	}
	if err := s.store.RemoveTeamMember(ctx, team.ID, userID); err != nil {
		return err
	}
	s.teamActivity(ctx, team.ID, userID, store.TeamActionMemberLeft, nil)
	return nil
}

// TransferOwnership atomically swaps OWNER to another existing member and
// demotes the previous owner to ADMIN.
func (s *Service) TransferOwnership(ctx context.Context, slug, ownerID, targetUserID string) error {
	team, owner, err := s.teamBySlug(ctx, slug, ownerID)
	if err != nil {
		return err
	}
	if owner.Role != string(rbac.RoleOwner) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the owner can transfer ownership")
	}
	if targetUserID == ownerID {
		return domainError(http.StatusBadRequest, "VALIDATION", "you already own this team")
	}
	target, err := s.store.GetMembership(ctx, team.ID, targetUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "member not found")
	}
	if err != nil {
		return err
	}
	if target.Role != string(rbac.RoleAdmin) {
		return domainError(http.StatusConflict, "NOT_ADMIN", "ownership can only be transferred to an admin")
	}
	if err := s.store.TransferOwnership(ctx, team.ID, ownerID, targetUserID); err != nil {
		return err
	}
	s.teamActivity(ctx, team.ID, ownerID, store.TeamActionOwnershipTransferred, map[string]any{"to": targetUserID})
	s.notify(ctx, []string{targetUserID}, ownerID, store.Notification{
		Type:    store.NotifyOwnershipTransferred,
		Title:   "You are now the owner",
		Message: "Ownership of " + team.Name + " was transferred to you",
		Link:    "/teams/" + team.Slug,
	})
	if s.email.IsConfigured() {
		if err := s.email.SendTeamNoticeEmail(target.UserEmail, target.UserName, team.Name, "You now own "+team.Name, "Ownership of "+team.Name+" was transferred to you."); err != nil {
			log.Printf("ownership transfer email to %s: %v", target.UserEmail, err)
		}
	}
	return nil
}

func (s *Service) TeamActivityLog(ctx context.Context, slug, userID string, limit int) ([]ActivityView, error) {
	team, _, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	entries, err := s.store.ListTeamActivity(ctx, team.ID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ActivityView, 0, len(entries))
	for _, e := range entries {
		out = append(out, ActivityView{
			ID:        e.ID,
			ActorID:   e.ActorID,
			ActorName: e.ActorName,
			Action:    e.Action,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (s *Service) TeamStatistics(ctx context.Context, slug, userID string) (store.TeamStats, error) {
	team, _, err := s.teamBySlug(ctx, slug, userID)
	if err != nil {
		return store.TeamStats{}, err
	}
	return s.store.TeamStatistics(ctx, team.ID)
}
