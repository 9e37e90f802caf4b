package store

import "time"

type User struct {
	ID                    string
	Name                  string
	Email                 string
	AvatarURL             string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Team struct {
	ID          string
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TeamWithRole is a team row joined with the requesting user's role.
type TeamWithRole struct {
	Team
	Role        string
	MemberCount int
}

type TeamMember struct {
	ID        string
	TeamID    string
	UserID    string
	Role      string
	CreatedAt time.Time
	// Joined fields for API responses
	UserName      string
	UserEmail     string
	UserAvatarURL string
}

type TeamInvite struct {
	ID        string
	TeamID    string
	Email     string
	Role      string
	TokenHash string
	InvitedBy string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Team activity actions. Append-only audit trail per team.
const (
	TeamActionMemberJoined         = "MEMBER_JOINED"
	TeamActionMemberLeft           = "MEMBER_LEFT"
	TeamActionMemberKicked         = "MEMBER_KICKED"
	TeamActionRoleChanged          = "ROLE_CHANGED"
	TeamActionOwnershipTransferred = "OWNERSHIP_TRANSFERRED"
	TeamActionProjectCreated       = "PROJECT_CREATED"
	TeamActionProjectDeleted       = "PROJECT_DELETED"
	TeamActionProjectArchived      = "PROJECT_ARCHIVED"
	TeamActionProjectUnarchived    = "PROJECT_UNARCHIVED"
	TeamActionTeamUpdated          = "TEAM_UPDATED"
)

type TeamActivity struct {
	ID        string
	TeamID    string
	ActorID   string
	Action    string
	Metadata  map[string]any
	CreatedAt time.Time
	// Joined
	ActorName string
}

type Project struct {
	ID          string
	TeamID      string
	Name        string
	Key         string
	Description string
	Archived    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined fields for listings
	Favorite   bool
	IssueCount int
}

type IssueStatus struct {
	ID        string
	ProjectID string
	Name      string
	Color     string
	SortOrder int
	IsDefault bool
	IsClosed  bool
	WIPLimit  *int
	CreatedAt time.Time
	// Joined: live issues currently in this column
	IssueCount int
}

// Issue types and priorities.
const (
	IssueTypeTask    = "TASK"
	IssueTypeBug     = "BUG"
	IssueTypeFeature = "FEATURE"
	IssueTypeStory   = "STORY"
	IssueTypeEpic    = "EPIC"

	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

type Issue struct {
	ID          string
	ProjectID   string
	Number      int
	Title       string
	Description string
	Type        string
	Priority    string
	StatusID    string
	AssigneeID  *string
	ReporterID  string
	DueDate     *time.Time
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined fields
	StatusName   string
	AssigneeName string
	ReporterName string
	Labels       []Label
}

// IssueFilter narrows ListIssues. Empty fields are ignored.
type IssueFilter struct {
	StatusID   string
	AssigneeID string
	Type       string
	Priority   string
	LabelID    string
	Search     string
	Limit      int
}

type IssueComment struct {
	ID        string
	IssueID   string
	AuthorID  string
	Content   string
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	// Joined
	AuthorName string
}

// Issue activity actions.
const (
	ActivityCreated   = "created"
	ActivityUpdated   = "updated"
	ActivityCommented = "commented"
)

// IssueActivity is an append-only audit row. For "updated" entries the
// Field/OldValue/NewValue triple records a single observed change.
type IssueActivity struct {
	ID        string
	IssueID   string
	ActorID   string
	Action    string
	Field     string
	OldValue  string
	NewValue  string
	CreatedAt time.Time
	// Joined
	ActorName string
}

type Subtask struct {
	ID        string
	IssueID   string
	Title     string
	Completed bool
	SortOrder int
	CreatedAt time.Time
}

type Label struct {
	ID        string
	ProjectID string
	Name      string
	Color     string
	CreatedAt time.Time
}

// Notification types.
const (
	NotifyIssueAssigned        = "ISSUE_ASSIGNED"
	NotifyIssueComment         = "ISSUE_COMMENT"
	NotifyIssueUpdated         = "ISSUE_UPDATED"
	NotifyIssueDueSoon         = "ISSUE_DUE_SOON"
	NotifyProjectUpdate        = "PROJECT_UPDATE"
	NotifyTeamInvite           = "TEAM_INVITE"
	NotifyRoleChanged          = "ROLE_CHANGED"
	NotifyOwnershipTransferred = "OWNERSHIP_TRANSFERRED"
	NotifyMemberRemoved        = "MEMBER_REMOVED"
)

type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Link      string
	Read      bool
	CreatedAt time.Time
}

type AICacheEntry struct {
	IssueID     string
	Type        string
	Content     string
	ContentHash string
	CreatedAt   time.Time
}

type Attachment struct {
	ID          string
	IssueID     string
	UploaderID  string
	FileName    string
	ObjectKey   string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

// TeamStats backs GET /api/teams/:slug/statistics.
type TeamStats struct {
	Projects     int            `json:"projects"`
	Members      int            `json:"members"`
	OpenIssues   int            `json:"openIssues"`
	ClosedIssues int            `json:"closedIssues"`
	ByPriority   map[string]int `json:"byPriority"`
	ByType       map[string]int `json:"byType"`
	ByAssignee   map[string]int `json:"byAssignee"`
}

// DueIssue is an issue surfaced by the due-date cron scan.
type DueIssue struct {
	IssueID    string
	Title      string
	Number     int
	ProjectKey string
	TeamSlug   string
	AssigneeID string
	DueDate    time.Time
}
