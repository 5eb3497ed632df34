package workspaces

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("workspace not found")
	ErrForbidden          = errors.New("only the workspace owner can do that")
	ErrMemberNotFound     = errors.New("member not found")
	ErrOwnerCannotLeave   = errors.New("the workspace owner cannot leave or be removed")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrInvitationAccepted = errors.New("invitation already accepted")
	ErrInvalidName        = errors.New("workspace name must be between 1 and 100 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidRole        = errors.New("invalid role")
)

// MaxNameLength is the longest workspace name accepted, in characters
const MaxNameLength = 100

// InvitationTTL is how long an invitation token stays valid
const InvitationTTL = 7 * 24 * time.Hour

// Role is a member's role within a workspace
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleMember
}

// Workspace is a team with a shared credit pool. Role is the role of the
// user the workspace was loaded for.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Credits   int64     `json:"credits"`
	Role      Role      `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a user's membership in a workspace
type Member struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	UserID      uuid.UUID `json:"user_id"`
	Role        Role      `json:"role"`
	Email       string    `json:"email,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Invitation is a pending or accepted invitation to join a workspace.
// Token is only populated when the invitation is created.
type Invitation struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	Token       string     `json:"token,omitempty"`
	InvitedBy   uuid.UUID  `json:"invited_by"`
	ExpiresAt   time.Time  `json:"expires_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateWorkspaceRequest represents request to create a workspace
type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

// InviteMemberRequest represents request to invite a member
type InviteMemberRequest struct {
	Email string `json:"email"`
	Role  Role   `json:"role,omitempty"`
}

// Validate normalizes the request, defaulting the role to member
func (r *InviteMemberRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	if len(r.Email) > 320 {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return ErrInvalidEmail
	}
	if r.Role == "" {
		r.Role = RoleMember
	}
	if !r.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, r.Role)
	}
	return nil
}

// ValidateName trims a workspace name and checks its length
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}
