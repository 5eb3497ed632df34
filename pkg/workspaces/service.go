package workspaces

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service manages workspaces, their members and invitations. Every method
// taking an actorID enforces that actor's membership or ownership.
type Service interface {
	CreateWorkspace(ctx context.Context, ownerID uuid.UUID, req *CreateWorkspaceRequest) (*Workspace, error)
	GetWorkspace(ctx context.Context, id, actorID uuid.UUID) (*Workspace, error)
	ListWorkspaces(ctx context.Context, userID uuid.UUID) ([]*Workspace, error)
	RenameWorkspace(ctx context.Context, id, actorID uuid.UUID, name string) (*Workspace, error)
	DeleteWorkspace(ctx context.Context, id, actorID uuid.UUID) error

	ListMembers(ctx context.Context, id, actorID uuid.UUID) ([]*Member, error)
	GetMember(ctx context.Context, id, userID uuid.UUID) (*Member, error)
	IsMember(ctx context.Context, id, userID uuid.UUID) (bool, error)
	RemoveMember(ctx context.Context, id, actorID, userID uuid.UUID) error
	LeaveWorkspace(ctx context.Context, id, userID uuid.UUID) error

	CreateInvitation(ctx context.Context, id, actorID uuid.UUID, req *InviteMemberRequest) (*Invitation, error)
	AcceptInvitation(ctx context.Context, token string, userID uuid.UUID) (*Member, error)
	ListInvitations(ctx context.Context, id, actorID uuid.UUID) ([]*Invitation, error)
	RevokeInvitation(ctx context.Context, id, actorID, invitationID uuid.UUID) error
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db, now: time.Now}
}

// CreateWorkspace creates a workspace and makes ownerID its owner
func (s *PostgresService) CreateWorkspace(ctx context.Context, ownerID uuid.UUID, req *CreateWorkspaceRequest) (*Workspace, error) {
	name, err := ValidateName(req.Name)
	if err != nil {
		return nil, err
	}

	slug, err := generateSlug(name)
	if err != nil {
		return nil, fmt.Errorf("failed to generate slug: %w", err)
	}

	ws := &Workspace{
		ID:      uuid.New(),
		Name:    name,
		Slug:    slug,
		OwnerID: ownerID,
		Role:    RoleOwner,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO workspaces (id, name, slug, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING credits, created_at
	`
	if err := tx.QueryRowContext(ctx, query, ws.ID, ws.Name, ws.Slug, ws.OwnerID).
		Scan(&ws.Credits, &ws.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	query = `INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, query, ws.ID, ownerID, RoleOwner); err != nil {
		return nil, fmt.Errorf("failed to add owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit workspace: %w", err)
	}
	return ws, nil
}

const workspaceColumns = `w.id, w.name, w.slug, w.owner_id, w.credits, w.created_at, m.role`

func scanWorkspace(row interface{ Scan(...any) error }) (*Workspace, error) {
	ws := &Workspace{}
	if err := row.Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.OwnerID, &ws.Credits, &ws.CreatedAt, &ws.Role); err != nil {
		return nil, err
	}
	return ws, nil
}

// GetWorkspace retrieves a workspace the actor belongs to. Workspaces the
// actor is not a member of are reported as not found.
func (s *PostgresService) GetWorkspace(ctx context.Context, id, actorID uuid.UUID) (*Workspace, error) {
	query := `
		SELECT ` + workspaceColumns + `
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id AND m.user_id = $2
		WHERE w.id = $1
	`
	ws, err := scanWorkspace(s.db.QueryRowContext(ctx, query, id, actorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

// ListWorkspaces lists every workspace the user is a member of
func (s *PostgresService) ListWorkspaces(ctx context.Context, userID uuid.UUID) ([]*Workspace, error) {
	query := `
		SELECT ` + workspaceColumns + `
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	workspaces := []*Workspace{}
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

// RenameWorkspace renames a workspace. Only owners can rename.
func (s *PostgresService) RenameWorkspace(ctx context.Context, id, actorID uuid.UUID, name string) (*Workspace, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireOwner(ctx, id, actorID); err != nil {
		return nil, err
	}

	query := `UPDATE workspaces SET name = $1, updated_at = NOW() WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, name, id)
	if err != nil {
		return nil, fmt.Errorf("failed to rename workspace: %w", err)
	}
	if err := expectAffected(result, ErrNotFound); err != nil {
		return nil, err
	}
	return s.GetWorkspace(ctx, id, actorID)
}

// DeleteWorkspace deletes a workspace with its members, invitations and
// PRDs. Only the creator can delete it; co-owners get ErrForbidden.
func (s *PostgresService) DeleteWorkspace(ctx context.Context, id, actorID uuid.UUID) error {
	creatorID, err := s.requireOwner(ctx, id, actorID)
	if err != nil {
		return err
	}
	if creatorID != actorID {
		return ErrForbidden
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return expectAffected(result, ErrNotFound)
}

// membership returns the user's role in the workspace and the workspace's
// creator. Non-members get ErrNotFound.
func (s *PostgresService) membership(ctx context.Context, id, userID uuid.UUID) (Role, uuid.UUID, error) {
	query := `
		SELECT m.role, w.owner_id
		FROM workspace_members m
		JOIN workspaces w ON w.id = m.workspace_id
		WHERE m.workspace_id = $1 AND m.user_id = $2
	`
	var role Role
	var ownerID uuid.UUID
	err := s.db.QueryRowContext(ctx, query, id, userID).Scan(&role, &ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", uuid.Nil, ErrNotFound
	}
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return role, ownerID, nil
}

func (s *PostgresService) requireOwner(ctx context.Context, id, actorID uuid.UUID) (uuid.UUID, error) {
	role, ownerID, err := s.membership(ctx, id, actorID)
	if err != nil {
		return uuid.Nil, err
	}
	if role != RoleOwner {
		return uuid.Nil, ErrForbidden
	}
	return ownerID, nil
}

func expectAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// generateSlug derives a URL-safe slug from name with a random suffix so
// that equal names do not collide
func generateSlug(name string) (string, error) {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	slug = strings.Trim(slug, "-")
	if len(slug) > 100 {
		slug = strings.TrimRight(slug[:100], "-")
	}
	if slug == "" {
		slug = "workspace"
	}

	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return slug + "-" + hex.EncodeToString(suffix), nil
}

// generateToken generates a random invitation token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
