package workspaces

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ListMembers lists the members of a workspace the actor belongs to
func (s *PostgresService) ListMembers(ctx context.Context, id, actorID uuid.UUID) ([]*Member, error) {
	if _, _, err := s.membership(ctx, id, actorID); err != nil {
		return nil, err
	}

	query := `
		SELECT m.workspace_id, m.user_id, m.role, p.email, m.joined_at
		FROM workspace_members m
		JOIN profiles p ON p.id = m.user_id
		WHERE m.workspace_id = $1
		ORDER BY m.joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*Member{}
	for rows.Next() {
		member := &Member{}
		var email sql.NullString
		if err := rows.Scan(&member.WorkspaceID, &member.UserID, &member.Role, &email, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.Email = email.String
		members = append(members, member)
	}
	return members, rows.Err()
}

// GetMember retrieves a specific member
func (s *PostgresService) GetMember(ctx context.Context, id, userID uuid.UUID) (*Member, error) {
	query := `
		SELECT m.workspace_id, m.user_id, m.role, p.email, m.joined_at
		FROM workspace_members m
		JOIN profiles p ON p.id = m.user_id
		WHERE m.workspace_id = $1 AND m.user_id = $2
	`
	member := &Member{}
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, query, id, userID).
		Scan(&member.WorkspaceID, &member.UserID, &member.Role, &email, &member.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	member.Email = email.String
	return member, nil
}

// IsMember reports whether the user belongs to the workspace
func (s *PostgresService) IsMember(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, id, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

// RemoveMember removes userID from the workspace. Only owners can remove
// members and the workspace creator cannot be removed.
func (s *PostgresService) RemoveMember(ctx context.Context, id, actorID, userID uuid.UUID) error {
	ownerID, err := s.requireOwner(ctx, id, actorID)
	if err != nil {
		return err
	}
	if userID == ownerID {
		return ErrOwnerCannotLeave
	}
	return s.deleteMember(ctx, id, userID)
}

// LeaveWorkspace removes the user's own membership
func (s *PostgresService) LeaveWorkspace(ctx context.Context, id, userID uuid.UUID) error {
	_, ownerID, err := s.membership(ctx, id, userID)
	if err != nil {
		return err
	}
	if userID == ownerID {
		return ErrOwnerCannotLeave
	}
	return s.deleteMember(ctx, id, userID)
}

func (s *PostgresService) deleteMember(ctx context.Context, id, userID uuid.UUID) error {
	query := `DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`
	result, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return expectAffected(result, ErrMemberNotFound)
}
