package workspaces

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateInvitation invites an email address to the workspace. Only owners
// can invite. The returned invitation carries the token to send.
func (s *PostgresService) CreateInvitation(ctx context.Context, id, actorID uuid.UUID, req *InviteMemberRequest) (*Invitation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.requireOwner(ctx, id, actorID); err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	invitation := &Invitation{
		ID:          uuid.New(),
		WorkspaceID: id,
		Email:       req.Email,
		Role:        req.Role,
		Token:       token,
		InvitedBy:   actorID,
		ExpiresAt:   s.now().Add(InvitationTTL),
	}

	query := `
		INSERT INTO workspace_invitations (id, workspace_id, email, role, token, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err = s.db.QueryRowContext(ctx, query, invitation.ID, invitation.WorkspaceID, invitation.Email,
		invitation.Role, invitation.Token, invitation.InvitedBy, invitation.ExpiresAt).
		Scan(&invitation.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return invitation, nil
}

// AcceptInvitation adds the user to the invitation's workspace. Unknown,
// expired and already accepted tokens are rejected.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token string, userID uuid.UUID) (*Member, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, workspace_id, role, expires_at, accepted_at
		FROM workspace_invitations
		WHERE token = $1
		FOR UPDATE
	`
	var invitationID uuid.UUID
	var member Member
	var expiresAt time.Time
	var acceptedAt sql.NullTime
	err = tx.QueryRowContext(ctx, query, token).
		Scan(&invitationID, &member.WorkspaceID, &member.Role, &expiresAt, &acceptedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	if acceptedAt.Valid {
		return nil, ErrInvitationAccepted
	}
	if s.now().After(expiresAt) {
		return nil, ErrInvitationExpired
	}

	query = `
		INSERT INTO workspace_members (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, query, member.WorkspaceID, userID, member.Role); err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	query = `UPDATE workspace_invitations SET accepted_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, invitationID); err != nil {
		return nil, fmt.Errorf("failed to update invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation: %w", err)
	}

	member.UserID = userID
	member.JoinedAt = s.now()
	return &member, nil
}

// ListInvitations lists the pending invitations of a workspace. Tokens are
// never returned here.
func (s *PostgresService) ListInvitations(ctx context.Context, id, actorID uuid.UUID) ([]*Invitation, error) {
	if _, err := s.requireOwner(ctx, id, actorID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, workspace_id, email, role, invited_by, expires_at, accepted_at, created_at
		FROM workspace_invitations
		WHERE workspace_id = $1 AND accepted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []*Invitation{}
	for rows.Next() {
		invitation := &Invitation{}
		var acceptedAt sql.NullTime
		if err := rows.Scan(
			&invitation.ID, &invitation.WorkspaceID, &invitation.Email, &invitation.Role,
			&invitation.InvitedBy, &invitation.ExpiresAt, &acceptedAt, &invitation.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		if acceptedAt.Valid {
			invitation.AcceptedAt = &acceptedAt.Time
		}
		invitations = append(invitations, invitation)
	}
	return invitations, rows.Err()
}

// RevokeInvitation deletes a pending invitation. Only owners can revoke.
func (s *PostgresService) RevokeInvitation(ctx context.Context, id, actorID, invitationID uuid.UUID) error {
	if _, err := s.requireOwner(ctx, id, actorID); err != nil {
		return err
	}

	query := `DELETE FROM workspace_invitations WHERE id = $1 AND workspace_id = $2 AND accepted_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, invitationID, id)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	return expectAffected(result, ErrInvitationNotFound)
}

// CleanupExpiredInvitations removes expired invitations that were never accepted
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	query := `DELETE FROM workspace_invitations WHERE expires_at < NOW() AND accepted_at IS NULL`
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
