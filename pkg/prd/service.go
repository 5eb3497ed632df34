package prd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MembershipChecker reports workspace membership
type MembershipChecker interface {
	IsMember(ctx context.Context, workspaceID, userID uuid.UUID) (bool, error)
}

// Service applies access rules on top of a Store. Personal PRDs are visible
// to their owner only; workspace PRDs to every member of the workspace.
type Service struct {
	store   Store
	members MembershipChecker
}

// NewService creates a new Service
func NewService(store Store, members MembershipChecker) *Service {
	return &Service{store: store, members: members}
}

// Store returns the underlying store
func (s *Service) Store() Store {
	return s.store
}

// Get retrieves a PRD the user can see. Other users' personal PRDs are
// reported as not found.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*PRD, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, doc, userID); err != nil {
		return nil, err
	}
	return doc, nil
}

// List lists personal PRDs, or a workspace's PRDs for its members
func (s *Service) List(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]*PRD, error) {
	if opts.WorkspaceID != nil {
		if err := s.requireMember(ctx, *opts.WorkspaceID, userID); err != nil {
			return nil, err
		}
	}
	return s.store.ListForUser(ctx, userID, opts)
}

// Rename changes the title of a PRD the user can see
func (s *Service) Rename(ctx context.Context, userID, id uuid.UUID, title string) (*PRD, error) {
	title, err := ValidateTitle(title)
	if err != nil {
		return nil, err
	}
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateTitle(ctx, id, title); err != nil {
		return nil, err
	}
	doc.Title = title
	return doc, nil
}

// Delete removes a PRD. Only its creator can delete it, including in a
// workspace.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return ErrForbidden
	}
	return s.store.Delete(ctx, id)
}

// Revisions lists the revision history of a PRD the user can see
func (s *Service) Revisions(ctx context.Context, userID, id uuid.UUID) ([]*Revision, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.store.ListRevisions(ctx, id)
}

func (s *Service) authorize(ctx context.Context, doc *PRD, userID uuid.UUID) error {
	if doc.WorkspaceID == nil {
		if doc.UserID != userID {
			return ErrNotFound
		}
		return nil
	}
	return s.requireMember(ctx, *doc.WorkspaceID, userID)
}

func (s *Service) requireMember(ctx context.Context, workspaceID, userID uuid.UUID) error {
	ok, err := s.members.IsMember(ctx, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to check workspace membership: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
