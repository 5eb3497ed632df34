package prd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Store persists PRDs and their revision history
type Store interface {
	Create(ctx context.Context, doc *PRD) error
	Get(ctx context.Context, id uuid.UUID) (*PRD, error)
	ListForUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]*PRD, error)
	UpdateContent(ctx context.Context, id uuid.UUID, expectedVersion int, title, content, instruction string, actorID uuid.UUID) (*PRD, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListRevisions(ctx context.Context, id uuid.UUID) ([]*Revision, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db      *sql.DB
	replica func() *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithReplicas routes list queries through pick. Single-document reads and
// all writes stay on the primary so a fresh save is always visible.
func (s *PostgresStore) WithReplicas(pick func() *sql.DB) *PostgresStore {
	s.replica = pick
	return s
}

func (s *PostgresStore) reader() *sql.DB {
	if s.replica != nil {
		if db := s.replica(); db != nil {
			return db
		}
	}
	return s.db
}

// Create inserts doc as version 1
func (s *PostgresStore) Create(ctx context.Context, doc *PRD) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.Version = 1

	query := `
		INSERT INTO prds (id, user_id, workspace_id, title, idea, template, language, content, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, doc.ID, doc.UserID, nullUUID(doc.WorkspaceID), doc.Title,
		doc.Idea, doc.Template, doc.Language, doc.Content, doc.Version).
		Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create prd: %w", err)
	}
	return nil
}

// Get retrieves a PRD with its content
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*PRD, error) {
	query := `
		SELECT id, user_id, workspace_id, title, idea, template, language, content, version, created_at, updated_at
		FROM prds
		WHERE id = $1
	`
	doc := &PRD{}
	var workspaceID uuid.NullUUID
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.UserID, &workspaceID, &doc.Title, &doc.Idea, &doc.Template,
		&doc.Language, &doc.Content, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prd: %w", err)
	}
	doc.WorkspaceID = ptrUUID(workspaceID)
	return doc, nil
}

// ListForUser lists the user's personal PRDs, or every PRD of a workspace
// when opts.WorkspaceID is set, most recently updated first. Content is not
// loaded.
func (s *PostgresStore) ListForUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]*PRD, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	const columns = `id, user_id, workspace_id, title, idea, template, language, version, created_at, updated_at`
	var rows *sql.Rows
	var err error
	if opts.WorkspaceID != nil {
		rows, err = s.reader().QueryContext(ctx, `
			SELECT `+columns+`
			FROM prds
			WHERE workspace_id = $1
			ORDER BY updated_at DESC
			LIMIT $2 OFFSET $3
		`, *opts.WorkspaceID, limit, offset)
	} else {
		rows, err = s.reader().QueryContext(ctx, `
			SELECT `+columns+`
			FROM prds
			WHERE user_id = $1 AND workspace_id IS NULL
			ORDER BY updated_at DESC
			LIMIT $2 OFFSET $3
		`, userID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list prds: %w", err)
	}
	defer rows.Close()

	docs := []*PRD{}
	for rows.Next() {
		doc := &PRD{}
		var workspaceID uuid.NullUUID
		if err := rows.Scan(
			&doc.ID, &doc.UserID, &workspaceID, &doc.Title, &doc.Idea, &doc.Template,
			&doc.Language, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan prd: %w", err)
		}
		doc.WorkspaceID = ptrUUID(workspaceID)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateContent replaces the content of a PRD if it is still at
// expectedVersion. The previous content is kept as a revision row in the
// same transaction.
func (s *PostgresStore) UpdateContent(ctx context.Context, id uuid.UUID, expectedVersion int, title, content, instruction string, actorID uuid.UUID) (*PRD, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldContent string
	var version int
	err = tx.QueryRowContext(ctx, `SELECT content, version FROM prds WHERE id = $1 FOR UPDATE`, id).
		Scan(&oldContent, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock prd: %w", err)
	}
	if version != expectedVersion {
		return nil, ErrVersionConflict
	}

	query := `
		INSERT INTO prd_revisions (prd_id, version, content, instruction, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, query, id, version, oldContent, instruction, actorID); err != nil {
		return nil, fmt.Errorf("failed to record revision: %w", err)
	}

	query = `
		UPDATE prds SET title = $1, content = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3
		RETURNING id, user_id, workspace_id, title, idea, template, language, content, version, created_at, updated_at
	`
	doc := &PRD{}
	var workspaceID uuid.NullUUID
	err = tx.QueryRowContext(ctx, query, title, content, id).Scan(
		&doc.ID, &doc.UserID, &workspaceID, &doc.Title, &doc.Idea, &doc.Template,
		&doc.Language, &doc.Content, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update prd: %w", err)
	}
	doc.WorkspaceID = ptrUUID(workspaceID)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit prd update: %w", err)
	}
	return doc, nil
}

// UpdateTitle renames a PRD without creating a revision
func (s *PostgresStore) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE prds SET title = $1, updated_at = NOW() WHERE id = $2`, title, id)
	if err != nil {
		return fmt.Errorf("failed to rename prd: %w", err)
	}
	return expectAffected(result)
}

// Delete removes a PRD and its revisions
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM prds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete prd: %w", err)
	}
	return expectAffected(result)
}

// ListRevisions lists previous versions of a PRD, newest first
func (s *PostgresStore) ListRevisions(ctx context.Context, id uuid.UUID) ([]*Revision, error) {
	query := `
		SELECT prd_id, version, content, instruction, created_by, created_at
		FROM prd_revisions
		WHERE prd_id = $1
		ORDER BY version DESC
	`
	rows, err := s.reader().QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	revisions := []*Revision{}
	for rows.Next() {
		rev := &Revision{}
		var createdBy uuid.NullUUID
		if err := rows.Scan(&rev.PRDID, &rev.Version, &rev.Content, &rev.Instruction, &createdBy, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		rev.CreatedBy = ptrUUID(createdBy)
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

func expectAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func ptrUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}
