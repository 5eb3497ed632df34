package credits

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientCredits is returned when a deduction would drive a pool negative
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrNotWorkspaceMember is returned when the workspace RPC rejects the caller
	ErrNotWorkspaceMember = errors.New("not a workspace member")
	// ErrPoolNotFound is returned when the profile or workspace row does not exist
	ErrPoolNotFound = errors.New("credit pool not found")
	// ErrInvalidAmount is returned for non-positive amounts
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrReconciliationNotFound is returned for unknown reconciliation ids
	ErrReconciliationNotFound = errors.New("reconciliation not found")
	// ErrReconciliationSettled is returned when another worker already resolved the row
	ErrReconciliationSettled = errors.New("reconciliation already resolved")
)

// PoolKind identifies which balance a charge is drawn from
type PoolKind string

const (
	PoolPersonal  PoolKind = "personal"
	PoolWorkspace PoolKind = "workspace"
)

// Pool identifies a credit balance. UserID is always the acting user; for
// workspace pools it is the member the charge is attributed to.
type Pool struct {
	Kind        PoolKind   `json:"kind"`
	UserID      uuid.UUID  `json:"user_id"`
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
}

// PersonalPool returns the personal pool of a user
func PersonalPool(userID uuid.UUID) Pool {
	return Pool{Kind: PoolPersonal, UserID: userID}
}

// WorkspacePool returns the shared pool of a workspace, charged by userID
func WorkspacePool(workspaceID, userID uuid.UUID) Pool {
	return Pool{Kind: PoolWorkspace, UserID: userID, WorkspaceID: &workspaceID}
}

// PoolFor picks the workspace pool when workspaceID is set
func PoolFor(userID uuid.UUID, workspaceID *uuid.UUID) Pool {
	if workspaceID != nil {
		return WorkspacePool(*workspaceID, userID)
	}
	return PersonalPool(userID)
}

// Validate checks that the pool is addressable
func (p Pool) Validate() error {
	switch p.Kind {
	case PoolPersonal:
		if p.UserID == uuid.Nil {
			return errors.New("personal pool requires a user id")
		}
	case PoolWorkspace:
		if p.WorkspaceID == nil || *p.WorkspaceID == uuid.Nil {
			return errors.New("workspace pool requires a workspace id")
		}
	default:
		return errors.New("unknown pool kind")
	}
	return nil
}

func (p Pool) String() string {
	if p.Kind == PoolWorkspace && p.WorkspaceID != nil {
		return "workspace:" + p.WorkspaceID.String()
	}
	return "personal:" + p.UserID.String()
}

// Transaction is one row of ledger history. Amount is signed.
type Transaction struct {
	ID           int64      `json:"id"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	WorkspaceID  *uuid.UUID `json:"workspace_id,omitempty"`
	ActorID      *uuid.UUID `json:"actor_id,omitempty"`
	Amount       int64      `json:"amount"`
	BalanceAfter int64      `json:"balance_after"`
	Reason       string     `json:"reason"`
	CreatedAt    time.Time  `json:"created_at"`
}

// WorkspaceBalance is the shared balance of one workspace the user belongs to
type WorkspaceBalance struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Credits     int64     `json:"credits"`
}

// Balance summarizes every pool a user can draw from
type Balance struct {
	UserID     uuid.UUID          `json:"user_id"`
	Personal   int64              `json:"personal"`
	Workspaces []WorkspaceBalance `json:"workspaces"`
}

// ReconciliationStatus tracks a failed refund through settlement
type ReconciliationStatus string

const (
	ReconciliationPending  ReconciliationStatus = "pending"
	ReconciliationResolved ReconciliationStatus = "resolved"
	ReconciliationManual   ReconciliationStatus = "manual"
)

// Reconciliation is a refund that could not be applied when it was owed
type Reconciliation struct {
	ID            int64                `json:"id"`
	Pool          Pool                 `json:"pool"`
	Amount        int64                `json:"amount"`
	Reason        string               `json:"reason"`
	Cause         string               `json:"cause"`
	Status        ReconciliationStatus `json:"status"`
	Attempts      int                  `json:"attempts"`
	LastError     string               `json:"last_error,omitempty"`
	NextAttemptAt time.Time            `json:"next_attempt_at"`
	Note          string               `json:"note,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	ResolvedAt    *time.Time           `json:"resolved_at,omitempty"`
}
