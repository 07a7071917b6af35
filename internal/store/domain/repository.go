package domain

import (
	"context"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
)

// Repositories take an Executor per call so the partition can run a whole
// logical operation inside one transaction. Finders return nil (not an
// error) when nothing matches.

// EventRepository persists canonical events.
type EventRepository interface {
	Save(ctx context.Context, exec database.Executor, event *CanonicalEvent) error
	FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*CanonicalEvent, error)
	FindByOrigin(ctx context.Context, exec database.Executor, userID, accountID shared.ID, originEventID string) (*CanonicalEvent, error)
	FindByICalUID(ctx context.Context, exec database.Executor, userID shared.ID, icalUID string) ([]*CanonicalEvent, error)
	ListRange(ctx context.Context, exec database.Executor, userID shared.ID, start, end time.Time, afterID shared.ID, limit int) ([]*CanonicalEvent, error)
	ListByAccount(ctx context.Context, exec database.Executor, userID, accountID shared.ID) ([]*CanonicalEvent, error)
	DeleteByID(ctx context.Context, exec database.Executor, userID, id shared.ID) error
	DeleteByAccount(ctx context.Context, exec database.Executor, userID, accountID shared.ID) (int64, error)
	CountByAccount(ctx context.Context, exec database.Executor, userID, accountID shared.ID) (int64, error)
}

// AccountRepository persists accounts.
type AccountRepository interface {
	Save(ctx context.Context, exec database.Executor, account *Account) error
	FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*Account, error)
	FindBySubject(ctx context.Context, exec database.Executor, userID shared.ID, provider Provider, subject string) (*Account, error)
	ListByUser(ctx context.Context, exec database.Executor, userID shared.ID) ([]*Account, error)
	Delete(ctx context.Context, exec database.Executor, userID, id shared.ID) error
}

// ConstraintRepository persists constraints.
type ConstraintRepository interface {
	Save(ctx context.Context, exec database.Executor, constraint *Constraint) error
	FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*Constraint, error)
	ListByUser(ctx context.Context, exec database.Executor, userID shared.ID) ([]*Constraint, error)
	Delete(ctx context.Context, exec database.Executor, userID, id shared.ID) error
}

// VipPolicyRepository persists VIP policies.
type VipPolicyRepository interface {
	Save(ctx context.Context, exec database.Executor, policy *VipPolicy) error
	FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*VipPolicy, error)
	ListByUser(ctx context.Context, exec database.Executor, userID shared.ID) ([]*VipPolicy, error)
	Delete(ctx context.Context, exec database.Executor, userID, id shared.ID) error
}

// AllocationRepository persists time allocations.
type AllocationRepository interface {
	Save(ctx context.Context, exec database.Executor, allocation *TimeAllocation) error
	FindByEvent(ctx context.Context, exec database.Executor, userID, eventID shared.ID) (*TimeAllocation, error)
	ListByClient(ctx context.Context, exec database.Executor, userID shared.ID, clientID string, category BillingCategory) ([]*TimeAllocation, error)
	CountByClient(ctx context.Context, exec database.Executor, userID shared.ID, clientID string) (int64, error)
}

// CommitmentRepository persists commitments.
type CommitmentRepository interface {
	Save(ctx context.Context, exec database.Executor, commitment *Commitment) error
	FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*Commitment, error)
	ListByUser(ctx context.Context, exec database.Executor, userID shared.ID) ([]*Commitment, error)
	Delete(ctx context.Context, exec database.Executor, userID, id shared.ID) error
}
