package application

import (
	"context"
	"log/slog"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/shared/infrastructure/migrations"
	"github.com/ramxx/tminus/internal/shared/infrastructure/outbox"
	"github.com/ramxx/tminus/internal/store/domain"
	"github.com/ramxx/tminus/pkg/observability"
)

// Service is the canonical event store. All state-changing operations are
// serialized per user partition; readers that need a consistent snapshot
// run in the same serial stream.
type Service struct {
	conn        database.Connection
	runner      *migrations.Runner
	partitions  *PartitionManager
	events      domain.EventRepository
	accounts    domain.AccountRepository
	constraints domain.ConstraintRepository
	vips        domain.VipPolicyRepository
	allocations domain.AllocationRepository
	commitments domain.CommitmentRepository
	applicator  *DeltaApplicator
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// Deps bundles the service dependencies.
type Deps struct {
	Conn        database.Connection
	Runner      *migrations.Runner
	Partitions  *PartitionManager
	Events      domain.EventRepository
	Accounts    domain.AccountRepository
	Constraints domain.ConstraintRepository
	Vips        domain.VipPolicyRepository
	Allocations domain.AllocationRepository
	Commitments domain.CommitmentRepository
	Outbox      outbox.Repository
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// NewService creates the store service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		conn:        d.Conn,
		runner:      d.Runner,
		partitions:  d.Partitions,
		events:      d.Events,
		accounts:    d.Accounts,
		constraints: d.Constraints,
		vips:        d.Vips,
		allocations: d.Allocations,
		commitments: d.Commitments,
		applicator:  NewDeltaApplicator(d.Events, d.Accounts, d.Outbox, d.Metrics, logger),
		metrics:     d.Metrics,
		logger:      logger,
	}
}

// Partitions exposes the partition manager so sibling components
// (onboarding) can serialize into the same per-user stream.
func (s *Service) Partitions() *PartitionManager { return s.partitions }

// Connection exposes the underlying connection for sibling components.
func (s *Service) Connection() database.Connection { return s.conn }

// SchemaRunner exposes the lazy migration runner.
func (s *Service) SchemaRunner() *migrations.Runner { return s.runner }

// run executes fn inside the user's partition with the schema ensured and
// a transaction spanning the whole logical operation.
func (s *Service) run(ctx context.Context, userID shared.ID, name string, fn func(ctx context.Context, tx database.Transaction) error) error {
	return s.partitions.Run(ctx, userID, name, func(ctx context.Context) error {
		if err := s.runner.Ensure(ctx, s.conn); err != nil {
			return shared.Wrap(shared.KindInternal, "schema_migration_failed", err)
		}
		tx, err := s.conn.BeginTx(ctx)
		if err != nil {
			return shared.Wrap(shared.KindInternal, "begin_failed", err)
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return shared.Wrap(shared.KindInternal, "commit_failed", err)
		}
		return nil
	})
}

// ---- Delta application ----

// ApplyProviderDelta merges a provider or feed batch for one account.
func (s *Service) ApplyProviderDelta(ctx context.Context, userID, accountID shared.ID, upserts []EventUpsert, deletes []string) (*DeltaResult, error) {
	var result *DeltaResult
	err := s.run(ctx, userID, "apply_provider_delta", func(ctx context.Context, tx database.Transaction) error {
		account, err := s.accounts.FindByID(ctx, tx, userID, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return shared.ErrUnknownAccount
		}
		result, err = s.applicator.Apply(ctx, tx, account, upserts, deletes, time.Now().UTC())
		return err
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.DeltasApplied.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.DeltasApplied.WithLabelValues("ok").Inc()
	}
	return result, nil
}

// ---- Event reads ----

// EventPage is one page of canonical events.
type EventPage struct {
	Items      []*domain.CanonicalEvent
	NextCursor shared.ID
	HasMore    bool
}

// ListCanonicalEvents returns events overlapping [start, end] ordered by
// start ascending. Cancelled events with no body are excluded.
func (s *Service) ListCanonicalEvents(ctx context.Context, userID shared.ID, start, end time.Time, cursor shared.ID, limit int) (*EventPage, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var page EventPage
	err := s.run(ctx, userID, "list_canonical_events", func(ctx context.Context, tx database.Transaction) error {
		items, err := s.events.ListRange(ctx, tx, userID, start, end, cursor, limit+1)
		if err != nil {
			return err
		}
		if len(items) > limit {
			page.HasMore = true
			items = items[:limit]
			page.NextCursor = items[len(items)-1].ID
		}
		page.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// GetAccountEvents returns every event of one account. Used by the
// upgrade planner.
func (s *Service) GetAccountEvents(ctx context.Context, userID, accountID shared.ID) ([]*domain.CanonicalEvent, error) {
	var out []*domain.CanonicalEvent
	err := s.run(ctx, userID, "get_account_events", func(ctx context.Context, tx database.Transaction) error {
		account, err := s.accounts.FindByID(ctx, tx, userID, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return shared.ErrUnknownAccount
		}
		out, err = s.events.ListByAccount(ctx, tx, userID, accountID)
		return err
	})
	return out, err
}

// SaveEvent persists an event row directly. Used by the upgrade and
// downgrade flows which rewrite identity while preserving canonical IDs.
func (s *Service) SaveEvent(ctx context.Context, userID shared.ID, event *domain.CanonicalEvent) error {
	return s.run(ctx, userID, "save_event", func(ctx context.Context, tx database.Transaction) error {
		return s.events.Save(ctx, tx, event)
	})
}

// ---- Accounts ----

// UpsertAccount stores an account. Idempotent by (provider, subject): an
// existing account keeps its identity and gets its fields updated.
func (s *Service) UpsertAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	userID := account.UserID()
	var stored *domain.Account
	err := s.run(ctx, userID, "upsert_account", func(ctx context.Context, tx database.Transaction) error {
		existing, err := s.accounts.FindBySubject(ctx, tx, userID, account.Provider(), account.ProviderSubject())
		if err != nil {
			return err
		}
		if existing != nil && existing.ID() != account.ID() {
			// Keep the stored identity; update mutable fields.
			existing.SetEmail(account.Email())
			existing.SetDisplayName(account.DisplayName())
			if token := account.OAuthToken(); token != "" {
				existing.SetOAuthToken(token)
			}
			stored = existing
			return s.accounts.Save(ctx, tx, existing)
		}
		stored = account
		return s.accounts.Save(ctx, tx, account)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// SaveAccount persists account state changes (status, feed bookkeeping).
func (s *Service) SaveAccount(ctx context.Context, account *domain.Account) error {
	return s.run(ctx, account.UserID(), "save_account", func(ctx context.Context, tx database.Transaction) error {
		return s.accounts.Save(ctx, tx, account)
	})
}

// GetAccount returns an account or nil.
func (s *Service) GetAccount(ctx context.Context, userID, accountID shared.ID) (*domain.Account, error) {
	var out *domain.Account
	err := s.run(ctx, userID, "get_account", func(ctx context.Context, tx database.Transaction) error {
		var err error
		out, err = s.accounts.FindByID(ctx, tx, userID, accountID)
		return err
	})
	return out, err
}

// ListAccounts returns all accounts of a user.
func (s *Service) ListAccounts(ctx context.Context, userID shared.ID) ([]*domain.Account, error) {
	var out []*domain.Account
	err := s.run(ctx, userID, "list_accounts", func(ctx context.Context, tx database.Transaction) error {
		var err error
		out, err = s.accounts.ListByUser(ctx, tx, userID)
		return err
	})
	return out, err
}

// RemoveAccount hard-deletes an account and all of its events. This is the
// only path that hard-deletes canonical events.
func (s *Service) RemoveAccount(ctx context.Context, userID, accountID shared.ID) error {
	return s.run(ctx, userID, "remove_account", func(ctx context.Context, tx database.Transaction) error {
		account, err := s.accounts.FindByID(ctx, tx, userID, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return shared.ErrUnknownAccount
		}
		if _, err := s.events.DeleteByAccount(ctx, tx, userID, accountID); err != nil {
			return err
		}
		return s.accounts.Delete(ctx, tx, userID, accountID)
	})
}

// ---- Constraints ----

// AddConstraint stores a constraint.
func (s *Service) AddConstraint(ctx context.Context, constraint *domain.Constraint) error {
	return s.run(ctx, constraint.UserID, "add_constraint", func(ctx context.Context, tx database.Transaction) error {
		return s.constraints.Save(ctx, tx, constraint)
	})
}

// ListConstraints returns all constraints for a user.
func (s *Service) ListConstraints(ctx context.Context, userID shared.ID) ([]*domain.Constraint, error) {
	var out []*domain.Constraint
	err := s.run(ctx, userID, "list_constraints", func(ctx context.Context, tx database.Transaction) error {
		var err error
		out, err = s.constraints.ListByUser(ctx, tx, userID)
		return err
	})
	return out, err
}

// DeleteConstraint removes a constraint.
func (s *Service) DeleteConstraint(ctx context.Context, userID, id shared.ID) error {
	return s.run(ctx, userID, "delete_constraint", func(ctx context.Context, tx database.Transaction) error {
		existing, err := s.constraints.FindByID(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return shared.E(shared.KindNotFound, "constraint_not_found", "constraint not found")
		}
		return s.constraints.Delete(ctx, tx, userID, id)
	})
}

// ---- VIP policies ----

// CreateVipPolicy stores a policy.
func (s *Service) CreateVipPolicy(ctx context.Context, policy *domain.VipPolicy) error {
	return s.run(ctx, policy.UserID, "create_vip_policy", func(ctx context.Context, tx database.Transaction) error {
		return s.vips.Save(ctx, tx, policy)
	})
}

// ListVipPolicies returns all policies for a user.
func (s *Service) ListVipPolicies(ctx context.Context, userID shared.ID) ([]*domain.VipPolicy, error) {
	var out []*domain.VipPolicy
	err := s.run(ctx, userID, "list_vip_policies", func(ctx context.Context, tx database.Transaction) error {
		var err error
		out, err = s.vips.ListByUser(ctx, tx, userID)
		return err
	})
	return out, err
}

// DeleteVipPolicy removes a policy.
func (s *Service) DeleteVipPolicy(ctx context.Context, userID, id shared.ID) error {
	return s.run(ctx, userID, "delete_vip_policy", func(ctx context.Context, tx database.Transaction) error {
		existing, err := s.vips.FindByID(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return shared.E(shared.KindNotFound, "vip_policy_not_found", "VIP policy not found")
		}
		return s.vips.Delete(ctx, tx, userID, id)
	})
}

// ---- Allocations ----

// CreateAllocation stores an allocation after checking the event exists.
func (s *Service) CreateAllocation(ctx context.Context, allocation *domain.TimeAllocation) error {
	return s.run(ctx, allocation.UserID, "create_allocation", func(ctx context.Context, tx database.Transaction) error {
		event, err := s.events.FindByID(ctx, tx, allocation.UserID, allocation.CanonicalEventID)
		if err != nil {
			return err
		}
		if event == nil {
			return shared.E(shared.KindNotFound, "event_not_found", "canonical event not found")
		}
		return s.allocations.Save(ctx, tx, allocation)
	})
}

// GetAllocation returns the allocation for one event, or nil.
func (s *Service) GetAllocation(ctx context.Context, userID, eventID shared.ID) (*domain.TimeAllocation, error) {
	var out *domain.TimeAllocation
	err := s.run(ctx, userID, "get_allocation", func(ctx context.Context, tx database.Transaction) error {
		var err error
		out, err = s.allocations.FindByEvent(ctx, tx, userID, eventID)
		return err
	})
	return out, err
}

// AllocatedEvent pairs an allocation with its underlying event.
type AllocatedEvent struct {
	Allocation *domain.TimeAllocation
	Event      *domain.CanonicalEvent
}

// ListBillableEvents returns the BILLABLE allocations of one client joined
// with their events, in start order. The governance engine filters by
// window.
func (s *Service) ListBillableEvents(ctx context.Context, userID shared.ID, clientID string) ([]AllocatedEvent, error) {
	var out []AllocatedEvent
	err := s.run(ctx, userID, "list_billable_events", func(ctx context.Context, tx database.Transaction) error {
		allocations, err := s.allocations.ListByClient(ctx, tx, userID, clientID, domain.BillingBillable)
		if err != nil {
			return err
		}
		for _, alloc := range allocations {
			event, err := s.events.FindByID(ctx, tx, userID, alloc.CanonicalEventID)
			if err != nil {
				return err
			}
			if event == nil || event.IsCancelled() {
				continue
			}
			out = append(out, AllocatedEvent{Allocation: alloc, Event: event})
		}
		return nil
	})
	return out, err
}

// ---- Commitments ----

// CreateCommitment stores a commitment.
func (s *Service) CreateCommitment(ctx context.Context, commitment *domain.Commitment) error {
	return s.run(ctx, commitment.UserID, "create_commitment", func(ctx context.Context, tx database.Transaction) error {
		return s.commitments.Save(ctx, tx, commitment)
	})
}

// ListCommitments returns all commitments for a user.
func (s *Service) ListCommitments(ctx context.Context, userID shared.ID) ([]*domain.Commitment, error) {
	var out []*domain.Commitment
	err := s.run(ctx, userID, "list_commitments", func(ctx context.Context, tx database.Transaction) error {
		var err error
		out, err = s.commitments.ListByUser(ctx, tx, userID)
		return err
	})
	return out, err
}

// GetCommitment returns a commitment or nil.
func (s *Service) GetCommitment(ctx context.Context, userID, id shared.ID) (*domain.Commitment, error) {
	var out *domain.Commitment
	err := s.run(ctx, userID, "get_commitment", func(ctx context.Context, tx database.Transaction) error {
		var err error
		out, err = s.commitments.FindByID(ctx, tx, userID, id)
		return err
	})
	return out, err
}

// DeleteCommitment removes a commitment. A commitment whose client still
// has allocations is referenced and cannot be deleted.
func (s *Service) DeleteCommitment(ctx context.Context, userID, id shared.ID) error {
	return s.run(ctx, userID, "delete_commitment", func(ctx context.Context, tx database.Transaction) error {
		existing, err := s.commitments.FindByID(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return shared.E(shared.KindNotFound, "commitment_not_found", "commitment not found")
		}
		refs, err := s.allocations.CountByClient(ctx, tx, userID, existing.ClientID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return shared.ErrInUse
		}
		return s.commitments.Delete(ctx, tx, userID, id)
	})
}

// ---- Sync health ----

// AccountHealth is one account's sync health snapshot.
type AccountHealth struct {
	AccountID           shared.ID        `json:"account_id"`
	Provider            domain.Provider  `json:"provider"`
	Status              string           `json:"status"`
	EventCount          int64            `json:"event_count"`
	Staleness           domain.Staleness `json:"staleness,omitempty"`
	IsDead              bool             `json:"is_dead"`
	TokenExpired        bool             `json:"token_expired,omitempty"`
	LastRefreshAt       *time.Time       `json:"last_refresh_at,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures,omitempty"`
	RefreshIntervalMs   int64            `json:"refresh_interval_ms,omitempty"`
}

// GetSyncHealth returns per-account health. Calling it also triggers the
// lazy schema migration, like every other operation.
func (s *Service) GetSyncHealth(ctx context.Context, userID shared.ID) ([]AccountHealth, error) {
	now := time.Now().UTC()
	var out []AccountHealth
	err := s.run(ctx, userID, "get_sync_health", func(ctx context.Context, tx database.Transaction) error {
		accounts, err := s.accounts.ListByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, acct := range accounts {
			count, err := s.events.CountByAccount(ctx, tx, userID, acct.ID())
			if err != nil {
				return err
			}
			health := AccountHealth{
				AccountID:  acct.ID(),
				Provider:   acct.Provider(),
				Status:     string(acct.Status()),
				EventCount: count,
			}
			if acct.IsFeed() {
				feed := acct.Feed()
				staleness := acct.ClassifyStaleness(now)
				health.Staleness = staleness
				health.IsDead = staleness == domain.StalenessDead
				health.LastRefreshAt = feed.LastRefreshAt
				health.ConsecutiveFailures = feed.ConsecutiveFailures
				health.RefreshIntervalMs = feed.RefreshInterval.Milliseconds()
			} else {
				health.TokenExpired = acct.TokenExpired()
			}
			out = append(out, health)
		}
		return nil
	})
	return out, err
}
