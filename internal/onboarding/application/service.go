// Package application implements the onboarding session manager on top of
// the store's per-user partitions.
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/shared/infrastructure/migrations"
	storeapp "github.com/ramxx/tminus/internal/store/application"

	"github.com/ramxx/tminus/internal/onboarding/domain"
)

// SessionRepository persists onboarding sessions.
type SessionRepository interface {
	Save(ctx context.Context, exec database.Executor, session *domain.Session) error
	FindActiveByUser(ctx context.Context, exec database.Executor, userID shared.ID) (*domain.Session, error)
	FindLatestByUser(ctx context.Context, exec database.Executor, userID shared.ID) (*domain.Session, error)
	FindByToken(ctx context.Context, exec database.Executor, token string) (*domain.Session, error)
	Delete(ctx context.Context, exec database.Executor, id shared.ID) error
}

// Service manages onboarding sessions. All writes run inside the owning
// user's store partition, which is what makes concurrent tabs converge.
type Service struct {
	conn       database.Connection
	runner     *migrations.Runner
	partitions *storeapp.PartitionManager
	sessions   SessionRepository
	retention  time.Duration
	logger     *slog.Logger
}

// NewService creates the onboarding service.
func NewService(conn database.Connection, runner *migrations.Runner, partitions *storeapp.PartitionManager, sessions SessionRepository, retention time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Service{
		conn:       conn,
		runner:     runner,
		partitions: partitions,
		sessions:   sessions,
		retention:  retention,
		logger:     logger,
	}
}

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

// CreateSession starts a new onboarding session. An unfinished session
// already present is rejected with SessionExists unless replace is set, in
// which case the stale session is discarded.
func (s *Service) CreateSession(ctx context.Context, userID shared.ID, replace bool) (*domain.Session, error) {
	var session *domain.Session
	err := s.run(ctx, userID, "create_onboarding_session", func(ctx context.Context, tx database.Transaction) error {
		active, err := s.sessions.FindActiveByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if active != nil {
			if !replace {
				return shared.ErrSessionExists
			}
			if err := s.sessions.Delete(ctx, tx, active.ID()); err != nil {
				return err
			}
		}

		session, err = domain.NewSession(userID, domain.NewSessionToken())
		if err != nil {
			return shared.Wrap(shared.KindInvalidArgument, "invalid_session", err)
		}
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns the user's unfinished session, or nil.
func (s *Service) GetSession(ctx context.Context, userID shared.ID) (*domain.Session, error) {
	var session *domain.Session
	err := s.run(ctx, userID, "get_onboarding_session", func(ctx context.Context, tx database.Transaction) error {
		var err error
		session, err = s.sessions.FindActiveByUser(ctx, tx, userID)
		return err
	})
	return session, err
}

// GetLatestSession returns the user's most recent session of any step, or
// nil. Used by completion idempotency and the status endpoint.
func (s *Service) GetLatestSession(ctx context.Context, userID shared.ID) (*domain.Session, error) {
	var session *domain.Session
	err := s.run(ctx, userID, "get_latest_onboarding_session", func(ctx context.Context, tx database.Transaction) error {
		var err error
		session, err = s.sessions.FindLatestByUser(ctx, tx, userID)
		return err
	})
	return session, err
}

// GetSessionByToken resumes a session by its opaque token. The token is
// the only lookup key, so this read spans partitions; it is a single-row
// read-only query. Sessions past the retention horizon resolve to nil.
func (s *Service) GetSessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	if err := s.runner.Ensure(ctx, s.conn); err != nil {
		return nil, shared.Wrap(shared.KindInternal, "schema_migration_failed", err)
	}
	session, err := s.sessions.FindByToken(ctx, s.conn, token)
	if err != nil {
		return nil, err
	}
	if session == nil || session.IsExpired(time.Now().UTC(), s.retention) {
		return nil, nil
	}
	return session, nil
}

// AddAccount attaches an account to the user's unfinished session.
// Idempotent by account ID.
func (s *Service) AddAccount(ctx context.Context, userID shared.ID, account domain.SessionAccount) (*domain.Session, error) {
	var session *domain.Session
	err := s.run(ctx, userID, "add_onboarding_account", func(ctx context.Context, tx database.Transaction) error {
		var err error
		session, err = s.sessions.FindActiveByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if session == nil {
			return shared.E(shared.KindNotFound, "session_not_found", "no active onboarding session")
		}
		if err := session.AddAccount(account, time.Now().UTC()); err != nil {
			if errors.Is(err, domain.ErrSessionCompleted) {
				return shared.Wrap(shared.KindConflict, "session_completed", err)
			}
			return shared.Wrap(shared.KindInvalidArgument, "invalid_session_account", err)
		}
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateAccountStatus updates one attached account's status. Unknown
// accounts no-op by design: a tab may report status for an account another
// tab already detached.
func (s *Service) UpdateAccountStatus(ctx context.Context, userID, accountID shared.ID, status domain.AccountStatus, calendarCount *int) (*domain.Session, error) {
	var session *domain.Session
	err := s.run(ctx, userID, "update_onboarding_account", func(ctx context.Context, tx database.Transaction) error {
		var err error
		session, err = s.sessions.FindActiveByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if session == nil {
			return shared.E(shared.KindNotFound, "session_not_found", "no active onboarding session")
		}
		if err := session.UpdateAccountStatus(accountID, status, calendarCount, time.Now().UTC()); err != nil {
			return shared.Wrap(shared.KindConflict, "session_completed", err)
		}
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CompleteSession moves the session to its terminal step. Idempotent:
// calling it again returns the completed session unchanged.
func (s *Service) CompleteSession(ctx context.Context, userID shared.ID) (*domain.Session, error) {
	var session *domain.Session
	err := s.run(ctx, userID, "complete_onboarding_session", func(ctx context.Context, tx database.Transaction) error {
		var err error
		session, err = s.sessions.FindActiveByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if session == nil {
			// Already completed: surface the existing terminal state.
			session, err = s.sessions.FindLatestByUser(ctx, tx, userID)
			if err != nil {
				return err
			}
			if session == nil {
				return shared.E(shared.KindNotFound, "session_not_found", "no onboarding session")
			}
			return nil
		}
		session.Complete(time.Now().UTC())
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}
