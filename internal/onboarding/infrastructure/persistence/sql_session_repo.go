// Package persistence implements the onboarding session repository.
package persistence

import (
	"context"
	"fmt"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	store "github.com/ramxx/tminus/internal/store/domain"

	"github.com/ramxx/tminus/internal/onboarding/domain"
)

// SQLSessionRepository persists onboarding sessions and their account
// lists.
type SQLSessionRepository struct {
	driver database.Driver
}

// NewSQLSessionRepository creates a session repository.
func NewSQLSessionRepository(driver database.Driver) *SQLSessionRepository {
	return &SQLSessionRepository{driver: driver}
}

func (r *SQLSessionRepository) rebind(q string) string {
	return database.Rebind(r.driver, q)
}

// Save persists a session and rewrites its account list.
func (r *SQLSessionRepository) Save(ctx context.Context, exec database.Executor, s *domain.Session) error {
	query := r.rebind(`
		INSERT INTO onboarding_sessions (id, user_id, session_token, step, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			step = excluded.step,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`)

	var completedAt *string
	if t := s.CompletedAt(); t != nil {
		f := t.UTC().Format(time.RFC3339)
		completedAt = &f
	}

	_, err := exec.Exec(ctx, query,
		s.ID().String(),
		s.UserID().String(),
		s.Token(),
		string(s.Step()),
		completedAt,
		s.CreatedAt().Format(time.RFC3339),
		s.UpdatedAt().Format(time.RFC3339),
	)
	if err != nil {
		return err
	}

	// The account list is small and ordered; rewriting it keeps positions
	// consistent with the aggregate.
	del := r.rebind(`DELETE FROM onboarding_session_accounts WHERE session_id = ?`)
	if _, err := exec.Exec(ctx, del, s.ID().String()); err != nil {
		return err
	}

	insert := r.rebind(`
		INSERT INTO onboarding_session_accounts (session_id, account_id, provider, email, status, calendar_count, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, acct := range s.Accounts() {
		_, err := exec.Exec(ctx, insert,
			s.ID().String(),
			acct.AccountID.String(),
			string(acct.Provider),
			acct.Email,
			string(acct.Status),
			acct.CalendarCount,
			i,
			acct.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

const sessionColumns = `id, user_id, session_token, step, completed_at, created_at, updated_at`

// FindActiveByUser returns the user's unfinished session, or nil.
func (r *SQLSessionRepository) FindActiveByUser(ctx context.Context, exec database.Executor, userID shared.ID) (*domain.Session, error) {
	query := r.rebind(`SELECT ` + sessionColumns + ` FROM onboarding_sessions WHERE user_id = ? AND step != 'complete'`)
	return r.findOne(ctx, exec, query, userID.String())
}

// FindLatestByUser returns the user's most recent session of any step.
func (r *SQLSessionRepository) FindLatestByUser(ctx context.Context, exec database.Executor, userID shared.ID) (*domain.Session, error) {
	query := r.rebind(`SELECT ` + sessionColumns + ` FROM onboarding_sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`)
	return r.findOne(ctx, exec, query, userID.String())
}

// FindByToken resolves a session by its resume token.
func (r *SQLSessionRepository) FindByToken(ctx context.Context, exec database.Executor, token string) (*domain.Session, error) {
	query := r.rebind(`SELECT ` + sessionColumns + ` FROM onboarding_sessions WHERE session_token = ?`)
	return r.findOne(ctx, exec, query, token)
}

// Delete removes a session and its accounts.
func (r *SQLSessionRepository) Delete(ctx context.Context, exec database.Executor, id shared.ID) error {
	if _, err := exec.Exec(ctx, r.rebind(`DELETE FROM onboarding_session_accounts WHERE session_id = ?`), id.String()); err != nil {
		return err
	}
	_, err := exec.Exec(ctx, r.rebind(`DELETE FROM onboarding_sessions WHERE id = ?`), id.String())
	return err
}

func (r *SQLSessionRepository) findOne(ctx context.Context, exec database.Executor, query string, arg any) (*domain.Session, error) {
	var (
		id          string
		userID      string
		token       string
		step        string
		completedAt *string
		createdAt   string
		updatedAt   string
	)
	err := exec.QueryRow(ctx, query, arg).Scan(&id, &userID, &token, &step, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}

	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at for session %s: %w", id, err)
	}
	updated, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt updated_at for session %s: %w", id, err)
	}
	var completed *time.Time
	if completedAt != nil && *completedAt != "" {
		t, err := time.Parse(time.RFC3339, *completedAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt completed_at for session %s: %w", id, err)
		}
		completed = &t
	}

	accounts, err := r.loadAccounts(ctx, exec, shared.ID(id))
	if err != nil {
		return nil, err
	}

	entity := shared.RehydrateBaseEntity(shared.ID(id), created, updated)
	return domain.RehydrateSession(entity, shared.ID(userID), token, domain.Step(step), accounts, completed), nil
}

func (r *SQLSessionRepository) loadAccounts(ctx context.Context, exec database.Executor, sessionID shared.ID) ([]domain.SessionAccount, error) {
	query := r.rebind(`
		SELECT account_id, provider, email, status, calendar_count, updated_at
		FROM onboarding_session_accounts
		WHERE session_id = ?
		ORDER BY position
	`)
	rows, err := exec.Query(ctx, query, sessionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SessionAccount
	for rows.Next() {
		var (
			acct      domain.SessionAccount
			accountID string
			provider  string
			status    string
			updatedAt string
		)
		if err := rows.Scan(&accountID, &provider, &acct.Email, &status, &acct.CalendarCount, &updatedAt); err != nil {
			return nil, err
		}
		acct.AccountID = shared.ID(accountID)
		acct.Provider = store.Provider(provider)
		acct.Status = domain.AccountStatus(status)
		if acct.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("corrupt updated_at for session account %s: %w", accountID, err)
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}
