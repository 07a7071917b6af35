package persistence

import (
	"context"
	"fmt"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/store/domain"
)

// SQLAccountRepository implements domain.AccountRepository.
type SQLAccountRepository struct {
	driver database.Driver
}

// NewSQLAccountRepository creates an account repository for the given driver.
func NewSQLAccountRepository(driver database.Driver) *SQLAccountRepository {
	return &SQLAccountRepository{driver: driver}
}

func (r *SQLAccountRepository) rebind(q string) string {
	return database.Rebind(r.driver, q)
}

const accountColumns = `
	id, user_id, provider, provider_subject, email, display_name, status,
	write_capable, oauth_token, feed_etag, feed_last_modified,
	feed_content_hash, feed_last_refresh_at, feed_last_success_at,
	feed_consecutive_failures, feed_refresh_interval_ms, created_at, updated_at`

// Save inserts or replaces an account.
func (r *SQLAccountRepository) Save(ctx context.Context, exec database.Executor, a *domain.Account) error {
	query := r.rebind(`
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			status = excluded.status,
			write_capable = excluded.write_capable,
			oauth_token = excluded.oauth_token,
			feed_etag = excluded.feed_etag,
			feed_last_modified = excluded.feed_last_modified,
			feed_content_hash = excluded.feed_content_hash,
			feed_last_refresh_at = excluded.feed_last_refresh_at,
			feed_last_success_at = excluded.feed_last_success_at,
			feed_consecutive_failures = excluded.feed_consecutive_failures,
			feed_refresh_interval_ms = excluded.feed_refresh_interval_ms,
			updated_at = excluded.updated_at
	`)

	feed := a.Feed()
	var oauthToken *string
	if t := a.OAuthToken(); t != "" {
		oauthToken = &t
	}

	_, err := exec.Exec(ctx, query,
		a.ID().String(),
		a.UserID().String(),
		string(a.Provider()),
		a.ProviderSubject(),
		a.Email(),
		a.DisplayName(),
		string(a.Status()),
		boolToInt(a.WriteCapable()),
		oauthToken,
		feed.ETag,
		feed.LastModified,
		feed.ContentHash,
		formatNullableTime(feed.LastRefreshAt),
		formatNullableTime(feed.LastSuccessAt),
		feed.ConsecutiveFailures,
		feed.RefreshInterval.Milliseconds(),
		a.CreatedAt().Format(time.RFC3339),
		a.UpdatedAt().Format(time.RFC3339),
	)
	return err
}

// FindByID finds an account by ID.
func (r *SQLAccountRepository) FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*domain.Account, error) {
	query := r.rebind(`SELECT` + accountColumns + `FROM accounts WHERE user_id = ? AND id = ?`)
	row := exec.QueryRow(ctx, query, userID.String(), id.String())
	return r.scanAccount(row)
}

// FindBySubject finds an account by its external identity.
func (r *SQLAccountRepository) FindBySubject(ctx context.Context, exec database.Executor, userID shared.ID, provider domain.Provider, subject string) (*domain.Account, error) {
	query := r.rebind(`SELECT` + accountColumns + `FROM accounts WHERE user_id = ? AND provider = ? AND provider_subject = ?`)
	row := exec.QueryRow(ctx, query, userID.String(), string(provider), subject)
	return r.scanAccount(row)
}

// ListByUser returns all of a user's accounts ordered by provider, then
// by creation (oldest first) within each provider.
func (r *SQLAccountRepository) ListByUser(ctx context.Context, exec database.Executor, userID shared.ID) ([]*domain.Account, error) {
	query := r.rebind(`SELECT` + accountColumns + `FROM accounts WHERE user_id = ? ORDER BY provider, id`)
	rows, err := exec.Query(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccountRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes an account row. Events must be deleted first; the foreign
// key enforces it.
func (r *SQLAccountRepository) Delete(ctx context.Context, exec database.Executor, userID, id shared.ID) error {
	query := r.rebind(`DELETE FROM accounts WHERE user_id = ? AND id = ?`)
	_, err := exec.Exec(ctx, query, userID.String(), id.String())
	return err
}

func (r *SQLAccountRepository) scanAccount(row database.Row) (*domain.Account, error) {
	a, err := scanAccountRow(row.Scan)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func scanAccountRow(scan func(dest ...any) error) (*domain.Account, error) {
	var (
		id            string
		userID        string
		provider      string
		subject       string
		email         string
		displayName   string
		status        string
		writeCapable  int
		oauthToken    *string
		etag          string
		lastModified  string
		contentHash   string
		lastRefreshAt *string
		lastSuccessAt *string
		failures      int
		intervalMs    int64
		createdAt     string
		updatedAt     string
	)

	err := scan(
		&id, &userID, &provider, &subject, &email, &displayName, &status,
		&writeCapable, &oauthToken, &etag, &lastModified, &contentHash,
		&lastRefreshAt, &lastSuccessAt, &failures, &intervalMs,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at for account %s: %w", id, err)
	}
	updated, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt updated_at for account %s: %w", id, err)
	}

	feed := domain.FeedState{
		ETag:                etag,
		LastModified:        lastModified,
		ContentHash:         contentHash,
		ConsecutiveFailures: failures,
		RefreshInterval:     time.Duration(intervalMs) * time.Millisecond,
	}
	if feed.LastRefreshAt, err = parseNullableTime(lastRefreshAt); err != nil {
		return nil, fmt.Errorf("corrupt feed_last_refresh_at for account %s: %w", id, err)
	}
	if feed.LastSuccessAt, err = parseNullableTime(lastSuccessAt); err != nil {
		return nil, fmt.Errorf("corrupt feed_last_success_at for account %s: %w", id, err)
	}

	token := ""
	if oauthToken != nil {
		token = *oauthToken
	}

	entity := shared.RehydrateBaseEntity(shared.ID(id), created, updated)
	return domain.RehydrateAccount(
		entity,
		shared.ID(userID),
		domain.Provider(provider),
		subject, email, displayName,
		domain.AccountStatus(status),
		writeCapable != 0,
		token,
		feed,
	), nil
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func parseNullableTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
