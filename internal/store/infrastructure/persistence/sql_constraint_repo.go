package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/store/domain"
)

// SQLConstraintRepository implements domain.ConstraintRepository.
type SQLConstraintRepository struct {
	driver database.Driver
}

// NewSQLConstraintRepository creates a constraint repository.
func NewSQLConstraintRepository(driver database.Driver) *SQLConstraintRepository {
	return &SQLConstraintRepository{driver: driver}
}

func (r *SQLConstraintRepository) rebind(q string) string {
	return database.Rebind(r.driver, q)
}

// Save inserts or replaces a constraint.
func (r *SQLConstraintRepository) Save(ctx context.Context, exec database.Executor, c *domain.Constraint) error {
	query := r.rebind(`
		INSERT INTO constraints (id, user_id, kind, config, active_from, active_to, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			config = excluded.config,
			active_from = excluded.active_from,
			active_to = excluded.active_to,
			updated_at = excluded.updated_at
	`)

	_, err := exec.Exec(ctx, query,
		c.ID.String(),
		c.UserID.String(),
		string(c.Kind),
		string(c.Config),
		formatNullableTime(c.ActiveFrom),
		formatNullableTime(c.ActiveTo),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// FindByID finds a constraint by ID.
func (r *SQLConstraintRepository) FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*domain.Constraint, error) {
	query := r.rebind(`
		SELECT id, user_id, kind, config, active_from, active_to, created_at, updated_at
		FROM constraints WHERE user_id = ? AND id = ?
	`)
	c, err := scanConstraintRow(exec.QueryRow(ctx, query, userID.String(), id.String()).Scan)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ListByUser returns all constraints for a user.
func (r *SQLConstraintRepository) ListByUser(ctx context.Context, exec database.Executor, userID shared.ID) ([]*domain.Constraint, error) {
	query := r.rebind(`
		SELECT id, user_id, kind, config, active_from, active_to, created_at, updated_at
		FROM constraints WHERE user_id = ? ORDER BY id
	`)
	rows, err := exec.Query(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Constraint
	for rows.Next() {
		c, err := scanConstraintRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a constraint.
func (r *SQLConstraintRepository) Delete(ctx context.Context, exec database.Executor, userID, id shared.ID) error {
	query := r.rebind(`DELETE FROM constraints WHERE user_id = ? AND id = ?`)
	_, err := exec.Exec(ctx, query, userID.String(), id.String())
	return err
}

func scanConstraintRow(scan func(dest ...any) error) (*domain.Constraint, error) {
	var (
		c          domain.Constraint
		id         string
		userID     string
		kind       string
		config     string
		activeFrom *string
		activeTo   *string
		createdAt  string
		updatedAt  string
	)
	if err := scan(&id, &userID, &kind, &config, &activeFrom, &activeTo, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.ID = shared.ID(id)
	c.UserID = shared.ID(userID)
	c.Kind = domain.ConstraintKind(kind)
	c.Config = json.RawMessage(config)

	var err error
	if c.ActiveFrom, err = parseNullableTime(activeFrom); err != nil {
		return nil, fmt.Errorf("corrupt active_from for constraint %s: %w", id, err)
	}
	if c.ActiveTo, err = parseNullableTime(activeTo); err != nil {
		return nil, fmt.Errorf("corrupt active_to for constraint %s: %w", id, err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for constraint %s: %w", id, err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for constraint %s: %w", id, err)
	}
	return &c, nil
}
