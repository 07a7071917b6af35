package persistence

import (
	"context"
	"fmt"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/store/domain"
)

// SQLCommitmentRepository implements domain.CommitmentRepository.
type SQLCommitmentRepository struct {
	driver database.Driver
}

// NewSQLCommitmentRepository creates a commitment repository.
func NewSQLCommitmentRepository(driver database.Driver) *SQLCommitmentRepository {
	return &SQLCommitmentRepository{driver: driver}
}

func (r *SQLCommitmentRepository) rebind(q string) string {
	return database.Rebind(r.driver, q)
}

const commitmentColumns = `
	id, user_id, client_id, client_name, target_hours, window_type,
	rolling_window_weeks, hard_minimum, proof_required, created_at, updated_at`

// Save inserts or replaces a commitment.
func (r *SQLCommitmentRepository) Save(ctx context.Context, exec database.Executor, c *domain.Commitment) error {
	query := r.rebind(`
		INSERT INTO commitments (` + commitmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_name = excluded.client_name,
			target_hours = excluded.target_hours,
			window_type = excluded.window_type,
			rolling_window_weeks = excluded.rolling_window_weeks,
			hard_minimum = excluded.hard_minimum,
			proof_required = excluded.proof_required,
			updated_at = excluded.updated_at
	`)

	_, err := exec.Exec(ctx, query,
		c.ID.String(),
		c.UserID.String(),
		c.ClientID,
		c.ClientName,
		c.TargetHours,
		string(c.WindowType),
		c.RollingWindowWeeks,
		boolToInt(c.HardMinimum),
		boolToInt(c.ProofRequired),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// FindByID finds a commitment by ID.
func (r *SQLCommitmentRepository) FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*domain.Commitment, error) {
	query := r.rebind(`SELECT` + commitmentColumns + `FROM commitments WHERE user_id = ? AND id = ?`)
	c, err := scanCommitmentRow(exec.QueryRow(ctx, query, userID.String(), id.String()).Scan)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ListByUser returns all commitments for a user.
func (r *SQLCommitmentRepository) ListByUser(ctx context.Context, exec database.Executor, userID shared.ID) ([]*domain.Commitment, error) {
	query := r.rebind(`SELECT` + commitmentColumns + `FROM commitments WHERE user_id = ? ORDER BY id`)
	rows, err := exec.Query(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Commitment
	for rows.Next() {
		c, err := scanCommitmentRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a commitment.
func (r *SQLCommitmentRepository) Delete(ctx context.Context, exec database.Executor, userID, id shared.ID) error {
	query := r.rebind(`DELETE FROM commitments WHERE user_id = ? AND id = ?`)
	_, err := exec.Exec(ctx, query, userID.String(), id.String())
	return err
}

func scanCommitmentRow(scan func(dest ...any) error) (*domain.Commitment, error) {
	var (
		c           domain.Commitment
		id          string
		userID      string
		windowType  string
		hardMin     int
		proofNeeded int
		createdAt   string
		updatedAt   string
	)
	if err := scan(&id, &userID, &c.ClientID, &c.ClientName, &c.TargetHours, &windowType, &c.RollingWindowWeeks, &hardMin, &proofNeeded, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.ID = shared.ID(id)
	c.UserID = shared.ID(userID)
	c.WindowType = domain.WindowType(windowType)
	c.HardMinimum = hardMin != 0
	c.ProofRequired = proofNeeded != 0

	var err error
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for commitment %s: %w", id, err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for commitment %s: %w", id, err)
	}
	return &c, nil
}
