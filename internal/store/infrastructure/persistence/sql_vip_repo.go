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

// SQLVipPolicyRepository implements domain.VipPolicyRepository.
type SQLVipPolicyRepository struct {
	driver database.Driver
}

// NewSQLVipPolicyRepository creates a VIP policy repository.
func NewSQLVipPolicyRepository(driver database.Driver) *SQLVipPolicyRepository {
	return &SQLVipPolicyRepository{driver: driver}
}

func (r *SQLVipPolicyRepository) rebind(q string) string {
	return database.Rebind(r.driver, q)
}

// Save inserts or replaces a policy. Re-adding the same participant updates
// the existing row.
func (r *SQLVipPolicyRepository) Save(ctx context.Context, exec database.Executor, p *domain.VipPolicy) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	query := r.rebind(`
		INSERT INTO vip_policies (id, user_id, participant_hash, display_name, priority_weight, conditions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, participant_hash) DO UPDATE SET
			display_name = excluded.display_name,
			priority_weight = excluded.priority_weight,
			conditions = excluded.conditions,
			updated_at = excluded.updated_at
	`)

	_, err = exec.Exec(ctx, query,
		p.ID.String(),
		p.UserID.String(),
		p.ParticipantHash,
		p.DisplayName,
		p.PriorityWeight,
		string(conditions),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// FindByID finds a policy by ID.
func (r *SQLVipPolicyRepository) FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*domain.VipPolicy, error) {
	query := r.rebind(`
		SELECT id, user_id, participant_hash, display_name, priority_weight, conditions, created_at, updated_at
		FROM vip_policies WHERE user_id = ? AND id = ?
	`)
	p, err := scanVipRow(exec.QueryRow(ctx, query, userID.String(), id.String()).Scan)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ListByUser returns all policies, highest priority first.
func (r *SQLVipPolicyRepository) ListByUser(ctx context.Context, exec database.Executor, userID shared.ID) ([]*domain.VipPolicy, error) {
	query := r.rebind(`
		SELECT id, user_id, participant_hash, display_name, priority_weight, conditions, created_at, updated_at
		FROM vip_policies WHERE user_id = ? ORDER BY priority_weight DESC, id
	`)
	rows, err := exec.Query(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.VipPolicy
	for rows.Next() {
		p, err := scanVipRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a policy.
func (r *SQLVipPolicyRepository) Delete(ctx context.Context, exec database.Executor, userID, id shared.ID) error {
	query := r.rebind(`DELETE FROM vip_policies WHERE user_id = ? AND id = ?`)
	_, err := exec.Exec(ctx, query, userID.String(), id.String())
	return err
}

func scanVipRow(scan func(dest ...any) error) (*domain.VipPolicy, error) {
	var (
		p          domain.VipPolicy
		id         string
		userID     string
		conditions string
		createdAt  string
		updatedAt  string
	)
	if err := scan(&id, &userID, &p.ParticipantHash, &p.DisplayName, &p.PriorityWeight, &conditions, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	p.ID = shared.ID(id)
	p.UserID = shared.ID(userID)
	if err := json.Unmarshal([]byte(conditions), &p.Conditions); err != nil {
		return nil, fmt.Errorf("corrupt conditions for vip policy %s: %w", id, err)
	}

	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for vip policy %s: %w", id, err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for vip policy %s: %w", id, err)
	}
	return &p, nil
}
