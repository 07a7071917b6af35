package persistence

import (
	"context"
	"fmt"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/store/domain"
)

// SQLAllocationRepository implements domain.AllocationRepository.
type SQLAllocationRepository struct {
	driver database.Driver
}

// NewSQLAllocationRepository creates an allocation repository.
func NewSQLAllocationRepository(driver database.Driver) *SQLAllocationRepository {
	return &SQLAllocationRepository{driver: driver}
}

func (r *SQLAllocationRepository) rebind(q string) string {
	return database.Rebind(r.driver, q)
}

const allocationColumns = `
	id, user_id, canonical_event_id, billing_category, client_id, rate, confidence, locked, created_at, updated_at`

// Save inserts or replaces an allocation. One allocation per event; a
// re-submission updates in place.
func (r *SQLAllocationRepository) Save(ctx context.Context, exec database.Executor, a *domain.TimeAllocation) error {
	query := r.rebind(`
		INSERT INTO time_allocations (` + allocationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, canonical_event_id) DO UPDATE SET
			billing_category = excluded.billing_category,
			client_id = excluded.client_id,
			rate = excluded.rate,
			confidence = excluded.confidence,
			locked = excluded.locked,
			updated_at = excluded.updated_at
	`)

	_, err := exec.Exec(ctx, query,
		a.ID.String(),
		a.UserID.String(),
		a.CanonicalEventID.String(),
		string(a.BillingCategory),
		a.ClientID,
		a.Rate,
		a.Confidence,
		boolToInt(a.Locked),
		a.CreatedAt.Format(time.RFC3339),
		a.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// FindByEvent finds the allocation for one event.
func (r *SQLAllocationRepository) FindByEvent(ctx context.Context, exec database.Executor, userID, eventID shared.ID) (*domain.TimeAllocation, error) {
	query := r.rebind(`SELECT` + allocationColumns + `FROM time_allocations WHERE user_id = ? AND canonical_event_id = ?`)
	a, err := scanAllocationRow(exec.QueryRow(ctx, query, userID.String(), eventID.String()).Scan)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// ListByClient returns allocations for a client filtered by category.
func (r *SQLAllocationRepository) ListByClient(ctx context.Context, exec database.Executor, userID shared.ID, clientID string, category domain.BillingCategory) ([]*domain.TimeAllocation, error) {
	query := r.rebind(`
		SELECT` + allocationColumns + `
		FROM time_allocations
		WHERE user_id = ? AND client_id = ? AND billing_category = ?
		ORDER BY id
	`)
	rows, err := exec.Query(ctx, query, userID.String(), clientID, string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TimeAllocation
	for rows.Next() {
		a, err := scanAllocationRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByClient counts allocations referencing a client.
func (r *SQLAllocationRepository) CountByClient(ctx context.Context, exec database.Executor, userID shared.ID, clientID string) (int64, error) {
	query := r.rebind(`SELECT COUNT(*) FROM time_allocations WHERE user_id = ? AND client_id = ?`)
	var n int64
	if err := exec.QueryRow(ctx, query, userID.String(), clientID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanAllocationRow(scan func(dest ...any) error) (*domain.TimeAllocation, error) {
	var (
		a         domain.TimeAllocation
		id        string
		userID    string
		eventID   string
		category  string
		locked    int
		createdAt string
		updatedAt string
	)
	if err := scan(&id, &userID, &eventID, &category, &a.ClientID, &a.Rate, &a.Confidence, &locked, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	a.ID = shared.ID(id)
	a.UserID = shared.ID(userID)
	a.CanonicalEventID = shared.ID(eventID)
	a.BillingCategory = domain.BillingCategory(category)
	a.Locked = locked != 0

	var err error
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for allocation %s: %w", id, err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for allocation %s: %w", id, err)
	}
	return &a, nil
}
