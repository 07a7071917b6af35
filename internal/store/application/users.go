package application

import (
	"context"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// ActiveUserIDs returns the distinct users that own at least one account.
// This is a cross-partition read used only by background sweeps; it takes
// no locks and reads committed rows.
func (s *Service) ActiveUserIDs(ctx context.Context) ([]shared.ID, error) {
	if err := s.runner.Ensure(ctx, s.conn); err != nil {
		return nil, shared.Wrap(shared.KindInternal, "schema_migration_failed", err)
	}
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []shared.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, shared.ID(id))
	}
	return out, rows.Err()
}
