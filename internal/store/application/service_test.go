package application

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database/sqlite"
	"github.com/ramxx/tminus/internal/shared/infrastructure/migrations"
	"github.com/ramxx/tminus/internal/shared/infrastructure/outbox"
	"github.com/ramxx/tminus/internal/store/domain"
	"github.com/ramxx/tminus/internal/store/infrastructure/persistence"
)

// newTestStore builds a store service over a throwaway SQLite database.
func newTestStore(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()

	conn, err := sqlite.NewConnection(ctx, database.Config{
		SQLitePath: filepath.Join(t.TempDir(), "store_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, migrations.Run(ctx, conn))

	partitions := NewPartitionManager(nil, nil)
	t.Cleanup(partitions.Close)

	driver := conn.Driver()
	return NewService(Deps{
		Conn:        conn,
		Runner:      migrations.NewRunner(),
		Partitions:  partitions,
		Events:      persistence.NewSQLEventRepository(driver),
		Accounts:    persistence.NewSQLAccountRepository(driver),
		Constraints: persistence.NewSQLConstraintRepository(driver),
		Vips:        persistence.NewSQLVipPolicyRepository(driver),
		Allocations: persistence.NewSQLAllocationRepository(driver),
		Commitments: persistence.NewSQLCommitmentRepository(driver),
		Outbox:      outbox.NewSQLRepository(conn),
	})
}

func newTestAccount(t *testing.T, svc *Service, userID shared.ID, provider domain.Provider) *domain.Account {
	t.Helper()
	var account *domain.Account
	var err error
	if provider == domain.ProviderICSFeed {
		account, err = domain.NewFeedAccount(userID, "https://calendar.example.com/"+string(userID)+"/basic.ics")
	} else {
		account, err = domain.NewAccount(userID, provider, "subject-"+string(userID)+"-"+string(provider), "user@example.com")
	}
	require.NoError(t, err)
	if provider != domain.ProviderICSFeed {
		require.NoError(t, account.TransitionTo(domain.AccountStatusActive))
	}
	stored, err := svc.UpsertAccount(context.Background(), account)
	require.NoError(t, err)
	return stored
}

func payload(title string, start time.Time, source domain.EventSource) domain.EventPayload {
	return domain.EventPayload{
		Title:        title,
		Start:        start,
		End:          start.Add(time.Hour),
		Status:       domain.EventStatusConfirmed,
		Transparency: domain.TransparencyOpaque,
		Source:       source,
	}
}
