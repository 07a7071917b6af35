package application

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database/sqlite"
	"github.com/ramxx/tminus/internal/shared/infrastructure/migrations"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	store "github.com/ramxx/tminus/internal/store/domain"

	"github.com/ramxx/tminus/internal/onboarding/domain"
	"github.com/ramxx/tminus/internal/onboarding/infrastructure/persistence"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()

	conn, err := sqlite.NewConnection(ctx, database.Config{
		SQLitePath: filepath.Join(t.TempDir(), "onboarding_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, migrations.Run(ctx, conn))

	partitions := storeapp.NewPartitionManager(nil, nil)
	t.Cleanup(partitions.Close)

	return NewService(conn, migrations.NewRunner(), partitions,
		persistence.NewSQLSessionRepository(conn.Driver()), 30*24*time.Hour, nil)
}

func sessionAccount(id string) domain.SessionAccount {
	return domain.SessionAccount{
		AccountID: shared.ID(id),
		Provider:  store.ProviderGoogle,
		Email:     "user@example.com",
		Status:    domain.AccountConnecting,
	}
}

func TestCreateSession_RejectsSecondActive(t *testing.T) {
	svc := newTestService(t)
	userID := shared.NewID(shared.PrefixUser)

	first, err := svc.CreateSession(context.Background(), userID, false)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = svc.CreateSession(context.Background(), userID, false)
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
	assert.Equal(t, "session_exists", shared.CodeOf(err))

	// replace=true discards the stale session.
	replacement, err := svc.CreateSession(context.Background(), userID, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), replacement.ID())
	assert.NotEqual(t, first.Token(), replacement.Token())
}

func TestGetSession_NilWhenAbsent(t *testing.T) {
	svc := newTestService(t)
	session, err := svc.GetSession(context.Background(), shared.NewID(shared.PrefixUser))
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestAddAccount_PersistsIdempotently(t *testing.T) {
	svc := newTestService(t)
	userID := shared.NewID(shared.PrefixUser)

	_, err := svc.CreateSession(context.Background(), userID, false)
	require.NoError(t, err)

	_, err = svc.AddAccount(context.Background(), userID, sessionAccount("acc_1"))
	require.NoError(t, err)

	updated := sessionAccount("acc_1")
	updated.Status = domain.AccountSynced
	updated.CalendarCount = 4
	session, err := svc.AddAccount(context.Background(), userID, updated)
	require.NoError(t, err)

	accounts := session.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, domain.AccountSynced, accounts[0].Status)
	assert.Equal(t, 4, accounts[0].CalendarCount)

	// The persisted state matches what the call returned.
	reloaded, err := svc.GetSession(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, reloaded.Accounts(), 1)
	assert.Equal(t, domain.AccountSynced, reloaded.Accounts()[0].Status)
}

func TestUpdateAccountStatus(t *testing.T) {
	svc := newTestService(t)
	userID := shared.NewID(shared.PrefixUser)

	_, err := svc.CreateSession(context.Background(), userID, false)
	require.NoError(t, err)
	_, err = svc.AddAccount(context.Background(), userID, sessionAccount("acc_1"))
	require.NoError(t, err)

	count := 7
	session, err := svc.UpdateAccountStatus(context.Background(), userID, "acc_1", domain.AccountConnected, &count)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountConnected, session.Accounts()[0].Status)
	assert.Equal(t, 7, session.Accounts()[0].CalendarCount)

	// Unknown accounts no-op silently.
	session, err = svc.UpdateAccountStatus(context.Background(), userID, "acc_ghost", domain.AccountError, nil)
	require.NoError(t, err)
	assert.Len(t, session.Accounts(), 1)
}

func TestCompleteSession_IdempotentAndTerminal(t *testing.T) {
	svc := newTestService(t)
	userID := shared.NewID(shared.PrefixUser)

	_, err := svc.CreateSession(context.Background(), userID, false)
	require.NoError(t, err)
	_, err = svc.AddAccount(context.Background(), userID, sessionAccount("acc_1"))
	require.NoError(t, err)

	completed, err := svc.CompleteSession(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, completed.IsComplete())
	require.NotNil(t, completed.CompletedAt())

	// A second complete returns the same terminal session.
	again, err := svc.CompleteSession(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, completed.ID(), again.ID())

	// Adds after completion are rejected: the active session is gone.
	_, err = svc.AddAccount(context.Background(), userID, sessionAccount("acc_2"))
	require.Error(t, err)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))

	// A fresh session can start without replace once complete.
	_, err = svc.CreateSession(context.Background(), userID, false)
	require.NoError(t, err)
}

func TestGetSessionByToken_Resume(t *testing.T) {
	svc := newTestService(t)
	userID := shared.NewID(shared.PrefixUser)

	created, err := svc.CreateSession(context.Background(), userID, false)
	require.NoError(t, err)
	_, err = svc.AddAccount(context.Background(), userID, sessionAccount("acc_1"))
	require.NoError(t, err)

	resumed, err := svc.GetSessionByToken(context.Background(), created.Token())
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, created.ID(), resumed.ID())
	assert.Len(t, resumed.Accounts(), 1)

	missing, err := svc.GetSessionByToken(context.Background(), "not-a-token")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
