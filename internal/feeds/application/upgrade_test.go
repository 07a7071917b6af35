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
	"github.com/ramxx/tminus/internal/shared/infrastructure/outbox"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/internal/store/domain"
	storepersist "github.com/ramxx/tminus/internal/store/infrastructure/persistence"
)

func newTestStore(t *testing.T) *storeapp.Service {
	t.Helper()
	ctx := context.Background()

	conn, err := sqlite.NewConnection(ctx, database.Config{
		SQLitePath: filepath.Join(t.TempDir(), "feeds_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, migrations.Run(ctx, conn))

	partitions := storeapp.NewPartitionManager(nil, nil)
	t.Cleanup(partitions.Close)

	driver := conn.Driver()
	return storeapp.NewService(storeapp.Deps{
		Conn:        conn,
		Runner:      migrations.NewRunner(),
		Partitions:  partitions,
		Events:      storepersist.NewSQLEventRepository(driver),
		Accounts:    storepersist.NewSQLAccountRepository(driver),
		Constraints: storepersist.NewSQLConstraintRepository(driver),
		Vips:        storepersist.NewSQLVipPolicyRepository(driver),
		Allocations: storepersist.NewSQLAllocationRepository(driver),
		Commitments: storepersist.NewSQLCommitmentRepository(driver),
		Outbox:      outbox.NewSQLRepository(conn),
	})
}

func newFeedService(t *testing.T, store Store) *Service {
	t.Helper()
	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second})
	return NewService(store, fetcher, NewMemoryRefreshGate(), nil, nil)
}

func seedAccount(t *testing.T, store *storeapp.Service, userID shared.ID, provider domain.Provider, subject string) *domain.Account {
	t.Helper()
	var account *domain.Account
	var err error
	if provider == domain.ProviderICSFeed {
		account, err = domain.NewFeedAccount(userID, subject)
	} else {
		account, err = domain.NewAccount(userID, provider, subject, "user@example.com")
		require.NoError(t, err)
		err = account.TransitionTo(domain.AccountStatusActive)
	}
	require.NoError(t, err)
	stored, err := store.UpsertAccount(context.Background(), account)
	require.NoError(t, err)
	return stored
}

var upgradeStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func eventUpsert(uid string, version int64, source domain.EventSource, attendees []domain.Attendee, conference *domain.ConferenceData) storeapp.EventUpsert {
	return storeapp.EventUpsert{
		OriginEventID: uid,
		Version:       version,
		Payload: domain.EventPayload{
			ICalUID:      uid,
			Title:        "Shared meeting",
			Start:        upgradeStart,
			End:          upgradeStart.Add(time.Hour),
			Status:       domain.EventStatusConfirmed,
			Transparency: domain.TransparencyOpaque,
			Source:       source,
			Attendees:    attendees,
			Conference:   conference,
		},
	}
}

func TestUpgradeFeed_MergesByICalUID(t *testing.T) {
	store := newTestStore(t)
	svc := newFeedService(t, store)
	userID := shared.NewID(shared.PrefixUser)

	oauth := seedAccount(t, store, userID, domain.ProviderGoogle, "google-subject")
	ics := seedAccount(t, store, userID, domain.ProviderICSFeed, "https://calendar.google.com/x/basic.ics")

	// Provider row first so the feed ingest does not take it over.
	attendees := []domain.Attendee{{Email: "a@example.com"}, {Email: "b@example.com"}}
	conference := &domain.ConferenceData{URL: "https://hangout.example.com/xyz"}
	_, err := store.ApplyProviderDelta(context.Background(), userID, oauth.ID(), []storeapp.EventUpsert{
		eventUpsert("shared@g", 2, domain.SourceProvider, attendees, conference),
	}, nil)
	require.NoError(t, err)

	_, err = store.ApplyProviderDelta(context.Background(), userID, ics.ID(), []storeapp.EventUpsert{
		eventUpsert("shared@g", 1, domain.SourceICSFeed, nil, nil),
		eventUpsert("orphan@ics", 1, domain.SourceICSFeed, nil, nil),
	}, nil)
	require.NoError(t, err)

	icsEvents, err := store.GetAccountEvents(context.Background(), userID, ics.ID())
	require.NoError(t, err)
	require.Len(t, icsEvents, 2)
	var sharedCanonicalID shared.ID
	for _, ev := range icsEvents {
		if ev.ICalUID == "shared@g" {
			sharedCanonicalID = ev.ID
		}
	}

	result, records, err := svc.UpgradeFeed(context.Background(), userID, ics.ID(), oauth.ID())
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderGoogle, result.DetectedProvider)
	assert.Equal(t, 1, result.MergedCount)
	assert.Equal(t, 0, result.NewCount)
	assert.Equal(t, 1, result.OrphanedCount)
	assert.True(t, result.ICSAccountRemoved)
	assert.True(t, result.OAuthAccountActivated)

	require.Len(t, records, 1)
	assert.Equal(t, "ical_uid", records[0].MatchedBy)
	assert.Equal(t, 1.0, records[0].Confidence)
	assert.Contains(t, records[0].EnrichedFields, "attendees")
	assert.Contains(t, records[0].EnrichedFields, "conference_data")

	// Zero loss: both the merged event and the orphan live on the OAuth
	// account, and the merged row kept its canonical ID.
	merged, err := store.GetAccountEvents(context.Background(), userID, oauth.ID())
	require.NoError(t, err)
	require.Len(t, merged, 2)
	byUID := map[string]*domain.CanonicalEvent{}
	for _, ev := range merged {
		byUID[ev.ICalUID] = ev
	}
	require.Contains(t, byUID, "shared@g")
	require.Contains(t, byUID, "orphan@ics")
	assert.Equal(t, sharedCanonicalID, byUID["shared@g"].ID)
	assert.Len(t, byUID["shared@g"].Attendees, 2)
	require.NotNil(t, byUID["shared@g"].Conference)
	assert.Equal(t, "https://hangout.example.com/xyz", byUID["shared@g"].Conference.URL)

	// The feed account is gone from the feed listing.
	feeds, err := svc.ListFeeds(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestDowngradeAccount_WithFeedURL(t *testing.T) {
	store := newTestStore(t)
	svc := newFeedService(t, store)
	userID := shared.NewID(shared.PrefixUser)

	oauth := seedAccount(t, store, userID, domain.ProviderGoogle, "google-subject")

	var upserts []storeapp.EventUpsert
	for i := 0; i < 50; i++ {
		upserts = append(upserts, storeapp.EventUpsert{
			OriginEventID: "g-" + string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Version:       1,
			Payload: domain.EventPayload{
				ICalUID: "uid-" + string(rune('a'+i%26)) + string(rune('0'+i/26)),
				Title:   "Meeting",
				Start:   upgradeStart.Add(time.Duration(i) * time.Hour),
				End:     upgradeStart.Add(time.Duration(i+1) * time.Hour),
				Status:  domain.EventStatusConfirmed,
				Source:  domain.SourceProvider,
			},
		})
	}
	_, err := store.ApplyProviderDelta(context.Background(), userID, oauth.ID(), upserts, nil)
	require.NoError(t, err)

	result, err := svc.DowngradeAccount(context.Background(), userID, oauth.ID(), "https://calendar.google.com/calendar/ical/x/public/basic.ics")
	require.NoError(t, err)

	assert.Equal(t, 50, result.PreservedEventCount)
	assert.Equal(t, "read_only", result.Mode)
	assert.Empty(t, result.Warning)
	assert.False(t, result.NewFeedAccountID.IsZero())

	// The new feed account carries the snapshot.
	copied, err := store.GetAccountEvents(context.Background(), userID, result.NewFeedAccountID)
	require.NoError(t, err)
	assert.Len(t, copied, 50)
	assert.Equal(t, domain.SourceICSFeed, copied[0].Source)

	// The OAuth account is downgraded but intact.
	account, err := store.GetAccount(context.Background(), userID, oauth.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusDowngraded, account.Status())
}

func TestDowngradeAccount_WithoutFeedURLWarns(t *testing.T) {
	store := newTestStore(t)
	svc := newFeedService(t, store)
	userID := shared.NewID(shared.PrefixUser)

	oauth := seedAccount(t, store, userID, domain.ProviderGoogle, "google-subject")

	result, err := svc.DowngradeAccount(context.Background(), userID, oauth.ID(), "")
	require.NoError(t, err)

	assert.Contains(t, result.Warning, "refresh")
	assert.Equal(t, "read_only", result.Mode)
	assert.True(t, result.NewFeedAccountID.IsZero())

	account, err := store.GetAccount(context.Background(), userID, oauth.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusDowngraded, account.Status())
}

func TestDetectProviderFromFeedURL(t *testing.T) {
	assert.Equal(t, domain.ProviderGoogle, DetectProviderFromFeedURL("https://calendar.google.com/calendar/ical/x/basic.ics"))
	assert.Equal(t, domain.ProviderMicrosoft, DetectProviderFromFeedURL("https://outlook.office365.com/owa/calendar/x/reachcalendar.ics"))
	assert.Equal(t, domain.ProviderCalDAV, DetectProviderFromFeedURL("https://p123-caldav.icloud.com/published/2/x"))
	assert.Equal(t, domain.Provider(""), DetectProviderFromFeedURL("https://example.com/cal.ics"))
}
