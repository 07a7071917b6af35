package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/store/domain"
)

var deltaStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestApplyProviderDelta_UnknownAccount(t *testing.T) {
	svc := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)

	_, err := svc.ApplyProviderDelta(context.Background(), userID, shared.NewID(shared.PrefixAccount), nil, nil)
	require.Error(t, err)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestApplyProviderDelta_InsertAndUpdate(t *testing.T) {
	svc := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)
	account := newTestAccount(t, svc, userID, domain.ProviderGoogle)

	result, err := svc.ApplyProviderDelta(context.Background(), userID, account.ID(), []EventUpsert{
		{OriginEventID: "ev-1", Version: 1, Payload: payload("Sprint standup", deltaStart, domain.SourceProvider)},
		{OriginEventID: "ev-2", Version: 1, Payload: payload("Client demo", deltaStart.Add(time.Hour), domain.SourceProvider)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)

	// A later version overwrites the body.
	result, err = svc.ApplyProviderDelta(context.Background(), userID, account.ID(), []EventUpsert{
		{OriginEventID: "ev-1", Version: 2, Payload: payload("Sprint standup (moved)", deltaStart.Add(2*time.Hour), domain.SourceProvider)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)

	events, err := svc.GetAccountEvents(context.Background(), userID, account.ID())
	require.NoError(t, err)
	require.Len(t, events, 2)

	byOrigin := map[string]*domain.CanonicalEvent{}
	for _, ev := range events {
		byOrigin[ev.OriginEventID] = ev
	}
	assert.Equal(t, "Sprint standup (moved)", byOrigin["ev-1"].Title)
	assert.Equal(t, int64(2), byOrigin["ev-1"].Version)
}

func TestApplyProviderDelta_IdempotentReplay(t *testing.T) {
	svc := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)
	account := newTestAccount(t, svc, userID, domain.ProviderGoogle)

	upserts := []EventUpsert{
		{OriginEventID: "ev-1", Version: 3, Payload: payload("Planning", deltaStart, domain.SourceProvider)},
	}
	_, err := svc.ApplyProviderDelta(context.Background(), userID, account.ID(), upserts, nil)
	require.NoError(t, err)
	_, err = svc.ApplyProviderDelta(context.Background(), userID, account.ID(), upserts, nil)
	require.NoError(t, err)

	// Exactly one row per (account, origin) regardless of replays.
	events, err := svc.GetAccountEvents(context.Background(), userID, account.ID())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].Version)
}

func TestApplyProviderDelta_OutOfOrderDropped(t *testing.T) {
	svc := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)
	account := newTestAccount(t, svc, userID, domain.ProviderGoogle)

	_, err := svc.ApplyProviderDelta(context.Background(), userID, account.ID(), []EventUpsert{
		{OriginEventID: "ev-1", Version: 5, Payload: payload("Current title", deltaStart, domain.SourceProvider)},
	}, nil)
	require.NoError(t, err)

	// A stale version must not regress the stored body or version.
	result, err := svc.ApplyProviderDelta(context.Background(), userID, account.ID(), []EventUpsert{
		{OriginEventID: "ev-1", Version: 2, Payload: payload("Stale title", deltaStart, domain.SourceProvider)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Updated)

	events, err := svc.GetAccountEvents(context.Background(), userID, account.ID())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Current title", events[0].Title)
	assert.Equal(t, int64(5), events[0].Version)
}

func TestApplyProviderDelta_EnrichmentOnlyMergeKeepsVersion(t *testing.T) {
	svc := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)
	account := newTestAccount(t, svc, userID, domain.ProviderGoogle)

	_, err := svc.ApplyProviderDelta(context.Background(), userID, account.ID(), []EventUpsert{
		{OriginEventID: "ev-1", Version: 5, Payload: payload("Current title", deltaStart, domain.SourceProvider)},
	}, nil)
	require.NoError(t, err)

	// Stale version, but it carries attendees the stored row lacks.
	enriched := payload("Stale title", deltaStart, domain.SourceProvider)
	enriched.Attendees = []domain.Attendee{{Email: "a@example.com"}, {Email: "b@example.com"}}
	result, err := svc.ApplyProviderDelta(context.Background(), userID, account.ID(), []EventUpsert{
		{OriginEventID: "ev-1", Version: 2, Payload: enriched},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	events, err := svc.GetAccountEvents(context.Background(), userID, account.ID())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Current title", events[0].Title, "stale body must not land")
	assert.Equal(t, int64(5), events[0].Version, "enrichment must not bump the version")
	assert.Len(t, events[0].Attendees, 2)
}

func TestApplyProviderDelta_DeleteCancelsInPlace(t *testing.T) {
	svc := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)
	account := newTestAccount(t, svc, userID, domain.ProviderGoogle)

	_, err := svc.ApplyProviderDelta(context.Background(), userID, account.ID(), []EventUpsert{
		{OriginEventID: "ev-1", Version: 1, Payload: payload("Doomed", deltaStart, domain.SourceProvider)},
	}, nil)
	require.NoError(t, err)

	result, err := svc.ApplyProviderDelta(context.Background(), userID, account.ID(), nil, []string{"ev-1", "ev-missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	// The row survives as a blanked cancellation.
	events, err := svc.GetAccountEvents(context.Background(), userID, account.ID())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsCancelled())
	assert.Empty(t, events[0].Title)

	// Cancelled tombstones with no body never surface in range listings.
	page, err := svc.ListCanonicalEvents(context.Background(), userID, deltaStart.Add(-time.Hour), deltaStart.Add(24*time.Hour), "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestApplyProviderDelta_ProviderTakesOverFeedRowByICalUID(t *testing.T) {
	svc := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)
	feedAccount := newTestAccount(t, svc, userID, domain.ProviderICSFeed)
	oauthAccount := newTestAccount(t, svc, userID, domain.ProviderGoogle)

	feedPayload := payload("Shared meeting", deltaStart, domain.SourceICSFeed)
	feedPayload.ICalUID = "shared@g"
	feedPayload.Attendees = []domain.Attendee{{Email: "ics@example.com"}}
	_, err := svc.ApplyProviderDelta(context.Background(), userID, feedAccount.ID(), []EventUpsert{
		{OriginEventID: "shared@g", Version: 1, Payload: feedPayload},
	}, nil)
	require.NoError(t, err)

	feedEvents, err := svc.GetAccountEvents(context.Background(), userID, feedAccount.ID())
	require.NoError(t, err)
	require.Len(t, feedEvents, 1)
	canonicalID := feedEvents[0].ID

	providerUpsert := payload("Shared meeting", deltaStart, domain.SourceProvider)
	providerUpsert.ICalUID = "shared@g"
	result, err := svc.ApplyProviderDelta(context.Background(), userID, oauthAccount.ID(), []EventUpsert{
		{OriginEventID: "g-origin-1", Version: 2, Payload: providerUpsert},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)

	// The row moved to the provider account, canonical ID intact,
	// feed enrichment preserved.
	oauthEvents, err := svc.GetAccountEvents(context.Background(), userID, oauthAccount.ID())
	require.NoError(t, err)
	require.Len(t, oauthEvents, 1)
	assert.Equal(t, canonicalID, oauthEvents[0].ID)
	assert.Equal(t, domain.SourceProvider, oauthEvents[0].Source)
	assert.Len(t, oauthEvents[0].Attendees, 1)

	feedEvents, err = svc.GetAccountEvents(context.Background(), userID, feedAccount.ID())
	require.NoError(t, err)
	assert.Empty(t, feedEvents)
}

func TestApplyProviderDelta_MirrorFanOutToWriteCapableAccounts(t *testing.T) {
	svc := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)
	origin := newTestAccount(t, svc, userID, domain.ProviderGoogle)

	mirrorTarget := newTestAccount(t, svc, userID, domain.ProviderCalDAV)
	mirrorTarget.SetWriteCapable(true)
	require.NoError(t, svc.SaveAccount(context.Background(), mirrorTarget))

	result, err := svc.ApplyProviderDelta(context.Background(), userID, origin.ID(), []EventUpsert{
		{OriginEventID: "ev-1", Version: 1, Payload: payload("Mirrored", deltaStart, domain.SourceProvider)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.MirrorsEnqueued)
	assert.Empty(t, result.Errors)
}

func TestApplyProviderDelta_EmptyOriginIDRecorded(t *testing.T) {
	svc := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)
	account := newTestAccount(t, svc, userID, domain.ProviderGoogle)

	result, err := svc.ApplyProviderDelta(context.Background(), userID, account.ID(), []EventUpsert{
		{OriginEventID: "", Version: 1, Payload: payload("No identity", deltaStart, domain.SourceProvider)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Len(t, result.Errors, 1)
}
