package application

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/internal/store/domain"
)

// feedServer serves a mutable ICS body with ETag support.
type feedServer struct {
	status int32
	body   atomic.Value // string
	etag   atomic.Value // string
	hits   atomic.Int64
}

func newFeedServer(body string) (*feedServer, *httptest.Server) {
	fs := &feedServer{}
	fs.status = 200
	fs.body.Store(body)
	fs.etag.Store(`"v1"`)
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		status := int(atomic.LoadInt32(&fs.status))
		if status != 200 {
			w.WriteHeader(status)
			return
		}
		etag := fs.etag.Load().(string)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(fs.body.Load().(string)))
	}))
	return fs, server
}

// testFetcher trusts the test server's certificate.
func testFetcher(server *httptest.Server) *Fetcher {
	fetcher := NewFetcher(FetcherConfig{Timeout: 5 * time.Second, RatePerSecond: 1000, Burst: 1000})
	fetcher.client = server.Client()
	return fetcher
}

const feedBodyV1 = `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:A
DTSTART:20260302T090000Z
DTEND:20260302T100000Z
SUMMARY:Event A
SEQUENCE:0
END:VEVENT
BEGIN:VEVENT
UID:B
DTSTART:20260302T110000Z
DTEND:20260302T120000Z
SUMMARY:Event B
SEQUENCE:0
END:VEVENT
BEGIN:VEVENT
UID:C
DTSTART:20260302T130000Z
DTEND:20260302T140000Z
SUMMARY:Event C
SEQUENCE:0
END:VEVENT
END:VCALENDAR
`

const feedBodyV2 = `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:A
DTSTART:20260302T093000Z
DTEND:20260302T103000Z
SUMMARY:Event A moved
SEQUENCE:2
END:VEVENT
BEGIN:VEVENT
UID:C
DTSTART:20260302T130000Z
DTEND:20260302T140000Z
SUMMARY:Event C
SEQUENCE:0
END:VEVENT
BEGIN:VEVENT
UID:D
DTSTART:20260302T150000Z
DTEND:20260302T160000Z
SUMMARY:Event D
SEQUENCE:0
END:VEVENT
END:VCALENDAR
`

// attachFeed adds a feed through the service against the test server.
func attachFeed(t *testing.T, store *storeapp.Service, server *httptest.Server) (*Service, shared.ID, shared.ID) {
	t.Helper()
	svc := NewService(store, testFetcher(server), NewMemoryRefreshGate(), nil, nil)
	userID := shared.NewID(shared.PrefixUser)

	result, err := svc.AddFeed(context.Background(), userID, server.URL+"/basic.ics")
	require.NoError(t, err)
	return svc, userID, result.AccountID
}

// rewindLastRefresh pushes feed_last_refresh_at into the past so the next
// refresh clears the rate limit.
func rewindLastRefresh(t *testing.T, store *storeapp.Service, userID, accountID shared.ID, by time.Duration) {
	t.Helper()
	account, err := store.GetAccount(context.Background(), userID, accountID)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-by)
	require.NoError(t, account.RecordRefreshAttempt(past, true))
	require.NoError(t, store.SaveAccount(context.Background(), account))
}

func TestAddFeed_ImportsEvents(t *testing.T) {
	store := newTestStore(t)
	_, server := newFeedServer(feedBodyV1)
	defer server.Close()

	svc, userID, accountID := attachFeed(t, store, server)

	events, err := store.GetAccountEvents(context.Background(), userID, accountID)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	feeds, err := svc.ListFeeds(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, domain.ProviderICSFeed, feeds[0].Provider())
}

func TestAddFeed_RejectsNonHTTPS(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, NewFetcher(FetcherConfig{}), NewMemoryRefreshGate(), nil, nil)

	_, err := svc.AddFeed(context.Background(), shared.NewID(shared.PrefixUser), "http://example.com/basic.ics")
	require.Error(t, err)
	assert.Equal(t, shared.KindInvalidArgument, shared.KindOf(err))
}

func TestRefreshFeed_RateLimitedWithinWindow(t *testing.T) {
	store := newTestStore(t)
	fs, server := newFeedServer(feedBodyV1)
	defer server.Close()

	svc, userID, accountID := attachFeed(t, store, server)
	hitsAfterAttach := fs.hits.Load()

	// Immediately after the attach, the window is closed.
	result, err := svc.RefreshFeed(context.Background(), userID, accountID)
	require.NoError(t, err)
	assert.Equal(t, ClassificationRateLimited, result.Classification)
	assert.True(t, result.Retryable)
	assert.Equal(t, hitsAfterAttach, fs.hits.Load(), "no network call inside the window")
}

func TestRefreshFeed_NotModified(t *testing.T) {
	store := newTestStore(t)
	_, server := newFeedServer(feedBodyV1)
	defer server.Close()

	svc, userID, accountID := attachFeed(t, store, server)
	rewindLastRefresh(t, store, userID, accountID, 10*time.Minute)

	result, err := svc.RefreshFeed(context.Background(), userID, accountID)
	require.NoError(t, err)
	assert.Equal(t, ClassificationUnchanged, result.Classification)

	// Failure counter stays at zero after a 304.
	account, err := store.GetAccount(context.Background(), userID, accountID)
	require.NoError(t, err)
	assert.Equal(t, 0, account.Feed().ConsecutiveFailures)
}

func TestRefreshFeed_ChangeDetection(t *testing.T) {
	store := newTestStore(t)
	fs, server := newFeedServer(feedBodyV1)
	defer server.Close()

	svc, userID, accountID := attachFeed(t, store, server)
	rewindLastRefresh(t, store, userID, accountID, 10*time.Minute)

	fs.body.Store(feedBodyV2)
	fs.etag.Store(`"v2"`)

	result, err := svc.RefreshFeed(context.Background(), userID, accountID)
	require.NoError(t, err)

	assert.Equal(t, ClassificationChanged, result.Classification)
	assert.Equal(t, 1, result.Added)    // D
	assert.Equal(t, 1, result.Modified) // A at SEQUENCE=2
	assert.Equal(t, 1, result.Deleted)  // B

	events, err := store.GetAccountEvents(context.Background(), userID, accountID)
	require.NoError(t, err)
	byUID := map[string]*domain.CanonicalEvent{}
	for _, ev := range events {
		byUID[ev.OriginEventID] = ev
	}
	assert.Equal(t, "Event A moved", byUID["A"].Title)
	assert.Equal(t, int64(3), byUID["A"].Version)
	assert.True(t, byUID["B"].IsCancelled())
	assert.Equal(t, "Event D", byUID["D"].Title)
}

func TestRefreshFeed_DeadFeed(t *testing.T) {
	store := newTestStore(t)
	fs, server := newFeedServer(feedBodyV1)
	defer server.Close()

	svc, userID, accountID := attachFeed(t, store, server)
	rewindLastRefresh(t, store, userID, accountID, 10*time.Minute)

	atomic.StoreInt32(&fs.status, http.StatusGone)

	result, err := svc.RefreshFeed(context.Background(), userID, accountID)
	require.NoError(t, err)
	assert.Equal(t, ClassificationDead, result.Classification)
	assert.False(t, result.Retryable)
	assert.True(t, result.UserActionRequired)

	account, err := store.GetAccount(context.Background(), userID, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, account.Feed().ConsecutiveFailures)
}

func TestFeedHealth_Classification(t *testing.T) {
	store := newTestStore(t)
	_, server := newFeedServer(feedBodyV1)
	defer server.Close()

	svc, userID, accountID := attachFeed(t, store, server)

	health, err := svc.FeedHealth(context.Background(), userID, accountID)
	require.NoError(t, err)
	assert.Equal(t, domain.StalenessFresh, health.Staleness)
	assert.False(t, health.IsDead)
	require.NotNil(t, health.LastRefreshAt)
	assert.Equal(t, int64(15*60*1000), health.RefreshIntervalMs)

	// A day without a successful refresh reads as dead.
	rewindLastRefresh(t, store, userID, accountID, 25*time.Hour)
	health, err = svc.FeedHealth(context.Background(), userID, accountID)
	require.NoError(t, err)
	assert.Equal(t, domain.StalenessDead, health.Staleness)
	assert.True(t, health.IsDead)
}

func TestRefreshFeed_UnknownAccount(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, NewFetcher(FetcherConfig{}), NewMemoryRefreshGate(), nil, nil)

	_, err := svc.RefreshFeed(context.Background(), shared.NewID(shared.PrefixUser), shared.NewID(shared.PrefixAccount))
	require.Error(t, err)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestFetcher_SendsConditionalHeaders(t *testing.T) {
	var gotETag, gotModified, gotAccept string
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotETag = r.Header.Get("If-None-Match")
		gotModified = r.Header.Get("If-Modified-Since")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	fetcher := testFetcher(server)
	result, err := fetcher.Fetch(context.Background(), server.URL, `"tag"`, "Mon, 02 Mar 2026 09:00:00 GMT")
	require.NoError(t, err)

	assert.Equal(t, 304, result.StatusCode)
	assert.Equal(t, `"tag"`, gotETag)
	assert.Equal(t, "Mon, 02 Mar 2026 09:00:00 GMT", gotModified)
	assert.True(t, strings.HasPrefix(gotAccept, "text/calendar"))
}

func icsBody(uids ...string) string {
	body := "BEGIN:VCALENDAR\nVERSION:2.0\n"
	for i, uid := range uids {
		hour := 9 + i
		body += "BEGIN:VEVENT\nUID:" + uid + "\n"
		body += fmt.Sprintf("DTSTART:20260302T%02d0000Z\n", hour)
		body += fmt.Sprintf("DTEND:20260302T%02d0000Z\n", hour+1)
		body += "SUMMARY:Meeting " + uid + "\nSEQUENCE:0\nEND:VEVENT\n"
	}
	return body + "END:VCALENDAR\n"
}

func TestAddFeed_ThreeFeedsZeroAuth(t *testing.T) {
	store := newTestStore(t)
	userID := shared.NewID(shared.PrefixUser)

	bodies := []string{
		icsBody("g1@google", "g2@google", "g3@google"),
		icsBody("o1@outlook", "o2@outlook"),
		icsBody("a1@icloud", "a2@icloud"),
	}
	expected := []int{3, 2, 2}

	var svc *Service
	for i, body := range bodies {
		_, server := newFeedServer(body)
		defer server.Close()

		svc = NewService(store, testFetcher(server), NewMemoryRefreshGate(), nil, nil)
		result, err := svc.AddFeed(context.Background(), userID, server.URL+"/basic.ics")
		require.NoError(t, err)
		assert.Equal(t, expected[i], result.EventsImported)
	}

	feeds, err := svc.ListFeeds(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, feeds, 3)
	for _, f := range feeds {
		assert.Equal(t, domain.ProviderICSFeed, f.Provider())
	}

	page, err := store.ListCanonicalEvents(context.Background(), userID,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 7)
}
