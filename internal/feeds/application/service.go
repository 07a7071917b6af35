package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/internal/store/domain"
	"github.com/ramxx/tminus/pkg/observability"
)

// MinRefreshInterval is the floor between two refreshes of one feed.
const MinRefreshInterval = 5 * time.Minute

// Store is the slice of the canonical store the feed subsystem uses.
type Store interface {
	UpsertAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	SaveAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, userID, accountID shared.ID) (*domain.Account, error)
	ListAccounts(ctx context.Context, userID shared.ID) ([]*domain.Account, error)
	GetAccountEvents(ctx context.Context, userID, accountID shared.ID) ([]*domain.CanonicalEvent, error)
	ApplyProviderDelta(ctx context.Context, userID, accountID shared.ID, upserts []storeapp.EventUpsert, deletes []string) (*storeapp.DeltaResult, error)
	ExecuteUpgrade(ctx context.Context, userID shared.ID, exec storeapp.UpgradeExecution) error
	ExecuteDowngrade(ctx context.Context, userID, oauthAccountID shared.ID, feedAccount *domain.Account, snapshot []*domain.CanonicalEvent) error
}

// Service implements feed attach, refresh, health, and lifecycle.
type Service struct {
	store   Store
	fetcher *Fetcher
	gate    RefreshGate
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService creates the feed service.
func NewService(store Store, fetcher *Fetcher, gate RefreshGate, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = NewMemoryRefreshGate()
	}
	return &Service{
		store:   store,
		fetcher: fetcher,
		gate:    gate,
		metrics: metrics,
		logger:  logger,
	}
}

// AttachResult is the outcome of AddFeed.
type AttachResult struct {
	AccountID      shared.ID `json:"account_id"`
	EventsImported int       `json:"events_imported"`
}

// AddFeed validates the URL, creates the feed account, performs the first
// fetch, and imports the events. No credentials are involved anywhere.
func (s *Service) AddFeed(ctx context.Context, userID shared.ID, rawURL string) (*AttachResult, error) {
	feedURL, err := ValidateFeedURL(rawURL)
	if err != nil {
		return nil, shared.Wrap(shared.KindInvalidArgument, "invalid_feed_url", err)
	}

	account, err := domain.NewFeedAccount(userID, feedURL)
	if err != nil {
		return nil, shared.Wrap(shared.KindInvalidArgument, "invalid_account", err)
	}
	account, err = s.store.UpsertAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	result, err := s.fetcher.Fetch(ctx, feedURL, "", "")
	if err != nil {
		return nil, shared.Wrap(shared.KindInvalidArgument, "feed_fetch_failed", err)
	}
	if result.StatusCode != 200 {
		class := ClassifyStatus(result.StatusCode)
		_ = account.RecordRefreshAttempt(time.Now().UTC(), false)
		_ = s.store.SaveAccount(ctx, account)
		s.countRefresh(class.Classification)
		return nil, shared.Ef(kindForClass(class), "feed_"+string(class.Classification), "feed fetch returned status %d", result.StatusCode)
	}

	events, err := ParseCalendar(bytes.NewReader(result.Body))
	if err != nil {
		_ = account.RecordRefreshAttempt(time.Now().UTC(), false)
		_ = s.store.SaveAccount(ctx, account)
		return nil, shared.Wrap(shared.KindInvalidArgument, "feed_parse_failed", err)
	}

	upserts := make([]storeapp.EventUpsert, 0, len(events))
	for _, ev := range events {
		upserts = append(upserts, storeapp.EventUpsert{
			OriginEventID: ev.UID,
			Version:       ev.Version(),
			Payload:       ev.Payload(),
		})
	}
	delta, err := s.store.ApplyProviderDelta(ctx, userID, account.ID(), upserts, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_ = account.SetFeedValidators(result.ETag, result.LastModified, hashBody(result.Body))
	_ = account.RecordRefreshAttempt(now, true)
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	s.countRefresh(ClassificationChanged)

	return &AttachResult{
		AccountID:      account.ID(),
		EventsImported: delta.Created + delta.Updated,
	}, nil
}

// RefreshResult is the outcome of one refresh.
type RefreshResult struct {
	Classification     Classification `json:"classification"`
	Added              int            `json:"added"`
	Modified           int            `json:"modified"`
	Deleted            int            `json:"deleted"`
	Retryable          bool           `json:"retryable"`
	UserActionRequired bool           `json:"user_action_required"`
}

// RefreshFeed performs one conditional refresh with change detection.
// Calls within the 5-minute window return a retryable rate_limited result
// without touching the network.
func (s *Service) RefreshFeed(ctx context.Context, userID, accountID shared.ID) (*RefreshResult, error) {
	account, err := s.store.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, shared.ErrUnknownAccount
	}
	if !account.IsFeed() {
		return nil, shared.E(shared.KindInvalidArgument, "not_a_feed", "account is not an ICS feed")
	}

	now := time.Now().UTC()
	feed := account.Feed()
	if feed.LastRefreshAt != nil && now.Sub(*feed.LastRefreshAt) < MinRefreshInterval {
		return &RefreshResult{Classification: ClassificationRateLimited, Retryable: true}, nil
	}
	ok, err := s.gate.TryAcquire(ctx, accountID, MinRefreshInterval)
	if err != nil {
		// The gate is advisory; a broken gate must not stop refreshes.
		s.logger.Warn("refresh gate unavailable", "error", err)
	} else if !ok {
		return &RefreshResult{Classification: ClassificationRateLimited, Retryable: true}, nil
	}

	fetched, err := s.fetcher.Fetch(ctx, account.FeedURL(), feed.ETag, feed.LastModified)
	if err != nil {
		return nil, shared.Wrap(shared.KindInternal, "feed_fetch_failed", err)
	}

	switch {
	case fetched.StatusCode == 304:
		_ = account.RecordRefreshAttempt(now, true)
		if err := s.store.SaveAccount(ctx, account); err != nil {
			return nil, err
		}
		s.countRefresh(ClassificationUnchanged)
		return &RefreshResult{Classification: ClassificationUnchanged}, nil

	case fetched.StatusCode == 200:
		return s.applyFetchedBody(ctx, account, fetched, now)

	default:
		class := ClassifyStatus(fetched.StatusCode)
		_ = account.RecordRefreshAttempt(now, false)
		if err := s.store.SaveAccount(ctx, account); err != nil {
			return nil, err
		}
		s.countRefresh(class.Classification)
		return &RefreshResult{
			Classification:     class.Classification,
			Retryable:          class.Retryable,
			UserActionRequired: class.UserActionRequired,
		}, nil
	}
}

func (s *Service) applyFetchedBody(ctx context.Context, account *domain.Account, fetched *FetchResult, now time.Time) (*RefreshResult, error) {
	userID := account.UserID()
	newHash := hashBody(fetched.Body)

	if newHash == account.Feed().ContentHash {
		_ = account.SetFeedValidators(fetched.ETag, fetched.LastModified, newHash)
		_ = account.RecordRefreshAttempt(now, true)
		if err := s.store.SaveAccount(ctx, account); err != nil {
			return nil, err
		}
		s.countRefresh(ClassificationUnchanged)
		return &RefreshResult{Classification: ClassificationUnchanged}, nil
	}

	parsed, err := ParseCalendar(bytes.NewReader(fetched.Body))
	if err != nil {
		_ = account.RecordRefreshAttempt(now, false)
		_ = s.store.SaveAccount(ctx, account)
		return nil, shared.Wrap(shared.KindInvalidArgument, "feed_parse_failed", err)
	}

	existing, err := s.store.GetAccountEvents(ctx, userID, account.ID())
	if err != nil {
		return nil, err
	}

	diff := DiffEvents(existing, parsed)

	upserts := make([]storeapp.EventUpsert, 0, len(diff.Added)+len(diff.Modified))
	for _, ev := range append(diff.Added, diff.Modified...) {
		upserts = append(upserts, storeapp.EventUpsert{
			OriginEventID: ev.UID,
			Version:       ev.Version(),
			Payload:       ev.Payload(),
		})
	}
	if _, err := s.store.ApplyProviderDelta(ctx, userID, account.ID(), upserts, diff.Deleted); err != nil {
		return nil, err
	}

	_ = account.SetFeedValidators(fetched.ETag, fetched.LastModified, newHash)
	_ = account.RecordRefreshAttempt(now, true)
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	s.countRefresh(ClassificationChanged)

	return &RefreshResult{
		Classification: ClassificationChanged,
		Added:          len(diff.Added),
		Modified:       len(diff.Modified),
		Deleted:        len(diff.Deleted),
	}, nil
}

// FeedDiff is a per-UID comparison of stored events against a parsed feed.
type FeedDiff struct {
	Added    []ParsedEvent
	Modified []ParsedEvent
	Deleted  []string
}

// DiffEvents computes the per-UID diff. Modified means a higher SEQUENCE
// or a changed body at the same SEQUENCE. Stored events missing from the
// feed are deletions.
func DiffEvents(existing []*domain.CanonicalEvent, parsed []ParsedEvent) FeedDiff {
	current := make(map[string]*domain.CanonicalEvent, len(existing))
	for _, ev := range existing {
		current[ev.OriginEventID] = ev
	}

	var diff FeedDiff
	seen := make(map[string]bool, len(parsed))
	for _, ev := range parsed {
		seen[ev.UID] = true
		stored, ok := current[ev.UID]
		if !ok {
			diff.Added = append(diff.Added, ev)
			continue
		}
		if stored.IsCancelled() {
			// A cancelled row coming back in the feed is a re-add.
			diff.Modified = append(diff.Modified, ev)
			continue
		}
		if ev.Version() > stored.Version || bodyChanged(stored, ev) {
			diff.Modified = append(diff.Modified, ev)
		}
	}

	for uid, stored := range current {
		if !seen[uid] && !stored.IsCancelled() {
			diff.Deleted = append(diff.Deleted, uid)
		}
	}
	return diff
}

func bodyChanged(stored *domain.CanonicalEvent, ev ParsedEvent) bool {
	return stored.Title != ev.Summary ||
		stored.Description != ev.Description ||
		stored.Location != ev.Location ||
		!stored.Start.Equal(ev.Start) ||
		!stored.End.Equal(ev.End) ||
		stored.Status != ev.Status ||
		stored.Transparency != ev.Transparency
}

// ListFeeds returns the user's ICS feed accounts.
func (s *Service) ListFeeds(ctx context.Context, userID shared.ID) ([]*domain.Account, error) {
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	var feeds []*domain.Account
	for _, acct := range accounts {
		if acct.IsFeed() && acct.Status() != domain.AccountStatusUpgraded {
			feeds = append(feeds, acct)
		}
	}
	return feeds, nil
}

// Health is the feed health snapshot returned by the health endpoint.
type Health struct {
	Staleness           domain.Staleness `json:"staleness"`
	IsDead              bool             `json:"is_dead"`
	LastRefreshAt       *time.Time       `json:"last_refresh_at"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	RefreshIntervalMs   int64            `json:"refresh_interval_ms"`
}

// FeedHealth classifies one feed's freshness.
func (s *Service) FeedHealth(ctx context.Context, userID, accountID shared.ID) (*Health, error) {
	account, err := s.store.GetAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, shared.ErrUnknownAccount
	}
	if !account.IsFeed() {
		return nil, shared.E(shared.KindInvalidArgument, "not_a_feed", "account is not an ICS feed")
	}

	feed := account.Feed()
	staleness := account.ClassifyStaleness(time.Now().UTC())
	return &Health{
		Staleness:           staleness,
		IsDead:              staleness == domain.StalenessDead,
		LastRefreshAt:       feed.LastRefreshAt,
		ConsecutiveFailures: feed.ConsecutiveFailures,
		RefreshIntervalMs:   feed.RefreshInterval.Milliseconds(),
	}, nil
}

func (s *Service) countRefresh(c Classification) {
	if s.metrics != nil {
		s.metrics.FeedRefreshes.WithLabelValues(string(c)).Inc()
	}
}

func kindForClass(class ErrorClass) shared.Kind {
	switch class.Classification {
	case ClassificationDead:
		return shared.KindNotFound
	case ClassificationAuthRequired:
		return shared.KindAuthRequired
	case ClassificationRateLimited:
		return shared.KindRateLimited
	default:
		return shared.KindInternal
	}
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
