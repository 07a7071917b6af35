package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// Domain errors for Account validation and transitions.
var (
	ErrEmptyUserID          = errors.New("user ID cannot be empty")
	ErrInvalidProvider      = errors.New("invalid provider type")
	ErrEmptySubject         = errors.New("provider subject cannot be empty")
	ErrInvalidTransition    = errors.New("invalid account status transition")
	ErrNotFeedAccount       = errors.New("account is not an ICS feed account")
	ErrAccountNotWritable   = errors.New("account does not accept outbound writes")
	ErrTokenMissing         = errors.New("account has no OAuth token")
	ErrFeedIntervalTooSmall = errors.New("feed refresh interval below minimum")
)

// Provider identifies a calendar source type.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderCalDAV    Provider = "caldav"
	ProviderICSFeed   Provider = "ics_feed"
)

// IsValid reports whether the provider is known.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderGoogle, ProviderMicrosoft, ProviderCalDAV, ProviderICSFeed:
		return true
	default:
		return false
	}
}

// AccountStatus is the lifecycle status of an account.
type AccountStatus string

const (
	AccountStatusActive     AccountStatus = "active"
	AccountStatusPending    AccountStatus = "pending"
	AccountStatusError      AccountStatus = "error"
	AccountStatusRevoked    AccountStatus = "revoked"
	AccountStatusUpgraded   AccountStatus = "upgraded"
	AccountStatusDowngraded AccountStatus = "downgraded"
)

// allowedTransitions is the status DAG. Terminal states (upgraded,
// downgraded) have no outgoing edges.
var allowedTransitions = map[AccountStatus][]AccountStatus{
	AccountStatusPending: {AccountStatusActive, AccountStatusError, AccountStatusRevoked},
	AccountStatusActive:  {AccountStatusError, AccountStatusRevoked, AccountStatusUpgraded, AccountStatusDowngraded},
	AccountStatusError:   {AccountStatusActive, AccountStatusRevoked},
	AccountStatusRevoked: {AccountStatusDowngraded},
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to AccountStatus) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FeedState holds the refresh bookkeeping for an ICS feed account.
type FeedState struct {
	ETag                string
	LastModified        string
	ContentHash         string
	LastRefreshAt       *time.Time
	LastSuccessAt       *time.Time
	ConsecutiveFailures int
	RefreshInterval     time.Duration
}

// Account is one connected calendar source for a user.
type Account struct {
	shared.BaseEntity
	userID          shared.ID
	provider        Provider
	providerSubject string
	email           string
	displayName     string
	status          AccountStatus
	writeCapable    bool
	oauthToken      string // serialized oauth2.Token, empty for feeds
	feed            FeedState
}

// NewAccount creates an account in pending status.
func NewAccount(userID shared.ID, provider Provider, providerSubject, email string) (*Account, error) {
	if userID.IsZero() {
		return nil, ErrEmptyUserID
	}
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if strings.TrimSpace(providerSubject) == "" {
		return nil, ErrEmptySubject
	}

	a := &Account{
		BaseEntity:      shared.NewBaseEntity(shared.PrefixAccount),
		userID:          userID,
		provider:        provider,
		providerSubject: providerSubject,
		email:           email,
		status:          AccountStatusPending,
		feed: FeedState{
			RefreshInterval: 15 * time.Minute,
		},
	}
	return a, nil
}

// NewFeedAccount creates an active, read-only ICS feed account.
func NewFeedAccount(userID shared.ID, feedURL string) (*Account, error) {
	a, err := NewAccount(userID, ProviderICSFeed, feedURL, "")
	if err != nil {
		return nil, err
	}
	a.status = AccountStatusActive
	return a, nil
}

// RehydrateAccount restores an account from persistence.
func RehydrateAccount(
	entity shared.BaseEntity,
	userID shared.ID,
	provider Provider,
	providerSubject, email, displayName string,
	status AccountStatus,
	writeCapable bool,
	oauthToken string,
	feed FeedState,
) *Account {
	return &Account{
		BaseEntity:      entity,
		userID:          userID,
		provider:        provider,
		providerSubject: providerSubject,
		email:           email,
		displayName:     displayName,
		status:          status,
		writeCapable:    writeCapable,
		oauthToken:      oauthToken,
		feed:            feed,
	}
}

// Getters.
func (a *Account) UserID() shared.ID       { return a.userID }
func (a *Account) Provider() Provider      { return a.provider }
func (a *Account) ProviderSubject() string { return a.providerSubject }
func (a *Account) Email() string           { return a.email }
func (a *Account) DisplayName() string     { return a.displayName }
func (a *Account) Status() AccountStatus   { return a.status }
func (a *Account) WriteCapable() bool      { return a.writeCapable }
func (a *Account) OAuthToken() string      { return a.oauthToken }
func (a *Account) Feed() FeedState         { return a.feed }

// IsFeed reports whether this is an ICS feed account.
func (a *Account) IsFeed() bool {
	return a.provider == ProviderICSFeed
}

// FeedURL returns the feed URL for feed accounts, "" otherwise.
func (a *Account) FeedURL() string {
	if !a.IsFeed() {
		return ""
	}
	return a.providerSubject
}

// SetEmail updates the account email.
func (a *Account) SetEmail(email string) {
	if a.email != email {
		a.email = email
		a.Touch()
	}
}

// SetDisplayName updates the display name.
func (a *Account) SetDisplayName(name string) {
	if a.displayName != name {
		a.displayName = name
		a.Touch()
	}
}

// SetWriteCapable marks the account as accepting outbound mirror writes.
func (a *Account) SetWriteCapable(capable bool) {
	if a.writeCapable != capable {
		a.writeCapable = capable
		a.Touch()
	}
}

// SetOAuthToken stores the serialized OAuth token.
func (a *Account) SetOAuthToken(token string) {
	a.oauthToken = token
	a.Touch()
}

// SetToken serializes and stores an OAuth token.
func (a *Account) SetToken(token *oauth2.Token) error {
	if token == nil {
		a.oauthToken = ""
		a.Touch()
		return nil
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	a.oauthToken = string(raw)
	a.Touch()
	return nil
}

// Token decodes the stored OAuth token. Returns ErrTokenMissing for
// accounts without one (feeds, never-connected accounts).
func (a *Account) Token() (*oauth2.Token, error) {
	if a.oauthToken == "" {
		return nil, ErrTokenMissing
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(a.oauthToken), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// TokenExpired reports whether the stored OAuth token exists but is no
// longer valid. Accounts with no token report false; they have nothing to
// expire.
func (a *Account) TokenExpired() bool {
	token, err := a.Token()
	if err != nil {
		return false
	}
	return !token.Valid()
}

// TransitionTo moves the account along the status DAG.
func (a *Account) TransitionTo(status AccountStatus) error {
	if !CanTransition(a.status, status) {
		return ErrInvalidTransition
	}
	if a.status != status {
		a.status = status
		a.Touch()
	}
	return nil
}

// RecordRefreshAttempt updates refresh bookkeeping for a feed account.
// Success resets the failure counter; failure increments it.
func (a *Account) RecordRefreshAttempt(at time.Time, success bool) error {
	if !a.IsFeed() {
		return ErrNotFeedAccount
	}
	t := at.UTC()
	a.feed.LastRefreshAt = &t
	if success {
		a.feed.LastSuccessAt = &t
		a.feed.ConsecutiveFailures = 0
	} else {
		a.feed.ConsecutiveFailures++
	}
	a.Touch()
	return nil
}

// SetFeedValidators stores the conditional-fetch validators and content hash.
func (a *Account) SetFeedValidators(etag, lastModified, contentHash string) error {
	if !a.IsFeed() {
		return ErrNotFeedAccount
	}
	a.feed.ETag = etag
	a.feed.LastModified = lastModified
	a.feed.ContentHash = contentHash
	a.Touch()
	return nil
}

// SetFeedRefreshInterval overrides the per-feed refresh cadence.
func (a *Account) SetFeedRefreshInterval(interval time.Duration) error {
	if !a.IsFeed() {
		return ErrNotFeedAccount
	}
	if interval < time.Minute {
		return ErrFeedIntervalTooSmall
	}
	a.feed.RefreshInterval = interval
	a.Touch()
	return nil
}

// Staleness classifies feed freshness at a point in time.
type Staleness string

const (
	StalenessFresh Staleness = "fresh"
	StalenessStale Staleness = "stale"
	StalenessDead  Staleness = "dead"
)

const deadAfter = 24 * time.Hour

// ClassifyStaleness computes freshness from the last successful refresh.
// Never-refreshed feeds are dead.
func (a *Account) ClassifyStaleness(now time.Time) Staleness {
	if a.feed.LastSuccessAt == nil {
		return StalenessDead
	}
	age := now.Sub(*a.feed.LastSuccessAt)
	switch {
	case age >= deadAfter:
		return StalenessDead
	case age >= a.feed.RefreshInterval:
		return StalenessStale
	default:
		return StalenessFresh
	}
}
