// Package domain models the progressive onboarding session: a resumable,
// cross-tab state machine that attaches provider accounts one by one and
// completes exactly once.
package domain

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	store "github.com/ramxx/tminus/internal/store/domain"
)

// Session state machine errors.
var (
	ErrSessionCompleted = errors.New("onboarding session is already complete")
	ErrEmptyAccountID   = errors.New("session account requires an account ID")
	ErrEmptyToken       = errors.New("session token cannot be empty")
)

// Step is the onboarding progress step.
type Step string

const (
	StepWelcome    Step = "welcome"
	StepConnecting Step = "connecting"
	StepComplete   Step = "complete"
)

// AccountStatus is the per-account connection status inside a session.
type AccountStatus string

const (
	AccountConnecting   AccountStatus = "connecting"
	AccountConnected    AccountStatus = "connected"
	AccountSynced       AccountStatus = "synced"
	AccountError        AccountStatus = "error"
	AccountDisconnected AccountStatus = "disconnected"
)

// IsValid reports whether the status is known.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountConnecting, AccountConnected, AccountSynced, AccountError, AccountDisconnected:
		return true
	default:
		return false
	}
}

// SessionAccount is one account being attached during onboarding.
type SessionAccount struct {
	AccountID     shared.ID
	Provider      store.Provider
	Email         string
	Status        AccountStatus
	CalendarCount int
	UpdatedAt     time.Time
}

// Session is the onboarding aggregate. The account list is ordered by
// first attachment and unique by account ID.
type Session struct {
	shared.BaseEntity
	userID      shared.ID
	token       string
	step        Step
	accounts    []SessionAccount
	completedAt *time.Time
}

// NewSessionToken returns an unguessable, PII-free resume token.
func NewSessionToken() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; if it does, the
		// process cannot mint tokens at all.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// NewSession creates a session in the welcome step.
func NewSession(userID shared.ID, token string) (*Session, error) {
	if userID.IsZero() {
		return nil, store.ErrEmptyUserID
	}
	if token == "" {
		return nil, ErrEmptyToken
	}
	return &Session{
		BaseEntity: shared.NewBaseEntity(shared.PrefixSession),
		userID:     userID,
		token:      token,
		step:       StepWelcome,
	}, nil
}

// RehydrateSession restores a session from persistence.
func RehydrateSession(entity shared.BaseEntity, userID shared.ID, token string, step Step, accounts []SessionAccount, completedAt *time.Time) *Session {
	return &Session{
		BaseEntity:  entity,
		userID:      userID,
		token:       token,
		step:        step,
		accounts:    accounts,
		completedAt: completedAt,
	}
}

// Getters.
func (s *Session) UserID() shared.ID       { return s.userID }
func (s *Session) Token() string           { return s.token }
func (s *Session) Step() Step              { return s.step }
func (s *Session) CompletedAt() *time.Time { return s.completedAt }

// Accounts returns the ordered account list.
func (s *Session) Accounts() []SessionAccount {
	out := make([]SessionAccount, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// IsComplete reports whether the session reached its terminal step.
func (s *Session) IsComplete() bool {
	return s.step == StepComplete
}

// IsExpired reports whether the session passed its retention horizon.
func (s *Session) IsExpired(now time.Time, retention time.Duration) bool {
	return now.Sub(s.CreatedAt()) >= retention
}

// AddAccount attaches an account, moving the session to connecting.
// Idempotent by account ID: a re-submission updates the existing entry in
// place; the list order and uniqueness are preserved regardless of how
// many tabs race.
func (s *Session) AddAccount(account SessionAccount, now time.Time) error {
	if s.IsComplete() {
		return ErrSessionCompleted
	}
	if account.AccountID.IsZero() {
		return ErrEmptyAccountID
	}
	if !account.Status.IsValid() {
		account.Status = AccountConnecting
	}
	account.UpdatedAt = now.UTC()

	for i := range s.accounts {
		if s.accounts[i].AccountID == account.AccountID {
			s.accounts[i] = account
			s.step = StepConnecting
			s.TouchAt(now)
			return nil
		}
	}

	s.accounts = append(s.accounts, account)
	s.step = StepConnecting
	s.TouchAt(now)
	return nil
}

// UpdateAccountStatus updates one account's status. Silently no-ops when
// the account is not in the session.
func (s *Session) UpdateAccountStatus(accountID shared.ID, status AccountStatus, calendarCount *int, now time.Time) error {
	if s.IsComplete() {
		return ErrSessionCompleted
	}
	for i := range s.accounts {
		if s.accounts[i].AccountID == accountID {
			if status.IsValid() {
				s.accounts[i].Status = status
			}
			if calendarCount != nil {
				s.accounts[i].CalendarCount = *calendarCount
			}
			s.accounts[i].UpdatedAt = now.UTC()
			s.TouchAt(now)
			return nil
		}
	}
	return nil
}

// Complete moves the session to its terminal step. Idempotent: completing
// a complete session leaves it unchanged.
func (s *Session) Complete(now time.Time) {
	if s.IsComplete() {
		return
	}
	s.step = StepComplete
	t := now.UTC()
	s.completedAt = &t
	s.TouchAt(now)
}
