package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	store "github.com/ramxx/tminus/internal/store/domain"
)

// AccountReader is the slice of the store the credential resolver needs.
type AccountReader interface {
	GetAccount(ctx context.Context, userID, accountID shared.ID) (*store.Account, error)
}

// caldavSecret is the credential payload stored on caldav-capable
// accounts: an app-specific password, never a user's primary password.
type caldavSecret struct {
	BaseURL      string `json:"base_url"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	CalendarPath string `json:"calendar_path"`
}

// AccountCredentials resolves CalDAV connection details from account
// records.
type AccountCredentials struct {
	accounts AccountReader
}

// NewAccountCredentials creates a store-backed credential resolver.
func NewAccountCredentials(accounts AccountReader) *AccountCredentials {
	return &AccountCredentials{accounts: accounts}
}

// Resolve returns the connection details for one account.
func (c *AccountCredentials) Resolve(ctx context.Context, userID, accountID shared.ID) (string, string, string, string, error) {
	account, err := c.accounts.GetAccount(ctx, userID, accountID)
	if err != nil {
		return "", "", "", "", err
	}
	if account == nil {
		return "", "", "", "", shared.ErrUnknownAccount
	}
	if account.OAuthToken() == "" {
		return "", "", "", "", store.ErrTokenMissing
	}

	var secret caldavSecret
	if err := json.Unmarshal([]byte(account.OAuthToken()), &secret); err != nil {
		return "", "", "", "", fmt.Errorf("corrupt credential payload for account %s: %w", accountID, err)
	}
	if secret.BaseURL == "" {
		return "", "", "", "", fmt.Errorf("account %s has no caldav base URL", accountID)
	}
	return secret.BaseURL, secret.Username, secret.Password, secret.CalendarPath, nil
}
