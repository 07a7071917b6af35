package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

func TestAccount_TokenRoundTrip(t *testing.T) {
	account, err := NewAccount(shared.NewID(shared.PrefixUser), ProviderGoogle, "subject", "user@example.com")
	require.NoError(t, err)

	_, err = account.Token()
	assert.ErrorIs(t, err, ErrTokenMissing)
	assert.False(t, account.TokenExpired(), "no token means nothing to expire")

	issued := &oauth2.Token{
		AccessToken:  "ya29.example",
		RefreshToken: "1//refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
	require.NoError(t, account.SetToken(issued))

	restored, err := account.Token()
	require.NoError(t, err)
	assert.Equal(t, issued.AccessToken, restored.AccessToken)
	assert.Equal(t, issued.RefreshToken, restored.RefreshToken)
	assert.False(t, account.TokenExpired())
}

func TestAccount_TokenExpired(t *testing.T) {
	account, err := NewAccount(shared.NewID(shared.PrefixUser), ProviderMicrosoft, "subject", "")
	require.NoError(t, err)

	require.NoError(t, account.SetToken(&oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
	}))
	assert.True(t, account.TokenExpired())

	// Clearing the token clears the signal.
	require.NoError(t, account.SetToken(nil))
	assert.False(t, account.TokenExpired())
}
