package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// Tier is the subscription tier carried by the credential.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierFree:       0,
	TierPremium:    1,
	TierEnterprise: 2,
}

// AtLeast reports whether the tier meets the required tier.
func (t Tier) AtLeast(required Tier) bool {
	return tierRank[t] >= tierRank[required]
}

// Principal is the authenticated caller.
type Principal struct {
	UserID shared.ID
	Tier   Tier
}

// Authenticator resolves a bearer credential to a principal. JWT
// verification lives outside the core; deployments plug their verifier in
// here.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (*Principal, error)
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// requireAuth extracts and verifies the bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, s.logger, shared.E(shared.KindAuthRequired, "missing_credential", "missing bearer credential"))
			return
		}
		principal, err := s.auth.Authenticate(r.Context(), token)
		if err != nil || principal == nil {
			writeError(w, s.logger, shared.E(shared.KindAuthRequired, "invalid_credential", "invalid bearer credential"))
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), principal)))
	}
}

// requireTier gates an endpoint behind a minimum tier.
func (s *Server) requireTier(required Tier, next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		principal := principalFrom(r.Context())
		if !principal.Tier.AtLeast(required) {
			writeError(w, s.logger, shared.Ef(shared.KindForbidden, "tier_required", "this endpoint requires the %s tier", required))
			return
		}
		next(w, r)
	})
}

// StaticAuthenticator is a token-table authenticator for local mode and
// tests.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]Principal
}

// NewStaticAuthenticator creates an empty static authenticator.
func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{tokens: make(map[string]Principal)}
}

// Grant registers a token.
func (a *StaticAuthenticator) Grant(token string, principal Principal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = principal
}

// Authenticate resolves a token.
func (a *StaticAuthenticator) Authenticate(_ context.Context, bearerToken string) (*Principal, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if p, ok := a.tokens[bearerToken]; ok {
		return &p, nil
	}
	return nil, shared.E(shared.KindAuthRequired, "invalid_credential", "unknown token")
}
