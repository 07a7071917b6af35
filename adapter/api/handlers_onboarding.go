package api

import (
	"net/http"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	store "github.com/ramxx/tminus/internal/store/domain"

	"github.com/ramxx/tminus/internal/onboarding/domain"
)

// sessionAccountDTO is the wire form of one session account.
type sessionAccountDTO struct {
	AccountID     string `json:"account_id"`
	Provider      string `json:"provider"`
	Email         string `json:"email"`
	Status        string `json:"status"`
	CalendarCount int    `json:"calendar_count"`
}

// sessionDTO is the wire form of an onboarding session.
type sessionDTO struct {
	SessionID    string              `json:"session_id"`
	SessionToken string              `json:"session_token"`
	Step         string              `json:"step"`
	Accounts     []sessionAccountDTO `json:"accounts"`
	CreatedAt    string              `json:"created_at"`
	CompletedAt  *string             `json:"completed_at,omitempty"`
}

func toSessionDTO(s *domain.Session) *sessionDTO {
	if s == nil {
		return nil
	}
	dto := &sessionDTO{
		SessionID:    s.ID().String(),
		SessionToken: s.Token(),
		Step:         string(s.Step()),
		Accounts:     []sessionAccountDTO{},
		CreatedAt:    s.CreatedAt().Format(time.RFC3339),
	}
	for _, acct := range s.Accounts() {
		dto.Accounts = append(dto.Accounts, sessionAccountDTO{
			AccountID:     acct.AccountID.String(),
			Provider:      string(acct.Provider),
			Email:         acct.Email,
			Status:        string(acct.Status),
			CalendarCount: acct.CalendarCount,
		})
	}
	if t := s.CompletedAt(); t != nil {
		f := t.Format(time.RFC3339)
		dto.CompletedAt = &f
	}
	return dto
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var body struct {
		Replace bool `json:"replace"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	session, err := s.onboarding.CreateSession(r.Context(), principal.UserID, body.Replace)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusCreated, toSessionDTO(session))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	// Resume by token first when one is presented.
	if token := r.URL.Query().Get("session_token"); token != "" {
		session, err := s.onboarding.GetSessionByToken(r.Context(), token)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeData(w, http.StatusOK, toSessionDTO(session))
		return
	}

	session, err := s.onboarding.GetSession(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, toSessionDTO(session))
}

func (s *Server) handleAddSessionAccount(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var body struct {
		AccountID     string `json:"account_id"`
		Provider      string `json:"provider"`
		Email         string `json:"email"`
		Status        string `json:"status"`
		CalendarCount *int   `json:"calendar_count"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.AccountID == "" {
		writeError(w, s.logger, shared.E(shared.KindInvalidArgument, "missing_account_id", "account_id is required"))
		return
	}
	provider := store.Provider(body.Provider)
	if !provider.IsValid() {
		writeError(w, s.logger, shared.E(shared.KindInvalidArgument, "invalid_provider", "unknown provider"))
		return
	}

	account := domain.SessionAccount{
		AccountID: shared.ID(body.AccountID),
		Provider:  provider,
		Email:     body.Email,
		Status:    domain.AccountStatus(body.Status),
	}
	if body.CalendarCount != nil {
		account.CalendarCount = *body.CalendarCount
	}

	session, err := s.onboarding.AddAccount(r.Context(), principal.UserID, account)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, toSessionDTO(session))
}

func (s *Server) handleUpdateSessionAccount(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var body struct {
		AccountID     string `json:"account_id"`
		Status        string `json:"status"`
		CalendarCount *int   `json:"calendar_count"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.AccountID == "" {
		writeError(w, s.logger, shared.E(shared.KindInvalidArgument, "missing_account_id", "account_id is required"))
		return
	}

	session, err := s.onboarding.UpdateAccountStatus(r.Context(), principal.UserID, shared.ID(body.AccountID), domain.AccountStatus(body.Status), body.CalendarCount)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, toSessionDTO(session))
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	session, err := s.onboarding.CompleteSession(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, toSessionDTO(session))
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	session, err := s.onboarding.GetLatestSession(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if session == nil {
		writeData(w, http.StatusOK, map[string]any{"active": false})
		return
	}

	dto := toSessionDTO(session)
	writeData(w, http.StatusOK, map[string]any{
		"active":        !session.IsComplete(),
		"session_id":    dto.SessionID,
		"step":          dto.Step,
		"account_count": len(dto.Accounts),
		"accounts":      dto.Accounts,
	})
}
