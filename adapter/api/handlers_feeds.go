package api

import (
	"net/http"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	store "github.com/ramxx/tminus/internal/store/domain"
)

// feedDTO is the wire form of a feed account.
type feedDTO struct {
	AccountID           string  `json:"account_id"`
	FeedURL             string  `json:"feed_url"`
	Status              string  `json:"status"`
	LastRefreshAt       *string `json:"last_refresh_at,omitempty"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	RefreshIntervalMs   int64   `json:"refresh_interval_ms"`
}

func toFeedDTO(a *store.Account) feedDTO {
	feed := a.Feed()
	dto := feedDTO{
		AccountID:           a.ID().String(),
		FeedURL:             a.FeedURL(),
		Status:              string(a.Status()),
		ConsecutiveFailures: feed.ConsecutiveFailures,
		RefreshIntervalMs:   feed.RefreshInterval.Milliseconds(),
	}
	if feed.LastRefreshAt != nil {
		f := feed.LastRefreshAt.Format(time.RFC3339)
		dto.LastRefreshAt = &f
	}
	return dto
}

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var body struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	result, err := s.feeds.AddFeed(r.Context(), principal.UserID, body.URL)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusCreated, result)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	feeds, err := s.feeds.ListFeeds(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	out := make([]feedDTO, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, toFeedDTO(f))
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleFeedHealth(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	accountID := shared.ID(r.PathValue("id"))

	health, err := s.feeds.FeedHealth(r.Context(), principal.UserID, accountID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, health)
}

func (s *Server) handleUpgradeFeed(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	icsAccountID := shared.ID(r.PathValue("id"))

	var body struct {
		OAuthAccountID string `json:"oauth_account_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.OAuthAccountID == "" {
		writeError(w, s.logger, shared.E(shared.KindInvalidArgument, "missing_oauth_account_id", "oauth_account_id is required"))
		return
	}

	result, records, err := s.feeds.UpgradeFeed(r.Context(), principal.UserID, icsAccountID, shared.ID(body.OAuthAccountID))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeDataMeta(w, http.StatusOK, result, map[string]any{"merged_records": records})
}

func (s *Server) handleDowngrade(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var body struct {
		OAuthAccountID string `json:"oauth_account_id"`
		Provider       string `json:"provider"`
		FeedURL        string `json:"feed_url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.OAuthAccountID == "" {
		writeError(w, s.logger, shared.E(shared.KindInvalidArgument, "missing_oauth_account_id", "oauth_account_id is required"))
		return
	}

	result, err := s.feeds.DowngradeAccount(r.Context(), principal.UserID, shared.ID(body.OAuthAccountID), body.FeedURL)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleSyncHealth(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	health, err := s.store.GetSyncHealth(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, health)
}
