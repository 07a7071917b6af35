package application

import (
	"context"
	"strings"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/internal/store/domain"
)

// UpgradeResult reports what an ICS → OAuth upgrade did.
type UpgradeResult struct {
	DetectedProvider      domain.Provider `json:"detected_provider"`
	MergedCount           int             `json:"merged_count"`
	NewCount              int             `json:"new_count"`
	OrphanedCount         int             `json:"orphaned_count"`
	ICSAccountRemoved     bool            `json:"ics_account_removed"`
	OAuthAccountActivated bool            `json:"oauth_account_activated"`
}

// MergedRecord describes one matched pair for auditing.
type MergedRecord struct {
	CanonicalEventID string   `json:"canonical_event_id"`
	ICalUID          string   `json:"ical_uid"`
	MatchedBy        string   `json:"matched_by"`
	Confidence       float64  `json:"confidence"`
	EnrichedFields   []string `json:"enriched_fields"`
}

// DetectProviderFromFeedURL guesses the OAuth provider a public feed URL
// belongs to.
func DetectProviderFromFeedURL(feedURL string) domain.Provider {
	lower := strings.ToLower(feedURL)
	switch {
	case strings.Contains(lower, "google.com"):
		return domain.ProviderGoogle
	case strings.Contains(lower, "outlook."), strings.Contains(lower, "office365.com"), strings.Contains(lower, "live.com"):
		return domain.ProviderMicrosoft
	case strings.Contains(lower, "icloud.com"):
		return domain.ProviderCalDAV
	default:
		return ""
	}
}

// UpgradeFeed merges an ICS feed account into an OAuth account for the
// same calendar, preserving canonical event identity via iCalUID matching.
// Unmatched feed events survive as orphans on the OAuth account: zero data
// loss by construction.
func (s *Service) UpgradeFeed(ctx context.Context, userID, icsAccountID, oauthAccountID shared.ID) (*UpgradeResult, []MergedRecord, error) {
	icsAccount, err := s.store.GetAccount(ctx, userID, icsAccountID)
	if err != nil {
		return nil, nil, err
	}
	if icsAccount == nil {
		return nil, nil, shared.ErrUnknownAccount
	}
	if !icsAccount.IsFeed() {
		return nil, nil, shared.E(shared.KindInvalidArgument, "not_a_feed", "source account is not an ICS feed")
	}
	oauthAccount, err := s.store.GetAccount(ctx, userID, oauthAccountID)
	if err != nil {
		return nil, nil, err
	}
	if oauthAccount == nil {
		return nil, nil, shared.ErrUnknownAccount
	}
	if oauthAccount.IsFeed() {
		return nil, nil, shared.E(shared.KindInvalidArgument, "not_oauth", "target account is not an OAuth account")
	}

	icsEvents, err := s.store.GetAccountEvents(ctx, userID, icsAccountID)
	if err != nil {
		return nil, nil, err
	}
	oauthEvents, err := s.store.GetAccountEvents(ctx, userID, oauthAccountID)
	if err != nil {
		return nil, nil, err
	}

	byUID := make(map[string]*domain.CanonicalEvent, len(oauthEvents))
	for _, ev := range oauthEvents {
		if ev.ICalUID != "" {
			byUID[ev.ICalUID] = ev
		}
	}

	now := time.Now().UTC()
	exec := storeapp.UpgradeExecution{
		ICSAccountID:    icsAccountID,
		OAuthAccountID:  oauthAccountID,
		RemoveICSRecord: true,
	}
	detected := DetectProviderFromFeedURL(icsAccount.FeedURL())
	if detected == "" {
		detected = oauthAccount.Provider()
	}

	var records []MergedRecord
	result := &UpgradeResult{
		DetectedProvider:      detected,
		OAuthAccountActivated: true,
	}

	matchedOAuthIDs := make(map[shared.ID]bool)
	for _, icsEvent := range icsEvents {
		providerEvent := byUID[icsEvent.ICalUID]
		if providerEvent == nil || icsEvent.ICalUID == "" {
			// Orphan: the provider does not know this event. It keeps its
			// canonical ID and moves to the OAuth account as feed-sourced.
			icsEvent.AccountID = oauthAccountID
			icsEvent.UpdatedAt = now
			exec.SaveEvents = append(exec.SaveEvents, icsEvent)
			result.OrphanedCount++
			continue
		}

		// Matched pair: the feed row keeps the canonical ID and inherits
		// the provider row's identity and body; feed enrichment fills
		// whatever the provider left empty.
		matchedOAuthIDs[providerEvent.ID] = true
		enrichment := domain.EventPayload{
			Attendees:  icsEvent.Attendees,
			Organizer:  icsEvent.Organizer,
			Conference: icsEvent.Conference,
		}
		icsHadAttendees := len(icsEvent.Attendees) > 0
		icsHadOrganizer := icsEvent.Organizer != nil
		icsHadConference := icsEvent.Conference != nil

		merged := icsEvent
		merged.AccountID = oauthAccountID
		merged.OriginEventID = providerEvent.OriginEventID
		merged.ApplyPayload(providerPayload(providerEvent))
		if providerEvent.Version > merged.Version {
			merged.Version = providerEvent.Version
		}
		merged.MergeEnrichment(enrichment)
		merged.UpdatedAt = now

		// Enriched fields are the ones the merge added relative to what
		// the feed row carried.
		var enriched []string
		if !icsHadAttendees && len(merged.Attendees) > 0 {
			enriched = append(enriched, "attendees")
		}
		if !icsHadOrganizer && merged.Organizer != nil {
			enriched = append(enriched, "organizer")
		}
		if !icsHadConference && merged.Conference != nil {
			enriched = append(enriched, "conference_data")
		}

		exec.DeleteEventIDs = append(exec.DeleteEventIDs, providerEvent.ID)
		exec.SaveEvents = append(exec.SaveEvents, merged)
		result.MergedCount++
		records = append(records, MergedRecord{
			CanonicalEventID: merged.ID.String(),
			ICalUID:          merged.ICalUID,
			MatchedBy:        "ical_uid",
			Confidence:       1.0,
			EnrichedFields:   enriched,
		})
	}

	for _, ev := range oauthEvents {
		if !matchedOAuthIDs[ev.ID] {
			result.NewCount++
		}
	}

	if err := s.store.ExecuteUpgrade(ctx, userID, exec); err != nil {
		return nil, nil, err
	}
	result.ICSAccountRemoved = true
	return result, records, nil
}

func providerPayload(e *domain.CanonicalEvent) domain.EventPayload {
	return domain.EventPayload{
		ICalUID:        e.ICalUID,
		Title:          e.Title,
		Description:    e.Description,
		Location:       e.Location,
		Start:          e.Start,
		End:            e.End,
		AllDay:         e.AllDay,
		Timezone:       e.Timezone,
		Status:         e.Status,
		Visibility:     e.Visibility,
		Transparency:   e.Transparency,
		RecurrenceRule: e.RecurrenceRule,
		Source:         domain.SourceProvider,
		Attendees:      e.Attendees,
		Organizer:      e.Organizer,
		Conference:     e.Conference,
	}
}

// DowngradeResult reports what an OAuth → ICS downgrade did.
type DowngradeResult struct {
	NewFeedAccountID    shared.ID `json:"new_feed_account_id,omitempty"`
	FeedURL             string    `json:"feed_url,omitempty"`
	PreservedEventCount int       `json:"preserved_event_count"`
	Mode                string    `json:"mode"`
	Warning             string    `json:"warning,omitempty"`
}

// DowngradeAccount replaces a revoked OAuth account with a read-only feed
// account when a public feed URL is known. Without one, the OAuth account
// is still marked downgraded but nothing will refresh automatically.
func (s *Service) DowngradeAccount(ctx context.Context, userID, oauthAccountID shared.ID, feedURL string) (*DowngradeResult, error) {
	oauthAccount, err := s.store.GetAccount(ctx, userID, oauthAccountID)
	if err != nil {
		return nil, err
	}
	if oauthAccount == nil {
		return nil, shared.ErrUnknownAccount
	}
	if oauthAccount.IsFeed() {
		return nil, shared.E(shared.KindInvalidArgument, "not_oauth", "account is not an OAuth account")
	}

	if feedURL == "" {
		if err := s.store.ExecuteDowngrade(ctx, userID, oauthAccountID, nil, nil); err != nil {
			return nil, err
		}
		return &DowngradeResult{
			Mode:    "read_only",
			Warning: "no public feed URL is known for this calendar; events are preserved but no automatic refresh will occur",
		}, nil
	}

	validated, err := ValidateFeedURL(feedURL)
	if err != nil {
		return nil, shared.Wrap(shared.KindInvalidArgument, "invalid_feed_url", err)
	}

	feedAccount, err := domain.NewFeedAccount(userID, validated)
	if err != nil {
		return nil, shared.Wrap(shared.KindInvalidArgument, "invalid_account", err)
	}

	events, err := s.store.GetAccountEvents(ctx, userID, oauthAccountID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	snapshot := make([]*domain.CanonicalEvent, 0, len(events))
	for _, ev := range events {
		origin := ev.ICalUID
		if origin == "" {
			origin = ev.OriginEventID
		}
		copied := domain.NewCanonicalEvent(userID, feedAccount.ID(), origin, providerPayload(ev), ev.Version, now)
		copied.Source = domain.SourceICSFeed
		snapshot = append(snapshot, copied)
	}

	if err := s.store.ExecuteDowngrade(ctx, userID, oauthAccountID, feedAccount, snapshot); err != nil {
		return nil, err
	}

	return &DowngradeResult{
		NewFeedAccountID:    feedAccount.ID(),
		FeedURL:             validated,
		PreservedEventCount: len(snapshot),
		Mode:                "read_only",
	}, nil
}
