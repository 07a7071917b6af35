package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/shared/infrastructure/outbox"
	"github.com/ramxx/tminus/internal/store/domain"
	"github.com/ramxx/tminus/pkg/observability"
)

// maxDeltaErrors bounds the errors array returned from one delta.
const maxDeltaErrors = 32

// EventUpsert is one incoming event change.
type EventUpsert struct {
	OriginEventID string
	Version       int64
	Payload       domain.EventPayload
}

// DeltaResult reports what a delta application did.
type DeltaResult struct {
	Created         int      `json:"created"`
	Updated         int      `json:"updated"`
	Deleted         int      `json:"deleted"`
	MirrorsEnqueued int      `json:"mirrors_enqueued"`
	Errors          []string `json:"errors"`
}

func (r *DeltaResult) addError(msg string) {
	if len(r.Errors) < maxDeltaErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// DeltaApplicator merges provider and feed batches into the canonical
// store and fans out mirror intents through the outbox.
type DeltaApplicator struct {
	events   domain.EventRepository
	accounts domain.AccountRepository
	outbox   outbox.Repository
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewDeltaApplicator creates a delta applicator.
func NewDeltaApplicator(events domain.EventRepository, accounts domain.AccountRepository, ob outbox.Repository, metrics *observability.Metrics, logger *slog.Logger) *DeltaApplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeltaApplicator{
		events:   events,
		accounts: accounts,
		outbox:   ob,
		metrics:  metrics,
		logger:   logger,
	}
}

// Apply merges one account's upserts and deletes on the given executor.
// Callers run it inside the user partition with an open transaction so the
// whole batch plus its mirror intents commit atomically.
func (a *DeltaApplicator) Apply(ctx context.Context, exec database.Executor, account *domain.Account, upserts []EventUpsert, deletes []string, now time.Time) (*DeltaResult, error) {
	result := &DeltaResult{}
	userID := account.UserID()

	mirrorTargets, err := a.mirrorTargets(ctx, exec, userID, account.ID())
	if err != nil {
		return nil, err
	}

	for _, up := range upserts {
		if up.OriginEventID == "" {
			result.addError("upsert with empty origin_event_id dropped")
			continue
		}

		event, kind, err := a.applyUpsert(ctx, exec, account, up, now)
		if err != nil {
			return nil, err
		}
		a.count(kind)

		switch kind {
		case upsertCreated:
			result.Created++
		case upsertUpdated, upsertEnriched, upsertTakeover:
			result.Updated++
		case upsertDropped:
			continue
		}

		if err := a.enqueueMirrors(ctx, exec, mirrorTargets, event, outbox.OperationUpsert, result); err != nil {
			return nil, err
		}
	}

	for _, originID := range deletes {
		event, err := a.events.FindByOrigin(ctx, exec, userID, account.ID(), originID)
		if err != nil {
			return nil, err
		}
		if event == nil || event.IsCancelled() {
			continue
		}
		event.Cancel(now)
		if err := a.events.Save(ctx, exec, event); err != nil {
			return nil, err
		}
		result.Deleted++
		a.count(upsertDeleted)

		if err := a.enqueueMirrors(ctx, exec, mirrorTargets, event, outbox.OperationDelete, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

type upsertKind string

const (
	upsertCreated  upsertKind = "created"
	upsertUpdated  upsertKind = "updated"
	upsertEnriched upsertKind = "enriched"
	upsertTakeover upsertKind = "takeover"
	upsertDropped  upsertKind = "dropped"
	upsertDeleted  upsertKind = "deleted"
)

func (a *DeltaApplicator) count(kind upsertKind) {
	if a.metrics != nil {
		a.metrics.EventsUpserted.WithLabelValues(string(kind)).Inc()
	}
}

// applyUpsert implements the merge rules: insert, out-of-order drop,
// enrichment-only merge, body overwrite, and the provider-over-feed
// takeover keyed by iCalUID.
func (a *DeltaApplicator) applyUpsert(ctx context.Context, exec database.Executor, account *domain.Account, up EventUpsert, now time.Time) (*domain.CanonicalEvent, upsertKind, error) {
	userID := account.UserID()

	existing, err := a.events.FindByOrigin(ctx, exec, userID, account.ID(), up.OriginEventID)
	if err != nil {
		return nil, upsertDropped, err
	}

	if existing == nil {
		// A provider upsert may take over a feed-sourced row with the same
		// iCalendar UID, preserving the canonical ID across the swap.
		if up.Payload.Source == domain.SourceProvider && up.Payload.ICalUID != "" {
			taken, err := a.takeOverFeedRow(ctx, exec, userID, account.ID(), up, now)
			if err != nil {
				return nil, upsertDropped, err
			}
			if taken != nil {
				return taken, upsertTakeover, nil
			}
		}

		event := domain.NewCanonicalEvent(userID, account.ID(), up.OriginEventID, up.Payload, up.Version, now)
		if err := a.events.Save(ctx, exec, event); err != nil {
			return nil, upsertDropped, err
		}
		return event, upsertCreated, nil
	}

	incomingVersion := up.Version
	if incomingVersion < 1 {
		incomingVersion = 1
	}

	if existing.Version > incomingVersion {
		// Provider delivered out of order. The stale body is dropped, but
		// an enrichment-only merge is still allowed.
		if existing.HasEnrichmentBeyond(up.Payload) {
			existing.MergeEnrichment(up.Payload)
			existing.UpdatedAt = now.UTC()
			if err := a.events.Save(ctx, exec, existing); err != nil {
				return nil, upsertDropped, err
			}
			return existing, upsertEnriched, nil
		}
		return existing, upsertDropped, nil
	}

	existing.ApplyPayload(up.Payload)
	existing.Version = incomingVersion
	existing.UpdatedAt = now.UTC()
	if err := a.events.Save(ctx, exec, existing); err != nil {
		return nil, upsertDropped, err
	}
	return existing, upsertUpdated, nil
}

// takeOverFeedRow replaces a feed-sourced row in place when a provider
// upsert shares its iCalUID. Returns nil when no feed row matches.
func (a *DeltaApplicator) takeOverFeedRow(ctx context.Context, exec database.Executor, userID, accountID shared.ID, up EventUpsert, now time.Time) (*domain.CanonicalEvent, error) {
	matches, err := a.events.FindByICalUID(ctx, exec, userID, up.Payload.ICalUID)
	if err != nil {
		return nil, err
	}

	for _, row := range matches {
		if row.Source != domain.SourceICSFeed {
			continue
		}

		// Preserve the feed row's enrichment before the provider body
		// lands, then re-point identity to the provider account.
		enrichment := domain.EventPayload{
			Attendees:  row.Attendees,
			Organizer:  row.Organizer,
			Conference: row.Conference,
		}

		row.AccountID = accountID
		row.OriginEventID = up.OriginEventID
		row.ApplyPayload(up.Payload)
		row.Version = up.Version
		if row.Version < 1 {
			row.Version = 1
		}
		row.MergeEnrichment(enrichment)
		row.UpdatedAt = now.UTC()

		if err := a.events.Save(ctx, exec, row); err != nil {
			return nil, err
		}
		return row, nil
	}
	return nil, nil
}

// mirrorTargets returns the write-capable accounts that receive outbound
// intents, excluding the origin account.
func (a *DeltaApplicator) mirrorTargets(ctx context.Context, exec database.Executor, userID, originAccountID shared.ID) ([]*domain.Account, error) {
	accounts, err := a.accounts.ListByUser(ctx, exec, userID)
	if err != nil {
		return nil, err
	}
	var targets []*domain.Account
	for _, acct := range accounts {
		if acct.ID() == originAccountID {
			continue
		}
		if !acct.WriteCapable() || acct.Status() != domain.AccountStatusActive {
			continue
		}
		targets = append(targets, acct)
	}
	return targets, nil
}

// enqueueMirrors inserts one outbox intent per target. Failures are
// best-effort: they land in errors[] without failing the delta.
func (a *DeltaApplicator) enqueueMirrors(ctx context.Context, exec database.Executor, targets []*domain.Account, event *domain.CanonicalEvent, op outbox.Operation, result *DeltaResult) error {
	if len(targets) == 0 {
		return nil
	}

	payload, err := json.Marshal(mirrorEventPayload(event))
	if err != nil {
		result.addError(fmt.Sprintf("mirror payload for %s: %v", event.ID, err))
		return nil
	}

	for _, target := range targets {
		msg := outbox.NewMessage(event.UserID, target.ID(), event.ID, op, event.Version, payload)
		if err := a.outbox.Insert(ctx, exec, msg); err != nil {
			result.addError(fmt.Sprintf("mirror enqueue for %s -> %s: %v", event.ID, target.ID(), err))
			if a.metrics != nil {
				a.metrics.MirrorIntents.WithLabelValues(string(op), "enqueue_failed").Inc()
			}
			continue
		}
		result.MirrorsEnqueued++
		if a.metrics != nil {
			a.metrics.MirrorIntents.WithLabelValues(string(op), "enqueued").Inc()
		}
	}
	return nil
}

// MirrorEvent is the event snapshot carried inside a mirror intent.
type MirrorEvent struct {
	CanonicalEventID string    `json:"canonical_event_id"`
	Title            string    `json:"title"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	AllDay           bool      `json:"all_day"`
	Timezone         string    `json:"timezone"`
	Status           string    `json:"status"`
	Transparency     string    `json:"transparency"`
	ICalUID          string    `json:"ical_uid,omitempty"`
	Location         string    `json:"location,omitempty"`
	Description      string    `json:"description,omitempty"`
}

func mirrorEventPayload(e *domain.CanonicalEvent) MirrorEvent {
	return MirrorEvent{
		CanonicalEventID: e.ID.String(),
		Title:            e.Title,
		Start:            e.Start,
		End:              e.End,
		AllDay:           e.AllDay,
		Timezone:         e.Timezone,
		Status:           string(e.Status),
		Transparency:     string(e.Transparency),
		ICalUID:          e.ICalUID,
		Location:         e.Location,
		Description:      e.Description,
	}
}
