package application

import (
	"context"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/store/domain"
)

// UpgradeExecution is the store-side write set of an account upgrade plan:
// replaced provider rows are removed first so the re-pointed feed rows can
// take over their external identity, then accounts transition.
type UpgradeExecution struct {
	ICSAccountID    shared.ID
	OAuthAccountID  shared.ID
	DeleteEventIDs  []shared.ID
	SaveEvents      []*domain.CanonicalEvent
	RemoveICSRecord bool
}

// ExecuteUpgrade applies an upgrade plan atomically: one transaction inside
// the user partition covers event rewrites and both account transitions.
func (s *Service) ExecuteUpgrade(ctx context.Context, userID shared.ID, exec UpgradeExecution) error {
	return s.run(ctx, userID, "execute_upgrade", func(ctx context.Context, tx database.Transaction) error {
		ics, err := s.accounts.FindByID(ctx, tx, userID, exec.ICSAccountID)
		if err != nil {
			return err
		}
		if ics == nil {
			return shared.ErrUnknownAccount
		}
		oauth, err := s.accounts.FindByID(ctx, tx, userID, exec.OAuthAccountID)
		if err != nil {
			return err
		}
		if oauth == nil {
			return shared.ErrUnknownAccount
		}

		// Replaced provider rows go first; their (account, origin) identity
		// is inherited by the merged rows saved next.
		for _, id := range exec.DeleteEventIDs {
			if err := s.events.DeleteByID(ctx, tx, userID, id); err != nil {
				return err
			}
		}
		for _, event := range exec.SaveEvents {
			if err := s.events.Save(ctx, tx, event); err != nil {
				return err
			}
		}

		if err := ics.TransitionTo(domain.AccountStatusUpgraded); err != nil {
			return shared.Wrap(shared.KindConflict, "invalid_transition", err)
		}
		if !exec.RemoveICSRecord {
			if err := s.accounts.Save(ctx, tx, ics); err != nil {
				return err
			}
		}
		if oauth.Status() != domain.AccountStatusActive {
			if err := oauth.TransitionTo(domain.AccountStatusActive); err != nil {
				return shared.Wrap(shared.KindConflict, "invalid_transition", err)
			}
		}
		if err := s.accounts.Save(ctx, tx, oauth); err != nil {
			return err
		}

		if exec.RemoveICSRecord {
			// Every event has been re-pointed, so the account row can go.
			if err := s.accounts.Delete(ctx, tx, userID, exec.ICSAccountID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExecuteDowngrade creates the replacement feed account (when a feed URL is
// known), copies the event snapshot onto it, and marks the OAuth account
// downgraded — all in one partition transaction.
func (s *Service) ExecuteDowngrade(ctx context.Context, userID, oauthAccountID shared.ID, feedAccount *domain.Account, snapshot []*domain.CanonicalEvent) error {
	return s.run(ctx, userID, "execute_downgrade", func(ctx context.Context, tx database.Transaction) error {
		oauth, err := s.accounts.FindByID(ctx, tx, userID, oauthAccountID)
		if err != nil {
			return err
		}
		if oauth == nil {
			return shared.ErrUnknownAccount
		}

		if feedAccount != nil {
			if err := s.accounts.Save(ctx, tx, feedAccount); err != nil {
				return err
			}
			for _, event := range snapshot {
				if err := s.events.Save(ctx, tx, event); err != nil {
					return err
				}
			}
		}

		if err := oauth.TransitionTo(domain.AccountStatusDowngraded); err != nil {
			return shared.Wrap(shared.KindConflict, "invalid_transition", err)
		}
		return s.accounts.Save(ctx, tx, oauth)
	})
}
