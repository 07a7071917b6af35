package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/store/domain"
)

// UserSource enumerates the users whose feeds the scheduler sweeps. The
// serving process knows its users; the scheduler does not.
type UserSource interface {
	ActiveUserIDs(ctx context.Context) ([]shared.ID, error)
}

// Scheduler periodically refreshes feeds that are due. Only active feed
// accounts are considered. A refresh classified dead or auth_required does
// not change the account's status, so such a feed is tried again once its
// interval has elapsed; failures ride the per-feed failure counter.
type Scheduler struct {
	service *Service
	users   UserSource
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler creates a feed refresh scheduler. spec is a cron expression
// (robfig syntax, @every supported).
func NewScheduler(service *Service, users UserSource, spec string, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		spec = "@every 1m"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Scheduler{
		service: service,
		users:   users,
		cron:    cron.New(),
		spec:    spec,
		timeout: timeout,
		logger:  logger,
	}
}

// Start begins the sweep schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("feed refresh scheduler started", "spec", s.spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("feed refresh scheduler stopped")
}

func (s *Scheduler) sweep(ctx context.Context) {
	userIDs, err := s.users.ActiveUserIDs(ctx)
	if err != nil {
		s.logger.Error("feed sweep could not list users", "error", err)
		return
	}

	for _, userID := range userIDs {
		feeds, err := s.service.ListFeeds(ctx, userID)
		if err != nil {
			s.logger.Warn("feed sweep could not list feeds", "error", err)
			continue
		}
		now := time.Now().UTC()
		for _, feed := range feeds {
			if !s.due(feed, now) {
				continue
			}
			s.refreshOne(ctx, userID, feed.ID())
		}
	}
}

func (s *Scheduler) due(account *domain.Account, now time.Time) bool {
	if account.Status() != domain.AccountStatusActive {
		return false
	}
	feed := account.Feed()
	if feed.LastRefreshAt == nil {
		return true
	}
	return now.Sub(*feed.LastRefreshAt) >= feed.RefreshInterval
}

func (s *Scheduler) refreshOne(ctx context.Context, userID, accountID shared.ID) {
	refreshCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.service.RefreshFeed(refreshCtx, userID, accountID)
	if err != nil {
		s.logger.Warn("scheduled feed refresh failed",
			"account_id", accountID.String(),
			"error", err,
		)
		return
	}
	s.logger.Debug("scheduled feed refresh completed",
		"account_id", accountID.String(),
		"classification", string(result.Classification),
	)
}
