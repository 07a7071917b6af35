package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ramxx/tminus/internal/shared/infrastructure/eventbus"
)

// ProcessorConfig holds configuration for the outbox processor.
type ProcessorConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	Retention        time.Duration
	CleanupInterval  time.Duration
}

// DefaultProcessorConfig returns sensible defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     100 * time.Millisecond,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  1 * time.Minute,
		Retention:        14 * 24 * time.Hour,
		CleanupInterval:  24 * time.Hour,
	}
}

// Processor polls the outbox and publishes intents to the broker.
type Processor struct {
	repo      Repository
	publisher eventbus.Publisher
	config    ProcessorConfig
	logger    *slog.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewProcessor creates a new outbox processor.
func NewProcessor(repo Repository, publisher eventbus.Publisher, config ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		repo:      repo,
		publisher: publisher,
		config:    config,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the polling loop in a goroutine.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
	)
	return nil
}

// Stop gracefully stops the processor.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("outbox processor stopped")
}

// IsRunning returns true if the processor is running.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(p.config.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-cleanup.C:
			p.cleanupPublished(ctx)
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

func (p *Processor) processBatch(ctx context.Context) {
	now := time.Now().UTC()
	batch, err := p.repo.FetchUnpublished(ctx, p.config.BatchSize, now)
	if err != nil {
		p.logger.Error("failed to fetch outbox batch", "error", err)
		return
	}

	for _, msg := range batch {
		payload, err := msg.WireBytes()
		if err != nil {
			// A message that cannot serialize will never succeed.
			_ = p.repo.DeadLetter(ctx, msg.ID, "serialization: "+err.Error(), now)
			continue
		}

		if err := p.publisher.Publish(ctx, msg.RoutingKey, payload); err != nil {
			p.handleFailure(ctx, msg, err)
			continue
		}

		if err := p.repo.MarkPublished(ctx, msg.ID, time.Now().UTC()); err != nil {
			// Publish succeeded but the mark failed; the message will be
			// re-published. Consumers dedupe.
			p.logger.Warn("failed to mark intent published",
				"outbox_id", msg.ID,
				"error", err,
			)
		}
	}
}

func (p *Processor) handleFailure(ctx context.Context, msg *Message, pubErr error) {
	now := time.Now().UTC()
	if !msg.CanRetry(p.config.MaxRetries) {
		p.logger.Error("mirror intent exhausted retries",
			"outbox_id", msg.ID,
			"routing_key", msg.RoutingKey,
			"error", pubErr,
		)
		_ = p.repo.DeadLetter(ctx, msg.ID, pubErr.Error(), now)
		return
	}

	backoff := p.config.RetryBackoffBase << msg.RetryCount
	if backoff > p.config.RetryBackoffMax {
		backoff = p.config.RetryBackoffMax
	}
	if err := p.repo.MarkFailed(ctx, msg.ID, pubErr.Error(), now.Add(backoff)); err != nil {
		p.logger.Error("failed to record outbox failure",
			"outbox_id", msg.ID,
			"error", err,
		)
	}
}

func (p *Processor) cleanupPublished(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.config.Retention)
	deleted, err := p.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("outbox cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		p.logger.Info("outbox cleanup completed", "deleted", deleted)
	}
}
