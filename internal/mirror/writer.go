// Package mirror consumes outbound write intents and replays them against
// the target accounts' providers. Delivery is at-least-once; the writer
// deduplicates by (canonical event, version, operation).
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/eventbus"
	"github.com/ramxx/tminus/internal/shared/infrastructure/outbox"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/pkg/observability"
)

// ProviderWriter applies one intent to an external account. The per-account
// sync runtime implements this; the CalDAV writer in this package covers
// caldav-capable accounts directly.
type ProviderWriter interface {
	Write(ctx context.Context, userID, targetAccountID shared.ID, operation outbox.Operation, event storeapp.MirrorEvent) error
}

// dedupeCapacity bounds the seen-set. Old entries fall out FIFO; a
// redelivery older than the window writes again, which is safe because
// provider upserts are idempotent by UID.
const dedupeCapacity = 4096

// Writer is the mirror intent consumer.
type Writer struct {
	consumer eventbus.Consumer
	provider ProviderWriter
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewWriter creates a mirror writer.
func NewWriter(consumer eventbus.Consumer, provider ProviderWriter, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		consumer: consumer,
		provider: provider,
		metrics:  metrics,
		logger:   logger,
		seen:     make(map[string]struct{}, dedupeCapacity),
	}
}

// Run consumes intents until ctx is done.
func (w *Writer) Run(ctx context.Context) error {
	return w.consumer.Start(ctx, w.handle)
}

func (w *Writer) handle(ctx context.Context, d eventbus.Delivery) error {
	var envelope outbox.Envelope
	if err := json.Unmarshal(d.Payload, &envelope); err != nil {
		// Malformed payloads never succeed; drop them with a log line
		// instead of poisoning the queue.
		w.logger.Error("dropping malformed mirror intent", "error", err)
		w.count("unknown", "malformed")
		return nil
	}

	key := fmt.Sprintf("%s|%d|%s|%s", envelope.CanonicalEventID, envelope.EventVersion, envelope.Operation, envelope.TargetAccountID)
	if w.alreadySeen(key) {
		w.count(envelope.Operation, "deduped")
		return nil
	}

	var event storeapp.MirrorEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		w.logger.Error("dropping mirror intent with malformed event payload",
			"canonical_event_id", envelope.CanonicalEventID,
			"error", err,
		)
		w.count(envelope.Operation, "malformed")
		return nil
	}

	err := w.provider.Write(ctx,
		shared.ID(envelope.UserID),
		shared.ID(envelope.TargetAccountID),
		outbox.Operation(envelope.Operation),
		event,
	)
	if err != nil {
		w.logger.Warn("mirror write failed, intent will be redelivered",
			"target_account_id", envelope.TargetAccountID,
			"operation", envelope.Operation,
			"error", err,
		)
		w.count(envelope.Operation, "failed")
		return err
	}

	w.remember(key)
	w.count(envelope.Operation, "written")
	return nil
}

func (w *Writer) alreadySeen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[key]
	return ok
}

func (w *Writer) remember(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[key]; ok {
		return
	}
	w.seen[key] = struct{}{}
	w.order = append(w.order, key)
	for len(w.order) > dedupeCapacity {
		delete(w.seen, w.order[0])
		w.order = w.order[1:]
	}
}

func (w *Writer) count(operation, outcome string) {
	if w.metrics != nil {
		w.metrics.MirrorIntents.WithLabelValues(operation, outcome).Inc()
	}
}
