// Package application hosts the canonical event store service: per-user
// single-writer partitions, the delta applicator, and the typed operations
// exposed to the other components.
package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/pkg/observability"
)

// partitionOp is one unit of serialized work for a user partition.
type partitionOp struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// partition is the single logical writer for one user. Operations execute
// in arrival order on a dedicated goroutine.
type partition struct {
	userID shared.ID
	ops    chan partitionOp
}

// PartitionManager owns the per-user partitions. Partitions are created
// lazily on first use and live until Close; all their state is durable, so
// a restart reconstructs them on demand.
type PartitionManager struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	partitions map[shared.ID]*partition
	closed     bool
	wg         sync.WaitGroup

	// sendMu guards queue sends against Close: Run holds it shared while
	// enqueueing; Close takes it exclusively before closing the channels.
	sendMu sync.RWMutex
}

// NewPartitionManager creates a partition manager.
func NewPartitionManager(metrics *observability.Metrics, logger *slog.Logger) *PartitionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &PartitionManager{
		logger:     logger,
		metrics:    metrics,
		partitions: make(map[shared.ID]*partition),
	}
}

// Run executes fn inside the user's partition, serialized with every other
// operation for that user. It blocks until the operation completes or ctx
// is cancelled before the operation is queued; once queued, an operation is
// waited for and never abandoned mid-commit.
func (m *PartitionManager) Run(ctx context.Context, userID shared.ID, name string, fn func(ctx context.Context) error) error {
	p, err := m.get(userID)
	if err != nil {
		return err
	}

	op := partitionOp{ctx: ctx, name: name, fn: fn, done: make(chan error, 1)}
	m.sendMu.RLock()
	if m.isClosed() {
		m.sendMu.RUnlock()
		return context.Canceled
	}
	select {
	case <-ctx.Done():
		m.sendMu.RUnlock()
		return ctx.Err()
	case p.ops <- op:
		m.sendMu.RUnlock()
	}

	// The operation is queued; wait for its result. Cancellation of ctx is
	// observed by fn itself at I/O boundaries, never between its durable
	// read and write.
	return <-op.done
}

func (m *PartitionManager) get(userID shared.ID) (*partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, context.Canceled
	}
	if p, ok := m.partitions[userID]; ok {
		return p, nil
	}

	p := &partition{
		userID: userID,
		ops:    make(chan partitionOp, 64),
	}
	m.partitions[userID] = p
	m.wg.Add(1)
	go m.serve(p)
	return p, nil
}

// serve executes the partition's operations serially until the manager
// closes the channel.
func (m *PartitionManager) serve(p *partition) {
	defer m.wg.Done()
	for op := range p.ops {
		m.execute(op)
	}
}

func (m *PartitionManager) execute(op partitionOp) {
	start := time.Now()
	err := op.fn(op.ctx)
	if m.metrics != nil {
		m.metrics.PartitionOpDuration.WithLabelValues(op.name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		m.logger.DebugContext(op.ctx, "partition operation failed",
			"operation", op.name,
			"error", err,
		)
	}
	op.done <- err
}

// PartitionCount returns the number of live partitions.
func (m *PartitionManager) PartitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.partitions)
}

func (m *PartitionManager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close stops all partitions after draining queued work.
func (m *PartitionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	// Wait out in-flight sends, then close the queues.
	m.sendMu.Lock()
	m.mu.Lock()
	for _, p := range m.partitions {
		close(p.ops)
	}
	m.mu.Unlock()
	m.sendMu.Unlock()

	m.wg.Wait()
}
