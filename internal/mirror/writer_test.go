package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/eventbus"
	"github.com/ramxx/tminus/internal/shared/infrastructure/outbox"
	storeapp "github.com/ramxx/tminus/internal/store/application"
)

// recordingProvider captures writes and can fail on demand.
type recordingProvider struct {
	mu     sync.Mutex
	writes []string
	fail   bool
}

func (p *recordingProvider) Write(_ context.Context, _, targetAccountID shared.ID, op outbox.Operation, event storeapp.MirrorEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("provider unavailable")
	}
	p.writes = append(p.writes, string(op)+":"+event.CanonicalEventID+":"+targetAccountID.String())
	return nil
}

func (p *recordingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

func intentPayload(t *testing.T, eventID, accountID shared.ID, op outbox.Operation, version int64) []byte {
	t.Helper()
	msg := outbox.NewMessage(shared.NewID(shared.PrefixUser), accountID, eventID, op, version, []byte(`{"canonical_event_id":"`+eventID.String()+`","title":"Mirrored","start":"2026-03-02T09:00:00Z","end":"2026-03-02T10:00:00Z","status":"confirmed","transparency":"opaque"}`))
	payload, err := msg.WireBytes()
	require.NoError(t, err)
	return payload
}

func runWriter(t *testing.T, bus *eventbus.InProcessBus, writer *Writer) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = writer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestWriter_WritesIntent(t *testing.T) {
	bus := eventbus.NewInProcessBus(16)
	provider := &recordingProvider{}
	writer := NewWriter(bus, provider, nil, nil)
	runWriter(t, bus, writer)

	eventID := shared.NewID(shared.PrefixEvent)
	accountID := shared.NewID(shared.PrefixAccount)
	require.NoError(t, bus.Publish(context.Background(), "mirror.upsert."+accountID.String(), intentPayload(t, eventID, accountID, outbox.OperationUpsert, 1)))

	waitFor(t, func() bool { return provider.count() == 1 })
}

func TestWriter_DeduplicatesRedeliveries(t *testing.T) {
	bus := eventbus.NewInProcessBus(16)
	provider := &recordingProvider{}
	writer := NewWriter(bus, provider, nil, nil)
	runWriter(t, bus, writer)

	eventID := shared.NewID(shared.PrefixEvent)
	accountID := shared.NewID(shared.PrefixAccount)
	payload := intentPayload(t, eventID, accountID, outbox.OperationUpsert, 1)

	// At-least-once delivery: the same intent arrives three times.
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), "mirror.upsert."+accountID.String(), payload))
	}

	waitFor(t, func() bool { return provider.count() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, provider.count(), "redeliveries of the same (event, version, operation) must not write twice")
}

func TestWriter_NewVersionIsNotDeduplicated(t *testing.T) {
	bus := eventbus.NewInProcessBus(16)
	provider := &recordingProvider{}
	writer := NewWriter(bus, provider, nil, nil)
	runWriter(t, bus, writer)

	eventID := shared.NewID(shared.PrefixEvent)
	accountID := shared.NewID(shared.PrefixAccount)
	require.NoError(t, bus.Publish(context.Background(), "mirror.upsert.a", intentPayload(t, eventID, accountID, outbox.OperationUpsert, 1)))
	require.NoError(t, bus.Publish(context.Background(), "mirror.upsert.a", intentPayload(t, eventID, accountID, outbox.OperationUpsert, 2)))
	require.NoError(t, bus.Publish(context.Background(), "mirror.delete.a", intentPayload(t, eventID, accountID, outbox.OperationDelete, 2)))

	waitFor(t, func() bool { return provider.count() == 3 })
}

func TestWriter_MalformedPayloadDropped(t *testing.T) {
	bus := eventbus.NewInProcessBus(16)
	provider := &recordingProvider{}
	writer := NewWriter(bus, provider, nil, nil)
	runWriter(t, bus, writer)

	require.NoError(t, bus.Publish(context.Background(), "mirror.upsert.x", []byte("not json")))

	// The intent is dropped, not retried; subsequent intents still flow.
	eventID := shared.NewID(shared.PrefixEvent)
	accountID := shared.NewID(shared.PrefixAccount)
	require.NoError(t, bus.Publish(context.Background(), "mirror.upsert."+accountID.String(), intentPayload(t, eventID, accountID, outbox.OperationUpsert, 1)))

	waitFor(t, func() bool { return provider.count() == 1 })
}
