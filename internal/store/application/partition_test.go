package application

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

func TestPartitionManager_SerializesPerUser(t *testing.T) {
	m := NewPartitionManager(nil, nil)
	defer m.Close()

	userID := shared.NewID(shared.PrefixUser)
	var order []int
	var wg sync.WaitGroup

	// Concurrent submissions still execute one at a time: appending to a
	// shared slice without locks is safe inside the partition.
	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_ = m.Run(context.Background(), userID, "append", func(context.Context) error {
				order = append(order, i)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Len(t, order, 50)
}

func TestPartitionManager_IndependentUsersProceedInParallel(t *testing.T) {
	m := NewPartitionManager(nil, nil)
	defer m.Close()

	blockerStarted := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = m.Run(context.Background(), shared.NewID(shared.PrefixUser), "block", func(context.Context) error {
			close(blockerStarted)
			<-release
			return nil
		})
	}()
	<-blockerStarted

	// A different user's partition is not held up.
	ran := false
	err := m.Run(context.Background(), shared.NewID(shared.PrefixUser), "independent", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	close(release)
}

func TestPartitionManager_ErrorsPropagate(t *testing.T) {
	m := NewPartitionManager(nil, nil)
	defer m.Close()

	want := shared.E(shared.KindNotFound, "nope", "missing")
	err := m.Run(context.Background(), shared.NewID(shared.PrefixUser), "fail", func(context.Context) error {
		return want
	})
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestPartitionManager_ClosedManagerRejectsWork(t *testing.T) {
	m := NewPartitionManager(nil, nil)
	m.Close()

	err := m.Run(context.Background(), shared.NewID(shared.PrefixUser), "late", func(context.Context) error {
		return nil
	})
	assert.Error(t, err)
}
