package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/ruteri/world-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := NewMemoryStore(testLogger())
	storeContract(t, store)
	assert.EqualValues(t, 3, store.Writes())
	assert.Equal(t, 3, store.Len())
}

func TestMemoryStore_Rejections(t *testing.T) {
	store := NewMemoryStore(testLogger())
	rejectionContract(t, store)
	assert.Zero(t, store.Writes())
}

func TestMemoryStore_ConcurrentRegistrationWritesOnce(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	const writers = 16
	msg := testConfigure(t, "0.0.1")
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.RegisterProtocol(ctx, msg)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, exists int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, interfaces.ErrProtocolExists)
		exists++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, exists)
	assert.EqualValues(t, 1, store.Writes())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.QueryProtocols(ctx, testQuery("0.0.1"))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, store.RegisterProtocol(ctx, testConfigure(t, "0.0.1")), context.Canceled)
	assert.Zero(t, store.Writes())
}
