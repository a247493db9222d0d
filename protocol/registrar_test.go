package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/world-registry/cryptoutils"
	"github.com/ruteri/world-registry/identity"
	"github.com/ruteri/world-registry/interfaces"
	"github.com/ruteri/world-registry/metrics"
	"github.com/ruteri/world-registry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const worldRegistryProtocol = "https://wired-protocol.org/protocols/world-registry"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		OpTimeout:       time.Second,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Log:             testLogger(),
	}
}

func newTestAgent(t *testing.T, store interfaces.ProtocolStore) *identity.Agent {
	key, err := cryptoutils.GenerateVCKey()
	require.NoError(t, err)
	return identity.NewAgent("did:web:example.org", key, store)
}

func newTestRegistrar(t *testing.T, client Client) *Registrar {
	r, err := NewWorldRegistrar(client, testConfig())
	require.NoError(t, err)
	return r
}

func unavailable(msg string) error {
	return fmt.Errorf("%w: %s", interfaces.ErrStoreUnavailable, msg)
}

func TestRegistrar_RegistersWhenAbsent(t *testing.T) {
	store := storage.NewMemoryStore(testLogger())
	agent := newTestAgent(t, store)
	before := testutil.ToFloat64(metrics.ProtocolRegistrations.WithLabelValues("registered"))

	r := newTestRegistrar(t, agent)
	assert.Equal(t, NotChecked, r.State())

	state, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Registered, state)
	assert.Equal(t, Registered, r.State())
	assert.EqualValues(t, 1, store.Writes())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ProtocolRegistrations.WithLabelValues("registered")))

	entries, err := agent.QueryProtocols(context.Background(), interfaces.ProtocolsFilter{Protocol: worldRegistryProtocol})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Version, entries[0].Version)
	assert.True(t, entries[0].Definition.Published)

	pub, err := agent.Authorization().PublicJWK()
	require.NoError(t, err)
	_, err = cryptoutils.VerifyCompact(entries[0].Authorization, pub)
	assert.NoError(t, err)
}

func TestRegistrar_Idempotent(t *testing.T) {
	store := storage.NewMemoryStore(testLogger())
	agent := newTestAgent(t, store)

	state, err := newTestRegistrar(t, agent).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Registered, state)

	state, err = newTestRegistrar(t, agent).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, state)

	assert.EqualValues(t, 1, store.Writes())
	assert.Equal(t, 1, store.Len())
}

func TestRegistrar_IdempotentAcrossReplicatedStores(t *testing.T) {
	a := storage.NewMemoryStore(testLogger())
	b := storage.NewMemoryStore(testLogger())
	multi := storage.NewMultiStore([]interfaces.ProtocolStore{a, b}, testLogger())
	agent := newTestAgent(t, multi)

	state, err := newTestRegistrar(t, agent).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Registered, state)

	state, err = newTestRegistrar(t, agent).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, state)

	assert.EqualValues(t, 1, a.Writes())
	assert.EqualValues(t, 1, b.Writes())
}

func TestRegistrar_ZeroWritesWhenPresent(t *testing.T) {
	store := new(storage.MockProtocolStore)
	agent := newTestAgent(t, store)

	def, _, err := WorldRegistry()
	require.NoError(t, err)

	store.On("QueryProtocols", mock.Anything, mock.MatchedBy(func(q interfaces.ProtocolsQuery) bool {
		return q.Target == "did:web:example.org" &&
			q.Filter.Protocol == worldRegistryProtocol &&
			len(q.Filter.Versions) == 1 && q.Filter.Versions[0] == Version
	})).Return([]interfaces.ProtocolEntry{{
		Target:     "did:web:example.org",
		Protocol:   worldRegistryProtocol,
		Version:    Version,
		Definition: def,
	}}, nil)

	state, err := newTestRegistrar(t, agent).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, state)

	store.AssertNumberOfCalls(t, "QueryProtocols", 1)
	store.AssertNotCalled(t, "RegisterProtocol", mock.Anything, mock.Anything)
}

func TestRegistrar_RunsOnce(t *testing.T) {
	store := storage.NewMemoryStore(testLogger())
	r := newTestRegistrar(t, newTestAgent(t, store))

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	state, err := r.Run(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrRegistrarAlreadyRun)
	assert.Equal(t, Registered, state)
	assert.EqualValues(t, 1, store.Queries())
	assert.EqualValues(t, 1, store.Writes())
}

func TestRegistrar_ExistsOnWriteIsAlreadyPresent(t *testing.T) {
	store := new(storage.MockProtocolStore)
	store.On("QueryProtocols", mock.Anything, mock.Anything).Return([]interfaces.ProtocolEntry{}, nil)
	store.On("RegisterProtocol", mock.Anything, mock.Anything).Return(interfaces.ErrProtocolExists)

	state, err := newTestRegistrar(t, newTestAgent(t, store)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, state)
	store.AssertNumberOfCalls(t, "RegisterProtocol", 1)
}

func TestRegistrar_RetriesTransientErrors(t *testing.T) {
	store := new(storage.MockProtocolStore)
	store.On("QueryProtocols", mock.Anything, mock.Anything).Return(nil, unavailable("connection reset")).Twice()
	store.On("QueryProtocols", mock.Anything, mock.Anything).Return([]interfaces.ProtocolEntry{}, nil).Once()
	store.On("RegisterProtocol", mock.Anything, mock.Anything).Return(unavailable("busy")).Once()
	store.On("RegisterProtocol", mock.Anything, mock.Anything).Return(nil).Once()

	state, err := newTestRegistrar(t, newTestAgent(t, store)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Registered, state)

	store.AssertNumberOfCalls(t, "QueryProtocols", 3)
	store.AssertNumberOfCalls(t, "RegisterProtocol", 2)
}

func TestRegistrar_DoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name      string
		queryErr  error
		writeErr  error
		wantOp    interfaces.StoreOp
		wantCause error
	}{
		{
			name:      "query rejected",
			queryErr:  fmt.Errorf("%w: unauthorized", interfaces.ErrDefinitionRejected),
			wantOp:    interfaces.StoreOpQuery,
			wantCause: interfaces.ErrDefinitionRejected,
		},
		{
			name:      "write rejected",
			writeErr:  fmt.Errorf("%w: invalid structure", interfaces.ErrDefinitionRejected),
			wantOp:    interfaces.StoreOpRegister,
			wantCause: interfaces.ErrDefinitionRejected,
		},
		{
			name:     "write unclassified",
			writeErr: errors.New("unexpected reply"),
			wantOp:   interfaces.StoreOpRegister,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(storage.MockProtocolStore)
			if tt.queryErr != nil {
				store.On("QueryProtocols", mock.Anything, mock.Anything).Return(nil, tt.queryErr)
			} else {
				store.On("QueryProtocols", mock.Anything, mock.Anything).Return([]interfaces.ProtocolEntry{}, nil)
				store.On("RegisterProtocol", mock.Anything, mock.Anything).Return(tt.writeErr)
			}

			r := newTestRegistrar(t, newTestAgent(t, store))
			state, err := r.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, Failed, state)
			assert.Equal(t, Failed, r.State())
			assert.False(t, interfaces.IsRetryable(err))

			var storeErr *interfaces.StoreError
			require.ErrorAs(t, err, &storeErr)
			assert.Equal(t, tt.wantOp, storeErr.Op)
			assert.Equal(t, "mock", storeErr.Store)
			if tt.wantCause != nil {
				assert.ErrorIs(t, err, tt.wantCause)
			}

			if tt.queryErr != nil {
				store.AssertNumberOfCalls(t, "QueryProtocols", 1)
				store.AssertNotCalled(t, "RegisterProtocol", mock.Anything, mock.Anything)
			} else {
				store.AssertNumberOfCalls(t, "RegisterProtocol", 1)
			}
		})
	}
}

func TestRegistrar_GivesUpAfterMaxAttempts(t *testing.T) {
	store := new(storage.MockProtocolStore)
	store.On("QueryProtocols", mock.Anything, mock.Anything).Return(nil, unavailable("down"))

	state, err := newTestRegistrar(t, newTestAgent(t, store)).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, state)
	assert.True(t, interfaces.IsRetryable(err))

	var storeErr *interfaces.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, interfaces.StoreOpQuery, storeErr.Op)

	store.AssertNumberOfCalls(t, "QueryProtocols", 3)
	store.AssertNotCalled(t, "RegisterProtocol", mock.Anything, mock.Anything)
}

func TestRegistrar_BoundsEachAttempt(t *testing.T) {
	store := new(storage.MockProtocolStore)
	store.On("QueryProtocols", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded)

	cfg := testConfig()
	cfg.OpTimeout = 10 * time.Millisecond
	cfg.MaxAttempts = 2
	r, err := NewWorldRegistrar(newTestAgent(t, store), cfg)
	require.NoError(t, err)

	state, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, state)
	assert.True(t, interfaces.IsRetryable(err))
	store.AssertNumberOfCalls(t, "QueryProtocols", 2)
}

func TestTask_Wait(t *testing.T) {
	store := storage.NewMemoryStore(testLogger())
	task := newTestRegistrar(t, newTestAgent(t, store)).Start(context.Background())

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("registrar task did not finish")
	}

	state, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, Registered, state)
	assert.Equal(t, Registered, task.State())
}

func TestTask_Cancel(t *testing.T) {
	store := new(storage.MockProtocolStore)
	started := make(chan struct{})
	store.On("QueryProtocols", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Once()

	cfg := testConfig()
	cfg.OpTimeout = time.Minute
	r, err := NewWorldRegistrar(newTestAgent(t, store), cfg)
	require.NoError(t, err)

	task := r.Start(context.Background())
	<-started
	task.Cancel()

	state, err := task.Wait()
	assert.Equal(t, Failed, state)
	assert.ErrorIs(t, err, context.Canceled)
	store.AssertNotCalled(t, "RegisterProtocol", mock.Anything, mock.Anything)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "already_present", AlreadyPresent.String())
	assert.Equal(t, "registered", Registered.String())
	assert.Equal(t, "unknown", State(42).String())
}
