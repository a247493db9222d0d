package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/world-registry/diddoc"
	"github.com/ruteri/world-registry/httpserver"
	"github.com/ruteri/world-registry/identity"
	"github.com/ruteri/world-registry/interfaces"
	"github.com/ruteri/world-registry/protocol"
	"github.com/ruteri/world-registry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingStore counts writes reaching the wrapped store.
type countingStore struct {
	interfaces.ProtocolStore
	writes atomic.Int64
}

func (s *countingStore) RegisterProtocol(ctx context.Context, msg interfaces.ProtocolsConfigure) error {
	err := s.ProtocolStore.RegisterProtocol(ctx, msg)
	if err == nil {
		s.writes.Inc()
	}
	return err
}

func testConfig(repo interfaces.IdentityRepository, store interfaces.ProtocolStore) Config {
	return Config{
		Address:    "example.org",
		Repository: repo,
		Store:      store,
		Registrar: protocol.Config{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
		Log: testLogger(),
	}
}

func waitRegistration(t *testing.T, svc *Service) (protocol.State, error) {
	select {
	case <-svc.Registration().Done():
	case <-time.After(10 * time.Second):
		t.Fatal("registration did not finish")
	}
	return svc.Registration().Wait()
}

func fetchDocument(t *testing.T, svc *Service) diddoc.Document {
	router := chi.NewRouter()
	router.Get(httpserver.DIDDocumentPath, svc.Handler().HandleDIDDocument)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + httpserver.DIDDocumentPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc diddoc.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc
}

func TestStart_ExampleOrgScenario(t *testing.T) {
	dir := t.TempDir()
	identityPath := filepath.Join(dir, "registry_identity.json")
	ctx := context.Background()

	sqliteStore, err := storage.OpenSQLiteStore(ctx, filepath.Join(dir, "registry.db"), testLogger())
	require.NoError(t, err)
	defer sqliteStore.Close()

	// first run: empty identity location, empty store
	store := &countingStore{ProtocolStore: sqliteStore}
	svc, err := Start(ctx, testConfig(identity.NewFileRepository(identityPath, testLogger()), store))
	require.NoError(t, err)
	assert.Equal(t, "did:web:example.org", svc.Agent().DID())

	state, err := waitRegistration(t, svc)
	require.NoError(t, err)
	assert.Equal(t, protocol.Registered, state)
	assert.EqualValues(t, 1, store.writes.Load())
	svc.Close()

	identityFile, err := os.ReadFile(identityPath)
	require.NoError(t, err)

	entries, err := svc.Agent().QueryProtocols(ctx, interfaces.ProtocolsFilter{Protocol: "https://wired-protocol.org/protocols/world-registry"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, protocol.Version, entries[0].Version)

	// second run: same address, same store
	store = &countingStore{ProtocolStore: sqliteStore}
	svc, err = Start(ctx, testConfig(identity.NewFileRepository(identityPath, testLogger()), store))
	require.NoError(t, err)
	defer svc.Close()

	state, err = waitRegistration(t, svc)
	require.NoError(t, err)
	assert.Equal(t, protocol.AlreadyPresent, state)
	assert.Zero(t, store.writes.Load())

	unchanged, err := os.ReadFile(identityPath)
	require.NoError(t, err)
	assert.Equal(t, identityFile, unchanged)

	doc := fetchDocument(t, svc)
	assert.Equal(t, "did:web:example.org", doc.ID)
	require.Len(t, doc.VerificationMethod, 1)
	assert.Equal(t, "did:web:example.org#key-0", doc.VerificationMethod[0].ID)
	assert.Equal(t, []string{"#key-0"}, doc.AssertionMethod)
	assert.Equal(t, []string{"#key-0"}, doc.Authentication)
}

func TestStart_AddressChangeRotatesIdentity(t *testing.T) {
	ctx := context.Background()
	repo := identity.NewMemoryRepository()
	store := storage.NewMemoryStore(testLogger())

	first, err := Start(ctx, testConfig(repo, store))
	require.NoError(t, err)
	_, err = waitRegistration(t, first)
	require.NoError(t, err)
	first.Close()

	cfg := testConfig(repo, store)
	cfg.Address = "registry.example.net"
	second, err := Start(ctx, cfg)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, "did:web:registry.example.net", second.Agent().DID())
	assert.NotEqual(t, first.Agent().Authorization().KeyID, second.Agent().Authorization().KeyID)

	state, err := waitRegistration(t, second)
	require.NoError(t, err)
	assert.Equal(t, protocol.Registered, state, "a new DID owns no definitions yet")
	assert.EqualValues(t, 2, store.Writes())
}

func TestStart_RegistrationFailureDoesNotBlockServing(t *testing.T) {
	store := new(storage.MockProtocolStore)
	store.On("QueryProtocols", mock.Anything, mock.Anything).Return(nil, interfaces.ErrStoreUnavailable)

	svc, err := Start(context.Background(), testConfig(identity.NewMemoryRepository(), store))
	require.NoError(t, err)
	defer svc.Close()

	doc := fetchDocument(t, svc)
	assert.Equal(t, "did:web:example.org", doc.ID)

	state, err := waitRegistration(t, svc)
	assert.Equal(t, protocol.Failed, state)
	assert.True(t, interfaces.IsRetryable(err))
	store.AssertNotCalled(t, "RegisterProtocol", mock.Anything, mock.Anything)
}

func TestStart_CorruptIdentityIsFatal(t *testing.T) {
	repo := identity.NewMemoryRepository()
	repo.SetRaw([]byte(`{"did": "did:web:example.org", "vc_key": 42}`))
	store := new(storage.MockProtocolStore)

	_, err := Start(context.Background(), testConfig(repo, store))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrIdentityCorrupt)
	store.AssertNotCalled(t, "QueryProtocols", mock.Anything, mock.Anything)
}
