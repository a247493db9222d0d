package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/world-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTarget   = "did:web:example.org"
	testProtocol = "https://example.org/protocols/test"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDefinition(t *testing.T) interfaces.ProtocolDefinition {
	var def interfaces.ProtocolDefinition
	require.NoError(t, json.Unmarshal([]byte(`{
		"protocol": "`+testProtocol+`",
		"published": true,
		"types": {"post": {"dataFormats": ["application/json"]}},
		"structure": {"post": {"$actions": [{"who": "anyone", "can": "read"}]}}
	}`), &def))
	return def
}

func testConfigure(t *testing.T, version string) interfaces.ProtocolsConfigure {
	return interfaces.ProtocolsConfigure{
		Target:        testTarget,
		Definition:    testDefinition(t),
		Version:       version,
		Authorization: "signed",
		Timestamp:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testQuery(versions ...string) interfaces.ProtocolsQuery {
	return interfaces.ProtocolsQuery{
		Target:        testTarget,
		Filter:        interfaces.ProtocolsFilter{Protocol: testProtocol, Versions: versions},
		Authorization: "signed",
	}
}

// storeContract runs the behaviour every store must share.
func storeContract(t *testing.T, store interfaces.ProtocolStore) {
	ctx := context.Background()

	entries, err := store.QueryProtocols(ctx, testQuery("0.0.1"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, store.RegisterProtocol(ctx, testConfigure(t, "0.0.1")))
	require.NoError(t, store.RegisterProtocol(ctx, testConfigure(t, "0.0.10")))
	require.NoError(t, store.RegisterProtocol(ctx, testConfigure(t, "0.0.2")))

	err = store.RegisterProtocol(ctx, testConfigure(t, "0.0.1"))
	assert.ErrorIs(t, err, interfaces.ErrProtocolExists)

	entries, err = store.QueryProtocols(ctx, testQuery("0.0.1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testTarget, entries[0].Target)
	assert.Equal(t, testProtocol, entries[0].Protocol)
	assert.Equal(t, "0.0.1", entries[0].Version)
	assert.Equal(t, "signed", entries[0].Authorization)
	assert.True(t, entries[0].Definition.Published)
	assert.Equal(t, testDefinition(t), entries[0].Definition)

	entries, err = store.QueryProtocols(ctx, testQuery())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"0.0.1", "0.0.2", "0.0.10"},
		[]string{entries[0].Version, entries[1].Version, entries[2].Version})

	other := testQuery()
	other.Target = "did:web:other.example"
	entries, err = store.QueryProtocols(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// rejectionContract checks that invalid messages never reach storage.
func rejectionContract(t *testing.T, store interfaces.ProtocolStore) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*interfaces.ProtocolsConfigure)
	}{
		{"missing target", func(m *interfaces.ProtocolsConfigure) { m.Target = "" }},
		{"unauthorized", func(m *interfaces.ProtocolsConfigure) { m.Authorization = "" }},
		{"bad version", func(m *interfaces.ProtocolsConfigure) { m.Version = "v1" }},
		{"missing protocol", func(m *interfaces.ProtocolsConfigure) { m.Definition.Protocol = "" }},
		{"undeclared type", func(m *interfaces.ProtocolsConfigure) {
			m.Definition.Types = map[string]interfaces.TypeEntry{}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testConfigure(t, "1.0.0")
			tt.mutate(&msg)
			err := store.RegisterProtocol(ctx, msg)
			assert.ErrorIs(t, err, interfaces.ErrDefinitionRejected)
			assert.False(t, interfaces.IsRetryable(err))
		})
	}

	_, err := store.QueryProtocols(ctx, interfaces.ProtocolsQuery{Target: testTarget, Authorization: "signed"})
	assert.ErrorIs(t, err, interfaces.ErrDefinitionRejected)
}
