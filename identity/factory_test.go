package identity

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/world-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryFor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		location string
		wantType any
		wantErr  bool
	}{
		{"default", "", &FileRepository{}, false},
		{"plain path", "/var/lib/registry/identity.json", &FileRepository{}, false},
		{"file uri", "file:///var/lib/registry/identity.json", &FileRepository{}, false},
		{"vault", "vault://vault.example.com:8200/secret/world-registry/identity", &VaultRepository{}, false},
		{"vault without path", "vault://vault.example.com:8200/secret", nil, true},
		{"memory", "memory://", &MemoryRepository{}, false},
		{"unsupported", "ftp://example.org/identity.json", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := RepositoryFor(tt.location, logger)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, interfaces.ErrInvalidStoreURI)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, repo)
		})
	}
}

func TestRepositoryFor_Locations(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := RepositoryFor("file:///var/lib/registry/identity.json", logger)
	require.NoError(t, err)
	assert.Equal(t, "file:///var/lib/registry/identity.json", repo.Location())

	repo, err = RepositoryFor("vault://vault.example.com:8200/secret/world-registry/identity?tls=false", logger)
	require.NoError(t, err)
	assert.Equal(t, "vault://vault.example.com:8200/secret/world-registry/identity", repo.Location())
}
