package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/world-registry/interfaces"
)

const vaultIdentityKey = "identity"

// VaultRepository keeps the identity record in a HashiCorp Vault KV v2 secret.
// The client token is taken from the environment (VAULT_TOKEN).
type VaultRepository struct {
	client      *api.Client
	mountPath   string
	secretPath  string
	log         *slog.Logger
	locationURI string
}

// NewVaultRepository creates a repository for the secret at mountPath/secretPath.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount (e.g. "secret")
//   - secretPath: secret path within the mount (e.g. "world-registry/identity")
func NewVaultRepository(address, mountPath, secretPath string, log *slog.Logger) (*VaultRepository, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	mountPath = strings.Trim(mountPath, "/")
	secretPath = strings.Trim(secretPath, "/")
	if mountPath == "" || secretPath == "" {
		return nil, fmt.Errorf("%w: vault mount and secret path are required", interfaces.ErrInvalidStoreURI)
	}

	return &VaultRepository{
		client:      client,
		mountPath:   mountPath,
		secretPath:  secretPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, secretPath),
	}, nil
}

// Load reads the secret. A missing or deleted secret yields (nil, nil).
func (r *VaultRepository) Load(ctx context.Context) (*interfaces.IdentityRecord, error) {
	path := r.dataPath()

	secret, err := r.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s from Vault: %v", interfaces.ErrPersistence, path, err)
	}
	if secret == nil || secret.Data == nil {
		r.log.Debug("No persisted identity in Vault", slog.String("path", path))
		return nil, nil
	}

	// KV v2 keeps the payload under "data"; a soft-deleted version has a nil payload.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, nil
	}

	content, ok := data[vaultIdentityKey].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing %q key", interfaces.ErrIdentityCorrupt, r.locationURI, vaultIdentityKey)
	}

	return decodeRecord([]byte(content), r.locationURI)
}

func (r *VaultRepository) Save(ctx context.Context, record interfaces.IdentityRecord) error {
	path := r.dataPath()

	content, err := encodeRecord(record)
	if err != nil {
		return err
	}

	_, err = r.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			vaultIdentityKey: string(content),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to write %s to Vault: %v", interfaces.ErrPersistence, path, err)
	}

	r.log.Info("Stored identity in Vault", slog.String("path", path), slog.String("did", record.DID))
	return nil
}

// Delete removes every version of the secret.
func (r *VaultRepository) Delete(ctx context.Context) error {
	path := fmt.Sprintf("%s/metadata/%s", r.mountPath, r.secretPath)

	if _, err := r.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("%w: failed to delete %s from Vault: %v", interfaces.ErrPersistence, path, err)
	}
	return nil
}

func (r *VaultRepository) Location() string {
	return r.locationURI
}

func (r *VaultRepository) dataPath() string {
	return fmt.Sprintf("%s/data/%s", r.mountPath, r.secretPath)
}
