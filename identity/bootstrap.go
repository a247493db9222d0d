package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/world-registry/cryptoutils"
	"github.com/ruteri/world-registry/interfaces"
	"github.com/ruteri/world-registry/metrics"
)

// Bootstrap paths, also used as metric labels.
const (
	PathFresh       = "fresh"
	PathStable      = "stable"
	PathRegenerated = "regenerated"
)

// BootstrapOptions tunes Bootstrap.
type BootstrapOptions struct {
	// RegenerateCorrupt makes Bootstrap replace an unparseable record instead of failing.
	RegenerateCorrupt bool

	// GenerateKey overrides key generation. Defaults to cryptoutils.GenerateVCKey.
	GenerateKey func() (interfaces.VCKey, error)

	Log *slog.Logger
}

// Bootstrap reconciles the persisted identity with the serving address and
// returns the live agent.
//
// A record bound to "did:web:"+address is reused. A record bound to another
// DID is deleted and replaced by a fresh identity. A missing record yields a
// fresh identity. An unparseable record is reported as ErrIdentityCorrupt
// unless opts.RegenerateCorrupt is set. Any failure to write or delete the
// record is fatal and no agent is returned.
func Bootstrap(ctx context.Context, address string, repo interfaces.IdentityRepository, store interfaces.ProtocolStore, opts BootstrapOptions) (*Agent, error) {
	if address == "" {
		return nil, errors.New("serving address is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	generate := opts.GenerateKey
	if generate == nil {
		generate = cryptoutils.GenerateVCKey
	}

	did := interfaces.DIDForAddress(address)
	log = log.With("did", did, "location", repo.Location())

	record, err := repo.Load(ctx)
	switch {
	case errors.Is(err, interfaces.ErrIdentityCorrupt):
		if !opts.RegenerateCorrupt {
			return nil, err
		}
		log.Warn("Registry identity corrupt, regenerating", "err", err)
		if err := repo.Delete(ctx); err != nil {
			return nil, err
		}
		return createIdentity(ctx, did, repo, store, generate, log, PathRegenerated)

	case err != nil:
		return nil, err

	case record == nil:
		return createIdentity(ctx, did, repo, store, generate, log, PathFresh)

	case record.BoundTo(did):
		log.Info("Registry identity loaded", "keyID", record.VCKey.KeyID)
		metrics.IdentityBootstraps.WithLabelValues(PathStable).Inc()
		return NewAgent(record.DID, record.VCKey, store), nil

	default:
		log.Warn("Registry DID mismatch, overwriting identity",
			"err", interfaces.ErrIdentityMismatch,
			"persistedDID", record.DID)
		if err := repo.Delete(ctx); err != nil {
			return nil, err
		}
		return createIdentity(ctx, did, repo, store, generate, log, PathRegenerated)
	}
}

func createIdentity(ctx context.Context, did string, repo interfaces.IdentityRepository, store interfaces.ProtocolStore, generate func() (interfaces.VCKey, error), log *slog.Logger, path string) (*Agent, error) {
	key, err := generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}

	record := interfaces.IdentityRecord{DID: did, VCKey: key}
	if err := repo.Save(ctx, record); err != nil {
		return nil, err
	}

	log.Info("Registry identity created", "keyID", key.KeyID, "path", path)
	metrics.IdentityBootstraps.WithLabelValues(path).Inc()
	return NewAgent(did, key, store), nil
}
