package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/world-registry/interfaces"
)

// MultiStore replicates definitions across several stores.
//
// A definition counts as present only when every store holds it, so a
// registration reaches stores that missed an earlier one. Stores already
// holding the definition are skipped on write.
type MultiStore struct {
	stores []interfaces.ProtocolStore
	log    *slog.Logger
}

func NewMultiStore(stores []interfaces.ProtocolStore, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStore{
		stores: stores,
		log:    logger,
	}
}

// QueryProtocols returns the entries of the first store that every other store also holds.
func (m *MultiStore) QueryProtocols(ctx context.Context, query interfaces.ProtocolsQuery) ([]interfaces.ProtocolEntry, error) {
	if len(m.stores) == 0 {
		return nil, fmt.Errorf("%w: no stores configured", interfaces.ErrStoreUnavailable)
	}
	start := time.Now()

	var (
		result []interfaces.ProtocolEntry
		held   map[entryKey]int
	)
	for i, store := range m.stores {
		entries, err := store.QueryProtocols(ctx, query)
		if err != nil {
			m.log.Debug("Failed to query store",
				slog.String("store", store.Name()),
				"err", err)
			return nil, fmt.Errorf("%s: %w", store.Name(), err)
		}
		seen := make(map[entryKey]struct{}, len(entries))
		if i == 0 {
			result = entries
			held = make(map[entryKey]int, len(entries))
		}
		for _, entry := range entries {
			key := keyOf(entry.Target, entry.Protocol, entry.Version)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if i == 0 {
				held[key] = 1
			} else if _, ok := held[key]; ok {
				held[key]++
			}
		}
	}

	out := result[:0:0]
	for _, entry := range result {
		key := keyOf(entry.Target, entry.Protocol, entry.Version)
		if held[key] == len(m.stores) {
			out = append(out, entry)
			delete(held, key)
		}
	}

	m.log.Debug("Queried stores",
		slog.Int("stores", len(m.stores)),
		slog.Int("held_by_all", len(out)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// RegisterProtocol writes to every store. It reports ErrProtocolExists only
// when every store already held the definition.
func (m *MultiStore) RegisterProtocol(ctx context.Context, msg interfaces.ProtocolsConfigure) error {
	if len(m.stores) == 0 {
		return fmt.Errorf("%w: no stores configured", interfaces.ErrStoreUnavailable)
	}
	start := time.Now()

	var (
		written int
		errs    []error
	)
	for _, store := range m.stores {
		err := store.RegisterProtocol(ctx, msg)
		switch {
		case err == nil:
			written++
		case errors.Is(err, interfaces.ErrProtocolExists):
			m.log.Debug("Store already holds definition", slog.String("store", store.Name()))
		default:
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		}
	}

	if len(errs) > 0 {
		m.log.Warn("Failed to register with some stores",
			slog.Int("failed", len(errs)),
			slog.Int("written", written),
			slog.Duration("duration", time.Since(start)))
		return errors.Join(errs...)
	}
	if written == 0 {
		return interfaces.ErrProtocolExists
	}
	return nil
}

func (m *MultiStore) Name() string {
	names := make([]string, 0, len(m.stores))
	for _, store := range m.stores {
		names = append(names, store.Name())
	}
	return "multi[" + strings.Join(names, ",") + "]"
}

// Close closes every store that holds resources.
func (m *MultiStore) Close() error {
	var errs []error
	for _, store := range m.stores {
		if closer, ok := store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// MultiStoreFor creates a store for each URI. A single URI yields that store directly.
func MultiStoreFor(ctx context.Context, locationURIs []string, log *slog.Logger) (interfaces.ProtocolStore, error) {
	if len(locationURIs) == 0 {
		return nil, fmt.Errorf("%w: no store configured", interfaces.ErrInvalidStoreURI)
	}
	if len(locationURIs) == 1 {
		return StoreFor(ctx, locationURIs[0], log)
	}

	multi := NewMultiStore(make([]interfaces.ProtocolStore, 0, len(locationURIs)), log)
	for _, uri := range locationURIs {
		store, err := StoreFor(ctx, uri, log)
		if err != nil {
			_ = multi.Close()
			return nil, fmt.Errorf("store %q: %w", uri, err)
		}
		multi.stores = append(multi.stores, store)
	}
	return multi, nil
}
