package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/world-registry/interfaces"
	"go.uber.org/atomic"
)

// MemoryStore keeps protocol definitions in process memory.
// It enforces (target, protocol, version) uniqueness and counts operations.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[entryKey]interfaces.ProtocolEntry
	log     *slog.Logger
	now     func() time.Time

	queries atomic.Int64
	writes  atomic.Int64
}

func NewMemoryStore(log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		entries: make(map[entryKey]interfaces.ProtocolEntry),
		log:     log,
		now:     time.Now,
	}
}

func (s *MemoryStore) QueryProtocols(ctx context.Context, query interfaces.ProtocolsQuery) ([]interfaces.ProtocolEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	s.queries.Inc()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.ProtocolEntry
	for key, entry := range s.entries {
		if key.target == query.Target && query.Filter.Matches(key.protocol, key.version) {
			out = append(out, entry)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *MemoryStore) RegisterProtocol(ctx context.Context, msg interfaces.ProtocolsConfigure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateConfigure(msg); err != nil {
		return err
	}

	key := keyOf(msg.Target, msg.Definition.Protocol, msg.Version)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return interfaces.ErrProtocolExists
	}
	s.entries[key] = newEntry(msg, s.now())
	s.writes.Inc()

	s.log.Debug("Stored protocol definition",
		slog.String("target", msg.Target),
		slog.String("protocol", msg.Definition.Protocol),
		slog.String("version", msg.Version))
	return nil
}

func (s *MemoryStore) Name() string {
	return "memory"
}

// Writes returns the number of accepted registrations.
func (s *MemoryStore) Writes() int64 {
	return s.writes.Load()
}

// Queries returns the number of answered queries.
func (s *MemoryStore) Queries() int64 {
	return s.queries.Load()
}

// Len returns the number of stored definitions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
