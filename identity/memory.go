package identity

import (
	"context"
	"sync"

	"github.com/ruteri/world-registry/interfaces"
)

// MemoryRepository keeps the identity record in memory, serialized as it would be on disk.
type MemoryRepository struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	deletes int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Load(ctx context.Context) (*interfaces.IdentityRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil {
		return nil, nil
	}
	return decodeRecord(r.data, r.Location())
}

func (r *MemoryRepository) Save(ctx context.Context, record interfaces.IdentityRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
	r.saves++
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = nil
	r.deletes++
	return nil
}

func (r *MemoryRepository) Location() string {
	return "memory://identity"
}

// SetRaw replaces the stored bytes, bypassing encoding.
func (r *MemoryRepository) SetRaw(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
}

// Raw returns the stored bytes.
func (r *MemoryRepository) Raw() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}

// Counts returns how many saves and deletes were performed.
func (r *MemoryRepository) Counts() (saves, deletes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves, r.deletes
}
