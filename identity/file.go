package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/world-registry/interfaces"
)

// DefaultIdentityPath is where the registry identity is kept when no location is configured.
const DefaultIdentityPath = ".registry/registry_identity.json"

// FileRepository keeps the identity record in a single JSON file.
type FileRepository struct {
	path        string
	log         *slog.Logger
	locationURI string
}

func NewFileRepository(path string, log *slog.Logger) *FileRepository {
	uri := "file://" + path
	if abs, err := filepath.Abs(path); err == nil {
		uri = "file://" + abs
	}
	return &FileRepository{
		path:        path,
		log:         log,
		locationURI: uri,
	}
}

// Load reads the identity file. A missing file yields (nil, nil).
func (r *FileRepository) Load(ctx context.Context) (*interfaces.IdentityRecord, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		r.log.Debug("No persisted identity", slog.String("path", r.path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", interfaces.ErrPersistence, r.path, err)
	}

	return decodeRecord(data, r.path)
}

// Save atomically replaces the identity file. The file is only readable by its owner.
func (r *FileRepository) Save(ctx context.Context, record interfaces.IdentityRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("%w: failed to create identity directory: %v", interfaces.ErrPersistence, err)
	}

	if err := writeFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", interfaces.ErrPersistence, r.path, err)
	}

	r.log.Debug("Stored identity", slog.String("path", r.path), slog.String("did", record.DID))
	return nil
}

// Delete removes the identity file if present.
func (r *FileRepository) Delete(ctx context.Context) error {
	err := os.Remove(r.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to delete %s: %v", interfaces.ErrPersistence, r.path, err)
	}
	return nil
}

func (r *FileRepository) Location() string {
	return r.locationURI
}

func encodeRecord(record interfaces.IdentityRecord) ([]byte, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode identity: %v", interfaces.ErrPersistence, err)
	}
	return data, nil
}

// decodeRecord parses and validates a persisted record. Any failure is corruption.
func decodeRecord(data []byte, location string) (*interfaces.IdentityRecord, error) {
	var record interfaces.IdentityRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrIdentityCorrupt, location, err)
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrIdentityCorrupt, location, err)
	}
	return &record, nil
}

// writeFile writes b to a temp file next to path, then renames it over path.
func writeFile(path string, b []byte, mode os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
