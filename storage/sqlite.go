package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/world-registry/interfaces"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS protocol_definitions (
	target        TEXT    NOT NULL,
	protocol      TEXT    NOT NULL,
	version       TEXT    NOT NULL,
	definition    TEXT    NOT NULL,
	authorization TEXT    NOT NULL,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (target, protocol, version)
)`

// SQLiteStore persists protocol definitions in a SQLite database.
// The primary key enforces (target, protocol, version) uniqueness.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  *slog.Logger
	now  func() time.Time
}

// OpenSQLiteStore opens or creates the database at path and ensures the schema exists.
func OpenSQLiteStore(ctx context.Context, path string, log *slog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", interfaces.ErrInvalidStoreURI)
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: cleanPath,
		log:  log,
		now:  time.Now,
	}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) QueryProtocols(ctx context.Context, query interfaces.ProtocolsQuery) ([]interfaces.ProtocolEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	stmt := `SELECT protocol, version, definition, authorization, created_at
		FROM protocol_definitions WHERE target = ? AND protocol = ?`
	args := []any{query.Target, query.Filter.Protocol}
	if len(query.Filter.Versions) > 0 {
		stmt += " AND version IN (?" + strings.Repeat(", ?", len(query.Filter.Versions)-1) + ")"
		for _, v := range query.Filter.Versions {
			args = append(args, v)
		}
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, s.classify("query protocol definitions", err)
	}
	defer rows.Close()

	var out []interfaces.ProtocolEntry
	for rows.Next() {
		var (
			entry      interfaces.ProtocolEntry
			definition string
			createdAt  int64
		)
		if err := rows.Scan(&entry.Protocol, &entry.Version, &definition, &entry.Authorization, &createdAt); err != nil {
			return nil, s.classify("scan protocol definition", err)
		}
		if err := json.Unmarshal([]byte(definition), &entry.Definition); err != nil {
			return nil, fmt.Errorf("decode stored definition %s@%s: %w", entry.Protocol, entry.Version, err)
		}
		entry.Target = query.Target
		entry.DateCreated = time.UnixMilli(createdAt).UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify("iterate protocol definitions", err)
	}

	sortEntries(out)
	return out, nil
}

func (s *SQLiteStore) RegisterProtocol(ctx context.Context, msg interfaces.ProtocolsConfigure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateConfigure(msg); err != nil {
		return err
	}

	definition, err := msg.Definition.Canonical()
	if err != nil {
		return fmt.Errorf("%w: encode definition: %v", interfaces.ErrDefinitionRejected, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO protocol_definitions (
		   target,
		   protocol,
		   version,
		   definition,
		   authorization,
		   created_at
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.Target,
		msg.Definition.Protocol,
		msg.Version,
		string(definition),
		msg.Authorization,
		s.now().UTC().UnixMilli(),
	)
	if err != nil {
		if isConstraintError(err) {
			return interfaces.ErrProtocolExists
		}
		return s.classify("insert protocol definition", err)
	}

	s.log.Debug("Stored protocol definition",
		slog.String("path", s.path),
		slog.String("protocol", msg.Definition.Protocol),
		slog.String("version", msg.Version))
	return nil
}

func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// classify marks lock contention and I/O failures as transient.
func (s *SQLiteStore) classify(action string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", action, err)
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_CANTOPEN:
			return fmt.Errorf("%w: %s: %v", interfaces.ErrStoreUnavailable, action, err)
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
