package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// errCorrupted wraps snapshot decoding failures.
var errCorrupted = errors.New("cache snapshot corrupted")

// Persister saves and restores a Store snapshot in a SQLite table.
type Persister[V any] struct {
	db    *CacheDB
	table string
}

// NewPersister creates a Persister writing to table, which must be one of
// ValidCacheTableNames and already exist.
func NewPersister[V any](db *CacheDB, table string) (*Persister[V], error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	return &Persister[V]{db: db, table: table}, nil
}

// Save replaces the table contents with the live entries of s.
func (p *Persister[V]) Save(s *Store[V]) error {
	entries := s.Snapshot()

	err := p.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", p.table)); err != nil {
			return fmt.Errorf("failed to clear snapshot: %w", err)
		}

		stmt, err := tx.Prepare(fmt.Sprintf(`
			INSERT INTO %s (cache_key, data, priority, tags, access_count, ttl_ms, created_at, last_access)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.table))
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, e := range entries {
			data, err := json.Marshal(e.Value)
			if err != nil {
				slog.Warn("Failed to marshal cache entry, skipping", "key", e.Key, "error", err)
				continue
			}
			tags, err := json.Marshal(e.Tags)
			if err != nil {
				return fmt.Errorf("failed to marshal tags: %w", err)
			}
			if _, err := stmt.Exec(e.Key, string(data), e.Priority.String(), string(tags), e.AccessCount,
				e.TTL.Milliseconds(), e.CreatedAt.UnixMilli(), e.LastAccess.UnixMilli()); err != nil {
				return fmt.Errorf("failed to write cache entry %q: %w", e.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Debug("Cache snapshot saved", "table", p.table, "entries", len(entries))
	return nil
}

// Load restores the snapshot into s and returns how many entries were
// loaded. A snapshot that fails to decode is dropped and s stays empty.
func (p *Persister[V]) Load(s *Store[V]) (int, error) {
	entries, err := p.read()
	if err != nil {
		slog.Warn("Cache snapshot unreadable, rebuilding empty", "table", p.table, "error", err)
		if _, clearErr := p.db.ClearAll(p.table); clearErr != nil {
			return 0, fmt.Errorf("failed to drop corrupted snapshot: %w", clearErr)
		}
		return 0, nil
	}

	n := s.Restore(entries)
	slog.Debug("Cache snapshot loaded", "table", p.table, "rows", len(entries), "loaded", n)
	return n, nil
}

func (p *Persister[V]) read() ([]Entry[V], error) {
	var entries []Entry[V]

	err := p.db.WithTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(fmt.Sprintf(`
			SELECT cache_key, data, priority, tags, access_count, ttl_ms, created_at, last_access
			FROM %s
		`, p.table))
		if err != nil {
			return fmt.Errorf("failed to query snapshot: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				key, data, priority, tags    string
				accessCount                  int
				ttlMS, createdAt, lastAccess int64
			)
			if err := rows.Scan(&key, &data, &priority, &tags, &accessCount, &ttlMS, &createdAt, &lastAccess); err != nil {
				return fmt.Errorf("%w: %v", errCorrupted, err)
			}

			e := Entry[V]{
				Key:         key,
				CreatedAt:   time.UnixMilli(createdAt),
				LastAccess:  time.UnixMilli(lastAccess),
				AccessCount: accessCount,
				TTL:         time.Duration(ttlMS) * time.Millisecond,
				Priority:    ParsePriority(priority),
			}
			if err := json.Unmarshal([]byte(data), &e.Value); err != nil {
				return fmt.Errorf("%w: entry %q: %v", errCorrupted, key, err)
			}
			if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
				return fmt.Errorf("%w: tags of %q: %v", errCorrupted, key, err)
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}
