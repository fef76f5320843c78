package cache

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// Store persists cache snapshots in SQLite so a restarted client can show
// the last known data while it refreshes.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	types map[string]reflect.Type
	once  sync.Once
}

// OpenStore opens (or creates) the snapshot database at path.
// An empty path or ":memory:" uses an in-memory database.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		value BLOB NOT NULL,
		fetched_at INTEGER NOT NULL,
		stale_time INTEGER NOT NULL DEFAULT 0,
		gc_time INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, types: make(map[string]reflect.Type)}, nil
}

// Register makes the concrete type of sample decodable. Entries whose type
// was not registered are skipped on Load.
func (s *Store) Register(samples ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range samples {
		t := reflect.TypeOf(v)
		s.types[typeName(t)] = t
	}
}

func typeName(t reflect.Type) string {
	return t.PkgPath() + "." + t.Name()
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, t reflect.Type) (any, error) {
	ptr := reflect.New(t)
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

// Save replaces the stored snapshots with snaps. Entries of unregistered
// types are not written.
func (s *Store) Save(ctx context.Context, snaps []EntrySnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range snaps {
		if !snap.Present || snap.Data == nil {
			continue
		}
		name := typeName(reflect.TypeOf(snap.Data))
		if _, ok := s.types[name]; !ok {
			continue
		}
		data, err := encode(snap.Data)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", snap.Key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (key, type, value, fetched_at, stale_time, gc_time) VALUES (?, ?, ?, ?, ?, ?)`,
			snap.Key.String(), name, data, snap.FetchedAt.UnixNano(),
			int64(snap.Policy.StaleTime), int64(snap.Policy.GCTime),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load returns the stored snapshots. Rows that cannot be decoded are
// skipped.
func (s *Store) Load(ctx context.Context) ([]EntrySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, type, value, fetched_at, stale_time, gc_time FROM entries ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []EntrySnapshot
	for rows.Next() {
		var (
			ks, name  string
			value     []byte
			fetchedAt int64
			staleTime int64
			gcTime    int64
		)
		if err := rows.Scan(&ks, &name, &value, &fetchedAt, &staleTime, &gcTime); err != nil {
			return nil, err
		}
		t, ok := s.types[name]
		if !ok {
			continue
		}
		key, err := ParseKey(ks)
		if err != nil {
			continue
		}
		data, err := decode(value, t)
		if err != nil {
			continue
		}
		out = append(out, EntrySnapshot{
			Key:       key,
			Present:   true,
			Data:      data,
			FetchedAt: time.Unix(0, fetchedAt),
			Stale:     true,
			Policy:    Policy{StaleTime: time.Duration(staleTime), GCTime: time.Duration(gcTime)},
		})
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}
