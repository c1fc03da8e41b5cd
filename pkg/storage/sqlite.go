package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/cord/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a single SQLite file. The state table
// holds exactly one row.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) cord.sqlite3 in dataDir
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "cord.sqlite3"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			data TEXT NOT NULL
		)`,
	); err != nil {
		return fmt.Errorf("failed to create state table: %w", err)
	}
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS request_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			direction TEXT NOT NULL,
			op TEXT NOT NULL,
			path TEXT NOT NULL,
			payload TEXT
		)`,
	); err != nil {
		return fmt.Errorf("failed to create request_log table: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadSnapshot() (types.Node, bool, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM state WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Node{}, false, nil
	}
	if err != nil {
		return types.Node{}, false, fmt.Errorf("failed to query state: %w", err)
	}
	root, err := decodeSnapshot([]byte(data))
	if err != nil {
		return types.Node{}, true, err
	}
	return root, true, nil
}

func (s *SQLiteStore) SaveSnapshot(root types.Node) error {
	data, err := json.Marshal(root)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO state (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		string(data),
	)
	return err
}

func (s *SQLiteStore) AppendRequestLog(entry *RequestLogEntry) error {
	res, err := s.db.Exec(
		`INSERT INTO request_log (ts_ms, direction, op, path, payload) VALUES (?, ?, ?, ?, ?)`,
		entry.At.UnixMilli(), entry.Direction, entry.Op, entry.Path, entry.Payload,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = uint64(id)
	return nil
}

func (s *SQLiteStore) ListRequestLog(limit int) ([]*RequestLogEntry, error) {
	query := `SELECT id, ts_ms, direction, op, path, COALESCE(payload, '') FROM request_log ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var entries []*RequestLogEntry
	for rows.Next() {
		var (
			entry RequestLogEntry
			tsMs  int64
		)
		if err := rows.Scan(&entry.ID, &tsMs, &entry.Direction, &entry.Op, &entry.Path, &entry.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		entry.At = time.UnixMilli(tsMs)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
