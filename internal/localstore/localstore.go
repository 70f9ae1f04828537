// Package localstore persists the peer-local room directory (name,
// manifest snapshot, last-seen timestamp) a home screen lists, backed by
// SQLite the way the donor's internal/storage package backs its message
// history: WAL journaling, a busy timeout, and an idempotent migration.
package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

// Store is the SQLite-backed LocalStore: storage is opaque to the core
// sync engine, which only ever sees this interface's four operations.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite file at dsn and applies pragmas
// matching the donor's own WAL-mode idiom.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, utils.NewPersistenceError("open sqlite").WithCause(err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, utils.NewPersistenceError("ping sqlite").WithCause(err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, utils.NewPersistenceError(fmt.Sprintf("apply pragma %q", pragma)).WithCause(err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT,
	manifest_json TEXT NOT NULL DEFAULT '{}',
	last_seen INTEGER NOT NULL DEFAULT 0
);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return utils.NewPersistenceError("migrate rooms table").WithCause(err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return utils.NewPersistenceError("close sqlite").WithCause(err)
	}
	return nil
}

// SaveRoom inserts or replaces the directory entry for meta.ID.
func (s *Store) SaveRoom(meta models.RoomMeta) error {
	manifestJSON, err := json.Marshal(meta.Manifest)
	if err != nil {
		return utils.NewInvalidArgumentError("marshal manifest").WithCause(err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO rooms (id, name, manifest_json, last_seen) VALUES (?, ?, ?, ?)`,
		string(meta.ID), meta.Name, string(manifestJSON), meta.LastSeen,
	)
	if err != nil {
		return utils.NewPersistenceError("save room").WithCause(err)
	}
	return nil
}

// GetRoom returns the directory entry for id, or ErrRoomNotFound.
func (s *Store) GetRoom(id models.RoomID) (models.RoomMeta, error) {
	row := s.db.QueryRow(`SELECT id, name, manifest_json, last_seen FROM rooms WHERE id = ?`, string(id))
	return scanRoom(row)
}

// GetRooms lists every known room, most recently seen first.
func (s *Store) GetRooms() ([]models.RoomMeta, error) {
	rows, err := s.db.Query(`SELECT id, name, manifest_json, last_seen FROM rooms ORDER BY last_seen DESC`)
	if err != nil {
		return nil, utils.NewPersistenceError("list rooms").WithCause(err)
	}
	defer rows.Close()

	var out []models.RoomMeta
	for rows.Next() {
		meta, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewPersistenceError("iterate rooms").WithCause(err)
	}
	return out, nil
}

// UpdateRoomLastSeen bumps id's last-seen timestamp without touching its
// name or manifest.
func (s *Store) UpdateRoomLastSeen(id models.RoomID, lastSeen int64) error {
	res, err := s.db.Exec(`UPDATE rooms SET last_seen = ? WHERE id = ?`, lastSeen, string(id))
	if err != nil {
		return utils.NewPersistenceError("update last seen").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return utils.NewPersistenceError("check rows affected").WithCause(err)
	}
	if n == 0 {
		return models.ErrRoomNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRoom(row scannable) (models.RoomMeta, error) {
	var (
		id, name, manifestJSON string
		lastSeen               int64
	)
	if err := row.Scan(&id, &name, &manifestJSON, &lastSeen); err != nil {
		if err == sql.ErrNoRows {
			return models.RoomMeta{}, models.ErrRoomNotFound
		}
		return models.RoomMeta{}, utils.NewPersistenceError("scan room row").WithCause(err)
	}
	var manifest models.Manifest
	if err := json.Unmarshal([]byte(manifestJSON), &manifest); err != nil {
		return models.RoomMeta{}, utils.NewPersistenceError("unmarshal manifest").WithCause(err)
	}
	return models.RoomMeta{ID: models.RoomID(id), Name: name, Manifest: manifest, LastSeen: lastSeen}, nil
}
