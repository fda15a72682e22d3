package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS instances (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	port         INTEGER NOT NULL,
	map          TEXT NOT NULL DEFAULT 'de_dust2',
	player_count INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'OFFLINE',
	created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ban_history (
	id               TEXT PRIMARY KEY,
	server_id        TEXT NOT NULL,
	player_name      TEXT NOT NULL,
	steam_id         TEXT NOT NULL DEFAULT '',
	ip_address       TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL,
	banned_by        TEXT NOT NULL,
	expires_at       TIMESTAMP,
	created_at       TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS workshop_maps (
	workshop_id TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	image_url   TEXT NOT NULL DEFAULT '',
	map_file    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS plugin_versions (
	plugin_id TEXT PRIMARY KEY,
	version   TEXT NOT NULL
);
`

// Store wraps the SQLite database holding all persisted records.
type Store struct {
	db *sqlx.DB
}

// Connect opens (creating if needed) the database at path and initializes
// the schema.
func Connect(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck,gosec // error path
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddInstance inserts a new instance record.
func (s *Store) AddInstance(ctx context.Context, inst *Instance) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	if inst.Status == "" {
		inst.Status = StatusOffline
	}
	if inst.Map == "" {
		inst.Map = "de_dust2"
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO instances (id, name, port, map, player_count, status, created_at)
		VALUES (:id, :name, :port, :map, :player_count, :status, :created_at)`, inst)
	if err != nil {
		if isConstraintErr(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance returns an instance record by id.
func (s *Store) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	err := s.db.GetContext(ctx, &inst, `SELECT * FROM instances WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return &inst, nil
}

// ListInstances returns all instance records, optionally filtered by status.
func (s *Store) ListInstances(ctx context.Context, status Status) ([]Instance, error) {
	var instances []Instance
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &instances, `SELECT * FROM instances ORDER BY created_at`)
	} else {
		err = s.db.SelectContext(ctx, &instances, `SELECT * FROM instances WHERE status = ? ORDER BY created_at`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

// SetInstanceStatus updates the persisted lifecycle state of an instance.
func (s *Store) SetInstanceStatus(ctx context.Context, id string, status Status) error {
	return s.updateInstance(ctx, id, `UPDATE instances SET status = ? WHERE id = ?`, status)
}

// SetInstanceMap updates the observed map of an instance.
func (s *Store) SetInstanceMap(ctx context.Context, id, mapName string) error {
	return s.updateInstance(ctx, id, `UPDATE instances SET map = ? WHERE id = ?`, mapName)
}

// SetInstancePlayerCount updates the observed player count of an instance.
func (s *Store) SetInstancePlayerCount(ctx context.Context, id string, count int) error {
	return s.updateInstance(ctx, id, `UPDATE instances SET player_count = ? WHERE id = ?`, count)
}

// RemoveInstance deletes an instance record.
func (s *Store) RemoveInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 supports RowsAffected
		return ErrNotFound
	}
	return nil
}

func (s *Store) updateInstance(ctx context.Context, id, query string, value any) error {
	res, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 supports RowsAffected
		return ErrNotFound
	}
	return nil
}

// AddBan appends a ban audit row. The record is never mutated afterwards.
func (s *Store) AddBan(ctx context.Context, ban *BanRecord) error {
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO ban_history (id, server_id, player_name, steam_id, ip_address,
			reason, duration_minutes, banned_by, expires_at, created_at)
		VALUES (:id, :server_id, :player_name, :steam_id, :ip_address,
			:reason, :duration_minutes, :banned_by, :expires_at, :created_at)`, ban)
	if err != nil {
		if isConstraintErr(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert ban record: %w", err)
	}
	return nil
}

// ListBans returns the ban history for one instance, newest first.
func (s *Store) ListBans(ctx context.Context, serverID string) ([]BanRecord, error) {
	var bans []BanRecord
	err := s.db.SelectContext(ctx, &bans,
		`SELECT * FROM ban_history WHERE server_id = ? ORDER BY created_at DESC`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list ban records: %w", err)
	}
	return bans, nil
}

// UpsertWorkshopMap inserts or upgrades a workshop map cache entry in place.
func (s *Store) UpsertWorkshopMap(ctx context.Context, m *WorkshopMap) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO workshop_maps (workshop_id, name, image_url, map_file, created_at)
		VALUES (:workshop_id, :name, :image_url, :map_file, :created_at)
		ON CONFLICT(workshop_id) DO UPDATE SET
			name = excluded.name,
			image_url = excluded.image_url,
			map_file = excluded.map_file`, m)
	if err != nil {
		return fmt.Errorf("upsert workshop map: %w", err)
	}
	return nil
}

// GetWorkshopMap returns a cached workshop map entry by content id.
func (s *Store) GetWorkshopMap(ctx context.Context, workshopID string) (*WorkshopMap, error) {
	var m WorkshopMap
	err := s.db.GetContext(ctx, &m, `SELECT * FROM workshop_maps WHERE workshop_id = ?`, workshopID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workshop map: %w", err)
	}
	return &m, nil
}

// ListWorkshopMaps returns all cached workshop maps, newest first.
func (s *Store) ListWorkshopMaps(ctx context.Context) ([]WorkshopMap, error) {
	var maps []WorkshopMap
	err := s.db.SelectContext(ctx, &maps, `SELECT * FROM workshop_maps ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list workshop maps: %w", err)
	}
	return maps, nil
}

// RemoveWorkshopMap deletes a workshop map cache entry.
func (s *Store) RemoveWorkshopMap(ctx context.Context, workshopID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workshop_maps WHERE workshop_id = ?`, workshopID); err != nil {
		return fmt.Errorf("remove workshop map: %w", err)
	}
	return nil
}

// PluginVersion returns the pinned version for a plugin, or "" when the
// plugin has never been pinned.
func (s *Store) PluginVersion(ctx context.Context, pluginID string) (string, error) {
	var version string
	err := s.db.GetContext(ctx, &version, `SELECT version FROM plugin_versions WHERE plugin_id = ?`, pluginID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get plugin version: %w", err)
	}
	return version, nil
}

// SetPluginVersion advances the pinned version for a plugin process-wide.
func (s *Store) SetPluginVersion(ctx context.Context, pluginID, version string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_versions (plugin_id, version) VALUES (?, ?)
		ON CONFLICT(plugin_id) DO UPDATE SET version = excluded.version`, pluginID, version)
	if err != nil {
		return fmt.Errorf("set plugin version: %w", err)
	}
	return nil
}

// isConstraintErr reports whether err is a SQLite uniqueness violation.
func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
