// Package store persists instance metadata, ban history, workshop-map
// cache entries, and pinned plugin versions in a local SQLite database.
// The core treats it as a keyed record store: get by id, insert, update.
package store

import (
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// Status is the persisted lifecycle state of an instance. It is mutated
// only by the process supervisor.
type Status string

// Instance status constants.
const (
	StatusOffline    Status = "OFFLINE"
	StatusStarting   Status = "STARTING"
	StatusOnline     Status = "ONLINE"
	StatusInstalling Status = "INSTALLING"
)

// Instance is a managed game-server unit's persisted record. Map and
// PlayerCount are observed state: eventually consistent with the live
// process, refreshed by the reconciliation poller.
type Instance struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Port        int       `db:"port"`
	Map         string    `db:"map"`
	PlayerCount int       `db:"player_count"`
	Status      Status    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

// BanRecord is one append-only ban audit row. Never mutated; a later ban
// of the same subject supersedes it without dedup.
type BanRecord struct {
	ID              string     `db:"id"`
	ServerID        string     `db:"server_id"`
	PlayerName      string     `db:"player_name"`
	SteamID         string     `db:"steam_id"`
	IPAddress       string     `db:"ip_address"`
	Reason          string     `db:"reason"`
	DurationMinutes int        `db:"duration_minutes"`
	BannedBy        string     `db:"banned_by"`
	ExpiresAt       *time.Time `db:"expires_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

// WorkshopMap caches the resolved details of a workshop content id. MapFile
// is often unknown until the server itself reports it; entries are upgraded
// in place once discovered.
type WorkshopMap struct {
	WorkshopID string    `db:"workshop_id"`
	Name       string    `db:"name"`
	ImageURL   string    `db:"image_url"`
	MapFile    string    `db:"map_file"`
	CreatedAt  time.Time `db:"created_at"`
}
