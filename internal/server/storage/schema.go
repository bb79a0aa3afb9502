package storage

import "time"

// GameRecord is the queryable projection of a row in the games table
type GameRecord struct {
	GameID       string    `db:"game_id"`
	MoveIndex    int       `db:"move_index"`
	Status       string    `db:"status"`
	Revision     int64     `db:"revision"`
	UpdatedAtUTC time.Time `db:"updated_at_utc"`
}

const registryKey = "games"

// Schema defines the SQLite database structure
const Schema = `
CREATE TABLE IF NOT EXISTS games (
	game_id TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	move_index INTEGER NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('active', 'finished')),
	revision INTEGER NOT NULL,
	updated_at_utc DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_games_status ON games(status);

CREATE TABLE IF NOT EXISTS registry (
	registry_key TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	updated_at_utc DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
