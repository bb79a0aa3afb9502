package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"daochess/internal/server/game"
)

// SQLiteStore keeps one JSON document per game plus the registry document
type SQLiteStore struct {
	db           *sql.DB
	path         string
	healthStatus atomic.Bool
}

// NewSQLiteStore opens the database file; call InitDB before first use
func NewSQLiteStore(dataSourceName string, devMode bool) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode in development for better concurrency
	if devMode {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &SQLiteStore{
		db:   db,
		path: dataSourceName,
	}
	s.healthStatus.Store(true)

	return s, nil
}

// IsHealthy returns true if the last storage operation succeeded
func (s *SQLiteStore) IsHealthy() bool {
	return s.healthStatus.Load()
}

func (s *SQLiteStore) track(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidDocument) {
		s.healthStatus.Store(true)
		return err
	}
	if s.healthStatus.Swap(false) {
		log.Warn().Err(err).Str("path", s.path).Msg("storage degraded")
	}
	return err
}

func (s *SQLiteStore) GetGame(ctx context.Context, id string) (*game.Game, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM games WHERE game_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.track(fmt.Errorf("%w: game %s", ErrNotFound, id))
	}
	if err != nil {
		return nil, s.track(fmt.Errorf("failed to read game %s: %w", id, err))
	}
	g, err := decodeGame([]byte(doc))
	return g, s.track(err)
}

// PutGame replaces the document inside a transaction guarded by the revision check
func (s *SQLiteStore) PutGame(ctx context.Context, g *game.Game) error {
	data, err := encodeGame(g)
	if err != nil {
		return err
	}
	return s.track(s.withTx(ctx, func(tx *sql.Tx) error {
		stored := int64(-1)
		err := tx.QueryRowContext(ctx, `SELECT revision FROM games WHERE game_id = ?`, g.ID).Scan(&stored)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read revision: %w", err)
		}
		if err := checkRevision(g.ID, stored, g.Revision); err != nil {
			return err
		}

		query := `INSERT INTO games (game_id, document, move_index, status, revision, updated_at_utc)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(game_id) DO UPDATE SET
				document = excluded.document,
				move_index = excluded.move_index,
				status = excluded.status,
				revision = excluded.revision,
				updated_at_utc = excluded.updated_at_utc`
		_, err = tx.ExecContext(ctx, query, g.ID, string(data), g.MoveIndex, string(g.Status), g.Revision, time.Now().UTC())
		return err
	}))
}

func (s *SQLiteStore) DeleteGame(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE game_id = ?`, id)
	return s.track(err)
}

func (s *SQLiteStore) GetRegistry(ctx context.Context) ([]game.Summary, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM registry WHERE registry_key = ?`, registryKey).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return []game.Summary{}, s.track(nil)
	}
	if err != nil {
		return nil, s.track(fmt.Errorf("failed to read registry: %w", err))
	}
	games, err := decodeRegistry([]byte(doc))
	return games, s.track(err)
}

func (s *SQLiteStore) PutRegistry(ctx context.Context, games []game.Summary) error {
	data, err := encodeRegistry(games)
	if err != nil {
		return err
	}
	query := `INSERT INTO registry (registry_key, document, updated_at_utc) VALUES (?, ?, ?)
		ON CONFLICT(registry_key) DO UPDATE SET document = excluded.document, updated_at_utc = excluded.updated_at_utc`
	_, err = s.db.ExecContext(ctx, query, registryKey, string(data), time.Now().UTC())
	return s.track(err)
}

// QueryGames lists stored games with optional filtering, newest update first
func (s *SQLiteStore) QueryGames(gameID, status string) ([]GameRecord, error) {
	query := `SELECT game_id, move_index, status, revision, updated_at_utc FROM games WHERE 1=1`

	var args []interface{}

	if gameID != "" && gameID != "*" {
		query += " AND game_id = ?"
		args = append(args, gameID)
	}

	if status != "" && status != "*" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY updated_at_utc DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var games []GameRecord
	for rows.Next() {
		var g GameRecord
		if err := rows.Scan(&g.GameID, &g.MoveIndex, &g.Status, &g.Revision, &g.UpdatedAtUTC); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		games = append(games, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return games, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InitDB creates the database schema
func (s *SQLiteStore) InitDB() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return tx.Commit()
}

// DeleteDB removes the database file
func (s *SQLiteStore) DeleteDB() error {
	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	// DESTRUCTIVE: removes database file
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete database file: %w", err)
	}

	return nil
}
