// Package storage persists game documents and the game registry.
// Every write replaces a whole document; game writes are compare-and-swap on
// the document revision so a stale read can never overwrite a newer turn.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"daochess/internal/server/game"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrConflict        = errors.New("document revision conflict")
	ErrInvalidDocument = errors.New("invalid document")
)

// Store is the game store contract consumed by the service
type Store interface {
	GetGame(ctx context.Context, id string) (*game.Game, error)
	// PutGame writes g if the stored revision is g.Revision-1 (or absent for revision 1)
	PutGame(ctx context.Context, g *game.Game) error
	DeleteGame(ctx context.Context, id string) error
	// GetRegistry returns an empty list when no registry was written yet
	GetRegistry(ctx context.Context) ([]game.Summary, error)
	PutRegistry(ctx context.Context, games []game.Summary) error
	IsHealthy() bool
	Close() error
}

func encodeGame(g *game.Game) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return json.Marshal(g)
}

func decodeGame(data []byte) (*game.Game, error) {
	var g game.Game
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: game %s: %v", ErrInvalidDocument, g.ID, err)
	}
	return &g, nil
}

func encodeRegistry(games []game.Summary) ([]byte, error) {
	for _, s := range games {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}
	if games == nil {
		games = []game.Summary{}
	}
	return json.Marshal(games)
}

func decodeRegistry(data []byte) ([]game.Summary, error) {
	var games []game.Summary
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&games); err != nil {
		return nil, fmt.Errorf("%w: registry: %v", ErrInvalidDocument, err)
	}
	for _, s := range games {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}
	if games == nil {
		games = []game.Summary{}
	}
	return games, nil
}

// checkRevision enforces the compare-and-swap rule; stored is -1 when absent
func checkRevision(id string, stored, next int64) error {
	if stored < 0 {
		stored = 0
	}
	if next != stored+1 {
		return fmt.Errorf("%w: game %s at revision %d, write carries %d", ErrConflict, id, stored, next)
	}
	return nil
}
