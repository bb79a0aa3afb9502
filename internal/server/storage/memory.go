package storage

import (
	"context"
	"fmt"
	"sync"

	"daochess/internal/server/game"
)

// MemoryStore keeps encoded documents in process; used when persistence is disabled
type MemoryStore struct {
	mu       sync.RWMutex
	games    map[string][]byte
	revs     map[string]int64
	registry []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games: make(map[string][]byte),
		revs:  make(map[string]int64),
	}
}

func (m *MemoryStore) GetGame(ctx context.Context, id string) (*game.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.games[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: game %s", ErrNotFound, id)
	}
	return decodeGame(data)
}

func (m *MemoryStore) PutGame(ctx context.Context, g *game.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeGame(g)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.revs[g.ID]
	if !ok {
		stored = -1
	}
	if err := checkRevision(g.ID, stored, g.Revision); err != nil {
		return err
	}
	m.games[g.ID] = data
	m.revs[g.ID] = g.Revision
	return nil
}

func (m *MemoryStore) DeleteGame(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, id)
	delete(m.revs, id)
	return nil
}

func (m *MemoryStore) GetRegistry(ctx context.Context) ([]game.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data := m.registry
	m.mu.RUnlock()
	if data == nil {
		return []game.Summary{}, nil
	}
	return decodeRegistry(data)
}

func (m *MemoryStore) PutRegistry(ctx context.Context, games []game.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeRegistry(games)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.registry = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) IsHealthy() bool {
	return true
}

func (m *MemoryStore) Close() error {
	return nil
}
