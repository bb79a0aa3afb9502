// Package service runs the turn engine and the game registry on top of the
// game store and the chain and board oracles.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"daochess/internal/server/board"
	"daochess/internal/server/core"
	"daochess/internal/server/storage"
)

// MoveOracle validates and applies moves to a FEN position
type MoveOracle interface {
	Apply(position, move string) (board.Transition, error)
}

// SignatureVerifier recovers the signer address of a personal_sign signature
type SignatureVerifier interface {
	Recover(message, signature string) (string, error)
}

// PowerOracle reads token balances at a historical block
type PowerOracle interface {
	BalanceAt(ctx context.Context, address, token string, decimals int, block uint64) (decimal.Decimal, error)
}

// ChainHead reports the latest block number
type ChainHead interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Service coordinates turn operations, the registry and storage
type Service struct {
	store  storage.Store
	moves  MoveOracle
	sigs   SignatureVerifier
	power  PowerOracle
	head   ChainHead
	waiter *WaitRegistry

	locks      *keyedMutex
	registryMu sync.Mutex

	now   func() time.Time
	coin  func() bool
	newID func() string
}

type Option func(*Service)

// WithClock replaces the wall clock used for deadlines
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCoin replaces the color assignment coin; true makes the first competitor white
func WithCoin(coin func() bool) Option {
	return func(s *Service) { s.coin = coin }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithWaitTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.waiter = NewWaitRegistry(timeout) }
}

// New creates a service over the given store and oracles
func New(store storage.Store, moves MoveOracle, sigs SignatureVerifier, power PowerOracle, head ChainHead, opts ...Option) *Service {
	s := &Service{
		store:  store,
		moves:  moves,
		sigs:   sigs,
		power:  power,
		head:   head,
		waiter: NewWaitRegistry(WaitTimeout),
		locks:  newKeyedMutex(),
		now:    time.Now,
		coin:   func() bool { return rand.Intn(2) == 0 },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetStorageHealth returns the storage component status
func (s *Service) GetStorageHealth() string {
	if s.store.IsHealthy() {
		return "ok"
	}
	return "degraded"
}

// Shutdown gracefully shuts down the service
func (s *Service) Shutdown(timeout time.Duration) error {
	var errs []error

	if err := s.waiter.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("wait registry: %w", err))
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	return errors.Join(errs...)
}

// storeError maps a store failure for game id onto a service error code
func storeError(err error, id string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return core.NewError(core.ErrGameNotFound, "game %s not found", id)
	case errors.Is(err, storage.ErrInvalidDocument):
		return core.WrapError(core.ErrInternalError, err, "stored document failed validation")
	default:
		return core.WrapError(core.ErrStoreUnavailable, err, "game store unavailable")
	}
}
