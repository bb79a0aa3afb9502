package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"daochess/internal/server/board"
	"daochess/internal/server/core"
	"daochess/internal/server/game"
)

// Power is an address' voting weight for the side to move
type Power struct {
	GameID        string
	Address       string
	Competitor    game.Competitor
	SnapshotBlock uint64
	Weight        decimal.Decimal
}

// SubmitVote records a signed vote for move in the current round of gameID.
// A new move opens a proposal; a known move adds the voter's weight to it.
func (s *Service) SubmitVote(ctx context.Context, gameID, move, address, signature string) (*game.Game, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeError(err, gameID)
	}
	if !g.IsActive() {
		return nil, core.NewError(core.ErrGameOver, "game %s finished %s", gameID, g.Outcome)
	}

	t, err := s.moves.Apply(g.BoardPosition, move)
	if err != nil {
		if errors.Is(err, board.ErrIllegalMove) {
			return nil, core.NewError(core.ErrIllegalMove, "move %q is not legal in the current position", move)
		}
		return nil, core.WrapError(core.ErrInternalError, err, "stored position rejected")
	}

	signer, err := s.sigs.Recover(move, signature)
	if err != nil || signer != game.NormalizeAddress(address) {
		return nil, core.NewError(core.ErrBadSignature, "signature does not recover %s", address)
	}

	mover := g.OnMove()
	weight, err := s.power.BalanceAt(ctx, address, mover.TokenAddress, mover.TokenDecimals, g.SnapshotBlock)
	if err != nil {
		return nil, core.WrapError(core.ErrOracleUnavailable, err, "voting power lookup failed")
	}
	if !weight.IsPositive() {
		return nil, core.NewError(core.ErrNoVotingPower, "%s holds no %s tokens at block %d", address, mover.Name, g.SnapshotBlock)
	}

	if g.HasVoted(address) {
		return nil, core.NewError(core.ErrAlreadyVoted, "%s already voted this turn", address)
	}

	now := s.now().Unix()
	if now >= g.TurnDeadline && len(g.CurrentRound.Voters) > 0 {
		return nil, core.NewError(core.ErrWindowClosedPending, "voting window closed, turn awaits finalization")
	}

	next := g.Clone()
	next.AddVote(t.Move, address, weight, now)
	next.Revision++
	if err := s.store.PutGame(ctx, next); err != nil {
		return nil, storeError(err, gameID)
	}

	log.Debug().
		Str("game", gameID).
		Str("move", t.Move).
		Str("voter", game.NormalizeAddress(address)).
		Str("weight", weight.String()).
		Msg("vote recorded")

	s.waiter.NotifyGame(gameID, progressOf(next))
	return next, nil
}

// FinalizeTurn commits the winning proposal once the voting window has closed
func (s *Service) FinalizeTurn(ctx context.Context, gameID string) (*game.Game, error) {
	unlock := s.locks.Lock(gameID)
	defer unlock()

	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeError(err, gameID)
	}
	if !g.IsActive() {
		return nil, core.NewError(core.ErrGameOver, "game %s finished %s", gameID, g.Outcome)
	}
	if len(g.CurrentRound.Proposals) == 0 {
		return nil, core.NewError(core.ErrNoProposals, "no proposals this turn")
	}

	now := s.now().Unix()
	if now < g.TurnDeadline {
		return nil, core.NewError(core.ErrWindowStillOpen, "voting window open for %d more seconds", g.TurnDeadline-now)
	}

	winner, _ := g.CurrentRound.Winner()
	t, err := s.moves.Apply(g.BoardPosition, winner.Move)
	if err != nil {
		return nil, core.WrapError(core.ErrInternalError, err, "winning move %q no longer applies", winner.Move)
	}

	next := g.Clone()
	next.Advance(winner, t.Position, now)
	if t.Outcome != "" {
		next.Finish(t.Outcome, t.Method)
	}
	next.Revision++
	if err := s.store.PutGame(ctx, next); err != nil {
		return nil, storeError(err, gameID)
	}

	log.Info().
		Str("game", gameID).
		Int("moveIndex", next.MoveIndex).
		Str("move", winner.Move).
		Str("weight", winner.VoteWeight.String()).
		Msg("turn finalized")

	if !next.IsActive() {
		log.Info().Str("game", gameID).Str("outcome", next.Outcome).Str("method", next.Method).Msg("game finished")
		s.markFinished(ctx, gameID)
	}

	s.waiter.NotifyGame(gameID, progressOf(next))
	return next, nil
}

// VotingPower reports the weight address would carry in the current round
func (s *Service) VotingPower(ctx context.Context, gameID, address string) (Power, error) {
	if !game.IsAddress(address) {
		return Power{}, core.NewError(core.ErrInvalidParameters, "malformed address %q", address)
	}

	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return Power{}, storeError(err, gameID)
	}

	mover := g.OnMove()
	weight, err := s.power.BalanceAt(ctx, address, mover.TokenAddress, mover.TokenDecimals, g.SnapshotBlock)
	if err != nil {
		return Power{}, core.WrapError(core.ErrOracleUnavailable, err, "voting power lookup failed")
	}

	return Power{
		GameID:        gameID,
		Address:       game.NormalizeAddress(address),
		Competitor:    mover,
		SnapshotBlock: g.SnapshotBlock,
		Weight:        weight,
	}, nil
}

// WaitForUpdate blocks until the game moves past seen, the wait times out or ctx ends,
// then returns the current document
func (s *Service) WaitForUpdate(ctx context.Context, gameID string, seen Progress) (*game.Game, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	notify := s.waiter.RegisterWait(wctx, gameID, seen)

	g, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if progressOf(g) != seen || !g.IsActive() {
		return g, nil
	}

	select {
	case <-notify:
	case <-ctx.Done():
		return nil, core.WrapError(core.ErrRequestCancelled, ctx.Err(), "wait abandoned by caller")
	}
	return s.GetGame(ctx, gameID)
}

func progressOf(g *game.Game) Progress {
	return Progress{MoveIndex: g.MoveIndex, Voters: len(g.CurrentRound.Voters)}
}
