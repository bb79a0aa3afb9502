package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"daochess/internal/server/board"
	"daochess/internal/server/core"
	"daochess/internal/server/game"
)

// compensationTimeout bounds registry writes that must outlive the request context
const compensationTimeout = 5 * time.Second

// CreateGame registers a new match between two DAOs.
// The registry is written first; if the game document write then fails the
// previous registry is put back.
func (s *Service) CreateGame(ctx context.Context, competitors []core.CompetitorConfig, turnTimeoutMinutes int) (*game.Game, error) {
	pair, err := checkCompetitors(competitors)
	if err != nil {
		return nil, err
	}
	if turnTimeoutMinutes*60 < game.MinTurnTimeoutSeconds {
		return nil, core.NewError(core.ErrInvalidParameters, "turn timeout must be at least %d minutes", game.MinTurnTimeoutSeconds/60)
	}

	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	prev, err := s.store.GetRegistry(ctx)
	if err != nil {
		return nil, storeError(err, "registry")
	}
	for _, existing := range prev {
		if existing.Status == core.StatusActive && existing.Pairs(pair[0].TokenAddress, pair[1].TokenAddress) {
			return nil, core.NewError(core.ErrDuplicatePairing, "active game %s already pairs these tokens", existing.ID)
		}
	}

	block, err := s.head.BlockNumber(ctx)
	if err != nil {
		return nil, core.WrapError(core.ErrOracleUnavailable, err, "chain head unavailable")
	}

	if s.coin() {
		pair[0].IsWhite = true
	} else {
		pair[1].IsWhite = true
	}

	g := game.New(s.newID(), pair, int64(turnTimeoutMinutes)*60, block, s.now().Unix(), board.StartingFEN)
	g.Revision++

	next := make([]game.Summary, 0, len(prev)+1)
	next = append(next, g.Summary())
	next = append(next, prev...)
	if err := s.store.PutRegistry(ctx, next); err != nil {
		return nil, storeError(err, "registry")
	}

	if err := s.store.PutGame(ctx, g); err != nil {
		// The request context may be what failed the write
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
		defer cancel()
		if rerr := s.store.PutRegistry(rctx, prev); rerr != nil {
			log.Error().Err(rerr).Str("game", g.ID).Msg("registry restore failed, orphan summary left behind")
		}
		return nil, core.WrapError(core.ErrStoreUnavailable, err, "game document write failed")
	}

	log.Info().
		Str("game", g.ID).
		Str("white", g.OnMove().Name).
		Uint64("snapshotBlock", block).
		Int64("turnTimeoutSeconds", g.TurnTimeoutSeconds).
		Msg("game created")

	return g, nil
}

// ListGames returns the registry, newest first; an unreadable store yields an empty list
func (s *Service) ListGames(ctx context.Context) []game.Summary {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	games, err := s.store.GetRegistry(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("registry unavailable, serving empty list")
		return []game.Summary{}
	}
	return games
}

// GetGame returns the full document of a game
func (s *Service) GetGame(ctx context.Context, gameID string) (*game.Game, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeError(err, gameID)
	}
	return g, nil
}

// markFinished flips the registry summary of gameID; the game document stays authoritative on failure
func (s *Service) markFinished(ctx context.Context, gameID string) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	// The game document is already committed; finish the summary even if the caller left
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	games, err := s.store.GetRegistry(ctx)
	if err != nil {
		log.Error().Err(err).Str("game", gameID).Msg("registry read failed, summary left active")
		return
	}
	for i := range games {
		if games[i].ID == gameID {
			games[i].Status = core.StatusFinished
		}
	}
	if err := s.store.PutRegistry(ctx, games); err != nil {
		log.Error().Err(err).Str("game", gameID).Msg("registry write failed, summary left active")
	}
}

// checkCompetitors validates the two competitor configs and returns them with normalized addresses
func checkCompetitors(competitors []core.CompetitorConfig) ([2]game.Competitor, error) {
	var pair [2]game.Competitor
	if len(competitors) != 2 {
		return pair, core.NewError(core.ErrInvalidParameters, "exactly two competitors required, got %d", len(competitors))
	}

	for i, c := range competitors {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return pair, core.NewError(core.ErrInvalidParameters, "competitor %d: name required", i+1)
		}
		if !game.IsAddress(c.TokenAddress) {
			return pair, core.NewError(core.ErrInvalidParameters, "competitor %d: malformed token address %q", i+1, c.TokenAddress)
		}
		if c.TokenDecimals == nil || *c.TokenDecimals < 0 || *c.TokenDecimals > game.MaxTokenDecimals {
			return pair, core.NewError(core.ErrInvalidParameters, "competitor %d: token decimals must be within 0-%d", i+1, game.MaxTokenDecimals)
		}
		pair[i] = game.Competitor{
			Name:          name,
			TokenAddress:  game.NormalizeAddress(c.TokenAddress),
			TokenDecimals: *c.TokenDecimals,
		}
	}

	if pair[0].TokenAddress == pair[1].TokenAddress {
		return pair, core.NewError(core.ErrInvalidParameters, "competitors must use different tokens")
	}
	return pair, nil
}
