package processor

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"daochess/internal/server/core"
	"daochess/internal/server/game"
	"daochess/internal/server/service"
)

// GameResponse is the game document plus fields derived from it
type GameResponse struct {
	*game.Game
	SideToMove core.Side `json:"sideToMove"`
	OnMove     string    `json:"onMove"`
}

type GameListResponse struct {
	Games []game.Summary `json:"games"`
	Count int            `json:"count"`
}

// Processor handles command execution on top of the service layer
type Processor struct {
	svc *service.Service
}

func New(svc *service.Service) *Processor {
	return &Processor{svc: svc}
}

func (p *Processor) Execute(ctx context.Context, cmd Command) ProcessorResponse {
	switch cmd.Type {
	case CmdCreateGame:
		return p.handleCreateGame(ctx, cmd)
	case CmdListGames:
		return p.handleListGames(ctx)
	case CmdGetGame:
		return p.handleGetGame(ctx, cmd)
	case CmdWaitGame:
		return p.handleWaitGame(ctx, cmd)
	case CmdVote:
		return p.handleVote(ctx, cmd)
	case CmdFinalize:
		return p.handleFinalize(ctx, cmd)
	case CmdVotingPower:
		return p.handleVotingPower(ctx, cmd)
	default:
		return p.errorResponse("unknown command", core.ErrInvalidRequest)
	}
}

func (p *Processor) handleCreateGame(ctx context.Context, cmd Command) ProcessorResponse {
	args, ok := cmd.Args.(core.CreateGameRequest)
	if !ok {
		return p.errorResponse("invalid arguments", core.ErrInvalidRequest)
	}

	g, err := p.svc.CreateGame(ctx, args.Competitors, args.TurnTimeoutMinutes)
	if err != nil {
		return p.failure(err)
	}
	return p.gameResponse(g)
}

func (p *Processor) handleListGames(ctx context.Context) ProcessorResponse {
	games := p.svc.ListGames(ctx)
	return ProcessorResponse{
		Success: true,
		Data:    GameListResponse{Games: games, Count: len(games)},
	}
}

func (p *Processor) handleGetGame(ctx context.Context, cmd Command) ProcessorResponse {
	g, err := p.svc.GetGame(ctx, cmd.GameID)
	if err != nil {
		return p.failure(err)
	}
	return p.gameResponse(g)
}

func (p *Processor) handleWaitGame(ctx context.Context, cmd Command) ProcessorResponse {
	seen, ok := cmd.Args.(service.Progress)
	if !ok {
		return p.errorResponse("invalid arguments", core.ErrInvalidRequest)
	}

	g, err := p.svc.WaitForUpdate(ctx, cmd.GameID, seen)
	if err != nil {
		return p.failure(err)
	}
	return p.gameResponse(g)
}

func (p *Processor) handleVote(ctx context.Context, cmd Command) ProcessorResponse {
	args, ok := cmd.Args.(core.VoteRequest)
	if !ok {
		return p.errorResponse("invalid arguments", core.ErrInvalidRequest)
	}

	g, err := p.svc.SubmitVote(ctx, cmd.GameID, args.Move, args.Address, args.Signature)
	if err != nil {
		return p.failure(err)
	}
	return p.gameResponse(g)
}

func (p *Processor) handleFinalize(ctx context.Context, cmd Command) ProcessorResponse {
	g, err := p.svc.FinalizeTurn(ctx, cmd.GameID)
	if err != nil {
		return p.failure(err)
	}
	return p.gameResponse(g)
}

func (p *Processor) handleVotingPower(ctx context.Context, cmd Command) ProcessorResponse {
	address, ok := cmd.Args.(string)
	if !ok {
		return p.errorResponse("invalid arguments", core.ErrInvalidRequest)
	}

	power, err := p.svc.VotingPower(ctx, cmd.GameID, address)
	if err != nil {
		return p.failure(err)
	}

	return ProcessorResponse{
		Success: true,
		Data: core.VotingPowerResponse{
			GameID:        power.GameID,
			Address:       power.Address,
			Side:          power.Competitor.Side(),
			TokenAddress:  power.Competitor.TokenAddress,
			SnapshotBlock: power.SnapshotBlock,
			VotingPower:   power.Weight.String(),
		},
	}
}

// gameResponse constructs standard game response
func (p *Processor) gameResponse(g *game.Game) ProcessorResponse {
	return ProcessorResponse{
		Success: true,
		Data: GameResponse{
			Game:       g,
			SideToMove: g.SideToMove(),
			OnMove:     g.OnMove().Name,
		},
	}
}

// failure converts a service error; causes are exposed only for transient failures
func (p *Processor) failure(err error) ProcessorResponse {
	var e *core.Error
	if !errors.As(err, &e) {
		log.Error().Err(err).Msg("untyped service error")
		return p.errorResponse("internal error", core.ErrInternalError)
	}

	resp := &core.ErrorResponse{
		Error:     e.Message,
		Code:      e.Code,
		Retryable: e.Retryable(),
	}
	switch {
	case e.Code == core.ErrInternalError:
		log.Error().Err(err).Msg("internal error")
		resp.Error = "internal error"
	case e.Retryable() && e.Err != nil:
		log.Warn().Err(err).Msg("transient failure")
		resp.Details = e.Err.Error()
	}
	return ProcessorResponse{Success: false, Error: resp}
}

// errorResponse creates error response
func (p *Processor) errorResponse(message, code string) ProcessorResponse {
	return ProcessorResponse{
		Success: false,
		Error: &core.ErrorResponse{
			Error:     message,
			Code:      code,
			Retryable: core.IsRetryable(code),
		},
	}
}
