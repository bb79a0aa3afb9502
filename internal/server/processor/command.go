package processor

import (
	"daochess/internal/server/core"
	"daochess/internal/server/service"
)

// CommandType defines the type of command being executed
type CommandType int

const (
	CmdCreateGame CommandType = iota
	CmdListGames
	CmdGetGame
	CmdWaitGame
	CmdVote
	CmdFinalize
	CmdVotingPower
)

// Command is a unified structure for all processor operations
type Command struct {
	Type   CommandType
	GameID string // For game-specific commands
	Args   any    // Command-specific arguments
}

// ProcessorResponse wraps the response with metadata
type ProcessorResponse struct {
	Success bool                `json:"success"`
	Data    any                 `json:"data,omitempty"`
	Error   *core.ErrorResponse `json:"error,omitempty"`
}

func NewCreateGameCommand(req core.CreateGameRequest) Command {
	return Command{
		Type: CmdCreateGame,
		Args: req,
	}
}

func NewListGamesCommand() Command {
	return Command{Type: CmdListGames}
}

func NewGetGameCommand(gameID string) Command {
	return Command{
		Type:   CmdGetGame,
		GameID: gameID,
	}
}

// NewWaitGameCommand long-polls until the game moves past seen
func NewWaitGameCommand(gameID string, seen service.Progress) Command {
	return Command{
		Type:   CmdWaitGame,
		GameID: gameID,
		Args:   seen,
	}
}

func NewVoteCommand(gameID string, req core.VoteRequest) Command {
	return Command{
		Type:   CmdVote,
		GameID: gameID,
		Args:   req,
	}
}

func NewFinalizeCommand(gameID string) Command {
	return Command{
		Type:   CmdFinalize,
		GameID: gameID,
	}
}

func NewVotingPowerCommand(gameID, address string) Command {
	return Command{
		Type:   CmdVotingPower,
		GameID: gameID,
		Args:   address,
	}
}
