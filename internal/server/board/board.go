// Package board is the move legality oracle backed by github.com/notnil/chess.
package board

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/notnil/chess"
)

const (
	StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
)

var ErrIllegalMove = errors.New("illegal move")

// Transition is the outcome of applying one move to a position
type Transition struct {
	Position string // FEN after the move
	Move     string // canonical lower-case UCI form of the move
	Outcome  string // "1-0", "0-1", "1/2-1/2" or empty while the game goes on
	Method   string
}

// Oracle applies moves without keeping any state between calls
type Oracle struct{}

func NewOracle() *Oracle {
	return &Oracle{}
}

// Apply validates move against position and returns the resulting transition.
// UCI ("e2e4", "e7e8q") and SAN ("Nf3", "O-O") are both accepted.
func (o *Oracle) Apply(position, move string) (Transition, error) {
	move = strings.TrimSpace(move)
	if !isMoveSafe(move) {
		return Transition{}, fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}

	fen, err := chess.FEN(position)
	if err != nil {
		return Transition{}, fmt.Errorf("invalid position %q: %w", position, err)
	}
	g := chess.NewGame(fen)

	m, err := decode(g.Position(), move)
	if err != nil {
		return Transition{}, fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}
	if err := g.Move(m); err != nil {
		return Transition{}, fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}

	t := Transition{
		Position: g.Position().String(),
		Move:     m.String(),
	}
	if outcome := g.Outcome(); outcome != chess.NoOutcome {
		t.Outcome = outcome.String()
		t.Method = g.Method().String()
	}
	return t, nil
}

// decode tries UCI first, then standard algebraic notation
func decode(pos *chess.Position, move string) (*chess.Move, error) {
	if m, err := (chess.UCINotation{}).Decode(pos, strings.ToLower(move)); err == nil && isLegal(pos, m) {
		return m, nil
	}
	return chess.AlgebraicNotation{}.Decode(pos, move)
}

func isLegal(pos *chess.Position, m *chess.Move) bool {
	for _, valid := range pos.ValidMoves() {
		if valid.S1() == m.S1() && valid.S2() == m.S2() && valid.Promo() == m.Promo() {
			return true
		}
	}
	return false
}

// isMoveSafe rejects control characters and anything longer than a SAN move can be
func isMoveSafe(move string) bool {
	if len(move) < 2 || len(move) > 10 {
		return false
	}
	for _, r := range move {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
