package game

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"daochess/internal/server/core"
)

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address
func IsAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// AddVote credits weight to move, creating the proposal on first backing.
// Callers check eligibility first; the voter record is always appended.
func (g *Game) AddVote(move, address string, weight decimal.Decimal, now int64) {
	address = NormalizeAddress(address)

	found := false
	for i := range g.CurrentRound.Proposals {
		p := &g.CurrentRound.Proposals[i]
		if p.Move == move {
			p.VoteWeight = p.VoteWeight.Add(weight)
			found = true
			break
		}
	}
	if !found {
		g.CurrentRound.Proposals = append(g.CurrentRound.Proposals, Proposal{
			Move:            move,
			ProposerAddress: address,
			CreatedAt:       now,
			VoteWeight:      weight,
		})
	}

	g.CurrentRound.Voters = append(g.CurrentRound.Voters, Voter{
		VoterAddress: address,
		Move:         move,
		CastAt:       now,
		Weight:       weight,
	})
}

// Winner selects the proposal with the highest weight.
// Ties go to the earliest proposal, then to the lexicographically smallest move.
func (r Round) Winner() (Proposal, bool) {
	if len(r.Proposals) == 0 {
		return Proposal{}, false
	}

	best := r.Proposals[0]
	for _, p := range r.Proposals[1:] {
		switch cmp := p.VoteWeight.Cmp(best.VoteWeight); {
		case cmp > 0:
			best = p
		case cmp < 0:
			continue
		case p.CreatedAt < best.CreatedAt:
			best = p
		case p.CreatedAt == best.CreatedAt && p.Move < best.Move:
			best = p
		}
	}
	return best, true
}

// Advance commits the winning proposal and opens the next turn
func (g *Game) Advance(winner Proposal, newPosition string, now int64) {
	mover := g.OnMove()
	g.History = append(g.History, HistoryEntry{
		Side:       mover.Side(),
		Competitor: mover.Name,
		Timestamp:  winner.CreatedAt,
		Proposer:   winner.ProposerAddress,
		VoteWeight: winner.VoteWeight,
		Move:       winner.Move,
		Position:   newPosition,
	})
	g.MoveIndex++
	g.BoardPosition = newPosition
	g.TurnDeadline = now + g.TurnTimeoutSeconds
	g.CurrentRound = Round{Proposals: []Proposal{}, Voters: []Voter{}}
}

// Finish closes the match with a chess result
func (g *Game) Finish(outcome, method string) {
	g.Status = core.StatusFinished
	g.Outcome = outcome
	g.Method = method
}
