// Package game defines the persisted match document and the pure state
// transitions of a voting round. It performs no I/O; the service layer loads
// a Game, applies one transition and writes it back whole.
package game

import (
	"fmt"
	"strings"

	"daochess/internal/server/core"

	"github.com/shopspring/decimal"
)

const (
	// MinTurnTimeoutSeconds is the shortest allowed voting window
	MinTurnTimeoutSeconds = 300
	MaxTokenDecimals      = 18
)

// Competitor is one DAO controlling a side of the board
type Competitor struct {
	Name          string `json:"name"`
	TokenAddress  string `json:"tokenAddress"`
	TokenDecimals int    `json:"tokenDecimals"`
	IsWhite       bool   `json:"isWhite"`
}

func (c Competitor) Side() core.Side {
	if c.IsWhite {
		return core.SideWhite
	}
	return core.SideBlack
}

// Proposal is a candidate move and the weight accumulated behind it
type Proposal struct {
	Move            string          `json:"move"`
	ProposerAddress string          `json:"proposerAddress"`
	CreatedAt       int64           `json:"createdAt"`
	VoteWeight      decimal.Decimal `json:"voteWeight"`
}

// Voter records a single address' participation in a round
type Voter struct {
	VoterAddress string          `json:"voterAddress"`
	Move         string          `json:"move"`
	CastAt       int64           `json:"castAt"`
	Weight       decimal.Decimal `json:"weight"`
}

type Round struct {
	Proposals []Proposal `json:"proposals"`
	Voters    []Voter    `json:"voters"`
}

// HistoryEntry is an immutable record of a finalized turn
type HistoryEntry struct {
	Side       core.Side       `json:"side"`
	Competitor string          `json:"competitor"`
	Timestamp  int64           `json:"timestamp"`
	Proposer   string          `json:"proposer"`
	VoteWeight decimal.Decimal `json:"voteWeight"`
	Move       string          `json:"move"`
	Position   string          `json:"position"`
}

// Game is the full document for one match
type Game struct {
	ID                 string         `json:"id"`
	Competitors        [2]Competitor  `json:"competitors"`
	TurnTimeoutSeconds int64          `json:"turnTimeoutSeconds"`
	SnapshotBlock      uint64         `json:"snapshotBlock"`
	SnapshotTimestamp  int64          `json:"snapshotTimestamp"`
	MoveIndex          int            `json:"moveIndex"`
	BoardPosition      string         `json:"boardPosition"`
	TurnDeadline       int64          `json:"turnDeadline"`
	CurrentRound       Round          `json:"currentRound"`
	History            []HistoryEntry `json:"history"`
	Status             core.Status    `json:"status"`
	Outcome            string         `json:"outcome,omitempty"`
	Method             string         `json:"method,omitempty"`
	CreatedAt          int64          `json:"createdAt"`
	Revision           int64          `json:"revision"`
}

// Summary is the lightweight registry view of a game
type Summary struct {
	ID                 string        `json:"id"`
	Competitors        [2]Competitor `json:"competitors"`
	TurnTimeoutSeconds int64         `json:"turnTimeoutSeconds"`
	SnapshotBlock      uint64        `json:"snapshotBlock"`
	SnapshotTimestamp  int64         `json:"snapshotTimestamp"`
	Status             core.Status   `json:"status"`
	CreatedAt          int64         `json:"createdAt"`
}

// New builds the opening document of a match
func New(id string, competitors [2]Competitor, timeoutSeconds int64, snapshotBlock uint64, snapshotTimestamp int64, startFEN string) *Game {
	return &Game{
		ID:                 id,
		Competitors:        competitors,
		TurnTimeoutSeconds: timeoutSeconds,
		SnapshotBlock:      snapshotBlock,
		SnapshotTimestamp:  snapshotTimestamp,
		MoveIndex:          0,
		BoardPosition:      startFEN,
		TurnDeadline:       snapshotTimestamp + timeoutSeconds,
		CurrentRound:       Round{Proposals: []Proposal{}, Voters: []Voter{}},
		History:            []HistoryEntry{},
		Status:             core.StatusActive,
		CreatedAt:          snapshotTimestamp,
	}
}

func (g *Game) Summary() Summary {
	return Summary{
		ID:                 g.ID,
		Competitors:        g.Competitors,
		TurnTimeoutSeconds: g.TurnTimeoutSeconds,
		SnapshotBlock:      g.SnapshotBlock,
		SnapshotTimestamp:  g.SnapshotTimestamp,
		Status:             g.Status,
		CreatedAt:          g.CreatedAt,
	}
}

func (g *Game) SideToMove() core.Side {
	return core.SideForMove(g.MoveIndex)
}

// OnMove returns the competitor whose token holders vote this turn
func (g *Game) OnMove() Competitor {
	side := g.SideToMove()
	for _, c := range g.Competitors {
		if c.Side() == side {
			return c
		}
	}
	// Unreachable for a validated document
	return g.Competitors[0]
}

func (g *Game) IsActive() bool {
	return g.Status == core.StatusActive
}

// HasVoted reports whether address already took part in the current round
func (g *Game) HasVoted(address string) bool {
	address = NormalizeAddress(address)
	for _, v := range g.CurrentRound.Voters {
		if v.VoterAddress == address {
			return true
		}
	}
	return false
}

// Pairs reports whether the summary is a match between the two token addresses in any order
func (s Summary) Pairs(a, b string) bool {
	x := NormalizeAddress(s.Competitors[0].TokenAddress)
	y := NormalizeAddress(s.Competitors[1].TokenAddress)
	a, b = NormalizeAddress(a), NormalizeAddress(b)
	return (x == a && y == b) || (x == b && y == a)
}

func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Clone returns a deep copy so a failed transition never leaks into a cached document
func (g *Game) Clone() *Game {
	c := *g
	c.CurrentRound.Proposals = append([]Proposal{}, g.CurrentRound.Proposals...)
	c.CurrentRound.Voters = append([]Voter{}, g.CurrentRound.Voters...)
	c.History = append([]HistoryEntry{}, g.History...)
	return &c
}

// Validate checks the document schema and the round invariants
func (g *Game) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("missing id")
	}
	whites := 0
	for i, c := range g.Competitors {
		if c.Name == "" {
			return fmt.Errorf("competitor %d: missing name", i)
		}
		if !IsAddress(c.TokenAddress) {
			return fmt.Errorf("competitor %d: malformed token address %q", i, c.TokenAddress)
		}
		if c.TokenDecimals < 0 || c.TokenDecimals > MaxTokenDecimals {
			return fmt.Errorf("competitor %d: token decimals %d out of range", i, c.TokenDecimals)
		}
		if c.IsWhite {
			whites++
		}
	}
	if whites != 1 {
		return fmt.Errorf("expected exactly one white competitor, found %d", whites)
	}
	if g.TurnTimeoutSeconds < MinTurnTimeoutSeconds {
		return fmt.Errorf("turn timeout %ds below minimum %ds", g.TurnTimeoutSeconds, MinTurnTimeoutSeconds)
	}
	if g.MoveIndex < 0 || g.Revision < 0 {
		return fmt.Errorf("negative counter")
	}
	if len(g.History) != g.MoveIndex {
		return fmt.Errorf("history length %d does not match move index %d", len(g.History), g.MoveIndex)
	}
	if g.BoardPosition == "" {
		return fmt.Errorf("missing board position")
	}
	if !g.Status.Valid() {
		return fmt.Errorf("unknown status %q", g.Status)
	}
	return g.CurrentRound.validate()
}

func (r Round) validate() error {
	tally := make(map[string]decimal.Decimal, len(r.Proposals))
	for _, p := range r.Proposals {
		if _, dup := tally[p.Move]; dup {
			return fmt.Errorf("duplicate proposal %q", p.Move)
		}
		tally[p.Move] = decimal.Zero
	}

	seen := make(map[string]struct{}, len(r.Voters))
	for _, v := range r.Voters {
		addr := NormalizeAddress(v.VoterAddress)
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("voter %s appears twice", addr)
		}
		seen[addr] = struct{}{}

		sum, ok := tally[v.Move]
		if !ok {
			return fmt.Errorf("voter %s backs unknown move %q", addr, v.Move)
		}
		tally[v.Move] = sum.Add(v.Weight)
	}

	for _, p := range r.Proposals {
		if !p.VoteWeight.Equal(tally[p.Move]) {
			return fmt.Errorf("proposal %q weight %s does not match voter total %s", p.Move, p.VoteWeight, tally[p.Move])
		}
	}
	return nil
}

// Validate checks a registry entry
func (s Summary) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("summary missing id")
	}
	for i, c := range s.Competitors {
		if !IsAddress(c.TokenAddress) {
			return fmt.Errorf("summary %s: competitor %d: malformed token address %q", s.ID, i, c.TokenAddress)
		}
	}
	if !s.Status.Valid() {
		return fmt.Errorf("summary %s: unknown status %q", s.ID, s.Status)
	}
	return nil
}
