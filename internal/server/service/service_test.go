package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daochess/internal/server/board"
	"daochess/internal/server/chain"
	"daochess/internal/server/core"
	"daochess/internal/server/game"
	"daochess/internal/server/storage"
)

const (
	tokenA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tokenB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	tokenC = "0xcccccccccccccccccccccccccccccccccccccccc"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// balances maps token/address to a whole-token weight
type balances struct {
	mu  sync.Mutex
	m   map[string]decimal.Decimal
	err error
}

func (b *balances) set(token, address string, weight int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[token+"/"+strings.ToLower(address)] = decimal.NewFromInt(weight)
}

func (b *balances) BalanceAt(_ context.Context, address, token string, _ int, _ uint64) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return decimal.Zero, b.err
	}
	return b.m[token+"/"+strings.ToLower(address)], nil
}

// flakyStore fails selected writes
type flakyStore struct {
	storage.Store
	failPutGame     error
	failPutRegistry error
}

func (f *flakyStore) PutGame(ctx context.Context, g *game.Game) error {
	if f.failPutGame != nil {
		return f.failPutGame
	}
	return f.Store.PutGame(ctx, g)
}

func (f *flakyStore) PutRegistry(ctx context.Context, games []game.Summary) error {
	if f.failPutRegistry != nil {
		return f.failPutRegistry
	}
	return f.Store.PutRegistry(ctx, games)
}

type wallet struct {
	key  *ecdsa.PrivateKey
	addr string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, addr: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())}
}

func (w wallet) sign(t *testing.T, move string) string {
	t.Helper()
	sig, err := chain.Sign(move, crypto.FromECDSA(w.key))
	require.NoError(t, err)
	return sig
}

type harness struct {
	svc   *Service
	store *flakyStore
	power *balances
	head  *chain.Static
	clock *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: &flakyStore{Store: storage.NewMemoryStore()},
		power: &balances{m: make(map[string]decimal.Decimal)},
		head:  chain.NewStatic(decimal.Zero, 19_000_000),
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	h.svc = New(h.store, board.NewOracle(), chain.NewVerifier(), h.power, h.head,
		WithClock(h.clock.Now),
		WithCoin(func() bool { return true }),
		WithWaitTimeout(time.Second),
	)
	t.Cleanup(func() { h.svc.Shutdown(time.Second) })
	return h
}

func competitors(a, b string) []core.CompetitorConfig {
	eighteen, zero := 18, 0
	return []core.CompetitorConfig{
		{Name: "Alpha DAO", TokenAddress: a, TokenDecimals: &eighteen},
		{Name: "Beta DAO", TokenAddress: b, TokenDecimals: &zero},
	}
}

func (h *harness) create(t *testing.T) *game.Game {
	t.Helper()
	g, err := h.svc.CreateGame(context.Background(), competitors(tokenA, tokenB), 5)
	require.NoError(t, err)
	return g
}

func (h *harness) vote(t *testing.T, gameID, move string, w wallet) (*game.Game, error) {
	t.Helper()
	return h.svc.SubmitVote(context.Background(), gameID, move, w.addr, w.sign(t, move))
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, core.CodeOf(err), "error: %v", err)
}

func assertInvariants(t *testing.T, g *game.Game) {
	t.Helper()
	assert.Len(t, g.History, g.MoveIndex)
	assert.NoError(t, g.Validate())
}

func TestCreateGame(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)

	assert.NotEmpty(t, g.ID)
	assert.True(t, g.Competitors[0].IsWhite)
	assert.False(t, g.Competitors[1].IsWhite)
	assert.Equal(t, int64(300), g.TurnTimeoutSeconds)
	assert.Equal(t, uint64(19_000_000), g.SnapshotBlock)
	assert.Equal(t, h.clock.Now().Unix(), g.SnapshotTimestamp)
	assert.Equal(t, g.SnapshotTimestamp+300, g.TurnDeadline)
	assert.Equal(t, board.StartingFEN, g.BoardPosition)
	assert.Equal(t, core.StatusActive, g.Status)

	stored, err := h.svc.GetGame(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, stored.ID)

	games := h.svc.ListGames(context.Background())
	require.Len(t, games, 1)
	assert.Equal(t, g.ID, games[0].ID)
}

func TestCreateGameCoinAssignsBlack(t *testing.T) {
	h := newHarness(t)
	h.svc.coin = func() bool { return false }
	g := h.create(t)

	assert.False(t, g.Competitors[0].IsWhite)
	assert.True(t, g.Competitors[1].IsWhite)
	assert.Equal(t, "Beta DAO", g.OnMove().Name)
}

func TestCreateGameRejectsParameters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	nineteen := 19

	tests := []struct {
		name    string
		comps   []core.CompetitorConfig
		minutes int
	}{
		{"one competitor", competitors(tokenA, tokenB)[:1], 5},
		{"short timeout", competitors(tokenA, tokenB), 4},
		{"same token", competitors(tokenA, "0x"+strings.ToUpper(tokenA[2:])), 5},
		{"bad address", competitors(tokenA, "0x1234"), 5},
		{"blank name", []core.CompetitorConfig{{Name: " ", TokenAddress: tokenA, TokenDecimals: new(int)}, competitors(tokenA, tokenB)[1]}, 5},
		{"decimals", []core.CompetitorConfig{{Name: "A", TokenAddress: tokenA, TokenDecimals: &nineteen}, competitors(tokenA, tokenB)[1]}, 5},
		{"missing decimals", []core.CompetitorConfig{{Name: "A", TokenAddress: tokenA}, competitors(tokenA, tokenB)[1]}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateGame(ctx, tt.comps, tt.minutes)
			requireCode(t, err, core.ErrInvalidParameters)
		})
	}
	assert.Empty(t, h.svc.ListGames(ctx))
}

// Same tokens in either order and any case are one pairing while it is active
func TestCreateGameDuplicatePairing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t)

	_, err := h.svc.CreateGame(ctx, competitors(tokenA, tokenB), 5)
	requireCode(t, err, core.ErrDuplicatePairing)

	_, err = h.svc.CreateGame(ctx, competitors("0x"+strings.ToUpper(tokenB[2:]), tokenA), 10)
	requireCode(t, err, core.ErrDuplicatePairing)

	_, err = h.svc.CreateGame(ctx, competitors(tokenA, tokenC), 5)
	require.NoError(t, err)
	assert.Len(t, h.svc.ListGames(ctx), 2)
}

func TestCreateGameAfterFinishedPairing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)

	games, err := h.store.GetRegistry(ctx)
	require.NoError(t, err)
	games[0].Status = core.StatusFinished
	require.NoError(t, h.store.PutRegistry(ctx, games))

	again, err := h.svc.CreateGame(ctx, competitors(tokenB, tokenA), 5)
	require.NoError(t, err)
	assert.NotEqual(t, g.ID, again.ID)

	listed := h.svc.ListGames(ctx)
	require.Len(t, listed, 2)
	assert.Equal(t, again.ID, listed[0].ID, "newest first")
}

func TestCreateGameChainHeadFailure(t *testing.T) {
	h := newHarness(t)
	h.svc.head = failingHead{}

	_, err := h.svc.CreateGame(context.Background(), competitors(tokenA, tokenB), 5)
	requireCode(t, err, core.ErrOracleUnavailable)
	assert.Empty(t, h.svc.ListGames(context.Background()))
}

type failingHead struct{}

func (failingHead) BlockNumber(context.Context) (uint64, error) {
	return 0, errors.New("rpc timeout")
}

func TestCreateGameCompensatesRegistry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	existing := h.create(t)

	h.store.failPutGame = errors.New("disk full")
	_, err := h.svc.CreateGame(ctx, competitors(tokenA, tokenC), 5)
	requireCode(t, err, core.ErrStoreUnavailable)
	assert.True(t, core.IsRetryable(core.CodeOf(err)))

	games := h.svc.ListGames(ctx)
	require.Len(t, games, 1, "orphan summary must be rolled back")
	assert.Equal(t, existing.ID, games[0].ID)
}

// cancelingStore cancels the caller's context during the game write, as a request timeout would
type cancelingStore struct {
	storage.Store
	cancel context.CancelFunc
}

func (c *cancelingStore) PutGame(ctx context.Context, g *game.Game) error {
	c.cancel()
	return ctx.Err()
}

func TestCreateGameCompensatesAfterCancellation(t *testing.T) {
	h := newHarness(t)
	existing := h.create(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.svc.store = &cancelingStore{Store: h.store, cancel: cancel}

	_, err := h.svc.CreateGame(ctx, competitors(tokenA, tokenC), 5)
	requireCode(t, err, core.ErrStoreUnavailable)

	games := h.svc.ListGames(context.Background())
	require.Len(t, games, 1, "cancelled create must not leave a summary behind")
	assert.Equal(t, existing.ID, games[0].ID)

	// The pairing is free for a retry
	h.svc.store = h.store
	_, err = h.svc.CreateGame(context.Background(), competitors(tokenA, tokenC), 5)
	require.NoError(t, err)
}

func TestCreateGameRegistryWriteFailure(t *testing.T) {
	h := newHarness(t)
	h.store.failPutRegistry = errors.New("connection reset")

	_, err := h.svc.CreateGame(context.Background(), competitors(tokenA, tokenB), 5)
	requireCode(t, err, core.ErrStoreUnavailable)
}

func TestListGamesDegraded(t *testing.T) {
	h := newHarness(t)
	h.create(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	games := h.svc.ListGames(ctx)
	assert.NotNil(t, games)
	assert.Empty(t, games)
}

// A new move opens a proposal, the same move adds weight to it
func TestSubmitVoteAccumulates(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)
	x, y := newWallet(t), newWallet(t)
	h.power.set(tokenA, x.addr, 100)
	h.power.set(tokenA, y.addr, 50)

	g, err := h.vote(t, g.ID, "e2e4", x)
	require.NoError(t, err)
	require.Len(t, g.CurrentRound.Proposals, 1)
	assert.True(t, g.CurrentRound.Proposals[0].VoteWeight.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, x.addr, g.CurrentRound.Proposals[0].ProposerAddress)
	require.Len(t, g.CurrentRound.Voters, 1)
	assert.Equal(t, x.addr, g.CurrentRound.Voters[0].VoterAddress)

	g, err = h.vote(t, g.ID, "e2e4", y)
	require.NoError(t, err)
	require.Len(t, g.CurrentRound.Proposals, 1)
	assert.True(t, g.CurrentRound.Proposals[0].VoteWeight.Equal(decimal.NewFromInt(150)))
	require.Len(t, g.CurrentRound.Voters, 2)
	assert.Equal(t, y.addr, g.CurrentRound.Voters[1].VoterAddress)

	_, err = h.vote(t, g.ID, "d2d4", y)
	requireCode(t, err, core.ErrAlreadyVoted)

	stored, err := h.svc.GetGame(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.CurrentRound, stored.CurrentRound)
	assertInvariants(t, stored)
}

func TestSubmitVoteReplayRejected(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)
	x := newWallet(t)
	h.power.set(tokenA, x.addr, 100)
	sig := x.sign(t, "e2e4")

	_, err := h.svc.SubmitVote(context.Background(), g.ID, "e2e4", x.addr, sig)
	require.NoError(t, err)
	_, err = h.svc.SubmitVote(context.Background(), g.ID, "e2e4", x.addr, sig)
	requireCode(t, err, core.ErrAlreadyVoted)

	stored, err := h.svc.GetGame(context.Background(), g.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentRound.Proposals[0].VoteWeight.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(2), stored.Revision)
}

func TestSubmitVoteCanonicalizesMove(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)
	x, y := newWallet(t), newWallet(t)
	h.power.set(tokenA, x.addr, 10)
	h.power.set(tokenA, y.addr, 20)

	_, err := h.vote(t, g.ID, "Nf3", x)
	require.NoError(t, err)
	g, err = h.vote(t, g.ID, "G1F3", y)
	require.NoError(t, err)

	require.Len(t, g.CurrentRound.Proposals, 1)
	assert.Equal(t, "g1f3", g.CurrentRound.Proposals[0].Move)
	assert.True(t, g.CurrentRound.Proposals[0].VoteWeight.Equal(decimal.NewFromInt(30)))
}

func TestSubmitVoteRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)
	x, stranger := newWallet(t), newWallet(t)
	h.power.set(tokenA, x.addr, 100)
	h.power.set(tokenB, stranger.addr, 100) // holds the black token only

	_, err := h.svc.SubmitVote(ctx, "missing", "e2e4", x.addr, x.sign(t, "e2e4"))
	requireCode(t, err, core.ErrGameNotFound)

	_, err = h.vote(t, g.ID, "e2e5", x)
	requireCode(t, err, core.ErrIllegalMove)

	_, err = h.svc.SubmitVote(ctx, g.ID, "e2e4", x.addr, x.sign(t, "d2d4"))
	requireCode(t, err, core.ErrBadSignature)

	_, err = h.svc.SubmitVote(ctx, g.ID, "e2e4", x.addr, "0xdeadbeef")
	requireCode(t, err, core.ErrBadSignature)

	_, err = h.vote(t, g.ID, "e2e4", stranger)
	requireCode(t, err, core.ErrNoVotingPower)

	h.power.err = errors.New("node down")
	_, err = h.vote(t, g.ID, "e2e4", x)
	requireCode(t, err, core.ErrOracleUnavailable)
	h.power.err = nil

	stored, err := h.svc.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.CurrentRound.Voters)
	assert.Equal(t, int64(1), stored.Revision)
}

func TestSubmitVoteIllegalCheckedBeforeSignature(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)
	x := newWallet(t)

	_, err := h.svc.SubmitVote(context.Background(), g.ID, "e7e5", x.addr, "0x00")
	requireCode(t, err, core.ErrIllegalMove)
}

func TestSubmitVoteAfterDeadline(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)
	x, y := newWallet(t), newWallet(t)
	h.power.set(tokenA, x.addr, 100)
	h.power.set(tokenA, y.addr, 100)

	// An expired window with no votes stays open
	h.clock.Advance(10 * time.Minute)
	_, err := h.vote(t, g.ID, "e2e4", x)
	require.NoError(t, err)

	_, err = h.vote(t, g.ID, "d2d4", y)
	requireCode(t, err, core.ErrWindowClosedPending)

	// Already voted wins over the closed window
	_, err = h.vote(t, g.ID, "d2d4", x)
	requireCode(t, err, core.ErrAlreadyVoted)
}

// Window checks, winner commit, and a second finalize in the new turn
func TestFinalizeTurn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)
	x, y := newWallet(t), newWallet(t)
	h.power.set(tokenA, x.addr, 100)
	h.power.set(tokenA, y.addr, 50)

	_, err := h.svc.FinalizeTurn(ctx, g.ID)
	requireCode(t, err, core.ErrNoProposals)

	_, err = h.vote(t, g.ID, "e2e4", x)
	require.NoError(t, err)
	_, err = h.vote(t, g.ID, "d2d4", y)
	require.NoError(t, err)

	_, err = h.svc.FinalizeTurn(ctx, g.ID)
	requireCode(t, err, core.ErrWindowStillOpen)

	h.clock.Advance(5 * time.Minute)
	done, err := h.svc.FinalizeTurn(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.MoveIndex)
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1", done.BoardPosition)
	assert.Empty(t, done.CurrentRound.Proposals)
	assert.Empty(t, done.CurrentRound.Voters)
	assert.Equal(t, h.clock.Now().Unix()+300, done.TurnDeadline)
	require.Len(t, done.History, 1)
	assert.Equal(t, "e2e4", done.History[0].Move)
	assert.Equal(t, core.SideWhite, done.History[0].Side)
	assert.Equal(t, "Alpha DAO", done.History[0].Competitor)
	assert.Equal(t, x.addr, done.History[0].Proposer)
	assert.Equal(t, core.SideBlack, done.SideToMove())
	assert.Equal(t, g.SnapshotBlock, done.SnapshotBlock)
	assertInvariants(t, done)

	// The fresh round has nothing to finalize and the move index stays put
	_, err = h.svc.FinalizeTurn(ctx, g.ID)
	requireCode(t, err, core.ErrNoProposals)
	stored, err := h.svc.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.MoveIndex)

	_, err = h.svc.FinalizeTurn(ctx, "missing")
	requireCode(t, err, core.ErrGameNotFound)
}

func TestBlackVotesWithOwnToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)
	white, black := newWallet(t), newWallet(t)
	h.power.set(tokenA, white.addr, 1)
	h.power.set(tokenB, black.addr, 7)

	_, err := h.vote(t, g.ID, "e2e4", white)
	require.NoError(t, err)
	h.clock.Advance(5 * time.Minute)
	_, err = h.svc.FinalizeTurn(ctx, g.ID)
	require.NoError(t, err)

	_, err = h.vote(t, g.ID, "e7e5", white)
	requireCode(t, err, core.ErrNoVotingPower)

	g, err = h.vote(t, g.ID, "e7e5", black)
	require.NoError(t, err)
	assert.True(t, g.CurrentRound.Proposals[0].VoteWeight.Equal(decimal.NewFromInt(7)))

	power, err := h.svc.VotingPower(ctx, g.ID, black.addr)
	require.NoError(t, err)
	assert.Equal(t, core.SideBlack, power.Competitor.Side())
	assert.Equal(t, tokenB, power.Competitor.TokenAddress)
	assert.True(t, power.Weight.Equal(decimal.NewFromInt(7)))
}

func TestFinalizeEndsGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)
	white, black := newWallet(t), newWallet(t)
	h.power.set(tokenA, white.addr, 1)
	h.power.set(tokenB, black.addr, 1)

	// Fool's mate
	for i, move := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		voter := white
		if i%2 == 1 {
			voter = black
		}
		_, err := h.vote(t, g.ID, move, voter)
		require.NoError(t, err)
		h.clock.Advance(5 * time.Minute)
		g, err = h.svc.FinalizeTurn(ctx, g.ID)
		require.NoError(t, err)
	}

	assert.Equal(t, core.StatusFinished, g.Status)
	assert.Equal(t, "0-1", g.Outcome)
	assert.Equal(t, "Checkmate", g.Method)
	assert.Equal(t, 4, g.MoveIndex)
	assertInvariants(t, g)

	games := h.svc.ListGames(ctx)
	require.Len(t, games, 1)
	assert.Equal(t, core.StatusFinished, games[0].Status)

	_, err := h.vote(t, g.ID, "a2a3", white)
	requireCode(t, err, core.ErrGameOver)
	_, err = h.svc.FinalizeTurn(ctx, g.ID)
	requireCode(t, err, core.ErrGameOver)

	// Finished pairings may play again
	_, err = h.svc.CreateGame(ctx, competitors(tokenA, tokenB), 5)
	require.NoError(t, err)
}

func TestFinalizeTieBreak(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)
	x, y := newWallet(t), newWallet(t)
	h.power.set(tokenA, x.addr, 40)
	h.power.set(tokenA, y.addr, 40)

	_, err := h.vote(t, g.ID, "g1f3", x)
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	_, err = h.vote(t, g.ID, "a2a3", y)
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	g, err = h.svc.FinalizeTurn(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "g1f3", g.History[0].Move, "earliest proposal wins a tie")
}

func TestFinalizeStoreFailureLeavesDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)
	x := newWallet(t)
	h.power.set(tokenA, x.addr, 1)
	_, err := h.vote(t, g.ID, "e2e4", x)
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	h.store.failPutGame = errors.New("timeout")
	_, err = h.svc.FinalizeTurn(ctx, g.ID)
	requireCode(t, err, core.ErrStoreUnavailable)

	stored, err := h.svc.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.MoveIndex)
	assert.Len(t, stored.CurrentRound.Voters, 1)
}

func TestConcurrentVotes(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)

	const voters = 20
	wallets := make([]wallet, voters)
	sigs := make([]string, voters)
	moves := []string{"e2e4", "d2d4", "c2c4", "g1f3"}
	for i := range wallets {
		wallets[i] = newWallet(t)
		h.power.set(tokenA, wallets[i].addr, int64(i+1))
		sigs[i] = wallets[i].sign(t, moves[i%len(moves)])
	}

	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := range wallets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.SubmitVote(context.Background(), g.ID, moves[i%len(moves)], wallets[i].addr, sigs[i])
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	stored, err := h.svc.GetGame(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Len(t, stored.CurrentRound.Voters, voters)
	assert.Len(t, stored.CurrentRound.Proposals, len(moves))
	assert.Equal(t, int64(1+voters), stored.Revision)
	assertInvariants(t, stored)

	total := decimal.Zero
	for _, p := range stored.CurrentRound.Proposals {
		total = total.Add(p.VoteWeight)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(voters*(voters+1)/2)), "total %s", total)
	assert.Zero(t, h.svc.locks.size())
}

func TestVotingPower(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)
	x := newWallet(t)
	h.power.set(tokenA, x.addr, 42)

	power, err := h.svc.VotingPower(ctx, g.ID, x.addr)
	require.NoError(t, err)
	assert.Equal(t, "Alpha DAO", power.Competitor.Name)
	assert.Equal(t, g.SnapshotBlock, power.SnapshotBlock)
	assert.True(t, power.Weight.Equal(decimal.NewFromInt(42)))

	_, err = h.svc.VotingPower(ctx, g.ID, "nope")
	requireCode(t, err, core.ErrInvalidParameters)

	_, err = h.svc.VotingPower(ctx, "missing", x.addr)
	requireCode(t, err, core.ErrGameNotFound)
}

func TestWaitForUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t)
	x := newWallet(t)
	h.power.set(tokenA, x.addr, 1)

	// Stale progress returns at once
	got, err := h.svc.WaitForUpdate(ctx, g.ID, Progress{MoveIndex: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, got.MoveIndex)

	result := make(chan *game.Game, 1)
	go func() {
		got, err := h.svc.WaitForUpdate(ctx, g.ID, Progress{})
		if err != nil {
			result <- nil
			return
		}
		result <- got
	}()

	require.Eventually(t, func() bool { return h.svc.waiter.count(g.ID) > 0 }, time.Second, 5*time.Millisecond)
	_, err = h.vote(t, g.ID, "e2e4", x)
	require.NoError(t, err)

	select {
	case got := <-result:
		require.NotNil(t, got)
		assert.Len(t, got.CurrentRound.Voters, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not notified")
	}
}

func TestWaitForUpdateTimesOut(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)

	start := time.Now()
	got, err := h.svc.WaitForUpdate(context.Background(), g.ID, Progress{})
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestWaitForUpdateCallerGone(t *testing.T) {
	h := newHarness(t)
	g := h.create(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.svc.WaitForUpdate(ctx, g.ID, Progress{})
	requireCode(t, err, core.ErrRequestCancelled)
	assert.False(t, core.IsRetryable(core.CodeOf(err)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutexSerializes(t *testing.T) {
	k := newKeyedMutex()
	var mu sync.Mutex
	inside := map[string]int{}
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock := k.Lock(key)
			mu.Lock()
			inside[key]++
			n := inside[key]
			mu.Unlock()
			assert.Equal(t, 1, n, "two holders of %s", key)
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside[key]--
			mu.Unlock()
			unlock()
		}(fmt.Sprintf("g%d", i%3))
	}
	wg.Wait()
	assert.Zero(t, k.size())
}
