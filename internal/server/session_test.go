package server

import (
	"context"
	rand "math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonkhouse/tonkd/internal/deck"
	"github.com/tonkhouse/tonkd/internal/game"
	"github.com/tonkhouse/tonkd/internal/store"
	"github.com/tonkhouse/tonkd/internal/wallet"
)

// zeroSource makes Fisher-Yates pick index 0 every swap, so the shuffle
// is a fixed rotation of the canonical deck and no dealt hand triggers
// an auto-win.
type zeroSource struct{}

// 32 (not 0) because rand/v2's IntN rejection-samples: a constant 0
// loops forever for non-power-of-two n. 32 has the low five bits clear,
// so power-of-two n mask to 0, and for n <= 40 the multiply path yields
// hi=0 with lo >= thresh, so IntN returns 0 without looping.
func (zeroSource) Uint64() uint64 { return 32 }

type fakeBroadcaster struct {
	mu         sync.Mutex
	broadcasts []*Message
	direct     map[string][]*Message
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{direct: make(map[string][]*Message)}
}

func (f *fakeBroadcaster) BroadcastToTable(tableID string, msg *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, msg)
}

func (f *fakeBroadcaster) SendToUser(userID string, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.direct[userID] = append(f.direct[userID], msg)
	return nil
}

func (f *fakeBroadcaster) directTypes(userID string) []EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []EventType
	for _, msg := range f.direct[userID] {
		out = append(out, msg.Type)
	}
	return out
}

type fakeWallet struct {
	mu          sync.Mutex
	balances    map[string]int64
	collectErr  error
	settleErr   error
	settleCalls int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{balances: make(map[string]int64)}
}

func (w *fakeWallet) Balance(ctx context.Context, userID string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	balance, ok := w.balances[userID]
	if !ok {
		return 0, wallet.ErrWalletNotFound
	}
	return balance, nil
}

func (w *fakeWallet) CollectAntes(ctx context.Context, st *game.State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.collectErr != nil {
		return w.collectErr
	}
	for _, p := range st.Players {
		if p.IsAI {
			continue
		}
		if w.balances[p.UserID] < st.BaseStake {
			return wallet.ErrInsufficientFunds
		}
		w.balances[p.UserID] -= st.BaseStake
	}
	return nil
}

func (w *fakeWallet) Settle(ctx context.Context, st *game.State, payouts *game.Payouts) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settleCalls++
	if w.settleErr != nil {
		return w.settleErr
	}
	for _, p := range st.Players {
		if p.IsAI {
			continue
		}
		if p.UserID == payouts.WinnerID {
			w.balances[p.UserID] += payouts.WinnerAmount
		} else if penalty, ok := payouts.Penalties[p.UserID]; ok {
			w.balances[p.UserID] -= penalty
		}
	}
	return nil
}

type sessionFixture struct {
	sess   *Session
	store  *store.Memory
	wallet *fakeWallet
	bcast  *fakeBroadcaster
	clock  *quartz.Mock
}

func newFixture(t *testing.T, cfg TableConfig) *sessionFixture {
	t.Helper()
	mock := quartz.NewMock(t)
	mem := store.NewMemory(mock)
	w := newFakeWallet()
	b := newFakeBroadcaster()
	settings := DefaultConfig().Server
	sess := NewSession(cfg, settings, mem, w, b, mock, rand.New(zeroSource{}), testLogger())
	return &sessionFixture{sess: sess, store: mem, wallet: w, bcast: b, clock: mock}
}

func defaultTable() TableConfig {
	return TableConfig{Name: "t1", Stake: 10, MinPlayers: 2, MaxPlayers: 4}
}

func TestJoinSeatsBotAndStartsRound(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100

	require.NoError(t, f.sess.HandleJoin(context.Background(), "alice", "Alice", ""))

	members := f.store.Players("t1")
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].UserID)
	assert.True(t, members[1].IsAI)

	st, err := f.store.Load("t1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, game.StatusInProgress, st.Status)
	assert.Equal(t, int64(20), st.Pot)
	assert.Equal(t, deck.DeckSize, st.CardCount())

	// Only the human paid an ante.
	assert.Equal(t, int64(90), f.wallet.balances["alice"])
	assert.Equal(t, tableInGame, f.sess.status)
}

func TestJoinRequiresHeadroom(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 39 // below 4x stake

	err := f.sess.HandleJoin(context.Background(), "alice", "Alice", "")
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	assert.Empty(t, f.store.Players("t1"))
}

func TestJoinUnknownWallet(t *testing.T) {
	f := newFixture(t, defaultTable())
	err := f.sess.HandleJoin(context.Background(), "alice", "Alice", "")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestJoinFullTable(t *testing.T) {
	f := newFixture(t, defaultTable())
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		f.store.SetPlayerInfo("t1", store.PlayerInfo{UserID: id})
	}
	f.wallet.balances["alice"] = 100

	err := f.sess.HandleJoin(context.Background(), "alice", "Alice", "")
	assert.ErrorIs(t, err, ErrTableFull)
}

func TestRejoinResendsState(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	require.NoError(t, f.sess.HandleJoin(context.Background(), "alice", "Alice", ""))

	require.NoError(t, f.sess.HandleJoin(context.Background(), "alice", "Alice", ""))
	assert.Contains(t, f.bcast.directTypes("alice"), EventInitialGameState)
	// No double ante, no extra seat.
	assert.Equal(t, int64(90), f.wallet.balances["alice"])
	assert.Len(t, f.store.Players("t1"), 2)
}

func TestBotPlaysItsTurn(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	ctx := context.Background()
	require.NoError(t, f.sess.HandleJoin(ctx, "alice", "Alice", ""))

	st, err := f.store.Load("t1")
	require.NoError(t, err)
	// Dealer is seat 0 (alice), so the bot in seat 1 opens.
	require.True(t, st.CurrentPlayer().IsAI)
	require.Equal(t, 1, st.Turn)

	// First tick: the bot draws. Second tick: it discards, ending turn 1.
	f.clock.Advance(f.sess.settings.BotThinkTime()).MustWait(ctx)
	f.clock.Advance(f.sess.settings.BotThinkTime()).MustWait(ctx)

	st, err = f.store.Load("t1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Turn)
	assert.False(t, st.CurrentPlayer().IsAI)
	assert.Equal(t, deck.DeckSize, st.CardCount())
}

func TestStaleBotTickIsIgnored(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	ctx := context.Background()
	require.NoError(t, f.sess.HandleJoin(ctx, "alice", "Alice", ""))

	// The round ends before the pending bot tick fires.
	st, err := f.store.Load("t1")
	require.NoError(t, err)
	st.Status = game.StatusRoundEnd
	require.NoError(t, f.store.Save("t1", st))

	f.clock.Advance(f.sess.settings.BotThinkTime()).MustWait(ctx)

	after, err := f.store.Load("t1")
	require.NoError(t, err)
	assert.Equal(t, st.Turn, after.Turn)
}

func TestLeaveDuringBotThinkActsOnce(t *testing.T) {
	f := newFixture(t, defaultTable())
	ctx := context.Background()
	f.store.SetPlayerInfo("t1", store.PlayerInfo{UserID: "alice", Username: "alice"})
	f.store.SetPlayerInfo("t1", store.PlayerInfo{UserID: "t1-bot-1", Username: "Bot 1", IsAI: true})
	f.store.SetPlayerInfo("t1", store.PlayerInfo{UserID: "bob", Username: "bob"})
	f.wallet.balances["alice"] = 100
	f.wallet.balances["bob"] = 100
	f.sess.mu.Lock()
	f.sess.startRound(ctx)
	f.sess.mu.Unlock()

	st, err := f.store.Load("t1")
	require.NoError(t, err)
	require.True(t, st.CurrentPlayer().IsAI)
	require.Equal(t, 1, st.Turn)

	// Bob leaves while the bot's think timer is pending; the removal
	// commit re-arms the timer, leaving two ticks for the same turn.
	require.NoError(t, f.sess.HandleLeave(ctx, "bob"))

	f.clock.Advance(f.sess.settings.BotThinkTime()).MustWait(ctx)

	// Only one tick may act: the bot drew its card and is still waiting
	// out its next think window, not draw-and-discard in one instant.
	st, err = f.store.Load("t1")
	require.NoError(t, err)
	bot, _ := st.Player("t1-bot-1")
	require.NotNil(t, bot)
	assert.Len(t, bot.Hand, 6)
	assert.True(t, bot.HasTakenAction)
	assert.Equal(t, 1, st.Turn)
	assert.Equal(t, deck.DeckSize, st.CardCount())
}

func TestRequestLeaveQueuesDeparture(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	require.NoError(t, f.sess.HandleJoin(context.Background(), "alice", "Alice", ""))

	require.NoError(t, f.sess.HandleRequestLeave("alice"))
	assert.Equal(t, []string{"alice"}, f.store.LeavingPlayers("t1"))
	assert.Contains(t, f.bcast.directTypes("alice"), EventAckLeaveRequest)

	// Still seated and still in the round.
	assert.Len(t, f.store.Players("t1"), 2)
	assert.ErrorIs(t, f.sess.HandleRequestLeave("nobody"), game.ErrUnknownPlayer)
}

func TestLeaveLastHumanResetsTable(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	ctx := context.Background()
	require.NoError(t, f.sess.HandleJoin(ctx, "alice", "Alice", ""))

	require.NoError(t, f.sess.HandleLeave(ctx, "alice"))

	assert.Empty(t, f.store.Players("t1"))
	assert.Equal(t, tableWaiting, f.sess.status)
	st, err := f.store.Load("t1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestLeaveMidRoundKeepsPlayableTable(t *testing.T) {
	cfg := defaultTable()
	f := newFixture(t, cfg)
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol"} {
		f.store.SetPlayerInfo("t1", store.PlayerInfo{UserID: id, Username: id})
		f.wallet.balances[id] = 100
	}
	f.sess.mu.Lock()
	f.sess.startRound(ctx)
	f.sess.mu.Unlock()

	require.NoError(t, f.sess.HandleLeave(ctx, "bob"))

	st, err := f.store.Load("t1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, game.StatusInProgress, st.Status)
	assert.Len(t, st.Players, 2)
	// The leaver's cards went back to the deck.
	assert.Equal(t, deck.DeckSize, st.CardCount())
	assert.Len(t, f.store.Players("t1"), 2)
	assert.Equal(t, tableInGame, f.sess.status)
}

func TestLeaveBelowMinimumParksTable(t *testing.T) {
	f := newFixture(t, defaultTable())
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		f.store.SetPlayerInfo("t1", store.PlayerInfo{UserID: id, Username: id})
		f.wallet.balances[id] = 100
	}
	f.sess.mu.Lock()
	f.sess.startRound(ctx)
	f.sess.mu.Unlock()

	require.NoError(t, f.sess.HandleLeave(ctx, "bob"))

	assert.Equal(t, tableWaiting, f.sess.status)
	st, err := f.store.Load("t1")
	require.NoError(t, err)
	assert.Nil(t, st)
	// Alice keeps her seat for the next round.
	require.Len(t, f.store.Players("t1"), 1)
	assert.Equal(t, "alice", f.store.Players("t1")[0].UserID)
}

func TestLeaveWhileLockedReturnsBusy(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	ctx := context.Background()
	require.NoError(t, f.sess.HandleJoin(ctx, "alice", "Alice", ""))

	require.True(t, f.store.TryLock("t1", time.Minute))
	assert.ErrorIs(t, f.sess.HandleLeave(ctx, "alice"), ErrTableBusy)

	f.store.Unlock("t1")
	assert.NoError(t, f.sess.HandleLeave(ctx, "alice"))
}

func TestAnteFailureAbortsRoundStart(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	f.wallet.collectErr = wallet.ErrInsufficientFunds

	require.NoError(t, f.sess.HandleJoin(context.Background(), "alice", "Alice", ""))

	assert.Equal(t, tableWaiting, f.sess.status)
	st, err := f.store.Load("t1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestAnteFailureAtTransitionClearsFinishedRound(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	ctx := context.Background()
	require.NoError(t, f.sess.HandleJoin(ctx, "alice", "Alice", ""))
	endCurrentRound(t, f, "alice")

	// The next ante collection fails when the transition deals again.
	f.wallet.mu.Lock()
	f.wallet.collectErr = wallet.ErrInsufficientFunds
	f.wallet.mu.Unlock()
	f.clock.Advance(f.sess.settings.RoundTransitionDelay()).MustWait(ctx)

	assert.Equal(t, tableWaiting, f.sess.status)
	st, err := f.store.Load("t1")
	require.NoError(t, err)
	assert.Nil(t, st)

	// A state request on the parked table must not replay the finished
	// round.
	f.sess.HandleRequestState("alice")
	assert.NotContains(t, f.bcast.directTypes("alice"), EventInitialGameState)
}

// endCurrentRound forces the saved round into a finished state and runs
// the session's round-end path, as if the last action just committed.
func endCurrentRound(t *testing.T, f *sessionFixture, winnerID string) *game.State {
	t.Helper()
	st, err := f.store.Load("t1")
	require.NoError(t, err)
	require.NotNil(t, st)

	st.Status = game.StatusRoundEnd
	st.RoundEndedBy = game.EndRegular
	st.RoundWinnerID = winnerID
	st.Payouts = game.ComputePayouts(st)
	require.NoError(t, f.store.Save("t1", st))

	f.sess.mu.Lock()
	f.sess.finishRound(context.Background(), st)
	f.sess.mu.Unlock()
	return st
}

func TestRoundEndSettlesAndDealsAgain(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	ctx := context.Background()
	require.NoError(t, f.sess.HandleJoin(ctx, "alice", "Alice", ""))

	endCurrentRound(t, f, "alice")
	assert.Equal(t, 1, f.wallet.settleCalls)
	// Pot came back to the winner.
	assert.Equal(t, int64(110), f.wallet.balances["alice"])
	assert.Contains(t, f.bcast.directTypes("alice"), EventWalletBalanceUpdate)

	f.clock.Advance(f.sess.settings.RoundTransitionDelay()).MustWait(ctx)

	st, err := f.store.Load("t1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, game.StatusInProgress, st.Status)
	assert.Equal(t, 1, st.Turn)
	// Dealer rotated: seat 1 deals, so alice in seat 0 opens.
	assert.Equal(t, 1, st.CurrentDealerIndex)
	assert.False(t, st.CurrentPlayer().IsAI)
	// Second ante taken.
	assert.Equal(t, int64(100), f.wallet.balances["alice"])
}

func TestRoundTransitionFlushesQueuedLeaves(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	ctx := context.Background()
	require.NoError(t, f.sess.HandleJoin(ctx, "alice", "Alice", ""))
	require.NoError(t, f.sess.HandleRequestLeave("alice"))

	endCurrentRound(t, f, "alice")
	f.clock.Advance(f.sess.settings.RoundTransitionDelay()).MustWait(ctx)

	// Alice left between rounds; without a human the table reset.
	assert.Empty(t, f.store.Players("t1"))
	assert.Equal(t, tableWaiting, f.sess.status)
	assert.Empty(t, f.store.LeavingPlayers("t1"))
}

func TestSettlementRetryAtTransition(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	ctx := context.Background()
	require.NoError(t, f.sess.HandleJoin(ctx, "alice", "Alice", ""))

	f.wallet.settleErr = assert.AnError
	endCurrentRound(t, f, "alice")
	require.Equal(t, 1, f.wallet.settleCalls)
	require.True(t, f.sess.settlePending)
	assert.Equal(t, int64(90), f.wallet.balances["alice"])

	// Settlement recovers by the time the transition fires; the round is
	// settled exactly once more and play continues.
	f.wallet.mu.Lock()
	f.wallet.settleErr = nil
	f.wallet.mu.Unlock()
	f.clock.Advance(f.sess.settings.RoundTransitionDelay()).MustWait(ctx)

	assert.Equal(t, 2, f.wallet.settleCalls)
	assert.Equal(t, int64(100), f.wallet.balances["alice"]) // 110 minus next ante

	st, err := f.store.Load("t1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, game.StatusInProgress, st.Status)
}

func TestEvictBotsWhenEnoughHumans(t *testing.T) {
	cfg := defaultTable()
	f := newFixture(t, cfg)
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		f.store.SetPlayerInfo("t1", store.PlayerInfo{UserID: id, Username: id})
		f.wallet.balances[id] = 100
	}
	f.store.SetPlayerInfo("t1", store.PlayerInfo{UserID: "t1-bot-1", Username: "Bot 1", IsAI: true})
	f.sess.mu.Lock()
	f.sess.startRound(ctx)
	f.sess.mu.Unlock()

	endCurrentRound(t, f, "alice")
	f.clock.Advance(f.sess.settings.RoundTransitionDelay()).MustWait(ctx)

	// Two humans suffice; the next round deals without the bot.
	members := f.store.Players("t1")
	require.Len(t, members, 2)
	for _, m := range members {
		assert.False(t, m.IsAI)
	}
	st, err := f.store.Load("t1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Len(t, st.Players, 2)
}

func TestHumanActionFlow(t *testing.T) {
	f := newFixture(t, defaultTable())
	f.wallet.balances["alice"] = 100
	ctx := context.Background()
	require.NoError(t, f.sess.HandleJoin(ctx, "alice", "Alice", ""))

	// Let the bot take its opening turn.
	f.clock.Advance(f.sess.settings.BotThinkTime()).MustWait(ctx)
	f.clock.Advance(f.sess.settings.BotThinkTime()).MustWait(ctx)

	st, err := f.store.Load("t1")
	require.NoError(t, err)
	require.Equal(t, "alice", st.CurrentPlayer().UserID)

	require.NoError(t, f.sess.HandleDraw(ctx, "alice", game.DrawFromDeck))

	st, err = f.store.Load("t1")
	require.NoError(t, err)
	alice, _ := st.Player("alice")
	require.Len(t, alice.Hand, 6)

	require.NoError(t, f.sess.HandleDiscard(ctx, "alice", alice.Hand[0]))
	assert.ErrorIs(t, f.sess.HandleDraw(ctx, "alice", game.DrawFromDeck), game.ErrNotYourTurn)
}

func TestActionOnIdleTable(t *testing.T) {
	f := newFixture(t, defaultTable())
	err := f.sess.HandleDraw(context.Background(), "alice", game.DrawFromDeck)
	assert.ErrorIs(t, err, game.ErrRoundNotInProgress)
}
