package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonkhouse/tonkd/internal/deck"
	"github.com/tonkhouse/tonkd/internal/game"
	"github.com/tonkhouse/tonkd/internal/randutil"
)

func c(suit deck.Suit, rank deck.Rank) deck.Card {
	return deck.NewCard(suit, rank)
}

func botState(hand []deck.Card) *game.State {
	return &game.State{
		BaseStake: 10,
		Players: []*game.PlayerState{
			{UserID: "bot", IsAI: true, Hand: hand, Spreads: [][]deck.Card{}},
			{UserID: "human", Spreads: [][]deck.Card{}},
		},
		CurrentPlayerIndex: 0,
		Turn:               1,
		Status:             game.StatusInProgress,
	}
}

func TestChooseActionDropsCheapHands(t *testing.T) {
	st := New(randutil.New(1))
	s := botState([]deck.Card{c(deck.Hearts, deck.Ace), c(deck.Spades, deck.Two), c(deck.Clubs, deck.Two)})

	act, err := st.ChooseAction(s, "bot")
	require.NoError(t, err)
	assert.Equal(t, game.ActionDrop, act.Kind)
}

func TestChooseActionDrawsWhenLocked(t *testing.T) {
	st := New(randutil.New(1))
	s := botState([]deck.Card{c(deck.Hearts, deck.Ace), c(deck.Spades, deck.Two)})
	s.Players[0].IsHitLocked = true

	act, err := st.ChooseAction(s, "bot")
	require.NoError(t, err)
	assert.Equal(t, game.ActionDraw, act.Kind)
	assert.Equal(t, game.DrawFromDeck, act.Source)
}

func TestChooseActionDrawsExpensiveHands(t *testing.T) {
	st := New(randutil.New(1))
	s := botState([]deck.Card{c(deck.Hearts, deck.King), c(deck.Spades, deck.Queen)})

	act, err := st.ChooseAction(s, "bot")
	require.NoError(t, err)
	assert.Equal(t, game.ActionDraw, act.Kind)
}

func TestChooseActionPrefersReem(t *testing.T) {
	st := New(randutil.New(1))
	// Two complete melds in hand: the bot must spread towards the Reem,
	// not discard.
	s := botState([]deck.Card{
		c(deck.Hearts, deck.Five), c(deck.Spades, deck.Five), c(deck.Clubs, deck.Five),
		c(deck.Clubs, deck.Two), c(deck.Clubs, deck.Three), c(deck.Clubs, deck.Four),
	})
	s.Players[0].HasTakenAction = true

	act, err := st.ChooseAction(s, "bot")
	require.NoError(t, err)
	require.Equal(t, game.ActionSpread, act.Kind)
	assert.True(t, game.IsValidSpread(act.Cards))
}

func TestChooseActionSkipsSpreadThatStrands(t *testing.T) {
	st := New(randutil.New(1))
	// One meld and nothing else: spreading would leave no card to
	// discard and no Reem, so the bot discards instead.
	s := botState([]deck.Card{
		c(deck.Hearts, deck.Five), c(deck.Spades, deck.Five), c(deck.Clubs, deck.Five),
	})
	s.Players[0].HasTakenAction = true

	act, err := st.ChooseAction(s, "bot")
	require.NoError(t, err)
	assert.Equal(t, game.ActionDiscard, act.Kind)
}

func TestChooseActionSpreadsWithSpareCard(t *testing.T) {
	st := New(randutil.New(1))
	s := botState([]deck.Card{
		c(deck.Hearts, deck.Five), c(deck.Spades, deck.Five), c(deck.Clubs, deck.Five),
		c(deck.Diamonds, deck.King),
	})
	s.Players[0].HasTakenAction = true

	act, err := st.ChooseAction(s, "bot")
	require.NoError(t, err)
	require.Equal(t, game.ActionSpread, act.Kind)
	assert.Len(t, act.Cards, 3)
}

func TestChooseActionHits(t *testing.T) {
	st := New(randutil.New(1))
	s := botState([]deck.Card{
		c(deck.Diamonds, deck.Five), c(deck.Hearts, deck.King),
	})
	s.Players[0].HasTakenAction = true
	s.Players[1].Spreads = [][]deck.Card{{
		c(deck.Hearts, deck.Five), c(deck.Spades, deck.Five), c(deck.Clubs, deck.Five),
	}}

	act, err := st.ChooseAction(s, "bot")
	require.NoError(t, err)
	require.Equal(t, game.ActionHit, act.Kind)
	assert.Equal(t, c(deck.Diamonds, deck.Five), act.Card)
	assert.Equal(t, "human", act.TargetUserID)
	assert.Equal(t, 0, act.TargetSpreadIndex)
}

func TestChooseActionNeverDiscardsRestrictedCard(t *testing.T) {
	st := New(randutil.New(1))
	restricted := c(deck.Clubs, deck.King)
	s := botState([]deck.Card{restricted, c(deck.Hearts, deck.Two)})
	s.Players[0].HasTakenAction = true
	s.Players[0].RestrictedDiscard = &restricted

	for i := 0; i < 50; i++ {
		act, err := st.ChooseAction(s, "bot")
		require.NoError(t, err)
		require.Equal(t, game.ActionDiscard, act.Kind)
		assert.NotEqual(t, restricted, act.Card)
	}
}

func TestChooseActionSkipsHitThatStrands(t *testing.T) {
	st := New(randutil.New(1))
	// The only other card is the restricted pickup: hitting would leave
	// the bot with nothing legal to discard.
	restricted := c(deck.Hearts, deck.King)
	s := botState([]deck.Card{c(deck.Diamonds, deck.Five), restricted})
	s.Players[0].HasTakenAction = true
	s.Players[0].RestrictedDiscard = &restricted
	s.Players[1].Spreads = [][]deck.Card{{
		c(deck.Hearts, deck.Five), c(deck.Spades, deck.Five), c(deck.Clubs, deck.Five),
	}}

	act, err := st.ChooseAction(s, "bot")
	require.NoError(t, err)
	assert.Equal(t, game.ActionDiscard, act.Kind)
	assert.Equal(t, c(deck.Diamonds, deck.Five), act.Card)
}

func TestChooseActionGuards(t *testing.T) {
	st := New(randutil.New(1))
	s := botState([]deck.Card{c(deck.Hearts, deck.King)})

	_, err := st.ChooseAction(s, "nobody")
	assert.ErrorIs(t, err, game.ErrUnknownPlayer)

	_, err = st.ChooseAction(s, "human")
	assert.ErrorIs(t, err, game.ErrNotYourTurn)

	s.Status = game.StatusRoundEnd
	_, err = st.ChooseAction(s, "bot")
	assert.ErrorIs(t, err, game.ErrNotYourTurn)
}
