package game

import (
	"encoding/json"
	"time"

	"github.com/tonkhouse/tonkd/internal/deck"
)

// Status is the lifecycle phase of a table's round.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusInProgress Status = "in-progress"
	StatusRoundEnd   Status = "round-end"
)

// EndReason records how a round finished.
type EndReason string

const (
	EndRegular    EndReason = "REGULAR"
	EndReem       EndReason = "REEM"
	EndAutoTriple EndReason = "AUTO_TRIPLE"
	EndCaughtDrop EndReason = "CAUGHT_DROP"
	EndDeckEmpty  EndReason = "DECK_EMPTY"
)

// DrawSource selects where a draw takes its card from.
type DrawSource string

const (
	DrawFromDeck    DrawSource = "deck"
	DrawFromDiscard DrawSource = "discard"
)

// ActionType tags the LastAction variant.
type ActionType string

const (
	ActionDraw     ActionType = "draw"
	ActionDiscard  ActionType = "discard"
	ActionSpread   ActionType = "spread"
	ActionHit      ActionType = "hit"
	ActionDrop     ActionType = "drop"
	ActionRoundEnd ActionType = "roundEnd"
)

// Action is the tagged last-action record clients use for UI diffing.
// Only the fields relevant to the Type are populated. Cards drawn face
// down from the deck are never echoed here.
type Action struct {
	Type         ActionType  `json:"type"`
	UserID       string      `json:"userId,omitempty"`
	Source       DrawSource  `json:"source,omitempty"`
	Card         *deck.Card  `json:"card,omitempty"`
	Cards        []deck.Card `json:"cards,omitempty"`
	TargetUserID string      `json:"targetUserId,omitempty"`
	TargetSpread int         `json:"targetSpreadIndex,omitempty"`
	Reason       EndReason   `json:"reason,omitempty"`
	At           time.Time   `json:"at"`
}

// Payouts is the money movement computed at round end.
type Payouts struct {
	WinnerID     string           `json:"winnerId"`
	WinnerAmount int64            `json:"winnerAmount"`
	Penalties    map[string]int64 `json:"penalties,omitempty"`
}

// PlayerState is one seat's view of the round.
type PlayerState struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsAI     bool   `json:"isAI"`

	Hand    []deck.Card   `json:"hand"`
	Spreads [][]deck.Card `json:"spreads"`

	// HasTakenAction flips once the player has drawn this turn; it gates
	// spread/hit/discard and blocks a second draw.
	HasTakenAction bool `json:"hasTakenActionThisTurn"`

	IsHitLocked    bool `json:"isHitLocked"`
	HitLockCounter int  `json:"hitLockCounter"`
	// HitLockedOnTurn is the turn the most recent hit landed; the rotation
	// ending that turn does not decay the fresh lock.
	HitLockedOnTurn int `json:"hitLockedOnTurn"`

	// RestrictedDiscard is the card picked up from the discard pile this
	// turn; it may not be thrown back on the same turn.
	RestrictedDiscard *deck.Card `json:"restrictedDiscardCard,omitempty"`

	CurrentBuyIn int64 `json:"currentBuyIn"`
}

// HandValue is the player's current point total.
func (p *PlayerState) HandValue() int {
	return deck.HandValue(p.Hand)
}

// State is the authoritative per-table game state. It is owned by the
// table session and mutated only by the transition methods in this
// package, which do no I/O.
type State struct {
	TableID     string           `json:"tableId"`
	BaseStake   int64            `json:"baseStake"`
	Pot         int64            `json:"pot"`
	LockedAntes map[string]int64 `json:"lockedAntes"`

	// Players in seat order; seat order defines turn order.
	Players            []*PlayerState `json:"players"`
	CurrentDealerIndex int            `json:"currentDealerIndex"`
	CurrentPlayerIndex int            `json:"currentPlayerIndex"`
	Turn               int            `json:"turn"`

	Deck        []deck.Card `json:"deck"`
	DiscardPile []deck.Card `json:"discardPile"`

	Status     Status  `json:"status"`
	LastAction *Action `json:"lastAction,omitempty"`

	RoundEndedBy           EndReason `json:"roundEndedBy,omitempty"`
	RoundWinnerID          string    `json:"roundWinnerId,omitempty"`
	CaughtDroppingPlayerID string    `json:"caughtDroppingPlayerId,omitempty"`

	HandScores map[string]int `json:"handScores,omitempty"`
	Payouts    *Payouts       `json:"payouts,omitempty"`
}

// Player returns the seat for userID, or nil and -1.
func (s *State) Player(userID string) (*PlayerState, int) {
	for i, p := range s.Players {
		if p.UserID == userID {
			return p, i
		}
	}
	return nil, -1
}

// CurrentPlayer returns the seat whose turn it is.
func (s *State) CurrentPlayer() *PlayerState {
	if s.CurrentPlayerIndex < 0 || s.CurrentPlayerIndex >= len(s.Players) {
		return nil
	}
	return s.Players[s.CurrentPlayerIndex]
}

// Humans returns the non-AI seats.
func (s *State) Humans() []*PlayerState {
	var out []*PlayerState
	for _, p := range s.Players {
		if !p.IsAI {
			out = append(out, p)
		}
	}
	return out
}

// Clone deep-copies the state through its JSON form, the same encoding
// the store persists. Save+Load of any state yields a structurally equal
// value.
func (s *State) Clone() (*State, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out State
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CardCount sums cards across deck, discard, hands and spreads. It must
// equal deck.DeckSize after every transition while all seats remain.
func (s *State) CardCount() int {
	total := len(s.Deck) + len(s.DiscardPile)
	for _, p := range s.Players {
		total += len(p.Hand)
		for _, sp := range p.Spreads {
			total += len(sp)
		}
	}
	return total
}
