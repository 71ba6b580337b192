package game

import (
	"fmt"
	rand "math/rand/v2"
	"time"

	"github.com/tonkhouse/tonkd/internal/deck"
)

// Seat describes a participant when a round is created.
type Seat struct {
	UserID   string
	Username string
	IsAI     bool
}

// NewRound builds, shuffles and deals a fresh round. Every seat's ante
// is locked into the pot here; the wallet settler debits the human
// wallets separately. The seat after the dealer acts first.
func NewRound(tableID string, baseStake int64, seats []Seat, dealerIndex int, rng *rand.Rand) (*State, error) {
	cards := deck.New()
	deck.Shuffle(cards, rng)

	remaining, hands, err := deck.Deal(cards, len(seats), deck.HandSize)
	if err != nil {
		return nil, fmt.Errorf("dealing round: %w", err)
	}
	if dealerIndex < 0 || dealerIndex >= len(seats) {
		return nil, fmt.Errorf("dealer index %d out of range for %d seats", dealerIndex, len(seats))
	}

	players := make([]*PlayerState, len(seats))
	antes := make(map[string]int64, len(seats))
	for i, seat := range seats {
		players[i] = &PlayerState{
			UserID:       seat.UserID,
			Username:     seat.Username,
			IsAI:         seat.IsAI,
			Hand:         hands[i],
			Spreads:      [][]deck.Card{},
			CurrentBuyIn: baseStake,
		}
		antes[seat.UserID] = baseStake
	}

	return &State{
		TableID:            tableID,
		BaseStake:          baseStake,
		Pot:                baseStake * int64(len(seats)),
		LockedAntes:        antes,
		Players:            players,
		CurrentDealerIndex: dealerIndex,
		CurrentPlayerIndex: (dealerIndex + 1) % len(seats),
		Turn:               1,
		Deck:               remaining,
		DiscardPile:        []deck.Card{},
		Status:             StatusInProgress,
	}, nil
}

// ResolveAutoWin applies the dealt-hand auto-win check. It runs once,
// immediately after dealing, before any action. AUTO_TRIPLE (41 or <=11)
// takes precedence over the 50/47 regular auto-win; ties go to the
// earliest seat. It reports whether the round ended.
func (s *State) ResolveAutoWin() bool {
	if s.Status != StatusInProgress || s.Turn != 1 || s.LastAction != nil {
		return false
	}
	for _, p := range s.Players {
		v := p.HandValue()
		if v == 41 || v <= 11 {
			s.endRound(EndAutoTriple, p.UserID)
			return true
		}
	}
	for _, p := range s.Players {
		v := p.HandValue()
		if v == 50 || v == 47 {
			s.endRound(EndRegular, p.UserID)
			return true
		}
	}
	return false
}

// Draw takes the top card of the chosen pile into the player's hand.
// Drawing from an empty deck ends the round with DECK_EMPTY and awards
// the pot to the lowest hand.
func (s *State) Draw(userID string, source DrawSource) error {
	p, err := s.actingPlayer(userID)
	if err != nil {
		return err
	}
	if p.HasTakenAction {
		return ErrAlreadyActed
	}

	switch source {
	case DrawFromDeck:
		if len(s.Deck) == 0 {
			winner := s.lowestHand()
			s.endRound(EndDeckEmpty, winner.UserID)
			return nil
		}
		card := s.Deck[0]
		s.Deck = s.Deck[1:]
		p.Hand = append(p.Hand, card)
		p.HasTakenAction = true
		// The drawn card stays face down to the rest of the table.
		s.LastAction = &Action{Type: ActionDraw, UserID: userID, Source: DrawFromDeck, At: time.Now()}
	case DrawFromDiscard:
		if len(s.DiscardPile) == 0 {
			return ErrEmptyDiscard
		}
		card := s.DiscardPile[len(s.DiscardPile)-1]
		s.DiscardPile = s.DiscardPile[:len(s.DiscardPile)-1]
		p.Hand = append(p.Hand, card)
		restricted := card
		p.RestrictedDiscard = &restricted
		p.HasTakenAction = true
		s.LastAction = &Action{Type: ActionDraw, UserID: userID, Source: DrawFromDiscard, Card: &card, At: time.Now()}
	default:
		return fmt.Errorf("unknown draw source %q", source)
	}
	return nil
}

// Spread lays down a meld from the player's hand. A spread that empties
// the hand with exactly two melds down wins the round by Reem.
func (s *State) Spread(userID string, cards []deck.Card) error {
	p, err := s.actingPlayer(userID)
	if err != nil {
		return err
	}
	if !p.HasTakenAction {
		return ErrMustDrawFirst
	}
	if !IsValidSpread(cards) {
		return ErrInvalidSpread
	}
	rest, ok := removeCards(p.Hand, cards)
	if !ok {
		return ErrCardNotInHand
	}

	p.Hand = rest
	p.Spreads = append(p.Spreads, append([]deck.Card{}, cards...))
	s.LastAction = &Action{Type: ActionSpread, UserID: userID, Cards: append([]deck.Card{}, cards...), At: time.Now()}

	if CheckReem(p) {
		s.endRound(EndReem, userID)
	}
	return nil
}

// Hit adds one card from the player's hand to any spread on the table
// and puts the spread's owner in the hit-lock penalty box.
func (s *State) Hit(userID string, card deck.Card, targetUserID string, spreadIdx int) error {
	p, err := s.actingPlayer(userID)
	if err != nil {
		return err
	}
	if !p.HasTakenAction {
		return ErrMustDrawFirst
	}
	target, _ := s.Player(targetUserID)
	if target == nil {
		return ErrUnknownPlayer
	}
	if spreadIdx < 0 || spreadIdx >= len(target.Spreads) {
		return ErrNoSuchSpread
	}
	if !CanHit(target.Spreads[spreadIdx], card) {
		return ErrInvalidHit
	}
	rest, ok := removeCard(p.Hand, card)
	if !ok {
		return ErrCardNotInHand
	}

	p.Hand = rest
	target.Spreads[spreadIdx] = insertIntoSpread(target.Spreads[spreadIdx], card)
	if target.IsHitLocked {
		target.HitLockCounter++
	} else {
		target.IsHitLocked = true
		target.HitLockCounter = 2
	}
	target.HitLockedOnTurn = s.Turn
	s.LastAction = &Action{
		Type: ActionHit, UserID: userID, Card: &card,
		TargetUserID: targetUserID, TargetSpread: spreadIdx, At: time.Now(),
	}
	return nil
}

// Discard throws a card onto the discard pile and ends the turn. The
// card picked up from the discard pile this turn may not go back.
func (s *State) Discard(userID string, card deck.Card) error {
	p, err := s.actingPlayer(userID)
	if err != nil {
		return err
	}
	if !p.HasTakenAction {
		return ErrMustDrawFirst
	}
	if p.RestrictedDiscard != nil && *p.RestrictedDiscard == card {
		return ErrRestrictedDiscard
	}
	rest, ok := removeCard(p.Hand, card)
	if !ok {
		return ErrCardNotInHand
	}

	p.Hand = rest
	s.DiscardPile = append(s.DiscardPile, card)
	s.LastAction = &Action{Type: ActionDiscard, UserID: userID, Card: &card, At: time.Now()}
	s.nextTurn()
	return nil
}

// Drop concedes the round before drawing. The drop stands only if the
// dropper's hand strictly beats every other hand; otherwise the best
// opposing hand catches the drop and the dropper pays the penalty.
func (s *State) Drop(userID string) error {
	p, err := s.actingPlayer(userID)
	if err != nil {
		return err
	}
	if p.HasTakenAction {
		return ErrDropAfterAction
	}
	if p.IsHitLocked {
		return ErrDropWhileLocked
	}

	dropValue := p.HandValue()
	var caughtBy *PlayerState
	for _, other := range s.Players {
		if other.UserID == userID {
			continue
		}
		if other.HandValue() > dropValue {
			continue
		}
		if caughtBy == nil || other.HandValue() < caughtBy.HandValue() {
			caughtBy = other
		}
	}

	s.LastAction = &Action{Type: ActionDrop, UserID: userID, At: time.Now()}
	if caughtBy != nil {
		s.CaughtDroppingPlayerID = userID
		s.endRound(EndCaughtDrop, caughtBy.UserID)
		return nil
	}
	s.endRound(EndRegular, userID)
	return nil
}

// RemovePlayer drops a seat from a live round (player left the table).
// The leaver's cards return to the bottom of the deck so the card count
// stays at 40, their ante stays locked in the pot, and the turn index
// clamps modulo the shrunk seat list.
func (s *State) RemovePlayer(userID string) error {
	_, idx := s.Player(userID)
	if idx < 0 {
		return ErrUnknownPlayer
	}
	leaver := s.Players[idx]
	s.Deck = append(s.Deck, leaver.Hand...)
	for _, sp := range leaver.Spreads {
		s.Deck = append(s.Deck, sp...)
	}

	s.Players = append(s.Players[:idx], s.Players[idx+1:]...)
	if len(s.Players) == 0 {
		s.CurrentPlayerIndex = 0
		return nil
	}
	if idx < s.CurrentPlayerIndex {
		s.CurrentPlayerIndex--
	}
	s.CurrentPlayerIndex = s.CurrentPlayerIndex % len(s.Players)
	if idx <= s.CurrentDealerIndex && s.CurrentDealerIndex > 0 {
		s.CurrentDealerIndex--
	}
	s.CurrentDealerIndex = s.CurrentDealerIndex % len(s.Players)
	return nil
}

// actingPlayer checks the common guards: round live, player seated and
// holding the turn.
func (s *State) actingPlayer(userID string) (*PlayerState, error) {
	if s.Status != StatusInProgress {
		return nil, ErrRoundNotInProgress
	}
	p, idx := s.Player(userID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	if idx != s.CurrentPlayerIndex {
		return nil, ErrNotYourTurn
	}
	return p, nil
}

// nextTurn rotates the turn, resets per-turn flags for every seat and
// decays hit-locks. A lock applied during the turn just ended skips its
// first decay, giving the victim a full two-rotation penalty box.
func (s *State) nextTurn() {
	for _, p := range s.Players {
		p.HasTakenAction = false
		p.RestrictedDiscard = nil
		if p.IsHitLocked && p.HitLockedOnTurn != s.Turn {
			p.HitLockCounter--
			if p.HitLockCounter <= 0 {
				p.HitLockCounter = 0
				p.IsHitLocked = false
			}
		}
	}
	s.CurrentPlayerIndex = (s.CurrentPlayerIndex + 1) % len(s.Players)
	s.Turn++
}

// lowestHand returns the seat with the minimum hand value; ties go to
// the earliest seat.
func (s *State) lowestHand() *PlayerState {
	best := s.Players[0]
	for _, p := range s.Players[1:] {
		if p.HandValue() < best.HandValue() {
			best = p
		}
	}
	return best
}

// endRound freezes the state, records scores and computes payouts.
func (s *State) endRound(reason EndReason, winnerID string) {
	s.Status = StatusRoundEnd
	s.RoundEndedBy = reason
	s.RoundWinnerID = winnerID
	s.HandScores = make(map[string]int, len(s.Players))
	for _, p := range s.Players {
		s.HandScores[p.UserID] = p.HandValue()
	}
	s.Payouts = ComputePayouts(s)
	s.LastAction = &Action{Type: ActionRoundEnd, UserID: winnerID, Reason: reason, At: time.Now()}
}
