// Package bot picks actions for AI-controlled seats. The strategist is
// deliberately simple and deterministic apart from its discard choice:
// chase a Reem, otherwise lay down or hit what it can, drop cheap hands,
// and keep the game moving.
package bot

import (
	"fmt"
	"math/bits"
	rand "math/rand/v2"

	"github.com/tonkhouse/tonkd/internal/deck"
	"github.com/tonkhouse/tonkd/internal/game"
)

// Action is the strategist's single chosen move for the bot's turn.
type Action struct {
	Kind              game.ActionType
	Source            game.DrawSource
	Card              deck.Card
	Cards             []deck.Card
	TargetUserID      string
	TargetSpreadIndex int
}

// dropThreshold is the hand value at or below which a bot concedes
// rather than playing the hand out.
const dropThreshold = 5

// Strategist chooses actions for bot seats.
type Strategist struct {
	rng *rand.Rand
}

// New creates a strategist using rng for its random discards.
func New(rng *rand.Rand) *Strategist {
	return &Strategist{rng: rng}
}

// ChooseAction returns exactly one legal action for the bot, in priority
// order: Reem-enabling spread, any spread, any hit, cheap drop, draw,
// random discard.
func (st *Strategist) ChooseAction(s *game.State, userID string) (Action, error) {
	p, idx := s.Player(userID)
	if p == nil {
		return Action{}, game.ErrUnknownPlayer
	}
	if idx != s.CurrentPlayerIndex || s.Status != game.StatusInProgress {
		return Action{}, game.ErrNotYourTurn
	}

	if !p.HasTakenAction {
		if !p.IsHitLocked && p.HandValue() <= dropThreshold {
			return Action{Kind: game.ActionDrop}, nil
		}
		return Action{Kind: game.ActionDraw, Source: game.DrawFromDeck}, nil
	}

	if cards, ok := st.findSpread(p, true); ok {
		return Action{Kind: game.ActionSpread, Cards: cards}, nil
	}
	if cards, ok := st.findSpread(p, false); ok {
		return Action{Kind: game.ActionSpread, Cards: cards}, nil
	}
	if hit, ok := st.findHit(s, p); ok {
		return hit, nil
	}
	return st.discard(p)
}

// findSpread enumerates every 3+ card subset of the hand. With reemOnly
// set it returns only spreads that complete a Reem or leave a second
// valid spread covering the rest of the hand.
func (st *Strategist) findSpread(p *game.PlayerState, reemOnly bool) ([]deck.Card, bool) {
	n := len(p.Hand)
	for mask := 1; mask < 1<<n; mask++ {
		if bits.OnesCount(uint(mask)) < 3 {
			continue
		}
		candidate, rest := splitByMask(p.Hand, mask)
		if !game.IsValidSpread(candidate) {
			continue
		}
		if reemOnly {
			reem := (len(p.Spreads) == 1 && len(rest) == 0) ||
				(len(p.Spreads) == 0 && game.IsValidSpread(rest))
			if reem {
				return candidate, true
			}
			continue
		}
		if !st.turnCanEndAfter(p, rest) {
			continue
		}
		return candidate, true
	}
	return nil, false
}

// findHit tries every hand card against every spread on the table.
func (st *Strategist) findHit(s *game.State, p *game.PlayerState) (Action, bool) {
	for _, card := range p.Hand {
		for _, target := range s.Players {
			for idx, spread := range target.Spreads {
				if !game.CanHit(spread, card) {
					continue
				}
				rest, _ := splitByMaskExcept(p.Hand, card)
				if !st.turnCanEndAfter(p, rest) {
					continue
				}
				return Action{
					Kind:              game.ActionHit,
					Card:              card,
					TargetUserID:      target.UserID,
					TargetSpreadIndex: idx,
				}, true
			}
		}
	}
	return Action{}, false
}

// discard throws a uniformly random card, never the one picked off the
// discard pile this turn.
func (st *Strategist) discard(p *game.PlayerState) (Action, error) {
	var choices []deck.Card
	for _, c := range p.Hand {
		if p.RestrictedDiscard != nil && *p.RestrictedDiscard == c {
			continue
		}
		choices = append(choices, c)
	}
	if len(choices) == 0 {
		return Action{}, fmt.Errorf("no discardable card in hand")
	}
	return Action{Kind: game.ActionDiscard, Card: choices[st.rng.IntN(len(choices))]}, nil
}

// turnCanEndAfter rejects moves that would strand the bot unable to
// discard: an empty hand short of a Reem, or a hand holding only the
// restricted discard card.
func (st *Strategist) turnCanEndAfter(p *game.PlayerState, rest []deck.Card) bool {
	if len(rest) == 0 {
		return false
	}
	if len(rest) == 1 && p.RestrictedDiscard != nil && rest[0] == *p.RestrictedDiscard {
		return false
	}
	return true
}

func splitByMask(hand []deck.Card, mask int) (in, out []deck.Card) {
	for i, c := range hand {
		if mask&(1<<i) != 0 {
			in = append(in, c)
		} else {
			out = append(out, c)
		}
	}
	return in, out
}

func splitByMaskExcept(hand []deck.Card, card deck.Card) (rest []deck.Card, ok bool) {
	for i, c := range hand {
		if c == card {
			rest = append(append([]deck.Card{}, hand[:i]...), hand[i+1:]...)
			return rest, true
		}
	}
	return hand, false
}
