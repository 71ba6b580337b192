package game

import (
	"sort"

	"github.com/tonkhouse/tonkd/internal/deck"
)

// IsValidSpread reports whether cards form a legal meld: three or more
// cards that either all share a rank, or all share a suit and run
// consecutively in the Tonk rank order (Jack follows Seven).
func IsValidSpread(cards []deck.Card) bool {
	if len(cards) < 3 {
		return false
	}
	return isRankMeld(cards) || isRun(cards)
}

func isRankMeld(cards []deck.Card) bool {
	for _, c := range cards[1:] {
		if c.Rank != cards[0].Rank {
			return false
		}
	}
	return true
}

func isRun(cards []deck.Card) bool {
	suit := cards[0].Suit
	indices := make([]int, len(cards))
	for i, c := range cards {
		if c.Suit != suit {
			return false
		}
		idx := c.Rank.RunIndex()
		if idx < 0 {
			return false
		}
		indices[i] = idx
	}
	sort.Ints(indices)
	for i := 1; i < len(indices); i++ {
		if indices[i] != indices[i-1]+1 {
			return false
		}
	}
	return true
}

// CanHit reports whether card may be added to an existing spread.
// Rank melds take the same rank in a suit not already present; runs
// extend by exactly one rank below their minimum or above their maximum.
func CanHit(spread []deck.Card, card deck.Card) bool {
	if len(spread) < 3 {
		return false
	}
	if isRankMeld(spread) {
		if card.Rank != spread[0].Rank {
			return false
		}
		for _, c := range spread {
			if c.Suit == card.Suit {
				return false
			}
		}
		return true
	}
	// Same-suit run.
	if card.Suit != spread[0].Suit {
		return false
	}
	lo, hi := runBounds(spread)
	idx := card.Rank.RunIndex()
	return idx == lo-1 || idx == hi+1
}

func runBounds(spread []deck.Card) (lo, hi int) {
	lo, hi = spread[0].Rank.RunIndex(), spread[0].Rank.RunIndex()
	for _, c := range spread[1:] {
		idx := c.Rank.RunIndex()
		if idx < lo {
			lo = idx
		}
		if idx > hi {
			hi = idx
		}
	}
	return lo, hi
}

// insertIntoSpread adds card to the spread, keeping same-suit runs
// sorted by rank order. Rank melds just append.
func insertIntoSpread(spread []deck.Card, card deck.Card) []deck.Card {
	out := append(append([]deck.Card{}, spread...), card)
	if !isRankMeld(out) {
		sort.Slice(out, func(i, j int) bool {
			return out[i].Rank.RunIndex() < out[j].Rank.RunIndex()
		})
	}
	return out
}

// CheckReem reports whether the player has just won by Reem: exactly two
// spreads down and an empty hand.
func CheckReem(p *PlayerState) bool {
	return len(p.Spreads) == 2 && len(p.Hand) == 0
}

// removeCard deletes the first occurrence of card from hand.
func removeCard(hand []deck.Card, card deck.Card) ([]deck.Card, bool) {
	for i, c := range hand {
		if c == card {
			return append(hand[:i:i], hand[i+1:]...), true
		}
	}
	return hand, false
}

func removeCards(hand []deck.Card, cards []deck.Card) ([]deck.Card, bool) {
	out := append([]deck.Card{}, hand...)
	for _, c := range cards {
		var ok bool
		out, ok = removeCard(out, c)
		if !ok {
			return hand, false
		}
	}
	return out, true
}
