package deck

import (
	"fmt"
	rand "math/rand/v2"
)

const (
	// DeckSize is the Tonk deck: 4 suits x 10 ranks.
	DeckSize = 40

	// HandSize is the number of cards dealt to each seat.
	HandSize = 5

	// MinPlayers and MaxPlayers bound a Tonk round.
	MinPlayers = 2
	MaxPlayers = 4
)

// New returns the canonical 40-card Tonk deck in suit-major order.
func New() []Card {
	cards := make([]Card, 0, DeckSize)
	for suit := Hearts; suit <= Spades; suit++ {
		for _, rank := range ranks {
			cards = append(cards, NewCard(suit, rank))
		}
	}
	return cards
}

// Shuffle permutes cards in place with Fisher-Yates. Callers hand in the
// rng so dealing stays reproducible in tests and unpredictable in
// production (randutil.NewCrypto).
func Shuffle(cards []Card, rng *rand.Rand) {
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}

// Deal removes nPlayers*perPlayer cards from the top of the deck,
// distributing them round-robin (one card per seat, repeat). It returns
// the remaining deck and the hands in seat order.
func Deal(cards []Card, nPlayers, perPlayer int) ([]Card, [][]Card, error) {
	if nPlayers < MinPlayers || nPlayers > MaxPlayers {
		return nil, nil, fmt.Errorf("deal requires %d-%d players, got %d", MinPlayers, MaxPlayers, nPlayers)
	}
	need := nPlayers * perPlayer
	if len(cards) < need {
		return nil, nil, fmt.Errorf("deck too short: have %d cards, need %d", len(cards), need)
	}

	hands := make([][]Card, nPlayers)
	for i := range hands {
		hands[i] = make([]Card, 0, perPlayer)
	}
	for round := 0; round < perPlayer; round++ {
		for seat := 0; seat < nPlayers; seat++ {
			hands[seat] = append(hands[seat], cards[round*nPlayers+seat])
		}
	}

	remaining := make([]Card, len(cards)-need)
	copy(remaining, cards[need:])
	return remaining, hands, nil
}
