package deck

import (
	"encoding/json"
	"fmt"
)

// Suit represents a card suit
type Suit int

const (
	Hearts Suit = iota
	Diamonds
	Clubs
	Spades
)

// String returns the string representation of a suit
func (s Suit) String() string {
	switch s {
	case Hearts:
		return "Hearts"
	case Diamonds:
		return "Diamonds"
	case Clubs:
		return "Clubs"
	case Spades:
		return "Spades"
	default:
		return "?"
	}
}

// ParseSuit converts a suit name back into a Suit
func ParseSuit(s string) (Suit, error) {
	switch s {
	case "Hearts":
		return Hearts, nil
	case "Diamonds":
		return Diamonds, nil
	case "Clubs":
		return Clubs, nil
	case "Spades":
		return Spades, nil
	default:
		return 0, fmt.Errorf("unknown suit: %q", s)
	}
}

// Rank represents a card rank. Tonk plays with a 40-card deck: the
// standard deck minus 8s, 9s and 10s.
type Rank int

const (
	Ace   Rank = 1
	Two   Rank = 2
	Three Rank = 3
	Four  Rank = 4
	Five  Rank = 5
	Six   Rank = 6
	Seven Rank = 7
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
)

// ranks is the Tonk rank order. Jack immediately follows Seven, so a
// 6♣ 7♣ J♣ run is consecutive.
var ranks = []Rank{Ace, Two, Three, Four, Five, Six, Seven, Jack, Queen, King}

// String returns the string representation of a rank
func (r Rank) String() string {
	switch r {
	case Ace:
		return "Ace"
	case Two, Three, Four, Five, Six, Seven:
		return fmt.Sprintf("%d", int(r))
	case Jack:
		return "Jack"
	case Queen:
		return "Queen"
	case King:
		return "King"
	default:
		return "?"
	}
}

// ParseRank converts a rank name back into a Rank
func ParseRank(s string) (Rank, error) {
	switch s {
	case "Ace":
		return Ace, nil
	case "2":
		return Two, nil
	case "3":
		return Three, nil
	case "4":
		return Four, nil
	case "5":
		return Five, nil
	case "6":
		return Six, nil
	case "7":
		return Seven, nil
	case "Jack":
		return Jack, nil
	case "Queen":
		return Queen, nil
	case "King":
		return King, nil
	default:
		return 0, fmt.Errorf("unknown rank: %q", s)
	}
}

// RunIndex returns the position of the rank in the Tonk run order
// [Ace 2 3 4 5 6 7 Jack Queen King], or -1 for a rank outside the deck.
func (r Rank) RunIndex() int {
	for i, rr := range ranks {
		if rr == r {
			return i
		}
	}
	return -1
}

// Card represents a playing card. Equality is (suit, rank); the point
// value is derived.
type Card struct {
	Suit Suit
	Rank Rank
}

// NewCard creates a new card
func NewCard(suit Suit, rank Rank) Card {
	return Card{Suit: suit, Rank: rank}
}

// String returns the string representation of a card (e.g., "King of Spades")
func (c Card) String() string {
	return fmt.Sprintf("%s of %s", c.Rank, c.Suit)
}

// Value returns the Tonk point value: Ace counts 1, pip cards count
// face, court cards count 10.
func (c Card) Value() int {
	switch {
	case c.Rank >= Jack:
		return 10
	default:
		return int(c.Rank)
	}
}

// cardJSON is the wire form sent to clients and written to snapshots.
type cardJSON struct {
	Suit  string `json:"suit"`
	Rank  string `json:"rank"`
	Value int    `json:"value"`
}

// MarshalJSON renders the card with its derived value for clients.
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(cardJSON{Suit: c.Suit.String(), Rank: c.Rank.String(), Value: c.Value()})
}

// UnmarshalJSON parses the wire form; the value field is recomputed, not
// trusted.
func (c *Card) UnmarshalJSON(data []byte) error {
	var cj cardJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}
	suit, err := ParseSuit(cj.Suit)
	if err != nil {
		return err
	}
	rank, err := ParseRank(cj.Rank)
	if err != nil {
		return err
	}
	c.Suit = suit
	c.Rank = rank
	return nil
}

// HandValue sums the point values of a set of cards.
func HandValue(cards []Card) int {
	total := 0
	for _, c := range cards {
		total += c.Value()
	}
	return total
}
