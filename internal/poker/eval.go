// Package poker maps deck indices to library cards and ranks showdown hands.
package poker

import (
	"fmt"

	ph "github.com/paulhankin/poker"
)

// DeckSize is the number of distinct card indices
const DeckSize = 52

var suits = [4]ph.Suit{ph.Club, ph.Diamond, ph.Heart, ph.Spade}

// Card converts a deck index into a library card.
// Index c has suit c/13 and rank c%13 where 0 is the deuce and 12 the ace.
func Card(c int) (ph.Card, error) {
	if c < 0 || c >= DeckSize {
		return 0, fmt.Errorf("card index %d out of range", c)
	}
	rank := c%13 + 2
	if rank == 14 {
		rank = 1
	}
	return ph.MakeCard(suits[c/13], ph.Rank(rank))
}

// Eval scores the best five-card hand out of 5 to 7 cards. Higher is stronger.
func Eval(cards []int) (int16, error) {
	pcs := make([]ph.Card, len(cards))
	for i, c := range cards {
		card, err := Card(c)
		if err != nil {
			return 0, err
		}
		pcs[i] = card
	}

	switch len(pcs) {
	case 7:
		var a7 [7]ph.Card
		copy(a7[:], pcs)
		return ph.Eval7(&a7), nil
	case 5:
		var a5 [5]ph.Card
		copy(a5[:], pcs)
		return ph.Eval5(&a5), nil
	case 6:
		return bestOfFive(pcs), nil
	}
	return 0, fmt.Errorf("can not evaluate %d cards", len(cards))
}

func bestOfFive(pcs []ph.Card) int16 {
	best := int16(-1)
	var five [5]ph.Card
	for skip := range pcs {
		k := 0
		for i, c := range pcs {
			if i != skip {
				five[k] = c
				k++
			}
		}
		if score := ph.Eval5(&five); score > best {
			best = score
		}
	}
	return best
}

// Describe names the hand made by the given cards, for logs
func Describe(cards []int) string {
	pcs := make([]ph.Card, 0, len(cards))
	for _, c := range cards {
		card, err := Card(c)
		if err != nil {
			return ""
		}
		pcs = append(pcs, card)
	}
	desc, err := ph.Describe(pcs)
	if err != nil {
		return ""
	}
	return desc
}
