package oracle

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/leapdao/acebusters-backend/internal/poker"
)

// minDeckSize covers hole cards of ten seats and the board
const minDeckSize = 26

func deckSize(seats int) int {
	if n := 2*seats + 5; n > minDeckSize {
		return n
	}
	return minDeckSize
}

// Shuffle draws size distinct card indices with a uniform Fisher-Yates shuffle
func Shuffle(size int) ([]int, error) {
	if size > poker.DeckSize {
		return nil, fmt.Errorf("deck of %d cards exceeds %d", size, poker.DeckSize)
	}
	cards := make([]int, poker.DeckSize)
	for i := range cards {
		cards[i] = i
	}
	for i := len(cards) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		k := int(j.Int64())
		cards[i], cards[k] = cards[k], cards[i]
	}
	return cards[:size], nil
}
