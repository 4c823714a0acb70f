package oracle

import "github.com/leapdao/acebusters-backend/internal/models"

// ResultKind tags which fields of a Result are populated
type ResultKind string

const (
	ResultEmpty        ResultKind = "empty"
	ResultCards        ResultKind = "cards"
	ResultDistribution ResultKind = "distribution"
)

// Result is the response to an accepted action.
//   - ResultEmpty: nothing to disclose
//   - ResultCards: Cards holds the seat's hole cards, Board the community cards disclosed by this action
//   - ResultDistribution: Distribution holds the signed payout
type Result struct {
	Kind         ResultKind           `json:"kind"`
	Cards        []int                `json:"cards,omitempty"`
	Board        []int                `json:"board,omitempty"`
	Distribution *models.Distribution `json:"distribution,omitempty"`
}

func emptyResult() *Result {
	return &Result{Kind: ResultEmpty}
}

func cardsResult(cards, board []int) *Result {
	if len(cards) == 0 && len(board) == 0 {
		return emptyResult()
	}
	return &Result{Kind: ResultCards, Cards: cards, Board: board}
}

func distributionResult(dist *models.Distribution) *Result {
	if dist == nil {
		return emptyResult()
	}
	return &Result{Kind: ResultDistribution, Distribution: dist}
}
