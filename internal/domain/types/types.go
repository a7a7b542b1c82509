// Package types contains response shapes shared by the service and the API.
package types

import "github.com/okian/pqa/internal/domain/model"

// RankedAccount is an account score with its 1-based position in a ranking.
type RankedAccount struct {
	Rank int `json:"rank"`
	model.AccountScore
}

// Rank numbers scores in the order given, starting at 1.
func Rank(scores []model.AccountScore) []RankedAccount {
	out := make([]RankedAccount, len(scores))
	for i, sc := range scores {
		out[i] = RankedAccount{Rank: i + 1, AccountScore: sc}
	}
	return out
}

// Page is one offset-paginated slice of a larger result.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
