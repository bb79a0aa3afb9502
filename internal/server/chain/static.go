package chain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Static grants every address the same weight; for local development without a node
type Static struct {
	Weight decimal.Decimal
	Head   uint64
}

func NewStatic(weight decimal.Decimal, head uint64) *Static {
	return &Static{Weight: weight, Head: head}
}

func (s *Static) BalanceAt(_ context.Context, _, _ string, _ int, _ uint64) (decimal.Decimal, error) {
	return s.Weight, nil
}

func (s *Static) BlockNumber(_ context.Context) (uint64, error) {
	return s.Head, nil
}
