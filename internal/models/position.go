package models

import (
	"github.com/shopspring/decimal"
)

// PositionSummary is the open position for one symbol across its open lots
type PositionSummary struct {
	Symbol  string          `json:"symbol"`
	Qty     decimal.Decimal `json:"qty"`
	AvgCost decimal.Decimal `json:"avg_cost"`
}

