package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a slice of cost basis opened by one buy trade and closed by sells.
// AvgCost and OpenQty are fixed at creation; RemainingQty only decreases.
type Lot struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	TradeID      uint            `gorm:"index;not null" json:"trade_id"`
	Symbol       string          `gorm:"size:20;not null;index:idx_lots_symbol_remaining,priority:1" json:"symbol"`
	OpenQty      decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"open_qty"`
	RemainingQty decimal.Decimal `gorm:"type:decimal(20,8);not null;index:idx_lots_symbol_remaining,priority:2" json:"remaining_qty"`
	AvgCost      decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"avg_cost"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Lot model
func (Lot) TableName() string {
	return "lots"
}

// IsOpen reports whether the lot still carries quantity
func (l *Lot) IsOpen() bool {
	return l.RemainingQty.IsPositive()
}
