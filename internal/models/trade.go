package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is derived from the sign of a trade quantity
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
	TradeSideNone TradeSide = ""
)

// Trade represents an ingested trade. Only Processed ever changes after insert.
type Trade struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Symbol    string          `gorm:"size:20;not null;index" json:"symbol"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"qty"`
	Price     decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	Processed bool            `gorm:"not null;default:false;index" json:"processed"`
	CreatedAt time.Time       `json:"created_at"`
}

// TableName specifies the table name for Trade model
func (Trade) TableName() string {
	return "trades"
}

// Side reports whether the trade opens a lot or closes lots
func (t *Trade) Side() TradeSide {
	switch t.Qty.Sign() {
	case 1:
		return TradeSideBuy
	case -1:
		return TradeSideSell
	default:
		return TradeSideNone
	}
}
