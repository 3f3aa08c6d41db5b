package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RealizedPnL is one FIFO match event: Qty of lot LotID closed by sell trade TradeID.
// Rows are append-only.
type RealizedPnL struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	TradeID   uint            `gorm:"index;not null" json:"trade_id"`
	LotID     uint            `gorm:"index;not null" json:"lot_id"`
	Symbol    string          `gorm:"size:20;not null;index" json:"symbol"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"qty"`
	SellPrice decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"sell_price"`
	CostBasis decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"cost_basis"`
	Profit    decimal.Decimal `gorm:"type:decimal(30,8);not null" json:"profit"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for RealizedPnL model
func (RealizedPnL) TableName() string {
	return "realized_pnl"
}

// SymbolPnL is the realized result aggregated over one symbol
type SymbolPnL struct {
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
}
