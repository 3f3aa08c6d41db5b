package repository

import (
	"errors"

	"github.com/lot-ledger/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxLockAttempts bounds how often an empty locked read is retried while
// concurrent matchers keep consuming the lot we were waiting on.
const maxLockAttempts = 8

// UnitOfWork is the set of writes one trade may make. Everything done through
// a UnitOfWork commits or rolls back together.
type UnitOfWork interface {
	// ClaimTrade flips processed false->true, failing with
	// ErrTradeAlreadyProcessed if another unit of work got there first.
	ClaimTrade(tradeID uint) error
	CreateLot(lot *models.Lot) error
	// LockOldestOpenLot returns the open lot with the smallest id for symbol,
	// exclusively locked until the unit of work ends, or ErrNoOpenLot.
	LockOldestOpenLot(symbol string) (*models.Lot, error)
	ReduceLot(lot *models.Lot, qty decimal.Decimal) error
	AppendRealizedPnL(entry *models.RealizedPnL) error
}

type gormUnitOfWork struct {
	tx *gorm.DB
}

func (u *gormUnitOfWork) ClaimTrade(tradeID uint) error {
	result := u.tx.Model(&models.Trade{}).
		Where("id = ? AND processed = ?", tradeID, false).
		Update("processed", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := u.tx.Model(&models.Trade{}).Where("id = ?", tradeID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrTradeNotFound
	}
	return ErrTradeAlreadyProcessed
}

func (u *gormUnitOfWork) CreateLot(lot *models.Lot) error {
	return u.tx.Create(lot).Error
}

func (u *gormUnitOfWork) LockOldestOpenLot(symbol string) (*models.Lot, error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		var lot models.Lot
		err := u.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("symbol = ? AND remaining_qty > 0", symbol).
			Order("id ASC").
			Take(&lot).Error
		if err == nil {
			return &lot, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		// Postgres re-checks a row it waited on after the holder commits; if the
		// holder emptied it, LIMIT 1 yields nothing even when younger lots are
		// still open. Only report exhaustion once a plain read agrees.
		var open int64
		if err := u.tx.Model(&models.Lot{}).
			Where("symbol = ? AND remaining_qty > 0", symbol).
			Count(&open).Error; err != nil {
			return nil, err
		}
		if open == 0 {
			return nil, ErrNoOpenLot
		}
	}
	return nil, ErrLotContention
}

func (u *gormUnitOfWork) ReduceLot(lot *models.Lot, qty decimal.Decimal) error {
	remaining := lot.RemainingQty.Sub(qty)
	if remaining.IsNegative() {
		return ErrNegativeRemaining
	}
	if err := u.tx.Model(lot).Update("remaining_qty", remaining).Error; err != nil {
		return err
	}
	lot.RemainingQty = remaining
	return nil
}

func (u *gormUnitOfWork) AppendRealizedPnL(entry *models.RealizedPnL) error {
	return u.tx.Create(entry).Error
}
