package service

import (
	"errors"
	"fmt"

	"github.com/lot-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation            = errors.New("invalid trade")
	ErrInsufficientLots      = errors.New("insufficient open lots")
	ErrStorageFailure        = errors.New("storage failure")
	ErrTradeNotFound         = repository.ErrTradeNotFound
	ErrTradeAlreadyProcessed = repository.ErrTradeAlreadyProcessed
)

// ValidationError reports malformed trade input. It is raised before any
// storage access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InsufficientLotsError rejects a sell larger than the open quantity; the
// ledger does not short-sell.
type InsufficientLotsError struct {
	Symbol    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientLotsError) Error() string {
	return fmt.Sprintf("not enough shares in open lots to sell %s: requested %s, available %s",
		e.Symbol, e.Requested, e.Available)
}

func (e *InsufficientLotsError) Is(target error) bool {
	return target == ErrInsufficientLots
}

// StorageError wraps an infrastructure failure. The unit of work it happened
// in has been rolled back, so the operation is safe to retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// classify passes business errors through and wraps everything else,
// cancellation included, as a StorageError.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientLots),
		errors.Is(err, ErrTradeNotFound),
		errors.Is(err, ErrTradeAlreadyProcessed),
		errors.Is(err, ErrStorageFailure):
		return err
	default:
		return &StorageError{Op: op, Err: err}
	}
}
