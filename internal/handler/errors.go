package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lot-ledger/internal/service"
	"github.com/lot-ledger/pkg/response"
)

// handleLedgerError maps ledger errors onto the response envelope. data is
// attached to the response when set.
func handleLedgerError(c *gin.Context, err error, data interface{}) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.ErrorWithData(c, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), data)
	case errors.Is(err, service.ErrInsufficientLots):
		response.ErrorWithData(c, http.StatusUnprocessableEntity, response.CodeInsufficientLots, err.Error(), data)
	case errors.Is(err, service.ErrTradeNotFound):
		response.NotFound(c, "trade not found")
	case errors.Is(err, service.ErrTradeAlreadyProcessed):
		response.Conflict(c, "trade already processed")
	case errors.Is(err, service.ErrStorageFailure):
		response.ErrorWithData(c, http.StatusServiceUnavailable, response.CodeStorageFailure, err.Error(), data)
	default:
		response.InternalError(c, err.Error())
	}
}
