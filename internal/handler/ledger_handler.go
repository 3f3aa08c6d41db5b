package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/lot-ledger/internal/service"
	"github.com/lot-ledger/pkg/response"
)

// LedgerHandler serves the read-only views over lots and realized profit
type LedgerHandler struct {
	positionService *service.PositionService
	pnlService      *service.PnLService
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(positionService *service.PositionService, pnlService *service.PnLService) *LedgerHandler {
	return &LedgerHandler{
		positionService: positionService,
		pnlService:      pnlService,
	}
}

// GetPositions returns open lots and per-symbol aggregates
// GET /api/v1/positions
func (h *LedgerHandler) GetPositions(c *gin.Context) {
	snapshot, err := h.positionService.OpenPositions(c.Request.Context())
	if err != nil {
		handleLedgerError(c, err, nil)
		return
	}
	response.Success(c, snapshot)
}

// GetRealizedPnL returns realized profit per symbol and in total
// GET /api/v1/pnl
func (h *LedgerHandler) GetRealizedPnL(c *gin.Context) {
	snapshot, err := h.pnlService.RealizedSummary(c.Request.Context())
	if err != nil {
		handleLedgerError(c, err, nil)
		return
	}
	response.Success(c, snapshot)
}

// GetRealizedEntries returns the realized log
// GET /api/v1/pnl/entries?symbol=
func (h *LedgerHandler) GetRealizedEntries(c *gin.Context) {
	entries, err := h.pnlService.Entries(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		handleLedgerError(c, err, nil)
		return
	}
	response.Success(c, entries)
}

// RegisterRoutes registers position and pnl routes
func (h *LedgerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/positions", h.GetPositions)
	rg.GET("/pnl", h.GetRealizedPnL)
	rg.GET("/pnl/entries", h.GetRealizedEntries)
}
