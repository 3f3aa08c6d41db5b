package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lot-ledger/internal/repository"
	"github.com/lot-ledger/internal/service"
	"github.com/lot-ledger/pkg/response"
)

// TradeHandler handles trade API requests
type TradeHandler struct {
	tradeService *service.TradeService
}

// NewTradeHandler creates a new TradeHandler
func NewTradeHandler(tradeService *service.TradeService) *TradeHandler {
	return &TradeHandler{tradeService: tradeService}
}

// CreateTrade records a trade and applies it to the ledger
// POST /api/v1/trades
func (h *TradeHandler) CreateTrade(c *gin.Context) {
	var req service.CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.tradeService.SubmitTrade(c.Request.Context(), &req)
	if err != nil {
		var data interface{}
		if result != nil {
			data = gin.H{"trade": result.Trade}
		}
		handleLedgerError(c, err, data)
		return
	}

	response.Created(c, result)
}

// ListTrades lists trades in id order
// GET /api/v1/trades?symbol=&processed=&page=&page_size=
func (h *TradeHandler) ListTrades(c *gin.Context) {
	filter := repository.TradeFilter{Symbol: c.Query("symbol")}

	if v := c.Query("processed"); v != "" {
		processed, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(c, "invalid processed flag")
			return
		}
		filter.Processed = &processed
	}
	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "invalid page")
			return
		}
		filter.Page = page
	}
	if v := c.Query("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "invalid page_size")
			return
		}
		filter.PageSize = size
	}
	filter = filter.Normalize()

	trades, total, err := h.tradeService.ListTrades(c.Request.Context(), filter)
	if err != nil {
		handleLedgerError(c, err, nil)
		return
	}

	response.SuccessPaginated(c, trades, total, filter.Page, filter.PageSize)
}

// GetTrade returns one trade
// GET /api/v1/trades/:id
func (h *TradeHandler) GetTrade(c *gin.Context) {
	id, ok := tradeID(c)
	if !ok {
		return
	}

	trade, err := h.tradeService.GetTrade(c.Request.Context(), id)
	if err != nil {
		handleLedgerError(c, err, nil)
		return
	}

	response.Success(c, trade)
}

// ProcessTrade retries a stored trade that was not applied
// POST /api/v1/trades/:id/process
func (h *TradeHandler) ProcessTrade(c *gin.Context) {
	id, ok := tradeID(c)
	if !ok {
		return
	}

	result, err := h.tradeService.ProcessTradeByID(c.Request.Context(), id)
	if err != nil {
		handleLedgerError(c, err, nil)
		return
	}

	response.Success(c, result)
}

func tradeID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid trade id")
		return 0, false
	}
	return uint(id), true
}

// RegisterRoutes registers trade routes; writeMiddleware guards the mutating ones
func (h *TradeHandler) RegisterRoutes(rg *gin.RouterGroup, writeMiddleware ...gin.HandlerFunc) {
	trades := rg.Group("/trades")
	{
		trades.GET("", h.ListTrades)
		trades.GET("/:id", h.GetTrade)

		writes := trades.Group("", writeMiddleware...)
		writes.POST("", h.CreateTrade)
		writes.POST("/:id/process", h.ProcessTrade)
	}
}
