// internal/handlers/settlement.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type SettlementHandler struct {
	settlementService *services.SettlementService
}

func NewSettlementHandler(settlementService *services.SettlementService) *SettlementHandler {
	return &SettlementHandler{
		settlementService: settlementService,
	}
}

// POST /settlements/quote
func (h *SettlementHandler) RequestQuote(c *gin.Context) {
	buyerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.QuoteRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.settlementService.RequestQuote(c.Request.Context(), buyerID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, resp)
}

// POST /settlements/submit
func (h *SettlementHandler) SubmitSigned(c *gin.Context) {
	buyerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.SubmitRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.settlementService.SubmitSigned(c.Request.Context(), buyerID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, result)
}

// POST /settlements/confirm
func (h *SettlementHandler) ConfirmSettlement(c *gin.Context) {
	buyerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.ConfirmRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.settlementService.ConfirmSettlement(c.Request.Context(), buyerID, &req)
	if errors.Is(err, services.ErrDuplicateSettlement) {
		// A retried confirmation is not a failure for the client.
		utils.SuccessResponse(c, &services.SettlementResult{State: services.StateConfirmed, TxHash: req.TxHash})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, result)
}
