// internal/handlers/purchase.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type PurchaseHandler struct {
	paymentService *services.PaymentService
}

func NewPurchaseHandler(paymentService *services.PaymentService) *PurchaseHandler {
	return &PurchaseHandler{
		paymentService: paymentService,
	}
}

// GET /purchases
func (h *PurchaseHandler) GetPurchaseHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)

	records, total, err := h.paymentService.GetPurchaseHistory(c.Request.Context(), userID, params)
	if err != nil {
		respondError(c, err)
		return
	}

	result := utils.CreatePaginationResult(records, total, params)
	utils.PaginatedResponse(c, result)
}
