// internal/handlers/envelope.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/settlement-backend/internal/i18n"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

// POST /envelopes/submit
func (h *StorageHandler) SubmitSigned(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.SignedEnvelopeRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.storageService.SubmitSigned(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeySettlementSubmitted),
		"tx_hash": resp.TxHash,
		"ledger":  resp.Ledger,
	})
}
