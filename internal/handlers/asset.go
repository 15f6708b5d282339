// internal/handlers/asset.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type AssetHandler struct {
	assetService *services.AssetService
}

func NewAssetHandler(assetService *services.AssetService) *AssetHandler {
	return &AssetHandler{
		assetService: assetService,
	}
}

// POST /assets/:id/clawback
func (h *AssetHandler) Clawback(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	assetID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.ClawbackRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.assetService.Clawback(c.Request.Context(), userID, assetID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, resp)
}

// POST /assets/:id/trustline
func (h *AssetHandler) RequestTrustline(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	assetID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	envelope, err := h.assetService.RequestTrustline(c.Request.Context(), userID, assetID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, envelope)
}
