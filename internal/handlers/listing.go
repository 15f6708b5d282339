// internal/handlers/listing.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/settlement-backend/internal/i18n"
	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type ListingHandler struct {
	marketService *services.MarketService
}

func NewListingHandler(marketService *services.MarketService) *ListingHandler {
	return &ListingHandler{
		marketService: marketService,
	}
}

// GET /listings
func (h *ListingHandler) GetListings(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	params := services.ListingSearchParams{
		PaginationParams: utils.GetPaginationParams(c),
	}
	for _, filter := range []struct {
		name string
		dest **uuid.UUID
	}{
		{"asset_id", &params.AssetID},
		{"placer_id", &params.PlacerID},
	} {
		raw := c.Query(filter.name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, filter.name), nil)
			return
		}
		*filter.dest = &id
	}
	if raw := c.Query("type"); raw != "" {
		listingType := models.ListingType(raw)
		params.Type = &listingType
	}

	listings, total, err := h.marketService.ListListings(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	result := utils.CreatePaginationResult(listings, total, params.PaginationParams)
	utils.PaginatedResponse(c, result)
}

// GET /listings/:id
func (h *ListingHandler) GetListing(c *gin.Context) {
	listingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	listing, err := h.marketService.GetListing(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, listing)
}

// POST /listings
func (h *ListingHandler) PlaceToMarket(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.PlaceToMarketRequest
	if !bindJSON(c, &req) {
		return
	}

	listing, err := h.marketService.PlaceToMarket(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, listing)
}

// PUT /listings/:id/price
func (h *ListingHandler) UpdatePrice(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	listingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.UpdatePriceRequest
	if !bindJSON(c, &req) {
		return
	}

	listing, err := h.marketService.UpdatePrice(c.Request.Context(), userID, listingID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, listing)
}

// DELETE /listings/:id
func (h *ListingHandler) DisableListing(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	listingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.marketService.DisableListing(c.Request.Context(), userID, listingID); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyListingDisabled),
	})
}
