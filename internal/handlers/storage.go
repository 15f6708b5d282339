// internal/handlers/storage.go
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type StorageHandler struct {
	storageService *services.StorageService
}

func NewStorageHandler(storageService *services.StorageService) *StorageHandler {
	return &StorageHandler{
		storageService: storageService,
	}
}

// POST /storage/account
func (h *StorageHandler) CreateStorageAccount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	resp, err := h.storageService.CreateStorageAccount(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	if resp.Created {
		utils.CreatedResponse(c, resp)
		return
	}
	utils.SuccessResponse(c, resp)
}

// POST /storage/place
func (h *StorageHandler) PlaceToStorage(c *gin.Context) {
	h.transfer(c, h.storageService.PlaceToStorage)
}

// POST /storage/place-back
func (h *StorageHandler) PlaceBack(c *gin.Context) {
	h.transfer(c, h.storageService.PlaceBack)
}

type storageTransfer func(ctx context.Context, userID uuid.UUID, req *services.StorageTransferRequest) (*services.Envelope, error)

// transfer answers with the unsigned envelope; the creator signs and submits it.
func (h *StorageHandler) transfer(c *gin.Context, build storageTransfer) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.StorageTransferRequest
	if !bindJSON(c, &req) {
		return
	}

	envelope, err := build(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, envelope)
}
