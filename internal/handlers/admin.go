// internal/handlers/admin.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/settlement-backend/internal/i18n"
	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type AdminHandler struct {
	adminService *services.AdminService
	reconciler   *services.ReconciliationService
}

func NewAdminHandler(adminService *services.AdminService, reconciler *services.ReconciliationService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		reconciler:   reconciler,
	}
}

// GET /admin/dashboard/stats
func (h *AdminHandler) GetDashboardStats(c *gin.Context) {
	stats, err := h.adminService.GetDashboardStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"stats": stats,
	})
}

// GET /admin/purchases
func (h *AdminHandler) GetPurchases(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	filter := services.AdminPurchaseFilter{
		PaginationParams: utils.GetPaginationParams(c),
	}

	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "user_id"), nil)
			return
		}
		filter.UserID = &id
	}
	if raw := c.Query("asset_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "asset_id"), nil)
			return
		}
		filter.AssetID = &id
	}
	if raw := c.Query("method"); raw != "" {
		method := models.PaymentMethodKind(raw)
		filter.Method = &method
	}
	if raw := c.Query("source"); raw != "" {
		source := models.RecordSource(raw)
		filter.Source = &source
	}
	if raw := c.Query("created_after"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.CreatedAfter = &t
		}
	}
	if raw := c.Query("created_before"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.CreatedBefore = &t
		}
	}

	records, total, err := h.adminService.GetPurchases(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	result := utils.CreatePaginationResult(records, total, filter.PaginationParams)
	utils.PaginatedResponse(c, result)
}

// GET /admin/audit-logs
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	filter := services.AdminAuditFilter{
		PaginationParams: utils.GetPaginationParams(c),
		ResourceType:     c.Query("resource_type"),
	}
	if raw := c.Query("user_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			filter.UserID = &id
		}
	}

	logs, total, err := h.adminService.GetAuditLogs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	result := utils.CreatePaginationResult(logs, total, filter.PaginationParams)
	utils.PaginatedResponse(c, result)
}

// PUT /admin/users/:id/status
func (h *AdminHandler) UpdateUserStatus(c *gin.Context) {
	adminID, ok := currentUserID(c)
	if !ok {
		return
	}
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateUserStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.adminService.UpdateUserStatus(c.Request.Context(), userID, adminID, &req); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"user_id": userID,
		"status":  req.Status,
	})
}

// POST /admin/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	report, err := h.reconciler.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyReconcileCompleted),
		"report":  report,
	})
}
