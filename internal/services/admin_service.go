// internal/services/admin_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type AdminService struct {
	db *gorm.DB
}

type MethodVolume struct {
	Method models.PaymentMethodKind `json:"method"`
	Count  int64                    `json:"count"`
	Amount decimal.Decimal          `json:"amount"`
	Fees   decimal.Decimal          `json:"fees"`
}

type AdminDashboardStats struct {
	TotalUsers         int64          `json:"total_users"`
	ActiveUsers        int64          `json:"active_users"`
	Creators           int64          `json:"creators"`
	StorageAccounts    int64          `json:"storage_accounts"`
	ActiveListings     int64          `json:"active_listings"`
	TotalPurchases     int64          `json:"total_purchases"`
	PurchasesThisMonth int64          `json:"purchases_this_month"`
	ReconciledRecords  int64          `json:"reconciled_records"`
	VolumeByMethod     []MethodVolume `json:"volume_by_method"`
}

type AdminPurchaseFilter struct {
	utils.PaginationParams
	UserID        *uuid.UUID
	AssetID       *uuid.UUID
	Method        *models.PaymentMethodKind
	Source        *models.RecordSource
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

type AdminAuditFilter struct {
	utils.PaginationParams
	UserID       *uuid.UUID
	ResourceType string
}

type UpdateUserStatusRequest struct {
	Status models.UserStatus `json:"status" validate:"required,oneof=active suspended banned"`
	Reason string            `json:"reason" validate:"max=500"`
}

func NewAdminService(db *gorm.DB) *AdminService {
	return &AdminService{db: db}
}

// Dashboard Statistics
func (s *AdminService) GetDashboardStats(ctx context.Context) (*AdminDashboardStats, error) {
	db := s.db.WithContext(ctx)
	stats := &AdminDashboardStats{}
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	counts := []struct {
		query *gorm.DB
		dest  *int64
	}{
		{db.Model(&models.User{}), &stats.TotalUsers},
		{db.Model(&models.User{}).Where("status = ?", models.UserStatusActive), &stats.ActiveUsers},
		{db.Model(&models.User{}).Where("user_type = ?", models.UserTypeCreator), &stats.Creators},
		{db.Model(&models.StorageAccount{}), &stats.StorageAccounts},
		{db.Model(&models.MarketListing{}), &stats.ActiveListings},
		{db.Model(&models.BuyerRecord{}), &stats.TotalPurchases},
		{db.Model(&models.BuyerRecord{}).Where("buy_at >= ?", monthStart), &stats.PurchasesThisMonth},
		{db.Model(&models.BuyerRecord{}).Where("source = ?", models.RecordSourceReconcile), &stats.ReconciledRecords},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to load dashboard stats: %w", err)
		}
	}

	if err := db.Model(&models.BuyerRecord{}).
		Select("method, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(platform_fee), 0) AS fees").
		Group("method").
		Order("method").
		Scan(&stats.VolumeByMethod).Error; err != nil {
		return nil, fmt.Errorf("failed to load purchase volume: %w", err)
	}

	return stats, nil
}

func (s *AdminService) GetPurchases(ctx context.Context, filter AdminPurchaseFilter) ([]models.BuyerRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.BuyerRecord{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.AssetID != nil {
		query = query.Where("asset_id = ?", *filter.AssetID)
	}
	if filter.Method != nil {
		query = query.Where("method = ?", *filter.Method)
	}
	if filter.Source != nil {
		query = query.Where("source = ?", *filter.Source)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("buy_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("buy_at <= ?", *filter.CreatedBefore)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count purchases: %w", err)
	}

	allowedSortFields := []string{"buy_at", "amount", "platform_fee", "method"}
	query = utils.ApplySort(query, filter.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, filter.PaginationParams)

	var records []models.BuyerRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch purchases: %w", err)
	}

	return records, total, nil
}

func (s *AdminService) GetAuditLogs(ctx context.Context, filter AdminAuditFilter) ([]models.AuditLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.ResourceType != "" {
		query = query.Where("resource_type = ?", filter.ResourceType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query = utils.ApplySort(query, filter.PaginationParams, []string{"created_at", "status"})
	query = utils.ApplyPagination(query, filter.PaginationParams)

	var logs []models.AuditLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch audit logs: %w", err)
	}

	return logs, total, nil
}

// UpdateUserStatus suspends or reinstates a user. Inactive users cannot
// request new quotes; purchases already on the ledger still get recorded.
func (s *AdminService) UpdateUserStatus(ctx context.Context, userID, adminID uuid.UUID, req *UpdateUserStatusRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidRequest.withCause("user not found", nil)
			}
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user.ID == adminID {
			return ErrForbidden.withCause("admins cannot change their own status", nil)
		}

		oldStatus := user.Status
		if err := tx.Model(&user).Update("status", req.Status).Error; err != nil {
			return fmt.Errorf("failed to update user status: %w", err)
		}

		audit := &models.AuditLog{
			UserID:       &adminID,
			Action:       "update_user_status",
			ResourceType: "users",
			ResourceID:   &user.ID,
			NewValues: models.JSONB{
				"old_status": oldStatus,
				"status":     req.Status,
				"reason":     req.Reason,
			},
		}
		if err := tx.Create(audit).Error; err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}

		logrus.WithFields(logrus.Fields{
			"user_id":  user.ID,
			"admin_id": adminID,
			"status":   req.Status,
		}).Info("User status updated")
		return nil
	})
}
