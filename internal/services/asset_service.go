// internal/services/asset_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/models"
)

type AssetService struct {
	db      *gorm.DB
	ledger  *LedgerService
	builder *TransactionBuilder
	custody *CustodyService
}

type ClawbackRequest struct {
	// From is the account to reclaim from; FromUserID resolves it from a user.
	From       string          `json:"from,omitempty" validate:"omitempty,stellar_address"`
	FromUserID *uuid.UUID      `json:"from_user_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

type ClawbackResponse struct {
	TxHash string          `json:"tx_hash"`
	From   string          `json:"from"`
	Amount decimal.Decimal `json:"amount"`
}

func NewAssetService(db *gorm.DB, ledger *LedgerService, builder *TransactionBuilder, custody *CustodyService) *AssetService {
	return &AssetService{
		db:      db,
		ledger:  ledger,
		builder: builder,
		custody: custody,
	}
}

// Clawback reclaims tokens issued from the creator's custodied page issuer,
// typically when a subscription lapses. The envelope is signed and submitted
// here.
func (s *AssetService) Clawback(ctx context.Context, userID, assetID uuid.UUID, req *ClawbackRequest) (*ClawbackResponse, error) {
	if req.Amount.IsNegative() {
		return nil, ErrInvalidRequest.withCause("amount must not be negative", nil)
	}

	user, asset, err := s.loadAsset(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}
	if asset.CreatorID != user.ID && !user.IsAdmin() {
		return nil, ErrForbidden.withCause("only the creator can claw back this asset", nil)
	}

	var page models.PageAsset
	if err := s.db.WithContext(ctx).Where("creator_id = ? AND issuer = ?", asset.CreatorID, asset.Issuer).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrForbidden.withCause("issuer key is not held by the platform", nil)
		}
		return nil, fmt.Errorf("failed to load page asset: %w", err)
	}

	from := req.From
	if req.FromUserID != nil {
		var holder models.User
		if err := s.db.WithContext(ctx).First(&holder, "id = ?", *req.FromUserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrInvalidRequest.withCause("holder not found", nil)
			}
			return nil, fmt.Errorf("failed to load holder: %w", err)
		}
		from = holder.PublicKey
	}
	if from == "" {
		return nil, ErrInvalidRequest.withCause("from or from_user_id is required", nil)
	}

	issuer, err := s.custody.OpenKeypair(ctx, page.SealedSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to open issuer key: %w", err)
	}

	amount := req.Amount
	if amount.IsZero() {
		if amount, err = s.ledger.GetTokenBalance(ctx, from, asset.Code, asset.Issuer); err != nil {
			return nil, err
		}
	}

	envelope, err := s.builder.BuildClawback(ctx, issuer, from, ledgerAssetOf(asset), amount)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.Submit(ctx, envelope.XDR); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"asset_id": asset.ID,
		"from":     from,
		"tx_hash":  envelope.Hash,
	}).Info("Asset clawed back")

	return &ClawbackResponse{TxHash: envelope.Hash, From: from, Amount: amount}, nil
}

// RequestTrustline returns an unsigned trustline envelope for the caller, for
// zero-price claims.
func (s *AssetService) RequestTrustline(ctx context.Context, userID, assetID uuid.UUID) (*Envelope, error) {
	user, asset, err := s.loadAsset(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}
	if user.PublicKey == "" {
		return nil, ErrInvalidRequest.withCause("user has no ledger account", nil)
	}
	return s.builder.BuildTrustlineOnly(ctx, user.PublicKey, ledgerAssetOf(asset))
}

func (s *AssetService) loadAsset(ctx context.Context, userID, assetID uuid.UUID) (*models.User, *models.Asset, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidRequest.withCause("user not found", nil)
		}
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}

	var asset models.Asset
	if err := s.db.WithContext(ctx).First(&asset, "id = ?", assetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidListing.withCause("asset not found", nil)
		}
		return nil, nil, fmt.Errorf("failed to load asset: %w", err)
	}
	return &user, &asset, nil
}
