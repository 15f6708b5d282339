// internal/services/storage_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/keypair"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/models"
)

// StorageService onboards creators' custodial accounts and moves tokens
// between a creator's main account and their storage account.
type StorageService struct {
	db      *gorm.DB
	ledger  *LedgerService
	builder *TransactionBuilder
	custody *CustodyService
}

type StorageTransferRequest struct {
	AssetID uuid.UUID       `json:"asset_id" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

type StorageAccountResponse struct {
	PublicKey string `json:"public_key"`
	TxHash    string `json:"tx_hash,omitempty"`
	Created   bool   `json:"created"`
}

func NewStorageService(db *gorm.DB, ledger *LedgerService, builder *TransactionBuilder, custody *CustodyService) *StorageService {
	return &StorageService{
		db:      db,
		ledger:  ledger,
		builder: builder,
		custody: custody,
	}
}

// CreateStorageAccount creates and funds the creator's custodial account. It
// returns the existing account when there already is one.
func (s *StorageService) CreateStorageAccount(ctx context.Context, creatorID uuid.UUID) (*StorageAccountResponse, error) {
	var creator models.User
	if err := s.db.WithContext(ctx).Preload("StorageAccount").First(&creator, "id = ?", creatorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRequest.withCause("user not found", nil)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if creator.UserType != models.UserTypeCreator && !creator.IsAdmin() {
		return nil, ErrForbidden.withCause("only creators have storage accounts", nil)
	}
	if creator.StorageAccount != nil {
		return &StorageAccountResponse{PublicKey: creator.StorageAccount.PublicKey}, nil
	}

	kp, err := keypair.Random()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	sealed, err := s.custody.SealSeed(ctx, kp)
	if err != nil {
		return nil, fmt.Errorf("failed to seal storage secret: %w", err)
	}

	envelope, err := s.builder.BuildCreateStorageAccount(ctx, kp.Address())
	if err != nil {
		return nil, err
	}

	// The row commits only if the ledger accepted the account, so a secret is
	// never lost for a funded account nor kept for an unfunded one.
	err = database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		account := &models.StorageAccount{
			CreatorID:    creator.ID,
			PublicKey:    kp.Address(),
			SealedSecret: sealed,
		}
		if err := tx.Create(account).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrInvalidRequest.withCause("storage account is being created", nil)
			}
			return fmt.Errorf("failed to save storage account: %w", err)
		}
		_, err := s.ledger.Submit(ctx, envelope.XDR)
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"creator_id": creator.ID,
		"public_key": kp.Address(),
		"tx_hash":    envelope.Hash,
	}).Info("Storage account created")

	return &StorageAccountResponse{PublicKey: kp.Address(), TxHash: envelope.Hash, Created: true}, nil
}

// PlaceToStorage returns an envelope moving tokens from the creator's main
// account into storage, for the creator to sign.
func (s *StorageService) PlaceToStorage(ctx context.Context, userID uuid.UUID, req *StorageTransferRequest) (*Envelope, error) {
	user, storage, asset, err := s.transferParties(ctx, userID, req.AssetID)
	if err != nil {
		return nil, err
	}
	return s.builder.BuildPlaceToStorage(ctx, user.PublicKey, storage, ledgerAssetOf(asset), req.Amount)
}

// PlaceBack returns an envelope moving tokens from storage back to the
// creator's main account, for the creator to sign.
func (s *StorageService) PlaceBack(ctx context.Context, userID uuid.UUID, req *StorageTransferRequest) (*Envelope, error) {
	user, storage, asset, err := s.transferParties(ctx, userID, req.AssetID)
	if err != nil {
		return nil, err
	}
	return s.builder.BuildPlaceBack(ctx, user.PublicKey, storage, ledgerAssetOf(asset), req.Amount)
}

func (s *StorageService) transferParties(ctx context.Context, userID, assetID uuid.UUID) (*models.User, *keypair.Full, *models.Asset, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("StorageAccount").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, ErrInvalidRequest.withCause("user not found", nil)
		}
		return nil, nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.PublicKey == "" {
		return nil, nil, nil, ErrInvalidRequest.withCause("user has no ledger account", nil)
	}
	if user.StorageAccount == nil {
		return nil, nil, nil, ErrInvalidRequest.withCause("user has no storage account", nil)
	}

	var asset models.Asset
	if err := s.db.WithContext(ctx).First(&asset, "id = ?", assetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, ErrInvalidListing.withCause("asset not found", nil)
		}
		return nil, nil, nil, fmt.Errorf("failed to load asset: %w", err)
	}

	storage, err := s.custody.OpenKeypair(ctx, user.StorageAccount.SealedSecret)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open storage key: %w", err)
	}
	return &user, storage, &asset, nil
}

type SignedEnvelopeRequest struct {
	SignedXDR string `json:"signed_xdr" validate:"required"`
}

type SubmitResponse struct {
	TxHash string `json:"tx_hash"`
	Ledger int32  `json:"ledger"`
}

// SubmitSigned relays an envelope the caller signed, such as a storage
// transfer or a trustline. Only envelopes sourced by the caller are accepted.
func (s *StorageService) SubmitSigned(ctx context.Context, userID uuid.UUID, req *SignedEnvelopeRequest) (*SubmitResponse, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRequest.withCause("user not found", nil)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	tx, err := parseEnvelope(req.SignedXDR)
	if err != nil {
		return nil, err
	}
	if user.PublicKey == "" || tx.SourceAccount().AccountID != user.PublicKey {
		return nil, ErrForbidden.withCause("envelope is not sourced by the caller", nil)
	}

	result, err := s.ledger.Submit(ctx, req.SignedXDR)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"tx_hash": result.Hash,
	}).Info("Signed envelope relayed")

	return &SubmitResponse{TxHash: result.Hash, Ledger: result.Ledger}, nil
}
