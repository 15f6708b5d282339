// internal/services/market_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/utils"
)

// availabilityConcurrency bounds parallel ledger reads for one listing page.
const availabilityConcurrency = 8

type MarketService struct {
	db      *gorm.DB
	ledger  *LedgerService
	custody *CustodyService
}

type PlaceToMarketRequest struct {
	AssetID  uuid.UUID          `json:"asset_id" validate:"required"`
	Price    decimal.Decimal    `json:"price"`
	PriceUSD decimal.Decimal    `json:"price_usd"`
	Type     models.ListingType `json:"type" validate:"required,oneof=FAN ADMIN SONG"`
	// Platform lists from the platform account instead of the caller's
	// storage account. Admins only.
	Platform bool `json:"platform,omitempty"`
}

type UpdatePriceRequest struct {
	Price    decimal.Decimal `json:"price"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

type ListingSearchParams struct {
	utils.PaginationParams
	AssetID  *uuid.UUID
	PlacerID *uuid.UUID
	Type     *models.ListingType
}

// ListingView is a listing with its copy count read from the ledger.
type ListingView struct {
	models.MarketListing
	AvailableCopies int64 `json:"available_copies"`
}

func NewMarketService(db *gorm.DB, ledger *LedgerService, custody *CustodyService) *MarketService {
	return &MarketService{db: db, ledger: ledger, custody: custody}
}

// PlaceToMarket lists an asset held in the caller's storage account. Privacy
// is copied from the asset at listing time.
func (s *MarketService) PlaceToMarket(ctx context.Context, userID uuid.UUID, req *PlaceToMarketRequest) (*ListingView, error) {
	if err := validatePrices(req.Price, req.PriceUSD); err != nil {
		return nil, err
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.Platform && !user.IsAdmin() {
		return nil, ErrForbidden.withCause("only admins can list from the platform account", nil)
	}

	var asset models.Asset
	if err := s.db.WithContext(ctx).First(&asset, "id = ?", req.AssetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidListing.withCause("asset not found", nil)
		}
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}

	listing := &models.MarketListing{
		AssetID:  asset.ID,
		Price:    req.Price,
		PriceUSD: req.PriceUSD,
		Privacy:  asset.Privacy,
		Type:     req.Type,
		Asset:    asset,
	}
	if !req.Platform {
		listing.PlacerID = &user.ID
	}

	exists, err := s.activeListingExists(ctx, asset.ID, listing.PlacerID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrListingExists
	}

	holder, err := s.holderAddress(ctx, listing)
	if err != nil {
		return nil, err
	}
	copies, err := s.ledger.AvailableCopies(ctx, holder, ledgerAssetOf(&asset))
	if err != nil {
		return nil, err
	}
	if copies < 1 {
		return nil, ErrInsufficientBalance.withCause("storage account holds no copy of this asset", nil)
	}

	if err := s.db.WithContext(ctx).Omit("Asset", "Placer").Create(listing).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrListingExists
		}
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"listing_id": listing.ID,
		"asset_id":   asset.ID,
		"placer_id":  listing.PlacerID,
		"copies":     copies,
	}).Info("Asset placed to market")

	return &ListingView{MarketListing: *listing, AvailableCopies: copies}, nil
}

func (s *MarketService) UpdatePrice(ctx context.Context, userID, listingID uuid.UUID, req *UpdatePriceRequest) (*models.MarketListing, error) {
	if err := validatePrices(req.Price, req.PriceUSD); err != nil {
		return nil, err
	}

	listing, err := s.ownedListing(ctx, userID, listingID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(listing).Updates(map[string]interface{}{
		"price":     req.Price,
		"price_usd": req.PriceUSD,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to update listing price: %w", err)
	}

	listing.Price = req.Price
	listing.PriceUSD = req.PriceUSD
	return listing, nil
}

// DisableListing removes a listing from the market. The row is kept so
// in-flight purchases can still be confirmed against it.
func (s *MarketService) DisableListing(ctx context.Context, userID, listingID uuid.UUID) error {
	listing, err := s.ownedListing(ctx, userID, listingID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(listing).Error; err != nil {
		return fmt.Errorf("failed to disable listing: %w", err)
	}
	return nil
}

func (s *MarketService) GetListing(ctx context.Context, listingID uuid.UUID) (*ListingView, error) {
	var listing models.MarketListing
	if err := s.db.WithContext(ctx).Preload("Asset").First(&listing, "id = ?", listingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidListing
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}

	copies, err := s.AvailableCopies(ctx, &listing)
	if err != nil {
		return nil, err
	}
	return &ListingView{MarketListing: listing, AvailableCopies: copies}, nil
}

// ListListings returns one page of active listings, each with a freshly
// derived copy count.
func (s *MarketService) ListListings(ctx context.Context, params ListingSearchParams) ([]ListingView, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.MarketListing{}).Preload("Asset")

	if params.AssetID != nil {
		query = query.Where("asset_id = ?", *params.AssetID)
	}
	if params.PlacerID != nil {
		query = query.Where("placer_id = ?", *params.PlacerID)
	}
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}

	allowedSortFields := []string{"created_at", "price", "price_usd"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var listings []models.MarketListing
	if err := query.Find(&listings).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch listings: %w", err)
	}

	views := make([]ListingView, len(listings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(availabilityConcurrency)
	for i := range listings {
		i := i
		views[i].MarketListing = listings[i]
		g.Go(func() error {
			copies, err := s.AvailableCopies(gctx, &listings[i])
			if err != nil {
				return err
			}
			views[i].AvailableCopies = copies
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	return views, total, nil
}

// AvailableCopies reads the backing account's balance of the listed asset.
// The asset is loaded when the listing was fetched without it.
func (s *MarketService) AvailableCopies(ctx context.Context, listing *models.MarketListing) (int64, error) {
	if listing.Asset.ID == uuid.Nil {
		if err := s.db.WithContext(ctx).First(&listing.Asset, "id = ?", listing.AssetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, ErrInvalidListing.withCause("listed asset no longer exists", nil)
			}
			return 0, fmt.Errorf("failed to load listed asset: %w", err)
		}
	}
	asset := ledgerAssetOf(&listing.Asset)
	if asset.IsNative() {
		return 0, ErrInvalidListing.withCause("listing has no ledger asset", nil)
	}

	holder, err := s.holderAddress(ctx, listing)
	if err != nil {
		return 0, err
	}
	if holder == "" {
		return 0, nil
	}
	return s.ledger.AvailableCopies(ctx, holder, asset)
}

// holderAddress is the custodial account backing the listing, or "" when the
// placer has no storage account.
func (s *MarketService) holderAddress(ctx context.Context, listing *models.MarketListing) (string, error) {
	if listing.IsPlatformListing() {
		return s.custody.Platform().Address(), nil
	}

	var storage models.StorageAccount
	err := s.db.WithContext(ctx).Select("public_key").Where("creator_id = ?", *listing.PlacerID).First(&storage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load storage account: %w", err)
	}
	return storage.PublicKey, nil
}

func (s *MarketService) ownedListing(ctx context.Context, userID, listingID uuid.UUID) (*models.MarketListing, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var listing models.MarketListing
	if err := s.db.WithContext(ctx).First(&listing, "id = ?", listingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidListing
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}

	if !listing.OwnedBy(user) {
		return nil, ErrForbidden.withCause("listing belongs to another placer", nil)
	}
	return &listing, nil
}

func (s *MarketService) activeListingExists(ctx context.Context, assetID uuid.UUID, placerID *uuid.UUID) (bool, error) {
	query := s.db.WithContext(ctx).Model(&models.MarketListing{}).Where("asset_id = ?", assetID)
	if placerID == nil {
		query = query.Where("placer_id IS NULL")
	} else {
		query = query.Where("placer_id = ?", *placerID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check existing listings: %w", err)
	}
	return count > 0, nil
}

func (s *MarketService) loadUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRequest.withCause("user not found", nil)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.Status != models.UserStatusActive && user.Status != "" {
		return nil, ErrForbidden.withCause("account is not active", nil)
	}
	return &user, nil
}

func validatePrices(price, priceUSD decimal.Decimal) error {
	if price.IsNegative() || priceUSD.IsNegative() {
		return ErrInvalidRequest.withCause("prices must not be negative", nil)
	}
	if !price.Equal(price.Round(ledgerPrecision)) || !priceUSD.Equal(priceUSD.Round(cardPrecision)) {
		return ErrInvalidRequest.withCause("price has too many decimal places", nil)
	}
	return nil
}
