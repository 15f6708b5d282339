// internal/services/settlement_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/metrics"
	"github.com/javajoker/settlement-backend/internal/models"
)

type SettlementState string

const (
	StateQuoteRequested    SettlementState = "QUOTE_REQUESTED"
	StateEnvelopeBuilt     SettlementState = "ENVELOPE_BUILT"
	StateAwaitingSignature SettlementState = "AWAITING_SIGNATURE"
	StateSubmitted         SettlementState = "SUBMITTED"
	StateConfirmed         SettlementState = "CONFIRMED"
	StateFailed            SettlementState = "FAILED"
)

// SettlementService sequences a purchase: quote and envelope, submission,
// then exactly one local write once the ledger has settled the transfer.
// It keeps no state between calls; the ledger arbitrates concurrent buyers.
type SettlementService struct {
	db      *gorm.DB
	ledger  *LedgerService
	pricing *PricingService
	builder *TransactionBuilder
	custody *CustodyService
	cards   CardProcessor
}

type QuoteRequest struct {
	ListingID uuid.UUID `json:"listing_id" validate:"required"`
	Method    string    `json:"method" validate:"required,oneof=asset xlm usdc card"`
}

type QuoteResponse struct {
	State           SettlementState `json:"state"`
	ListingID       uuid.UUID       `json:"listing_id"`
	AvailableCopies int64           `json:"available_copies"`
	Quote           *PriceQuote     `json:"quote"`
	Envelope        *Envelope       `json:"envelope"`
	CardIntent      *CardIntent     `json:"card_intent,omitempty"`
}

type SubmitRequest struct {
	ListingID       *uuid.UUID `json:"listing_id,omitempty"`
	SignedXDR       string     `json:"signed_xdr" validate:"required"`
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
}

type ConfirmRequest struct {
	ListingID       *uuid.UUID `json:"listing_id,omitempty"`
	TxHash          string     `json:"tx_hash" validate:"required,len=64,hexadecimal"`
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
}

type SettlementResult struct {
	State  SettlementState     `json:"state"`
	TxHash string              `json:"tx_hash"`
	Record *models.BuyerRecord `json:"record,omitempty"`
}

func NewSettlementService(db *gorm.DB, ledger *LedgerService, pricing *PricingService, builder *TransactionBuilder, custody *CustodyService, cards CardProcessor) *SettlementService {
	return &SettlementService{
		db:      db,
		ledger:  ledger,
		pricing: pricing,
		builder: builder,
		custody: custody,
		cards:   cards,
	}
}

// RequestQuote re-derives availability from the ledger, checks the privacy
// gate, prices the purchase and returns the envelope for the buyer to sign.
// It never writes to the database.
func (s *SettlementService) RequestQuote(ctx context.Context, buyerID uuid.UUID, req *QuoteRequest) (resp *QuoteResponse, err error) {
	defer func() {
		metrics.RecordQuote(req.Method, outcomeOf(err))
	}()

	method, err := s.pricing.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, err
	}

	listing, err := s.loadListing(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}

	buyer, err := s.loadBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if buyer.Status != models.UserStatusActive {
		return nil, ErrForbidden.withCause("account is "+string(buyer.Status), nil)
	}

	holder, seller, err := s.resolveHolder(ctx, listing)
	if err != nil {
		return nil, err
	}

	asset := ledgerAssetOf(&listing.Asset)
	copies, err := s.ledger.AvailableCopies(ctx, holder.Address(), asset)
	if err != nil {
		return nil, err
	}
	if copies < 1 {
		return nil, ErrSoldOut
	}

	if err := s.checkPrivacy(ctx, listing, buyer); err != nil {
		return nil, err
	}

	quote, err := s.pricing.Quote(ctx, method, listing, buyer.PublicKey)
	if err != nil {
		return nil, err
	}

	intent := &TransactionIntent{
		Method: method,
		Buyer:  buyer.PublicKey,
		Seller: seller,
		Asset:  asset,
		Quote:  quote,
	}
	envelope, err := s.builder.BuildBuy(ctx, intent, holder)
	if err != nil {
		return nil, err
	}

	resp = &QuoteResponse{
		State:           StateAwaitingSignature,
		ListingID:       listing.ID,
		AvailableCopies: copies,
		Quote:           quote,
		Envelope:        envelope,
	}

	if m, ok := method.(CardPayment); ok {
		resp.CardIntent, err = s.cards.CreateIntent(ctx, quote.Total, m.Currency, map[string]string{
			"tx_hash":      envelope.Hash,
			"listing_id":   listing.ID.String(),
			"buyer_id":     buyerID.String(),
			"amount_cents": strconv.FormatInt(toCents(quote.Total), 10),
		})
		if err != nil {
			return nil, ErrPriceUnavailable.withCause("card processor is unavailable", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"listing_id": listing.ID,
		"buyer_id":   buyerID,
		"method":     req.Method,
		"tx_hash":    envelope.Hash,
		"state":      resp.State,
	}).Debug("Settlement quote built")

	return resp, nil
}

// SubmitSigned sends a buyer-signed envelope to the ledger and confirms it.
// A delivery that fails because the holder ran out of copies is SoldOut.
func (s *SettlementService) SubmitSigned(ctx context.Context, buyerID uuid.UUID, req *SubmitRequest) (*SettlementResult, error) {
	buyer, err := s.loadBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	tx, err := parseEnvelope(req.SignedXDR)
	if err != nil {
		return nil, err
	}
	if tx.SourceAccount().AccountID != buyer.PublicKey {
		return nil, ErrForbidden.withCause("envelope is not sourced by the buyer", nil)
	}

	hash, err := tx.HashHex(s.ledger.NetworkPassphrase())
	if err != nil {
		return nil, ErrInvalidRequest.withCause("failed to hash envelope", err)
	}
	if err := s.checkDuplicate(ctx, buyer.ID, hash); err != nil {
		return nil, err
	}

	if req.PaymentIntentID != "" {
		// Card purchases are co-signed only once the card payment cleared.
		if tx, err = s.cosignCardPurchase(ctx, tx, hash, req.PaymentIntentID); err != nil {
			return nil, err
		}
	}

	envelope, err := tx.Base64()
	if err != nil {
		return nil, ErrInvalidRequest.withCause("failed to encode envelope", err)
	}

	log := logrus.WithFields(logrus.Fields{"buyer_id": buyerID, "tx_hash": hash})
	log.WithField("state", StateSubmitted).Debug("Submitting settlement")

	if _, err := s.ledger.Submit(ctx, envelope); err != nil {
		failure := err
		var rejection *SubmissionRejection
		if errors.As(err, &rejection) && isDeliveryShortfall(tx, buyer.PublicKey, rejection) {
			failure = ErrSoldOut.withTx(hash)
		}
		if errors.Is(failure, ErrSubmissionRejected) || errors.Is(failure, ErrSoldOut) {
			s.refundCard(ctx, req.PaymentIntentID, hash)
		}
		log.WithError(err).WithField("state", StateFailed).Warn("Settlement submission failed")
		metrics.RecordConfirmation(outcomeOf(failure))
		return &SettlementResult{State: StateFailed, TxHash: hash}, failure
	}

	return s.ConfirmSettlement(ctx, buyerID, &ConfirmRequest{
		ListingID:       req.ListingID,
		TxHash:          hash,
		PaymentIntentID: req.PaymentIntentID,
	})
}

// ConfirmSettlement records the purchase carried by a successful ledger
// transaction. The ledger transaction hash is the dedupe key.
func (s *SettlementService) ConfirmSettlement(ctx context.Context, buyerID uuid.UUID, req *ConfirmRequest) (result *SettlementResult, err error) {
	defer func() {
		metrics.RecordConfirmation(outcomeOf(err))
	}()

	buyer, err := s.loadBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	if err := s.checkDuplicate(ctx, buyer.ID, req.TxHash); err != nil {
		return nil, err
	}

	ledgerTx, err := s.ledger.TransactionDetail(ctx, req.TxHash)
	if err != nil {
		return nil, err
	}
	if ledgerTx == nil {
		return nil, ErrLedgerUnavailable.withCause("transaction is not on the ledger yet", nil).withTx(req.TxHash)
	}

	tx, err := parseEnvelope(ledgerTx.EnvelopeXdr)
	if err != nil {
		return nil, err
	}

	if !ledgerTx.Successful {
		// The buyer submitted after the holder ran out of copies.
		if rejection := rejectionOfResult(ledgerTx.ResultXdr); rejection != nil && isDeliveryShortfall(tx, buyer.PublicKey, rejection) {
			return &SettlementResult{State: StateFailed, TxHash: req.TxHash}, ErrSoldOut.withTx(req.TxHash)
		}
		return &SettlementResult{State: StateFailed, TxHash: req.TxHash}, ErrSubmissionRejected.withTx(req.TxHash)
	}
	if tx.SourceAccount().AccountID != buyer.PublicKey {
		return nil, ErrForbidden.withCause("transaction is not sourced by the buyer", nil).withTx(req.TxHash)
	}

	record, err := s.settlementRecord(ctx, tx, buyer, req, true)
	if err != nil {
		return nil, err
	}
	record.TxHash = req.TxHash
	record.Source = models.RecordSourceConfirm
	record.BuyAt = ledgerTx.LedgerCloseTime
	if record.BuyAt.IsZero() {
		record.BuyAt = time.Now()
	}

	if err := s.insertRecord(ctx, record); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"buyer_id": buyerID,
		"asset_id": record.AssetID,
		"tx_hash":  req.TxHash,
		"method":   record.Method,
		"state":    StateConfirmed,
	}).Info("Settlement confirmed")

	return &SettlementResult{State: StateConfirmed, TxHash: req.TxHash, Record: record}, nil
}

// RecoverSettlement writes the buyer record for a settled transaction that
// was never confirmed. Card amounts are left for support to fill in.
func (s *SettlementService) RecoverSettlement(ctx context.Context, buyer *models.User, txHash string) (*models.BuyerRecord, error) {
	ledgerTx, err := s.ledger.TransactionDetail(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if ledgerTx == nil || !ledgerTx.Successful {
		return nil, ErrSubmissionRejected.withTx(txHash)
	}

	tx, err := parseEnvelope(ledgerTx.EnvelopeXdr)
	if err != nil {
		return nil, err
	}

	record, err := s.settlementRecord(ctx, tx, buyer, &ConfirmRequest{TxHash: txHash}, false)
	if err != nil {
		return nil, err
	}
	record.TxHash = txHash
	record.Source = models.RecordSourceReconcile
	record.BuyAt = ledgerTx.LedgerCloseTime
	if record.BuyAt.IsZero() {
		record.BuyAt = time.Now()
	}

	if err := s.insertRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// settlementRecord reads what the transaction actually did: which custodial
// account delivered which asset to the buyer, and how the buyer paid.
func (s *SettlementService) settlementRecord(ctx context.Context, tx *txnbuild.Transaction, buyer *models.User, req *ConfirmRequest, verifyCard bool) (*models.BuyerRecord, error) {
	payments := paymentsOf(tx)

	delivery, placerID, err := s.findDelivery(ctx, payments, buyer.PublicKey)
	if err != nil {
		return nil, err
	}

	var asset models.Asset
	if err := s.db.WithContext(ctx).
		Where("code = ? AND issuer = ?", delivery.asset.Code, delivery.asset.Issuer).
		First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidListing.withCause("delivered asset is not known", nil)
		}
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}

	record := &models.BuyerRecord{
		AssetID:     asset.ID,
		UserID:      buyer.ID,
		Amount:      decimal.Zero,
		PlatformFee: decimal.Zero,
	}

	listing, err := s.findSettledListing(ctx, asset.ID, placerID, req.ListingID)
	if err != nil {
		return nil, err
	}
	seller := s.custody.Platform().Address()
	if listing != nil {
		record.ListingID = &listing.ID
		if listing.Placer != nil && listing.Placer.PublicKey != "" {
			seller = listing.Placer.PublicKey
		}
	}

	paid := paymentsFrom(payments, buyer.PublicKey)
	if len(paid) == 0 {
		record.Method = models.PaymentMethodCard
		if !verifyCard {
			return record, nil
		}
		intent, err := s.verifyCardPayment(ctx, req.PaymentIntentID, req.TxHash)
		if err != nil {
			return nil, err
		}
		record.Amount = decimal.New(intent.AmountCents, -cardPrecision)
		record.PaymentRef = intent.ID
		return record, nil
	}

	record.Method = s.methodOf(paid[0].asset)
	platform := s.custody.Platform().Address()
	for i, p := range paid {
		record.Amount = record.Amount.Add(p.amount)
		switch {
		case p.to == platform && seller != platform:
			record.PlatformFee = record.PlatformFee.Add(p.amount)
		case p.to == platform && i > 0:
			// Price first, fee after when the platform is also the seller.
			record.PlatformFee = record.PlatformFee.Add(p.amount)
		}
	}
	return record, nil
}

func (s *SettlementService) methodOf(asset LedgerAsset) models.PaymentMethodKind {
	switch {
	case asset.IsNative():
		return models.PaymentMethodXLM
	case asset == s.pricing.usdcAsset:
		return models.PaymentMethodUSDC
	}
	return models.PaymentMethodAsset
}

// findDelivery returns the single-copy transfer into the buyer's account and
// the placer owning the custodial account it came from (nil for platform).
func (s *SettlementService) findDelivery(ctx context.Context, payments []ledgerPayment, buyer string) (*ledgerPayment, *uuid.UUID, error) {
	platform := s.custody.Platform().Address()
	for i := range payments {
		p := &payments[i]
		if p.to != buyer || p.asset.IsNative() || p.from == buyer {
			continue
		}
		if p.from == platform {
			return p, nil, nil
		}
		var storage models.StorageAccount
		err := s.db.WithContext(ctx).Where("public_key = ?", p.from).First(&storage).Error
		if err == nil {
			return p, &storage.CreatorID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("failed to load storage account: %w", err)
		}
	}
	return nil, nil, ErrInvalidRequest.withCause("transaction does not deliver a custodial copy to the buyer", nil)
}

// findSettledListing includes deleted listings: a listing may sell out and be
// removed before its last purchase is confirmed.
func (s *SettlementService) findSettledListing(ctx context.Context, assetID uuid.UUID, placerID, listingID *uuid.UUID) (*models.MarketListing, error) {
	var listing models.MarketListing
	query := s.db.WithContext(ctx).Unscoped().Preload("Placer").Where("asset_id = ?", assetID)
	if listingID != nil {
		query = query.Where("id = ?", *listingID)
	} else if placerID != nil {
		query = query.Where("placer_id = ?", *placerID)
	} else {
		query = query.Where("placer_id IS NULL")
	}

	err := query.Order("created_at DESC").First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	return &listing, nil
}

func (s *SettlementService) insertRecord(ctx context.Context, record *models.BuyerRecord) error {
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Create(record).Error
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateSettlement.withTx(record.TxHash)
	}

	// The buyer has paid; the reconciliation sweep will write this record.
	logrus.WithError(err).WithFields(logrus.Fields{
		"tx_hash":  record.TxHash,
		"user_id":  record.UserID,
		"asset_id": record.AssetID,
	}).Error("Settlement confirmed on ledger but buyer record was not written")
	return ErrRecordFailed.withCause("", err).withTx(record.TxHash)
}

func (s *SettlementService) recordExists(ctx context.Context, txHash string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.BuyerRecord{}).Where("tx_hash = ?", txHash).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up buyer record: %w", err)
	}
	return count > 0, nil
}

// checkDuplicate reports a retry of the buyer's own recorded settlement as
// ErrDuplicateSettlement. Another user's hash is never theirs to confirm.
func (s *SettlementService) checkDuplicate(ctx context.Context, buyerID uuid.UUID, txHash string) error {
	var record models.BuyerRecord
	err := s.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up buyer record: %w", err)
	}
	if record.UserID != buyerID {
		return ErrForbidden.withCause("transaction belongs to another buyer", nil).withTx(txHash)
	}
	return ErrDuplicateSettlement.withTx(txHash)
}

func (s *SettlementService) loadListing(ctx context.Context, id uuid.UUID) (*models.MarketListing, error) {
	var listing models.MarketListing
	if err := s.db.WithContext(ctx).Preload("Asset").Preload("Placer").First(&listing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidListing
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	return &listing, nil
}

func (s *SettlementService) loadBuyer(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRequest.withCause("user not found", nil)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.PublicKey == "" {
		return nil, ErrInvalidRequest.withCause("user has no ledger account", nil)
	}
	return &user, nil
}

// resolveHolder returns the custodial key that backs the listing and the
// account that receives the sale price.
func (s *SettlementService) resolveHolder(ctx context.Context, listing *models.MarketListing) (*keypair.Full, string, error) {
	platform := s.custody.Platform()
	if listing.IsPlatformListing() {
		return platform, platform.Address(), nil
	}

	var storage models.StorageAccount
	if err := s.db.WithContext(ctx).Where("creator_id = ?", *listing.PlacerID).First(&storage).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidListing.withCause("placer has no storage account", nil)
		}
		return nil, "", fmt.Errorf("failed to load storage account: %w", err)
	}

	holder, err := s.custody.OpenKeypair(ctx, storage.SealedSecret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open storage key: %w", err)
	}

	seller := storage.PublicKey
	if listing.Placer != nil && listing.Placer.PublicKey != "" {
		seller = listing.Placer.PublicKey
	}
	return holder, seller, nil
}

// checkPrivacy gates PRIVATE listings on a trustline to the creator's page
// asset and TIER listings on holding at least the tier price of it.
func (s *SettlementService) checkPrivacy(ctx context.Context, listing *models.MarketListing, buyer *models.User) error {
	if listing.Privacy == models.PrivacyPublic || listing.Privacy == "" {
		return nil
	}
	if buyer.ID == listing.Asset.CreatorID {
		return nil
	}

	var page models.PageAsset
	if err := s.db.WithContext(ctx).Where("creator_id = ?", listing.Asset.CreatorID).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrForbidden.withCause("creator has no page asset", nil)
		}
		return fmt.Errorf("failed to load page asset: %w", err)
	}

	switch listing.Privacy {
	case models.PrivacyPrivate:
		ok, err := s.ledger.HasTrustline(ctx, buyer.PublicKey, page.Code, page.Issuer)
		if err != nil {
			return err
		}
		if !ok {
			return ErrForbidden.withCause("listing is private to page subscribers", nil)
		}
		return nil

	case models.PrivacyTiered:
		if listing.Asset.TierID == nil {
			return ErrForbidden.withCause("listing tier is not set", nil)
		}
		var tier models.SubscriptionTier
		if err := s.db.WithContext(ctx).First(&tier, "id = ?", *listing.Asset.TierID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrForbidden.withCause("listing tier no longer exists", nil)
			}
			return fmt.Errorf("failed to load tier: %w", err)
		}
		balance, err := s.ledger.GetTokenBalance(ctx, buyer.PublicKey, page.Code, page.Issuer)
		if err != nil {
			return err
		}
		if balance.LessThan(tier.Price) {
			return ErrForbidden.withCause(fmt.Sprintf("tier %s requires %s %s", tier.Name, tier.Price, page.Code), nil)
		}
		return nil
	}

	return ErrForbidden.withCause("unknown privacy tier", nil)
}

func (s *SettlementService) verifyCardPayment(ctx context.Context, intentID, txHash string) (*CardIntent, error) {
	if intentID == "" {
		return nil, ErrInvalidRequest.withCause("payment_intent_id is required for card purchases", nil)
	}
	intent, err := s.cards.GetIntent(ctx, intentID)
	if err != nil {
		return nil, ErrPriceUnavailable.withCause("card processor is unavailable", err)
	}
	if !intent.Succeeded {
		return nil, ErrInvalidRequest.withCause("card payment has not succeeded", nil).withTx(txHash)
	}
	if intent.Metadata["tx_hash"] != txHash {
		return nil, ErrForbidden.withCause("card payment belongs to another envelope", nil).withTx(txHash)
	}
	if !strings.EqualFold(intent.Currency, s.pricing.cardCurrency()) {
		return nil, ErrInvalidRequest.withCause("card payment is in "+intent.Currency, nil).withTx(txHash)
	}
	quoted, err := strconv.ParseInt(intent.Metadata["amount_cents"], 10, 64)
	if err != nil || quoted <= 0 || intent.AmountCents != quoted || intent.ReceivedCents < quoted {
		return nil, ErrInvalidRequest.withCause("card payment does not cover the quoted total", nil).withTx(txHash)
	}
	return intent, nil
}

// cosignCardPurchase adds the custodial signatures held back from a card
// envelope once its payment has cleared.
func (s *SettlementService) cosignCardPurchase(ctx context.Context, tx *txnbuild.Transaction, hash, intentID string) (*txnbuild.Transaction, error) {
	if _, err := s.verifyCardPayment(ctx, intentID, hash); err != nil {
		return nil, err
	}

	platform := s.custody.Platform()
	signers := map[string]*keypair.Full{}
	for _, p := range paymentsOf(tx) {
		if p.from == tx.SourceAccount().AccountID {
			continue
		}
		if _, seen := signers[p.from]; seen {
			continue
		}
		if p.from == platform.Address() {
			signers[p.from] = platform
			continue
		}
		var storage models.StorageAccount
		if err := s.db.WithContext(ctx).Where("public_key = ?", p.from).First(&storage).Error; err != nil {
			return nil, ErrForbidden.withCause("envelope spends from a non-custodial account", nil).withTx(hash)
		}
		kp, err := s.custody.OpenKeypair(ctx, storage.SealedSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage key: %w", err)
		}
		signers[p.from] = kp
	}

	keys := make([]*keypair.Full, 0, len(signers))
	for _, kp := range signers {
		keys = append(keys, kp)
	}
	signed, err := tx.Sign(s.ledger.NetworkPassphrase(), keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to co-sign envelope: %w", err)
	}
	return signed, nil
}

func (s *SettlementService) refundCard(ctx context.Context, intentID, txHash string) {
	if intentID == "" {
		return
	}
	if err := s.cards.Refund(ctx, intentID, "requested_by_customer"); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"payment_intent_id": intentID,
			"tx_hash":           txHash,
		}).Error("Failed to refund card payment for a rejected settlement")
	}
}

type ledgerPayment struct {
	index  int
	from   string
	to     string
	asset  LedgerAsset
	amount decimal.Decimal
}

func paymentsOf(tx *txnbuild.Transaction) []ledgerPayment {
	source := tx.SourceAccount().AccountID
	var out []ledgerPayment
	for i, op := range tx.Operations() {
		payment, ok := op.(*txnbuild.Payment)
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(payment.Amount)
		if err != nil {
			continue
		}
		from := payment.SourceAccount
		if from == "" {
			from = source
		}
		asset := LedgerAsset{}
		if !payment.Asset.IsNative() {
			asset = LedgerAsset{Code: payment.Asset.GetCode(), Issuer: payment.Asset.GetIssuer()}
		}
		out = append(out, ledgerPayment{
			index:  i,
			from:   from,
			to:     payment.Destination,
			asset:  asset,
			amount: amount,
		})
	}
	return out
}

// paymentsFrom returns the buyer's outgoing payments in envelope order.
func paymentsFrom(payments []ledgerPayment, buyer string) []ledgerPayment {
	var out []ledgerPayment
	for _, p := range payments {
		if p.from == buyer && p.to != buyer {
			out = append(out, p)
		}
	}
	return out
}

// isDeliveryShortfall reports whether the ledger refused the envelope because
// the custodial account had no copy left to deliver.
func isDeliveryShortfall(tx *txnbuild.Transaction, buyer string, rejection *SubmissionRejection) bool {
	index, code := rejection.FailedOperation()
	if index < 0 || (code != "op_underfunded" && code != "op_src_no_trust") {
		return false
	}
	for _, p := range paymentsOf(tx) {
		if p.index == index {
			return p.to == buyer && p.from != buyer && !p.asset.IsNative()
		}
	}
	return false
}

func parseEnvelope(envelope string) (*txnbuild.Transaction, error) {
	generic, err := txnbuild.TransactionFromXDR(envelope)
	if err != nil {
		return nil, ErrInvalidRequest.withCause("envelope is not a valid transaction", err)
	}
	if tx, ok := generic.Transaction(); ok {
		return tx, nil
	}
	if fb, ok := generic.FeeBump(); ok {
		return fb.InnerTransaction(), nil
	}
	return nil, ErrInvalidRequest.withCause("envelope is not a valid transaction", nil)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if se, ok := AsSettlementError(err); ok {
		return string(se.Code)
	}
	return "error"
}
