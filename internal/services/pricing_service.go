// internal/services/pricing_service.go
package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/models"
)

// Ledger amounts carry seven decimal places; card amounts are in cents.
const (
	ledgerPrecision = 7
	cardPrecision   = 2
)

type PricingService struct {
	ledger        *LedgerService
	oracle        PriceOracle
	platformAsset LedgerAsset
	usdcAsset     LedgerAsset
	currency      string
	baseFee       decimal.Decimal
	surchargeXLM  decimal.Decimal
}

func NewPricingService(ledger *LedgerService, oracle PriceOracle, cfg *config.Config) (*PricingService, error) {
	baseFee, err := decimal.NewFromString(cfg.Pricing.BaseFee)
	if err != nil {
		return nil, fmt.Errorf("invalid platform base fee %q: %w", cfg.Pricing.BaseFee, err)
	}
	surcharge, err := decimal.NewFromString(cfg.Pricing.TrustlineSurcharge)
	if err != nil {
		return nil, fmt.Errorf("invalid trustline surcharge %q: %w", cfg.Pricing.TrustlineSurcharge, err)
	}

	return &PricingService{
		ledger:        ledger,
		oracle:        oracle,
		platformAsset: LedgerAsset{Code: cfg.Pricing.PlatformAssetCode, Issuer: cfg.Pricing.PlatformAssetIssuer},
		usdcAsset:     LedgerAsset{Code: cfg.Pricing.USDCCode, Issuer: cfg.Pricing.USDCIssuer},
		currency:      cfg.Payment.Currency,
		baseFee:       baseFee,
		surchargeXLM:  surcharge,
	}, nil
}

func (s *PricingService) cardCurrency() string {
	if s.currency == "" {
		return "usd"
	}
	return s.currency
}

// ParsePaymentMethod maps a method name from a request onto its variant.
func (s *PricingService) ParsePaymentMethod(kind string) (PaymentMethod, error) {
	switch models.PaymentMethodKind(kind) {
	case models.PaymentMethodAsset:
		return AssetPayment{Asset: s.platformAsset}, nil
	case models.PaymentMethodXLM:
		return XLMPayment{}, nil
	case models.PaymentMethodUSDC:
		return USDCPayment{Asset: s.usdcAsset}, nil
	case models.PaymentMethodCard:
		return CardPayment{Currency: s.currency}, nil
	}
	return nil, ErrInvalidRequest.withCause(fmt.Sprintf("unknown payment method %q", kind), nil)
}

func (s *PricingService) PlatformAsset() LedgerAsset {
	return s.platformAsset
}

func (s *PricingService) BaseFee() decimal.Decimal {
	return s.baseFee
}

// Quote prices one copy of listing for buyer. The trustline surcharge is added
// only when the buyer has no trustline on the listed asset yet.
func (s *PricingService) Quote(ctx context.Context, method PaymentMethod, listing *models.MarketListing, buyer string) (*PriceQuote, error) {
	asset := ledgerAssetOf(&listing.Asset)
	hasTrustline, err := s.ledger.HasTrustline(ctx, buyer, asset.Code, asset.Issuer)
	if err != nil {
		return nil, err
	}

	quote := &PriceQuote{
		Method:             method.Kind(),
		TrustlineRequired:  !hasTrustline,
		TrustlineSurcharge: decimal.Zero,
		ReserveTopUp:       decimal.Zero,
	}
	if pay, ok := payAsset(method); ok {
		quote.PayAsset = &pay
	}

	surchargeXLM := decimal.Zero
	if quote.TrustlineRequired {
		surchargeXLM = s.surchargeXLM
		quote.ReserveTopUp = s.ledger.BaseReserve()
	}

	precision := int32(ledgerPrecision)

	switch method.(type) {
	case AssetPayment:
		quote.Price = listing.Price
		quote.PlatformFee = s.baseFee
		if quote.TrustlineRequired {
			xlmUSD, platformUSD, err := s.usdRates(ctx)
			if err != nil {
				return nil, err
			}
			quote.TrustlineSurcharge = surchargeXLM.Mul(xlmUSD).Div(platformUSD)
		}

	case XLMPayment:
		xlmUSD, platformUSD, err := s.usdRates(ctx)
		if err != nil {
			return nil, err
		}
		quote.Price = listing.PriceUSD.Div(xlmUSD)
		quote.PlatformFee = s.baseFee.Mul(platformUSD).Div(xlmUSD)
		quote.TrustlineSurcharge = surchargeXLM

	case USDCPayment:
		rate, err := s.oracle.GetAssetToUSDCRate(ctx)
		if err != nil {
			return nil, err
		}
		quote.Price = listing.Price.Mul(rate)
		quote.PlatformFee = s.baseFee.Mul(rate)
		if quote.TrustlineRequired {
			xlmUSD, err := s.oracle.GetXLMUsdPrice(ctx)
			if err != nil {
				return nil, err
			}
			quote.TrustlineSurcharge = surchargeXLM.Mul(xlmUSD)
		}

	case CardPayment:
		precision = cardPrecision
		quote.Price = listing.PriceUSD
		platformUSD, err := s.oracle.GetPlatformAssetUsdPrice(ctx)
		if err != nil {
			return nil, err
		}
		quote.PlatformFee = s.baseFee.Mul(platformUSD)
		if quote.TrustlineRequired {
			xlmUSD, err := s.oracle.GetXLMUsdPrice(ctx)
			if err != nil {
				return nil, err
			}
			quote.TrustlineSurcharge = surchargeXLM.Mul(xlmUSD)
		}

	default:
		return nil, ErrInvalidRequest.withCause("unsupported payment method", nil)
	}

	// Round up so the platform never receives less than the rate implies.
	quote.Price = quote.Price.RoundCeil(precision)
	quote.PlatformFee = quote.PlatformFee.RoundCeil(precision)
	quote.TrustlineSurcharge = quote.TrustlineSurcharge.RoundCeil(precision)
	quote.Total = quote.Price.Add(quote.PlatformFee).Add(quote.TrustlineSurcharge)
	return quote, nil
}

// ToUSD converts an amount quoted in method's unit back to USD.
func (s *PricingService) ToUSD(ctx context.Context, method PaymentMethod, amount decimal.Decimal) (decimal.Decimal, error) {
	switch method.(type) {
	case AssetPayment:
		rate, err := s.oracle.GetPlatformAssetUsdPrice(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		return amount.Mul(rate), nil
	case XLMPayment:
		rate, err := s.oracle.GetXLMUsdPrice(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		return amount.Mul(rate), nil
	case USDCPayment, CardPayment:
		return amount, nil
	}
	return decimal.Zero, ErrInvalidRequest.withCause("unsupported payment method", nil)
}

func (s *PricingService) usdRates(ctx context.Context) (xlmUSD, platformUSD decimal.Decimal, err error) {
	if xlmUSD, err = s.oracle.GetXLMUsdPrice(ctx); err != nil {
		return
	}
	platformUSD, err = s.oracle.GetPlatformAssetUsdPrice(ctx)
	return
}
