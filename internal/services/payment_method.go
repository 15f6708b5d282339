// internal/services/payment_method.go
package services

import (
	"github.com/shopspring/decimal"
	"github.com/stellar/go/txnbuild"

	"github.com/javajoker/settlement-backend/internal/models"
)

// LedgerAsset identifies a ledger asset. The zero value is the native asset (XLM).
type LedgerAsset struct {
	Code   string `json:"code,omitempty"`
	Issuer string `json:"issuer,omitempty"`
}

func (a LedgerAsset) IsNative() bool {
	return a.Code == "" && a.Issuer == ""
}

func (a LedgerAsset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

func (a LedgerAsset) txnAsset() txnbuild.Asset {
	if a.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: a.Code, Issuer: a.Issuer}
}

func ledgerAssetOf(asset *models.Asset) LedgerAsset {
	return LedgerAsset{Code: asset.Code, Issuer: asset.Issuer}
}

// PaymentMethod is the closed set of ways a buyer can pay. Each variant only
// carries what it needs; settle it with a type switch over the four structs.
type PaymentMethod interface {
	Kind() models.PaymentMethodKind
	paymentMethod()
}

// AssetPayment pays in the platform asset.
type AssetPayment struct {
	Asset LedgerAsset
}

// XLMPayment pays in the native asset.
type XLMPayment struct{}

// USDCPayment pays in the configured USDC asset.
type USDCPayment struct {
	Asset LedgerAsset
}

// CardPayment pays off-ledger through the card processor.
type CardPayment struct {
	Currency string
}

func (AssetPayment) Kind() models.PaymentMethodKind { return models.PaymentMethodAsset }
func (XLMPayment) Kind() models.PaymentMethodKind   { return models.PaymentMethodXLM }
func (USDCPayment) Kind() models.PaymentMethodKind  { return models.PaymentMethodUSDC }
func (CardPayment) Kind() models.PaymentMethodKind  { return models.PaymentMethodCard }

func (AssetPayment) paymentMethod() {}
func (XLMPayment) paymentMethod()   {}
func (USDCPayment) paymentMethod()  {}
func (CardPayment) paymentMethod()  {}

// payAsset is the ledger asset the buyer remits in, and false for card.
func payAsset(m PaymentMethod) (LedgerAsset, bool) {
	switch m := m.(type) {
	case AssetPayment:
		return m.Asset, true
	case XLMPayment:
		return LedgerAsset{}, true
	case USDCPayment:
		return m.Asset, true
	case CardPayment:
		return LedgerAsset{}, false
	}
	return LedgerAsset{}, false
}

// PriceQuote is what the buyer must remit for one copy, in the method's unit
// (platform asset, XLM, USDC or USD).
type PriceQuote struct {
	Method             models.PaymentMethodKind `json:"method"`
	PayAsset           *LedgerAsset             `json:"pay_asset,omitempty"`
	Price              decimal.Decimal          `json:"price"`
	PlatformFee        decimal.Decimal          `json:"platform_fee"`
	TrustlineSurcharge decimal.Decimal          `json:"trustline_surcharge"`
	Total              decimal.Decimal          `json:"total"`
	TrustlineRequired  bool                     `json:"trustline_required"`
	// ReserveTopUp is the XLM the custodial account forwards to the buyer so the
	// new trustline's reserve is covered; it is paid for by the surcharge.
	ReserveTopUp decimal.Decimal `json:"reserve_top_up"`
}

// TransactionIntent parameterizes one buy envelope. It lives for one request.
type TransactionIntent struct {
	Method PaymentMethod
	Buyer  string
	Seller string
	Asset  LedgerAsset
	Quote  *PriceQuote
}
