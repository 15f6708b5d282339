// internal/services/payment_service.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/utils"
)

// CardIntent is the card processor's view of one payment.
type CardIntent struct {
	ID            string            `json:"id"`
	ClientSecret  string            `json:"client_secret,omitempty"`
	AmountCents   int64             `json:"amount_cents"`
	ReceivedCents int64             `json:"-"`
	Currency      string            `json:"currency"`
	Succeeded     bool              `json:"succeeded"`
	Metadata      map[string]string `json:"-"`
}

// CardProcessor takes off-ledger card payments for the card method.
type CardProcessor interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*CardIntent, error)
	GetIntent(ctx context.Context, id string) (*CardIntent, error)
	Refund(ctx context.Context, id, reason string) error
}

type StripeCardProcessor struct{}

func NewStripeCardProcessor(cfg config.PaymentConfig) *StripeCardProcessor {
	stripe.Key = cfg.StripeSecretKey
	return &StripeCardProcessor{}
}

func (p *StripeCardProcessor) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*CardIntent, error) {
	if currency == "" {
		currency = "usd"
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toCents(amount)),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return cardIntentOf(pi), nil
}

func (p *StripeCardProcessor) GetIntent(ctx context.Context, id string) (*CardIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return cardIntentOf(pi), nil
}

func (p *StripeCardProcessor) Refund(ctx context.Context, id, reason string) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(id),
		Reason:        stripe.String(reason),
	}
	params.Context = ctx
	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("failed to process refund: %w", err)
	}
	return nil
}

func cardIntentOf(pi *stripe.PaymentIntent) *CardIntent {
	return &CardIntent{
		ID:            pi.ID,
		ClientSecret:  pi.ClientSecret,
		AmountCents:   pi.Amount,
		ReceivedCents: pi.AmountReceived,
		Currency:      string(pi.Currency),
		Succeeded:     pi.Status == stripe.PaymentIntentStatusSucceeded,
		Metadata:      pi.Metadata,
	}
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(cardPrecision).Ceil().IntPart()
}

// PaymentService reads purchase history.
type PaymentService struct {
	db *gorm.DB
}

func NewPaymentService(db *gorm.DB) *PaymentService {
	return &PaymentService{db: db}
}

// GetPurchaseHistory pages through the buyer's records, newest first by default.
func (s *PaymentService) GetPurchaseHistory(ctx context.Context, userID uuid.UUID, params utils.PaginationParams) ([]models.BuyerRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.BuyerRecord{}).
		Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count purchases: %w", err)
	}

	allowedSortFields := []string{"buy_at", "amount", "method"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var records []models.BuyerRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch purchases: %w", err)
	}

	return records, total, nil
}
