// internal/services/container.go
package services

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/config"
)

// Dependencies are the outside systems the services talk to.
type Dependencies struct {
	Horizon HorizonClient
	Oracle  PriceOracle
	Cards   CardProcessor
	Sealer  SecretSealer
}

// Services is the wired service graph shared by the router and the scheduler.
type Services struct {
	Ledger     *LedgerService
	Custody    *CustodyService
	Pricing    *PricingService
	Builder    *TransactionBuilder
	Settlement *SettlementService
	Market     *MarketService
	Storage    *StorageService
	Assets     *AssetService
	Payments   *PaymentService
	Admin      *AdminService
	Reconciler *ReconciliationService
}

func NewServices(db *gorm.DB, cfg *config.Config, deps Dependencies) (*Services, error) {
	custody, err := NewCustodyService(deps.Sealer, cfg.Ledger.PlatformSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize custody: %w", err)
	}

	ledger := NewLedgerService(deps.Horizon, cfg.Ledger)
	pricing, err := NewPricingService(ledger, deps.Oracle, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pricing: %w", err)
	}

	builder := NewTransactionBuilder(ledger, custody, cfg.Ledger)
	settlement := NewSettlementService(db, ledger, pricing, builder, custody, deps.Cards)
	market := NewMarketService(db, ledger, custody)

	return &Services{
		Ledger:     ledger,
		Custody:    custody,
		Pricing:    pricing,
		Builder:    builder,
		Settlement: settlement,
		Market:     market,
		Storage:    NewStorageService(db, ledger, builder, custody),
		Assets:     NewAssetService(db, ledger, builder, custody),
		Payments:   NewPaymentService(db),
		Admin:      NewAdminService(db),
		Reconciler: NewReconciliationService(db, ledger, custody, market, settlement, cfg.Reconcile),
	}, nil
}
