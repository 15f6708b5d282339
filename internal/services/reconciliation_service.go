// internal/services/reconciliation_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/metrics"
	"github.com/javajoker/settlement-backend/internal/models"
)

// ReconciliationService closes the gap between a settled ledger transfer and
// its buyer record, and removes listings whose backing account is empty.
type ReconciliationService struct {
	db         *gorm.DB
	ledger     *LedgerService
	custody    *CustodyService
	market     *MarketService
	settlement *SettlementService
	config     config.ReconcileConfig

	cron *cron.Cron
	mu   sync.Mutex // one sweep at a time
}

type SweepReport struct {
	AccountsScanned int      `json:"accounts_scanned"`
	PaymentsScanned int      `json:"payments_scanned"`
	Repaired        []string `json:"repaired"`
	ListingsRemoved int      `json:"listings_removed"`
	Errors          []string `json:"errors,omitempty"`
}

func NewReconciliationService(db *gorm.DB, ledger *LedgerService, custody *CustodyService, market *MarketService, settlement *SettlementService, cfg config.ReconcileConfig) *ReconciliationService {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 200
	}
	return &ReconciliationService{
		db:         db,
		ledger:     ledger,
		custody:    custody,
		market:     market,
		settlement: settlement,
		config:     cfg,
	}
}

// Start schedules the sweep. It is a no-op when reconciliation is disabled.
func (s *ReconciliationService) Start() error {
	if !s.config.Enabled {
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			logrus.WithError(err).Error("Reconciliation sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.config.Schedule, err)
	}
	s.cron.Start()

	logrus.WithField("schedule", s.config.Schedule).Info("Reconciliation scheduled")
	return nil
}

// Stop waits for a running sweep to finish.
func (s *ReconciliationService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one reconciliation pass.
func (s *ReconciliationService) Sweep(ctx context.Context) (*SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &SweepReport{}
	err := s.repairRecords(ctx, report)
	if err == nil {
		err = s.removeSoldOut(ctx, report)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordReconcileRun(outcome, len(report.Repaired))

	logrus.WithFields(logrus.Fields{
		"accounts":         report.AccountsScanned,
		"payments":         report.PaymentsScanned,
		"repaired":         len(report.Repaired),
		"listings_removed": report.ListingsRemoved,
	}).Info("Reconciliation sweep finished")

	return report, err
}

// repairRecords looks for single-copy deliveries out of custodial accounts
// that have no buyer record.
func (s *ReconciliationService) repairRecords(ctx context.Context, report *SweepReport) error {
	var storages []models.StorageAccount
	if err := s.db.WithContext(ctx).Find(&storages).Error; err != nil {
		return fmt.Errorf("failed to load storage accounts: %w", err)
	}

	custodial := map[string]bool{s.custody.Platform().Address(): true}
	for _, st := range storages {
		custodial[st.PublicKey] = true
	}

	for account := range custodial {
		report.AccountsScanned++
		payments, err := s.ledger.RecentPayments(ctx, account, uint(s.config.Lookback))
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}

		for _, p := range payments {
			report.PaymentsScanned++
			if !p.TransactionSuccessful || p.From != account || custodial[p.To] || p.Asset.Type == "native" {
				continue
			}
			amount, err := decimal.NewFromString(p.Amount)
			if err != nil || !amount.Equal(copyUnit) {
				continue
			}
			exists, err := s.settlement.recordExists(ctx, p.TransactionHash)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			if exists {
				continue
			}

			var buyer models.User
			if err := s.db.WithContext(ctx).Where("public_key = ?", p.To).First(&buyer).Error; err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					report.Errors = append(report.Errors, err.Error())
				}
				continue
			}
			// Place-backs and admin transfers are not purchases.
			if buyer.IsAdmin() || s.ownsStorage(storages, buyer, account) {
				continue
			}

			record, err := s.settlement.RecoverSettlement(ctx, &buyer, p.TransactionHash)
			if err != nil {
				if !errors.Is(err, ErrDuplicateSettlement) {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", p.TransactionHash, err))
				}
				continue
			}

			report.Repaired = append(report.Repaired, p.TransactionHash)
			logrus.WithFields(logrus.Fields{
				"tx_hash":  p.TransactionHash,
				"user_id":  buyer.ID,
				"asset_id": record.AssetID,
				"method":   record.Method,
			}).Warn("Reconciliation inserted missing buyer record")
		}
	}
	return nil
}

// removeSoldOut deletes listings whose backing account holds no whole copy.
func (s *ReconciliationService) removeSoldOut(ctx context.Context, report *SweepReport) error {
	var listings []models.MarketListing
	if err := s.db.WithContext(ctx).Preload("Asset").Find(&listings).Error; err != nil {
		return fmt.Errorf("failed to load listings: %w", err)
	}

	for i := range listings {
		listing := &listings[i]
		copies, err := s.market.AvailableCopies(ctx, listing)
		if err != nil {
			// Never remove a listing on a failed read.
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		if copies > 0 {
			continue
		}
		if err := s.db.WithContext(ctx).Delete(listing).Error; err != nil {
			return fmt.Errorf("failed to remove sold out listing: %w", err)
		}
		report.ListingsRemoved++
		logrus.WithFields(logrus.Fields{
			"listing_id": listing.ID,
			"asset_id":   listing.AssetID,
		}).Info("Removed sold out listing")
	}
	return nil
}

func (s *ReconciliationService) ownsStorage(storages []models.StorageAccount, user models.User, account string) bool {
	for _, st := range storages {
		if st.PublicKey == account && st.CreatorID == user.ID {
			return true
		}
	}
	return false
}
