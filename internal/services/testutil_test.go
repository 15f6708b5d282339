package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.RunMigrations(db))
	return db
}

type fakeOracle struct {
	mu       sync.Mutex
	xlmUSD   decimal.Decimal
	platform decimal.Decimal
	usdc     decimal.Decimal
	err      error
	calls    int
}

func (o *fakeOracle) rate(v decimal.Decimal) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return decimal.Zero, o.err
	}
	return v, nil
}

func (o *fakeOracle) GetXLMUsdPrice(context.Context) (decimal.Decimal, error) {
	return o.rate(o.xlmUSD)
}

func (o *fakeOracle) GetPlatformAssetUsdPrice(context.Context) (decimal.Decimal, error) {
	return o.rate(o.platform)
}

func (o *fakeOracle) GetAssetToUSDCRate(context.Context) (decimal.Decimal, error) {
	return o.rate(o.usdc)
}

type fakeCards struct {
	mu       sync.Mutex
	intents  map[string]*CardIntent
	refunded []string
}

func newFakeCards() *fakeCards {
	return &fakeCards{intents: map[string]*CardIntent{}}
}

func (c *fakeCards) CreateIntent(_ context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*CardIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if currency == "" {
		currency = "usd"
	}
	intent := &CardIntent{
		ID:           "pi_" + uuid.NewString()[:8],
		ClientSecret: "secret",
		AmountCents:  toCents(amount),
		Currency:     currency,
		Metadata:     metadata,
	}
	c.intents[intent.ID] = intent
	return intent, nil
}

func (c *fakeCards) GetIntent(_ context.Context, id string) (*CardIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	intent, ok := c.intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment intent")
	}
	copied := *intent
	return &copied, nil
}

func (c *fakeCards) Refund(_ context.Context, id, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refunded = append(c.refunded, id)
	return nil
}

func (c *fakeCards) succeed(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents[id].Succeeded = true
	c.intents[id].ReceivedCents = c.intents[id].AmountCents
}

// tamper rewrites a stored intent the way an out-of-band edit on the
// processor would.
func (c *fakeCards) tamper(id string, edit func(*CardIntent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	edit(c.intents[id])
}

// testEnv wires every service against sqlite and the in-memory ledger.
type testEnv struct {
	t        *testing.T
	cfg      *config.Config
	db       *gorm.DB
	ledger   *fakeLedger
	oracle   *fakeOracle
	cards    *fakeCards
	sealer   *SecretboxSealer
	platform *keypair.Full

	platformAsset LedgerAsset
	usdcAsset     LedgerAsset

	Ledger     *LedgerService
	Custody    *CustodyService
	Pricing    *PricingService
	Builder    *TransactionBuilder
	Settlement *SettlementService
	Market     *MarketService
	Storage    *StorageService
	Assets     *AssetService
	Reconciler *ReconciliationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	platform := keypair.MustRandom()
	platformIssuer := keypair.MustRandom()
	usdcIssuer := keypair.MustRandom()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "test",
		Ledger: config.LedgerConfig{
			NetworkPassphrase: network.TestNetworkPassphrase,
			Timeout:           5 * time.Second,
			EnvelopeTimeout:   300,
			PlatformSecret:    platform.Seed(),
			BaseReserve:       "0.5",
			StartingBalance:   "5",
		},
		Pricing: config.PricingConfig{
			PlatformAssetCode:   "WADZZO",
			PlatformAssetIssuer: platformIssuer.Address(),
			USDCCode:            "USDC",
			USDCIssuer:          usdcIssuer.Address(),
			BaseFee:             "1",
			TrustlineSurcharge:  "0.5",
		},
		Custody: config.CustodyConfig{
			Provider: "local",
			LocalKey: base64.StdEncoding.EncodeToString(key),
		},
		Payment:   config.PaymentConfig{Currency: "usd"},
		Reconcile: config.ReconcileConfig{Enabled: true, Schedule: "@every 5m", Lookback: 200},
	}

	env := &testEnv{
		t:      t,
		cfg:    cfg,
		db:     newTestDB(t),
		ledger: newFakeLedger(network.TestNetworkPassphrase),
		oracle: &fakeOracle{
			xlmUSD:   decimal.RequireFromString("0.10"),
			platform: decimal.RequireFromString("0.50"),
			usdc:     decimal.RequireFromString("0.50"),
		},
		cards:         newFakeCards(),
		platform:      platform,
		platformAsset: LedgerAsset{Code: "WADZZO", Issuer: platformIssuer.Address()},
		usdcAsset:     LedgerAsset{Code: "USDC", Issuer: usdcIssuer.Address()},
	}

	env.ledger.fund(platform.Address(), "1000")
	env.ledger.fund(platformIssuer.Address(), "100")
	env.ledger.fund(usdcIssuer.Address(), "100")

	env.sealer, err = NewSecretboxSealer(cfg.Custody.LocalKey)
	require.NoError(t, err)

	env.Ledger = NewLedgerService(env.ledger, cfg.Ledger)
	env.Custody, err = NewCustodyService(env.sealer, platform.Seed())
	require.NoError(t, err)
	env.Pricing, err = NewPricingService(env.Ledger, env.oracle, cfg)
	require.NoError(t, err)
	env.Builder = NewTransactionBuilder(env.Ledger, env.Custody, cfg.Ledger)
	env.Settlement = NewSettlementService(env.db, env.Ledger, env.Pricing, env.Builder, env.Custody, env.cards)
	env.Market = NewMarketService(env.db, env.Ledger, env.Custody)
	env.Storage = NewStorageService(env.db, env.Ledger, env.Builder, env.Custody)
	env.Assets = NewAssetService(env.db, env.Ledger, env.Builder, env.Custody)
	env.Reconciler = NewReconciliationService(env.db, env.Ledger, env.Custody, env.Market, env.Settlement, cfg.Reconcile)

	return env
}

// newUser creates a user with a funded ledger account.
func (e *testEnv) newUser(userType models.UserType, xlm string) (*models.User, *keypair.Full) {
	e.t.Helper()
	kp := keypair.MustRandom()
	e.ledger.fund(kp.Address(), xlm)
	user := &models.User{
		Username:  "user_" + uuid.NewString()[:8],
		PublicKey: kp.Address(),
		UserType:  userType,
		Status:    models.UserStatusActive,
	}
	require.NoError(e.t, e.db.Create(user).Error)
	return user, kp
}

// newCreator creates a creator with a storage account already on the ledger.
func (e *testEnv) newCreator() (*models.User, *keypair.Full, *keypair.Full) {
	e.t.Helper()
	creator, kp := e.newUser(models.UserTypeCreator, "100")
	storage := keypair.MustRandom()
	e.ledger.fund(storage.Address(), "10")
	sealed, err := e.sealer.Seal(context.Background(), []byte(storage.Seed()))
	require.NoError(e.t, err)
	require.NoError(e.t, e.db.Create(&models.StorageAccount{
		CreatorID:    creator.ID,
		PublicKey:    storage.Address(),
		SealedSecret: sealed,
	}).Error)
	return creator, kp, storage
}

// newAsset registers an asset issued by a fresh issuer account.
func (e *testEnv) newAsset(creator *models.User, code string, privacy models.PrivacyTier) *models.Asset {
	e.t.Helper()
	issuer := keypair.MustRandom()
	e.ledger.fund(issuer.Address(), "10")
	asset := &models.Asset{
		Code:      code,
		Issuer:    issuer.Address(),
		CreatorID: creator.ID,
		Name:      code,
		Privacy:   privacy,
		Limit:     decimal.NewFromInt(1000),
	}
	require.NoError(e.t, e.db.Create(asset).Error)
	return asset
}

// newListing lists asset from placer (nil for the platform) with copies
// tokens already in the backing account.
func (e *testEnv) newListing(asset *models.Asset, placer *models.User, holder string, copies int, price, priceUSD string) *models.MarketListing {
	e.t.Helper()
	e.ledger.trust(holder, ledgerAssetOf(asset), fmt.Sprintf("%d", copies))
	listing := &models.MarketListing{
		AssetID:  asset.ID,
		Price:    decimal.RequireFromString(price),
		PriceUSD: decimal.RequireFromString(priceUSD),
		Privacy:  asset.Privacy,
		Type:     models.ListingTypeFan,
	}
	if placer != nil {
		listing.PlacerID = &placer.ID
	}
	require.NoError(e.t, e.db.Create(listing).Error)
	return listing
}

// sign adds signer's signature to a base64 envelope.
func (e *testEnv) sign(envelope string, signer *keypair.Full) string {
	e.t.Helper()
	generic, err := txnbuild.TransactionFromXDR(envelope)
	require.NoError(e.t, err)
	tx, ok := generic.Transaction()
	require.True(e.t, ok)
	tx, err = tx.Sign(network.TestNetworkPassphrase, signer)
	require.NoError(e.t, err)
	signed, err := tx.Base64()
	require.NoError(e.t, err)
	return signed
}

func (e *testEnv) countRecords() int64 {
	var count int64
	e.db.Model(&models.BuyerRecord{}).Count(&count)
	return count
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
