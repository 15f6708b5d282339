package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/middleware"
	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("handler-test-secret")
}

type stubOracle struct{}

func (stubOracle) GetXLMUsdPrice(context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString("0.10"), nil
}

func (stubOracle) GetPlatformAssetUsdPrice(context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString("0.50"), nil
}

func (stubOracle) GetAssetToUSDCRate(context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString("0.50"), nil
}

type noCards struct{}

func (noCards) CreateIntent(context.Context, decimal.Decimal, string, map[string]string) (*services.CardIntent, error) {
	return nil, errors.New("cards disabled")
}

func (noCards) GetIntent(context.Context, string) (*services.CardIntent, error) {
	return nil, errors.New("cards disabled")
}

func (noCards) Refund(context.Context, string, string) error {
	return errors.New("cards disabled")
}

// handlerEnv serves the handlers against sqlite and a mocked horizon.
type handlerEnv struct {
	t       *testing.T
	db      *gorm.DB
	horizon *horizonclient.MockClient
	svc     *services.Services
	engine  *gin.Engine
}

func newHandlerEnv(t *testing.T) *handlerEnv {
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

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	sealer, err := services.NewSecretboxSealer(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	cfg := &config.Config{
		Ledger: config.LedgerConfig{
			NetworkPassphrase: network.TestNetworkPassphrase,
			Timeout:           time.Second,
			EnvelopeTimeout:   300,
			PlatformSecret:    keypair.MustRandom().Seed(),
			BaseReserve:       "0.5",
			StartingBalance:   "5",
		},
		Pricing: config.PricingConfig{
			PlatformAssetCode:   "WADZZO",
			PlatformAssetIssuer: keypair.MustRandom().Address(),
			USDCCode:            "USDC",
			USDCIssuer:          keypair.MustRandom().Address(),
			BaseFee:             "1",
			TrustlineSurcharge:  "0.5",
		},
		Payment:   config.PaymentConfig{Currency: "usd"},
		Reconcile: config.ReconcileConfig{Schedule: "@every 5m", Lookback: 50},
	}

	client := &horizonclient.MockClient{}
	svc, err := services.NewServices(db, cfg, services.Dependencies{
		Horizon: client,
		Oracle:  stubOracle{},
		Cards:   noCards{},
		Sealer:  sealer,
	})
	require.NoError(t, err)

	env := &handlerEnv{t: t, db: db, horizon: client, svc: svc}
	env.engine = env.routes()
	return env
}

func (e *handlerEnv) routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.I18nMiddleware("en"))

	listings := NewListingHandler(e.svc.Market)
	settlements := NewSettlementHandler(e.svc.Settlement)
	purchases := NewPurchaseHandler(e.svc.Payments)
	storage := NewStorageHandler(e.svc.Storage)
	admin := NewAdminHandler(e.svc.Admin, e.svc.Reconciler)

	v1 := r.Group("/v1")
	v1.GET("/listings", listings.GetListings)
	v1.GET("/listings/:id", listings.GetListing)

	auth := v1.Group("", middleware.AuthRequired())
	auth.POST("/listings", listings.PlaceToMarket)
	auth.POST("/settlements/quote", settlements.RequestQuote)
	auth.POST("/settlements/confirm", settlements.ConfirmSettlement)
	auth.POST("/envelopes/submit", storage.SubmitSigned)
	auth.GET("/purchases", purchases.GetPurchaseHistory)

	adminGroup := auth.Group("/admin", middleware.AdminRequired())
	adminGroup.GET("/dashboard/stats", admin.GetDashboardStats)
	adminGroup.PUT("/users/:id/status", admin.UpdateUserStatus)
	return r
}

func (e *handlerEnv) newUser(userType models.UserType) *models.User {
	e.t.Helper()
	user := &models.User{
		Username:  "user_" + uuid.NewString()[:8],
		PublicKey: keypair.MustRandom().Address(),
		UserType:  userType,
		Status:    models.UserStatusActive,
	}
	require.NoError(e.t, e.db.Create(user).Error)
	return user
}

func (e *handlerEnv) token(user *models.User) string {
	e.t.Helper()
	token, err := utils.GenerateJWT(user.ID, string(user.UserType), time.Hour)
	require.NoError(e.t, err)
	return token
}

// do sends body as JSON and decodes the response envelope.
func (e *handlerEnv) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, utils.APIResponse) {
	e.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var resp utils.APIResponse
	if w.Body.Len() > 0 {
		require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

// dataMap re-decodes the Data field of a response.
func dataMap(t *testing.T, resp utils.APIResponse) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
