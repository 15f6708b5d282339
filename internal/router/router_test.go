package router

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/services"
)

func newEngine(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db))

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	sealer, err := services.NewSecretboxSealer(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	cfg := &config.Config{
		JWT: config.JWTConfig{SecretKey: "router-test-secret"},
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
		Reconcile: config.ReconcileConfig{Schedule: "@every 5m", Lookback: 50},
		I18n:      config.I18nConfig{DefaultLocale: "en"},
		Frontend:  config.FrontendConfig{BaseURL: "http://localhost:3000"},
	}

	svc, err := services.NewServices(db, cfg, services.Dependencies{
		Horizon: &horizonclient.MockClient{},
		Sealer:  sealer,
	})
	require.NoError(t, err)
	return Initialize(db, cfg, svc), db
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	r, db := newEngine(t)

	w := get(r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w = get(r, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}

func TestMetricsExposeHTTPRequests(t *testing.T) {
	r, _ := newEngine(t)
	get(r, "/health")

	w := get(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "settlement_http_requests_total")
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	r, _ := newEngine(t)

	for _, path := range []string{"/v1/purchases", "/v1/admin/dashboard/stats", "/v1/admin/audit-logs"} {
		assert.Equal(t, http.StatusUnauthorized, get(r, path).Code, path)
	}
	assert.Equal(t, http.StatusNotFound, get(r, "/v1/nothing-here").Code)
}
