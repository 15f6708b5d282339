package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/settlement-backend/internal/models"
)

func TestSettlementRoutesRequireAuth(t *testing.T) {
	env := newHandlerEnv(t)

	w, resp := env.do(http.MethodPost, "/v1/settlements/quote", "", map[string]string{"method": "xlm"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)

	w, _ = env.do(http.MethodPost, "/v1/settlements/quote", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQuoteRequestValidation(t *testing.T) {
	env := newHandlerEnv(t)
	token := env.token(env.newUser(models.UserTypeBuyer))

	w, resp := env.do(http.MethodPost, "/v1/settlements/quote", token, `{"listing_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", resp.Error.Code)

	w, resp = env.do(http.MethodPost, "/v1/settlements/quote", token, map[string]string{
		"listing_id": uuid.NewString(),
		"method":     "bitcoin",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestQuoteUnknownListing(t *testing.T) {
	env := newHandlerEnv(t)
	token := env.token(env.newUser(models.UserTypeBuyer))

	w, resp := env.do(http.MethodPost, "/v1/settlements/quote", token, map[string]string{
		"listing_id": uuid.NewString(),
		"method":     "xlm",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "INVALID_LISTING", resp.Error.Code)
}

func TestConfirmRetryIsSuccess(t *testing.T) {
	env := newHandlerEnv(t)
	buyer := env.newUser(models.UserTypeBuyer)
	creator := env.newUser(models.UserTypeCreator)
	asset := &models.Asset{Code: "SONG", Issuer: creator.PublicKey, CreatorID: creator.ID, Privacy: models.PrivacyPublic, Limit: decimal.NewFromInt(10)}
	require.NoError(t, env.db.Create(asset).Error)

	hash := strings.Repeat("ab", 32)
	require.NoError(t, env.db.Create(&models.BuyerRecord{
		AssetID:     asset.ID,
		UserID:      buyer.ID,
		TxHash:      hash,
		Method:      models.PaymentMethodXLM,
		Amount:      decimal.NewFromInt(10),
		PlatformFee: decimal.NewFromInt(1),
		Source:      models.RecordSourceConfirm,
		BuyAt:       time.Now(),
	}).Error)

	w, resp := env.do(http.MethodPost, "/v1/settlements/confirm", env.token(buyer), map[string]string{"tx_hash": hash})
	assert.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, resp)
	assert.Equal(t, "CONFIRMED", data["state"])
	assert.Equal(t, hash, data["tx_hash"])

	w, resp = env.do(http.MethodPost, "/v1/settlements/confirm", env.token(buyer), map[string]string{"tx_hash": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	// Another buyer cannot claim the same settlement.
	w, resp = env.do(http.MethodPost, "/v1/settlements/confirm", env.token(env.newUser(models.UserTypeBuyer)), map[string]string{"tx_hash": hash})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
	assert.Equal(t, hash, resp.Error.Details.(map[string]interface{})["tx_hash"])
}

func TestEnvelopeSubmitRejectsGarbage(t *testing.T) {
	env := newHandlerEnv(t)
	token := env.token(env.newUser(models.UserTypeCreator))

	w, resp := env.do(http.MethodPost, "/v1/envelopes/submit", token, map[string]string{"signed_xdr": "AAAA"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
}
