package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/settlement-backend/internal/models"
)

// custodiedPage creates a page asset whose issuer key the platform holds.
func custodiedPage(t *testing.T, env *testEnv, creator *models.User) *models.Asset {
	t.Helper()
	issuer := keypair.MustRandom()
	env.ledger.fund(issuer.Address(), "10")
	sealed, err := env.Custody.SealSeed(context.Background(), issuer)
	require.NoError(t, err)
	require.NoError(t, env.db.Create(&models.PageAsset{
		CreatorID:    creator.ID,
		Code:         "PAGE",
		Issuer:       issuer.Address(),
		SealedSecret: sealed,
	}).Error)

	asset := &models.Asset{
		Code:      "PAGE",
		Issuer:    issuer.Address(),
		CreatorID: creator.ID,
		Name:      "page",
		Privacy:   models.PrivacyPublic,
		Limit:     decimal.NewFromInt(1000),
	}
	require.NoError(t, env.db.Create(asset).Error)
	return asset
}

func TestClawback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator, _ := env.newUser(models.UserTypeCreator, "10")
	page := custodiedPage(t, env, creator)
	holder, _ := env.newUser(models.UserTypeBuyer, "10")
	env.ledger.trust(holder.PublicKey, ledgerAssetOf(page), "6")

	resp, err := env.Assets.Clawback(ctx, creator.ID, page.ID, &ClawbackRequest{
		FromUserID: &holder.ID,
		Amount:     decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	assert.Equal(t, holder.PublicKey, resp.From)
	assert.True(t, env.ledger.balance(holder.PublicKey, ledgerAssetOf(page)).Equal(decimal.NewFromInt(4)))

	// Zero reclaims the rest.
	resp, err = env.Assets.Clawback(ctx, creator.ID, page.ID, &ClawbackRequest{From: holder.PublicKey})
	require.NoError(t, err)
	assert.True(t, resp.Amount.Equal(decimal.NewFromInt(4)))
	assert.True(t, env.ledger.balance(holder.PublicKey, ledgerAssetOf(page)).IsZero())
}

func TestClawbackForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator, _ := env.newUser(models.UserTypeCreator, "10")
	page := custodiedPage(t, env, creator)
	holder, _ := env.newUser(models.UserTypeBuyer, "10")
	env.ledger.trust(holder.PublicKey, ledgerAssetOf(page), "6")

	_, err := env.Assets.Clawback(ctx, holder.ID, page.ID, &ClawbackRequest{From: holder.PublicKey})
	assert.ErrorIs(t, err, ErrForbidden)

	// Issuer key not custodied.
	song := env.newAsset(creator, "SONG", models.PrivacyPublic)
	_, err = env.Assets.Clawback(ctx, creator.ID, song.ID, &ClawbackRequest{From: holder.PublicKey})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.Assets.Clawback(ctx, creator.ID, page.ID, &ClawbackRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRequestTrustline(t *testing.T) {
	env := newTestEnv(t)
	creator, _ := env.newUser(models.UserTypeCreator, "10")
	song := env.newAsset(creator, "FREE", models.PrivacyPublic)
	user, key := env.newUser(models.UserTypeBuyer, "10")

	envelope, err := env.Assets.RequestTrustline(context.Background(), user.ID, song.ID)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeTrustlineOnly, envelope.Kind)

	_, err = env.Ledger.Submit(context.Background(), env.sign(envelope.XDR, key))
	require.NoError(t, err)
	ok, err := env.Ledger.HasTrustline(context.Background(), user.PublicKey, song.Code, song.Issuer)
	require.NoError(t, err)
	assert.True(t, ok)
}
