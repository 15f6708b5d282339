package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/settlement-backend/internal/models"
)

func TestCreateStorageAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator, _ := env.newUser(models.UserTypeCreator, "10")

	resp, err := env.Storage.CreateStorageAccount(ctx, creator.ID)
	require.NoError(t, err)
	assert.True(t, resp.Created)
	assert.NotEmpty(t, resp.TxHash)
	assert.True(t, env.ledger.balance(resp.PublicKey, LedgerAsset{}).Equal(decimal.NewFromInt(5)))

	var account models.StorageAccount
	require.NoError(t, env.db.Where("creator_id = ?", creator.ID).First(&account).Error)
	assert.Equal(t, resp.PublicKey, account.PublicKey)
	kp, err := env.Custody.OpenKeypair(ctx, account.SealedSecret)
	require.NoError(t, err)
	assert.Equal(t, resp.PublicKey, kp.Address())

	again, err := env.Storage.CreateStorageAccount(ctx, creator.ID)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, resp.PublicKey, again.PublicKey)
}

func TestCreateStorageAccountRollsBackOnLedgerFailure(t *testing.T) {
	env := newTestEnv(t)
	creator, _ := env.newUser(models.UserTypeCreator, "10")

	// No row may outlive a failed ledger call.
	env.ledger.setUnavailable(true)
	_, err := env.Storage.CreateStorageAccount(context.Background(), creator.ID)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)

	var count int64
	env.db.Model(&models.StorageAccount{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreateStorageAccountForbiddenForBuyers(t *testing.T) {
	env := newTestEnv(t)
	buyer, _ := env.newUser(models.UserTypeBuyer, "10")

	_, err := env.Storage.CreateStorageAccount(context.Background(), buyer.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStorageTransfers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator, creatorKey, storage := env.newCreator()
	asset := env.newAsset(creator, "SONG", models.PrivacyPublic)
	env.ledger.trust(creator.PublicKey, ledgerAssetOf(asset), "3")

	envelope, err := env.Storage.PlaceToStorage(ctx, creator.ID, &StorageTransferRequest{
		AssetID: asset.ID,
		Amount:  decimal.NewFromInt(3),
	})
	require.NoError(t, err)
	assert.Equal(t, EnvelopePlaceToStorage, envelope.Kind)
	_, err = env.Ledger.Submit(ctx, env.sign(envelope.XDR, creatorKey))
	require.NoError(t, err)
	assert.True(t, env.ledger.balance(storage.Address(), ledgerAssetOf(asset)).Equal(decimal.NewFromInt(3)))

	envelope, err = env.Storage.PlaceBack(ctx, creator.ID, &StorageTransferRequest{
		AssetID: asset.ID,
		Amount:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	_, err = env.Ledger.Submit(ctx, env.sign(envelope.XDR, creatorKey))
	require.NoError(t, err)
	assert.True(t, env.ledger.balance(creator.PublicKey, ledgerAssetOf(asset)).Equal(decimal.NewFromInt(1)))

	buyer, _ := env.newUser(models.UserTypeBuyer, "10")
	_, err = env.Storage.PlaceBack(ctx, buyer.ID, &StorageTransferRequest{AssetID: asset.ID, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmitSignedRelaysCallerEnvelopes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator, creatorKey, storage := env.newCreator()
	asset := env.newAsset(creator, "SONG", models.PrivacyPublic)
	env.ledger.trust(creator.PublicKey, ledgerAssetOf(asset), "2")

	envelope, err := env.Storage.PlaceToStorage(ctx, creator.ID, &StorageTransferRequest{
		AssetID: asset.ID,
		Amount:  decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	signed := env.sign(envelope.XDR, creatorKey)

	other, _ := env.newUser(models.UserTypeBuyer, "10")
	_, err = env.Storage.SubmitSigned(ctx, other.ID, &SignedEnvelopeRequest{SignedXDR: signed})
	assert.ErrorIs(t, err, ErrForbidden)

	resp, err := env.Storage.SubmitSigned(ctx, creator.ID, &SignedEnvelopeRequest{SignedXDR: signed})
	require.NoError(t, err)
	assert.Equal(t, envelope.Hash, resp.TxHash)
	assert.True(t, env.ledger.balance(storage.Address(), ledgerAssetOf(asset)).Equal(decimal.NewFromInt(2)))

	_, err = env.Storage.SubmitSigned(ctx, creator.ID, &SignedEnvelopeRequest{SignedXDR: "not-xdr"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
