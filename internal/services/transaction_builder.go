// internal/services/transaction_builder.go
package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"

	"github.com/javajoker/settlement-backend/internal/config"
)

type EnvelopeKind string

const (
	EnvelopeBuy            EnvelopeKind = "buy"
	EnvelopePlaceToStorage EnvelopeKind = "place_to_storage"
	EnvelopePlaceBack      EnvelopeKind = "place_back"
	EnvelopeClawback       EnvelopeKind = "clawback"
	EnvelopeTrustlineOnly  EnvelopeKind = "trustline_only"
	EnvelopeCreateAccount  EnvelopeKind = "create_account"
)

// Envelope is a base64 transaction envelope plus the custodial signatures
// already on it. Anything still missing is signed by the caller's wallet.
type Envelope struct {
	Kind     EnvelopeKind `json:"kind"`
	XDR      string       `json:"xdr"`
	Hash     string       `json:"hash"`
	Source   string       `json:"source"`
	SignedBy []string     `json:"signed_by"`
}

// TransactionBuilder emits envelopes. It reads the ledger but never touches
// the database.
type TransactionBuilder struct {
	ledger          *LedgerService
	custody         *CustodyService
	timeout         int64
	startingBalance decimal.Decimal
}

func NewTransactionBuilder(ledger *LedgerService, custody *CustodyService, cfg config.LedgerConfig) *TransactionBuilder {
	starting, err := decimal.NewFromString(cfg.StartingBalance)
	if err != nil {
		starting = decimal.NewFromInt(5)
	}
	timeout := cfg.EnvelopeTimeout
	if timeout <= 0 {
		timeout = 300
	}
	return &TransactionBuilder{
		ledger:          ledger,
		custody:         custody,
		timeout:         timeout,
		startingBalance: starting,
	}
}

// BuildBuy delivers one copy from the holder's custodial account to the buyer
// and, for on-ledger methods, pays the seller and the platform from the buyer.
// The buyer is the transaction source and signs last.
func (b *TransactionBuilder) BuildBuy(ctx context.Context, intent *TransactionIntent, holder *keypair.Full) (*Envelope, error) {
	quote := intent.Quote
	platform := b.custody.Platform()

	buyer, err := b.ledger.LoadAccount(ctx, intent.Buyer)
	if err != nil {
		return nil, err
	}
	if buyer == nil {
		return nil, ErrInsufficientReserve.withCause("buyer account does not exist on the ledger", nil)
	}

	var ops []txnbuild.Operation
	signers := []*keypair.Full{holder}

	if quote.TrustlineRequired {
		if quote.ReserveTopUp.IsPositive() {
			if err := b.requireNative(ctx, platform.Address(), quote.ReserveTopUp); err != nil {
				return nil, err
			}
			ops = append(ops, &txnbuild.Payment{
				Destination:   intent.Buyer,
				Amount:        ledgerAmount(quote.ReserveTopUp),
				Asset:         txnbuild.NativeAsset{},
				SourceAccount: platform.Address(),
			})
			if platform.Address() != holder.Address() {
				signers = append(signers, platform)
			}
		}
		ops = append(ops, &txnbuild.ChangeTrust{
			Line: changeTrustLine(intent.Asset),
		})
	}

	ops = append(ops, &txnbuild.Payment{
		Destination:   intent.Buyer,
		Amount:        ledgerAmount(copyUnit),
		Asset:         intent.Asset.txnAsset(),
		SourceAccount: holder.Address(),
	})

	nativeOut := decimal.Zero
	if pay, ok := payAsset(intent.Method); ok {
		toPlatform := quote.PlatformFee.Add(quote.TrustlineSurcharge)
		if pay.IsNative() {
			nativeOut = quote.Total
		} else {
			balance, _ := TokenBalance(buyer, pay)
			if balance.LessThan(quote.Total) {
				return nil, ErrInsufficientBalance.withCause(
					fmt.Sprintf("buyer holds %s %s, needs %s", balance, pay.Code, quote.Total), nil)
			}
		}
		if quote.Price.IsPositive() {
			ops = append(ops, &txnbuild.Payment{
				Destination: intent.Seller,
				Amount:      ledgerAmount(quote.Price),
				Asset:       pay.txnAsset(),
			})
		}
		if toPlatform.IsPositive() {
			ops = append(ops, &txnbuild.Payment{
				Destination: platform.Address(),
				Amount:      ledgerAmount(toPlatform),
				Asset:       pay.txnAsset(),
			})
		}
	}

	// The top-up covers the new trustline's reserve, so only the outgoing
	// XLM and the network fee count against the buyer.
	if err := b.checkReserve(buyer, nativeOut.Add(networkFee(len(ops)))); err != nil {
		return nil, err
	}

	if _, onLedger := payAsset(intent.Method); !onLedger {
		// Card envelopes are co-signed after the card payment clears.
		signers = nil
	}

	return b.build(EnvelopeBuy, buyer, ops, signers...)
}

// BuildPlaceToStorage moves amount of asset from the holder's main account
// into their storage account, opening the storage trustline if needed.
func (b *TransactionBuilder) BuildPlaceToStorage(ctx context.Context, holderAddress string, storage *keypair.Full, asset LedgerAsset, amount decimal.Decimal) (*Envelope, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidRequest.withCause("amount must be positive", nil)
	}

	holder, err := b.ledger.LoadAccount(ctx, holderAddress)
	if err != nil {
		return nil, err
	}
	if holder == nil {
		return nil, ErrInsufficientReserve.withCause("holder account does not exist on the ledger", nil)
	}
	if holderAddress != asset.Issuer {
		balance, _ := TokenBalance(holder, asset)
		if balance.LessThan(amount) {
			return nil, ErrInsufficientBalance.withCause(
				fmt.Sprintf("holder has %s, placing %s", balance, amount), nil)
		}
	}

	storageAccount, err := b.ledger.LoadAccount(ctx, storage.Address())
	if err != nil {
		return nil, err
	}
	if storageAccount == nil {
		return nil, ErrInsufficientReserve.withCause("storage account is not funded", nil)
	}

	var ops []txnbuild.Operation
	var signers []*keypair.Full
	nativeOut := decimal.Zero

	if _, ok := TokenBalance(storageAccount, asset); !ok {
		nativeOut = b.ledger.BaseReserve()
		ops = append(ops,
			&txnbuild.Payment{
				Destination: storage.Address(),
				Amount:      ledgerAmount(nativeOut),
				Asset:       txnbuild.NativeAsset{},
			},
			&txnbuild.ChangeTrust{
				Line:          changeTrustLine(asset),
				SourceAccount: storage.Address(),
			},
		)
		signers = append(signers, storage)
	}

	ops = append(ops, &txnbuild.Payment{
		Destination: storage.Address(),
		Amount:      ledgerAmount(amount),
		Asset:       asset.txnAsset(),
	})

	if err := b.checkReserve(holder, nativeOut.Add(networkFee(len(ops)))); err != nil {
		return nil, err
	}

	return b.build(EnvelopePlaceToStorage, holder, ops, signers...)
}

// BuildPlaceBack returns amount of asset from the storage account to the
// holder's main account. The holder is the source and signs last.
func (b *TransactionBuilder) BuildPlaceBack(ctx context.Context, holderAddress string, storage *keypair.Full, asset LedgerAsset, amount decimal.Decimal) (*Envelope, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidRequest.withCause("amount must be positive", nil)
	}

	storageBalance, err := b.ledger.GetTokenBalance(ctx, storage.Address(), asset.Code, asset.Issuer)
	if err != nil {
		return nil, err
	}
	if storageBalance.LessThan(amount) {
		return nil, ErrInsufficientBalance.withCause(
			fmt.Sprintf("storage holds %s, returning %s", storageBalance, amount), nil)
	}

	holder, err := b.ledger.LoadAccount(ctx, holderAddress)
	if err != nil {
		return nil, err
	}
	if holder == nil {
		return nil, ErrInsufficientReserve.withCause("holder account does not exist on the ledger", nil)
	}

	var ops []txnbuild.Operation
	nativeOut := decimal.Zero
	if _, ok := TokenBalance(holder, asset); !ok && holderAddress != asset.Issuer {
		nativeOut = b.ledger.BaseReserve()
		ops = append(ops, &txnbuild.ChangeTrust{Line: changeTrustLine(asset)})
	}
	ops = append(ops, &txnbuild.Payment{
		Destination:   holderAddress,
		Amount:        ledgerAmount(amount),
		Asset:         asset.txnAsset(),
		SourceAccount: storage.Address(),
	})

	if err := b.checkReserve(holder, nativeOut.Add(networkFee(len(ops)))); err != nil {
		return nil, err
	}

	return b.build(EnvelopePlaceBack, holder, ops, storage)
}

// BuildClawback has the issuer reclaim tokens from an account. A zero amount
// reclaims the whole balance. The envelope is fully signed.
func (b *TransactionBuilder) BuildClawback(ctx context.Context, issuer *keypair.Full, from string, asset LedgerAsset, amount decimal.Decimal) (*Envelope, error) {
	if asset.Issuer != issuer.Address() {
		return nil, ErrForbidden.withCause("only the issuer can claw back "+asset.Code, nil)
	}

	balance, err := b.ledger.GetTokenBalance(ctx, from, asset.Code, asset.Issuer)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		amount = balance
	}
	if !amount.IsPositive() || balance.LessThan(amount) {
		return nil, ErrInsufficientBalance.withCause(
			fmt.Sprintf("account holds %s, clawing back %s", balance, amount), nil)
	}

	source, err := b.ledger.LoadAccount(ctx, issuer.Address())
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrInsufficientReserve.withCause("issuer account does not exist on the ledger", nil)
	}

	ops := []txnbuild.Operation{
		&txnbuild.Clawback{
			From:   from,
			Amount: ledgerAmount(amount),
			Asset:  asset.txnAsset(),
		},
	}
	if err := b.checkReserve(source, networkFee(len(ops))); err != nil {
		return nil, err
	}

	return b.build(EnvelopeClawback, source, ops, issuer)
}

// BuildTrustlineOnly opens a trustline with no payment attached, for
// zero-price claims. Nothing is signed server side.
func (b *TransactionBuilder) BuildTrustlineOnly(ctx context.Context, address string, asset LedgerAsset) (*Envelope, error) {
	account, err := b.ledger.LoadAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrInsufficientReserve.withCause("account does not exist on the ledger", nil)
	}
	if _, ok := TokenBalance(account, asset); ok {
		return nil, ErrInvalidRequest.withCause("trustline already exists", nil)
	}

	ops := []txnbuild.Operation{
		&txnbuild.ChangeTrust{Line: changeTrustLine(asset)},
	}
	if err := b.checkReserve(account, b.ledger.BaseReserve().Add(networkFee(len(ops)))); err != nil {
		return nil, err
	}

	return b.build(EnvelopeTrustlineOnly, account, ops)
}

// BuildCreateStorageAccount funds a new custodial account from the platform
// account. The envelope is fully signed.
func (b *TransactionBuilder) BuildCreateStorageAccount(ctx context.Context, destination string) (*Envelope, error) {
	platform := b.custody.Platform()
	source, err := b.ledger.LoadAccount(ctx, platform.Address())
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrInsufficientReserve.withCause("platform account does not exist on the ledger", nil)
	}

	ops := []txnbuild.Operation{
		&txnbuild.CreateAccount{
			Destination: destination,
			Amount:      ledgerAmount(b.startingBalance),
		},
	}
	if err := b.checkReserve(source, b.startingBalance.Add(networkFee(len(ops)))); err != nil {
		return nil, err
	}

	return b.build(EnvelopeCreateAccount, source, ops, platform)
}

func (b *TransactionBuilder) requireNative(ctx context.Context, address string, amount decimal.Decimal) error {
	account, err := b.ledger.LoadAccount(ctx, address)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrInsufficientReserve.withCause(address+" does not exist on the ledger", nil)
	}
	return b.checkReserve(account, amount)
}

func (b *TransactionBuilder) checkReserve(account *horizon.Account, needed decimal.Decimal) error {
	available := b.ledger.AvailableNative(account)
	if available.LessThan(needed) {
		return ErrInsufficientReserve.withCause(
			fmt.Sprintf("%s can spend %s XLM, needs %s", account.AccountID, available, needed), nil)
	}
	return nil
}

func (b *TransactionBuilder) build(kind EnvelopeKind, source *horizon.Account, ops []txnbuild.Operation, signers ...*keypair.Full) (*Envelope, error) {
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(b.timeout),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s transaction: %w", kind, err)
	}

	passphrase := b.ledger.NetworkPassphrase()
	signedBy := make([]string, 0, len(signers))
	if len(signers) > 0 {
		tx, err = tx.Sign(passphrase, signers...)
		if err != nil {
			return nil, fmt.Errorf("failed to sign %s transaction: %w", kind, err)
		}
		for _, kp := range signers {
			signedBy = append(signedBy, kp.Address())
		}
	}

	envelope, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s transaction: %w", kind, err)
	}
	hash, err := tx.HashHex(passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s transaction: %w", kind, err)
	}

	return &Envelope{
		Kind:     kind,
		XDR:      envelope,
		Hash:     hash,
		Source:   source.AccountID,
		SignedBy: signedBy,
	}, nil
}

func changeTrustLine(asset LedgerAsset) txnbuild.ChangeTrustAsset {
	return txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer}.MustToChangeTrustAsset()
}

func ledgerAmount(d decimal.Decimal) string {
	return d.StringFixed(ledgerPrecision)
}

// networkFee is the XLM a transaction with ops operations costs at the base fee.
func networkFee(ops int) decimal.Decimal {
	return decimal.New(int64(txnbuild.MinBaseFee)*int64(ops), -ledgerPrecision)
}
