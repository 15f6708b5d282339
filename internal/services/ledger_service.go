// internal/services/ledger_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/xdr"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/metrics"
)

// HorizonClient is the part of the horizon API the service consumes.
// *horizonclient.Client and *horizonclient.MockClient both satisfy it.
type HorizonClient interface {
	AccountDetail(request horizonclient.AccountRequest) (horizon.Account, error)
	TransactionDetail(txHash string) (horizon.Transaction, error)
	SubmitTransactionXDR(transactionXdr string) (horizon.Transaction, error)
	Payments(request horizonclient.OperationRequest) (operations.OperationsPage, error)
}

// LedgerService reads account state straight from the ledger. Nothing is
// cached: every balance is fetched at decision time.
type LedgerService struct {
	client      HorizonClient
	timeout     time.Duration
	baseReserve decimal.Decimal
	passphrase  string
}

// copyUnit is the token amount that makes up one deliverable copy.
var copyUnit = decimal.NewFromInt(1)

// SubmissionRejection describes a transaction the ledger refused.
type SubmissionRejection struct {
	TransactionCode string
	OperationCodes  []string
}

func (r *SubmissionRejection) Error() string {
	return fmt.Sprintf("transaction rejected: %s %v", r.TransactionCode, r.OperationCodes)
}

// FailedOperation returns the index of the first failing operation, or -1.
func (r *SubmissionRejection) FailedOperation() (int, string) {
	for i, code := range r.OperationCodes {
		if code != "op_success" {
			return i, code
		}
	}
	return -1, ""
}

func NewHorizonClient(cfg config.LedgerConfig) *horizonclient.Client {
	return &horizonclient.Client{
		HorizonURL: cfg.HorizonURL,
		HTTP:       &http.Client{Timeout: cfg.Timeout},
	}
}

func NewLedgerService(client HorizonClient, cfg config.LedgerConfig) *LedgerService {
	reserve, err := decimal.NewFromString(cfg.BaseReserve)
	if err != nil {
		reserve = decimal.RequireFromString("0.5")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LedgerService{
		client:      client,
		timeout:     timeout,
		baseReserve: reserve,
		passphrase:  cfg.NetworkPassphrase,
	}
}

func (s *LedgerService) NetworkPassphrase() string {
	return s.passphrase
}

func (s *LedgerService) BaseReserve() decimal.Decimal {
	return s.baseReserve
}

// LoadAccount returns the account, or nil when it does not exist on the ledger.
func (s *LedgerService) LoadAccount(ctx context.Context, address string) (*horizon.Account, error) {
	account, err := callLedger(ctx, s.timeout, "account_detail", func() (horizon.Account, error) {
		return s.client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, ErrLedgerUnavailable.withCause("failed to load account "+address, err)
	}
	return &account, nil
}

// GetTokenBalance returns the account's balance of (code, issuer). A missing
// account or trustline reads as zero.
func (s *LedgerService) GetTokenBalance(ctx context.Context, address, code, issuer string) (decimal.Decimal, error) {
	account, err := s.LoadAccount(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	balance, _ := TokenBalance(account, LedgerAsset{Code: code, Issuer: issuer})
	return balance, nil
}

func (s *LedgerService) HasTrustline(ctx context.Context, address, code, issuer string) (bool, error) {
	account, err := s.LoadAccount(ctx, address)
	if err != nil {
		return false, err
	}
	_, ok := TokenBalance(account, LedgerAsset{Code: code, Issuer: issuer})
	return ok, nil
}

// AvailableCopies is the whole number of tokens the holder can still deliver.
func (s *LedgerService) AvailableCopies(ctx context.Context, holder string, asset LedgerAsset) (int64, error) {
	balance, err := s.GetTokenBalance(ctx, holder, asset.Code, asset.Issuer)
	if err != nil {
		return 0, err
	}
	return balance.Div(copyUnit).Floor().IntPart(), nil
}

// MinimumBalance is the XLM the account must keep: (2 + subentries) base reserves.
func (s *LedgerService) MinimumBalance(account *horizon.Account) decimal.Decimal {
	entries := int64(2) + int64(account.SubentryCount) + int64(account.NumSponsoring) - int64(account.NumSponsored)
	return s.baseReserve.Mul(decimal.NewFromInt(entries))
}

// AvailableNative is the spendable XLM above the minimum balance.
func (s *LedgerService) AvailableNative(account *horizon.Account) decimal.Decimal {
	if account == nil {
		return decimal.Zero
	}
	native, _ := TokenBalance(account, LedgerAsset{})
	available := native.Sub(s.MinimumBalance(account))
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// Submit posts a signed envelope. A ledger refusal comes back as a
// *SubmissionRejection inside ErrSubmissionRejected; transport failures as
// ErrLedgerUnavailable.
func (s *LedgerService) Submit(ctx context.Context, envelopeXDR string) (*horizon.Transaction, error) {
	tx, err := callLedger(ctx, s.timeout, "submit", func() (horizon.Transaction, error) {
		return s.client.SubmitTransactionXDR(envelopeXDR)
	})
	if err != nil {
		if rejection := rejectionOf(err); rejection != nil {
			return nil, ErrSubmissionRejected.withCause("", rejection)
		}
		return nil, ErrLedgerUnavailable.withCause("failed to submit transaction", err)
	}
	return &tx, nil
}

// TransactionDetail returns nil when the ledger does not know the hash.
func (s *LedgerService) TransactionDetail(ctx context.Context, hash string) (*horizon.Transaction, error) {
	tx, err := callLedger(ctx, s.timeout, "transaction_detail", func() (horizon.Transaction, error) {
		return s.client.TransactionDetail(hash)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, ErrLedgerUnavailable.withCause("failed to load transaction "+hash, err)
	}
	return &tx, nil
}

// RecentPayments lists the newest payment operations touching the account.
func (s *LedgerService) RecentPayments(ctx context.Context, address string, limit uint) ([]operations.Payment, error) {
	page, err := callLedger(ctx, s.timeout, "payments", func() (operations.OperationsPage, error) {
		return s.client.Payments(horizonclient.OperationRequest{
			ForAccount: address,
			Order:      horizonclient.OrderDesc,
			Limit:      limit,
		})
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, ErrLedgerUnavailable.withCause("failed to list payments for "+address, err)
	}

	var payments []operations.Payment
	for _, record := range page.Embedded.Records {
		switch op := record.(type) {
		case operations.Payment:
			payments = append(payments, op)
		case *operations.Payment:
			payments = append(payments, *op)
		}
	}
	return payments, nil
}

// TokenBalance finds the balance line for asset. ok is false when the account
// is nil or has no trustline (for credit assets).
func TokenBalance(account *horizon.Account, asset LedgerAsset) (decimal.Decimal, bool) {
	if account == nil {
		return decimal.Zero, false
	}
	for _, b := range account.Balances {
		if asset.IsNative() {
			if b.Asset.Type != "native" {
				continue
			}
		} else if b.Asset.Code != asset.Code || b.Asset.Issuer != asset.Issuer {
			continue
		}
		amount, err := decimal.NewFromString(b.Balance)
		if err != nil {
			return decimal.Zero, true
		}
		return amount, true
	}
	return decimal.Zero, false
}

// callLedger runs fn with a bounded timeout so a hung horizon call fails
// closed instead of blocking the request.
func callLedger[T any](ctx context.Context, timeout time.Duration, call string, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		outcome := "ok"
		if r.err != nil && !isNotFound(r.err) {
			outcome = "error"
		}
		metrics.RecordLedgerCall(call, outcome, time.Since(start))
		return r.value, r.err
	case <-ctx.Done():
		metrics.RecordLedgerCall(call, "timeout", time.Since(start))
		var zero T
		return zero, ctx.Err()
	}
}

func isNotFound(err error) bool {
	var herr *horizonclient.Error
	if errors.As(err, &herr) {
		return herr.Problem.Status == http.StatusNotFound
	}
	return false
}

func rejectionOf(err error) *SubmissionRejection {
	var herr *horizonclient.Error
	if !errors.As(err, &herr) || herr.Problem.Status != http.StatusBadRequest {
		return nil
	}
	codes, cerr := herr.ResultCodes()
	if cerr != nil || codes == nil {
		return &SubmissionRejection{TransactionCode: herr.Problem.Title}
	}
	return &SubmissionRejection{
		TransactionCode: codes.TransactionCode,
		OperationCodes:  codes.OperationCodes,
	}
}

// rejectionOfResult reads the result codes of a transaction that made it into
// a ledger but failed. It returns nil when the result cannot be decoded.
func rejectionOfResult(resultXDR string) *SubmissionRejection {
	var result xdr.TransactionResult
	if resultXDR == "" || xdr.SafeUnmarshalBase64(resultXDR, &result) != nil {
		return nil
	}

	rejection := &SubmissionRejection{TransactionCode: transactionCode(result.Result.Code)}
	ops, ok := result.Result.GetResults()
	if !ok {
		return rejection
	}
	for _, op := range ops {
		rejection.OperationCodes = append(rejection.OperationCodes, operationCode(op))
	}
	return rejection
}

func transactionCode(code xdr.TransactionResultCode) string {
	switch code {
	case xdr.TransactionResultCodeTxSuccess:
		return "tx_success"
	case xdr.TransactionResultCodeTxFailed:
		return "tx_failed"
	case xdr.TransactionResultCodeTxTooLate:
		return "tx_too_late"
	case xdr.TransactionResultCodeTxBadSeq:
		return "tx_bad_seq"
	case xdr.TransactionResultCodeTxBadAuth:
		return "tx_bad_auth"
	case xdr.TransactionResultCodeTxInsufficientBalance:
		return "tx_insufficient_balance"
	}
	return "tx_failed"
}

// operationCode names an operation result the way horizon's result_codes do,
// for the operations the builder emits.
func operationCode(op xdr.OperationResult) string {
	switch op.Code {
	case xdr.OperationResultCodeOpInner:
	case xdr.OperationResultCodeOpBadAuth:
		return "op_bad_auth"
	case xdr.OperationResultCodeOpNoAccount:
		return "op_no_source_account"
	default:
		return "op_not_supported"
	}
	if op.Tr == nil {
		return "op_malformed"
	}

	switch op.Tr.Type {
	case xdr.OperationTypePayment:
		if r := op.Tr.PaymentResult; r != nil {
			switch r.Code {
			case xdr.PaymentResultCodePaymentSuccess:
				return "op_success"
			case xdr.PaymentResultCodePaymentUnderfunded:
				return "op_underfunded"
			case xdr.PaymentResultCodePaymentSrcNoTrust:
				return "op_src_no_trust"
			case xdr.PaymentResultCodePaymentNoTrust:
				return "op_no_trust"
			case xdr.PaymentResultCodePaymentNoDestination:
				return "op_no_destination"
			case xdr.PaymentResultCodePaymentLineFull:
				return "op_line_full"
			}
		}
	case xdr.OperationTypeChangeTrust:
		if r := op.Tr.ChangeTrustResult; r != nil {
			switch r.Code {
			case xdr.ChangeTrustResultCodeChangeTrustSuccess:
				return "op_success"
			case xdr.ChangeTrustResultCodeChangeTrustLowReserve:
				return "op_low_reserve"
			}
		}
	case xdr.OperationTypeCreateAccount:
		if r := op.Tr.CreateAccountResult; r != nil {
			switch r.Code {
			case xdr.CreateAccountResultCodeCreateAccountSuccess:
				return "op_success"
			case xdr.CreateAccountResultCodeCreateAccountUnderfunded:
				return "op_underfunded"
			case xdr.CreateAccountResultCodeCreateAccountAlreadyExist:
				return "op_already_exists"
			}
		}
	case xdr.OperationTypeClawback:
		if r := op.Tr.ClawbackResult; r != nil {
			switch r.Code {
			case xdr.ClawbackResultCodeClawbackSuccess:
				return "op_success"
			case xdr.ClawbackResultCodeClawbackUnderfunded:
				return "op_underfunded"
			case xdr.ClawbackResultCodeClawbackNoTrust:
				return "op_no_trust"
			}
		}
	}
	return "op_failed"
}
