package services

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/base"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/support/render/problem"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

// fakeLedger is an in-memory ledger. Envelopes are applied atomically under
// one lock, so it serializes concurrent buyers the way consensus does.
type fakeLedger struct {
	mu          sync.Mutex
	passphrase  string
	baseReserve decimal.Decimal
	accounts    map[string]*fakeAccount
	txs         map[string]horizon.Transaction
	payments    map[string][]operations.Payment
	ledger      int32
	unavailable bool
}

type fakeAccount struct {
	seq        int64
	native     decimal.Decimal
	lines      map[LedgerAsset]decimal.Decimal
	subentries int32
}

func (a *fakeAccount) clone() *fakeAccount {
	c := *a
	c.lines = make(map[LedgerAsset]decimal.Decimal, len(a.lines))
	for k, v := range a.lines {
		c.lines[k] = v
	}
	return &c
}

func newFakeLedger(passphrase string) *fakeLedger {
	return &fakeLedger{
		passphrase:  passphrase,
		baseReserve: decimal.RequireFromString("0.5"),
		accounts:    map[string]*fakeAccount{},
		txs:         map[string]horizon.Transaction{},
		payments:    map[string][]operations.Payment{},
		ledger:      100,
	}
}

// fund creates or tops up an account's native balance.
func (l *fakeLedger) fund(address string, xlm string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		acct = &fakeAccount{seq: int64(l.ledger) << 32, native: decimal.Zero, lines: map[LedgerAsset]decimal.Decimal{}}
		l.accounts[address] = acct
	}
	acct.native = acct.native.Add(decimal.RequireFromString(xlm))
}

// trust opens a trustline holding amount of asset.
func (l *fakeLedger) trust(address string, asset LedgerAsset, amount string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[address]
	if _, ok := acct.lines[asset]; !ok {
		acct.subentries++
	}
	acct.lines[asset] = decimal.RequireFromString(amount)
}

func (l *fakeLedger) balance(address string, asset LedgerAsset) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		return decimal.Zero
	}
	if asset.IsNative() {
		return acct.native
	}
	return acct.lines[asset]
}

func (l *fakeLedger) setUnavailable(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = v
}

func (l *fakeLedger) AccountDetail(request horizonclient.AccountRequest) (horizon.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable {
		return horizon.Account{}, fmt.Errorf("connection refused")
	}
	acct, ok := l.accounts[request.AccountID]
	if !ok {
		return horizon.Account{}, notFound()
	}

	balances := []horizon.Balance{{
		Balance: acct.native.StringFixed(7),
		Asset:   base.Asset{Type: "native"},
	}}
	for asset, amount := range acct.lines {
		balances = append(balances, horizon.Balance{
			Balance: amount.StringFixed(7),
			Asset:   base.Asset{Type: assetType(asset), Code: asset.Code, Issuer: asset.Issuer},
		})
	}

	return horizon.Account{
		ID:            request.AccountID,
		AccountID:     request.AccountID,
		Sequence:      acct.seq,
		SubentryCount: acct.subentries,
		Balances:      balances,
	}, nil
}

func (l *fakeLedger) TransactionDetail(txHash string) (horizon.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable {
		return horizon.Transaction{}, fmt.Errorf("connection refused")
	}
	tx, ok := l.txs[txHash]
	if !ok {
		return horizon.Transaction{}, notFound()
	}
	return tx, nil
}

func (l *fakeLedger) Payments(request horizonclient.OperationRequest) (operations.OperationsPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var page operations.OperationsPage
	if l.unavailable {
		return page, fmt.Errorf("connection refused")
	}
	for i, p := range l.payments[request.ForAccount] {
		if request.Limit > 0 && uint(i) >= request.Limit {
			break
		}
		page.Embedded.Records = append(page.Embedded.Records, p)
	}
	return page, nil
}

func (l *fakeLedger) SubmitTransactionXDR(envelope string) (horizon.Transaction, error) {
	generic, err := txnbuild.TransactionFromXDR(envelope)
	if err != nil {
		return horizon.Transaction{}, rejected("tx_malformed", nil)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return horizon.Transaction{}, rejected("tx_malformed", nil)
	}
	hash, err := tx.HashHex(l.passphrase)
	if err != nil {
		return horizon.Transaction{}, rejected("tx_malformed", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable {
		return horizon.Transaction{}, fmt.Errorf("connection refused")
	}
	if _, done := l.txs[hash]; done {
		return horizon.Transaction{}, rejected("tx_bad_seq", nil)
	}
	if !l.signedByAll(tx) {
		return horizon.Transaction{}, rejected("tx_bad_auth", nil)
	}

	state := make(map[string]*fakeAccount, len(l.accounts))
	for k, v := range l.accounts {
		state[k] = v.clone()
	}

	source := tx.SourceAccount()
	src, ok := state[source.AccountID]
	if !ok {
		return horizon.Transaction{}, rejected("tx_no_source_account", nil)
	}
	if source.Sequence != src.seq+1 {
		return horizon.Transaction{}, rejected("tx_bad_seq", nil)
	}
	src.seq = source.Sequence
	src.native = src.native.Sub(networkFee(len(tx.Operations())))

	codes := make([]string, len(tx.Operations()))
	failed := false
	var applied []operations.Payment
	for i, op := range tx.Operations() {
		opSource := op.GetSourceAccount()
		if opSource == "" {
			opSource = source.AccountID
		}
		code, payment := l.apply(state, opSource, op)
		codes[i] = code
		if code != "op_success" {
			failed = true
			continue
		}
		if payment != nil {
			payment.TransactionHash = hash
			payment.TransactionSuccessful = true
			applied = append(applied, *payment)
		}
	}
	if failed {
		// A failed transaction still lands: it consumes the sequence number
		// and the fee, and horizon serves it with its result codes.
		charged := l.accounts[source.AccountID].clone()
		charged.seq = source.Sequence
		charged.native = charged.native.Sub(networkFee(len(tx.Operations())))
		l.accounts[source.AccountID] = charged
		l.ledger++
		l.txs[hash] = horizon.Transaction{
			ID:              hash,
			Hash:            hash,
			Ledger:          l.ledger,
			LedgerCloseTime: time.Now().UTC(),
			Account:         source.AccountID,
			Successful:      false,
			EnvelopeXdr:     envelope,
			ResultXdr:       failedResultXDR(tx.Operations(), codes),
		}
		return horizon.Transaction{}, rejected("tx_failed", codes)
	}

	l.accounts = state
	l.ledger++
	for _, p := range applied {
		l.payments[p.From] = append([]operations.Payment{p}, l.payments[p.From]...)
		l.payments[p.To] = append([]operations.Payment{p}, l.payments[p.To]...)
	}
	record := horizon.Transaction{
		ID:              hash,
		Hash:            hash,
		Ledger:          l.ledger,
		LedgerCloseTime: time.Now().UTC(),
		Account:         source.AccountID,
		Successful:      true,
		EnvelopeXdr:     envelope,
	}
	l.txs[hash] = record
	return record, nil
}

func (l *fakeLedger) apply(state map[string]*fakeAccount, source string, op txnbuild.Operation) (string, *operations.Payment) {
	src, ok := state[source]
	if !ok {
		return "op_no_source_account", nil
	}

	switch op := op.(type) {
	case *txnbuild.Payment:
		amount := decimal.RequireFromString(op.Amount)
		dst, ok := state[op.Destination]
		if !ok {
			return "op_no_destination", nil
		}
		asset := LedgerAsset{}
		if !op.Asset.IsNative() {
			asset = LedgerAsset{Code: op.Asset.GetCode(), Issuer: op.Asset.GetIssuer()}
		}
		if asset.IsNative() {
			if src.native.Sub(amount).LessThan(l.minBalance(src)) {
				return "op_underfunded", nil
			}
			src.native = src.native.Sub(amount)
			dst.native = dst.native.Add(amount)
		} else {
			if source != asset.Issuer {
				have, ok := src.lines[asset]
				if !ok {
					return "op_src_no_trust", nil
				}
				if have.LessThan(amount) {
					return "op_underfunded", nil
				}
				src.lines[asset] = have.Sub(amount)
			}
			if op.Destination != asset.Issuer {
				have, ok := dst.lines[asset]
				if !ok {
					return "op_no_trust", nil
				}
				dst.lines[asset] = have.Add(amount)
			}
		}
		return "op_success", &operations.Payment{
			Base:   operations.Base{Type: "payment"},
			Asset:  base.Asset{Type: assetType(asset), Code: asset.Code, Issuer: asset.Issuer},
			From:   source,
			To:     op.Destination,
			Amount: amount.StringFixed(7),
		}

	case *txnbuild.ChangeTrust:
		asset := LedgerAsset{Code: op.Line.GetCode(), Issuer: op.Line.GetIssuer()}
		if _, ok := src.lines[asset]; ok {
			return "op_success", nil
		}
		src.subentries++
		if src.native.LessThan(l.minBalance(src)) {
			return "op_low_reserve", nil
		}
		src.lines[asset] = decimal.Zero
		return "op_success", nil

	case *txnbuild.CreateAccount:
		if _, ok := state[op.Destination]; ok {
			return "op_already_exists", nil
		}
		amount := decimal.RequireFromString(op.Amount)
		if src.native.Sub(amount).LessThan(l.minBalance(src)) {
			return "op_underfunded", nil
		}
		src.native = src.native.Sub(amount)
		state[op.Destination] = &fakeAccount{
			seq:    int64(l.ledger+1) << 32,
			native: amount,
			lines:  map[LedgerAsset]decimal.Decimal{},
		}
		return "op_success", nil

	case *txnbuild.Clawback:
		asset := LedgerAsset{Code: op.Asset.GetCode(), Issuer: op.Asset.GetIssuer()}
		if source != asset.Issuer {
			return "op_malformed", nil
		}
		from, ok := state[op.From]
		if !ok {
			return "op_no_trust", nil
		}
		amount := decimal.RequireFromString(op.Amount)
		have, ok := from.lines[asset]
		if !ok {
			return "op_no_trust", nil
		}
		if have.LessThan(amount) {
			return "op_underfunded", nil
		}
		from.lines[asset] = have.Sub(amount)
		return "op_success", nil
	}
	return "op_not_supported", nil
}

func (l *fakeLedger) minBalance(acct *fakeAccount) decimal.Decimal {
	return l.baseReserve.Mul(decimal.NewFromInt(2 + int64(acct.subentries)))
}

// signedByAll checks there is a valid signature for the transaction source
// and every operation source.
func (l *fakeLedger) signedByAll(tx *txnbuild.Transaction) bool {
	hash, err := tx.Hash(l.passphrase)
	if err != nil {
		return false
	}
	required := map[string]bool{tx.SourceAccount().AccountID: true}
	for _, op := range tx.Operations() {
		if s := op.GetSourceAccount(); s != "" {
			required[s] = true
		}
	}
	for address := range required {
		kp, err := keypair.ParseAddress(address)
		if err != nil {
			return false
		}
		signed := false
		for _, sig := range tx.Signatures() {
			if kp.Verify(hash[:], sig.Signature) == nil {
				signed = true
				break
			}
		}
		if !signed {
			return false
		}
	}
	return true
}

// failedResultXDR encodes a tx_failed result carrying one result per operation.
func failedResultXDR(ops []txnbuild.Operation, codes []string) string {
	results := make([]xdr.OperationResult, len(ops))
	for i, op := range ops {
		results[i] = operationResult(op, codes[i])
	}
	result := xdr.TransactionResult{
		FeeCharged: xdr.Int64(networkFee(len(ops)).Shift(7).IntPart()),
		Result: xdr.TransactionResultResult{
			Code:    xdr.TransactionResultCodeTxFailed,
			Results: &results,
		},
	}
	encoded, err := xdr.MarshalBase64(result)
	if err != nil {
		panic(err)
	}
	return encoded
}

func operationResult(op txnbuild.Operation, code string) xdr.OperationResult {
	if code == "op_no_source_account" {
		return xdr.OperationResult{Code: xdr.OperationResultCodeOpNoAccount}
	}

	tr := &xdr.OperationResultTr{}
	switch op.(type) {
	case *txnbuild.Payment:
		codes := map[string]xdr.PaymentResultCode{
			"op_success":        xdr.PaymentResultCodePaymentSuccess,
			"op_underfunded":    xdr.PaymentResultCodePaymentUnderfunded,
			"op_src_no_trust":   xdr.PaymentResultCodePaymentSrcNoTrust,
			"op_no_trust":       xdr.PaymentResultCodePaymentNoTrust,
			"op_no_destination": xdr.PaymentResultCodePaymentNoDestination,
			"op_line_full":      xdr.PaymentResultCodePaymentLineFull,
		}
		tr.Type = xdr.OperationTypePayment
		tr.PaymentResult = &xdr.PaymentResult{Code: codes[code]}
	case *txnbuild.ChangeTrust:
		c := xdr.ChangeTrustResultCodeChangeTrustSuccess
		if code != "op_success" {
			c = xdr.ChangeTrustResultCodeChangeTrustLowReserve
		}
		tr.Type = xdr.OperationTypeChangeTrust
		tr.ChangeTrustResult = &xdr.ChangeTrustResult{Code: c}
	case *txnbuild.CreateAccount:
		codes := map[string]xdr.CreateAccountResultCode{
			"op_success":        xdr.CreateAccountResultCodeCreateAccountSuccess,
			"op_underfunded":    xdr.CreateAccountResultCodeCreateAccountUnderfunded,
			"op_already_exists": xdr.CreateAccountResultCodeCreateAccountAlreadyExist,
		}
		tr.Type = xdr.OperationTypeCreateAccount
		tr.CreateAccountResult = &xdr.CreateAccountResult{Code: codes[code]}
	case *txnbuild.Clawback:
		codes := map[string]xdr.ClawbackResultCode{
			"op_success":     xdr.ClawbackResultCodeClawbackSuccess,
			"op_malformed":   xdr.ClawbackResultCodeClawbackMalformed,
			"op_no_trust":    xdr.ClawbackResultCodeClawbackNoTrust,
			"op_underfunded": xdr.ClawbackResultCodeClawbackUnderfunded,
		}
		tr.Type = xdr.OperationTypeClawback
		tr.ClawbackResult = &xdr.ClawbackResult{Code: codes[code]}
	default:
		return xdr.OperationResult{Code: xdr.OperationResultCodeOpNotSupported}
	}
	return xdr.OperationResult{Code: xdr.OperationResultCodeOpInner, Tr: tr}
}

func assetType(asset LedgerAsset) string {
	switch {
	case asset.IsNative():
		return "native"
	case len(asset.Code) <= 4:
		return "credit_alphanum4"
	}
	return "credit_alphanum12"
}

func notFound() error {
	return &horizonclient.Error{Problem: problem.P{
		Type:   "not_found",
		Title:  "Resource Missing",
		Status: http.StatusNotFound,
	}}
}

func rejected(txCode string, opCodes []string) error {
	codes := map[string]interface{}{"transaction": txCode}
	if opCodes != nil {
		codes["operations"] = opCodes
	}
	return &horizonclient.Error{Problem: problem.P{
		Type:   "transaction_failed",
		Title:  "Transaction Failed",
		Status: http.StatusBadRequest,
		Extras: map[string]interface{}{"result_codes": codes},
	}}
}
