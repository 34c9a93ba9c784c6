package payout

import (
	"context"
	"time"

	"evrmarket/apperr"
	"evrmarket/internal/rpc"
	"evrmarket/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// minFeeRatePerKB is the floor network-fee rate (EVR per 1000 bytes)
// the coin leg's byte-size estimate is never allowed to undercut
// (spec §4.7: "a minimum fee rate (>= 0.0101 EVR/kB)").
const minFeeRatePerKB = 0.0101

// txInputBytes/txOutputBytes/txBaseBytes are the standard P2PKH
// per-input/per-output/fixed-overhead size estimates used to size the
// coin leg before signing — the same rough formula wallets use to
// estimate a fee before the node can report a real one.
const (
	txBaseBytes   = 10
	txInputBytes  = 148
	txOutputBytes = 34
)

// Engine drives fulfillment of paid orders: asset leg to the buyer for
// each item, then a single coin-leg raw transaction carrying every
// seller's share, the marketplace fee, and any buyer overpayment
// refund — in that order, since a buyer who never receives the asset
// is a worse failure than a seller who's paid a moment late (spec §9
// payout ordering).
type Engine struct {
	repo *Repository
	rpc  *rpc.Client

	feeAddress  string
	feeRatePerKB float64
	maxAttempts int
	batchSize   int
	retryDelay  time.Duration
}

func NewEngine(repo *Repository, client *rpc.Client, feeAddress string, feeRatePerKB float64, maxAttempts, batchSize int, retryDelay time.Duration) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if feeRatePerKB < minFeeRatePerKB {
		feeRatePerKB = minFeeRatePerKB
	}
	return &Engine{repo: repo, rpc: client, feeAddress: feeAddress, feeRatePerKB: feeRatePerKB, maxAttempts: maxAttempts, batchSize: batchSize, retryDelay: retryDelay}
}

// RunOnce processes one batch of paid orders and cart orders. Callers
// loop this on a ticker; each call is self-contained and safe to run
// from more than one process since BeginPayout's insert is the only
// thing that actually claims an order.
func (e *Engine) RunOnce(ctx context.Context) {
	orders, err := e.repo.ListPaidOrders(ctx, e.batchSize)
	if err != nil {
		logger.Error("failed to list paid orders", zap.Error(err))
	}
	for _, o := range orders {
		e.fulfill(ctx, o)
	}

	cartOrders, err := e.repo.ListPaidCartOrders(ctx, e.batchSize)
	if err != nil {
		logger.Error("failed to list paid cart orders", zap.Error(err))
	}
	for _, co := range cartOrders {
		e.fulfill(ctx, co)
	}
}

func (e *Engine) fulfill(ctx context.Context, o PaidOrder) {
	claimed, err := e.repo.BeginPayout(ctx, o.ID, o.IsCart)
	if err != nil {
		logger.Error("failed to begin payout", zap.String("order_id", o.ID), zap.Error(err))
		return
	}

	existing, err := e.repo.GetPayout(ctx, o.ID, o.IsCart)
	if err != nil {
		logger.Error("failed to load payout record", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	if !claimed {
		if existing.Status == StatusSent {
			return
		}
		if existing.Attempts >= e.maxAttempts {
			logger.Warn("payout exceeded max attempts, marking failed for manual review",
				zap.String("order_id", o.ID), zap.Int("attempts", existing.Attempts))
			if err := e.repo.SetOrderStatus(ctx, o.ID, o.IsCart, "failed"); err != nil {
				logger.Error("failed to mark order failed", zap.String("order_id", o.ID), zap.Error(err))
			}
			return
		}
		if time.Since(existing.UpdatedAt) < e.retryDelay {
			return
		}
	}

	if err := e.repo.SetOrderStatus(ctx, o.ID, o.IsCart, "fulfilling"); err != nil {
		logger.Error("failed to mark order fulfilling", zap.String("order_id", o.ID), zap.Error(err))
	}

	rec := Record{Status: StatusFailed, AssetTxHash: existing.AssetTxHash, SellerTxHash: existing.SellerTxHash, FeeTxHash: existing.FeeTxHash}

	var items []OrderItemWithSeller
	if o.IsCart {
		items, err = e.repo.CartOrderItemsWithSeller(ctx, o.ID)
	} else {
		items, err = e.repo.OrderItemsWithSeller(ctx, o.ID)
	}
	if err != nil {
		msg := err.Error()
		rec.LastError = &msg
		e.repo.UpdatePayout(ctx, o.ID, o.IsCart, rec)
		e.repo.SetOrderStatus(ctx, o.ID, o.IsCart, "paid")
		return
	}

	for _, it := range items {
		if it.FulfillmentTxHash != nil {
			continue
		}
		txid, sendErr := e.rpc.TransferFromAddress(ctx, it.AssetName, it.DepositAddress, mustFloat(it.Amount), o.BuyerAddress, "", 0, it.DepositAddress, it.DepositAddress)
		if sendErr != nil {
			msg := sendErr.Error()
			rec.LastError = &msg
			e.repo.UpdatePayout(ctx, o.ID, o.IsCart, rec)
			e.repo.SetOrderStatus(ctx, o.ID, o.IsCart, "paid")
			return
		}
		rec.AssetTxHash = &txid
		if err := e.repo.MarkItemFulfilled(ctx, o.ID, it.ListingID, it.AssetName, o.IsCart, txid); err != nil {
			logger.Error("failed to mark item fulfilled", zap.String("order_id", o.ID), zap.Error(err))
		}
		if err := e.repo.RecordSale(ctx, o.ID, o.IsCart, it.ListingID, it.SellerAddress, it.AssetName, it.Amount, it.PriceEVR); err != nil {
			logger.Error("failed to record sale history", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	if rec.SellerTxHash == nil {
		txid, sendErr := e.sendCoinLeg(ctx, o, items)
		if sendErr != nil {
			msg := sendErr.Error()
			rec.LastError = &msg
			e.repo.UpdatePayout(ctx, o.ID, o.IsCart, rec)
			e.repo.SetOrderStatus(ctx, o.ID, o.IsCart, "paid")
			return
		}
		rec.SellerTxHash = &txid
		rec.FeeTxHash = &txid
	}

	rec.Status = StatusSent
	rec.LastError = nil
	if err := e.repo.UpdatePayout(ctx, o.ID, o.IsCart, rec); err != nil {
		logger.Error("failed to finalize payout record", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	if err := e.repo.SetOrderStatus(ctx, o.ID, o.IsCart, "completed"); err != nil {
		logger.Error("failed to mark order completed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// sendCoinLeg builds, signs and broadcasts the single raw transaction
// that carries every seller's proceeds, the buyer's overpayment refund
// (if any), and the marketplace fee, spending the order's
// payment_address UTXOs (spec §4.7 step 2-3). The fee-address output
// is computed last, as whatever is left over after sellers and the
// refund, minus the estimated network fee — never the other way
// around, so a byte-size miscalculation can only ever cost the
// marketplace, never a seller or the buyer's refund.
func (e *Engine) sendCoinLeg(ctx context.Context, o PaidOrder, items []OrderItemWithSeller) (string, error) {
	sellerTotals := map[string]decimal.Decimal{}
	var sellerOrder []string
	for _, it := range items {
		dest := it.PayoutDestination()
		if _, ok := sellerTotals[dest]; !ok {
			sellerOrder = append(sellerOrder, dest)
		}
		sellerTotals[dest] = sellerTotals[dest].Add(it.SellerShare())
	}

	refund := mustDecimal(o.ConfirmedPaidEVR).Sub(mustDecimal(o.TotalPaymentEVR))
	hasRefund := refund.IsPositive()

	sellerAndRefund := decimal.Zero
	for _, amt := range sellerTotals {
		sellerAndRefund = sellerAndRefund.Add(amt)
	}
	if hasRefund {
		sellerAndRefund = sellerAndRefund.Add(refund)
	}
	// fee_evr is what the fee address needs at minimum; the UTXO
	// selection target includes it so selectUnspent doesn't stop short
	// of covering the whole transaction.
	needed := sellerAndRefund.Add(mustDecimal(o.FeeEVR))

	utxos, err := e.rpc.ListUnspent(ctx, 1, []string{o.PaymentAddress})
	if err != nil {
		return "", err
	}
	inputs, total, err := selectUnspent(utxos, needed)
	if err != nil {
		return "", err
	}

	numOutputs := len(sellerOrder) + 1
	if hasRefund {
		numOutputs++
	}
	estimatedBytes := txBaseBytes + txInputBytes*len(inputs) + txOutputBytes*numOutputs
	networkFee := decimal.NewFromFloat(e.feeRatePerKB).Mul(decimal.NewFromInt(int64(estimatedBytes))).Div(decimal.NewFromInt(1000))

	// The fee address gets whatever the selected inputs leave over once
	// sellers and the refund are paid, less the estimated network fee —
	// the algebraic remainder, not a second independently computed share.
	feeAddressAmount := total.Sub(sellerAndRefund).Sub(networkFee)
	if feeAddressAmount.IsNegative() {
		feeAddressAmount = decimal.Zero
	}

	outputs := make(map[string]float64, numOutputs)
	for _, dest := range sellerOrder {
		amt, _ := sellerTotals[dest].Float64()
		outputs[dest] += amt
	}
	if hasRefund {
		amt, _ := refund.Float64()
		outputs[o.BuyerAddress] += amt
	}
	if e.feeAddress != "" {
		amt, _ := feeAddressAmount.Float64()
		outputs[e.feeAddress] += amt
	}

	hex, err := e.rpc.CreateRawTransaction(ctx, inputs, outputs)
	if err != nil {
		return "", err
	}
	signed, err := e.rpc.SignRawTransaction(ctx, hex)
	if err != nil {
		return "", err
	}
	return e.rpc.SendRawTransaction(ctx, signed.Hex)
}

// selectUnspent greedily accumulates UTXOs until their total at least
// covers need, the simplest input-selection policy that still spends
// only the order's own payment_address outputs.
func selectUnspent(utxos []rpc.Unspent, need decimal.Decimal) ([]rpc.RawTxInput, decimal.Decimal, error) {
	total := decimal.Zero
	var inputs []rpc.RawTxInput
	for _, u := range utxos {
		if !u.Spendable {
			continue
		}
		inputs = append(inputs, rpc.RawTxInput{TxID: u.TxID, Vout: u.Vout})
		total = total.Add(decimal.NewFromFloat(u.Amount))
		if total.GreaterThanOrEqual(need) {
			break
		}
	}
	if total.LessThan(need) {
		return nil, decimal.Zero, apperr.New(apperr.KindInsufficientFunds, "payment_address does not hold enough confirmed EVR to cover the payout")
	}
	return inputs, total, nil
}

func mustFloat(s string) float64 {
	f, _ := mustDecimal(s).Float64()
	return f
}

// Run loops RunOnce on interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}
