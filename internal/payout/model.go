// Package payout implements the Payout Engine (spec §4.7): once an
// order is fully paid, it sends the purchased asset to the buyer,
// recording each sale as its asset leg goes out, then the sale proceeds
// to the seller and the marketplace fee to the fee address. Every broadcast is idempotent: a
// payout row is inserted once via ON CONFLICT DO NOTHING, so a crash
// mid-fulfillment and a subsequent retry never double-send.
package payout

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Record is one payout attempt against a single order or cart order —
// the asset-leg and coin-leg hashes, attempt count, and terminal state.
type Record struct {
	OrderID        string
	AssetTxHash    *string
	SellerTxHash   *string
	FeeTxHash      *string
	Status         Status
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
