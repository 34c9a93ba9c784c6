// Package order implements the Order Manager: reserving listing
// inventory against a buyer's payment, tracking payment against a
// dedicated address, and expiring unpaid reservations.
package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusPaid       Status = "paid"
	StatusFulfilling Status = "fulfilling"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

const (
	DefaultFeePercent        = "0.01"
	DefaultExpirationMinutes = 15
)

type Order struct {
	ID               string
	ListingID        string
	BuyerAddress     string
	PaymentAddress   string
	Status           Status
	TotalPriceEVR    decimal.Decimal
	FeeEVR           decimal.Decimal
	TotalPaymentEVR  decimal.Decimal
	PendingPaidEVR   decimal.Decimal
	ConfirmedPaidEVR decimal.Decimal
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []Item
}

type Item struct {
	OrderID            string
	AssetName          string
	Amount             decimal.Decimal
	PriceEVR           decimal.Decimal
	FeeEVR             decimal.Decimal
	FulfillmentTxHash  *string
	FulfillmentTime    *time.Time
}

// ItemRequest is what a caller asks for: an asset and amount from a
// single listing (Order) or any number of listings (CartOrder).
type ItemRequest struct {
	ListingID string
	AssetName string
	Amount    decimal.Decimal
}

type CartOrder struct {
	ID               string
	BuyerAddress     string
	PaymentAddress   string
	Status           Status
	TotalPriceEVR    decimal.Decimal
	FeeEVR           decimal.Decimal
	TotalPaymentEVR  decimal.Decimal
	PendingPaidEVR   decimal.Decimal
	ConfirmedPaidEVR decimal.Decimal
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []CartItem
}

type CartItem struct {
	CartOrderID        string
	ListingID          string
	AssetName          string
	Amount             decimal.Decimal
	PriceEVR           decimal.Decimal
	FeeEVR             decimal.Decimal
	FulfillmentTxHash  *string
	FulfillmentTime    *time.Time
}
