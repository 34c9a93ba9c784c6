// Package listing implements the Listing Manager: seller-facing asset
// listings, their per-asset prices, and the confirmed/pending balances
// the ledger trigger maintains against their deposit address.
package listing

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

type Listing struct {
	ID              string
	SellerAddress   string
	ListingAddress  string
	DepositAddress  string
	Name            string
	Description     *string
	ImageIPFSHash   *string
	Tags            []string
	PayoutAddress   *string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Prices          []Price
	Balances        []Balance
}

type Price struct {
	ListingID        string
	AssetName        string
	PriceEVR         *decimal.Decimal
	PriceAssetName   *string
	PriceAssetAmount *decimal.Decimal
	Units            int
	IPFSHash         *string
}

type Balance struct {
	ListingID            string
	AssetName            string
	ConfirmedBalance     decimal.Decimal
	PendingBalance       decimal.Decimal
	LastConfirmedTxHash  *string
	LastConfirmedTxTime  *time.Time
}

// AssetGuardPrice is the sentinel price used to list an asset without
// advertising a real EVR price (e.g. while a seller stages a listing).
// Orders cannot be created against it.
var AssetGuardPrice = decimal.New(999999999999, 0)
