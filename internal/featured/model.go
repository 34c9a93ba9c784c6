// Package featured implements the supplemental featured-listings flow:
// a seller pays a flat EVR fee to a dedicated payment address to have
// their listing boosted for a fixed duration, ranked by priority.
// Confirmation is read from internal/ledger's transaction_entries
// rather than re-querying the node directly, since the Monitor already
// tracks every watched address and the ledger is the single source of
// truth for "has this address received enough EVR".
package featured

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentExpired   PaymentStatus = "expired"
)

// PaymentWindow is how long a pending payment stays eligible before the
// sweeper marks it expired.
const PaymentWindow = 24 * time.Hour

type Payment struct {
	ID             string
	ListingID      string
	PaymentAddress string
	AmountEVR      string
	DurationDays   int
	PriorityLevel  int
	Status         PaymentStatus
	TxHash         *string
	PaidAt         *time.Time
	CreatedAt      time.Time
}

type Listing struct {
	ListingID  string
	FeaturedAt time.Time
	FeaturedBy string
	Priority   int
	ExpiresAt  time.Time
}
