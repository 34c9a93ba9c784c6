// Package ledger holds the append-only record of everything the node
// has told us about addresses we watch: blocks seen and the per-address,
// per-asset transaction entries derived from them. Balance propagation
// from pending to confirmed happens in a database trigger
// (migrations/000007_balance_triggers.up.sql), not here.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryReceive  EntryType = "receive"
	EntrySend     EntryType = "send"
	EntryWithdraw EntryType = "withdraw"
)

type Block struct {
	Hash      string
	Height    int64
	Timestamp int64
	CreatedAt time.Time
}

// TransactionEntry mirrors one wallet-relevant output or input: a single
// (tx_hash, address, entry_type, asset_name) tuple. A transaction with
// several outputs to addresses we watch produces several entries.
type TransactionEntry struct {
	TxHash            string
	Address           string
	EntryType         EntryType
	AssetName         string
	Amount            decimal.Decimal
	Fee               decimal.Decimal
	Confirmations     int64
	Time              *int64
	AssetType         *string
	AssetMessage      *string
	Vout              *int
	Trusted           bool
	BIP125Replaceable bool
	Abandoned         bool
	ConfirmedApplied  bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (e TransactionEntry) IsConfirmed(minConfirmations int64) bool {
	return e.Confirmations >= minConfirmations
}
