package ledger

import (
	"context"
	"fmt"

	"evrmarket/apperr"
	"evrmarket/internal/database"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db.Pool()}
}

// UpsertBlock records a block header. Re-seeing a hash (reorg rescans,
// ZMQ duplicate delivery) is a no-op on the fields that matter.
func (r *Repository) UpsertBlock(ctx context.Context, b Block) error {
	const query = `
		INSERT INTO blocks (hash, height, timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO NOTHING`
	_, err := r.db.Exec(ctx, query, b.Hash, b.Height, b.Timestamp)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "upsert block", err)
	}
	return nil
}

func (r *Repository) GetBlockByHeight(ctx context.Context, height int64) (*Block, error) {
	const query = `SELECT hash, height, timestamp, created_at FROM blocks WHERE height = $1`
	var b Block
	err := r.db.QueryRow(ctx, query, height).Scan(&b.Hash, &b.Height, &b.Timestamp, &b.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound(fmt.Sprintf("block at height %d not found", height))
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get block by height", err)
	}
	return &b, nil
}

func (r *Repository) LatestBlockHeight(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(height), 0) FROM blocks`
	var height int64
	if err := r.db.QueryRow(ctx, query).Scan(&height); err != nil {
		return 0, apperr.Wrap(apperr.KindDatabaseQuery, "latest block height", err)
	}
	return height, nil
}

// UpsertEntry writes or refreshes one transaction entry. Confirmations,
// amount and fee are re-applied on every sighting (a transaction's
// confirmation count only grows, but a reorg can still change it);
// confirmed_applied and abandoned are left to the balance trigger and to
// MarkAbandoned respectively, never touched here.
func (r *Repository) UpsertEntry(ctx context.Context, e TransactionEntry) error {
	const query = `
		INSERT INTO transaction_entries (
			tx_hash, address, entry_type, asset_name, amount, fee,
			confirmations, time, asset_type, asset_message, vout,
			trusted, bip125_replaceable, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (tx_hash, address, entry_type, asset_name) DO UPDATE SET
			amount = EXCLUDED.amount,
			fee = EXCLUDED.fee,
			confirmations = EXCLUDED.confirmations,
			time = EXCLUDED.time,
			trusted = EXCLUDED.trusted,
			bip125_replaceable = EXCLUDED.bip125_replaceable,
			updated_at = now()`
	_, err := r.db.Exec(ctx, query,
		e.TxHash, e.Address, string(e.EntryType), e.AssetName, e.Amount, e.Fee,
		e.Confirmations, e.Time, e.AssetType, e.AssetMessage, e.Vout,
		e.Trusted, e.BIP125Replaceable,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "upsert transaction entry", err)
	}
	return nil
}

// IncrementConfirmations bumps the confirmation count of every entry
// that already has at least one confirmation by one, the per-block step spec §4.4b requires so a tracked
// entry ages toward min_confirmations even if it falls out of the
// reconciliation sweep's recent-transactions window. The UPDATE fires
// the balance trigger FOR EACH ROW, so any entry that just crossed the
// threshold moves from pending to confirmed as a side effect here.
func (r *Repository) IncrementConfirmations(ctx context.Context) error {
	const query = `UPDATE transaction_entries SET confirmations = confirmations + 1, updated_at = now() WHERE confirmations > 0`
	_, err := r.db.Exec(ctx, query)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "increment confirmations", err)
	}
	return nil
}

// MarkAbandoned flags every entry for a tx_hash as abandoned (e.g. the
// node reports it was replaced by a conflicting transaction via RBF).
// From then on the balance trigger ignores these entries and leaves them
// out of its self-send sum; it does not reverse the pending or confirmed
// amounts they already moved. The operator rescan, which skips abandoned
// entries, recomputes a listing's balances from scratch.
func (r *Repository) MarkAbandoned(ctx context.Context, txHash string) error {
	const query = `UPDATE transaction_entries SET abandoned = true, updated_at = now() WHERE tx_hash = $1`
	_, err := r.db.Exec(ctx, query, txHash)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "mark transaction abandoned", err)
	}
	return nil
}

func (r *Repository) EntriesForTx(ctx context.Context, txHash string) ([]TransactionEntry, error) {
	const query = `
		SELECT tx_hash, address, entry_type, asset_name, amount, fee, confirmations,
		       time, asset_type, asset_message, vout, trusted, bip125_replaceable,
		       abandoned, confirmed_applied, created_at, updated_at
		FROM transaction_entries WHERE tx_hash = $1`
	rows, err := r.db.Query(ctx, query, txHash)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "entries for tx", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *Repository) EntriesForAddress(ctx context.Context, address string, limit int) ([]TransactionEntry, error) {
	const query = `
		SELECT tx_hash, address, entry_type, asset_name, amount, fee, confirmations,
		       time, asset_type, asset_message, vout, trusted, bip125_replaceable,
		       abandoned, confirmed_applied, created_at, updated_at
		FROM transaction_entries WHERE address = $1 ORDER BY updated_at DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, address, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "entries for address", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]TransactionEntry, error) {
	var out []TransactionEntry
	for rows.Next() {
		var e TransactionEntry
		var entryType string
		var amount, fee decimal.Decimal
		if err := rows.Scan(
			&e.TxHash, &e.Address, &entryType, &e.AssetName, &amount, &fee, &e.Confirmations,
			&e.Time, &e.AssetType, &e.AssetMessage, &e.Vout, &e.Trusted, &e.BIP125Replaceable,
			&e.Abandoned, &e.ConfirmedApplied, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan transaction entry", err)
		}
		e.EntryType = EntryType(entryType)
		e.Amount = amount
		e.Fee = fee
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "iterate transaction entries", err)
	}
	return out, nil
}

// TrackedAddresses returns every address the Monitor must watch for
// incoming activity: every listing's deposit address and every open
// order's or cart order's payment address. The set is queried fresh on
// every call (nothing caches it), so a brand new listing or order is
// tracked from the next ingested transaction on.
func (r *Repository) TrackedAddresses(ctx context.Context) ([]string, error) {
	const query = `
		SELECT deposit_address FROM listings
		UNION
		SELECT payment_address FROM orders WHERE status IN ('pending', 'confirming')
		UNION
		SELECT payment_address FROM cart_orders WHERE status IN ('pending', 'confirming')`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "tracked addresses", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan tracked address", err)
		}
		addrs = append(addrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "iterate tracked addresses", err)
	}
	return addrs, nil
}
