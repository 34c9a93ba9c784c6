package listing

import (
	"context"
	"fmt"
	"strings"

	"evrmarket/apperr"
	"evrmarket/internal/database"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// MutableFields are the only listing columns a seller can change
// directly through UpdateFields; balances and addresses are
// system-managed.
var MutableFields = map[string]bool{
	"name":            true,
	"description":     true,
	"image_ipfs_hash": true,
	"tags":            true,
	"payout_address":  true,
	"status":          true,
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db.Pool()}
}

func (r *Repository) Create(ctx context.Context, l *Listing) error {
	const query = `
		INSERT INTO listings (seller_address, listing_address, deposit_address, name, description, image_ipfs_hash, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, status, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		l.SellerAddress, l.ListingAddress, l.DepositAddress, l.Name, l.Description, l.ImageIPFSHash, l.Tags,
	).Scan(&l.ID, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "create listing", err)
	}
	return nil
}

func (r *Repository) AddPrice(ctx context.Context, p Price) error {
	const query = `
		INSERT INTO listing_prices (listing_id, asset_name, price_evr, price_asset_name, price_asset_amount, units, ipfs_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (listing_id, asset_name) DO UPDATE SET
			price_evr = EXCLUDED.price_evr,
			price_asset_name = EXCLUDED.price_asset_name,
			price_asset_amount = EXCLUDED.price_asset_amount,
			units = EXCLUDED.units,
			ipfs_hash = EXCLUDED.ipfs_hash,
			updated_at = now()`
	_, err := r.db.Exec(ctx, query, p.ListingID, p.AssetName, p.PriceEVR, p.PriceAssetName, p.PriceAssetAmount, p.Units, p.IPFSHash)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "add listing price", err)
	}
	return nil
}

// UpdatePrices upserts each given price row against a listing, adding
// or replacing its per-asset price the way AddPrice already does, and
// ensures a balance row exists for every priced asset (spec §4.5
// update_prices).
func (r *Repository) UpdatePrices(ctx context.Context, listingID string, prices []Price) error {
	for _, p := range prices {
		p.ListingID = listingID
		if err := r.AddPrice(ctx, p); err != nil {
			return err
		}
		if err := r.EnsureBalanceRow(ctx, listingID, p.AssetName); err != nil {
			return err
		}
	}
	return nil
}

// HandleNewDeposit is the monitor's landing path for a deposit to a
// listing's deposit_address: if the asset has never been priced, it
// gets AssetGuardPrice so it can't be sold until the seller prices it;
// either way the pending balance is bumped (never below zero, so a
// stray abandoned-tx reversal can't push it negative).
func (r *Repository) HandleNewDeposit(ctx context.Context, listingID, assetName string, amount decimal.Decimal) error {
	var priceExists bool
	if err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM listing_prices WHERE listing_id = $1 AND asset_name = $2)`,
		listingID, assetName,
	).Scan(&priceExists); err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "check listing price exists", err)
	}
	if !priceExists {
		guard := AssetGuardPrice
		if err := r.AddPrice(ctx, Price{ListingID: listingID, AssetName: assetName, PriceEVR: &guard, Units: 8}); err != nil {
			return err
		}
	}

	const query = `
		INSERT INTO listing_balances (listing_id, asset_name, pending_balance, confirmed_balance)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (listing_id, asset_name) DO UPDATE SET
			pending_balance = GREATEST(0, listing_balances.pending_balance + $3),
			updated_at = now()`
	if _, err := r.db.Exec(ctx, query, listingID, assetName, amount); err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "handle new deposit", err)
	}
	return nil
}

// RescanBalances recomputes a listing's confirmed and pending balances
// from transaction_entries for its deposit_address, bypassing the
// balance trigger entirely — operator tooling for when a balance is
// suspected to have drifted (spec §4.5 rescan).
func (r *Repository) RescanBalances(ctx context.Context, listingID string, minConfirmations int64) error {
	const query = `
		WITH target AS (
			SELECT deposit_address FROM listings WHERE id = $1
		),
		agg AS (
			SELECT te.asset_name,
			       COALESCE(SUM(te.amount) FILTER (WHERE te.confirmations >= $2), 0) AS confirmed,
			       COALESCE(SUM(te.amount) FILTER (WHERE te.confirmations > 0 AND te.confirmations < $2), 0) AS pending
			FROM transaction_entries te, target
			WHERE te.address = target.deposit_address AND te.entry_type = 'receive' AND te.abandoned = false
			GROUP BY te.asset_name
		)
		INSERT INTO listing_balances (listing_id, asset_name, confirmed_balance, pending_balance)
		SELECT $1, agg.asset_name, agg.confirmed, agg.pending FROM agg
		ON CONFLICT (listing_id, asset_name) DO UPDATE SET
			confirmed_balance = EXCLUDED.confirmed_balance,
			pending_balance = EXCLUDED.pending_balance,
			updated_at = now()`
	if _, err := r.db.Exec(ctx, query, listingID, minConfirmations); err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "rescan listing balances", err)
	}
	return nil
}

func (r *Repository) EnsureBalanceRow(ctx context.Context, listingID, assetName string) error {
	const query = `
		INSERT INTO listing_balances (listing_id, asset_name, confirmed_balance, pending_balance)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (listing_id, asset_name) DO NOTHING`
	_, err := r.db.Exec(ctx, query, listingID, assetName)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "ensure listing balance row", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Listing, error) {
	const query = `
		SELECT id, seller_address, listing_address, deposit_address, name, description,
		       image_ipfs_hash, tags, payout_address, status, created_at, updated_at
		FROM listings WHERE id = $1`
	l, err := r.scanOne(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if err := r.loadPricesAndBalances(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *Repository) GetByDepositAddress(ctx context.Context, address string) (*Listing, error) {
	const query = `
		SELECT id, seller_address, listing_address, deposit_address, name, description,
		       image_ipfs_hash, tags, payout_address, status, created_at, updated_at
		FROM listings WHERE deposit_address = $1`
	l, err := r.scanOne(ctx, query, address)
	if err != nil {
		return nil, err
	}
	if err := r.loadPricesAndBalances(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *Repository) scanOne(ctx context.Context, query string, arg any) (*Listing, error) {
	var l Listing
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&l.ID, &l.SellerAddress, &l.ListingAddress, &l.DepositAddress, &l.Name, &l.Description,
		&l.ImageIPFSHash, &l.Tags, &l.PayoutAddress, &l.Status, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("listing not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get listing", err)
	}
	return &l, nil
}

func (r *Repository) loadPricesAndBalances(ctx context.Context, l *Listing) error {
	priceRows, err := r.db.Query(ctx, `
		SELECT listing_id, asset_name, price_evr, price_asset_name, price_asset_amount, units, ipfs_hash
		FROM listing_prices WHERE listing_id = $1`, l.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "load listing prices", err)
	}
	defer priceRows.Close()
	for priceRows.Next() {
		var p Price
		if err := priceRows.Scan(&p.ListingID, &p.AssetName, &p.PriceEVR, &p.PriceAssetName, &p.PriceAssetAmount, &p.Units, &p.IPFSHash); err != nil {
			return apperr.Wrap(apperr.KindDatabaseQuery, "scan listing price", err)
		}
		l.Prices = append(l.Prices, p)
	}

	balRows, err := r.db.Query(ctx, `
		SELECT listing_id, asset_name, confirmed_balance, pending_balance, last_confirmed_tx_hash, last_confirmed_tx_time
		FROM listing_balances WHERE listing_id = $1`, l.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "load listing balances", err)
	}
	defer balRows.Close()
	for balRows.Next() {
		var b Balance
		if err := balRows.Scan(&b.ListingID, &b.AssetName, &b.ConfirmedBalance, &b.PendingBalance, &b.LastConfirmedTxHash, &b.LastConfirmedTxTime); err != nil {
			return apperr.Wrap(apperr.KindDatabaseQuery, "scan listing balance", err)
		}
		l.Balances = append(l.Balances, b)
	}
	return nil
}

func (r *Repository) GetBySeller(ctx context.Context, sellerAddress string) ([]Listing, error) {
	const query = `
		SELECT id FROM listings WHERE seller_address = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, sellerAddress)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get listings by seller", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan listing id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "iterate listings by seller", err)
	}

	out := make([]Listing, 0, len(ids))
	for _, id := range ids {
		l, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, nil
}

// SearchParams holds search's optional filters; zero values are "don't
// filter on this", matching spec §4.5's search(term?, seller?, asset?,
// min_price?, max_price?, status?, tags?, page).
type SearchParams struct {
	NameQuery string
	Tag       string
	Seller    string
	Asset     string
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Status    string
}

// Search filters listings by any combination of free-text name, tag,
// seller, asset (requires a listing_prices row for that asset), EVR
// price range, and status, newest first. An empty Status searches
// across every status rather than defaulting to active, since the
// status filter itself is one of the optional params.
func (r *Repository) Search(ctx context.Context, p SearchParams, limit, offset int) ([]Listing, error) {
	var b strings.Builder
	b.WriteString(`SELECT DISTINCT l.id FROM listings l`)
	args := []any{}
	argN := 1
	joinedPrices := false
	if p.Asset != "" || p.MinPrice != nil || p.MaxPrice != nil {
		b.WriteString(` JOIN listing_prices lp ON lp.listing_id = l.id`)
		joinedPrices = true
	}
	b.WriteString(` WHERE true`)
	if p.Status != "" {
		b.WriteString(fmt.Sprintf(" AND l.status = $%d", argN))
		args = append(args, p.Status)
		argN++
	}
	if p.NameQuery != "" {
		b.WriteString(fmt.Sprintf(" AND l.name ILIKE $%d", argN))
		args = append(args, "%"+p.NameQuery+"%")
		argN++
	}
	if p.Tag != "" {
		b.WriteString(fmt.Sprintf(" AND $%d = ANY(l.tags)", argN))
		args = append(args, p.Tag)
		argN++
	}
	if p.Seller != "" {
		b.WriteString(fmt.Sprintf(" AND l.seller_address = $%d", argN))
		args = append(args, p.Seller)
		argN++
	}
	if joinedPrices && p.Asset != "" {
		b.WriteString(fmt.Sprintf(" AND lp.asset_name = $%d", argN))
		args = append(args, p.Asset)
		argN++
	}
	if joinedPrices && p.MinPrice != nil {
		b.WriteString(fmt.Sprintf(" AND lp.price_evr >= $%d", argN))
		args = append(args, *p.MinPrice)
		argN++
	}
	if joinedPrices && p.MaxPrice != nil {
		b.WriteString(fmt.Sprintf(" AND lp.price_evr <= $%d", argN))
		args = append(args, *p.MaxPrice)
		argN++
	}
	b.WriteString(fmt.Sprintf(" ORDER BY l.created_at DESC LIMIT $%d OFFSET $%d", argN, argN+1))
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "search listings", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan search result", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "iterate search results", err)
	}

	out := make([]Listing, 0, len(ids))
	for _, id := range ids {
		l, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, nil
}

// UpdateFields applies a dynamic SET clause over MutableFields only.
func (r *Repository) UpdateFields(ctx context.Context, listingID string, fields map[string]any) error {
	for f := range fields {
		if !MutableFields[f] {
			return apperr.Validation(fmt.Sprintf("field %q is not mutable", f))
		}
	}
	if len(fields) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("UPDATE listings SET updated_at = now()")
	args := []any{}
	argN := 1
	for f, v := range fields {
		b.WriteString(fmt.Sprintf(", %s = $%d", f, argN))
		args = append(args, v)
		argN++
	}
	b.WriteString(fmt.Sprintf(" WHERE id = $%d", argN))
	args = append(args, listingID)

	tag, err := r.db.Exec(ctx, b.String(), args...)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "update listing fields", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("listing not found")
	}
	return nil
}

// Delete cascades balances and prices before the listing row itself,
// matching the original's explicit ordered delete rather than relying
// purely on ON DELETE CASCADE, so a half-failed delete never leaves an
// orphaned balance row that would blow up a later join.
func (r *Repository) Delete(ctx context.Context, listingID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "begin delete listing", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM listing_balances WHERE listing_id = $1`, listingID); err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "delete listing balances", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM listing_prices WHERE listing_id = $1`, listingID); err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "delete listing prices", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM listings WHERE id = $1`, listingID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "delete listing", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("listing not found")
	}
	return tx.Commit(ctx)
}

// DeductConfirmedBalance decrements a listing's confirmed balance for a
// withdrawal attempt, failing if it would go negative. Callers restore
// it on a failed broadcast (deduct-then-attempt-then-restore, §4.5).
func (r *Repository) DeductConfirmedBalance(ctx context.Context, listingID, assetName string, amount decimal.Decimal) error {
	const query = `
		UPDATE listing_balances SET confirmed_balance = confirmed_balance - $3, updated_at = now()
		WHERE listing_id = $1 AND asset_name = $2 AND confirmed_balance >= $3`
	tag, err := r.db.Exec(ctx, query, listingID, assetName, amount)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "deduct listing balance", err)
	}
	if tag.RowsAffected() == 0 {
		var available decimal.Decimal
		if err := r.db.QueryRow(ctx, `
			SELECT confirmed_balance FROM listing_balances WHERE listing_id = $1 AND asset_name = $2`,
			listingID, assetName,
		).Scan(&available); err != nil {
			available = decimal.Zero
		}
		return apperr.InsufficientBalance(assetName, available.String(), amount.String())
	}
	return nil
}

func (r *Repository) RestoreConfirmedBalance(ctx context.Context, listingID, assetName string, amount decimal.Decimal) error {
	const query = `
		UPDATE listing_balances SET confirmed_balance = confirmed_balance + $3, updated_at = now()
		WHERE listing_id = $1 AND asset_name = $2`
	_, err := r.db.Exec(ctx, query, listingID, assetName, amount)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "restore listing balance", err)
	}
	return nil
}
