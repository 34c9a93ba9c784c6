package payout

import (
	"context"

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

// mustDecimal parses a numeric::text column back into a decimal.Decimal;
// these always come from Postgres NUMERIC columns, so a parse failure
// here means a schema mismatch, not bad input — zero is as good a
// fallback as a panic for a value the engine will just retry anyway.
func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// PaidOrder is a row from orders/cart_orders in 'paid' status, enough
// to drive one fulfillment attempt: the coin leg spends payment_address's
// UTXOs, and a buyer refund is owed whenever confirmed receipts ran
// past what the order actually needed.
type PaidOrder struct {
	ID               string
	IsCart           bool
	BuyerAddress     string
	PaymentAddress   string
	TotalPriceEVR    string
	FeeEVR           string
	TotalPaymentEVR  string
	ConfirmedPaidEVR string
}

func (r *Repository) ListPaidOrders(ctx context.Context, limit int) ([]PaidOrder, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, buyer_address, payment_address, total_price_evr::text, fee_evr::text,
		       total_payment_evr::text, confirmed_paid_evr::text
		FROM orders WHERE status = 'paid' ORDER BY updated_at LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "list paid orders", err)
	}
	defer rows.Close()
	var out []PaidOrder
	for rows.Next() {
		var p PaidOrder
		if err := rows.Scan(&p.ID, &p.BuyerAddress, &p.PaymentAddress, &p.TotalPriceEVR, &p.FeeEVR,
			&p.TotalPaymentEVR, &p.ConfirmedPaidEVR); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan paid order", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Repository) ListPaidCartOrders(ctx context.Context, limit int) ([]PaidOrder, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, buyer_address, payment_address, total_price_evr::text, fee_evr::text,
		       total_payment_evr::text, confirmed_paid_evr::text
		FROM cart_orders WHERE status = 'paid' ORDER BY updated_at LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "list paid cart orders", err)
	}
	defer rows.Close()
	var out []PaidOrder
	for rows.Next() {
		var p PaidOrder
		if err := rows.Scan(&p.ID, &p.BuyerAddress, &p.PaymentAddress, &p.TotalPriceEVR, &p.FeeEVR,
			&p.TotalPaymentEVR, &p.ConfirmedPaidEVR); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan paid cart order", err)
		}
		p.IsCart = true
		out = append(out, p)
	}
	return out, nil
}

// OrderItemWithSeller is one order line plus the listing's seller and
// payout address, enough to drive the asset leg and that seller's
// share of the coin leg. PriceEVR/FeeEVR are the amounts stored at
// order-creation time, not re-read from the listing's current price.
type OrderItemWithSeller struct {
	ListingID         string
	AssetName         string
	Amount            string
	PriceEVR          string
	FeeEVR            string
	DepositAddress    string
	SellerAddress     string
	PayoutAddress     *string
	FulfillmentTxHash *string
}

// SellerShare is what this item's seller is owed from the coin leg:
// the item's price minus its stored share of the order's fee.
func (it OrderItemWithSeller) SellerShare() decimal.Decimal {
	return mustDecimal(it.PriceEVR).Sub(mustDecimal(it.FeeEVR))
}

// PayoutDestination is the seller's payout address if set, else their
// listing's own seller_address.
func (it OrderItemWithSeller) PayoutDestination() string {
	if it.PayoutAddress != nil && *it.PayoutAddress != "" {
		return *it.PayoutAddress
	}
	return it.SellerAddress
}

func (r *Repository) OrderItemsWithSeller(ctx context.Context, orderID string) ([]OrderItemWithSeller, error) {
	rows, err := r.db.Query(ctx, `
		SELECT l.id, oi.asset_name, oi.amount::text, oi.price_evr::text, oi.fee_evr::text,
		       l.deposit_address, l.seller_address, l.payout_address, oi.fulfillment_tx_hash
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN listings l ON l.id = o.listing_id
		WHERE oi.order_id = $1`, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "order items with seller", err)
	}
	defer rows.Close()
	var out []OrderItemWithSeller
	for rows.Next() {
		var it OrderItemWithSeller
		if err := rows.Scan(&it.ListingID, &it.AssetName, &it.Amount, &it.PriceEVR, &it.FeeEVR,
			&it.DepositAddress, &it.SellerAddress, &it.PayoutAddress, &it.FulfillmentTxHash); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan order item with seller", err)
		}
		out = append(out, it)
	}
	return out, nil
}

func (r *Repository) CartOrderItemsWithSeller(ctx context.Context, cartOrderID string) ([]OrderItemWithSeller, error) {
	rows, err := r.db.Query(ctx, `
		SELECT l.id, ci.asset_name, ci.amount::text, ci.price_evr::text, ci.fee_evr::text,
		       l.deposit_address, l.seller_address, l.payout_address, ci.fulfillment_tx_hash
		FROM cart_order_items ci
		JOIN listings l ON l.id = ci.listing_id
		WHERE ci.cart_order_id = $1`, cartOrderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "cart order items with seller", err)
	}
	defer rows.Close()
	var out []OrderItemWithSeller
	for rows.Next() {
		var it OrderItemWithSeller
		if err := rows.Scan(&it.ListingID, &it.AssetName, &it.Amount, &it.PriceEVR, &it.FeeEVR,
			&it.DepositAddress, &it.SellerAddress, &it.PayoutAddress, &it.FulfillmentTxHash); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan cart order item with seller", err)
		}
		out = append(out, it)
	}
	return out, nil
}

// MarkItemFulfilled records the asset leg's tx hash against one item so
// a retried fulfillment attempt doesn't resend an asset that already
// left the listing's deposit address.
func (r *Repository) MarkItemFulfilled(ctx context.Context, orderID, listingID, assetName string, isCart bool, txHash string) error {
	var err error
	if isCart {
		_, err = r.db.Exec(ctx, `
			UPDATE cart_order_items SET fulfillment_tx_hash = $4, fulfillment_time = now()
			WHERE cart_order_id = $1 AND listing_id = $2 AND asset_name = $3`, orderID, listingID, assetName, txHash)
	} else {
		_, err = r.db.Exec(ctx, `
			UPDATE order_items SET fulfillment_tx_hash = $3, fulfillment_time = now()
			WHERE order_id = $1 AND asset_name = $2`, orderID, assetName, txHash)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "mark item fulfilled", err)
	}
	return nil
}

// BeginPayout inserts a pending payout row via ON CONFLICT DO NOTHING
// and reports whether this caller actually won the insert — losing
// means another worker already owns this order's fulfillment.
func (r *Repository) BeginPayout(ctx context.Context, orderID string, isCart bool) (bool, error) {
	table := "order_payouts"
	if isCart {
		table = "cart_order_payouts"
	}
	tag, err := r.db.Exec(ctx, `INSERT INTO `+table+` (order_id, status) VALUES ($1, 'pending') ON CONFLICT (order_id) DO NOTHING`, orderID)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatabaseQuery, "begin payout", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) UpdatePayout(ctx context.Context, orderID string, isCart bool, rec Record) error {
	table := "order_payouts"
	if isCart {
		table = "cart_order_payouts"
	}
	_, err := r.db.Exec(ctx, `
		UPDATE `+table+` SET
			asset_tx_hash = $2, seller_tx_hash = $3, fee_tx_hash = $4,
			status = $5, attempts = attempts + 1, last_error = $6, updated_at = now()
		WHERE order_id = $1`,
		orderID, rec.AssetTxHash, rec.SellerTxHash, rec.FeeTxHash, rec.Status, rec.LastError)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "update payout", err)
	}
	return nil
}

func (r *Repository) GetPayout(ctx context.Context, orderID string, isCart bool) (*Record, error) {
	table := "order_payouts"
	if isCart {
		table = "cart_order_payouts"
	}
	var rec Record
	rec.OrderID = orderID
	err := r.db.QueryRow(ctx, `
		SELECT asset_tx_hash, seller_tx_hash, fee_tx_hash, status, attempts, last_error, created_at, updated_at
		FROM `+table+` WHERE order_id = $1`, orderID,
	).Scan(&rec.AssetTxHash, &rec.SellerTxHash, &rec.FeeTxHash, &rec.Status, &rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("payout not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get payout", err)
	}
	return &rec, nil
}

func (r *Repository) SetOrderStatus(ctx context.Context, orderID string, isCart bool, status string) error {
	table := "orders"
	if isCart {
		table = "cart_orders"
	}
	_, err := r.db.Exec(ctx, `UPDATE `+table+` SET status = $2, updated_at = now() WHERE id = $1`, orderID, status)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "set order status", err)
	}
	return nil
}

func (r *Repository) RecordSale(ctx context.Context, orderID string, isCart bool, listingID, sellerAddress, assetName, amount, priceEVR string) error {
	orderCol, cartCol := "order_id", "cart_order_id"
	var query string
	if isCart {
		query = `INSERT INTO sale_history (` + cartCol + `, listing_id, seller_address, asset_name, amount, price_evr) VALUES ($1, $2, $3, $4, $5, $6)`
	} else {
		query = `INSERT INTO sale_history (` + orderCol + `, listing_id, seller_address, asset_name, amount, price_evr) VALUES ($1, $2, $3, $4, $5, $6)`
	}
	_, err := r.db.Exec(ctx, query, orderID, listingID, sellerAddress, assetName, amount, priceEVR)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "record sale", err)
	}
	return nil
}
