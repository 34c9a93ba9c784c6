package order

import (
	"context"
	"time"

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

// ReservedItem is one line of a reservation: how much of which asset,
// from which listing, at what EVR price, with confirmed_balance already
// checked by the caller; the reservation UPDATE checks it again inside
// the transaction.
type ReservedItem struct {
	ListingID string
	AssetName string
	Amount    decimal.Decimal
	PriceEVR  decimal.Decimal
	FeeEVR    decimal.Decimal
}

// CreateOrder atomically creates a single-listing order, its items, and
// moves each item's reserved amount from confirmed to pending balance.
// Every statement runs in one transaction so a mid-way failure never
// leaves a listing's balance short without a matching order existing.
func (r *Repository) CreateOrder(ctx context.Context, listingID, buyerAddress, paymentAddress string, items []ReservedItem, totalPrice, fee, totalPayment decimal.Decimal, expiresAt time.Time) (*Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "begin create order", err)
	}
	defer tx.Rollback(ctx)

	var o Order
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (listing_id, buyer_address, payment_address, total_price_evr, fee_evr, total_payment_evr, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, status, created_at, updated_at`,
		listingID, buyerAddress, paymentAddress, totalPrice, fee, totalPayment, expiresAt,
	).Scan(&o.ID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "insert order", err)
	}
	o.ListingID = listingID
	o.BuyerAddress = buyerAddress
	o.PaymentAddress = paymentAddress
	o.TotalPriceEVR = totalPrice
	o.FeeEVR = fee
	o.TotalPaymentEVR = totalPayment
	o.ExpiresAt = expiresAt

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, asset_name, amount, price_evr, fee_evr)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.AssetName, it.Amount, it.PriceEVR, it.FeeEVR,
		); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "insert order item", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE listing_balances
			SET confirmed_balance = confirmed_balance - $1, pending_balance = pending_balance + $1, updated_at = now()
			WHERE listing_id = $2 AND asset_name = $3 AND confirmed_balance >= $1`,
			it.Amount, listingID, it.AssetName,
		)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "reserve listing balance", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, insufficientBalanceErr(ctx, tx, listingID, it.AssetName, it.Amount)
		}

		o.Items = append(o.Items, Item{
			OrderID: o.ID, AssetName: it.AssetName, Amount: it.Amount, PriceEVR: it.PriceEVR, FeeEVR: it.FeeEVR,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "commit create order", err)
	}
	return &o, nil
}

// insufficientBalanceErr re-reads the listing's current confirmed
// balance so the returned error always names the actual available
// quantity (spec §7), not a placeholder — the reservation UPDATE above
// already told us it's short, this just reports by how much.
func insufficientBalanceErr(ctx context.Context, tx pgx.Tx, listingID, assetName string, requested decimal.Decimal) error {
	var available decimal.Decimal
	if err := tx.QueryRow(ctx, `
		SELECT confirmed_balance FROM listing_balances WHERE listing_id = $1 AND asset_name = $2`,
		listingID, assetName,
	).Scan(&available); err != nil {
		available = decimal.Zero
	}
	return apperr.InsufficientBalance(assetName, available.String(), requested.String())
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := r.db.QueryRow(ctx, `
		SELECT id, listing_id, buyer_address, payment_address, status, total_price_evr, fee_evr,
		       total_payment_evr, pending_paid_evr, confirmed_paid_evr, expires_at, created_at, updated_at
		FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.ListingID, &o.BuyerAddress, &o.PaymentAddress, &o.Status, &o.TotalPriceEVR, &o.FeeEVR,
		&o.TotalPaymentEVR, &o.PendingPaidEVR, &o.ConfirmedPaidEVR, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("order not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get order", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT order_id, asset_name, amount, price_evr, fee_evr, fulfillment_tx_hash, fulfillment_time
		FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get order items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.OrderID, &it.AssetName, &it.Amount, &it.PriceEVR, &it.FeeEVR, &it.FulfillmentTxHash, &it.FulfillmentTime); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan order item", err)
		}
		o.Items = append(o.Items, it)
	}
	return &o, nil
}

func (r *Repository) GetOrderByPaymentAddress(ctx context.Context, address string) (*Order, error) {
	var id string
	err := r.db.QueryRow(ctx, `SELECT id FROM orders WHERE payment_address = $1`, address).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("order not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get order by payment address", err)
	}
	return r.GetOrder(ctx, id)
}

func (r *Repository) SearchByBuyer(ctx context.Context, buyerAddress string, limit int) ([]Order, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM orders WHERE buyer_address = $1 ORDER BY created_at DESC LIMIT $2`, buyerAddress, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "search orders by buyer", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan order id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// MarkItemFulfilled records the payout leg's tx hash against an order item
// once the Payout Engine has broadcast it.
func (r *Repository) MarkItemFulfilled(ctx context.Context, orderID, assetName, txHash string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE order_items SET fulfillment_tx_hash = $3, fulfillment_time = now()
		WHERE order_id = $1 AND asset_name = $2`, orderID, assetName, txHash)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "mark order item fulfilled", err)
	}
	return nil
}

func (r *Repository) SetStatus(ctx context.Context, orderID string, status Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, status)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "set order status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order not found")
	}
	return nil
}

// CreateCartOrder is CreateOrder's multi-seller counterpart: items may
// span any number of listings, each reserved against its own listing's
// balance under the same transaction.
func (r *Repository) CreateCartOrder(ctx context.Context, buyerAddress, paymentAddress string, items []ReservedItem, totalPrice, fee, totalPayment decimal.Decimal, expiresAt time.Time) (*CartOrder, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "begin create cart order", err)
	}
	defer tx.Rollback(ctx)

	var co CartOrder
	err = tx.QueryRow(ctx, `
		INSERT INTO cart_orders (buyer_address, payment_address, total_price_evr, fee_evr, total_payment_evr, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, status, created_at, updated_at`,
		buyerAddress, paymentAddress, totalPrice, fee, totalPayment, expiresAt,
	).Scan(&co.ID, &co.Status, &co.CreatedAt, &co.UpdatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "insert cart order", err)
	}
	co.BuyerAddress = buyerAddress
	co.PaymentAddress = paymentAddress
	co.TotalPriceEVR = totalPrice
	co.FeeEVR = fee
	co.TotalPaymentEVR = totalPayment
	co.ExpiresAt = expiresAt

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cart_order_items (cart_order_id, listing_id, asset_name, amount, price_evr, fee_evr)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			co.ID, it.ListingID, it.AssetName, it.Amount, it.PriceEVR, it.FeeEVR,
		); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "insert cart order item", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE listing_balances
			SET confirmed_balance = confirmed_balance - $1, pending_balance = pending_balance + $1, updated_at = now()
			WHERE listing_id = $2 AND asset_name = $3 AND confirmed_balance >= $1`,
			it.Amount, it.ListingID, it.AssetName,
		)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "reserve cart listing balance", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, insufficientBalanceErr(ctx, tx, it.ListingID, it.AssetName, it.Amount)
		}

		co.Items = append(co.Items, CartItem{
			CartOrderID: co.ID, ListingID: it.ListingID, AssetName: it.AssetName,
			Amount: it.Amount, PriceEVR: it.PriceEVR, FeeEVR: it.FeeEVR,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "commit create cart order", err)
	}
	return &co, nil
}

func (r *Repository) GetCartOrder(ctx context.Context, id string) (*CartOrder, error) {
	var co CartOrder
	err := r.db.QueryRow(ctx, `
		SELECT id, buyer_address, payment_address, status, total_price_evr, fee_evr,
		       total_payment_evr, pending_paid_evr, confirmed_paid_evr, expires_at, created_at, updated_at
		FROM cart_orders WHERE id = $1`, id,
	).Scan(&co.ID, &co.BuyerAddress, &co.PaymentAddress, &co.Status, &co.TotalPriceEVR, &co.FeeEVR,
		&co.TotalPaymentEVR, &co.PendingPaidEVR, &co.ConfirmedPaidEVR, &co.ExpiresAt, &co.CreatedAt, &co.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("cart order not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get cart order", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT cart_order_id, listing_id, asset_name, amount, price_evr, fee_evr, fulfillment_tx_hash, fulfillment_time
		FROM cart_order_items WHERE cart_order_id = $1`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get cart order items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.CartOrderID, &it.ListingID, &it.AssetName, &it.Amount, &it.PriceEVR, &it.FeeEVR, &it.FulfillmentTxHash, &it.FulfillmentTime); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan cart order item", err)
		}
		co.Items = append(co.Items, it)
	}
	return &co, nil
}

// ExpireUnpaid is the sweeper's atomic sweep (spec §4.6): any pending
// order or cart order past its expiry with zero pending payment returns
// its reserved amounts to confirmed balance and flips to expired, one
// CTE per table and both in one transaction, so no other writer can
// observe a half-expired order.
func (r *Repository) ExpireUnpaid(ctx context.Context) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabaseQuery, "begin expire sweep", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		WITH expiring AS (
			SELECT id FROM orders
			WHERE status = 'pending' AND expires_at < now() AND pending_paid_evr = 0
			FOR UPDATE SKIP LOCKED
		),
		released AS (
			UPDATE listing_balances lb
			SET confirmed_balance = confirmed_balance + oi.amount,
			    pending_balance = pending_balance - oi.amount,
			    updated_at = now()
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE oi.order_id IN (SELECT id FROM expiring)
			  AND lb.listing_id = o.listing_id AND lb.asset_name = oi.asset_name
			RETURNING 1
		)
		UPDATE orders SET status = 'expired', updated_at = now()
		WHERE id IN (SELECT id FROM expiring)`,
	); err != nil {
		return 0, apperr.Wrap(apperr.KindDatabaseQuery, "expire unpaid orders", err)
	}

	tag, err := tx.Exec(ctx, `
		WITH expiring AS (
			SELECT id FROM cart_orders
			WHERE status = 'pending' AND expires_at < now() AND pending_paid_evr = 0
			FOR UPDATE SKIP LOCKED
		),
		released AS (
			UPDATE listing_balances lb
			SET confirmed_balance = confirmed_balance + ci.amount,
			    pending_balance = pending_balance - ci.amount,
			    updated_at = now()
			FROM cart_order_items ci
			WHERE ci.cart_order_id IN (SELECT id FROM expiring)
			  AND lb.listing_id = ci.listing_id AND lb.asset_name = ci.asset_name
			RETURNING 1
		)
		UPDATE cart_orders SET status = 'expired', updated_at = now()
		WHERE id IN (SELECT id FROM expiring)`,
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabaseQuery, "expire unpaid cart orders", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Wrap(apperr.KindDatabaseQuery, "commit expire sweep", err)
	}
	return tag.RowsAffected(), nil
}
