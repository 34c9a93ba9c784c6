package order

import (
	"context"
	"time"

	"evrmarket/apperr"
	"evrmarket/internal/database"
	"evrmarket/internal/listing"
	"evrmarket/internal/rpc"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Manager implements the Order Manager (spec §4.6): price lookup,
// reservation, and status queries. The expiration sweep lives on
// Repository.ExpireUnpaid so a standalone worker can call it on a
// timer without constructing a full Manager.
type Manager struct {
	repo *Repository
	db   *pgxpool.Pool
	rpc  *rpc.Client

	feePercent        decimal.Decimal
	expirationMinutes int
}

func NewManager(repo *Repository, db *database.DB, client *rpc.Client, feePercent decimal.Decimal, expirationMinutes int) *Manager {
	if expirationMinutes <= 0 {
		expirationMinutes = DefaultExpirationMinutes
	}
	return &Manager{repo: repo, db: db.Pool(), rpc: client, feePercent: feePercent, expirationMinutes: expirationMinutes}
}

// CreateOrder reserves amount of each requested asset against a single
// listing's confirmed balance, prices the order in EVR, and issues a
// dedicated payment address for the buyer to pay total_payment_evr to.
func (m *Manager) CreateOrder(ctx context.Context, listingID, buyerAddress string, requests []ItemRequest) (*Order, error) {
	paymentAddress, err := m.rpc.GetNewAddress(ctx)
	if err != nil {
		return nil, err
	}

	status, err := m.listingStatus(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if status != "active" {
		return nil, apperr.Validation("listing is not active")
	}

	items, totalPrice, err := m.priceItems(ctx, listingID, requests)
	if err != nil {
		return nil, err
	}
	fee := totalPrice.Mul(m.feePercent).RoundBank(8)
	totalPayment := totalPrice.Add(fee)
	allocateItemFees(items, totalPrice, fee)

	expiresAt := expiresAtFromNow(m.expirationMinutes)
	return m.repo.CreateOrder(ctx, listingID, buyerAddress, paymentAddress, items, totalPrice, fee, totalPayment, expiresAt)
}

// CreateCartOrder is CreateOrder's multi-seller counterpart: requests
// may reference any number of listings, each priced and reserved
// independently, settling through one payment address and fee.
func (m *Manager) CreateCartOrder(ctx context.Context, buyerAddress string, requestsByListing map[string][]ItemRequest) (*CartOrder, error) {
	paymentAddress, err := m.rpc.GetNewAddress(ctx)
	if err != nil {
		return nil, err
	}

	var allItems []ReservedItem
	totalPrice := decimal.Zero
	for listingID, requests := range requestsByListing {
		status, err := m.listingStatus(ctx, listingID)
		if err != nil {
			return nil, err
		}
		if status != "active" {
			return nil, apperr.Validation("listing " + listingID + " is not active")
		}
		items, subtotal, err := m.priceItems(ctx, listingID, requests)
		if err != nil {
			return nil, err
		}
		for i := range items {
			items[i].ListingID = listingID
		}
		allItems = append(allItems, items...)
		totalPrice = totalPrice.Add(subtotal)
	}

	fee := totalPrice.Mul(m.feePercent).RoundBank(8)
	totalPayment := totalPrice.Add(fee)
	allocateItemFees(allItems, totalPrice, fee)
	expiresAt := expiresAtFromNow(m.expirationMinutes)
	return m.repo.CreateCartOrder(ctx, buyerAddress, paymentAddress, allItems, totalPrice, fee, totalPayment, expiresAt)
}

func (m *Manager) listingStatus(ctx context.Context, listingID string) (string, error) {
	var status string
	err := m.db.QueryRow(ctx, `SELECT status FROM listings WHERE id = $1`, listingID).Scan(&status)
	if err != nil {
		return "", apperr.NotFound("listing not found")
	}
	return status, nil
}

// priceItems checks confirmed balance and looks up price for each
// requested asset within a listing, failing the whole batch if any one
// line is short — a partial reservation would leave the buyer paying
// for fewer items than they asked for.
func (m *Manager) priceItems(ctx context.Context, listingID string, requests []ItemRequest) ([]ReservedItem, decimal.Decimal, error) {
	var items []ReservedItem
	total := decimal.Zero

	for _, req := range requests {
		var confirmedBalance decimal.Decimal
		var priceEVR *decimal.Decimal
		err := m.db.QueryRow(ctx, `
			SELECT lb.confirmed_balance, lp.price_evr
			FROM listing_balances lb
			JOIN listing_prices lp ON lp.listing_id = lb.listing_id AND lp.asset_name = lb.asset_name
			WHERE lb.listing_id = $1 AND lb.asset_name = $2`,
			listingID, req.AssetName,
		).Scan(&confirmedBalance, &priceEVR)
		if err != nil {
			return nil, decimal.Zero, apperr.Validation("asset " + req.AssetName + " not found in listing")
		}
		if priceEVR == nil {
			return nil, decimal.Zero, apperr.Validation("asset " + req.AssetName + " has no EVR price")
		}
		if priceEVR.Equal(listing.AssetGuardPrice) {
			return nil, decimal.Zero, apperr.Validation("asset " + req.AssetName + " has not been priced by the seller")
		}
		if confirmedBalance.LessThan(req.Amount) {
			return nil, decimal.Zero, apperr.InsufficientBalance(req.AssetName, confirmedBalance.String(), req.Amount.String())
		}

		lineTotal := priceEVR.Mul(req.Amount)
		items = append(items, ReservedItem{
			ListingID: listingID,
			AssetName: req.AssetName,
			Amount:    req.Amount,
			PriceEVR:  lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return items, total, nil
}

// allocateItemFees splits an order's total fee across its items in
// proportion to each item's share of total_price_evr, so the payout
// engine can later compute a seller's share of proceeds from the items
// alone without re-reading current listing prices (spec §4.6). The
// last item absorbs whatever remainder rounding leaves behind, so the
// per-item fees always sum exactly to the order-level fee.
func allocateItemFees(items []ReservedItem, totalPrice, fee decimal.Decimal) {
	if len(items) == 0 || totalPrice.IsZero() {
		return
	}
	allocated := decimal.Zero
	for i := range items {
		if i == len(items)-1 {
			items[i].FeeEVR = fee.Sub(allocated)
			break
		}
		share := items[i].PriceEVR.Div(totalPrice).Mul(fee).RoundBank(8)
		items[i].FeeEVR = share
		allocated = allocated.Add(share)
	}
}

func expiresAtFromNow(minutes int) time.Time {
	return timeNow().Add(time.Duration(minutes) * time.Minute)
}

// timeNow is a var so tests can stub expiration deterministically.
var timeNow = time.Now

func (m *Manager) GetOrder(ctx context.Context, id string) (*Order, error) {
	return m.repo.GetOrder(ctx, id)
}

func (m *Manager) GetCartOrder(ctx context.Context, id string) (*CartOrder, error) {
	return m.repo.GetCartOrder(ctx, id)
}

func (m *Manager) GetOrderByPaymentAddress(ctx context.Context, address string) (*Order, error) {
	return m.repo.GetOrderByPaymentAddress(ctx, address)
}

func (m *Manager) SearchByBuyer(ctx context.Context, buyerAddress string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	return m.repo.SearchByBuyer(ctx, buyerAddress, limit)
}

// Cancel succeeds from any active (pre-confirmation) state — pending or
// confirming — per spec §4.6: "Any active state → cancelled ... when
// the buyer or operator cancels before payment confirms." Unconfirmed
// payment already sitting against the order (PendingPaidEVR) does not
// block a cancel; only a confirmed payment does, since at that point
// the payout engine may already be acting on it.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	o, err := m.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	active := o.Status == StatusPending || o.Status == StatusConfirming
	if !active || !o.ConfirmedPaidEVR.IsZero() {
		return apperr.InvalidStateTransition(string(o.Status), string(StatusCancelled))
	}
	return m.repo.SetStatus(ctx, orderID, StatusCancelled)
}
