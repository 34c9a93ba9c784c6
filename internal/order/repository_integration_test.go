//go:build integration

package order

import (
	"context"
	"testing"
	"time"

	"evrmarket/internal/database"
	"evrmarket/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func seedListingWithBalance(t *testing.T, db *database.DB, confirmed decimal.Decimal) string {
	t.Helper()
	ctx := context.Background()
	var listingID string
	err := db.Pool().QueryRow(ctx, `
		INSERT INTO listings (seller_address, listing_address, deposit_address, name)
		VALUES ('EQSeller', 'EQListingAddr', 'EQDepositAddr', 'Test Listing')
		RETURNING id`).Scan(&listingID)
	require.NoError(t, err)

	price := decimal.NewFromInt(10)
	_, err = db.Pool().Exec(ctx, `
		INSERT INTO listing_prices (listing_id, asset_name, price_evr, units) VALUES ($1, 'GOLD', $2, 8)`,
		listingID, price)
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `
		INSERT INTO listing_balances (listing_id, asset_name, confirmed_balance, pending_balance)
		VALUES ($1, 'GOLD', $2, 0)`, listingID, confirmed)
	require.NoError(t, err)

	return listingID
}

func TestRepository_CreateOrder_ReservesBalance(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	listingID := seedListingWithBalance(t, db, decimal.NewFromInt(100))
	repo := NewRepository(db)
	ctx := context.Background()

	items := []ReservedItem{{ListingID: listingID, AssetName: "GOLD", Amount: decimal.NewFromInt(10), PriceEVR: decimal.NewFromInt(100)}}
	o, err := repo.CreateOrder(ctx, listingID, "EQBuyer", "EQPayment1", items, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(101), time.Now().Add(15*time.Minute))
	require.NoError(t, err)
	require.Equal(t, StatusPending, o.Status)

	var confirmedBalance, pendingBalance decimal.Decimal
	err = db.Pool().QueryRow(ctx, `SELECT confirmed_balance, pending_balance FROM listing_balances WHERE listing_id = $1 AND asset_name = 'GOLD'`, listingID).Scan(&confirmedBalance, &pendingBalance)
	require.NoError(t, err)
	require.True(t, confirmedBalance.Equal(decimal.NewFromInt(90)))
	require.True(t, pendingBalance.Equal(decimal.NewFromInt(10)))
}

func TestRepository_CreateOrder_FailsOnInsufficientBalance(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	listingID := seedListingWithBalance(t, db, decimal.NewFromInt(5))
	repo := NewRepository(db)
	ctx := context.Background()

	items := []ReservedItem{{ListingID: listingID, AssetName: "GOLD", Amount: decimal.NewFromInt(10), PriceEVR: decimal.NewFromInt(100)}}
	_, err := repo.CreateOrder(ctx, listingID, "EQBuyer", "EQPayment2", items, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(101), time.Now().Add(15*time.Minute))
	require.Error(t, err)

	var confirmedBalance decimal.Decimal
	err = db.Pool().QueryRow(ctx, `SELECT confirmed_balance FROM listing_balances WHERE listing_id = $1 AND asset_name = 'GOLD'`, listingID).Scan(&confirmedBalance)
	require.NoError(t, err)
	require.True(t, confirmedBalance.Equal(decimal.NewFromInt(5)))
}

func TestRepository_ExpireUnpaid_ReleasesReservation(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	listingID := seedListingWithBalance(t, db, decimal.NewFromInt(100))
	repo := NewRepository(db)
	ctx := context.Background()

	items := []ReservedItem{{ListingID: listingID, AssetName: "GOLD", Amount: decimal.NewFromInt(10), PriceEVR: decimal.NewFromInt(100)}}
	o, err := repo.CreateOrder(ctx, listingID, "EQBuyer", "EQPayment3", items, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(101), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = repo.ExpireUnpaid(ctx)
	require.NoError(t, err)

	got, err := repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)

	var confirmedBalance decimal.Decimal
	err = db.Pool().QueryRow(ctx, `SELECT confirmed_balance FROM listing_balances WHERE listing_id = $1 AND asset_name = 'GOLD'`, listingID).Scan(&confirmedBalance)
	require.NoError(t, err)
	require.True(t, confirmedBalance.Equal(decimal.NewFromInt(100)))
}
