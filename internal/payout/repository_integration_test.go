//go:build integration

package payout

import (
	"context"
	"testing"

	"evrmarket/internal/database"
	"evrmarket/pkg/logger"

	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func seedPaidOrder(t *testing.T, db *database.DB) string {
	t.Helper()
	ctx := context.Background()
	var listingID string
	err := db.Pool().QueryRow(ctx, `
		INSERT INTO listings (seller_address, listing_address, deposit_address, name)
		VALUES ('EQSeller', 'EQListingAddr', 'EQDepositAddr', 'Test') RETURNING id`).Scan(&listingID)
	require.NoError(t, err)

	var orderID string
	err = db.Pool().QueryRow(ctx, `
		INSERT INTO orders (listing_id, buyer_address, payment_address, status, total_price_evr, fee_evr, total_payment_evr, expires_at)
		VALUES ($1, 'EQBuyer', 'EQPay1', 'paid', 100, 1, 101, now() + interval '15 minutes')
		RETURNING id`, listingID).Scan(&orderID)
	require.NoError(t, err)
	return orderID
}

func TestRepository_BeginPayout_OnlyFirstCallerClaims(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	orderID := seedPaidOrder(t, db)
	repo := NewRepository(db)
	ctx := context.Background()

	claimed1, err := repo.BeginPayout(ctx, orderID, false)
	require.NoError(t, err)
	require.True(t, claimed1)

	claimed2, err := repo.BeginPayout(ctx, orderID, false)
	require.NoError(t, err)
	require.False(t, claimed2)
}

func TestRepository_ListPaidOrders(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	seedPaidOrder(t, db)
	repo := NewRepository(db)

	orders, err := repo.ListPaidOrders(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}
