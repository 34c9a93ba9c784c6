//go:build integration

package featured

import (
	"context"
	"testing"
	"time"

	"evrmarket/internal/database"
	"evrmarket/pkg/logger"

	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func seedListing(t *testing.T, db *database.DB) string {
	t.Helper()
	var listingID string
	err := db.Pool().QueryRow(context.Background(), `
		INSERT INTO listings (seller_address, listing_address, deposit_address, name)
		VALUES ('EQSeller', 'EQListingAddr', 'EQDepositAddr', 'Test') RETURNING id`).Scan(&listingID)
	require.NoError(t, err)
	return listingID
}

func TestRepository_CreateAndGetPayment(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	listingID := seedListing(t, db)
	ctx := context.Background()

	p, err := repo.CreatePayment(ctx, listingID, "EQPayAddr", "50", 30, 1)
	require.NoError(t, err)
	require.Equal(t, PaymentPending, p.Status)

	got, err := repo.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "EQPayAddr", got.PaymentAddress)
}

func TestRepository_ConfirmedReceivedEVR_SumsOnlyConfirmedApplied(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()

	_, err := db.Pool().Exec(ctx, `
		INSERT INTO transaction_entries (tx_hash, address, entry_type, asset_name, amount, confirmed_applied)
		VALUES ('tx1', 'EQPayAddr', 'receive', 'EVR', 50, true)`)
	require.NoError(t, err)
	_, err = db.Pool().Exec(ctx, `
		INSERT INTO transaction_entries (tx_hash, address, entry_type, asset_name, amount, confirmed_applied)
		VALUES ('tx2', 'EQPayAddr', 'receive', 'EVR', 25, false)`)
	require.NoError(t, err)

	total, err := repo.ConfirmedReceivedEVR(ctx, "EQPayAddr")
	require.NoError(t, err)
	require.Equal(t, "50.00000000", total)
}

func TestRepository_MarkCompleted_IsOneShot(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	listingID := seedListing(t, db)
	ctx := context.Background()

	p, err := repo.CreatePayment(ctx, listingID, "EQPayAddr", "50", 30, 1)
	require.NoError(t, err)

	_, err = repo.MarkCompleted(ctx, p.ID, "tx1")
	require.NoError(t, err)

	_, err = repo.MarkCompleted(ctx, p.ID, "tx1")
	require.Error(t, err)
}

func TestRepository_ExpireStalePayments(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	listingID := seedListing(t, db)
	ctx := context.Background()

	p, err := repo.CreatePayment(ctx, listingID, "EQPayAddr", "50", 30, 1)
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `UPDATE featured_listing_payments SET created_at = now() - interval '25 hours' WHERE id = $1`, p.ID)
	require.NoError(t, err)

	n, err := repo.ExpireStalePayments(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRepository_UpsertAndCleanupFeaturedListing(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	listingID := seedListing(t, db)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.UpsertFeaturedListing(ctx, listingID, "EQPayAddr", 1, now, now.Add(-time.Minute)))

	active, err := repo.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 0)

	n, err := repo.CleanupExpiredListings(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
