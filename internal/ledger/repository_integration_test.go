//go:build integration

package ledger

import (
	"context"
	"testing"

	"evrmarket/internal/database"
	"evrmarket/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func TestRepository_UpsertEntry_IdempotentOnCompositeKey(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()

	entry := TransactionEntry{
		TxHash:        "deadbeef",
		Address:       "EQAddr1",
		EntryType:     EntryReceive,
		AssetName:     "EVR",
		Amount:        decimal.NewFromFloat(10),
		Confirmations: 0,
	}
	require.NoError(t, repo.UpsertEntry(ctx, entry))

	entry.Confirmations = 6
	require.NoError(t, repo.UpsertEntry(ctx, entry))

	entries, err := repo.EntriesForTx(ctx, "deadbeef")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(6), entries[0].Confirmations)
}

func TestRepository_UpsertEntry_SeparateRowsPerAsset(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()

	base := TransactionEntry{
		TxHash:    "multiasset",
		Address:   "EQAddr2",
		EntryType: EntryReceive,
		Amount:    decimal.NewFromFloat(1),
	}
	evr := base
	evr.AssetName = "EVR"
	asset := base
	asset.AssetName = "MYASSET"

	require.NoError(t, repo.UpsertEntry(ctx, evr))
	require.NoError(t, repo.UpsertEntry(ctx, asset))

	entries, err := repo.EntriesForTx(ctx, "multiasset")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRepository_MarkAbandoned(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()

	entry := TransactionEntry{
		TxHash:    "rbf-replaced",
		Address:   "EQAddr3",
		EntryType: EntryReceive,
		AssetName: "EVR",
		Amount:    decimal.NewFromFloat(5),
	}
	require.NoError(t, repo.UpsertEntry(ctx, entry))
	require.NoError(t, repo.MarkAbandoned(ctx, "rbf-replaced"))

	entries, err := repo.EntriesForTx(ctx, "rbf-replaced")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Abandoned)
}

func TestRepository_TrackedAddresses_EmptyByDefault(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	addrs, err := repo.TrackedAddresses(context.Background())
	require.NoError(t, err)
	require.Empty(t, addrs)
}
