//go:build integration

package auth

import (
	"context"
	"testing"
	"time"

	"evrmarket/internal/database"

	"github.com/stretchr/testify/require"
)

func TestRepository_CreateAndGetChallenge(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()

	c, err := repo.CreateChallenge(ctx, "EQbuyer", "nonce-abc", time.Now().Add(ChallengeExpiry))
	require.NoError(t, err)
	require.False(t, c.Used)

	got, err := repo.GetChallenge(ctx, c.ID, "EQbuyer")
	require.NoError(t, err)
	require.Equal(t, "nonce-abc", got.Challenge)

	require.NoError(t, repo.MarkChallengeUsed(ctx, c.ID))
	got2, err := repo.GetChallenge(ctx, c.ID, "EQbuyer")
	require.NoError(t, err)
	require.True(t, got2.Used)
}

func TestRepository_RevokeSessionsForAddress_OnlyAffectsThatAddress(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()

	expiresAt := time.Now().Add(SessionExpiry)
	s1, err := repo.CreateSession(ctx, "EQa", "token-a", expiresAt, nil, nil)
	require.NoError(t, err)
	require.False(t, s1.Revoked)

	_, err = repo.CreateSession(ctx, "EQb", "token-b", expiresAt, nil, nil)
	require.NoError(t, err)

	require.NoError(t, repo.RevokeSessionsForAddress(ctx, "EQa"))

	got, err := repo.GetSessionByToken(ctx, "token-a")
	require.NoError(t, err)
	require.True(t, got.Revoked)

	other, err := repo.GetSessionByToken(ctx, "token-b")
	require.NoError(t, err)
	require.False(t, other.Revoked)
}

func TestRepository_GetSessionByToken_NotFound(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	_, err := repo.GetSessionByToken(context.Background(), "nonexistent")
	require.Error(t, err)
}
