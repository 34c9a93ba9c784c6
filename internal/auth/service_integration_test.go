//go:build integration

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"evrmarket/internal/database"
	"evrmarket/internal/rpc"
	"evrmarket/pkg/logger"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	_ = logger.Init("development")
}

type rpcEnvelope struct {
	Result interface{} `json:"result"`
}

func newFakeNode(t *testing.T, verifyResult bool) *rpc.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "getblockcount":
			_ = json.NewEncoder(w).Encode(rpcEnvelope{Result: 100})
		case "verifymessage":
			_ = json.NewEncoder(w).Encode(rpcEnvelope{Result: verifyResult})
		default:
			_ = json.NewEncoder(w).Encode(rpcEnvelope{Result: nil})
		}
	}))
	t.Cleanup(srv.Close)

	host, port := splitHostPort(t, srv.URL)
	client, err := rpc.New(rpc.Config{Host: host, Port: port, User: "t", Password: "t", Timeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func splitHostPort(t *testing.T, url string) (string, string) {
	t.Helper()
	// url is "http://127.0.0.1:PORT"; rpc.New reassembles host:port itself.
	trimmed := url[len("http://"):]
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == ':' {
			return trimmed[:i], trimmed[i+1:]
		}
	}
	t.Fatalf("could not split host:port from %s", url)
	return "", ""
}

func TestManager_VerifyChallenge_Success(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	client := newFakeNode(t, true)
	mgr := NewManager(repo, client, []byte("test-secret"))

	ctx := context.Background()
	c, err := mgr.CreateChallenge(ctx, "EQbuyer")
	require.NoError(t, err)

	session, err := mgr.VerifyChallenge(ctx, c.ID, "EQbuyer", "deadbeef", "test-agent", "127.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)

	address, err := mgr.VerifySession(ctx, session.Token)
	require.NoError(t, err)
	require.Equal(t, "EQbuyer", address)
}

func TestManager_VerifyChallenge_RejectsBadSignature(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	client := newFakeNode(t, false)
	mgr := NewManager(repo, client, []byte("test-secret"))

	ctx := context.Background()
	c, err := mgr.CreateChallenge(ctx, "EQbuyer")
	require.NoError(t, err)

	_, err = mgr.VerifyChallenge(ctx, c.ID, "EQbuyer", "deadbeef", "", "")
	require.Error(t, err)
}

func TestManager_Logout_RevokesSession(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	repo := NewRepository(db)
	client := newFakeNode(t, true)
	mgr := NewManager(repo, client, []byte("test-secret"))

	ctx := context.Background()
	c, err := mgr.CreateChallenge(ctx, "EQbuyer")
	require.NoError(t, err)
	session, err := mgr.VerifyChallenge(ctx, c.ID, "EQbuyer", "deadbeef", "", "")
	require.NoError(t, err)

	require.NoError(t, mgr.Logout(ctx, session.Token))

	_, err = mgr.VerifySession(ctx, session.Token)
	require.Error(t, err)
}
