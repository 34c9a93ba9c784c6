// Package rpc is a typed JSON-RPC client for an Evrmore-family blockchain
// node. It owns the HTTP transport, request-id sequencing, and the
// translation of node error objects into apperr's taxonomy; callers use
// the method families in blockchain.go, wallet.go, rawtx.go, address.go,
// and asset.go rather than this file's Call directly.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"evrmarket/apperr"

	"go.uber.org/zap"
)

// Config carries the connection parameters for a single node.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Timeout  time.Duration
}

// Client is a thread-safe JSON-RPC client. A single instance is shared
// across every subsystem that talks to the node (Monitor, Listing Manager,
// Order Manager, Payout Engine, Auth Core).
type Client struct {
	url     string
	user    string
	pass    string
	http    *http.Client
	nextID  int64
	logger  *zap.Logger
}

// New builds a Client and verifies connectivity with a lightweight call.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		url:    fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port),
		user:   cfg.User,
		pass:   cfg.Password,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}

	if _, err := c.GetBlockCount(context.Background()); err != nil {
		return nil, apperr.Wrap(apperr.KindNodeConnection, "node liveness check failed", err)
	}
	c.logger.Info("connected to node", zap.String("url", c.url))
	return c, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int64           `json:"id"`
}

// Call invokes method with params and decodes the result into out (a
// pointer). Errors are categorized: connection/timeout failures become
// KindNodeConnection, a 401 response becomes KindNodeAuth, and a JSON-RPC
// error object becomes a KindNodeError carrying the node's code.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	id := atomic.AddInt64(&c.nextID, 1)
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: id, Method: method, Params: params})
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "encode rpc request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return apperr.Wrap(apperr.KindNodeConnection, "build rpc request", err)
	}
	req.SetBasicAuth(c.user, c.pass)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindNodeConnection, fmt.Sprintf("rpc call %s", method), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindNodeConnection, "read rpc response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return apperr.New(apperr.KindNodeAuth, "node rejected rpc credentials")
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return apperr.Wrap(apperr.KindNodeConnection, "decode rpc envelope", err)
	}

	c.logger.Debug("rpc call", zap.String("method", method), zap.Int64("id", id), zap.Duration("duration", time.Since(start)))

	if rpcResp.Error != nil {
		return apperr.NodeErr(rpcResp.Error.Code, method, rpcResp.Error.Message)
	}

	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return apperr.Wrap(apperr.KindNodeConnection, "decode rpc result", err)
		}
	}
	return nil
}

// Node error codes, normalized from the JSON-RPC error object's "code"
// field into named constants for callers that branch on specific
// failures (e.g. asset-not-found vs. a generic error).
const (
	ErrGeneral             = -1
	ErrAssetNotFound       = -3
	ErrOutOfMemory         = -4
	ErrInvalidParameter    = -5
	ErrInvalidCombo        = -8
	ErrInvalidAddressOrKey = -20
	ErrJSONParse           = -22
	ErrTxProcessing        = -25
	ErrDuplicateInChain    = -26
	ErrDuplicateInMempool  = -27
)
