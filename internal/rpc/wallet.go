package rpc

import "context"

// AssetDetail is one entry of a gettransaction response's asset_details
// array (Evrmore's extension over Bitcoin-family gettransaction).
type AssetDetail struct {
	AssetName string  `json:"asset_name"`
	Category  string  `json:"category"`
	Amount    float64 `json:"amount"`
	Address   string  `json:"address"`
	Vout      int     `json:"vout"`
	AssetType string  `json:"asset_type,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// WalletTransaction is the node's gettransaction response, trimmed to the
// fields the Monitor's ingest path needs (§4.4a).
type WalletTransaction struct {
	TxID          string        `json:"txid"`
	Confirmations int64         `json:"confirmations"`
	Time          int64         `json:"time"`
	Trusted       bool          `json:"trusted"`
	BIP125        bool          `json:"bip125-replaceable,omitempty"`
	Fee           float64       `json:"fee,omitempty"`
	Details       []TxDetail    `json:"details"`
	AssetDetails  []AssetDetail `json:"asset_details,omitempty"`
}

// TxDetail is one entry of gettransaction's "details" array — a plain-coin
// receive/send line, as opposed to AssetDetail's asset-aware line.
type TxDetail struct {
	Address  string  `json:"address"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
	Vout     int     `json:"vout"`
}

func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	var addr string
	err := c.Call(ctx, "getnewaddress", nil, &addr)
	return addr, err
}

// GetTransaction returns a KindNodeError carrying the node's code (-5)
// when the hash is not a wallet transaction — callers must treat that as
// "drop it", per spec §4.4a step 1.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*WalletTransaction, error) {
	var tx WalletTransaction
	err := c.Call(ctx, "gettransaction", []interface{}{txid}, &tx)
	return &tx, err
}

func (c *Client) SendToAddress(ctx context.Context, address string, amount float64) (string, error) {
	var txid string
	err := c.Call(ctx, "sendtoaddress", []interface{}{address, amount}, &txid)
	return txid, err
}

func (c *Client) SignMessage(ctx context.Context, address, message string) (string, error) {
	var sig string
	err := c.Call(ctx, "signmessage", []interface{}{address, message}, &sig)
	return sig, err
}

func (c *Client) VerifyMessage(ctx context.Context, address, signature, message string) (bool, error) {
	var ok bool
	err := c.Call(ctx, "verifymessage", []interface{}{address, signature, message}, &ok)
	return ok, err
}

func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var balance float64
	err := c.Call(ctx, "getbalance", nil, &balance)
	return balance, err
}

// ListTransactions returns the wallet's most recent count transactions
// across every account, newest last. Used by the reconciliation sweep
// to find a tx the ZMQ feed may have dropped, rather than re-fetching
// every tracked address individually.
func (c *Client) ListTransactions(ctx context.Context, count int) ([]WalletTransaction, error) {
	var txs []WalletTransaction
	err := c.Call(ctx, "listtransactions", []interface{}{"*", count}, &txs)
	return txs, err
}
