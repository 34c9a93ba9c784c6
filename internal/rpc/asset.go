package rpc

import "context"

type AssetData struct {
	Name        string `json:"name"`
	Amount      float64 `json:"amount"`
	Units       int    `json:"units"`
	Reissuable  bool   `json:"reissuable"`
	HasIPFS     bool   `json:"has_ipfs"`
	IPFSHash    string `json:"ipfs_hash,omitempty"`
}

// TransferAsset sends amount of asset to to, optionally with a message
// and expiration (IPFS/GNP message-asset extension), spending from
// whichever wallet address the node chooses.
func (c *Client) TransferAsset(ctx context.Context, asset string, amount float64, to string, message string, expire int64) (string, error) {
	params := []interface{}{asset, amount, to}
	if message != "" || expire != 0 {
		params = append(params, message, expire)
	}
	var txid string
	err := c.Call(ctx, "transfer", params, &txid)
	return txid, err
}

// TransferFromAddress sends amount of asset from a specific source address
// to toAddr, with change of both the asset and EVR returned to fromAddr —
// the primitive the Payout Engine uses to move inventory out of listing
// custody (spec §4.7 step 2).
func (c *Client) TransferFromAddress(ctx context.Context, asset string, fromAddr string, amount float64, toAddr string, message string, expire int64, changeEvr, changeAsset string) (string, error) {
	params := []interface{}{asset, fromAddr, amount, toAddr, message, expire, changeEvr, changeAsset}
	var txid string
	err := c.Call(ctx, "transferfromaddress", params, &txid)
	return txid, err
}

func (c *Client) GetAssetData(ctx context.Context, name string) (*AssetData, error) {
	var data AssetData
	err := c.Call(ctx, "getassetdata", []interface{}{name}, &data)
	return &data, err
}

type AssetBalance struct {
	AssetName string  `json:"assetName"`
	Balance   float64 `json:"balance"`
}

func (c *Client) ListAssetBalancesByAddress(ctx context.Context, address string) (map[string]float64, error) {
	var balances map[string]float64
	err := c.Call(ctx, "listassetbalancesbyaddress", []interface{}{address}, &balances)
	return balances, err
}

func (c *Client) Uptime(ctx context.Context) (int64, error) {
	var uptime int64
	err := c.Call(ctx, "uptime", nil, &uptime)
	return uptime, err
}
