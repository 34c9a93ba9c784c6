package rpc

import "context"

// Block is the node's getblock response, trimmed to the fields the
// Monitor needs for block ingest (§4.4b).
type Block struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
	Time   int64  `json:"time"`
}

func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var count int64
	err := c.Call(ctx, "getblockcount", nil, &count)
	return count, err
}

func (c *Client) GetBestBlockHash(ctx context.Context) (string, error) {
	var hash string
	err := c.Call(ctx, "getbestblockhash", nil, &hash)
	return hash, err
}

func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var hash string
	err := c.Call(ctx, "getblockhash", []interface{}{height}, &hash)
	return hash, err
}

func (c *Client) GetBlock(ctx context.Context, hash string) (*Block, error) {
	var block Block
	err := c.Call(ctx, "getblock", []interface{}{hash}, &block)
	return &block, err
}
