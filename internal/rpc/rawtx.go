package rpc

import "context"

// RawTxInput is one "inputs" entry of createrawtransaction.
type RawTxInput struct {
	TxID string `json:"txid"`
	Vout int    `json:"vout"`
}

// FundOptions configures fundrawtransaction, which lets the node select
// and fee a raw transaction's inputs.
type FundOptions struct {
	ChangeAddress string  `json:"changeAddress,omitempty"`
	FeeRate       float64 `json:"feeRate,omitempty"`
}

type FundRawTransactionResult struct {
	Hex string  `json:"hex"`
	Fee float64 `json:"fee"`
}

type SignRawTransactionResult struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// Unspent is one entry of listunspent, enough to select coin-leg inputs
// for a raw transaction by address.
type Unspent struct {
	TxID          string  `json:"txid"`
	Vout          int     `json:"vout"`
	Address       string  `json:"address"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
	Spendable     bool    `json:"spendable"`
}

// ListUnspent returns spendable outputs for the given addresses (empty
// means every wallet address), at least minConf deep.
func (c *Client) ListUnspent(ctx context.Context, minConf int, addresses []string) ([]Unspent, error) {
	if addresses == nil {
		addresses = []string{}
	}
	var out []Unspent
	err := c.Call(ctx, "listunspent", []interface{}{minConf, 9999999, addresses}, &out)
	return out, err
}

func (c *Client) GetRawTransaction(ctx context.Context, txid string) (*WalletTransaction, error) {
	var tx WalletTransaction
	err := c.Call(ctx, "getrawtransaction", []interface{}{txid, true}, &tx)
	return &tx, err
}

// CreateRawTransaction builds an unsigned transaction spending inputs and
// paying outputs (address -> amount, keyed string to keep JSON ordering
// irrelevant to the node).
func (c *Client) CreateRawTransaction(ctx context.Context, inputs []RawTxInput, outputs map[string]float64) (string, error) {
	var hex string
	err := c.Call(ctx, "createrawtransaction", []interface{}{inputs, outputs}, &hex)
	return hex, err
}

func (c *Client) FundRawTransaction(ctx context.Context, hex string, opts FundOptions) (*FundRawTransactionResult, error) {
	var result FundRawTransactionResult
	err := c.Call(ctx, "fundrawtransaction", []interface{}{hex, opts}, &result)
	return &result, err
}

func (c *Client) SignRawTransaction(ctx context.Context, hex string) (*SignRawTransactionResult, error) {
	var result SignRawTransactionResult
	err := c.Call(ctx, "signrawtransaction", []interface{}{hex}, &result)
	return &result, err
}

func (c *Client) SendRawTransaction(ctx context.Context, hex string) (string, error) {
	var txid string
	err := c.Call(ctx, "sendrawtransaction", []interface{}{hex}, &txid)
	return txid, err
}
