package rpc

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/btcutil"
)

// AddressBalance is one entry of getaddressbalance.
type AddressBalance struct {
	Balance  int64 `json:"balance"`
	Received int64 `json:"received"`
}

type addressParams struct {
	Addresses []string `json:"addresses"`
}

func (c *Client) GetAddressBalance(ctx context.Context, addresses []string) (*AddressBalance, error) {
	var bal AddressBalance
	err := c.Call(ctx, "getaddressbalance", []interface{}{addressParams{Addresses: addresses}}, &bal)
	return &bal, err
}

type AddressUTXO struct {
	Address     string `json:"address"`
	TxID        string `json:"txid"`
	OutputIndex int    `json:"outputIndex"`
	Satoshis    int64  `json:"satoshis"`
	AssetName   string `json:"assetName,omitempty"`
}

func (c *Client) GetAddressUTXOs(ctx context.Context, addresses []string, assetName string) ([]AddressUTXO, error) {
	params := map[string]interface{}{"addresses": addresses}
	if assetName != "" {
		params["assetName"] = assetName
	}
	var utxos []AddressUTXO
	err := c.Call(ctx, "getaddressutxos", []interface{}{params}, &utxos)
	return utxos, err
}

type ValidateAddressResult struct {
	IsValid bool `json:"isvalid"`
}

func (c *Client) ValidateAddress(ctx context.Context, address string) (bool, error) {
	var result ValidateAddressResult
	if err := c.Call(ctx, "validateaddress", []interface{}{address}, &result); err != nil {
		return false, err
	}
	return result.IsValid, nil
}

// DecodeAddress performs a local, offline address-shape check (base58check
// decode against the network's version bytes) before ever round-tripping
// to the node — the same decode-first idiom the teacher's wallet package
// used for its own address validation, generalized to Evrmore's params.
func DecodeAddress(address string, params *chaincfg.Params) error {
	_, err := btcutil.DecodeAddress(address, params)
	return err
}
