package ledger

import (
	"context"

	"evrmarket/apperr"
	"evrmarket/internal/rpc"
	"evrmarket/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ingester turns node notifications into transaction_entries rows. It
// is deliberately node-call-heavy and DB-light: every hard decision
// (pending vs confirmed, self-send splitting) happens in the balance
// trigger, not here. Wallet-relevance (does gettransaction know this
// txid at all) is the node's own filter, since the node only tracks
// addresses it was told to watch via getnewaddress/importaddress.
type Ingester struct {
	rpc  *rpc.Client
	repo *Repository
}

func NewIngester(client *rpc.Client, repo *Repository) *Ingester {
	return &Ingester{rpc: client, repo: repo}
}

// ProcessTransaction implements §4.4a: fetch the wallet's view of txid,
// drop it if the node doesn't know it (not ours), otherwise upsert one
// entry per relevant output/input, skipping addresses we don't actually
// track so an unrelated change output doesn't litter the ledger.
func (ig *Ingester) ProcessTransaction(ctx context.Context, txid string) error {
	tx, err := ig.rpc.GetTransaction(ctx, txid)
	if err != nil {
		if apperr.Is(err, apperr.KindNodeError) {
			logger.Debug("transaction not wallet-relevant, dropping", zap.String("txid", txid))
			return nil
		}
		return err
	}

	tracked, err := ig.repo.TrackedAddresses(ctx)
	if err != nil {
		return err
	}
	trackedSet := make(map[string]bool, len(tracked))
	for _, a := range tracked {
		trackedSet[a] = true
	}

	for _, d := range tx.Details {
		if !trackedSet[d.Address] {
			continue
		}
		entryType := EntryReceive
		amount := decimal.NewFromFloat(d.Amount)
		if d.Category == "send" {
			entryType = EntrySend
			amount = amount.Abs().Neg()
		}
		vout := d.Vout
		entry := TransactionEntry{
			TxHash:            txid,
			Address:           d.Address,
			EntryType:         entryType,
			AssetName:         "EVR",
			Amount:            amount,
			Fee:               decimal.NewFromFloat(tx.Fee).Abs(),
			Confirmations:     tx.Confirmations,
			Time:              &tx.Time,
			Vout:              &vout,
			Trusted:           tx.Trusted,
			BIP125Replaceable: tx.BIP125,
		}
		if err := ig.repo.UpsertEntry(ctx, entry); err != nil {
			return err
		}
	}

	for _, ad := range tx.AssetDetails {
		if !trackedSet[ad.Address] {
			continue
		}
		entryType := EntryReceive
		amount := decimal.NewFromFloat(ad.Amount)
		if ad.Category == "transfer_asset" || ad.Category == "send" {
			entryType = EntrySend
			amount = amount.Abs().Neg()
		}
		vout := ad.Vout
		assetType := ad.AssetType
		message := ad.Message
		entry := TransactionEntry{
			TxHash:            txid,
			Address:           ad.Address,
			EntryType:         entryType,
			AssetName:         ad.AssetName,
			Amount:            amount,
			Confirmations:     tx.Confirmations,
			Time:              &tx.Time,
			AssetType:         &assetType,
			AssetMessage:      &message,
			Vout:              &vout,
			Trusted:           tx.Trusted,
			BIP125Replaceable: tx.BIP125,
		}
		if err := ig.repo.UpsertEntry(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

// ProcessBlock implements §4.4b: record the block header, then add one
// confirmation to every entry that already has at least one (entries
// still at zero are not aged here). This is the only place
// confirmations advance outside of a fresh UpsertEntry sighting, so a
// tracked deposit still reaches min_confirmations even once it falls out
// of the reconciliation sweep's recent-transactions window.
func (ig *Ingester) ProcessBlock(ctx context.Context, blockHash string) error {
	block, err := ig.rpc.GetBlock(ctx, blockHash)
	if err != nil {
		return err
	}
	if err := ig.repo.UpsertBlock(ctx, Block{
		Hash:      block.Hash,
		Height:    block.Height,
		Timestamp: block.Time,
	}); err != nil {
		return err
	}
	return ig.repo.IncrementConfirmations(ctx)
}

// Reconcile re-fetches each of the given transactions from the node and
// re-applies it, the catch-up path for ZMQ notifications
// dropped during a restart or queue backpressure (spec §4.4, reconciliation
// sweep). Cheap because UpsertEntry is idempotent on the composite key.
func (ig *Ingester) Reconcile(ctx context.Context, txids []string) error {
	for _, txid := range txids {
		if err := ig.ProcessTransaction(ctx, txid); err != nil {
			return err
		}
	}
	return nil
}
