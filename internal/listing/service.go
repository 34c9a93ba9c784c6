package listing

import (
	"context"
	"fmt"
	"time"

	"evrmarket/apperr"
	"evrmarket/internal/ledger"
	"evrmarket/internal/rpc"
	"evrmarket/pkg/cache"
	"evrmarket/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	withdrawLockPrefix     = "listing:withdraw:"
	withdrawLockTTL        = 10 * time.Second
	defaultMinConfirmations = 6
)

// Manager implements the Listing Manager (spec §4.5): creation, price
// and status management, and the withdraw flow's balance bookkeeping.
// The balance trigger (migrations/000007) is solely responsible for
// moving pending deposits to confirmed; Manager writes balances
// directly only around a withdrawal, HandleNewDeposit's pending bump,
// and an operator-triggered rescan.
type Manager struct {
	repo       *Repository
	ledgerRepo *ledger.Repository
	rpc        *rpc.Client

	minConfirmations int64
}

func NewManager(repo *Repository, ledgerRepo *ledger.Repository, client *rpc.Client, minConfirmations int) *Manager {
	if minConfirmations <= 0 {
		minConfirmations = defaultMinConfirmations
	}
	return &Manager{repo: repo, ledgerRepo: ledgerRepo, rpc: client, minConfirmations: int64(minConfirmations)}
}

type PriceSpec struct {
	AssetName        string
	PriceEVR         *decimal.Decimal
	PriceAssetName   *string
	PriceAssetAmount *decimal.Decimal
	Units            int
}

func (m *Manager) CreateListing(ctx context.Context, sellerAddress, name string, description, imageIPFSHash *string, tags []string, prices []PriceSpec) (*Listing, error) {
	listingAddr, err := m.rpc.GetNewAddress(ctx)
	if err != nil {
		return nil, err
	}
	depositAddr, err := m.rpc.GetNewAddress(ctx)
	if err != nil {
		return nil, err
	}

	l := &Listing{
		SellerAddress:  sellerAddress,
		ListingAddress: listingAddr,
		DepositAddress: depositAddr,
		Name:           name,
		Description:    description,
		ImageIPFSHash:  imageIPFSHash,
		Tags:           tags,
	}
	if err := m.repo.Create(ctx, l); err != nil {
		return nil, err
	}

	for _, p := range prices {
		if err := m.validatePrice(p); err != nil {
			return nil, err
		}
		units := p.Units
		if units == 0 {
			units = 8
		}
		if err := m.repo.AddPrice(ctx, Price{
			ListingID:        l.ID,
			AssetName:        p.AssetName,
			PriceEVR:         p.PriceEVR,
			PriceAssetName:   p.PriceAssetName,
			PriceAssetAmount: p.PriceAssetAmount,
			Units:            units,
		}); err != nil {
			return nil, err
		}
		if err := m.repo.EnsureBalanceRow(ctx, l.ID, p.AssetName); err != nil {
			return nil, err
		}
	}

	return m.repo.Get(ctx, l.ID)
}

func (m *Manager) validatePrice(p PriceSpec) error {
	if p.AssetName == "" {
		return apperr.Validation("asset_name is required")
	}
	if p.PriceEVR == nil && (p.PriceAssetName == nil || p.PriceAssetAmount == nil) {
		return apperr.Validation("price must specify either price_evr or a price_asset_name/price_asset_amount pair")
	}
	return nil
}

func (m *Manager) GetListing(ctx context.Context, id string) (*Listing, error) {
	return m.repo.Get(ctx, id)
}

func (m *Manager) GetByDepositAddress(ctx context.Context, address string) (*Listing, error) {
	return m.repo.GetByDepositAddress(ctx, address)
}

func (m *Manager) GetBySeller(ctx context.Context, sellerAddress string) ([]Listing, error) {
	return m.repo.GetBySeller(ctx, sellerAddress)
}

func (m *Manager) Search(ctx context.Context, params SearchParams, limit, offset int) ([]Listing, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	return m.repo.Search(ctx, params, limit, offset)
}

// UpdatePrices replaces or adds the given per-asset price rows on a
// listing (spec §4.5 update_prices).
func (m *Manager) UpdatePrices(ctx context.Context, listingID string, prices []PriceSpec) (*Listing, error) {
	rows := make([]Price, 0, len(prices))
	for _, p := range prices {
		if err := m.validatePrice(p); err != nil {
			return nil, err
		}
		units := p.Units
		if units == 0 {
			units = 8
		}
		rows = append(rows, Price{
			AssetName:        p.AssetName,
			PriceEVR:         p.PriceEVR,
			PriceAssetName:   p.PriceAssetName,
			PriceAssetAmount: p.PriceAssetAmount,
			Units:            units,
		})
	}
	if err := m.repo.UpdatePrices(ctx, listingID, rows); err != nil {
		return nil, err
	}
	return m.repo.Get(ctx, listingID)
}

// Pause flips an active listing to paused; a listing already paused is
// left alone (spec §4.5: "no-op if already in the target").
func (m *Manager) Pause(ctx context.Context, listingID string) (*Listing, error) {
	l, err := m.repo.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.Status == StatusPaused {
		return l, nil
	}
	return m.SetStatus(ctx, listingID, StatusPaused)
}

// Resume is Pause's inverse: a listing already active is a no-op.
func (m *Manager) Resume(ctx context.Context, listingID string) (*Listing, error) {
	l, err := m.repo.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.Status == StatusActive {
		return l, nil
	}
	return m.SetStatus(ctx, listingID, StatusActive)
}

// HandleNewDeposit is the monitor's entry point when it sees a deposit
// land on a listing's deposit_address for an asset with no balance row
// yet (spec §4.5 handle_new_deposit).
func (m *Manager) HandleNewDeposit(ctx context.Context, depositAddress, assetName string, amount decimal.Decimal) error {
	l, err := m.repo.GetByDepositAddress(ctx, depositAddress)
	if err != nil {
		return err
	}
	return m.repo.HandleNewDeposit(ctx, l.ID, assetName, amount)
}

// Rescan recomputes a listing's balances directly from transaction_entries,
// operator tooling for when the trigger-maintained balance is suspected
// to have drifted (spec §4.5 rescan).
func (m *Manager) Rescan(ctx context.Context, listingID string) (*Listing, error) {
	if err := m.repo.RescanBalances(ctx, listingID, m.minConfirmations); err != nil {
		return nil, err
	}
	return m.repo.Get(ctx, listingID)
}

func (m *Manager) Update(ctx context.Context, listingID string, fields map[string]any) (*Listing, error) {
	if err := m.repo.UpdateFields(ctx, listingID, fields); err != nil {
		return nil, err
	}
	return m.repo.Get(ctx, listingID)
}

func (m *Manager) SetStatus(ctx context.Context, listingID string, status Status) (*Listing, error) {
	return m.Update(ctx, listingID, map[string]any{"status": string(status)})
}

func (m *Manager) Delete(ctx context.Context, listingID string) error {
	return m.repo.Delete(ctx, listingID)
}

// Withdraw moves a seller's confirmed balance off-platform: deduct
// first, attempt the transfer, and restore the balance if the node
// rejects it. A per-listing Redis lock prevents two concurrent
// withdraw requests from both passing the balance check before either
// deducts (spec §4.5 concurrency note).
func (m *Manager) Withdraw(ctx context.Context, listingID, assetName string, amount decimal.Decimal, toAddress string) (string, error) {
	lockKey := withdrawLockPrefix + listingID
	acquired, err := cache.SetNX(ctx, lockKey, "1", withdrawLockTTL)
	if err != nil {
		logger.Warn("withdraw lock check failed, proceeding without lock", zap.Error(err))
	} else if !acquired {
		return "", apperr.New(apperr.KindValidation, "a withdrawal for this listing is already in progress")
	}
	if acquired {
		defer cache.Delete(ctx, lockKey)
	}

	l, err := m.repo.Get(ctx, listingID)
	if err != nil {
		return "", err
	}

	if err := m.repo.DeductConfirmedBalance(ctx, listingID, assetName, amount); err != nil {
		return "", err
	}

	amountF, _ := amount.Float64()
	var txid string
	var sendErr error
	if assetName == "EVR" {
		txid, sendErr = m.rpc.SendToAddress(ctx, toAddress, amountF)
	} else {
		txid, sendErr = m.rpc.TransferFromAddress(ctx, assetName, l.DepositAddress, amountF, toAddress, "", 0, l.DepositAddress, l.DepositAddress)
	}
	if sendErr != nil {
		if err := m.repo.RestoreConfirmedBalance(ctx, listingID, assetName, amount); err != nil {
			logger.Error("failed to restore listing balance after failed withdraw",
				zap.String("listing_id", listingID), zap.String("asset", assetName), zap.Error(err))
		}
		return "", fmt.Errorf("withdraw broadcast failed: %w", sendErr)
	}

	if err := m.ledgerRepo.UpsertEntry(ctx, ledger.TransactionEntry{
		TxHash:    txid,
		Address:   l.DepositAddress,
		EntryType: ledger.EntryWithdraw,
		AssetName: assetName,
		Amount:    amount.Neg(),
		Fee:       decimal.Zero,
		Trusted:   true,
	}); err != nil {
		logger.Error("failed to record withdraw ledger entry",
			zap.String("listing_id", listingID), zap.String("tx_hash", txid), zap.Error(err))
	}
	return txid, nil
}
