package featured

import (
	"context"
	"time"

	"evrmarket/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Worker polls pending featured-listing payments, promotes a listing
// once its payment address shows enough confirmed EVR, expires
// payments that sat unpaid too long, and sweeps listings whose
// featured window has elapsed.
type Worker struct {
	repo *Repository
}

func NewWorker(repo *Repository) *Worker {
	return &Worker{repo: repo}
}

func (w *Worker) RunOnce(ctx context.Context) {
	w.processPendingPayments(ctx)
	w.expireStalePayments(ctx)
	w.cleanupExpiredListings(ctx)
}

func (w *Worker) processPendingPayments(ctx context.Context) {
	pending, err := w.repo.PendingPayments(ctx)
	if err != nil {
		logger.Error("failed to list pending featured payments", zap.Error(err))
		return
	}

	for _, p := range pending {
		received, err := w.repo.ConfirmedReceivedEVR(ctx, p.PaymentAddress)
		if err != nil {
			logger.Error("failed to sum confirmed evr", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}

		receivedDec, errR := decimal.NewFromString(received)
		amountDec, errA := decimal.NewFromString(p.AmountEVR)
		if errR != nil || errA != nil {
			logger.Error("failed to parse featured payment amounts", zap.String("payment_id", p.ID))
			continue
		}
		if receivedDec.LessThan(amountDec) {
			continue
		}

		txHash, found, err := w.repo.MatchingTxHash(ctx, p.PaymentAddress, p.AmountEVR)
		if err != nil {
			logger.Error("failed to match featured payment tx", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}
		if !found {
			logger.Warn("sufficient balance but no matching confirmed tx yet", zap.String("payment_id", p.ID))
			continue
		}

		completed, err := w.repo.MarkCompleted(ctx, p.ID, txHash)
		if err != nil {
			logger.Error("failed to mark featured payment completed", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}

		paidAt := time.Now()
		if completed.PaidAt != nil {
			paidAt = *completed.PaidAt
		}
		expiresAt := paidAt.Add(time.Duration(p.DurationDays) * 24 * time.Hour)
		if err := w.repo.UpsertFeaturedListing(ctx, p.ListingID, p.PaymentAddress, p.PriorityLevel, paidAt, expiresAt); err != nil {
			logger.Error("failed to upsert featured listing", zap.String("listing_id", p.ListingID), zap.Error(err))
			continue
		}
		logger.Info("featured listing payment completed", zap.String("payment_id", p.ID), zap.String("listing_id", p.ListingID))
	}
}

func (w *Worker) expireStalePayments(ctx context.Context) {
	n, err := w.repo.ExpireStalePayments(ctx)
	if err != nil {
		logger.Error("failed to expire stale featured payments", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("expired stale featured payments", zap.Int64("count", n))
	}
}

func (w *Worker) cleanupExpiredListings(ctx context.Context) {
	n, err := w.repo.CleanupExpiredListings(ctx)
	if err != nil {
		logger.Error("failed to clean up expired featured listings", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("cleaned up expired featured listings", zap.Int64("count", n))
	}
}

func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}
