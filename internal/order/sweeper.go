package order

import (
	"context"
	"time"

	"evrmarket/pkg/logger"

	"go.uber.org/zap"
)

// Sweeper periodically expires unpaid orders and cart orders, freeing
// their reserved balances. Grounded on the original's minute-interval
// expiration monitor; here a single background goroutine runs until
// its context is cancelled.
type Sweeper struct {
	repo     *Repository
	interval time.Duration
}

func NewSweeper(repo *Repository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{repo: repo, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.repo.ExpireUnpaid(ctx)
			if err != nil {
				logger.Error("order expiration sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired unpaid cart orders", zap.Int64("count", n))
			}
		}
	}
}
