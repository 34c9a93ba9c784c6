package featured

import (
	"context"
	"time"

	"evrmarket/apperr"
	"evrmarket/internal/database"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db.Pool()}
}

func (r *Repository) CreatePayment(ctx context.Context, listingID, paymentAddress, amountEVR string, durationDays, priorityLevel int) (*Payment, error) {
	var p Payment
	p.ListingID = listingID
	p.PaymentAddress = paymentAddress
	p.AmountEVR = amountEVR
	p.DurationDays = durationDays
	p.PriorityLevel = priorityLevel
	err := r.db.QueryRow(ctx, `
		INSERT INTO featured_listing_payments (listing_id, payment_address, amount_evr, duration_days, priority_level)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, status, created_at`,
		listingID, paymentAddress, amountEVR, durationDays, priorityLevel,
	).Scan(&p.ID, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "create featured payment", err)
	}
	return &p, nil
}

func (r *Repository) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	p.ID = id
	err := r.db.QueryRow(ctx, `
		SELECT listing_id, payment_address, amount_evr::text, duration_days, priority_level, status, tx_hash, paid_at, created_at
		FROM featured_listing_payments WHERE id = $1`, id,
	).Scan(&p.ListingID, &p.PaymentAddress, &p.AmountEVR, &p.DurationDays, &p.PriorityLevel, &p.Status, &p.TxHash, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("featured payment not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get featured payment", err)
	}
	return &p, nil
}

// PendingPayments returns payments still inside their payment window.
func (r *Repository) PendingPayments(ctx context.Context) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, listing_id, payment_address, amount_evr::text, duration_days, priority_level, status, created_at
		FROM featured_listing_payments
		WHERE status = 'pending' AND created_at > now() - interval '24 hours'`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "list pending featured payments", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ListingID, &p.PaymentAddress, &p.AmountEVR, &p.DurationDays, &p.PriorityLevel, &p.Status, &p.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan pending featured payment", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ConfirmedReceivedEVR sums the confirmed receive entries posted to
// address for the native coin, the same balance internal/ledger's
// triggers maintain for listings and orders.
func (r *Repository) ConfirmedReceivedEVR(ctx context.Context, address string) (string, error) {
	var total string
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM transaction_entries
		WHERE address = $1 AND asset_name = 'EVR' AND entry_type = 'receive'
		AND abandoned = false AND confirmed_applied = true`, address,
	).Scan(&total)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDatabaseQuery, "sum confirmed received evr", err)
	}
	return total, nil
}

// MatchingTxHash finds the confirmed receive entry for address whose
// amount matches target, if any.
func (r *Repository) MatchingTxHash(ctx context.Context, address, amountEVR string) (string, bool, error) {
	var txHash string
	err := r.db.QueryRow(ctx, `
		SELECT tx_hash FROM transaction_entries
		WHERE address = $1 AND asset_name = 'EVR' AND entry_type = 'receive'
		AND abandoned = false AND confirmed_applied = true AND amount = $2
		ORDER BY updated_at DESC LIMIT 1`, address, amountEVR,
	).Scan(&txHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, apperr.Wrap(apperr.KindDatabaseQuery, "find matching featured payment tx", err)
	}
	return txHash, true, nil
}

func (r *Repository) MarkCompleted(ctx context.Context, paymentID, txHash string) (*Payment, error) {
	var p Payment
	p.ID = paymentID
	err := r.db.QueryRow(ctx, `
		UPDATE featured_listing_payments SET status = 'completed', tx_hash = $2, paid_at = now()
		WHERE id = $1 AND status = 'pending' RETURNING paid_at`, paymentID, txHash,
	).Scan(&p.PaidAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("pending featured payment not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "mark featured payment completed", err)
	}
	return &p, nil
}

func (r *Repository) ExpireStalePayments(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE featured_listing_payments SET status = 'expired'
		WHERE status = 'pending' AND created_at < now() - interval '24 hours'`)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabaseQuery, "expire stale featured payments", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) UpsertFeaturedListing(ctx context.Context, listingID, featuredBy string, priority int, featuredAt, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO featured_listings (listing_id, featured_at, featured_by, priority, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (listing_id) DO UPDATE SET
			featured_at = EXCLUDED.featured_at,
			featured_by = EXCLUDED.featured_by,
			priority = EXCLUDED.priority,
			expires_at = EXCLUDED.expires_at`,
		listingID, featuredAt, featuredBy, priority, expiresAt)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "upsert featured listing", err)
	}
	return nil
}

func (r *Repository) CleanupExpiredListings(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM featured_listings WHERE expires_at < now()`)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabaseQuery, "cleanup expired featured listings", err)
	}
	return tag.RowsAffected(), nil
}

// ActiveListings returns currently-featured listing ids ordered by
// priority, highest first, for surfacing in search/browse results.
func (r *Repository) ActiveListings(ctx context.Context) ([]Listing, error) {
	rows, err := r.db.Query(ctx, `
		SELECT listing_id, featured_at, featured_by, priority, expires_at
		FROM featured_listings WHERE expires_at >= now() ORDER BY priority DESC, featured_at ASC`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "list active featured listings", err)
	}
	defer rows.Close()
	var out []Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ListingID, &l.FeaturedAt, &l.FeaturedBy, &l.Priority, &l.ExpiresAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseQuery, "scan active featured listing", err)
		}
		out = append(out, l)
	}
	return out, nil
}
