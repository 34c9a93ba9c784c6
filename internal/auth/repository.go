package auth

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

func (r *Repository) CreateChallenge(ctx context.Context, address, challenge string, expiresAt time.Time) (*Challenge, error) {
	var c Challenge
	c.Address = address
	c.Challenge = challenge
	c.ExpiresAt = expiresAt
	err := r.db.QueryRow(ctx, `
		INSERT INTO auth_challenges (address, challenge, expires_at)
		VALUES ($1, $2, $3) RETURNING id, used, created_at`,
		address, challenge, expiresAt,
	).Scan(&c.ID, &c.Used, &c.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "create challenge", err)
	}
	return &c, nil
}

func (r *Repository) GetChallenge(ctx context.Context, id, address string) (*Challenge, error) {
	var c Challenge
	c.ID = id
	c.Address = address
	err := r.db.QueryRow(ctx, `
		SELECT challenge, expires_at, used, created_at FROM auth_challenges
		WHERE id = $1 AND address = $2`, id, address,
	).Scan(&c.Challenge, &c.ExpiresAt, &c.Used, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("challenge not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get challenge", err)
	}
	return &c, nil
}

func (r *Repository) MarkChallengeUsed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE auth_challenges SET used = true WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "mark challenge used", err)
	}
	return nil
}

// RevokeSessionsForAddress revokes every still-active session for an
// address. Called right before a fresh login succeeds, so an address
// never has more than one active session (auth_sessions_one_active_per_address).
func (r *Repository) RevokeSessionsForAddress(ctx context.Context, address string) error {
	_, err := r.db.Exec(ctx, `UPDATE auth_sessions SET revoked = true WHERE address = $1 AND revoked = false`, address)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "revoke sessions for address", err)
	}
	return nil
}

func (r *Repository) CreateSession(ctx context.Context, address, token string, expiresAt time.Time, userAgent, ip *string) (*Session, error) {
	var s Session
	s.Address = address
	s.Token = token
	s.ExpiresAt = expiresAt
	s.UserAgent = userAgent
	s.IP = ip
	err := r.db.QueryRow(ctx, `
		INSERT INTO auth_sessions (address, token, expires_at, user_agent, ip)
		VALUES ($1, $2, $3, $4, $5) RETURNING revoked, created_at`,
		address, token, expiresAt, userAgent, ip,
	).Scan(&s.Revoked, &s.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "create session", err)
	}
	return &s, nil
}

func (r *Repository) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	var s Session
	s.Token = token
	err := r.db.QueryRow(ctx, `
		SELECT address, expires_at, revoked, user_agent, ip, created_at, last_used_at
		FROM auth_sessions WHERE token = $1`, token,
	).Scan(&s.Address, &s.ExpiresAt, &s.Revoked, &s.UserAgent, &s.IP, &s.CreatedAt, &s.LastUsedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("session not found")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseQuery, "get session by token", err)
	}
	return &s, nil
}

func (r *Repository) TouchSession(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `UPDATE auth_sessions SET last_used_at = now() WHERE token = $1`, token)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "touch session", err)
	}
	return nil
}

func (r *Repository) RevokeSession(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `UPDATE auth_sessions SET revoked = true WHERE token = $1`, token)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseQuery, "revoke session", err)
	}
	return nil
}
