// Package auth implements the Auth Core (spec §4.8): challenge/response
// login via the node's own signmessage/verifymessage RPCs, and session
// tokens good for one active session per address. There is no JWT
// library anywhere in the retrieval pack, so sessions use a keyed
// BLAKE2b MAC instead of JWT/HS256 — the token is only ever decoded by
// this same process, so a bespoke format costs nothing in
// interoperability and avoids an unwired dependency.
package auth

import "time"

const (
	ChallengeExpiry = 5 * time.Minute
	SessionExpiry   = 30 * 24 * time.Hour
)

type Challenge struct {
	ID        string
	Address   string
	Challenge string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

type Session struct {
	Address    string
	Token      string
	ExpiresAt  time.Time
	Revoked    bool
	UserAgent  *string
	IP         *string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
