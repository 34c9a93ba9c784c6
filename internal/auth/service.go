package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"evrmarket/apperr"
	"evrmarket/internal/rpc"
)

// Manager drives the challenge/response login flow: mint a challenge,
// verify its signature against the node, issue a session token, and
// check that token on later requests.
type Manager struct {
	repo   *Repository
	rpc    *rpc.Client
	signer *TokenSigner
}

func NewManager(repo *Repository, client *rpc.Client, tokenSecret []byte) *Manager {
	return &Manager{repo: repo, rpc: client, signer: NewTokenSigner(tokenSecret)}
}

// CreateChallenge mints a random nonce for the address to sign with its
// private key, proving ownership of the address without ever handling
// the key itself.
func (m *Manager) CreateChallenge(ctx context.Context, address string) (*Challenge, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "generate challenge nonce", err)
	}
	challengeText := "evrmarket-login:" + hex.EncodeToString(nonce)
	return m.repo.CreateChallenge(ctx, address, challengeText, time.Now().Add(ChallengeExpiry))
}

// VerifyChallenge checks the signature over the challenge text via the
// node's verifymessage RPC, consumes the challenge, revokes any prior
// session for the address, and issues a new one.
func (m *Manager) VerifyChallenge(ctx context.Context, challengeID, address, signature, userAgent, ip string) (*Session, error) {
	c, err := m.repo.GetChallenge(ctx, challengeID, address)
	if err != nil {
		return nil, err
	}
	if c.Used {
		return nil, apperr.New(apperr.KindChallengeUsed, "challenge already used")
	}
	if time.Now().After(c.ExpiresAt) {
		return nil, apperr.New(apperr.KindChallengeExpired, "challenge expired")
	}

	ok, err := m.rpc.VerifyMessage(ctx, address, signature, c.Challenge)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNodeError, "verifymessage", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindInvalidSignature, "signature does not match address")
	}

	if err := m.repo.MarkChallengeUsed(ctx, c.ID); err != nil {
		return nil, err
	}
	if err := m.repo.RevokeSessionsForAddress(ctx, address); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(SessionExpiry)
	token, err := m.signer.Sign(address, expiresAt)
	if err != nil {
		return nil, err
	}

	var uaPtr, ipPtr *string
	if userAgent != "" {
		uaPtr = &userAgent
	}
	if ip != "" {
		ipPtr = &ip
	}
	return m.repo.CreateSession(ctx, address, token, expiresAt, uaPtr, ipPtr)
}

// VerifySession validates a bearer token and confirms the backing
// session is still live, returning the address it authenticates.
func (m *Manager) VerifySession(ctx context.Context, token string) (string, error) {
	address, _, err := m.signer.Verify(token)
	if err != nil {
		return "", err
	}

	s, err := m.repo.GetSessionByToken(ctx, token)
	if err != nil {
		return "", err
	}
	if s.Revoked {
		return "", apperr.New(apperr.KindSessionExpired, "session revoked")
	}
	if time.Now().After(s.ExpiresAt) {
		return "", apperr.New(apperr.KindSessionExpired, "session expired")
	}
	if s.Address != address {
		return "", apperr.New(apperr.KindInvalidSignature, "token address mismatch")
	}

	_ = m.repo.TouchSession(ctx, token)
	return address, nil
}

func (m *Manager) Logout(ctx context.Context, token string) error {
	return m.repo.RevokeSession(ctx, token)
}
