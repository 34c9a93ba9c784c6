package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"evrmarket/apperr"

	"golang.org/x/crypto/blake2b"
)

// TokenSigner mints and verifies session tokens: base64url(payload) +
// "." + base64url(mac), where payload is "address|expiry_unix|nonce"
// and mac is a keyed BLAKE2b-256 hash of the payload under a per-process
// secret. Nothing outside this process ever needs to read the token, so
// there's no need for a standard claims format.
type TokenSigner struct {
	secret []byte
}

func NewTokenSigner(secret []byte) *TokenSigner {
	return &TokenSigner{secret: secret}
}

func (s *TokenSigner) Sign(address string, expiresAt time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", apperr.Wrap(apperr.KindConfig, "generate token nonce", err)
	}
	payload := fmt.Sprintf("%s|%d|%s", address, expiresAt.Unix(), hex.EncodeToString(nonce))
	mac, err := s.mac(payload)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify checks the MAC and expiry and returns the token's address.
// It does not consult the database — callers still need to check the
// auth_sessions row for revocation.
func (s *TokenSigner) Verify(token string) (address string, expiresAt time.Time, err error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", time.Time{}, apperr.New(apperr.KindInvalidSignature, "malformed token")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", time.Time{}, apperr.New(apperr.KindInvalidSignature, "malformed token payload")
	}
	givenMAC, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", time.Time{}, apperr.New(apperr.KindInvalidSignature, "malformed token mac")
	}

	wantMAC, err := s.mac(string(payloadBytes))
	if err != nil {
		return "", time.Time{}, err
	}
	if !hmac.Equal(givenMAC, wantMAC) {
		return "", time.Time{}, apperr.New(apperr.KindInvalidSignature, "token mac mismatch")
	}

	fields := strings.SplitN(string(payloadBytes), "|", 3)
	if len(fields) != 3 {
		return "", time.Time{}, apperr.New(apperr.KindInvalidSignature, "malformed token fields")
	}
	expUnix, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", time.Time{}, apperr.New(apperr.KindInvalidSignature, "malformed token expiry")
	}
	expiresAt = time.Unix(expUnix, 0)
	if time.Now().After(expiresAt) {
		return "", time.Time{}, apperr.New(apperr.KindSessionExpired, "session token expired")
	}
	return fields[0], expiresAt, nil
}

func (s *TokenSigner) mac(payload string) ([]byte, error) {
	h, err := blake2b.New256(s.secret)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "init blake2b mac", err)
	}
	h.Write([]byte(payload))
	return h.Sum(nil), nil
}
