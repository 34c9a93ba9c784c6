package auth

import (
	"testing"
	"time"

	"evrmarket/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSigner_SignAndVerify(t *testing.T) {
	s := NewTokenSigner([]byte("test-secret"))
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)

	token, err := s.Sign("EQbuyer", expiresAt)
	require.NoError(t, err)

	address, exp, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "EQbuyer", address)
	assert.Equal(t, expiresAt.Unix(), exp.Unix())
}

func TestTokenSigner_RejectsTamperedToken(t *testing.T) {
	s := NewTokenSigner([]byte("test-secret"))
	token, err := s.Sign("EQbuyer", time.Now().Add(time.Hour))
	require.NoError(t, err)

	tampered := token + "x"
	_, _, err = s.Verify(tampered)
	require.Error(t, err)
}

func TestTokenSigner_RejectsWrongSecret(t *testing.T) {
	a := NewTokenSigner([]byte("secret-a"))
	b := NewTokenSigner([]byte("secret-b"))

	token, err := a.Sign("EQbuyer", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, _, err = b.Verify(token)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidSignature))
}

func TestTokenSigner_RejectsExpiredToken(t *testing.T) {
	s := NewTokenSigner([]byte("test-secret"))
	token, err := s.Sign("EQbuyer", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, _, err = s.Verify(token)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindSessionExpired))
}

func TestTokenSigner_RejectsMalformedToken(t *testing.T) {
	s := NewTokenSigner([]byte("test-secret"))
	_, _, err := s.Verify("not-a-valid-token")
	require.Error(t, err)
}
