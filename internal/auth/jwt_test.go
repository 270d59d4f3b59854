package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestSignVerifyRoundTrip(t *testing.T) {
	token, err := Sign(secret, "user-42", time.Hour)
	require.NoError(t, err)

	userID, err := Verify(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := Sign(secret, "user-42", time.Hour)
	require.NoError(t, err)

	_, err = Verify([]byte("other-secret"), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpired(t *testing.T) {
	token, err := Sign(secret, "user-42", -time.Minute)
	require.NoError(t, err)

	_, err = Verify(secret, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := Verify(secret, "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingSubject(t *testing.T) {
	claims := &jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	_, err = Verify(secret, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	claims := &jwt.RegisteredClaims{Subject: "user-42"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Verify(secret, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
