package auth

import (
	"chat-hub/errors"
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifier_Roundtrip(t *testing.T) {
	req := require.New(t)
	verifier := NewTokenVerifier("a_long_enough_secret_for_tests")

	token, err := verifier.GenerateToken("alice", time.Hour)
	req.NoError(err)

	userID, err := verifier.Verify(context.Background(), token)
	req.NoError(err)
	req.Equal("alice", string(userID))
}

func TestTokenVerifier_Rejects(t *testing.T) {
	req := require.New(t)
	verifier := NewTokenVerifier("a_long_enough_secret_for_tests")
	other := NewTokenVerifier("another_secret")

	expired := NewTokenVerifier("a_long_enough_secret_for_tests")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.GenerateToken("alice", time.Hour)
	req.NoError(err)

	forged, err := other.GenerateToken("alice", time.Hour)
	req.NoError(err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &CustomClaims{UserID: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	req.NoError(err)

	tests := []struct {
		name  string
		token string
	}{
		{"Empty", ""},
		{"Garbage", "not-a-jwt"},
		{"Expired", expiredToken},
		{"Wrong secret", forged},
		{"Unsigned", noneToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tt.token)
			require.ErrorIs(t, err, errors.ErrInvalidCredential)
		})
	}
}
