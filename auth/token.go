package auth

import (
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/errors"
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chat-hub"

var _ contract.IdentityProvider = (*TokenVerifier)(nil)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 tokens signed with a shared secret.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), now: time.Now}
}

// GenerateToken creates a signed JWT for a specific user.
func (v *TokenVerifier) GenerateToken(userID domain.UserID, duration time.Duration) (string, error) {
	now := v.now()
	claims := &CustomClaims{
		UserID: string(userID),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses and validates the signature, the issuer and the expiration.
func (v *TokenVerifier) Verify(_ context.Context, credential string) (domain.UserID, error) {
	if credential == "" {
		return "", fmt.Errorf("%w: empty token", errors.ErrInvalidCredential)
	}
	token, err := jwt.ParseWithClaims(credential, &CustomClaims{},
		func(token *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidCredential, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidCredential, jwt.ErrSignatureInvalid)
	}
	return domain.UserID(claims.UserID), nil
}
