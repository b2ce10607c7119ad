package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "tablestore"

// TokenIssuer signs and verifies bearer tokens: HS256 JWTs whose subject is
// the account id.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenIssuer uses secret as the signing key, or a random key when it is
// empty (tokens then die with the process).
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate token key: %w", err)
		}
	}
	return &TokenIssuer{key: key, ttl: ttl, now: time.Now}, nil
}

func (ti *TokenIssuer) Issue(accountID string) (string, time.Time, error) {
	now := ti.now()
	exp := now.Add(ti.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   accountID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// Parse verifies the token and returns the account id and expiry.
func (ti *TokenIssuer) Parse(tokenStr string) (string, time.Time, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return ti.key, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return "", time.Time{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return "", time.Time{}, jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, claims.ExpiresAt.Time, nil
}
