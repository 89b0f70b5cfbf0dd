package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

type Claims struct {
	UserID uint64 `json:"uid"`
	Email  string `json:"email,omitempty"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// SignJWT issues an HS256 access token for userID.
func SignJWT(userID uint64, email, secret string, ttl time.Duration) (string, error) {
	return sign(userID, email, TokenAccess, secret, ttl)
}

// SignRefresh issues a refresh token. It is only accepted by ParseRefresh.
func SignRefresh(userID uint64, email, secret string, ttl time.Duration) (string, error) {
	return sign(userID, email, TokenRefresh, secret, ttl)
}

func sign(userID uint64, email, typ, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseJWT validates an access token: signature, algorithm, expiry and type.
func ParseJWT(tokenStr, secret string) (*Claims, error) {
	return parse(tokenStr, secret, TokenAccess)
}

func ParseRefresh(tokenStr, secret string) (*Claims, error) {
	return parse(tokenStr, secret, TokenRefresh)
}

func parse(tokenStr, secret, typ string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.UserID == 0 || claims.Type != typ {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
