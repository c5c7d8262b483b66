package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer is the iss claim written into user tokens.
const tokenIssuer = "ukschat"

// ErrInvalidToken is returned when a bearer token fails validation.
var ErrInvalidToken = errors.New("security: invalid token")

// UserClaims carries the authenticated user identity.
type UserClaims struct {
	UserID uint64 `json:"uid"`  // Authenticated user ID.
	Role   string `json:"role"` // Role at issue time.
	jwt.RegisteredClaims
}

// IssueUserToken signs an HS256 token for the user that expires after ttl.
func IssueUserToken(secret string, userID uint64, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("security: empty jwt secret")
	}
	now := time.Now().UTC()
	claims := UserClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("security: sign token: %w", err)
	}
	return signed, nil
}

// ParseUserToken validates a token string and returns its claims.
func ParseUserToken(secret, tokenString string) (*UserClaims, error) {
	if secret == "" || tokenString == "" {
		return nil, ErrInvalidToken
	}
	claims := &UserClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
