// Package auth issues and validates the stateless session tokens carried by
// chatline clients, and hashes the passwords behind them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/chatline/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// TokenValidity is the fixed lifetime of a session token.
const TokenValidity = 7 * 24 * time.Hour

// Claims is the token payload: the standard registered claims plus the
// user identity.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"id"`
	Username string `json:"username"`
}

// TokenService signs and verifies HS256 session tokens with a server-held
// secret. There is no revocation list.
type TokenService struct {
	secretKey []byte
	validity  time.Duration
	now       func() time.Time
}

// NewTokenService returns a TokenService using secretKey and TokenValidity.
func NewTokenService(secretKey string) *TokenService {
	return &TokenService{
		secretKey: []byte(secretKey),
		validity:  TokenValidity,
		now:       time.Now,
	}
}

// WithClock returns a copy of s that reads the current time from now.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	cp := *s
	cp.now = now
	return &cp
}

// Issue returns a signed token for the user.
func (s *TokenService) Issue(userID int64, username string) (string, error) {
	issuedAt := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.validity)),
		},
		UserID:   userID,
		Username: username,
	})

	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return tokenString, nil
}

// Validate parses tokenString and returns its claims. Any failure, whether
// a bad signature, a malformed token, or an expired one, is reported as
// common.ErrInvalidToken.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, common.ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", common.ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == 0 {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
