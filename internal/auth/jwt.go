// Package auth issues and checks the account tokens used by operators.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject   = "sub"
	claimAccountID = "account_id"
	claimIssuedAt  = "iat"
	claimExpiresAt = "exp"
)

// ErrInvalidToken is returned by ParseToken for any unusable token.
var ErrInvalidToken = errors.New("invalid token")

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// AccountIDFromContext extracts the account id from JWT claims.
func AccountIDFromContext(c echo.Context) (string, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	if id := accountID(claims); id != "" {
		return id, nil
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, "account id missing")
}

// ParseToken validates a raw token outside the echo middleware chain and
// returns its account id.
func ParseToken(raw, secret string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.TrimSpace(secret) == "" {
		return "", ErrInvalidToken
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	id := accountID(claims)
	if id == "" {
		return "", ErrInvalidToken
	}
	return id, nil
}

// GenerateToken creates a signed JWT for the account.
func GenerateToken(accountID, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject:   accountID,
		claimAccountID: accountID,
		claimIssuedAt:  now.Unix(),
		claimExpiresAt: expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RefreshTokenFromContext issues a fresh token for the caller, keeping the
// lifetime of the presented token. fallback is used when that lifetime cannot
// be derived.
func RefreshTokenFromContext(c echo.Context, secret string, fallback time.Duration) (string, time.Time, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return "", time.Time{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", time.Time{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	id := accountID(claims)
	if id == "" {
		return "", time.Time{}, echo.NewHTTPError(http.StatusUnauthorized, "account id missing")
	}
	lifetime := fallback
	iat, errIat := claims.GetIssuedAt()
	exp, errExp := claims.GetExpirationTime()
	if errIat == nil && errExp == nil && iat != nil && exp != nil {
		if d := exp.Sub(iat.Time); d > 0 {
			lifetime = d
		}
	}
	return GenerateToken(id, secret, lifetime)
}

func accountID(claims jwt.MapClaims) string {
	if id := claimString(claims, claimAccountID); id != "" {
		return id
	}
	return claimString(claims, claimSubject)
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
