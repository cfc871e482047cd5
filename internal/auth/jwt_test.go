package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshTokenFromContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	secret := "test-secret"
	accountID := "account-123"

	initialTokenStr, _, err := GenerateToken(accountID, secret, 5*time.Minute)
	assert.NoError(t, err)

	token, err := jwt.Parse(initialTokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	assert.NoError(t, err)
	c.Set("user", token)

	// iat has second resolution
	time.Sleep(1 * time.Second)

	newTokenStr, newExpiresAt, err := RefreshTokenFromContext(c, secret, time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, newTokenStr)

	originalClaims, ok := token.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	origIat := int64(originalClaims["iat"].(float64))

	newToken, err := jwt.Parse(newTokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	assert.NoError(t, err)
	assert.True(t, newToken.Valid)

	newClaims, ok := newToken.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	assert.Equal(t, accountID, newClaims[claimSubject])
	assert.Equal(t, accountID, newClaims[claimAccountID])

	newIat := int64(newClaims["iat"].(float64))
	newExp := int64(newClaims["exp"].(float64))
	assert.Greater(t, newIat, origIat)
	assert.Equal(t, int64(5*60), newExp-newIat)
	assert.Equal(t, newExpiresAt.Unix(), newExp)
}

func TestRefreshTokenFromContext_MissingUser(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_, _, err := RefreshTokenFromContext(c, "test-secret", time.Hour)
	assert.Error(t, err)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	assert.Equal(t, "invalid token", httpErr.Message)
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	signed, _, err := GenerateToken("acct-1", "s3cret", time.Minute)
	require.NoError(t, err)

	id, err := ParseToken(signed, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)

	_, err = ParseToken(signed, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = ParseToken("", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		claimAccountID: "acct-1",
		claimExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})
	raw, err := expired.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseToken(raw, "s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAccountIDFromContext(t *testing.T) {
	t.Parallel()

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set("user", &jwt.Token{Valid: true, Claims: jwt.MapClaims{claimSubject: "acct-9"}})

	id, err := AccountIDFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, "acct-9", id)

	c.Set("user", &jwt.Token{Valid: true, Claims: jwt.MapClaims{}})
	_, err = AccountIDFromContext(c)
	require.Error(t, err)
}

func TestGenerateToken_Validation(t *testing.T) {
	t.Parallel()

	_, _, err := GenerateToken("", "s", time.Minute)
	assert.Error(t, err)
	_, _, err = GenerateToken("a", "", time.Minute)
	assert.Error(t, err)
	_, _, err = GenerateToken("a", "s", 0)
	assert.Error(t, err)
}
