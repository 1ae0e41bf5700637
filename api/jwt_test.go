package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	tok, err := IssueToken(testSecret, "crits", "alice", time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := validateJWT(tok, testSecret, "crits")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	_, err = IssueToken(testSecret, "crits", "", time.Hour, time.Now())
	assert.Error(t, err)
}

func TestValidateJWT_Rejects(t *testing.T) {
	now := time.Now()
	expired, err := IssueToken(testSecret, "crits", "alice", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	otherIssuer, err := IssueToken(testSecret, "elsewhere", "alice", time.Hour, now)
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice", Issuer: "crits"})
	noExp, err := noExpiry.SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong issuer": otherIssuer,
		"alg none":     none,
		"no expiry":    noExp,
		"garbage":      "not.a.token",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := validateJWT(tok, testSecret, "crits")
			assert.Error(t, err)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, err := bearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = bearerToken("bearer   xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Bearer ", "Basic dXNlcjpwYXNz"} {
		_, err := bearerToken(h)
		assert.ErrorIs(t, err, ErrMissingToken, h)
	}
}
