package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "legisla/pkg/domain-errors"
)

const (
	testKey      = "test-signing-key"
	testIssuer   = "test-issuer"
	testAudience = "test-audience"
)

var jwtService = NewJWTService(testKey, testIssuer, testAudience)

func signToken(t *testing.T, key string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func validClaims(subject string, expiresIn time.Duration) Claims {
	return Claims{
		Role: "legislator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			Audience:  []string{testAudience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
}

func Test_ValidateToken_ValidToken(t *testing.T) {
	member := uuid.NewString()
	token := signToken(t, testKey, validClaims(member, time.Hour))

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, member, claims.Subject)
	assert.Equal(t, "legislator", claims.Role)

	adapted, err := NewJWTServiceAdapter(jwtService).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, member, adapted.MemberID)
	assert.Equal(t, "legislator", adapted.Role)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token := signToken(t, testKey, validClaims(uuid.NewString(), -time.Hour))

	_, err := jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, "token has expired", dErrors.MessageOf(err))
}

func Test_ValidateToken_WrongKeyOrAudience(t *testing.T) {
	_, err := jwtService.ValidateToken(signToken(t, "other-key", validClaims(uuid.NewString(), time.Hour)))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	claims := validClaims(uuid.NewString(), time.Hour)
	claims.Audience = []string{"someone-else"}
	_, err = jwtService.ValidateToken(signToken(t, testKey, claims))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_RequiresSubject(t *testing.T) {
	_, err := jwtService.ValidateToken(signToken(t, testKey, validClaims("", time.Hour)))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
