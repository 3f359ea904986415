package aibridge

import (
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatorBuildProducesVerifiableJWT(t *testing.T) {
	a := NewAuthenticator([]byte("jwt-secret"), []byte("hmac-secret"), "instance-1")
	payload, err := a.Build("call-1")
	require.NoError(t, err)
	assert.Equal(t, "call-1", payload.CallID)
	assert.NotEmpty(t, payload.Signature)

	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(payload.Token, claims, func(*jwt.Token) (any, error) {
		return []byte("jwt-secret"), nil
	})
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "call-1", claims.CallID)
	assert.Equal(t, "instance-1", claims.InstanceID)
}

func TestAuthenticatorSignatureDeterministicPerTimestamp(t *testing.T) {
	a := NewAuthenticator([]byte("k1"), []byte("k2"), "inst")
	sig1 := a.sign("call-1", 1000)
	sig2 := a.sign("call-1", 1000)
	sig3 := a.sign("call-1", 1001)
	assert.Equal(t, sig1, sig2)
	assert.NotEqual(t, sig1, sig3)
}
