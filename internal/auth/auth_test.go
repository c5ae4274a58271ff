package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager(testSecret)

	token, err := m.GenerateDeviceToken("aabbccddeeff", time.Hour)
	require.NoError(t, err)

	claims, err := m.ValidateDeviceToken(token)
	require.NoError(t, err)
	assert.Equal(t, "aabbccddeeff", claims.DeviceID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 2*time.Second)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager(testSecret)

	_, err := NewJWTManager("").GenerateDeviceToken("dev", time.Hour)
	assert.Error(t, err)

	_, err = m.GenerateDeviceToken("", time.Hour)
	assert.Error(t, err)

	// Wrong secret
	other, err := NewJWTManager("fedcba9876543210fedcba9876543210").GenerateDeviceToken("dev", time.Hour)
	require.NoError(t, err)
	_, err = m.ValidateDeviceToken(other)
	assert.Error(t, err)

	// Expired
	expired := NewJWTManager(testSecret)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.GenerateDeviceToken("dev", time.Hour)
	require.NoError(t, err)
	_, err = m.ValidateDeviceToken(old)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	// Unsigned
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"device_id": "dev",
		"iss":       issuer,
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateDeviceToken(none)
	assert.Error(t, err)

	// Missing device claim
	anon, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = m.ValidateDeviceToken(anon)
	assert.Error(t, err)
}
