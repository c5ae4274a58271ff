// Package auth issues and checks the bearer tokens device agents present to the callback API.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "thinfleet"

// DeviceClaims identifies the agent holding a token
type DeviceClaims struct {
	DeviceID  string
	TokenID   uuid.UUID
	ExpiresAt time.Time
}

// JWTManager signs device tokens with a shared HMAC secret
type JWTManager struct {
	secretKey string
	now       func() time.Time
}

// NewJWTManager creates a token manager
func NewJWTManager(secretKey string) *JWTManager {
	return &JWTManager{secretKey: secretKey, now: time.Now}
}

// GenerateDeviceToken issues a token for deviceID valid for ttl
func (j *JWTManager) GenerateDeviceToken(deviceID string, ttl time.Duration) (string, error) {
	if j.secretKey == "" {
		return "", fmt.Errorf("JWT secret key is empty")
	}
	if deviceID == "" {
		return "", fmt.Errorf("device id is required")
	}

	now := j.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"device_id": deviceID,
		"jti":       uuid.New().String(),
		"iss":       issuer,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	})

	return token.SignedString([]byte(j.secretKey))
}

// ValidateDeviceToken checks signature, issuer and expiry and returns the claims
func (j *JWTManager) ValidateDeviceToken(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.secretKey), nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	deviceID, ok := claims["device_id"].(string)
	if !ok || deviceID == "" {
		return nil, fmt.Errorf("invalid device_id claim")
	}

	jtiStr, ok := claims["jti"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid jti claim")
	}

	jti, err := uuid.Parse(jtiStr)
	if err != nil {
		return nil, fmt.Errorf("invalid jti format")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("invalid exp claim")
	}

	return &DeviceClaims{
		DeviceID:  deviceID,
		TokenID:   jti,
		ExpiresAt: exp.Time,
	}, nil
}
