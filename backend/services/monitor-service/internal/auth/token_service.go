package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload issued to operators.
type Claims struct {
	Operator string `json:"operator"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
	deviceID  string
}

// NewTokenService returns configured token service. Tokens are scoped to one
// device so a token for one pack cannot drive another.
func NewTokenService(secret string, expiresIn time.Duration, deviceID string) *TokenService {
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return &TokenService{secret: []byte(secret), expiresIn: expiresIn, deviceID: deviceID}
}

// GenerateToken issues JWT for operator.
func (t *TokenService) GenerateToken(operator string) (string, error) {
	if operator == "" {
		return "", errors.New("token: operator is required")
	}

	now := time.Now().UTC()
	claims := Claims{
		Operator: operator,
		DeviceID: t.deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// ValidateToken verifies and decodes JWT.
func (t *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token: invalid claims")
	}
	if claims.DeviceID != t.deviceID {
		return nil, errors.New("token: issued for another device")
	}
	return claims, nil
}
