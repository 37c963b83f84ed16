package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	RoleOperator = "operator"
	RoleDevice   = "device"
)

// Claims represents the JWT claims
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTConfig holds signing settings
type JWTConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// JWTManager handles JWT token operations
type JWTManager struct {
	secretKey []byte
	expiry    time.Duration
	issuer    string
}

// NewJWTManager creates a new JWT manager. An empty secret gets a random
// one, which invalidates tokens on restart.
func NewJWTManager(config JWTConfig) *JWTManager {
	secret := config.Secret
	if secret == "" {
		randomBytes := make([]byte, 32)
		rand.Read(randomBytes)
		secret = hex.EncodeToString(randomBytes)
	}
	if config.Expiry <= 0 {
		config.Expiry = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "aranyani"
	}

	return &JWTManager{
		secretKey: []byte(secret),
		expiry:    config.Expiry,
		issuer:    config.Issuer,
	}
}

// GenerateToken creates a new operator token
func (m *JWTManager) GenerateToken(username string) (string, time.Time, error) {
	return m.sign(username, RoleOperator, m.expiry)
}

// DeviceToken creates a short-lived token identifying a sentinel node to
// the backend
func (m *JWTManager) DeviceToken(nodeID string) (string, error) {
	token, _, err := m.sign(nodeID, RoleDevice, 5*time.Minute)
	return token, err
}

func (m *JWTManager) sign(subject, role string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		Username: subject,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GetExpiry returns the operator token expiry duration
func (m *JWTManager) GetExpiry() time.Duration {
	return m.expiry
}
