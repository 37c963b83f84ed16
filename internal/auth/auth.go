package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds operator login settings
type Config struct {
	Enabled  bool
	Username string
	Password string // Plaintext or bcrypt hash
	JWT      JWTConfig
}

// Authenticator handles operator authentication for the control API
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(config Config) *Authenticator {
	username := config.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if config.Enabled && config.Password != "" {
		// Accept a precomputed bcrypt hash as-is
		if len(config.Password) == 60 && config.Password[0] == '$' {
			passwordHash = []byte(config.Password)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(config.Password), bcrypt.DefaultCost)
			if err == nil {
				passwordHash = hash
			}
		}
	}

	return &Authenticator{
		enabled:      config.Enabled,
		username:     username,
		passwordHash: passwordHash,
		jwtManager:   NewJWTManager(config.JWT),
	}
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a JWT token
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(username)
	if err != nil {
		return "", 0, err
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken validates an operator token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	claims, err := a.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleOperator {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTManager returns the JWT manager
func (a *Authenticator) JWTManager() *JWTManager {
	return a.jwtManager
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
