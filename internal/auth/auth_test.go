package auth

import (
	"errors"
	"testing"
	"time"
)

func TestAuthenticate(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	for _, password := range []string{"s3cret", hash} {
		a := NewAuthenticator(Config{Enabled: true, Username: "ranger", Password: password, JWT: JWTConfig{Secret: "k"}})

		token, exp, err := a.Authenticate("ranger", "s3cret")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if exp <= time.Now().Unix() {
			t.Errorf("expiry %d is not in the future", exp)
		}

		claims, err := a.ValidateToken(token)
		if err != nil {
			t.Fatalf("ValidateToken: %v", err)
		}
		if claims.Username != "ranger" || claims.Role != RoleOperator {
			t.Errorf("claims = %+v", claims)
		}

		if _, _, err := a.Authenticate("ranger", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("wrong password error = %v", err)
		}
		if _, _, err := a.Authenticate("poacher", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("wrong user error = %v", err)
		}
	}
}

func TestAuthenticateDisabled(t *testing.T) {
	a := NewAuthenticator(Config{})
	if _, _, err := a.Authenticate("admin", "x"); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("error = %v, want ErrAuthDisabled", err)
	}
}

func TestDeviceTokenIsNotAnOperatorToken(t *testing.T) {
	a := NewAuthenticator(Config{Enabled: true, Password: "x", JWT: JWTConfig{Secret: "k"}})

	token, err := a.JWTManager().DeviceToken("node-3")
	if err != nil {
		t.Fatalf("DeviceToken: %v", err)
	}

	claims, err := a.JWTManager().ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "node-3" || claims.Role != RoleDevice {
		t.Fatalf("claims = %+v", claims)
	}
	if _, err := a.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("operator validation of device token = %v, want ErrInvalidToken", err)
	}
}

func TestValidateToken(t *testing.T) {
	m := NewJWTManager(JWTConfig{Secret: "one", Expiry: -time.Minute})
	other := NewJWTManager(JWTConfig{Secret: "two"})

	expired, _, err := NewJWTManager(JWTConfig{Secret: "one"}).sign("ranger", RoleOperator, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ValidateToken(expired); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expired token error = %v", err)
	}

	foreign, _, _ := other.GenerateToken("ranger")
	if _, err := m.ValidateToken(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign token error = %v", err)
	}
	if _, err := m.ValidateToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token error = %v", err)
	}
}
