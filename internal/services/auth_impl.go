package services

import (
	"context"
	"errors"

	goa "goa.design/goa/v3/pkg"

	"aranyani/internal/auth"
	"aranyani/internal/middleware"
)

// AuthImplementation implements the auth service
type AuthImplementation struct {
	authenticator *auth.Authenticator
}

// NewAuthService creates a new auth service implementation
func NewAuthService(authenticator *auth.Authenticator) *AuthImplementation {
	return &AuthImplementation{
		authenticator: authenticator,
	}
}

// Login authenticates an operator and returns a JWT token
func (a *AuthImplementation) Login(ctx context.Context, payload *LoginPayload) (*LoginResult, error) {
	if payload.Username == "" {
		return nil, goa.MissingFieldError("username", "body")
	}

	token, expiresAt, err := a.authenticator.Authenticate(payload.Username, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return nil, goa.PermanentError("unauthorized", "invalid username or password")
		case errors.Is(err, auth.ErrAuthDisabled):
			return nil, goa.PermanentError("unauthorized", "authentication is disabled")
		default:
			return nil, goa.Fault("login failed: %s", err)
		}
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// Status returns the current authentication status
func (a *AuthImplementation) Status(ctx context.Context) (*AuthStatusResult, error) {
	res := &AuthStatusResult{Enabled: a.authenticator.IsEnabled()}

	if claims := middleware.GetUserFromContext(ctx); claims != nil {
		res.Authenticated = true
		res.Username = &claims.Username
	}
	return res, nil
}
