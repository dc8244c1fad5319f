package tokens

import (
	"context"
	"time"
)

// Grant is the result of exchanging an authorization code: the long-lived
// refresh token plus the first access token.
type Grant struct {
	RefreshToken string
	AccessToken  string
	Expiry       time.Time
	Scopes       []string
}

// Identity describes the provider account a grant belongs to.
type Identity struct {
	AccountID string
	Email     string
	Name      string
}

// Access is a short-lived access token obtained from a refresh.
type Access struct {
	AccessToken string
	Expiry      time.Time
}

// Provider is the OAuth side of a calendar provider. The manager drives
// the connect, refresh and revoke lifecycle through this interface.
type Provider interface {
	// AuthorizationURL builds the consent URL carrying the given state.
	AuthorizationURL(state string) string

	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*Grant, error)

	// UserInfo resolves the account identity behind an access token.
	UserInfo(ctx context.Context, accessToken string) (*Identity, error)

	// Refresh obtains a new access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*Access, error)

	// Revoke invalidates a refresh token at the provider.
	Revoke(ctx context.Context, refreshToken string) error
}
