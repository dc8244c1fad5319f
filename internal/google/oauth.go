// Package google implements the calendar provider against the Google
// Calendar and OAuth 2.0 APIs.
package google

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"calendar-service/internal/circuitbreaker"
	"calendar-service/internal/common/errors"
	"calendar-service/internal/common/logging"
	"calendar-service/internal/config"
	"calendar-service/internal/tokens"
)

const revokeURL = "https://oauth2.googleapis.com/revoke"

// OAuthClient implements tokens.Provider for Google. Token endpoint calls
// go through a circuit breaker so a failing Google backend does not pile
// up blocked refreshes.
type OAuthClient struct {
	oauthConfig *oauth2.Config
	breaker     *circuitbreaker.Breaker
	httpClient  *http.Client
	logger      logging.Logger
}

func NewOAuthClient(cfg *config.Config, logger logging.Logger) *OAuthClient {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &OAuthClient{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			Scopes:       cfg.GoogleScopes,
			Endpoint:     googleoauth.Endpoint,
		},
		breaker: circuitbreaker.New("google-oauth", circuitbreaker.OAuthConfig, logger),
		httpClient: &http.Client{
			Timeout: cfg.ProviderTimeout,
		},
		logger: logger,
	}
}

// AuthorizationURL builds the consent URL. Offline access with forced
// consent is required so Google returns a refresh token on every connect.
func (c *OAuthClient) AuthorizationURL(state string) string {
	return c.oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*tokens.Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	var token *oauth2.Token
	err := c.breaker.Execute(ctx, func() error {
		var exchangeErr error
		token, exchangeErr = c.oauthConfig.Exchange(ctx, code)
		if exchangeErr != nil {
			return c.wrapTokenError("code exchange", exchangeErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if token.RefreshToken == "" {
		return nil, errors.ValidationError("authorization response did not include a refresh token")
	}

	return &tokens.Grant{
		RefreshToken: token.RefreshToken,
		AccessToken:  token.AccessToken,
		Expiry:       token.Expiry,
		Scopes:       grantedScopes(token),
	}, nil
}

func (c *OAuthClient) UserInfo(ctx context.Context, accessToken string) (*tokens.Identity, error) {
	svc, err := oauth2api.NewService(ctx,
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	)
	if err != nil {
		return nil, errors.UpstreamError("failed to build userinfo client", 0, "client_init", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("userinfo", err)
	}

	if info.Id == "" || info.Email == "" {
		return nil, errors.UpstreamError("userinfo response missing account id or email", 0, "incomplete_response", nil)
	}

	return &tokens.Identity{
		AccountID: info.Id,
		Email:     info.Email,
		Name:      info.Name,
	}, nil
}

func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*tokens.Access, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	var token *oauth2.Token
	err := c.breaker.Execute(ctx, func() error {
		source := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		var refreshErr error
		token, refreshErr = source.Token()
		if refreshErr != nil {
			return c.wrapTokenError("token refresh", refreshErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &tokens.Access{
		AccessToken: token.AccessToken,
		Expiry:      token.Expiry,
	}, nil
}

// Revoke invalidates the refresh token at Google. A 200 means the token
// and all access tokens derived from it are dead.
func (c *OAuthClient) Revoke(ctx context.Context, refreshToken string) error {
	form := url.Values{"token": {refreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return errors.InternalError("failed to build revocation request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.UpstreamError("token revocation request failed", 0, "request_failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.UpstreamError(
			fmt.Sprintf("token revocation returned status %d", resp.StatusCode),
			resp.StatusCode, "revocation_rejected", nil)
	}

	return nil
}

// wrapTokenError maps token endpoint failures. An invalid_grant style
// rejection means the refresh token is dead and the user must reconnect.
func (c *OAuthClient) wrapTokenError(operation string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil &&
			(retrieveErr.Response.StatusCode == http.StatusBadRequest ||
				retrieveErr.Response.StatusCode == http.StatusUnauthorized) {
			return errors.TokenExpiredError("", operation+" rejected by provider").
				WithContext("provider_status", retrieveErr.Response.StatusCode)
		}
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return errors.UpstreamError(operation+" failed", status, "token_endpoint", err)
	}
	return errors.UpstreamError(operation+" failed", 0, "token_endpoint", err)
}

func grantedScopes(token *oauth2.Token) []string {
	raw, _ := token.Extra("scope").(string)
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

var _ tokens.Provider = (*OAuthClient)(nil)
