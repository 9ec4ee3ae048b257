package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DriveFileScope grants access to files the application created in the user's drive.
const DriveFileScope = "https://www.googleapis.com/auth/drive.file"

var (
	ErrInvalidOAuthConfig = errors.New("auth: invalid google oauth config")
	ErrMissingIDToken     = errors.New("auth: token response missing id_token")
	errMissingAuthCode    = errors.New("auth: authorization code required")
)

// GoogleOAuthConfig configures the authorization code flow against Google.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides Google's endpoints; zero value uses google.Endpoint.
	Endpoint   oauth2.Endpoint
	HTTPClient *http.Client
}

// LoginGrant is the result of a successful code exchange.
type LoginGrant struct {
	Token   *oauth2.Token
	IDToken string
}

// GoogleOAuth drives the login redirect, the callback code exchange and
// refreshes of the delegated drive token.
type GoogleOAuth struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewGoogleOAuth validates configuration and builds the oauth2 client config.
func NewGoogleOAuth(cfg GoogleOAuthConfig) (*GoogleOAuth, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id required", ErrInvalidOAuthConfig)
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: client secret required", ErrInvalidOAuthConfig)
	}
	redirectURL := strings.TrimSpace(cfg.RedirectURL)
	if redirectURL == "" {
		return nil, fmt.Errorf("%w: redirect url required", ErrInvalidOAuthConfig)
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "profile", "email", DriveFileScope},
		},
		httpClient: cfg.HTTPClient,
	}, nil
}

// AuthCodeURL returns the consent screen URL carrying the anti-forgery state.
// Offline access is requested so the delegated drive token can be refreshed.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("include_granted_scopes", "true"))
}

// Exchange trades the callback code for tokens and extracts the ID token.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (LoginGrant, error) {
	if strings.TrimSpace(code) == "" {
		return LoginGrant{}, errMissingAuthCode
	}
	token, err := g.config.Exchange(g.clientContext(ctx), code)
	if err != nil {
		return LoginGrant{}, fmt.Errorf("auth: code exchange: %w", err)
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return LoginGrant{}, ErrMissingIDToken
	}
	return LoginGrant{Token: token, IDToken: idToken}, nil
}

// Refresh returns a valid delegated token, refreshing it when expired.
// The returned token equals the input when no refresh was necessary.
func (g *GoogleOAuth) Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if token == nil {
		return nil, errors.New("auth: token required")
	}
	if token.Valid() {
		return token, nil
	}
	refreshed, err := g.config.TokenSource(g.clientContext(ctx), token).Token()
	if err != nil {
		return nil, fmt.Errorf("auth: token refresh: %w", err)
	}
	return refreshed, nil
}

func (g *GoogleOAuth) clientContext(ctx context.Context) context.Context {
	if g.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// NewState returns a random URL-safe value for the OAuth state parameter.
func NewState() (string, error) {
	buffer := make([]byte, 32)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
