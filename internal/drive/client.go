package drive

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ErrMissingAccessToken indicates a drive call was attempted without a delegated token.
var ErrMissingAccessToken = errors.New("drive: delegated access token required")

// ClientFactoryConfig configures how per-request drive clients are built.
type ClientFactoryConfig struct {
	// Endpoint overrides the Drive API base path, e.g. for a local fake.
	Endpoint string
	// Transport is the base round tripper under the bearer-token transport.
	Transport http.RoundTripper
}

// ClientFactory builds a fresh drive service per call, bound to one caller's
// delegated token. Nothing credential-related is shared between calls.
type ClientFactory struct {
	endpoint  string
	transport http.RoundTripper
}

// NewClientFactory constructs a ClientFactory.
func NewClientFactory(cfg ClientFactoryConfig) *ClientFactory {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &ClientFactory{
		endpoint:  strings.TrimSpace(cfg.Endpoint),
		transport: transport,
	}
}

// Service returns a drive service authorized with accessToken.
func (f *ClientFactory) Service(ctx context.Context, accessToken string) (*drivev3.Service, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrMissingAccessToken
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   f.transport,
		},
	}
	options := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if f.endpoint != "" {
		options = append(options, option.WithEndpoint(f.endpoint))
	}
	return drivev3.NewService(ctx, options...)
}
