// Package oauth implements the federated login exchange with Google. The
// resolver turns a one-time authorization code into a verified external
// profile; mapping that profile onto a local user happens in the service
// layer.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrUpstream is returned for any failure talking to the identity provider:
// a failed code exchange, a non-2xx userinfo response, or a malformed
// payload. Callers must not retry within the request, because the
// authorization code is single-use and already burned by the first attempt.
var ErrUpstream = errors.New("identity provider exchange failed")

// upstreamTimeout bounds both the code exchange and the userinfo fetch so a
// stalled provider cannot hold a request open indefinitely.
const upstreamTimeout = 5 * time.Second

// GoogleProfile is the subset of the OpenID Connect userinfo payload the
// reconciliation flow needs.
type GoogleProfile struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// GoogleResolver exchanges authorization codes with Google and fetches the
// authenticated user's profile.
type GoogleResolver struct {
	conf        *oauth2.Config
	userInfoURL string
	client      *http.Client
}

// NewGoogleResolver builds a resolver against Google's production endpoints
// using the configured client credentials and redirect URL.
func NewGoogleResolver(clientID, clientSecret, redirectURL string) *GoogleResolver {
	return NewResolverWithEndpoints(clientID, clientSecret, redirectURL,
		google.Endpoint, "https://openidconnect.googleapis.com/v1/userinfo")
}

// NewResolverWithEndpoints builds a resolver against explicit provider
// endpoints. Tests point this at a stub provider.
func NewResolverWithEndpoints(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint, userInfoURL string) *GoogleResolver {
	return &GoogleResolver{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: userInfoURL,
		client:      &http.Client{Timeout: upstreamTimeout},
	}
}

// AuthCodeURL returns the provider authorization URL carrying the client id,
// redirect URI, requested scopes and the caller's CSRF state.
func (g *GoogleResolver) AuthCodeURL(state string) string {
	return g.conf.AuthCodeURL(state)
}

// ExchangeCode swaps the one-time authorization code for provider tokens and
// fetches the user's profile. Any upstream failure surfaces as ErrUpstream;
// the underlying cause is kept in the wrap for logs only.
func (g *GoogleResolver) ExchangeCode(ctx context.Context, code string) (GoogleProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)

	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return GoogleProfile{}, fmt.Errorf("%w: userinfo status %d", ErrUpstream, resp.StatusCode)
	}

	var profile GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return GoogleProfile{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if profile.Sub == "" {
		return GoogleProfile{}, fmt.Errorf("%w: userinfo payload missing subject", ErrUpstream)
	}
	return profile, nil
}
