package spotify

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// DefaultScopes are the user scopes the song request flow needs: reading the
// owner profile and queueing tracks on their player.
const DefaultScopes = "user-read-private user-modify-playback-state"

// NewOAuthConfig builds the oauth2 config for the broadcaster login flow.
// authURL/tokenURL are overridable for tests; empty strings select the
// production endpoints.
func NewOAuthConfig(clientID, clientSecret, redirectURL string, scopes []string, authURL, tokenURL string) *oauth2.Config {
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// RefreshUserToken exchanges a refresh token for a new user token. Spotify
// does not always rotate the refresh token; the old one is carried forward
// when the response omits it.
func RefreshUserToken(ctx context.Context, conf *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("missing refresh token")
	}
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// ComputeExpiry returns an absolute expiry from a token lifetime in seconds,
// defaulting to +60m when the provider omits it.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
