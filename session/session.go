package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/dushky/requesty-pie/backend/songrequest"
	"github.com/dushky/requesty-pie/backend/spotify"
)

// Credentials is what the HTTP layer extracted from a request: the cookie
// triple from the owner OAuth flow plus, in the hardened path, a bearer
// service token from the frontend proxy.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time // zero when the expiry cookie is absent or unparseable
	ServiceToken string
}

// OwnerCredential is a validated per-call owner credential. When Refreshed
// is set the HTTP layer must persist the new values back to the client by
// resetting cookies.
type OwnerCredential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Refreshed    bool
}

// Lifecycle converts an OwnerCredential into the value the lifecycle service
// consumes.
func (c OwnerCredential) Lifecycle() songrequest.Credential {
	return songrequest.Credential{AccessToken: c.AccessToken}
}

// Validator validates owner sessions. With RequireServiceToken set, a valid
// service token is required before the external identity provider is even
// contacted.
type Validator struct {
	Issuer              *ServiceTokenIssuer
	OAuth               *oauth2.Config
	RequireServiceToken bool
}

// ValidateOwnerSession produces a verified owner credential or fails with the
// unauthorized error kind. An expired access token with a usable refresh
// token is exchanged transparently; the result is a new credential value,
// never a mutation of shared state.
func (v *Validator) ValidateOwnerSession(ctx context.Context, creds Credentials) (OwnerCredential, error) {
	if v.RequireServiceToken {
		if creds.ServiceToken == "" {
			return OwnerCredential{}, fmt.Errorf("%w: missing service token", songrequest.ErrUnauthorized)
		}
		if err := v.Issuer.Verify(creds.ServiceToken); err != nil {
			return OwnerCredential{}, fmt.Errorf("%w: %v", songrequest.ErrUnauthorized, err)
		}
	}
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return OwnerCredential{}, fmt.Errorf("%w: no owner tokens presented", songrequest.ErrUnauthorized)
	}

	expired := !creds.Expiry.IsZero() && time.Now().After(creds.Expiry)
	if (expired || creds.AccessToken == "") && creds.RefreshToken != "" {
		tok, err := spotify.RefreshUserToken(ctx, v.OAuth, creds.RefreshToken)
		if err != nil {
			return OwnerCredential{}, fmt.Errorf("%w: token refresh failed: %v", songrequest.ErrUnauthorized, err)
		}
		slog.Info("owner token refreshed", slog.Time("expiry", tok.Expiry))
		return OwnerCredential{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
			Refreshed:    true,
		}, nil
	}
	if creds.AccessToken == "" || expired {
		return OwnerCredential{}, fmt.Errorf("%w: access token expired with no refresh token", songrequest.ErrUnauthorized)
	}

	return OwnerCredential{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
	}, nil
}
