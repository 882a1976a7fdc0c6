package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenEndpoint is the Azure AD v2.0 token endpoint template.
const tokenEndpoint = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// graphScope is the client-credentials scope covering all application
// permissions granted to the app registration.
const graphScope = "https://graph.microsoft.com/.default"

// tokenExpiryMargin is subtracted from the token lifetime so a request
// started just before expiry never travels with a dead token.
const tokenExpiryMargin = 60 * time.Second

// ClientCredentialsSource returns a TokenSource backed by the OAuth2
// client-credentials flow against Azure AD. Tokens are cached in memory and
// refreshed on demand once they come within tokenExpiryMargin of expiry.
// The underlying source is safe for concurrent use.
//
// ctx must outlive the returned source — pass context.Background() for
// long-lived engines.
func ClientCredentialsSource(ctx context.Context, tenantID, clientID, clientSecret string, logger *slog.Logger) TokenSource {
	if logger == nil {
		logger = slog.Default()
	}

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf(tokenEndpoint, tenantID),
		Scopes:       []string{graphScope},
	}

	src := oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(ctx), tokenExpiryMargin)

	return &tokenBridge{src: src, logger: logger}
}

// tokenBridge adapts an oauth2.TokenSource to the TokenSource interface
// consumed by Client, mapping acquisition failures to ErrAuth.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	tok, err := b.src.Token()
	if err != nil {
		b.logger.Error("token acquisition failed",
			slog.String("error", err.Error()),
		)

		return "", fmt.Errorf("%w: %w", ErrAuth, err)
	}

	b.logger.Debug("token acquired",
		slog.Time("expiry", tok.Expiry),
	)

	return tok.AccessToken, nil
}

// StaticTokenSource returns a TokenSource that always yields the given
// token. Used by tests and by callers that manage tokens externally.
func StaticTokenSource(token string) TokenSource {
	return staticToken(token)
}

type staticToken string

func (s staticToken) Token() (string, error) {
	return string(s), nil
}
