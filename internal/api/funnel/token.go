package funnel

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenProvider supplies the bearer credential for one request. The client
// asks for a token on every call and never keeps it.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenProvider.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken always returns the same credential. An empty StaticToken sends
// requests unauthenticated.
type StaticToken string

// Token implements TokenProvider.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// OAuth2Tokens adapts an oauth2.TokenSource from an identity provider.
func OAuth2Tokens(src oauth2.TokenSource) TokenProvider {
	return TokenFunc(func(ctx context.Context) (string, error) {
		if src == nil {
			return "", nil
		}
		tok, err := src.Token()
		if err != nil {
			return "", fmt.Errorf("failed to obtain access token: %w", err)
		}
		if !tok.Valid() {
			return "", nil
		}
		return tok.AccessToken, nil
	})
}
