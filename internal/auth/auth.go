// Package auth verifies caller identity.
//
// A TokenVerifier turns an opaque bearer token into a stable user id. The
// echo middleware is the only place tokens are handled; every other component
// receives the resolved user id and trusts it.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/Chezo25/Krate-it/internal/apperr"
	"github.com/Chezo25/Krate-it/internal/logger"
)

// TokenVerifier resolves a session token to a user id.
type TokenVerifier interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// OIDCConfig configures the OIDC token verifier.
type OIDCConfig struct {
	Issuer   string
	ClientID string
}

// OIDCVerifier validates bearer tokens against an OIDC provider and uses the
// token subject as the user id.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider. Discovery is retried a few times so
// the server can start alongside its identity provider.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	var provider *oidc.Provider
	var err error

	for i := 0; i < 5; i++ {
		provider, err = oidc.NewProvider(ctx, cfg.Issuer)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to OIDC provider (attempt %d/5): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OIDC provider after retries: %w", err)
	}

	logger.Info("OIDC initialized with issuer %s, client id %s", cfg.Issuer, cfg.ClientID)

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (v *OIDCVerifier) Resolve(ctx context.Context, token string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", apperr.ErrUnauthenticated)
	}
	return idToken.Subject, nil
}

// StaticVerifier resolves tokens from a fixed token -> user id map. Dev and
// test use only.
type StaticVerifier struct {
	Tokens map[string]string
}

func (v *StaticVerifier) Resolve(ctx context.Context, token string) (string, error) {
	userID, ok := v.Tokens[token]
	if !ok {
		return "", fmt.Errorf("unknown token: %w", apperr.ErrUnauthenticated)
	}
	return userID, nil
}

var (
	_ TokenVerifier = (*OIDCVerifier)(nil)
	_ TokenVerifier = (*StaticVerifier)(nil)
)
