package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig configures the OIDC token verifier
type OIDCConfig struct {
	IssuerURL string
	ClientID  string
	// OperatorClaim is the boolean ID-token claim marking platform operators
	OperatorClaim string
}

// OIDCProvider verifies bearer tokens against an OIDC identity provider
type OIDCProvider struct {
	config   OIDCConfig
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider discovers the issuer and builds a token verifier
func NewOIDCProvider(ctx context.Context, config OIDCConfig) (*OIDCProvider, error) {
	if config.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if config.OperatorClaim == "" {
		config.OperatorClaim = "operator"
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: config.ClientID,
	})

	return &OIDCProvider{
		config:   config,
		provider: provider,
		verifier: verifier,
	}, nil
}

// Endpoint exposes the provider's OAuth2 endpoint for callers that drive
// the sign-in redirect themselves
func (p *OIDCProvider) Endpoint() oauth2.Endpoint {
	return p.provider.Endpoint()
}

// Verify validates a raw ID token and extracts the principal and operator flag
func (p *OIDCProvider) Verify(ctx context.Context, rawToken string) (*Principal, bool, error) {
	idToken, err := p.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, false, fmt.Errorf("token verification failed: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, false, fmt.Errorf("failed to parse claims: %w", err)
	}

	principal := &Principal{ID: idToken.Subject}
	if email, ok := claims["email"].(string); ok {
		principal.Email = email
	}

	operator := false
	if v, ok := claims[p.config.OperatorClaim].(bool); ok {
		operator = v
	}

	return principal, operator, nil
}
