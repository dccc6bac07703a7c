package service

import (
	"fmt"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
)

// DiscoveryDocument is the OpenID Connect discovery metadata.
type DiscoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
	TokenAuthMethodsSupported     []string `json:"token_endpoint_auth_methods_supported"`
}

// DiscoveryService renders per-org discovery metadata.
type DiscoveryService struct {
	baseURL string
}

// NewDiscoveryService constructs a DiscoveryService. baseURL is the public
// origin of this service without a trailing slash.
func NewDiscoveryService(baseURL string) *DiscoveryService {
	return &DiscoveryService{baseURL: baseURL}
}

// Document builds the discovery document for an org.
func (s *DiscoveryService) Document(org domain.Org) DiscoveryDocument {
	issuer := fmt.Sprintf("%s/%s", s.baseURL, org.Slug)
	return DiscoveryDocument{
		Issuer:                        issuer,
		AuthorizationEndpoint:         s.baseURL + "/oauth/authorize",
		TokenEndpoint:                 s.baseURL + "/oauth/token",
		UserinfoEndpoint:              s.baseURL + "/oauth/userinfo",
		JWKSURI:                       s.baseURL + "/.well-known/jwks.json",
		IntrospectionEndpoint:         s.baseURL + "/oauth/introspect",
		RevocationEndpoint:            s.baseURL + "/oauth/revoke",
		ResponseTypesSupported:        []string{"code", "token"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token", "client_credentials", "password"},
		CodeChallengeMethodsSupported: []string{"S256", "plain"},
		ScopesSupported:               []string{"openid", "profile", "email", "pos"},
		TokenAuthMethodsSupported:     []string{"client_secret_post", "none"},
	}
}
