// Package identity implements the registry's Identity Service: resolving
// an inbound credential to a principal, either via a long-lived opaque API
// token or a short-lived federated identity (OIDC) token.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/pkg/apitoken"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
)

// Principal identifies the authenticated actor behind a request.
type Principal struct {
	// ID is the stable string identity used throughout ownership and store
	// records: either the API token's bound principal, "federated:{provider}:{repository}",
	// or "anon:{address}" for unauthenticated reads.
	ID string

	Anonymous bool
	Federated bool

	// Populated only when Federated is true.
	Provider    string
	Repository  string
	Workflow    string
	CommitSHA   string
	Environment string
}

// Claims is the subset of a federated identity token's claims the registry cares about.
type Claims struct {
	Provider    string
	Repository  string
	Workflow    string
	CommitSHA   string
	Environment string
	BuildTime   time.Time
}

// Service resolves inbound credentials to principals.
type Service struct {
	store    *store.Store
	cfg      *config.FederatedConfig
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier

	// keysFailedAt records the last time verification failed due to a
	// provider-side key-fetch error, so a flapping provider doesn't block
	// every publish attempt behind a fresh fetch timeout (§9).
	keysFailedAt time.Time
}

// New constructs an identity service. If cfg.IssuerURL is empty, federated
// identity verification is disabled and only API tokens are accepted.
func New(ctx context.Context, st *store.Store, cfg *config.FederatedConfig) (*Service, error) {
	s := &Service{store: st, cfg: cfg}

	if cfg.IssuerURL == "" {
		return s, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider at %s: %w", cfg.IssuerURL, err)
	}
	s.provider = provider
	s.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Audience})
	return s, nil
}

// jwtShape reports whether token has the structure of a JWT: exactly three
// dot-separated, non-empty base64url segments, whatever they decode to. This
// is the credential-distinguishing rule §6 requires between an opaque API
// token and a federated identity token. Signature and claims verification
// happen later in authenticateFederated via the OIDC verifier; this only
// sniffs the shape to route to the right authentication path.
func jwtShape(token string) bool {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return false
	}
	parser := jwt.NewParser()
	for _, seg := range segments {
		if seg == "" {
			return false
		}
		if _, err := parser.DecodeSegment(seg); err != nil {
			return false
		}
	}
	return true
}

// Authenticate resolves the bearer token from an Authorization header value
// (already stripped of the "Bearer " prefix) to a Principal.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, registryerr.New(registryerr.KindUnauthenticated, "missing bearer credential")
	}

	if jwtShape(bearer) {
		return s.authenticateFederated(ctx, bearer)
	}
	return s.authenticateAPIToken(ctx, bearer)
}

// Anonymous returns the bucketing principal for an unauthenticated read,
// keyed by source address.
func Anonymous(sourceAddr string) *Principal {
	return &Principal{ID: "anon:" + sourceAddr, Anonymous: true}
}

func (s *Service) authenticateAPIToken(ctx context.Context, token string) (*Principal, error) {
	if !apitoken.ValidFormat(token) && !apitoken.IsLegacyHex(token) {
		return nil, registryerr.New(registryerr.KindTokenInvalid, "malformed API token")
	}

	hash := apitoken.Hash(token)
	rec, err := s.store.LookupAPIToken(ctx, hash)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindTokenInvalid, "unknown API token", err)
	}
	if rec.Expired(time.Now()) {
		return nil, registryerr.New(registryerr.KindTokenExpired, "API token has expired")
	}

	return &Principal{ID: rec.PrincipalID}, nil
}

func (s *Service) authenticateFederated(ctx context.Context, rawToken string) (*Principal, error) {
	if s.verifier == nil {
		return nil, registryerr.New(registryerr.KindTokenInvalid, "federated identity is not configured on this registry")
	}

	if !s.keysFailedAt.IsZero() && time.Since(s.keysFailedAt) < s.cfg.NegativeCacheTTL {
		return nil, registryerr.New(registryerr.KindTokenInvalid, "federated provider is temporarily unavailable")
	}

	idToken, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		if isKeyFetchError(err) {
			s.keysFailedAt = time.Now()
		}
		return nil, s.classifyVerifyError(err)
	}
	s.keysFailedAt = time.Time{}

	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return nil, registryerr.Wrap(registryerr.KindTokenInvalid, "failed to parse federated token claims", err)
	}

	claims := Claims{
		Provider:    s.cfg.IssuerURL,
		Repository:  getString(raw, "repository"),
		Workflow:    getString(raw, "workflow_ref", "job_workflow_ref", "workflow"),
		CommitSHA:   getString(raw, "sha"),
		Environment: getString(raw, "environment"),
	}
	if claims.Repository == "" {
		return nil, registryerr.New(registryerr.KindTokenInvalid, "federated token is missing a repository claim")
	}

	return &Principal{
		ID:          fmt.Sprintf("federated:%s:%s", s.cfg.IssuerURL, claims.Repository),
		Federated:   true,
		Provider:    s.cfg.IssuerURL,
		Repository:  claims.Repository,
		Workflow:    claims.Workflow,
		CommitSHA:   claims.CommitSHA,
		Environment: claims.Environment,
	}, nil
}

func (s *Service) classifyVerifyError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "expired") {
		return registryerr.Wrap(registryerr.KindTokenExpired, "federated token has expired", err)
	}
	log.Warn().Err(err).Msg("federated token verification failed")
	return registryerr.Wrap(registryerr.KindTokenInvalid, "federated token failed verification", err)
}

// isKeyFetchError distinguishes a provider/network failure while fetching
// signing keys from an ordinary signature or claims rejection; go-oidc
// doesn't export a typed error for this, so the message is inspected the
// same way the teacher's code classifies errors by substring elsewhere.
func isKeyFetchError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fetch") || strings.Contains(msg, "failed to verify signature") || strings.Contains(msg, "keys")
}

func getString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if str, ok := v.(string); ok && str != "" {
				return str
			}
		}
	}
	return ""
}
