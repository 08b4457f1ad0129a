// Package accounts implements the bcrypt-backed password accounts that sit
// in front of API-token issuance. Most principals in this registry hold no
// stored secret at all: an API token is generated out-of-band and its hash
// recorded against a principal string, or a federated identity token is
// verified fresh on every request. An Account exists only for the principals
// that want to authenticate with a username and password in order to mint
// their own tokens, the way the teacher's pkg/utils password helpers back
// its own user accounts.
package accounts

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/pkg/apitoken"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
)

// Service creates accounts, authenticates by password, and issues API
// tokens bound to the resulting principal.
type Service struct {
	store *store.Store
	cost  int
}

// New constructs a Service. cfg supplies the bcrypt work factor.
func New(st *store.Store, cfg *config.AuthConfig) *Service {
	cost := cfg.BCryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: st, cost: cost}
}

// Register creates a new account, deriving its principal ID from username so
// it reads the same way a human-chosen API-token owner string would.
func (s *Service) Register(ctx context.Context, username, password string) (*store.Account, error) {
	if len(password) < 8 {
		return nil, registryerr.New(registryerr.KindInvalidInput, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return s.store.CreateAccount(ctx, username, username, string(hash))
}

// Authenticate verifies username/password and reports the resulting
// principal ID on success.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*store.Account, error) {
	acct, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, registryerr.New(registryerr.KindUnauthenticated, "unknown username or password")
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, registryerr.New(registryerr.KindUnauthenticated, "unknown username or password")
	}
	return acct, nil
}

// IssueToken mints a fresh API token bound to acct's principal, after
// verifying the account's password once more (so a stolen session can't
// silently mint new long-lived credentials without the password in hand).
func (s *Service) IssueToken(ctx context.Context, username, password, tokenName string, ttl time.Duration) (string, *store.APIToken, error) {
	acct, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", nil, err
	}

	token, err := apitoken.Generate()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	rec, err := s.store.CreateAPIToken(ctx, acct.PrincipalID, tokenName, apitoken.Hash(token), expiresAt)
	if err != nil {
		return "", nil, err
	}
	return token, rec, nil
}
