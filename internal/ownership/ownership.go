// Package ownership implements the registry's Ownership Registry: given a
// candidate (principal, package name) pair, answers whether the principal
// is authorized to publish, and enforces that only the owner may mutate
// ownership records.
package ownership

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/worldcache/registry/internal/identity"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/pkg/registryerr"
)

// Registry answers authorization questions over packages and principals.
type Registry struct {
	store *store.Store
}

// New constructs an ownership registry backed by st.
func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Authorized bool
	// IsClaim is true when the package does not yet exist and this request
	// would establish ownership for p.
	IsClaim bool
}

// Authorize answers "is p authorized to publish to packageName?" per the
// rules in §4.7. A non-existent package is always a successful claim.
func (r *Registry) Authorize(ctx context.Context, p *identity.Principal, packageName string) (*Decision, error) {
	pkg, err := r.store.GetPackageByName(ctx, packageName)
	if errors.Is(err, store.ErrNotFound) {
		return &Decision{Authorized: true, IsClaim: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up package for authorization: %w", err)
	}

	if pkg.OwnerID == p.ID {
		return &Decision{Authorized: true}, nil
	}

	for _, c := range pkg.Collaborators {
		if c.PrincipalID == p.ID {
			return &Decision{Authorized: true}, nil
		}
	}

	if p.Federated {
		for _, tp := range pkg.TrustedPublishers {
			if tp.Matches(p.Provider, p.Repository, p.Workflow, p.Environment) {
				return &Decision{Authorized: true}, nil
			}
		}
		return &Decision{Authorized: false}, registryerr.New(registryerr.KindForbidden, "no matching trusted-publisher rule").
			WithDetails(map[string]interface{}{"reason": registryerr.ReasonNoMatchingTrustedPub})
	}

	return &Decision{Authorized: false}, registryerr.New(registryerr.KindForbidden, "principal is not owner or collaborator").
		WithDetails(map[string]interface{}{"reason": registryerr.ReasonNotOwner})
}

// AuthorizeYank applies the same rules as Authorize; yank authority follows
// publish authority per §4.8.
func (r *Registry) AuthorizeYank(ctx context.Context, p *identity.Principal, packageName string) error {
	d, err := r.Authorize(ctx, p, packageName)
	if err != nil {
		return err
	}
	if d.IsClaim {
		return registryerr.New(registryerr.KindPackageNotFound, "package does not exist")
	}
	if !d.Authorized {
		return registryerr.New(registryerr.KindForbidden, "principal is not authorized to yank this version")
	}
	return nil
}

// EstablishInitialTrustedPublisher records the federated source repository
// as the implicit initial trusted publisher when a federated identity
// claims a new package, per §4.7 rule 1.
func (r *Registry) EstablishInitialTrustedPublisher(ctx context.Context, packageID uuid.UUID, p *identity.Principal) error {
	if !p.Federated {
		return nil
	}
	if err := r.store.AddTrustedPublisher(ctx, packageID, p.Provider, p.Repository, p.Workflow, p.Environment); err != nil {
		return err
	}
	log.Info().
		Str("package_id", packageID.String()).
		Str("repository", p.Repository).
		Msg("recorded implicit initial trusted publisher for claimed package")
	return nil
}

// AddCollaborator is an owner-only mutation: it returns forbidden unless
// actingPrincipal is the package's owner.
func (r *Registry) AddCollaborator(ctx context.Context, actingPrincipal *identity.Principal, packageName, newCollaborator string) error {
	pkg, err := r.store.GetPackageByName(ctx, packageName)
	if errors.Is(err, store.ErrNotFound) {
		return registryerr.New(registryerr.KindPackageNotFound, "package does not exist")
	}
	if err != nil {
		return err
	}
	if pkg.OwnerID != actingPrincipal.ID {
		return registryerr.New(registryerr.KindForbidden, "only the owner may manage collaborators").
			WithDetails(map[string]interface{}{"reason": registryerr.ReasonNotOwner})
	}
	return r.store.AddCollaborator(ctx, pkg.ID, newCollaborator)
}

// AddTrustedPublisher is an owner-only mutation, adding a rule permitting a
// federated identity with matching claims to publish without a stored secret.
func (r *Registry) AddTrustedPublisher(ctx context.Context, actingPrincipal *identity.Principal, packageName, provider, repository, workflow, environment string) error {
	pkg, err := r.store.GetPackageByName(ctx, packageName)
	if errors.Is(err, store.ErrNotFound) {
		return registryerr.New(registryerr.KindPackageNotFound, "package does not exist")
	}
	if err != nil {
		return err
	}
	if pkg.OwnerID != actingPrincipal.ID {
		return registryerr.New(registryerr.KindForbidden, "only the owner may manage trusted publishers").
			WithDetails(map[string]interface{}{"reason": registryerr.ReasonNotOwner})
	}
	return r.store.AddTrustedPublisher(ctx, pkg.ID, provider, repository, workflow, environment)
}
