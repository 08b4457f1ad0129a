package ownership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldcache/registry/internal/identity"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/pkg/registryerr"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func TestAuthorize_NewPackageIsClaim(t *testing.T) {
	r, _ := newTestRegistry(t)
	d, err := r.Authorize(context.Background(), &identity.Principal{ID: "alice"}, "pokemon-emerald")
	require.NoError(t, err)
	assert.True(t, d.Authorized)
	assert.True(t, d.IsClaim)
}

func TestAuthorize_OwnerAuthorized(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()
	_, err := st.CommitPublish(ctx, samplePublish("pokemon-emerald", "alice"))
	require.NoError(t, err)

	d, err := r.Authorize(ctx, &identity.Principal{ID: "alice"}, "pokemon-emerald")
	require.NoError(t, err)
	assert.True(t, d.Authorized)
	assert.False(t, d.IsClaim)
}

func TestAuthorize_NonOwnerForbidden(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()
	_, err := st.CommitPublish(ctx, samplePublish("pokemon-emerald", "alice"))
	require.NoError(t, err)

	d, err := r.Authorize(ctx, &identity.Principal{ID: "mallory"}, "pokemon-emerald")
	assert.False(t, d.Authorized)
	assert.Equal(t, registryerr.KindForbidden, registryerr.KindOf(err))
}

func TestAuthorize_Collaborator(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()
	_, err := st.CommitPublish(ctx, samplePublish("pokemon-emerald", "alice"))
	require.NoError(t, err)

	require.NoError(t, r.AddCollaborator(ctx, &identity.Principal{ID: "alice"}, "pokemon-emerald", "bob"))

	d, err := r.Authorize(ctx, &identity.Principal{ID: "bob"}, "pokemon-emerald")
	require.NoError(t, err)
	assert.True(t, d.Authorized)
}

func TestAuthorize_TrustedPublisherMatch(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()
	_, err := st.CommitPublish(ctx, samplePublish("pokemon-emerald", "alice"))
	require.NoError(t, err)

	require.NoError(t, r.AddTrustedPublisher(ctx, &identity.Principal{ID: "alice"}, "pokemon-emerald", "github", "org/repo", ".github/workflows/release.yml", ""))

	fed := &identity.Principal{ID: "federated:github:org/repo", Federated: true, Provider: "github", Repository: "org/repo", Workflow: ".github/workflows/release.yml"}
	d, err := r.Authorize(ctx, fed, "pokemon-emerald")
	require.NoError(t, err)
	assert.True(t, d.Authorized)
}

func TestAuthorize_TrustedPublisherNoMatch(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()
	_, err := st.CommitPublish(ctx, samplePublish("pokemon-emerald", "alice"))
	require.NoError(t, err)

	fed := &identity.Principal{ID: "federated:github:org/other", Federated: true, Provider: "github", Repository: "org/other", Workflow: "x"}
	d, err := r.Authorize(ctx, fed, "pokemon-emerald")
	assert.False(t, d.Authorized)
	assert.Equal(t, registryerr.KindForbidden, registryerr.KindOf(err))
}

func TestAddCollaborator_NonOwnerDenied(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()
	_, err := st.CommitPublish(ctx, samplePublish("pokemon-emerald", "alice"))
	require.NoError(t, err)

	err = r.AddCollaborator(ctx, &identity.Principal{ID: "mallory"}, "pokemon-emerald", "bob")
	assert.Equal(t, registryerr.KindForbidden, registryerr.KindOf(err))
}

func samplePublish(name, owner string) store.PublishInput {
	return store.PublishInput{
		PackageName:      name,
		DisplayName:      name,
		Game:             "Some Game",
		Version:          "1.0.0",
		SortKey:          "1",
		Manifest:         map[string]interface{}{"name": name},
		EntryPoints:      map[string]interface{}{"a": "b"},
		MinimumAPVersion: "0.1.0",
		PublisherID:      owner,
		IsClaim:          true,
		Distributions: []store.DistributionInput{
			{Filename: name + "-1.0.0.tar.gz", URL: "https://example.com/a.tar.gz", Digest: "abc", Size: 1, Kind: "source"},
		},
	}
}
