package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldcache/registry/pkg/registryerr"
)

func newTestStore(t *testing.T) *Store {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePublish(name, version string) PublishInput {
	return PublishInput{
		PackageName:      name,
		DisplayName:      "Pokemon Emerald",
		Game:             "Pokemon Emerald",
		Version:          version,
		SortKey:          "sortkey-" + version,
		Manifest:         map[string]interface{}{"name": name, "version": version},
		EntryPoints:      map[string]interface{}{"pokemon_emerald": "pokemon_emerald.world:World"},
		MinimumAPVersion: "0.5.0",
		PublisherID:      "alice",
		IsClaim:          true,
		Distributions: []DistributionInput{
			{Filename: name + "-" + version + ".tar.gz", URL: "https://example.com/a.tar.gz", Digest: "deadbeef", Size: 10, Kind: "source"},
		},
	}
}

func TestCommitPublish_ClaimAndCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.CommitPublish(ctx, samplePublish("pokemon-emerald", "1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.Version)

	pkg, err := s.GetPackageByName(ctx, "pokemon-emerald")
	require.NoError(t, err)
	assert.Equal(t, "alice", pkg.OwnerID)
}

func TestCommitPublish_DuplicateVersionRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CommitPublish(ctx, samplePublish("pokemon-emerald", "1.0.0"))
	require.NoError(t, err)

	_, err = s.CommitPublish(ctx, samplePublish("pokemon-emerald", "1.0.0"))
	assert.Equal(t, registryerr.KindVersionExists, registryerr.KindOf(err))
}

func TestCommitPublish_SecondVersionDoesNotReclaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in1 := samplePublish("pokemon-emerald", "1.0.0")
	_, err := s.CommitPublish(ctx, in1)
	require.NoError(t, err)

	in2 := samplePublish("pokemon-emerald", "1.1.0")
	in2.PublisherID = "bob"
	in2.IsClaim = false
	_, err = s.CommitPublish(ctx, in2)
	require.NoError(t, err)

	pkg, err := s.GetPackageByName(ctx, "pokemon-emerald")
	require.NoError(t, err)
	assert.Equal(t, "alice", pkg.OwnerID, "ownership must not change on a later version publish")
}

func TestYank(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CommitPublish(ctx, samplePublish("pokemon-emerald", "1.0.0"))
	require.NoError(t, err)

	require.NoError(t, s.Yank(ctx, "pokemon-emerald", "1.0.0", "security issue"))

	v, err := s.GetVersion(ctx, "pokemon-emerald", "1.0.0")
	require.NoError(t, err)
	assert.True(t, v.Yanked)
	assert.Equal(t, "security issue", v.YankReason)
}

func TestYank_UnknownVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CommitPublish(ctx, samplePublish("pokemon-emerald", "1.0.0"))
	require.NoError(t, err)

	err = s.Yank(ctx, "pokemon-emerald", "9.9.9", "nope")
	assert.Equal(t, registryerr.KindVersionNotFound, registryerr.KindOf(err))
}

func TestListPackages_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		name := []string{"alpha", "beta", "gamma"}[i]
		_, err := s.CommitPublish(ctx, samplePublish(name, "1.0.0"))
		require.NoError(t, err)
	}

	packages, total, err := s.ListPackages(ctx, ListPackagesParams{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, packages, 2)
}

func TestAPIToken_LifeCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok, err := s.CreateAPIToken(ctx, "alice", "ci-token", "hash123", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", tok.PrincipalID)

	found, err := s.LookupAPIToken(ctx, "hash123")
	require.NoError(t, err)
	assert.Equal(t, tok.ID, found.ID)

	_, err = s.LookupAPIToken(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}
