package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldcache/registry/internal/digest"
	"github.com/worldcache/registry/internal/fetcher"
	"github.com/worldcache/registry/internal/identity"
	"github.com/worldcache/registry/internal/ownership"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
)

// stubFetcher answers FetchAndVerify from a fixed table keyed by URL,
// standing in for the Artifact Fetcher so these tests exercise the
// coordinator's own logic without real network I/O.
type stubFetcher struct {
	byURL map[string]*fetcher.Result
	err   error
}

func (s *stubFetcher) FetchAndVerify(ctx context.Context, rawURL, declaredDigest string, declaredSize int64, kind ...string) (*fetcher.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	res, ok := s.byURL[rawURL]
	if !ok {
		return nil, registryerr.New(registryerr.KindURLUnreachable, "no stub registered for url")
	}
	if res.Digest != declaredDigest {
		return nil, registryerr.New(registryerr.KindDigestMismatch, "digest does not match declared value")
	}
	if res.Size != declaredSize {
		return nil, registryerr.New(registryerr.KindSizeMismatch, "size does not match declared value")
	}
	return res, nil
}

func newTestCoordinator(t *testing.T, f verifyingFetcher) (*Coordinator, *store.Store) {
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	own := ownership.New(st)
	c := New(st, own, f, &config.FetchConfig{MaxConcurrent: 8})
	return c, st
}

func manifestBody(t *testing.T, name, version string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"name":               name,
		"version":            version,
		"game":               "Pokemon Emerald",
		"minimum_ap_version": "0.4.0",
		"entry_points":       map[string]string{"pokemon_emerald": "pokemon_emerald.world:World"},
	})
	require.NoError(t, err)
	return body
}

func digestOf(t *testing.T, s string) (string, int64) {
	t.Helper()
	sum, size, err := digest.Of(bytes.NewReader([]byte(s)))
	require.NoError(t, err)
	return sum, size
}

func TestPublish_FirstPublishClaims(t *testing.T) {
	sum, size := digestOf(t, "island-bytes")
	url := "https://artifacts.example.com/pokemon_emerald-1.0.0.tar.gz"
	f := &stubFetcher{byURL: map[string]*fetcher.Result{url: {Digest: sum, Size: size}}}
	c, st := newTestCoordinator(t, f)

	req := PublishRequest{
		ManifestBody: manifestBody(t, "pokemon-emerald", "1.0.0"),
		Distributions: []DistributionRequest{
			{Filename: "pokemon_emerald-1.0.0.tar.gz", URL: url, DeclaredDigest: sum, DeclaredSize: size},
		},
	}

	v, err := c.Publish(context.Background(), &identity.Principal{ID: "alice"}, req)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.Version)

	pkg, err := st.GetPackageByName(context.Background(), "pokemon_emerald")
	require.NoError(t, err)
	assert.Equal(t, "alice", pkg.OwnerID)
}

func TestPublish_HTTPSRequired(t *testing.T) {
	c, _ := newTestCoordinator(t, &stubFetcher{})
	req := PublishRequest{
		ManifestBody: manifestBody(t, "pokemon-emerald", "1.0.0"),
		Distributions: []DistributionRequest{
			{
				Filename:       "pokemon_emerald-1.0.0.tar.gz",
				URL:            "http://example.com/a.tar.gz",
				DeclaredDigest: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
				DeclaredSize:   0,
			},
		},
	}

	_, err := c.Publish(context.Background(), &identity.Principal{ID: "alice"}, req)
	assert.Equal(t, registryerr.KindURLNotHTTPS, registryerr.KindOf(err))
}

func TestPublish_DigestMismatchAbortsWithNoCommit(t *testing.T) {
	sum, size := digestOf(t, "actual-bytes")
	url := "https://artifacts.example.com/pokemon_emerald-1.0.0.tar.gz"
	f := &stubFetcher{byURL: map[string]*fetcher.Result{url: {Digest: sum, Size: size}}}
	c, st := newTestCoordinator(t, f)

	req := PublishRequest{
		ManifestBody: manifestBody(t, "pokemon-emerald", "1.0.0"),
		Distributions: []DistributionRequest{
			{
				Filename:       "pokemon_emerald-1.0.0.tar.gz",
				URL:            url,
				DeclaredDigest: "0000000000000000000000000000000000000000000000000000000000000000"[:64],
				DeclaredSize:   size,
			},
		},
	}

	_, err := c.Publish(context.Background(), &identity.Principal{ID: "alice"}, req)
	assert.Equal(t, registryerr.KindDigestMismatch, registryerr.KindOf(err))

	_, err = st.GetPackageByName(context.Background(), "pokemon_emerald")
	assert.Equal(t, store.ErrNotFound, err)
}

func TestPublish_InvalidFilenameRejectedBeforeFetch(t *testing.T) {
	f := &stubFetcher{err: registryerr.New(registryerr.KindURLUnreachable, "should never be called")}
	c, _ := newTestCoordinator(t, f)

	req := PublishRequest{
		ManifestBody: manifestBody(t, "pokemon-emerald", "1.0.0"),
		Distributions: []DistributionRequest{
			{Filename: "not-a-valid-filename.zip", URL: "https://example.com/x.zip", DeclaredDigest: "abc", DeclaredSize: 1},
		},
	}

	_, err := c.Publish(context.Background(), &identity.Principal{ID: "alice"}, req)
	assert.Equal(t, registryerr.KindInvalidFilename, registryerr.KindOf(err))
}

func TestPublish_SecondVersionFromNonOwnerForbidden(t *testing.T) {
	sum1, size1 := digestOf(t, "bytes-v1")
	sum2, size2 := digestOf(t, "bytes-v2")
	url1 := "https://artifacts.example.com/pokemon_emerald-1.0.0.tar.gz"
	url2 := "https://artifacts.example.com/pokemon_emerald-1.1.0.tar.gz"
	f := &stubFetcher{byURL: map[string]*fetcher.Result{
		url1: {Digest: sum1, Size: size1},
		url2: {Digest: sum2, Size: size2},
	}}
	c, st := newTestCoordinator(t, f)

	_, err := c.Publish(context.Background(), &identity.Principal{ID: "alice"}, PublishRequest{
		ManifestBody: manifestBody(t, "pokemon-emerald", "1.0.0"),
		Distributions: []DistributionRequest{
			{Filename: "pokemon_emerald-1.0.0.tar.gz", URL: url1, DeclaredDigest: sum1, DeclaredSize: size1},
		},
	})
	require.NoError(t, err)

	_, err = c.Publish(context.Background(), &identity.Principal{ID: "mallory"}, PublishRequest{
		ManifestBody: manifestBody(t, "pokemon-emerald", "1.1.0"),
		Distributions: []DistributionRequest{
			{Filename: "pokemon_emerald-1.1.0.tar.gz", URL: url2, DeclaredDigest: sum2, DeclaredSize: size2},
		},
	})
	assert.Equal(t, registryerr.KindForbidden, registryerr.KindOf(err))

	_, err = st.GetVersion(context.Background(), "pokemon_emerald", "1.1.0")
	assert.Equal(t, store.ErrNotFound, err)
}

func TestPublish_IdempotentReplayAcknowledged(t *testing.T) {
	sum, size := digestOf(t, "bytes-v1")
	url := "https://artifacts.example.com/pokemon_emerald-1.0.0.tar.gz"
	f := &stubFetcher{byURL: map[string]*fetcher.Result{url: {Digest: sum, Size: size}}}
	c, _ := newTestCoordinator(t, f)

	req := PublishRequest{
		ManifestBody: manifestBody(t, "pokemon-emerald", "1.0.0"),
		Distributions: []DistributionRequest{
			{Filename: "pokemon_emerald-1.0.0.tar.gz", URL: url, DeclaredDigest: sum, DeclaredSize: size},
		},
	}

	first, err := c.Publish(context.Background(), &identity.Principal{ID: "alice"}, req)
	require.NoError(t, err)

	second, err := c.Publish(context.Background(), &identity.Principal{ID: "alice"}, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestYank_RequiresAuthorization(t *testing.T) {
	sum, size := digestOf(t, "bytes")
	url := "https://artifacts.example.com/pokemon_emerald-1.0.0.tar.gz"
	f := &stubFetcher{byURL: map[string]*fetcher.Result{url: {Digest: sum, Size: size}}}
	c, _ := newTestCoordinator(t, f)

	req := PublishRequest{
		ManifestBody: manifestBody(t, "pokemon-emerald", "1.0.0"),
		Distributions: []DistributionRequest{
			{Filename: "pokemon_emerald-1.0.0.tar.gz", URL: url, DeclaredDigest: sum, DeclaredSize: size},
		},
	}
	_, err := c.Publish(context.Background(), &identity.Principal{ID: "alice"}, req)
	require.NoError(t, err)

	err = c.Yank(context.Background(), &identity.Principal{ID: "mallory"}, "pokemon_emerald", "1.0.0", "broken")
	assert.Equal(t, registryerr.KindForbidden, registryerr.KindOf(err))

	err = c.Yank(context.Background(), &identity.Principal{ID: "alice"}, "pokemon_emerald", "1.0.0", "broken")
	assert.NoError(t, err)
}
