package fetcher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldcache/registry/internal/digest"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(content)), Mode: 0644}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

func testConfig() *config.FetchConfig {
	return &config.FetchConfig{
		MaxSizeBytes:  1024,
		Timeout:       5 * time.Second,
		MaxRedirects:  3,
		MaxConcurrent: 8,
	}
}

// newTLSTestFetcher builds a Fetcher whose client trusts srv's self-signed
// certificate, keeping New's redirect policy.
func newTLSTestFetcher(cfg *config.FetchConfig, srv *httptest.Server) *Fetcher {
	f := New(cfg)
	f.client.Transport = srv.Client().Transport
	return f
}

func TestFetchAndVerify_Success(t *testing.T) {
	body := []byte("artifact-bytes")
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sum, size, err := digest.Of(bytes.NewReader(body))
	assert.NoError(t, err)

	f := newTLSTestFetcher(testConfig(), srv)
	res, err := f.FetchAndVerify(context.Background(), srv.URL, sum, size)
	assert.NoError(t, err)
	assert.Equal(t, sum, res.Digest)
	assert.Equal(t, size, res.Size)
}

func TestFetchAndVerify_NotHTTPS(t *testing.T) {
	f := New(testConfig())
	_, err := f.FetchAndVerify(context.Background(), "http://example.com/a.tar.gz", "x", 1)
	assert.Equal(t, registryerr.KindURLNotHTTPS, registryerr.KindOf(err))
}

func TestFetchAndVerify_DigestMismatch(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("actual-bytes"))
	}))
	defer srv.Close()

	f := newTLSTestFetcher(testConfig(), srv)
	_, err := f.FetchAndVerify(context.Background(), srv.URL, "0000000000000000000000000000000000000000000000000000000000000000", 12)
	assert.Equal(t, registryerr.KindDigestMismatch, registryerr.KindOf(err))
}

func TestFetchAndVerify_SizeLimitExceeded(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 2048)
		w.Write(buf)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxSizeBytes = 100
	f := newTLSTestFetcher(cfg, srv)
	_, err := f.FetchAndVerify(context.Background(), srv.URL, "irrelevant", 2048)
	assert.Equal(t, registryerr.KindSizeLimitExceed, registryerr.KindOf(err))
}

func TestFetchAndVerify_Unreachable(t *testing.T) {
	f := New(testConfig())
	_, err := f.FetchAndVerify(context.Background(), "https://127.0.0.1:1/nonexistent", "x", 1)
	assert.Error(t, err)
}

func TestFetchAndVerify_SourceArchiveValid(t *testing.T) {
	body := buildTarGz(t, map[string]string{"package/manifest.json": `{"name":"pokemon_emerald"}`})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sum, size, err := digest.Of(bytes.NewReader(body))
	require.NoError(t, err)

	f := newTLSTestFetcher(testConfig(), srv)
	res, err := f.FetchAndVerify(context.Background(), srv.URL, sum, size, KindSource)
	require.NoError(t, err)
	assert.Equal(t, sum, res.Digest)
}

func TestFetchAndVerify_SourceArchiveMissingManifestRejected(t *testing.T) {
	body := buildTarGz(t, map[string]string{"package/readme.txt": "hello"})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sum, size, err := digest.Of(bytes.NewReader(body))
	require.NoError(t, err)

	f := newTLSTestFetcher(testConfig(), srv)
	_, err = f.FetchAndVerify(context.Background(), srv.URL, sum, size, KindSource)
	assert.Equal(t, registryerr.KindInvalidManifest, registryerr.KindOf(err))
}

func TestFetchAndVerify_BinaryKindSkipsArchiveInspection(t *testing.T) {
	body := []byte("not-an-archive-but-thats-fine-for-binary")
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sum, size, err := digest.Of(bytes.NewReader(body))
	require.NoError(t, err)

	f := newTLSTestFetcher(testConfig(), srv)
	res, err := f.FetchAndVerify(context.Background(), srv.URL, sum, size, "binary")
	require.NoError(t, err)
	assert.Equal(t, sum, res.Digest)
}

func TestFetchConcurrencyLimit_Default(t *testing.T) {
	assert.Equal(t, 8, FetchConcurrencyLimit(&config.FetchConfig{}))
	assert.Equal(t, 4, FetchConcurrencyLimit(&config.FetchConfig{MaxConcurrent: 4}))
}
