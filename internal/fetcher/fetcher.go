// Package fetcher implements the registry's Artifact Fetcher: a verifying
// HTTPS-only fetch of a registered distribution URL, streaming the body
// into the Digest Service while enforcing size, scheme, redirect, and
// deadline policy. It never persists the fetched bytes; the buffer it uses
// while streaming is bounded and discarded once verification completes.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/worldcache/registry/internal/digest"
	"github.com/worldcache/registry/internal/storage"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
)

// KindSource marks a distribution as a source archive to FetchAndVerify, so
// it also runs InspectSourceArchive over the fetched bytes before accepting
// them. Any other (or absent) kind skips archive inspection.
const KindSource = "source"

// Fetcher performs verifying fetches against externally hosted artifacts.
type Fetcher struct {
	client *http.Client
	cfg    *config.FetchConfig
}

// New constructs a Fetcher. The underlying client enforces cfg.MaxRedirects
// and re-validates HTTPS on every redirect hop.
func New(cfg *config.FetchConfig) *Fetcher {
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > cfg.MaxRedirects {
				return registryerr.Newf(registryerr.KindURLRedirectLimit, "exceeded %d redirects", cfg.MaxRedirects)
			}
			if req.URL.Scheme != "https" {
				return registryerr.New(registryerr.KindURLNotHTTPS, "redirect target is not https")
			}
			return nil
		},
	}
	return &Fetcher{client: client, cfg: cfg}
}

// Result is the outcome of a verified fetch.
type Result struct {
	Digest string
	Size   int64
}

// FetchAndVerify performs HEAD then GET against rawURL, streams the body
// into a digest.Stream, and verifies the running size and final digest
// against the declared values. It aborts before any network call if the
// scheme is not https. An optional trailing kind argument of KindSource
// additionally tees the stream into InspectSourceArchive, so a malformed or
// manifest-less source archive is rejected before its digest is committed.
func (f *Fetcher) FetchAndVerify(ctx context.Context, rawURL, declaredDigest string, declaredSize int64, kind ...string) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindURLUnreachable, "malformed artifact URL", err)
	}
	if parsed.Scheme != "https" {
		return nil, registryerr.Newf(registryerr.KindURLNotHTTPS, "artifact URL scheme %q is not https", parsed.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if err := f.probe(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindURLUnreachable, "failed to build request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, registryerr.Newf(registryerr.KindURLUnreachable, "artifact URL returned HTTP %d", resp.StatusCode)
	}

	stream := digest.NewStream()
	ceiling := f.cfg.MaxSizeBytes
	limited := io.LimitReader(resp.Body, ceiling+1)

	var archiveBuf bytes.Buffer
	inspectArchive := len(kind) > 0 && kind[0] == KindSource
	var dst io.Writer = stream
	if inspectArchive {
		dst = io.MultiWriter(stream, &archiveBuf)
	}

	if _, err := io.Copy(dst, limited); err != nil {
		return nil, classifyNetworkError(err)
	}

	if stream.Size() > ceiling {
		return nil, registryerr.Newf(registryerr.KindSizeLimitExceed, "artifact exceeds the %d byte size ceiling", ceiling).
			WithDetails(map[string]interface{}{"ceiling": ceiling})
	}

	if err := digest.Verify(stream, declaredDigest, declaredSize); err != nil {
		return nil, err
	}

	if inspectArchive {
		if err := inspectViaScratchStorage(ctx, &archiveBuf); err != nil {
			return nil, err
		}
	}

	return &Result{Digest: stream.Sum(), Size: stream.Size()}, nil
}

// inspectViaScratchStorage stages a source archive through internal/storage's
// local atomic-write blob store before inspecting it, the way the teacher's
// own storage layer writes to a temp path and renames into place. The
// staging directory is removed once inspection finishes, successfully or
// not: this archive is never a permanent artifact, only a scratch buffer for
// the duration of one fetch-and-verify call.
func inspectViaScratchStorage(ctx context.Context, body *bytes.Buffer) error {
	scratchDir, err := os.MkdirTemp("", "worldcache-fetch-*")
	if err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "failed to create fetch scratch directory", err)
	}
	defer os.RemoveAll(scratchDir)

	blobs, err := storage.NewLocalStorage(scratchDir)
	if err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "failed to open fetch scratch storage", err)
	}

	const scratchPath = "source-archive.tar.gz"
	if err := blobs.Store(ctx, scratchPath, bytes.NewReader(body.Bytes()), "application/gzip"); err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "failed to stage source archive", err)
	}
	defer blobs.Delete(ctx, scratchPath)

	rc, err := blobs.Retrieve(ctx, scratchPath)
	if err != nil {
		return registryerr.Wrap(registryerr.KindInternal, "failed to read staged source archive", err)
	}
	defer rc.Close()

	return InspectSourceArchive(rc)
}

// probe issues a HEAD request first, the way a well-behaved HTTP client
// checks reachability without downloading the body. A HEAD failure that
// isn't a definitive rejection is tolerated: some artifact hosts don't
// implement HEAD, and the subsequent GET is authoritative either way.
func (f *Fetcher) probe(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil
	}
	resp, err := f.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", rawURL).Msg("HEAD probe failed, proceeding to GET")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return registryerr.Newf(registryerr.KindURLUnreachable, "artifact URL returned HTTP %d on HEAD", resp.StatusCode)
	}
	return nil
}

func classifyNetworkError(err error) error {
	if rerr, ok := err.(*registryerr.Error); ok {
		return rerr
	}
	if urlErr, ok := err.(*url.Error); ok {
		if urlErr.Timeout() {
			return registryerr.Wrap(registryerr.KindFetchTimeout, "artifact fetch timed out", err)
		}
		if inner, ok := urlErr.Err.(*registryerr.Error); ok {
			return inner
		}
	}
	return registryerr.Wrap(registryerr.KindURLUnreachable, "artifact fetch failed", err)
}

// FetchConcurrencyLimit bounds how many distribution fetches a single
// publish may run in parallel, per §9 "Async fetch fan-out".
func FetchConcurrencyLimit(cfg *config.FetchConfig) int {
	if cfg.MaxConcurrent <= 0 {
		return 8
	}
	return cfg.MaxConcurrent
}
