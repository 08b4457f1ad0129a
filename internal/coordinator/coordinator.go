// Package coordinator implements the Registration Coordinator: the single
// publish operation that ties together manifest validation, authorization,
// filename agreement, concurrent artifact verification, and atomic commit.
// It is the only writer path into the store besides ownership mutation and
// yank.
package coordinator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/worldcache/registry/internal/digest"
	"github.com/worldcache/registry/internal/fetcher"
	"github.com/worldcache/registry/internal/filenaming"
	"github.com/worldcache/registry/internal/identity"
	"github.com/worldcache/registry/internal/manifest"
	"github.com/worldcache/registry/internal/ownership"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/internal/versioning"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
)

// DistributionRequest is one entry of a publish request's distributions array.
type DistributionRequest struct {
	Filename        string
	URL             string
	DeclaredDigest  string
	DeclaredSize    int64
	PlatformTagWire string
}

// PublishRequest is the fully-decoded body of a POST /register call.
type PublishRequest struct {
	ManifestBody  []byte
	Distributions []DistributionRequest
}

// verifyingFetcher is the narrow dependency the coordinator needs from the
// Artifact Fetcher, accepted as an interface so tests can substitute a stub
// without standing up a real HTTPS server.
type verifyingFetcher interface {
	FetchAndVerify(ctx context.Context, rawURL, declaredDigest string, declaredSize int64, kind ...string) (*fetcher.Result, error)
}

// Coordinator orchestrates the publish pipeline.
type Coordinator struct {
	store       *store.Store
	ownership   *ownership.Registry
	fetcher     verifyingFetcher
	concurrency int
}

// New constructs a Coordinator. cfg supplies the per-publish fetch
// concurrency cap (§9 "Async fetch fan-out").
func New(st *store.Store, own *ownership.Registry, f verifyingFetcher, cfg *config.FetchConfig) *Coordinator {
	return &Coordinator{store: st, ownership: own, fetcher: f, concurrency: fetcher.FetchConcurrencyLimit(cfg)}
}

// verifiedDistribution is a distribution that has passed filename agreement
// and fetch verification and is ready to commit.
type verifiedDistribution struct {
	in     DistributionRequest
	parsed *filenaming.Filename
	kind   string
}

// Publish runs the full registration pipeline for p as principal.
// Received → Authenticated is assumed already done by the caller (the HTTP
// layer resolves the principal before calling Publish); this method covers
// Authorized → Validated → Fetching → Verified → Committed.
func (c *Coordinator) Publish(ctx context.Context, p *identity.Principal, req PublishRequest) (*store.Version, error) {
	m, err := manifest.Parse(req.ManifestBody)
	if err != nil {
		return nil, err
	}

	pkgName := filenaming.NormalizeName(m.Name)

	decision, err := c.ownership.Authorize(ctx, p, pkgName)
	if err != nil {
		return nil, err
	}

	if len(req.Distributions) == 0 {
		return nil, registryerr.New(registryerr.KindInvalidManifest, "a publish must include at least one distribution")
	}

	verified, err := validateDistributions(m, req.Distributions)
	if err != nil {
		return nil, err
	}

	existing, err := c.checkIdempotentReplay(ctx, p, pkgName, m, verified)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	fetchResults, err := c.fetchAll(ctx, verified)
	if err != nil {
		return nil, err
	}

	in := buildPublishInput(m, p, verified, fetchResults)
	in.IsClaim = decision.IsClaim

	v, err := c.store.CommitPublish(ctx, in)
	if err != nil {
		return nil, err
	}

	if decision.IsClaim {
		if err := c.ownership.EstablishInitialTrustedPublisher(ctx, v.PackageID, p); err != nil {
			log.Warn().Err(err).Str("package", m.Name).Msg("failed to record initial trusted publisher")
		}
	}

	return v, nil
}

// validateDistributions runs §4.8 step 3 over every distribution: filename
// parse, name/version/tag agreement with the manifest, HTTPS scheme, and
// declared-digest width.
func validateDistributions(m *manifest.Manifest, reqs []DistributionRequest) ([]verifiedDistribution, error) {
	out := make([]verifiedDistribution, 0, len(reqs))
	for _, d := range reqs {
		parsed, err := filenaming.Parse(d.Filename)
		if err != nil {
			return nil, err
		}

		var tag *filenaming.PlatformTag
		if d.PlatformTagWire != "" {
			pt, err := filenaming.ParsePlatformTag(d.PlatformTagWire)
			if err != nil {
				return nil, err
			}
			tag = &pt
		}
		if err := filenaming.Agreement(parsed, m.Name, m.Version, tag); err != nil {
			return nil, err
		}

		if !strings.HasPrefix(d.URL, "https://") {
			return nil, registryerr.Newf(registryerr.KindURLNotHTTPS, "distribution %q is not served over https", d.Filename).
				WithDetails(map[string]interface{}{"filename": d.Filename, "url": d.URL})
		}

		if !digest.ValidHexDigest(d.DeclaredDigest) {
			return nil, registryerr.Newf(registryerr.KindInvalidManifest, "distribution %q declares a malformed sha256 digest", d.Filename).
				WithDetails(map[string]interface{}{"filename": d.Filename})
		}

		kind := "source"
		if parsed.Kind == filenaming.KindBinary {
			kind = "binary"
		}
		out = append(out, verifiedDistribution{in: d, parsed: parsed, kind: kind})
	}
	return out, nil
}

// manifestRawEqual compares two JSON-object-shaped maps for structural
// equality by marshaling both; encoding/json sorts map keys, so this is
// insensitive to insertion order.
func manifestRawEqual(a, b map[string]interface{}) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// checkIdempotentReplay implements §4.8 step 4's idempotency exception: a
// prior version with the same (name, version) from the same principal,
// carrying a byte-identical manifest and an identical distribution set, is
// acknowledged as success rather than rejected with version-exists.
func (c *Coordinator) checkIdempotentReplay(ctx context.Context, p *identity.Principal, pkgName string, m *manifest.Manifest, verified []verifiedDistribution) (*store.Version, error) {
	existing, err := c.store.GetVersion(ctx, pkgName, m.Version)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if existing.PublisherID != p.ID {
		return nil, registryerr.New(registryerr.KindVersionExists, "version already exists")
	}
	if !manifestRawEqual(m.Raw, existing.Manifest) {
		return nil, registryerr.New(registryerr.KindVersionExists, "version already exists")
	}
	if len(existing.Distributions) != len(verified) {
		return nil, registryerr.New(registryerr.KindVersionExists, "version already exists")
	}
	byFilename := make(map[string]store.Distribution, len(existing.Distributions))
	for _, d := range existing.Distributions {
		byFilename[d.Filename] = d
	}
	for _, v := range verified {
		prior, ok := byFilename[v.in.Filename]
		if !ok || prior.Digest != v.in.DeclaredDigest || prior.Size != v.in.DeclaredSize || prior.URL != v.in.URL {
			return nil, registryerr.New(registryerr.KindVersionExists, "version already exists")
		}
	}
	return existing, nil
}

// fetchAll verifies every distribution's artifact concurrently, bounded by
// fetcher.FetchConcurrencyLimit, aborting siblings on the first failure per
// §4.8 step 5 / §9 "Async fetch fan-out".
func (c *Coordinator) fetchAll(ctx context.Context, verified []verifiedDistribution) (map[string]*fetcher.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, c.concurrency)

	results := make(map[string]*fetcher.Result, len(verified))
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, len(verified))

	for _, v := range verified {
		v := v
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := c.fetcher.FetchAndVerify(ctx, v.in.URL, v.in.DeclaredDigest, v.in.DeclaredSize, v.kind)
			if err != nil {
				wrapped := wrapFetchError(err, v.in.Filename, v.in.URL)
				select {
				case errCh <- wrapped:
				default:
				}
				cancel()
				return
			}
			mu.Lock()
			results[v.in.Filename] = res
			mu.Unlock()
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, err
	}
	return results, nil
}

func wrapFetchError(err error, filename, url string) error {
	if rerr, ok := err.(*registryerr.Error); ok {
		if rerr.Details == nil {
			rerr.Details = map[string]interface{}{}
		}
		rerr.Details["filename"] = filename
		rerr.Details["url"] = url
		return rerr
	}
	return err
}

func buildPublishInput(m *manifest.Manifest, p *identity.Principal, verified []verifiedDistribution, results map[string]*fetcher.Result) store.PublishInput {
	sv := versioning.MustParse(m.Version)

	entryPoints := make(map[string]interface{}, len(m.EntryPoints))
	for id, target := range m.EntryPoints {
		entryPoints[id] = target
	}

	dists := make([]store.DistributionInput, 0, len(verified))
	for _, v := range verified {
		res := results[v.in.Filename]
		dists = append(dists, store.DistributionInput{
			Filename: v.in.Filename,
			URL:      v.in.URL,
			Digest:   res.Digest,
			Size:     res.Size,
			Kind:     v.kind,
			Python:   v.parsed.Platform.Python,
			ABI:      v.parsed.Platform.ABI,
			Platform: v.parsed.Platform.Platform,
		})
	}

	in := store.PublishInput{
		PackageName:      filenaming.NormalizeName(m.Name),
		DisplayName:      m.Name,
		Game:             m.Game,
		Description:      m.Description,
		Homepage:         m.Homepage,
		Keywords:         m.Keywords,
		Version:          m.Version,
		SortKey:          sv.SortKey(),
		Manifest:         map[string]interface{}(m.Raw),
		EntryPoints:      entryPoints,
		MinimumAPVersion: m.MinimumAPVersion,
		MaximumAPVersion: m.MaximumAPVersion,
		PublisherID:      p.ID,
		Distributions:    dists,
	}

	if p.Federated {
		in.ProvenanceRepo = p.Repository
		in.ProvenanceWorkflow = p.Workflow
		in.ProvenanceCommit = p.CommitSHA
		now := time.Now()
		in.ProvenanceBuiltAt = &now
	}

	return in
}

// Yank sets the yanked flag on an existing version, after confirming p is
// authorized to mutate the package.
func (c *Coordinator) Yank(ctx context.Context, p *identity.Principal, packageName, version, reason string) error {
	if err := c.ownership.AuthorizeYank(ctx, p, packageName); err != nil {
		return err
	}
	return c.store.Yank(ctx, packageName, version, reason)
}
