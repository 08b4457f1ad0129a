// Package discovery implements the Discovery Engine (§4.10): the read-only
// query surface over committed packages, versions, and distributions. Every
// query hits the store directly rather than a denormalized index, so a
// snapshot or search always reflects every write that has already returned
// success — there is no cache layer to go stale.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/worldcache/registry/internal/digest"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/internal/versioning"
	"github.com/worldcache/registry/pkg/registryerr"
)

// translateNotFound maps the store's untyped ErrNotFound onto the registry's
// error taxonomy so the HTTP surface can map it to 404 without reaching into
// the store package directly.
func translateNotFound(err error, kind registryerr.Kind, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return registryerr.New(kind, message)
	}
	return err
}

// Engine answers read-only queries over the store's committed state.
type Engine struct {
	store *store.Store
}

// New constructs a discovery Engine over st.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// PackageSummary is the collapsed view of a package used in lists and search
// results.
type PackageSummary struct {
	Name          string   `json:"name"`
	DisplayName   string   `json:"display_name"`
	Game          string   `json:"game"`
	Description   string   `json:"description,omitempty"`
	Homepage      string   `json:"homepage,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	OwnerID       string   `json:"owner"`
	LatestVersion string   `json:"latest_version,omitempty"`
	UpdatedAt     string   `json:"updated_at"`
}

// summarize builds a PackageSummary from a package whose Versions
// association is already preloaded (as store.AllPackagesWithVersions does).
func summarize(p store.Package) PackageSummary {
	raw := make([]string, 0, len(p.Versions))
	for _, v := range p.Versions {
		if !v.Yanked {
			raw = append(raw, v.Version)
		}
	}
	return summarizeWithLatest(p, versioning.Latest(raw))
}

func summarizeWithLatest(p store.Package, latest string) PackageSummary {
	return PackageSummary{
		Name:          p.Name,
		DisplayName:   p.DisplayName,
		Game:          p.Game,
		Description:   p.Description,
		Homepage:      p.Homepage,
		Keywords:      keywordsOf(p.Keywords),
		OwnerID:       p.OwnerID,
		LatestVersion: latest,
		UpdatedAt:     p.UpdatedAt.UTC().Format(rfc3339),
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// keywordsOf returns the keywords that findOrCreatePackage folded into a
// JSONMap (index -> keyword) when the package was first claimed, sorted
// alphabetically; their original manifest order is not kept.
func keywordsOf(m map[string]interface{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for _, v := range m {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// ListPackagesParams configures ListPackages pagination.
type ListPackagesParams struct {
	Limit  int
	Offset int
}

// ListPackages returns packages sorted by last-updated descending, paginated.
func (e *Engine) ListPackages(ctx context.Context, p ListPackagesParams) ([]PackageSummary, int64, error) {
	packages, total, err := e.store.ListPackages(ctx, store.ListPackagesParams{Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		return nil, 0, err
	}
	out := make([]PackageSummary, 0, len(packages))
	for _, pkg := range packages {
		latest, err := e.latestVersionOf(ctx, pkg.ID)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, summarizeWithLatest(pkg, latest))
	}
	return out, total, nil
}

// latestVersionOf looks up the newest non-yanked version of a package.
// ListPackages and GetPackage call the store directly rather than relying
// on a preloaded Versions association, since neither GetPackageByName nor
// the plain ListPackages query preloads it.
func (e *Engine) latestVersionOf(ctx context.Context, packageID uuid.UUID) (string, error) {
	versions, err := e.store.ListVersions(ctx, packageID, false)
	if err != nil {
		return "", err
	}
	for _, v := range versions {
		if !v.Yanked {
			return v.Version, nil
		}
	}
	return "", nil
}

// PackageDetail is a package's display metadata plus its collapsed version
// list (version strings only; callers fetch full version records
// separately).
type PackageDetail struct {
	PackageSummary
	Versions []string `json:"versions"`
}

// GetPackage returns a package's metadata and the version-descending list
// of every non-yanked version string it carries.
func (e *Engine) GetPackage(ctx context.Context, name string) (*PackageDetail, error) {
	pkg, err := e.store.GetPackageByName(ctx, name)
	if err != nil {
		return nil, translateNotFound(err, registryerr.KindPackageNotFound, "package does not exist")
	}
	versions, err := e.store.ListVersions(ctx, pkg.ID, false)
	if err != nil {
		return nil, err
	}

	raw := make([]string, 0, len(versions))
	for _, v := range versions {
		if !v.Yanked {
			raw = append(raw, v.Version)
		}
	}
	sorted := versioning.SortDescending(raw)

	latest := ""
	if len(sorted) > 0 {
		latest = sorted[0]
	}

	return &PackageDetail{
		PackageSummary: summarizeWithLatest(*pkg, latest),
		Versions:       sorted,
	}, nil
}

// VersionSummary is one entry of a package's version list.
type VersionSummary struct {
	Version   string `json:"version"`
	Yanked    bool   `json:"yanked"`
	CreatedAt string `json:"created_at"`
}

// ListVersions returns every version of a package, version-descending.
func (e *Engine) ListVersions(ctx context.Context, packageName string) ([]VersionSummary, error) {
	pkg, err := e.store.GetPackageByName(ctx, packageName)
	if err != nil {
		return nil, translateNotFound(err, registryerr.KindPackageNotFound, "package does not exist")
	}
	versions, err := e.store.ListVersions(ctx, pkg.ID, false)
	if err != nil {
		return nil, err
	}

	out := make([]VersionSummary, 0, len(versions))
	for _, v := range versions {
		out = append(out, VersionSummary{
			Version:   v.Version,
			Yanked:    v.Yanked,
			CreatedAt: v.CreatedAt.UTC().Format(rfc3339),
		})
	}
	return out, nil
}

// DistributionView is one artifact of a full version record.
type DistributionView struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Digest   string `json:"digest"`
	Size     int64  `json:"size"`
	Kind     string `json:"kind"`
	Platform string `json:"platform_tag,omitempty"`
}

// VersionDetail is the full version record: manifest, entry points,
// compatibility range, provenance, and every distribution.
type VersionDetail struct {
	PackageName        string             `json:"package"`
	Version            string             `json:"version"`
	Manifest           map[string]interface{} `json:"manifest"`
	EntryPoints        map[string]interface{} `json:"entry_points"`
	MinimumAPVersion   string             `json:"minimum_ap_version"`
	MaximumAPVersion   string             `json:"maximum_ap_version,omitempty"`
	Yanked             bool               `json:"yanked"`
	YankReason         string             `json:"yank_reason,omitempty"`
	PublisherID        string             `json:"publisher"`
	ProvenanceRepo     string             `json:"provenance_repository,omitempty"`
	ProvenanceWorkflow string             `json:"provenance_workflow,omitempty"`
	ProvenanceCommit   string             `json:"provenance_commit,omitempty"`
	CreatedAt          string             `json:"created_at"`
	Distributions      []DistributionView `json:"distributions"`
}

// GetVersion returns the full record for one version of a package.
func (e *Engine) GetVersion(ctx context.Context, packageName, version string) (*VersionDetail, error) {
	v, err := e.store.GetVersion(ctx, packageName, version)
	if err != nil {
		return nil, translateNotFound(err, registryerr.KindVersionNotFound, "version does not exist")
	}
	return toVersionDetail(packageName, v), nil
}

func toVersionDetail(packageName string, v *store.Version) *VersionDetail {
	dists := make([]DistributionView, 0, len(v.Distributions))
	for _, d := range v.Distributions {
		platform := ""
		if d.Python != "" || d.ABI != "" || d.Platform != "" {
			platform = d.PlatformTagSuffix()
		}
		dists = append(dists, DistributionView{
			Filename: d.Filename,
			URL:      d.URL,
			Digest:   d.Digest,
			Size:     d.Size,
			Kind:     d.Kind,
			Platform: platform,
		})
	}

	return &VersionDetail{
		PackageName:        packageName,
		Version:            v.Version,
		Manifest:           map[string]interface{}(v.Manifest),
		EntryPoints:        map[string]interface{}(v.EntryPoints),
		MinimumAPVersion:   v.MinimumAPVersion,
		MaximumAPVersion:   v.MaximumAPVersion,
		Yanked:             v.Yanked,
		YankReason:         v.YankReason,
		PublisherID:        v.PublisherID,
		ProvenanceRepo:     v.ProvenanceRepo,
		ProvenanceWorkflow: v.ProvenanceWorkflow,
		ProvenanceCommit:   v.ProvenanceCommit,
		CreatedAt:          v.CreatedAt.UTC().Format(rfc3339),
		Distributions:      dists,
	}
}

// SearchParams combines search predicates with implicit AND, per §4.10.
type SearchParams struct {
	Query          string // free text: matches name, game, description, keyword
	Game           string // exact match
	EntryPoint     string // exact match on any entry-point identifier
	CompatibleWith string // version string; package matches iff min <= X <= max
	Platform       string // exact match on a distribution's platform tag suffix
	Limit          int
	Offset         int
}

// SearchResult pairs a package summary with the relevance score it matched
// on, for ranking.
type SearchResult struct {
	PackageSummary
	Score int
}

// Search returns packages satisfying every supplied predicate, ranked by
// relevance (descending) then last-updated (descending).
func (e *Engine) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	packages, err := e.store.AllPackagesWithVersions(ctx)
	if err != nil {
		return nil, err
	}

	var compat *versioning.Version
	if p.CompatibleWith != "" {
		compat, err = versioning.Parse(p.CompatibleWith)
		if err != nil {
			return nil, err
		}
	}

	query := strings.ToLower(strings.TrimSpace(p.Query))

	results := make([]SearchResult, 0, len(packages))
	for _, pkg := range packages {
		if p.Game != "" && !strings.EqualFold(pkg.Game, p.Game) {
			continue
		}

		if p.EntryPoint != "" && !packageHasEntryPoint(pkg, p.EntryPoint) {
			continue
		}

		if compat != nil && !packageCompatibleWith(pkg, compat) {
			continue
		}

		if p.Platform != "" && !packageHasPlatform(pkg, p.Platform) {
			continue
		}

		score := 0
		if query != "" {
			score = queryScore(pkg, query)
			if score == 0 {
				continue
			}
		}

		results = append(results, SearchResult{PackageSummary: summarize(pkg), Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	results = paginate(results, p.Limit, p.Offset)
	return results, nil
}

func paginate(results []SearchResult, limit, offset int) []SearchResult {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return []SearchResult{}
	}
	results = results[offset:]
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if limit < len(results) {
		results = results[:limit]
	}
	return results
}

// packageHasEntryPoint matches against every version, yanked or not: §9's
// entry-point search Open Question resolves to "yes, with flag" rather than
// excluding yanked versions from the result.
func packageHasEntryPoint(pkg store.Package, entryPoint string) bool {
	for _, v := range pkg.Versions {
		for id := range v.EntryPoints {
			if id == entryPoint {
				return true
			}
		}
	}
	return false
}

func packageHasPlatform(pkg store.Package, platform string) bool {
	for _, v := range pkg.Versions {
		for _, d := range v.Distributions {
			if d.PlatformTagSuffix() == platform {
				return true
			}
		}
	}
	return false
}

// packageCompatibleWith reports whether any non-yanked version's
// compatibility range [min, max] contains want, open-ended upward when max
// is unset.
func packageCompatibleWith(pkg store.Package, want *versioning.Version) bool {
	for _, v := range pkg.Versions {
		if v.Yanked {
			continue
		}
		min, err := versioning.Parse(v.MinimumAPVersion)
		if err != nil || want.LessThan(min) {
			continue
		}
		if v.MaximumAPVersion != "" {
			max, err := versioning.Parse(v.MaximumAPVersion)
			if err != nil || max.LessThan(want) {
				continue
			}
		}
		return true
	}
	return false
}

func queryScore(pkg store.Package, query string) int {
	score := 0
	if strings.Contains(strings.ToLower(pkg.Name), query) {
		score += 3
	}
	if strings.Contains(strings.ToLower(pkg.Game), query) {
		score += 2
	}
	if strings.Contains(strings.ToLower(pkg.Description), query) {
		score++
	}
	for _, k := range keywordsOf(pkg.Keywords) {
		if strings.Contains(strings.ToLower(k), query) {
			score++
			break
		}
	}
	return score
}

// Snapshot is the full exported document (§4.10 "Snapshot"): every package,
// every version (yanked ones included, with their yanked flag), and every
// distribution, for offline/air-gapped consumers.
type Snapshot struct {
	Packages []SnapshotPackage `json:"packages"`
}

// SnapshotPackage is one package's entry in the snapshot document.
type SnapshotPackage struct {
	Name     string            `json:"name"`
	Game     string            `json:"game"`
	Versions []SnapshotVersion `json:"versions"`
}

// SnapshotVersion is one version's entry in the snapshot document. Yanked
// versions still appear here, flagged, rather than disappearing from the
// snapshot: a consumer that already resolved this version needs to keep
// seeing it, per §8 Testable Property 7 and Scenario S6.
type SnapshotVersion struct {
	Version       string             `json:"version"`
	Yanked        bool               `json:"yanked"`
	YankReason    string             `json:"yank_reason,omitempty"`
	EntryPoints   map[string]interface{} `json:"entry_points"`
	Distributions []DistributionView `json:"distributions"`
}

// Snapshot builds the full export document and a content-digest ETag over
// its serialized form, so callers can honor If-None-Match for cheap polling.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, string, error) {
	packages, err := e.store.AllPackagesWithVersions(ctx)
	if err != nil {
		return nil, "", err
	}

	snap := &Snapshot{Packages: make([]SnapshotPackage, 0, len(packages))}
	for _, pkg := range packages {
		sp := SnapshotPackage{Name: pkg.Name, Game: pkg.Game}
		for _, v := range pkg.Versions {
			detail := toVersionDetail(pkg.Name, &v)
			sp.Versions = append(sp.Versions, SnapshotVersion{
				Version:       v.Version,
				Yanked:        v.Yanked,
				YankReason:    v.YankReason,
				EntryPoints:   detail.EntryPoints,
				Distributions: detail.Distributions,
			})
		}
		snap.Packages = append(snap.Packages, sp)
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return nil, "", err
	}
	sum, _, err := digest.Of(strings.NewReader(string(body)))
	if err != nil {
		return nil, "", err
	}

	return snap, `"` + sum + `"`, nil
}
