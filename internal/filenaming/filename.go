// Package filenaming implements the registry's Filename Grammar: parsing
// and building artifact filenames for both binary and source distributions,
// and the name/version normalization rules applied on both directions.
package filenaming

import (
	"regexp"
	"strings"

	"github.com/worldcache/registry/pkg/registryerr"
)

// Kind distinguishes the two filename shapes a distribution can take.
type Kind int

const (
	// KindSource is the "{dist}-{ver}.tar.gz" source-archive shape.
	KindSource Kind = iota
	// KindBinary is the "{dist}-{ver}(-{build})?-{py}-{abi}-{plat}.island" shape.
	KindBinary
)

// PlatformTag is a PEP-425-shape triple: python tag, ABI tag, platform tag.
// "py3-none-any" is the pure, platform-independent triple.
type PlatformTag struct {
	Python   string
	ABI      string
	Platform string
}

// String renders the triple in its dash-joined wire form.
func (t PlatformTag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// Equal reports whether two platform tags are identical component-wise.
func (t PlatformTag) Equal(other PlatformTag) bool {
	return t.Python == other.Python && t.ABI == other.ABI && t.Platform == other.Platform
}

// Filename is a parsed artifact filename.
type Filename struct {
	Kind     Kind
	Name     string // normalized
	Version  string // normalized (- -> _, + preserved)
	BuildTag string // binary only, optional
	Platform PlatformTag
}

var nonAlnumRun = regexp.MustCompile(`[^A-Za-z0-9]+`)

// NormalizeName lowercases name and collapses runs of non-alphanumeric
// characters to a single underscore.
func NormalizeName(name string) string {
	lower := strings.ToLower(name)
	return nonAlnumRun.ReplaceAllString(lower, "_")
}

// NormalizeVersion replaces "-" with "_" for filename encoding while
// preserving "+" (build metadata separator).
func NormalizeVersion(version string) string {
	return strings.ReplaceAll(version, "-", "_")
}

const (
	sourceExt = ".tar.gz"
	binaryExt = ".island"
)

// binaryPattern captures: name, version, optional build tag, python, abi, platform.
var binaryPattern = regexp.MustCompile(
	`^([A-Za-z0-9_]+)-([A-Za-z0-9_.+]+)(?:-([A-Za-z0-9_.]+))?-([A-Za-z0-9_.]+)-([A-Za-z0-9_.]+)-([A-Za-z0-9_.]+)\.island$`,
)

// sourcePattern captures: name, version.
var sourcePattern = regexp.MustCompile(`^([A-Za-z0-9_]+)-([A-Za-z0-9_.+]+)\.tar\.gz$`)

// Parse parses a filename into its normalized components. Returns a
// registryerr of KindInvalidFilename if the filename matches neither the
// binary nor the source shape.
func Parse(filename string) (*Filename, error) {
	if strings.HasSuffix(filename, sourceExt) && !strings.HasSuffix(filename, binaryExt) {
		m := sourcePattern.FindStringSubmatch(filename)
		if m == nil {
			return nil, registryerr.Newf(registryerr.KindInvalidFilename, "%q does not match the source archive shape", filename)
		}
		return &Filename{
			Kind:    KindSource,
			Name:    m[1],
			Version: m[2],
		}, nil
	}

	if strings.HasSuffix(filename, binaryExt) {
		m := binaryPattern.FindStringSubmatch(filename)
		if m == nil {
			return nil, registryerr.Newf(registryerr.KindInvalidFilename, "%q does not match the binary distribution shape", filename)
		}
		return &Filename{
			Kind:     KindBinary,
			Name:     m[1],
			Version:  m[2],
			BuildTag: m[3],
			Platform: PlatformTag{Python: m[4], ABI: m[5], Platform: m[6]},
		}, nil
	}

	return nil, registryerr.Newf(registryerr.KindInvalidFilename, "%q has an unrecognized extension", filename)
}

// BuildSource constructs a source-archive filename from a raw (un-normalized)
// name and version.
func BuildSource(name, version string) string {
	return NormalizeName(name) + "-" + NormalizeVersion(version) + sourceExt
}

// BuildBinary constructs a binary distribution filename from a raw
// (un-normalized) name and version, an optional build tag, and a platform tag.
func BuildBinary(name, version, buildTag string, tag PlatformTag) string {
	var b strings.Builder
	b.WriteString(NormalizeName(name))
	b.WriteByte('-')
	b.WriteString(NormalizeVersion(version))
	if buildTag != "" {
		b.WriteByte('-')
		b.WriteString(buildTag)
	}
	b.WriteByte('-')
	b.WriteString(tag.Python)
	b.WriteByte('-')
	b.WriteString(tag.ABI)
	b.WriteByte('-')
	b.WriteString(tag.Platform)
	b.WriteString(binaryExt)
	return b.String()
}

// IsPurePlatform reports whether the tag designates a platform-independent
// distribution ("py3-none-any").
func (t PlatformTag) IsPurePlatform() bool {
	return t.Python == "py3" && t.ABI == "none" && t.Platform == "any"
}

// Agreement checks that a parsed filename agrees with the manifest's
// declared name, version, and (for binary distributions) platform tag.
// Returns a registryerr of KindNameMismatch, KindVersionMismatch, or
// KindTagMismatch on the first disagreement found.
func Agreement(f *Filename, manifestName, manifestVersion string, manifestTag *PlatformTag) error {
	wantName := NormalizeName(manifestName)
	if f.Name != wantName {
		return registryerr.Newf(registryerr.KindNameMismatch, "filename name %q does not match manifest name %q", f.Name, wantName).
			WithDetails(map[string]interface{}{"filename_name": f.Name, "manifest_name": wantName})
	}

	wantVersion := NormalizeVersion(manifestVersion)
	if f.Version != wantVersion {
		return registryerr.Newf(registryerr.KindVersionMismatch, "filename version %q does not match manifest version %q", f.Version, wantVersion).
			WithDetails(map[string]interface{}{"filename_version": f.Version, "manifest_version": wantVersion})
	}

	if f.Kind == KindBinary && manifestTag != nil && !f.Platform.Equal(*manifestTag) {
		return registryerr.Newf(registryerr.KindTagMismatch, "filename platform tag %q does not match declared tag %q", f.Platform.String(), manifestTag.String()).
			WithDetails(map[string]interface{}{"filename_tag": f.Platform.String(), "declared_tag": manifestTag.String()})
	}

	return nil
}

// ParsePlatformTag splits a raw "py-abi-platform" string into a PlatformTag.
// Used when the wire payload declares platform_tag as a single string
// (§6 publish request body) rather than via the filename.
func ParsePlatformTag(raw string) (PlatformTag, error) {
	parts := strings.Split(raw, "-")
	if len(parts) != 3 {
		return PlatformTag{}, registryerr.Newf(registryerr.KindInvalidFilename, "platform tag %q is not a python-abi-platform triple", raw)
	}
	return PlatformTag{Python: parts[0], ABI: parts[1], Platform: parts[2]}, nil
}
