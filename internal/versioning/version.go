// Package versioning implements the registry's Version Algebra: strict
// semantic-version parsing and a total order over versions.
//
// Parsing is intentionally stricter than github.com/Masterminds/semver/v3's
// own NewVersion (which tolerates a leading "v" and pads missing
// components) — the registry never accepts those shapes on the wire, so
// validation happens first against the canonical SemVer 2.0.0 grammar and
// only a string that already satisfies it is handed to semver.Version for
// comparison, mirroring how the teacher's pkg/utils/semver.go delegates to
// the same library for ordering.
package versioning

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/worldcache/registry/pkg/registryerr"
)

// strictPattern is the canonical SemVer 2.0.0 grammar: exactly three dotted
// numeric components with no leading zeros, an optional dot-separated
// pre-release, and an optional dot-separated build metadata suffix. No
// leading "v" is permitted.
var strictPattern = regexp.MustCompile(
	`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
		`(?:-((?:0|[1-9]\d*|\d*[A-Za-z-][0-9A-Za-z-]*)(?:\.(?:0|[1-9]\d*|\d*[A-Za-z-][0-9A-Za-z-]*))*))?` +
		`(?:\+([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`,
)

// Version is a parsed, validated semantic version.
type Version struct {
	raw string
	sv  *semver.Version
}

// Parse validates s against the strict SemVer 2.0.0 grammar and returns a
// Version. Returns a registryerr of KindInvalidVersion on any malformed
// input: missing patch component, a "v" prefix, more than three dotted
// numerics, leading zeros, or empty pre-release/build segments.
func Parse(s string) (*Version, error) {
	if !strictPattern.MatchString(s) {
		return nil, registryerr.Newf(registryerr.KindInvalidVersion, "%q is not a valid semantic version", s)
	}

	sv, err := semver.NewVersion(s)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindInvalidVersion, "failed to parse version", err)
	}

	return &Version{raw: s, sv: sv}, nil
}

// MustParse parses s and panics on error. Intended for tests and constants.
func MustParse(s string) *Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as originally written (build metadata included).
func (v *Version) String() string {
	return v.raw
}

// Core returns "major.minor.patch" with any pre-release/build stripped.
func (v *Version) Core() string {
	return strconv.FormatUint(v.sv.Major(), 10) + "." +
		strconv.FormatUint(v.sv.Minor(), 10) + "." +
		strconv.FormatUint(v.sv.Patch(), 10)
}

// Prerelease returns the pre-release identifier, or "" if none.
func (v *Version) Prerelease() string {
	return v.sv.Prerelease()
}

// IsPrerelease reports whether the version carries a pre-release identifier.
func (v *Version) IsPrerelease() bool {
	return v.sv.Prerelease() != ""
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other, per semantic-version precedence. Build metadata never
// participates: two versions differing only in build metadata compare
// equal.
func (v *Version) Compare(other *Version) int {
	return v.sv.Compare(other.sv)
}

// LessThan reports whether v sorts strictly before other.
func (v *Version) LessThan(other *Version) bool {
	return v.Compare(other) < 0
}

// Equal reports whether v and other are equal for ordering purposes (build
// metadata ignored).
func (v *Version) Equal(other *Version) bool {
	return v.Compare(other) == 0
}

// SortKey returns a string that sorts identically to Compare under a plain
// byte-wise comparison, for stores that can only sort on an indexed column.
// Numeric components are zero-padded; a '0' marker precedes any pre-release
// and a '1' marker stands for its absence, so that a release always sorts
// after any of its pre-releases. Each pre-release identifier is followed by
// '!', a byte below every identifier character, so that a shorter identifier
// sorts before a longer one it prefixes.
func (v *Version) SortKey() string {
	var b strings.Builder
	b.Grow(64)
	writePadded(&b, v.sv.Major())
	b.WriteByte('.')
	writePadded(&b, v.sv.Minor())
	b.WriteByte('.')
	writePadded(&b, v.sv.Patch())
	b.WriteByte('.')
	if pre := v.sv.Prerelease(); pre != "" {
		b.WriteByte('0') // pre-release sorts before the bare release
		b.WriteByte('!')
		for _, ident := range strings.Split(pre, ".") {
			if n, err := strconv.ParseUint(ident, 10, 64); err == nil {
				writePadded(&b, n)
			} else {
				b.WriteString(ident)
			}
			b.WriteByte('!')
		}
	} else {
		b.WriteByte('1') // no pre-release sorts after any pre-release of the same core
	}
	return b.String()
}

func writePadded(b *strings.Builder, n uint64) {
	s := strconv.FormatUint(n, 10)
	for i := len(s); i < 20; i++ {
		b.WriteByte('0')
	}
	b.WriteString(s)
}

// SortDescending sorts versions from newest to oldest, skipping (and
// discarding) any string that fails to parse.
func SortDescending(raw []string) []string {
	return sortBy(raw, func(a, b *Version) bool { return b.LessThan(a) })
}

// SortAscending sorts versions from oldest to newest, skipping (and
// discarding) any string that fails to parse.
func SortAscending(raw []string) []string {
	return sortBy(raw, func(a, b *Version) bool { return a.LessThan(b) })
}

func sortBy(raw []string, less func(a, b *Version) bool) []string {
	parsed := make([]*Version, 0, len(raw))
	for _, s := range raw {
		v, err := Parse(s)
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
	}

	// simple insertion sort: package lists are small (few dozen versions at most)
	for i := 1; i < len(parsed); i++ {
		j := i
		for j > 0 && less(parsed[j], parsed[j-1]) {
			parsed[j], parsed[j-1] = parsed[j-1], parsed[j]
			j--
		}
	}

	result := make([]string, len(parsed))
	for i, v := range parsed {
		result[i] = v.String()
	}
	return result
}

// Latest returns the newest version in raw, or "" if none parse.
func Latest(raw []string) string {
	sorted := SortDescending(raw)
	if len(sorted) == 0 {
		return ""
	}
	return sorted[0]
}
