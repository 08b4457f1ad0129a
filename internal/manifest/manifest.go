// Package manifest validates the structured metadata that accompanies a
// registration and holds the verbatim accepted document for forward
// compatibility with future, richer clients.
package manifest

import (
	"encoding/json"
	"regexp"

	"github.com/worldcache/registry/internal/versioning"
	"github.com/worldcache/registry/pkg/registryerr"
	"github.com/worldcache/registry/pkg/types"
)

const maxDescriptionLen = 500

var entryPointPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Manifest is the validated, typed view over a registration's metadata.
// Raw holds the verbatim accepted JSON object (typed fields included) so
// that unknown keys survive round-trip, per the forward-compatibility
// requirement.
type Manifest struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Game             string            `json:"game"`
	Description      string            `json:"description,omitempty"`
	Authors          []string          `json:"authors,omitempty"`
	License          string            `json:"license,omitempty"`
	Homepage         string            `json:"homepage,omitempty"`
	Repository       string            `json:"repository,omitempty"`
	Keywords         []string          `json:"keywords,omitempty"`
	Platforms        []string          `json:"platforms,omitempty"`
	MinimumAPVersion string            `json:"minimum_ap_version"`
	MaximumAPVersion string            `json:"maximum_ap_version,omitempty"`
	Maturity         string            `json:"maturity,omitempty"`
	EntryPoints      map[string]string `json:"entry_points"`

	Raw types.JSONMap `json:"-"`
}

// Parse unmarshals and validates a raw publish-request JSON payload into a
// Manifest. Unknown top-level keys are preserved in Raw.
func Parse(body []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, registryerr.Wrap(registryerr.KindInvalidManifest, "manifest is not valid JSON", err)
	}

	var raw types.JSONMap
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, registryerr.Wrap(registryerr.KindInvalidManifest, "manifest is not a JSON object", err)
	}
	m.Raw = raw

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate applies every field-level rule from the manifest schema,
// returning the first violation as an *registryerr.Error with field-path
// details.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fieldErr("name", "must not be empty", m.Name)
	}
	if m.Game == "" {
		return fieldErr("game", "must not be empty", m.Game)
	}
	if _, err := versioning.Parse(m.Version); err != nil {
		return fieldErr("version", "must be a valid semantic version", m.Version)
	}
	if m.MinimumAPVersion == "" {
		return fieldErr("minimum_ap_version", "must not be empty", m.MinimumAPVersion)
	}
	if _, err := versioning.Parse(m.MinimumAPVersion); err != nil {
		return fieldErr("minimum_ap_version", "must be a valid semantic version", m.MinimumAPVersion)
	}
	if m.MaximumAPVersion != "" {
		if _, err := versioning.Parse(m.MaximumAPVersion); err != nil {
			return fieldErr("maximum_ap_version", "must be a valid semantic version", m.MaximumAPVersion)
		}
	}
	if len(m.EntryPoints) == 0 {
		return fieldErr("entry_points", "must declare at least one entry point", nil)
	}
	for id, target := range m.EntryPoints {
		if !entryPointPattern.MatchString(id) {
			return fieldErr("entry_points."+id, "entry point identifier is not a valid identifier", id)
		}
		if target == "" {
			return fieldErr("entry_points."+id, "entry point target must not be empty", target)
		}
	}
	if len(m.Description) > maxDescriptionLen {
		return fieldErr("description", "must be at most 500 characters", len(m.Description))
	}
	return nil
}

func fieldErr(field, message string, offending interface{}) error {
	return registryerr.New(registryerr.KindInvalidManifest, message).
		WithDetails(map[string]interface{}{
			"field":           field,
			"message":         message,
			"offending_value": offending,
		})
}

// CompatibleWith reports whether version v falls within [MinimumAPVersion,
// MaximumAPVersion] (open upper end if MaximumAPVersion is unset).
func (m *Manifest) CompatibleWith(v *versioning.Version) bool {
	min, err := versioning.Parse(m.MinimumAPVersion)
	if err != nil {
		return false
	}
	if v.LessThan(min) {
		return false
	}
	if m.MaximumAPVersion == "" {
		return true
	}
	max, err := versioning.Parse(m.MaximumAPVersion)
	if err != nil {
		return false
	}
	return !max.LessThan(v)
}

// Equal reports whether two manifests carry the same accepted document.
// encoding/json sorts map keys on marshal, so this is insensitive to
// original key order. The coordinator's idempotent-replay check does not
// call it; it compares the request's Raw map with the stored snapshot map.
func (m *Manifest) Equal(other *Manifest) bool {
	a, errA := json.Marshal(m.Raw)
	b, errB := json.Marshal(other.Raw)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}
