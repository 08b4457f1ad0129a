package filenaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/worldcache/registry/pkg/registryerr"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "pokemon_emerald", NormalizeName("Pokemon Emerald"))
	assert.Equal(t, "my_world_3", NormalizeName("my--world!!3"))
}

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "1_0_0", NormalizeVersion("1-0-0"))
	assert.Equal(t, "1.0.0+build.5", NormalizeVersion("1.0.0+build.5"))
}

func TestParse_Source(t *testing.T) {
	f, err := Parse("pokemon_emerald-1.0.0.tar.gz")
	assert.NoError(t, err)
	assert.Equal(t, KindSource, f.Kind)
	assert.Equal(t, "pokemon_emerald", f.Name)
	assert.Equal(t, "1.0.0", f.Version)
}

func TestParse_Binary(t *testing.T) {
	f, err := Parse("pokemon_emerald-1.0.0-py3-none-any.island")
	assert.NoError(t, err)
	assert.Equal(t, KindBinary, f.Kind)
	assert.Equal(t, "pokemon_emerald", f.Name)
	assert.Equal(t, "1.0.0", f.Version)
	assert.Equal(t, "", f.BuildTag)
	assert.Equal(t, PlatformTag{"py3", "none", "any"}, f.Platform)
	assert.True(t, f.Platform.IsPurePlatform())
}

func TestParse_BinaryWithBuildTag(t *testing.T) {
	f, err := Parse("pokemon_emerald-1.0.0-1-py3-cp311-linux_x86_64.island")
	assert.NoError(t, err)
	assert.Equal(t, "1", f.BuildTag)
	assert.Equal(t, PlatformTag{"py3", "cp311", "linux_x86_64"}, f.Platform)
}

func TestParse_InvalidShape(t *testing.T) {
	_, err := Parse("not-a-valid-filename.zip")
	assert.Error(t, err)
	assert.Equal(t, registryerr.KindInvalidFilename, registryerr.KindOf(err))
}

func TestRoundTrip_Source(t *testing.T) {
	built := BuildSource("Pokemon Emerald", "1.0.0")
	f, err := Parse(built)
	assert.NoError(t, err)
	assert.Equal(t, NormalizeName("Pokemon Emerald"), f.Name)
	assert.Equal(t, NormalizeVersion("1.0.0"), f.Version)
}

func TestRoundTrip_Binary(t *testing.T) {
	tag := PlatformTag{Python: "py3", ABI: "none", Platform: "any"}
	built := BuildBinary("Pokemon Emerald", "1.0.0", "", tag)
	f, err := Parse(built)
	assert.NoError(t, err)
	assert.Equal(t, NormalizeName("Pokemon Emerald"), f.Name)
	assert.Equal(t, NormalizeVersion("1.0.0"), f.Version)
	assert.Equal(t, tag, f.Platform)
}

func TestAgreement(t *testing.T) {
	f, err := Parse("pokemon_emerald-1.0.0-py3-none-any.island")
	assert.NoError(t, err)

	tag := PlatformTag{Python: "py3", ABI: "none", Platform: "any"}
	assert.NoError(t, Agreement(f, "pokemon_emerald", "1.0.0", &tag))

	err = Agreement(f, "other-game", "1.0.0", &tag)
	assert.Equal(t, registryerr.KindNameMismatch, registryerr.KindOf(err))

	err = Agreement(f, "pokemon_emerald", "1.0.1", &tag)
	assert.Equal(t, registryerr.KindVersionMismatch, registryerr.KindOf(err))

	wrongTag := PlatformTag{Python: "py3", ABI: "none", Platform: "linux_x86_64"}
	err = Agreement(f, "pokemon_emerald", "1.0.0", &wrongTag)
	assert.Equal(t, registryerr.KindTagMismatch, registryerr.KindOf(err))
}

func TestParsePlatformTag(t *testing.T) {
	tag, err := ParsePlatformTag("py3-none-any")
	assert.NoError(t, err)
	assert.Equal(t, PlatformTag{"py3", "none", "any"}, tag)

	_, err = ParsePlatformTag("py3-none")
	assert.Error(t, err)
}
