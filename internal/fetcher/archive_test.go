package fetcher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/worldcache/registry/pkg/registryerr"
)

func TestInspectSourceArchive_Valid(t *testing.T) {
	body := buildTarGz(t, map[string]string{
		"pokemon_emerald/manifest.json": `{"name":"pokemon_emerald"}`,
		"pokemon_emerald/world.py":      "class World: pass",
	})
	assert.NoError(t, InspectSourceArchive(bytes.NewReader(body)))
}

func TestInspectSourceArchive_NoManifestRejected(t *testing.T) {
	body := buildTarGz(t, map[string]string{
		"pokemon_emerald/world.py": "class World: pass",
	})
	err := InspectSourceArchive(bytes.NewReader(body))
	assert.Equal(t, registryerr.KindInvalidManifest, registryerr.KindOf(err))
}

func TestInspectSourceArchive_NotGzip(t *testing.T) {
	err := InspectSourceArchive(bytes.NewReader([]byte("not gzip at all")))
	assert.Equal(t, registryerr.KindInvalidManifest, registryerr.KindOf(err))
}

func TestInspectSourceArchive_EmptyArchiveRejected(t *testing.T) {
	body := buildTarGz(t, map[string]string{})
	err := InspectSourceArchive(bytes.NewReader(body))
	assert.Equal(t, registryerr.KindInvalidManifest, registryerr.KindOf(err))
}
