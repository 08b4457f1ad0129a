package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/worldcache/registry/internal/coordinator"
	"github.com/worldcache/registry/pkg/registryerr"
)

// registerDistribution is one entry of a POST /register request's
// distributions array.
type registerDistribution struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
	PlatformTag string `json:"platform_tag"`
}

// registerRequest is the decoded body of a POST /register call. The
// manifest's fields sit at the top level alongside distributions, not
// nested under a "manifest" key: a publish request is one flat document.
type registerRequest struct {
	Name             string                 `json:"name"`
	Version          string                 `json:"version"`
	Game             string                 `json:"game"`
	Description      string                 `json:"description,omitempty"`
	Authors          []string               `json:"authors,omitempty"`
	License          string                 `json:"license,omitempty"`
	Homepage         string                 `json:"homepage,omitempty"`
	Repository       string                 `json:"repository,omitempty"`
	Keywords         []string               `json:"keywords,omitempty"`
	Platforms        []string               `json:"platforms,omitempty"`
	MinimumAPVersion string                 `json:"minimum_ap_version"`
	MaximumAPVersion string                 `json:"maximum_ap_version,omitempty"`
	Maturity         string                 `json:"maturity,omitempty"`
	EntryPoints      map[string]string      `json:"entry_points"`
	Distributions    []registerDistribution `json:"distributions"`
}

// handleRegister godoc
//
//	@Summary		Publish a package version
//	@Description	Validates the manifest, verifies every declared distribution against its hosted URL, and commits an immutable version record
//	@Tags			Registration
//	@Accept			json
//	@Produce		json
//	@Param			body	body		registerRequest	true	"Manifest and distribution list"
//	@Success		201		{object}	object{package=string,version=string}
//	@Failure		400		{object}	object{error=object}
//	@Failure		401		{object}	object{error=object}
//	@Failure		403		{object}	object{error=object}
//	@Failure		409		{object}	object{error=object}
//	@Security		BearerAuth
//	@Router			/register [post]
func (s *Server) handleRegister(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, registryerr.Wrap(registryerr.KindInvalidManifest, "failed to read request body", err))
		return
	}

	var req registerRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		writeError(c, registryerr.Wrap(registryerr.KindInvalidManifest, "malformed request body", err))
		return
	}

	// The manifest body persisted and hashed for idempotent-replay
	// comparison is the request with "distributions" stripped back out:
	// distributions are transport for the publish call, not part of the
	// manifest schema itself. Splitting on the raw field map, rather than
	// re-marshaling the typed registerRequest, keeps any unknown top-level
	// keys the client sent intact for forward compatibility.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bodyBytes, &fields); err != nil {
		writeError(c, registryerr.Wrap(registryerr.KindInvalidManifest, "malformed request body", err))
		return
	}
	delete(fields, "distributions")
	manifestBody, err := json.Marshal(fields)
	if err != nil {
		writeError(c, registryerr.Wrap(registryerr.KindInternal, "failed to re-encode manifest", err))
		return
	}

	dists := make([]coordinator.DistributionRequest, 0, len(req.Distributions))
	for _, d := range req.Distributions {
		dists = append(dists, coordinator.DistributionRequest{
			Filename:        d.Filename,
			URL:             d.URL,
			DeclaredDigest:  d.SHA256,
			DeclaredSize:    d.Size,
			PlatformTagWire: d.PlatformTag,
		})
	}

	v, err := s.coordinator.Publish(c.Request.Context(), principalOf(c), coordinator.PublishRequest{
		ManifestBody:  manifestBody,
		Distributions: dists,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"package": v.PackageID, "version": v.Version})
}

type yankRequest struct {
	Reason string `json:"reason"`
}

// handleYank godoc
//
//	@Summary		Yank a version
//	@Description	Marks a version as yanked; it stays in version listings, version lookups and the snapshot with its yanked flag set, and is left out of a package's latest version, its collapsed version list and compatible_with search matches
//	@Tags			Registration
//	@Accept			json
//	@Param			name		path	string		true	"Package name"
//	@Param			version		path	string		true	"Version"
//	@Param			body		body	yankRequest	false	"Optional reason"
//	@Success		204
//	@Failure		401	{object}	object{error=object}
//	@Failure		403	{object}	object{error=object}
//	@Failure		404	{object}	object{error=object}
//	@Security		BearerAuth
//	@Router			/packages/{name}/{version}/yank [delete]
func (s *Server) handleYank(c *gin.Context) {
	var req yankRequest
	// A yank's reason is optional; an absent or empty body is not an error.
	_ = c.ShouldBindJSON(&req)

	err := s.coordinator.Yank(c.Request.Context(), principalOf(c), c.Param("name"), c.Param("version"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
