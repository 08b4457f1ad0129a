package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/worldcache/registry/internal/discovery"
)

// handleListPackages godoc
//
//	@Summary		List packages
//	@Description	Lists published packages, most recently updated first
//	@Tags			Discovery
//	@Produce		json
//	@Param			limit	query		int	false	"Max results"
//	@Param			offset	query		int	false	"Pagination offset"
//	@Success		200		{object}	object{packages=[]object,total=int}
//	@Router			/packages [get]
func (s *Server) handleListPackages(c *gin.Context) {
	params := discovery.ListPackagesParams{
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	}

	packages, total, err := s.discovery.ListPackages(c.Request.Context(), params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages, "total": total})
}

// handleGetPackage godoc
//
//	@Summary		Get package detail
//	@Tags			Discovery
//	@Produce		json
//	@Param			name	path		string	true	"Package name"
//	@Success		200		{object}	discovery.PackageDetail
//	@Failure		404		{object}	object{error=object}
//	@Router			/packages/{name} [get]
func (s *Server) handleGetPackage(c *gin.Context) {
	detail, err := s.discovery.GetPackage(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// handleListVersions godoc
//
//	@Summary		List a package's versions
//	@Tags			Discovery
//	@Produce		json
//	@Param			name	path		string	true	"Package name"
//	@Success		200		{object}	object{versions=[]object}
//	@Failure		404		{object}	object{error=object}
//	@Router			/packages/{name}/versions [get]
func (s *Server) handleListVersions(c *gin.Context) {
	versions, err := s.discovery.ListVersions(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// handleGetVersion godoc
//
//	@Summary		Get a single version's detail
//	@Tags			Discovery
//	@Produce		json
//	@Param			name		path		string	true	"Package name"
//	@Param			version		path		string	true	"Version"
//	@Success		200			{object}	object
//	@Failure		404			{object}	object{error=object}
//	@Router			/packages/{name}/{version} [get]
func (s *Server) handleGetVersion(c *gin.Context) {
	detail, err := s.discovery.GetVersion(c.Request.Context(), c.Param("name"), c.Param("version"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// handleSearch godoc
//
//	@Summary		Search packages
//	@Tags			Discovery
//	@Produce		json
//	@Param			q					query		string	false	"Free-text query"
//	@Param			game				query		string	false	"Game filter"
//	@Param			entry_point			query		string	false	"Entry point filter"
//	@Param			compatible_with		query		string	false	"AP version compatibility filter"
//	@Param			platform			query		string	false	"Platform tag filter"
//	@Success		200					{object}	object{results=[]object}
//	@Router			/search [get]
func (s *Server) handleSearch(c *gin.Context) {
	params := discovery.SearchParams{
		Query:          c.Query("q"),
		Game:           c.Query("game"),
		EntryPoint:     c.Query("entry_point"),
		CompatibleWith: c.Query("compatible_with"),
		Platform:       c.Query("platform"),
		Limit:          queryInt(c, "limit", 0),
		Offset:         queryInt(c, "offset", 0),
	}

	results, err := s.discovery.Search(c.Request.Context(), params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleSnapshot godoc
//
// handleSnapshot serves the full export document, honoring If-None-Match
// against the snapshot's content-digest ETag for cheap conditional polling.
//
//	@Summary		Fetch the full index snapshot
//	@Description	Intended for offline/air-gapped consumers; supports conditional GET via ETag
//	@Tags			Discovery
//	@Produce		json
//	@Success		200	{object}	object
//	@Success		304
//	@Router			/index.json [get]
func (s *Server) handleSnapshot(c *gin.Context) {
	snap, etag, err := s.discovery.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
