// Package httpapi implements the registry's HTTP Surface (§4.12): the gin
// router binding every read and write operation to its route, translating
// identity, rate-limit, and registry errors into the stable external
// response contract.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/worldcache/registry/internal/coordinator"
	"github.com/worldcache/registry/internal/discovery"
	"github.com/worldcache/registry/internal/identity"
	"github.com/worldcache/registry/internal/ratelimit"
	"github.com/worldcache/registry/pkg/registryerr"
)

// Server wires the registry's read and write services into a gin.Engine.
type Server struct {
	discovery   *discovery.Engine
	coordinator *coordinator.Coordinator
	identity    *identity.Service
	limiter     *ratelimit.Limiter
}

// New constructs a Server. Any of coordinator/limiter may be nil in a
// read-only deployment; identity may be nil if every route served is anon.
func New(disc *discovery.Engine, coord *coordinator.Coordinator, id *identity.Service, limiter *ratelimit.Limiter) *Server {
	return &Server{discovery: disc, coordinator: coord, identity: id, limiter: limiter}
}

// Router builds the gin.Engine and registers every route from §4.12's
// routing table under the /v1 prefix.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestIDMiddleware())
	r.Use(s.accessLogMiddleware())

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/v1")
	v1.Use(s.principalMiddleware())
	{
		v1.GET("/packages", s.rateLimited(rateClassRead, s.handleListPackages))
		v1.GET("/packages/:name", s.rateLimited(rateClassRead, s.handleGetPackage))
		v1.GET("/packages/:name/versions", s.rateLimited(rateClassRead, s.handleListVersions))
		v1.GET("/packages/:name/:version", s.rateLimited(rateClassRead, s.handleGetVersion))
		v1.GET("/search", s.rateLimited(rateClassRead, s.handleSearch))
		v1.GET("/index.json", s.rateLimited(rateClassRead, s.handleSnapshot))

		v1.POST("/register", s.requireAuthenticated(), s.rateLimited(rateClassPublish, s.handleRegister))
		v1.DELETE("/packages/:name/:version/yank", s.requireAuthenticated(), s.rateLimited(rateClassPublish, s.handleYank))
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "worldcache-registry",
		"time":    time.Now().UTC(),
	})
}

const requestIDHeader = "X-Request-Id"
const requestIDContextKey = "request_id"

// requestIDMiddleware mints a correlation ID for every request, surfacing it
// to the client in the response header and attaching it to every log line
// an internal error produces for that request.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDContextKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("request_id", requestID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	}
}

func requestID(c *gin.Context) string {
	v, _ := c.Get(requestIDContextKey)
	id, _ := v.(string)
	return id
}

const principalContextKey = "principal"

// principalMiddleware resolves the Authorization header to a Principal,
// falling back to an anonymous, source-address-keyed principal for routes
// that don't require authentication. A malformed or rejected credential
// fails the request outright rather than silently downgrading to anonymous,
// so a client with a bad token gets a 401 instead of a confusing rate limit.
func (s *Server) principalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := bearerToken(c.GetHeader("Authorization"))
		if bearer == "" {
			c.Set(principalContextKey, identity.Anonymous(c.ClientIP()))
			c.Next()
			return
		}

		if s.identity == nil {
			writeError(c, registryerr.New(registryerr.KindTokenInvalid, "this registry does not accept credentials"))
			c.Abort()
			return
		}

		p, err := s.identity.Authenticate(c.Request.Context(), bearer)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(principalContextKey, p)
		c.Next()
	}
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func principalOf(c *gin.Context) *identity.Principal {
	v, _ := c.Get(principalContextKey)
	p, _ := v.(*identity.Principal)
	return p
}

// requireAuthenticated rejects a request carrying only the anonymous
// principal, for routes §4.12 marks as auth-required.
func (s *Server) requireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principalOf(c)
		if p == nil || p.Anonymous {
			writeError(c, registryerr.New(registryerr.KindUnauthenticated, "this operation requires an authenticated credential"))
			c.Abort()
			return
		}
		c.Next()
	}
}

type rateClass int

const (
	rateClassRead rateClass = iota
	rateClassPublish
)

// rateLimited wraps handler with a per-principal admission check against
// class's bucket, returning the three response fields §4.11 requires on a
// denial via the registry's standard error body.
func (s *Server) rateLimited(class rateClass, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			handler(c)
			return
		}

		p := principalOf(c)
		var decision *ratelimit.Decision
		var err error
		if class == rateClassPublish {
			decision, err = s.limiter.AllowPublish(c.Request.Context(), p.ID)
		} else {
			decision, err = s.limiter.AllowRead(c.Request.Context(), p.ID)
		}
		if err != nil {
			writeError(c, registryerr.Wrap(registryerr.KindInternal, "rate limiter failure", err))
			c.Abort()
			return
		}
		if !decision.Allowed {
			writeError(c, ratelimit.Err(decision))
			c.Abort()
			return
		}

		handler(c)
	}
}

// writeError maps err to the registry's stable {error: {code, message,
// details}} body and the Kind's HTTP status. Errors that aren't a
// *registryerr.Error are treated as internal and logged with the request ID
// so an operator can correlate the opaque client-facing message back to the
// underlying cause.
func writeError(c *gin.Context, err error) {
	rerr, ok := err.(*registryerr.Error)
	if !ok {
		rerr = registryerr.Wrap(registryerr.KindInternal, "internal error", err)
	}

	status := rerr.Kind.HTTPStatus()
	if status >= 500 {
		log.Error().
			Str("request_id", requestID(c)).
			Err(rerr).
			Msg("internal error")
	}

	body := gin.H{
		"code":    string(rerr.Kind),
		"message": rerr.Message,
	}
	if rerr.Details != nil {
		body["details"] = rerr.Details
	}
	if status >= 500 {
		body["message"] = "an internal error occurred"
		delete(body, "details")
		body["request_id"] = requestID(c)
	}

	c.JSON(status, gin.H{"error": body})
}
