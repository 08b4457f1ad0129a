// Package docs contains the OpenAPI documentation for the worldcache registry
//
//	@title			Worldcache Registry API
//	@version		1.0
//	@description	Metadata-only registry for self-contained game-world plugins, in the shape of a Go-module-proxy: packages are discovered and their manifests fetched here, while artifact bytes are always served from the URL the publisher declared.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	Worldcache Registry Support
//	@contact.url	http://www.swagger.io/support
//	@contact.email	support@swagger.io
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/v1
//	@schemes	https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and either an API token or a federated identity JWT.
//
//	@tag.name			Discovery
//	@tag.description	Package listing, version listing, search, and the index snapshot
//
//	@tag.name			Registration
//	@tag.description	Publish and yank operations
package docs
