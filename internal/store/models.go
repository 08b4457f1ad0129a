// Package store implements the registry's durable, transactional
// persistence layer: packages, versions, distributions, ownership records,
// and API tokens, plus the read paths the Discovery Engine builds on.
package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/worldcache/registry/pkg/types"
	"gorm.io/gorm"
)

// Package is the identity record for a published game-world plugin.
type Package struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"uniqueIndex;not null"` // normalized, lowercase
	DisplayName string    `gorm:"not null"`
	Game        string    `gorm:"index;not null"`
	Description string
	Homepage    string
	Keywords    types.JSONMap `gorm:"serializer:json"` // JSON object mapping list index ("0", "1", ...) to keyword
	OwnerID     string        `gorm:"index;not null"`  // principal string, e.g. "alice" or "federated:github:org/repo"
	CreatedAt   time.Time
	UpdatedAt   time.Time `gorm:"index"` // drives "list packages, sorted by last-updated"

	Versions          []Version          `gorm:"foreignKey:PackageID"`
	Collaborators     []Collaborator     `gorm:"foreignKey:PackageID"`
	TrustedPublishers []TrustedPublisher `gorm:"foreignKey:PackageID"`
}

// BeforeCreate assigns a UUID if unset, matching the teacher's UUID model idiom.
func (p *Package) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Version is one immutable (package, semantic version) record.
type Version struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey"`
	PackageID   uuid.UUID     `gorm:"index:idx_pkg_version,unique;not null"`
	Version     string        `gorm:"index:idx_pkg_version,unique;not null"` // as written on the wire
	SortKey     string        `gorm:"index;not null"`                       // versioning.Version.SortKey()
	Manifest    types.JSONMap `gorm:"serializer:json;not null"`              // verbatim accepted manifest
	EntryPoints types.JSONMap `gorm:"serializer:json;not null"`

	MinimumAPVersion string
	MaximumAPVersion string

	Yanked     bool `gorm:"index;default:false"`
	YankReason string
	YankedAt   *time.Time

	PublisherID string `gorm:"not null"`

	// Provenance, present iff registered via federated identity.
	ProvenanceRepo     string
	ProvenanceWorkflow string
	ProvenanceCommit   string
	ProvenanceBuiltAt  *time.Time

	CreatedAt time.Time `gorm:"index"`

	Distributions []Distribution `gorm:"foreignKey:VersionID"`
}

func (v *Version) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// HasProvenance reports whether the version recorded federated-identity provenance.
func (v *Version) HasProvenance() bool {
	return v.ProvenanceRepo != ""
}

// Distribution is one artifact belonging to a Version.
type Distribution struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	VersionID uuid.UUID `gorm:"index:idx_version_filename,unique;not null"`
	Filename  string    `gorm:"index:idx_version_filename,unique;not null"`

	URL      string `gorm:"not null"`
	Digest   string `gorm:"not null"`
	Size     int64  `gorm:"not null"`
	Kind     string `gorm:"not null"` // "binary" or "source"
	Python   string
	ABI      string
	Platform string

	URLStatus        string `gorm:"default:active"` // "active" or "unreachable"
	URLLastCheckedAt *time.Time

	CreatedAt time.Time
}

func (d *Distribution) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// PlatformTagSuffix renders the triple the same way filenaming.PlatformTag does,
// so discovery's platform filter can match on a plain string suffix.
func (d *Distribution) PlatformTagSuffix() string {
	return d.Python + "-" + d.ABI + "-" + d.Platform
}

// Collaborator grants a principal publish/yank authority over a package
// without making it owner.
type Collaborator struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	PackageID   uuid.UUID `gorm:"index:idx_pkg_principal,unique;not null"`
	PrincipalID string    `gorm:"index:idx_pkg_principal,unique;not null"`
	AddedAt     time.Time
}

func (c *Collaborator) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// TrustedPublisher is a rule permitting a federated identity with matching
// claims to publish a package with no stored secret.
type TrustedPublisher struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	PackageID  uuid.UUID `gorm:"index;not null"`
	Provider   string    `gorm:"not null"` // identity-provider issuer name
	Repository string    `gorm:"not null"`
	Workflow   string    `gorm:"not null"`
	Environment string   // optional
	AddedAt    time.Time
}

func (t *TrustedPublisher) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Matches reports whether a federated claim set satisfies this rule.
func (t *TrustedPublisher) Matches(provider, repository, workflow, environment string) bool {
	if t.Provider != provider || t.Repository != repository || t.Workflow != workflow {
		return false
	}
	if t.Environment != "" && t.Environment != environment {
		return false
	}
	return true
}

// APIToken is a long-lived opaque bearer credential bound to a principal.
type APIToken struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	PrincipalID string     `gorm:"index;not null"`
	TokenHash   string     `gorm:"uniqueIndex;not null"`
	Name        string     `gorm:"not null"`
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	Revoked     bool `gorm:"default:false"`
}

func (a *APIToken) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Expired reports whether the token has passed its optional expiry.
func (a *APIToken) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Account is a password-holding principal that owns API tokens. Most
// principals in this registry are bare strings bound directly to a token
// (or to a federated identity) with no stored secret of their own; an
// Account exists only for the subset of principals that authenticate with a
// username and password in order to mint and manage their own tokens.
type Account struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	PrincipalID  string    `gorm:"uniqueIndex;not null"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// AllModels lists every model for AutoMigrate, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&Package{},
		&Version{},
		&Distribution{},
		&Collaborator{},
		&TrustedPublisher{},
		&APIToken{},
		&Account{},
	}
}
