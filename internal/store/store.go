package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps the GORM connection and exposes the registry's persistence
// operations as plain methods, the way the teacher's Database wrapper does.
type Store struct {
	db *gorm.DB
}

// Open connects to PostgreSQL using cfg and runs AutoMigrate.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens an in-memory or file-backed sqlite database, used by
// tests and by single-node deployments that don't need Postgres.
func OpenSQLite(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(AllModels()...)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// maxOptimisticRetries bounds CommitPublish's retry budget on transient
// conflicts, per §4.9's "optimistic-lock retry budget >= 3".
const maxOptimisticRetries = 3

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("not found")

// GetPackageByName looks up a package by its normalized name.
func (s *Store) GetPackageByName(ctx context.Context, name string) (*Package, error) {
	var pkg Package
	err := s.db.WithContext(ctx).
		Preload("Collaborators").
		Preload("TrustedPublishers").
		Where("name = ?", name).
		First(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return &pkg, nil
}

// GetVersion looks up one version of a package by its wire version string.
func (s *Store) GetVersion(ctx context.Context, packageName, version string) (*Version, error) {
	pkg, err := s.GetPackageByName(ctx, packageName)
	if err != nil {
		return nil, err
	}

	var v Version
	err = s.db.WithContext(ctx).
		Preload("Distributions").
		Where("package_id = ? AND version = ?", pkg.ID, version).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return &v, nil
}

// ListVersions returns every version of a package, sort-key descending
// (newest first) unless ascending is requested.
func (s *Store) ListVersions(ctx context.Context, packageID uuid.UUID, ascending bool) ([]Version, error) {
	order := "sort_key desc"
	if ascending {
		order = "sort_key asc"
	}
	var versions []Version
	err := s.db.WithContext(ctx).
		Preload("Distributions").
		Where("package_id = ?", packageID).
		Order(order).
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

// ListPackagesParams configures pagination for ListPackages.
type ListPackagesParams struct {
	Limit  int
	Offset int
}

// ListPackages returns packages sorted by last-updated descending, paginated.
func (s *Store) ListPackages(ctx context.Context, p ListPackagesParams) ([]Package, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Package{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count packages: %w", err)
	}

	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var packages []Package
	err := s.db.WithContext(ctx).
		Order("updated_at desc").
		Limit(limit).
		Offset(p.Offset).
		Find(&packages).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list packages: %w", err)
	}
	return packages, total, nil
}

// AllPackagesWithVersions loads every package and every non-deleted version
// with its distributions, for the Discovery Engine's search and the full
// snapshot export. Callers filter yanked status themselves.
func (s *Store) AllPackagesWithVersions(ctx context.Context) ([]Package, error) {
	var packages []Package
	err := s.db.WithContext(ctx).
		Preload("Versions").
		Preload("Versions.Distributions").
		Find(&packages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	return packages, nil
}

// PublishInput is the fully-verified payload the coordinator hands to the
// store for atomic commit.
type PublishInput struct {
	PackageName      string
	DisplayName      string
	Game             string
	Description      string
	Homepage         string
	Keywords         []string
	Version          string
	SortKey          string
	Manifest         map[string]interface{}
	EntryPoints      map[string]interface{}
	MinimumAPVersion string
	MaximumAPVersion string
	PublisherID      string

	ProvenanceRepo     string
	ProvenanceWorkflow string
	ProvenanceCommit   string
	ProvenanceBuiltAt  *time.Time

	Distributions []DistributionInput

	IsClaim bool // true when PackageName does not yet exist
}

// DistributionInput is one verified artifact to commit alongside a version.
type DistributionInput struct {
	Filename string
	URL      string
	Digest   string
	Size     int64
	Kind     string
	Python   string
	ABI      string
	Platform string
}

// CommitPublish atomically inserts (and, on claim, creates) the package,
// version, and distribution rows. It retries up to maxOptimisticRetries
// times on a unique-constraint race on the (package, version) pair, the
// way two concurrent first-publishes of the same new name are expected to
// race at the store per §9 "Race on claim".
func (s *Store) CommitPublish(ctx context.Context, in PublishInput) (*Version, error) {
	var result *Version

	var lastErr error
	for attempt := 0; attempt <= maxOptimisticRetries; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			pkg, err := findOrCreatePackage(tx, in)
			if err != nil {
				return err
			}

			var existing Version
			err = tx.Where("package_id = ? AND version = ?", pkg.ID, in.Version).First(&existing).Error
			if err == nil {
				return registryerr.New(registryerr.KindVersionExists, "version already exists")
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to check existing version: %w", err)
			}

			v := &Version{
				PackageID:          pkg.ID,
				Version:            in.Version,
				SortKey:            in.SortKey,
				Manifest:           in.Manifest,
				EntryPoints:        in.EntryPoints,
				MinimumAPVersion:   in.MinimumAPVersion,
				MaximumAPVersion:   in.MaximumAPVersion,
				PublisherID:        in.PublisherID,
				ProvenanceRepo:     in.ProvenanceRepo,
				ProvenanceWorkflow: in.ProvenanceWorkflow,
				ProvenanceCommit:   in.ProvenanceCommit,
				ProvenanceBuiltAt:  in.ProvenanceBuiltAt,
				CreatedAt:          time.Now(),
			}
			if err := tx.Create(v).Error; err != nil {
				return fmt.Errorf("failed to create version: %w", err)
			}

			for _, d := range in.Distributions {
				dist := &Distribution{
					VersionID: v.ID,
					Filename:  d.Filename,
					URL:       d.URL,
					Digest:    d.Digest,
					Size:      d.Size,
					Kind:      d.Kind,
					Python:    d.Python,
					ABI:       d.ABI,
					Platform:  d.Platform,
					URLStatus: "active",
					CreatedAt: time.Now(),
				}
				if err := tx.Create(dist).Error; err != nil {
					return fmt.Errorf("failed to create distribution: %w", err)
				}
			}

			if err := tx.Model(&Package{}).Where("id = ?", pkg.ID).Update("updated_at", time.Now()).Error; err != nil {
				return fmt.Errorf("failed to touch package: %w", err)
			}

			result = v
			return nil
		})

		if err == nil {
			return result, nil
		}

		var re *registryerr.Error
		if errors.As(err, &re) {
			return nil, err // input/state errors are not retried
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("publish commit failed, retrying")
	}

	return nil, registryerr.Wrap(registryerr.KindInternal, "publish commit exhausted retries", lastErr)
}

func findOrCreatePackage(tx *gorm.DB, in PublishInput) (*Package, error) {
	var pkg Package
	err := tx.Where("name = ?", in.PackageName).First(&pkg).Error
	if err == nil {
		return &pkg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up package: %w", err)
	}

	keywords := make(map[string]interface{}, len(in.Keywords))
	for i, k := range in.Keywords {
		keywords[fmt.Sprintf("%d", i)] = k
	}

	pkg = Package{
		Name:        in.PackageName,
		DisplayName: in.DisplayName,
		Game:        in.Game,
		Description: in.Description,
		Homepage:    in.Homepage,
		Keywords:    keywords,
		OwnerID:     in.PublisherID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&pkg).Error; err != nil {
		return nil, fmt.Errorf("failed to claim package: %w", err)
	}

	// DoNothing means a concurrent winner may have created the row first;
	// re-read to get the winner's record and ownership.
	if err := tx.Where("name = ?", in.PackageName).First(&pkg).Error; err != nil {
		return nil, fmt.Errorf("failed to re-read claimed package: %w", err)
	}
	return &pkg, nil
}

// Yank sets the yanked flag on an existing version.
func (s *Store) Yank(ctx context.Context, packageName, version, reason string) error {
	pkg, err := s.GetPackageByName(ctx, packageName)
	if err != nil {
		return err
	}

	now := time.Now()
	result := s.db.WithContext(ctx).Model(&Version{}).
		Where("package_id = ? AND version = ?", pkg.ID, version).
		Updates(map[string]interface{}{"yanked": true, "yank_reason": reason, "yanked_at": now})
	if result.Error != nil {
		return fmt.Errorf("failed to yank version: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return registryerr.New(registryerr.KindVersionNotFound, "version not found")
	}
	return nil
}

// AddCollaborator grants a principal publish/yank authority over a package. Owner-only.
func (s *Store) AddCollaborator(ctx context.Context, packageID uuid.UUID, principalID string) error {
	c := &Collaborator{PackageID: packageID, PrincipalID: principalID, AddedAt: time.Now()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c).Error; err != nil {
		return fmt.Errorf("failed to add collaborator: %w", err)
	}
	return nil
}

// AddTrustedPublisher records a trusted-publisher rule for a package. Owner-only.
func (s *Store) AddTrustedPublisher(ctx context.Context, packageID uuid.UUID, provider, repository, workflow, environment string) error {
	tp := &TrustedPublisher{
		PackageID:   packageID,
		Provider:    provider,
		Repository:  repository,
		Workflow:    workflow,
		Environment: environment,
		AddedAt:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(tp).Error; err != nil {
		return fmt.Errorf("failed to add trusted publisher: %w", err)
	}
	return nil
}

// CreateAPIToken persists a freshly hashed API token.
func (s *Store) CreateAPIToken(ctx context.Context, principalID, name, tokenHash string, expiresAt *time.Time) (*APIToken, error) {
	t := &APIToken{
		PrincipalID: principalID,
		TokenHash:   tokenHash,
		Name:        name,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("failed to create API token: %w", err)
	}
	return t, nil
}

// LookupAPIToken resolves a hashed token to its record, if active and unexpired.
func (s *Store) LookupAPIToken(ctx context.Context, tokenHash string) (*APIToken, error) {
	var t APIToken
	err := s.db.WithContext(ctx).Where("token_hash = ? AND revoked = ?", tokenHash, false).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up API token: %w", err)
	}
	if t.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	now := time.Now()
	t.LastUsedAt = &now
	s.db.WithContext(ctx).Model(&t).Update("last_used_at", now)
	return &t, nil
}

// CreateAccount persists a new password-holding account bound to
// principalID. Callers are responsible for hashing the password first.
func (s *Store) CreateAccount(ctx context.Context, principalID, username, passwordHash string) (*Account, error) {
	a := &Account{PrincipalID: principalID, Username: username, PasswordHash: passwordHash}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return a, nil
}

// GetAccountByUsername looks up an account by its login name.
func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	var a Account
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return &a, nil
}

// TransferOwnership reassigns a package's OwnerID. Administrative only; not
// reachable from the HTTP surface (see internal/accounts, cmd/registry-admin).
func (s *Store) TransferOwnership(ctx context.Context, packageName, newOwnerID string) error {
	result := s.db.WithContext(ctx).Model(&Package{}).
		Where("name = ?", packageName).
		Update("owner_id", newOwnerID)
	if result.Error != nil {
		return fmt.Errorf("failed to transfer ownership: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return registryerr.New(registryerr.KindPackageNotFound, "package does not exist")
	}
	return nil
}
