package storage

import (
	"fmt"

	"github.com/worldcache/registry/pkg/config"
)

// StorageFactory builds a scratch-storage backend from a StorageConfig. The
// Artifact Fetcher does not use it; it opens a LocalStorage directly over its
// own temporary directory.
type StorageFactory struct {
	config *config.StorageConfig
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(config *config.StorageConfig) *StorageFactory {
	return &StorageFactory{config: config}
}

// CreateStorage creates a storage instance based on the configured type
func (sf *StorageFactory) CreateStorage() (BlobStorage, error) {
	switch sf.config.Type {
	case "local":
		return NewLocalStorage(sf.config.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported scratch storage type: %s", sf.config.Type)
	}
}
