package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/configbinder"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// StorageResolver opens and caches connections for the configured storages.
type StorageResolver struct {
	providers map[string]StorageProvider
	configs   map[string]StorageConfig

	mu          sync.Mutex
	connections map[string]StorageConnection
}

// NewStorageResolver decodes the `storage` section and indexes providers by type.
func NewStorageResolver(cfg *config.Config, providers []StorageProvider) (*StorageResolver, error) {
	configs, err := configbinder.BindNamed[StorageConfig](cfg.Mysqler.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to decode storage configuration: %w", err)
	}
	return NewStorageResolverFrom(configs, providers), nil
}

// NewStorageResolverFrom builds a resolver from explicit configurations.
func NewStorageResolverFrom(configs map[string]StorageConfig, providers []StorageProvider) *StorageResolver {
	r := &StorageResolver{
		providers:   make(map[string]StorageProvider, len(providers)),
		configs:     configs,
		connections: make(map[string]StorageConnection),
	}
	for _, p := range providers {
		r.providers[p.Type()] = p
	}
	return r
}

// Config returns the configuration of the named storage.
func (r *StorageResolver) Config(name string) (StorageConfig, bool) {
	c, ok := r.configs[name]
	return c, ok
}

// ResolveStorageConnection returns the cached connection named name, opening it on first use.
func (r *StorageResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[name]; ok {
		return conn, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}
	provider, ok := r.providers[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", cfg.Type, name)
	}
	conn, err := provider.Open(ctx, name, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage connection '%s': %w", name, err)
	}
	r.connections[name] = conn
	logger.Debugf("Created new %s storage connection '%s'.", cfg.Type, name)
	return conn, nil
}

// CloseAll closes every open connection.
func (r *StorageResolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var merr *multierror.Error
	for name, conn := range r.connections {
		if err := conn.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed to close storage connection '%s': %w", name, err))
		}
		delete(r.connections, name)
	}
	return merr.ErrorOrNil()
}
