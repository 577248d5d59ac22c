package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/config"
)

// ResolverParams collects every registered StorageProvider.
type ResolverParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Providers []StorageProvider `group:"storage_providers"`
}

// NewStorageResolverFromParams builds the resolver and closes its connections on shutdown.
func NewStorageResolverFromParams(p ResolverParams) (*StorageResolver, error) {
	r, err := NewStorageResolver(p.Config, p.Providers)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return r.CloseAll() },
	})
	return r, nil
}

// Module provides the StorageResolver. Backends contribute providers through their own modules.
var Module = fx.Options(
	fx.Provide(
		NewStorageResolverFromParams,
		func(r *StorageResolver) StorageConnectionResolver { return r },
	),
)
