package local

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/mysqler/pkg/osc/adapter/storage"
)

// Module registers the local storage provider.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLocalProvider,
		fx.As(new(storageAdapter.StorageProvider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
